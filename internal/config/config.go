package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "MEETROOM"

type RoomConfig struct {
	DefaultCapacity int `mapstructure:"default_capacity" validate:"min=1"`
}

type JoinRateConfig struct {
	Limit    int           `mapstructure:"limit" validate:"min=0"`
	Interval time.Duration `mapstructure:"interval" validate:"min=0"`
}

type AnalysisConfig struct {
	OllamaURL      string        `mapstructure:"ollama_url" validate:"omitempty,url"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	TranscriberURL string        `mapstructure:"transcriber_url" validate:"omitempty,url"`
	SummaryLimit   int           `mapstructure:"summary_limit" validate:"min=1"`
}

type Config struct {
	Mode       string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port       int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath string        `mapstructure:"static_path"`
	Secret     string        `mapstructure:"secret" validate:"required"`
	LogLevel   string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"min=512"`
	PingPeriod time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	PongWait   time.Duration `mapstructure:"pong_wait" validate:"gtfield=PingPeriod"`
	WriteWait  time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	SendBuffer int           `mapstructure:"send_buffer" validate:"min=1"`

	Room     RoomConfig     `mapstructure:"room"`
	JoinRate JoinRateConfig `mapstructure:"join_rate"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("room.default_capacity", 10)
	v.SetDefault("join_rate.limit", 5)
	v.SetDefault("join_rate.interval", "10s")
	v.SetDefault("analysis.ollama_url", "http://localhost:11434")
	v.SetDefault("analysis.model", "llama3.2")
	v.SetDefault("analysis.timeout", "30s")
	v.SetDefault("analysis.transcriber_url", "")
	v.SetDefault("analysis.summary_limit", 200)
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). A .env file
// in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads the given YAML file on top of the defaults and applies
// MEETROOM_* environment overrides. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if _, err := os.Stat(fileName); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		v.SetConfigFile(fileName)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("static", cfg.StaticPath).Str("log_level", cfg.LogLevel).Msg("config ready")
	return &cfg, nil
}
