package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/meetroom/internal/adapters/http"
	sig "github.com/dkeye/meetroom/internal/adapters/signal"
	"github.com/dkeye/meetroom/internal/analysis"
	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/app/orch"
	"github.com/dkeye/meetroom/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	o := orch.New(app.NewRegistry(cfg.Room.DefaultCapacity), app.NewDirectory(), app.NewCatalog())
	limiter := sig.NewJoinRateLimiter(cfg.JoinRate.Limit, cfg.JoinRate.Interval)
	ctl := sig.NewSignalWSController(o, limiter, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	client := &http.Client{Timeout: cfg.Analysis.Timeout}
	var transcriber analysis.Transcriber
	if cfg.Analysis.TranscriberURL != "" {
		transcriber = analysis.NewHTTPTranscriber(cfg.Analysis.TranscriberURL, client)
	}
	var analyzer analysis.Analyzer
	if cfg.Analysis.OllamaURL != "" {
		analyzer = analysis.NewOllamaAnalyzer(cfg.Analysis.OllamaURL, cfg.Analysis.Model, cfg.Analysis.SummaryLimit, client)
	}
	pipeline := analysis.NewPipeline(transcriber, analyzer, cfg.Analysis.SummaryLimit)

	g, gctx := errgroup.WithContext(ctx)
	r := router.SetupRouter(gctx, cfg, &router.Handlers{Orch: o, Signal: ctl, Pipeline: pipeline})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("meetroom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		// hijacked websockets are not tracked by Shutdown
		ctl.Wait()
		return err
	})
	if cfg.JoinRate.Interval > 0 {
		g.Go(func() error {
			t := time.NewTicker(cfg.JoinRate.Interval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					limiter.Prune()
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
