package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const promptTemplate = `Analyze this meeting transcription and provide insights in JSON format:

Text: %q

Please provide a JSON response with these fields:
{
    "sentiment": "positive|negative|neutral",
    "sentimentScore": 0.0-1.0,
    "keyTopics": ["topic1", "topic2", "topic3"],
    "actionItems": ["action1", "action2"],
    "speakersDetected": 1,
    "urgencyLevel": "low|medium|high",
    "summary": "brief summary",
    "keywords": ["keyword1", "keyword2", "keyword3"]
}

Only return valid JSON, no other text.`

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// OllamaAnalyzer asks an Ollama model for a JSON analysis.
type OllamaAnalyzer struct {
	BaseURL      string
	Model        string
	SummaryLimit int
	Client       *http.Client
}

func NewOllamaAnalyzer(baseURL, model string, summaryLimit int, client *http.Client) *OllamaAnalyzer {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaAnalyzer{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Model:        model,
		SummaryLimit: summaryLimit,
		Client:       client,
	}
}

// Analyze fails only when the service cannot be reached or answers with an
// error status. A reply that is not JSON becomes a fallback record that
// keeps the raw text.
func (a *OllamaAnalyzer) Analyze(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(generateRequest{
		Model:   a.Model,
		Prompt:  fmt.Sprintf(promptTemplate, text),
		Stream:  false,
		Options: generateOptions{Temperature: 0.3, TopP: 0.9},
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return Result{}, fmt.Errorf("decode ollama response: %w", err)
	}
	raw := strings.TrimSpace(gen.Response)

	var out Result
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Warn().Err(err).Str("module", "analysis").Int("length", len(raw)).Msg("model reply is not JSON, using fallback")
		fb := Fallback(text, a.SummaryLimit)
		fb.Keywords = []string{}
		fb.RawResponse = raw
		return fb, nil
	}
	log.Debug().Str("module", "analysis").Str("sentiment", out.Sentiment).Msg("analysis done")
	return out, nil
}
