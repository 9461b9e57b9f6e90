//go:generate go run go.uber.org/mock/mockgen -source=analysis.go -destination=mocks/mock_analysis.go -package=mocks

// Package analysis talks to the external speech-to-text and LLM services.
// Neither is needed for room signaling; failures of the analyzer degrade to
// a locally built record.
package analysis

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

var (
	ErrNotAudio      = errors.New("upload is not audio")
	ErrTranscription = errors.New("transcription failed")
)

// Result is the structured analysis of a piece of meeting text.
type Result struct {
	Sentiment        string   `json:"sentiment"`
	SentimentScore   float64  `json:"sentimentScore"`
	KeyTopics        []string `json:"keyTopics"`
	ActionItems      []string `json:"actionItems"`
	SpeakersDetected int      `json:"speakersDetected"`
	UrgencyLevel     string   `json:"urgencyLevel"`
	Summary          string   `json:"summary"`
	Keywords         []string `json:"keywords"`
	RawResponse      string   `json:"rawResponse,omitempty"`
	Fallback         bool     `json:"fallback"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// Fallback builds a neutral record from the text alone.
func Fallback(text string, limit int) Result {
	summary := text
	if limit > 0 && utf8.RuneCountInString(text) > limit {
		summary = string([]rune(text)[:limit]) + "..."
	}
	words := strings.Fields(text)
	return Result{
		Sentiment:        "neutral",
		SentimentScore:   0.5,
		KeyTopics:        []string{"general discussion"},
		ActionItems:      []string{},
		SpeakersDetected: 1,
		UrgencyLevel:     "medium",
		Summary:          summary,
		Keywords:         lo.Slice(words, 0, 5),
		Fallback:         true,
	}
}
