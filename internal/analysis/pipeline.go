package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// AudioResult is what one uploaded segment turns into.
type AudioResult struct {
	Transcription string    `json:"transcription"`
	NoSpeech      bool      `json:"noSpeech"`
	Analysis      *Result   `json:"analysis,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type Pipeline struct {
	Transcriber  Transcriber
	Analyzer     Analyzer
	SummaryLimit int
	Now          func() time.Time
}

func NewPipeline(t Transcriber, a Analyzer, summaryLimit int) *Pipeline {
	return &Pipeline{Transcriber: t, Analyzer: a, SummaryLimit: summaryLimit, Now: time.Now}
}

// AnalyzeText never fails; analyzer errors yield the fallback record.
func (p *Pipeline) AnalyzeText(ctx context.Context, text string) Result {
	if p.Analyzer == nil {
		return Fallback(text, p.SummaryLimit)
	}
	res, err := p.Analyzer.Analyze(ctx, text)
	if err != nil {
		log.Warn().Err(err).Str("module", "analysis").Msg("analyzer failed, using fallback")
		return Fallback(text, p.SummaryLimit)
	}
	return res
}

// ProcessAudio sniffs the upload, transcribes it and analyzes the text.
// Errors wrap ErrNotAudio or ErrTranscription.
func (p *Pipeline) ProcessAudio(ctx context.Context, audio []byte) (AudioResult, error) {
	mt := mimetype.Detect(audio)
	if !isAudio(mt) {
		return AudioResult{}, fmt.Errorf("%w: %s", ErrNotAudio, mt.String())
	}
	if p.Transcriber == nil {
		return AudioResult{}, fmt.Errorf("%w: no transcriber configured", ErrTranscription)
	}

	text, err := p.Transcriber.Transcribe(ctx, audio, mt.String())
	if err != nil {
		return AudioResult{}, fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	out := AudioResult{Transcription: text, Timestamp: p.Now()}
	if text == "" {
		out.NoSpeech = true
		log.Debug().Str("module", "analysis").Msg("no speech in segment")
		return out, nil
	}

	res := p.AnalyzeText(ctx, text)
	out.Analysis = &res
	log.Info().Str("module", "analysis").Int("chars", len(text)).Bool("fallback", res.Fallback).Msg("segment analyzed")
	return out, nil
}

func isAudio(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return true
		}
	}
	return false
}
