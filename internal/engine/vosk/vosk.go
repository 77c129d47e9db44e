// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vosk implements engine.Engine on the Vosk speech recognition
// toolkit. It links libvosk through cgo, so it is imported only by the
// binary entrypoint and never by the session core or its tests.
package vosk

/*
#include <malloc.h>
*/
import "C"

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/lifetrace/go_voice_stream/internal/audio"
	"github.com/lifetrace/go_voice_stream/internal/engine"
)

// segmentGap is the pause between consecutive words that splits the
// word stream into separate segments.
const segmentGap = 0.5

// Config parameterizes the Vosk engine.
type Config struct {
	ModelDir        string
	DefaultLanguage string
	SampleRate      int
	// Download fetches missing models from DownloadRepo at
	// DownloadRevision during initialization.
	Download         bool
	DownloadRepo     string
	DownloadRevision string
}

// Engine recognizes speech with per-call recognizers over ref-counted
// shared models. Initialization runs exactly once, on the first Ready
// call, and its outcome is cached.
type Engine struct {
	cfg    Config
	models *ModelManager
	logger *slog.Logger

	initOnce sync.Once
	initDone chan struct{}
	initErr  error
}

// New returns an uninitialized engine. Call Ready before Transcribe.
func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	return &Engine{
		cfg:      cfg,
		models:   NewModelManager(cfg.ModelDir, logger),
		logger:   logger.With("component", "vosk_engine"),
		initDone: make(chan struct{}),
	}
}

// Ready triggers one-time initialization (optional model download plus
// loading the default model) and blocks until it completes or ctx ends.
func (e *Engine) Ready(ctx context.Context) error {
	e.initOnce.Do(func() {
		go func() {
			defer close(e.initDone)
			// Initialization is process-wide; the first caller's ctx
			// only bounds its own wait in the select below. A short
			// request deadline must not poison the cached outcome.
			e.initErr = e.initialize(context.Background())
			if e.initErr != nil {
				e.logger.Error("engine initialization failed", "error", e.initErr)
			}
		}()
	})

	select {
	case <-e.initDone:
		if e.initErr != nil {
			return fmt.Errorf("%w: %s", engine.ErrUnavailable, e.initErr)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) initialize(ctx context.Context) error {
	vosk.SetLogLevel(-1) // suppress vosk's own logs

	if e.cfg.Download && !e.models.Available(e.cfg.DefaultLanguage) {
		if err := downloadModels(ctx, e.cfg.DownloadRepo, e.cfg.DownloadRevision, e.cfg.ModelDir); err != nil {
			return fmt.Errorf("download models: %w", err)
		}
	}

	// Warm the default model so the first session does not pay the
	// load latency. The reference is held for the engine lifetime.
	if _, err := e.models.Get(e.cfg.DefaultLanguage); err != nil {
		return err
	}
	e.logger.Info("engine ready", "default_language", e.cfg.DefaultLanguage)
	return nil
}

// Transcribe runs one recognition pass over the whole chunk. A fresh
// recognizer per call keeps passes independent; the model behind it is
// shared. ctx is checked before starting but the vosk call itself is
// not interruptible, which is why callers run it through engine.Pool.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, hints engine.Hints) ([]engine.Segment, error) {
	select {
	case <-e.initDone:
	default:
		return nil, engine.ErrUnavailable
	}
	if e.initErr != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnavailable, e.initErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lang := hints.Language
	if lang == "" {
		lang = e.cfg.DefaultLanguage
	}
	model, err := e.models.Get(lang)
	if err != nil {
		return nil, err
	}
	defer e.models.Release(lang)

	rec, err := vosk.NewRecognizer(model, float64(e.cfg.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("create recognizer: %w", err)
	}
	defer func() {
		rec.Free()
		// Return freed recognizer pages to the OS.
		C.malloc_trim(0)
	}()
	rec.SetWords(1)

	rec.AcceptWaveform(audio.Float32ToInt16Bytes(samples))
	return parseResult(rec.FinalResult())
}

type voskWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

type voskResult struct {
	Text   string     `json:"text"`
	Result []voskWord `json:"result"`
}

// parseResult converts the vosk final-result JSON into segments,
// splitting the word stream wherever the inter-word pause exceeds
// segmentGap.
func parseResult(resultJSON string) ([]engine.Segment, error) {
	var res voskResult
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
		return nil, fmt.Errorf("parse recognizer output: %w", err)
	}
	if len(res.Result) == 0 {
		if text := strings.TrimSpace(res.Text); text != "" {
			return []engine.Segment{{Text: text}}, nil
		}
		return nil, nil
	}

	var segments []engine.Segment
	var words []string
	segStart := res.Result[0].Start
	segEnd := res.Result[0].End

	flush := func() {
		if len(words) == 0 {
			return
		}
		segments = append(segments, engine.Segment{
			Text:  strings.Join(words, " "),
			Start: segStart,
			End:   segEnd,
		})
		words = words[:0]
	}

	for i, w := range res.Result {
		if i > 0 && w.Start-segEnd > segmentGap {
			flush()
			segStart = w.Start
		}
		words = append(words, w.Word)
		segEnd = w.End
	}
	flush()
	return segments, nil
}

// Close frees all cached models.
func (e *Engine) Close() error {
	e.models.CloseAll()
	return nil
}
