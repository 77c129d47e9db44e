// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine defines the transcription engine contract. The session
// layer depends only on the Engine interface; concrete backends live in
// subpackages so their cgo requirements stay out of the core build.
package engine

import (
	"context"
	"errors"
)

// ErrUnavailable is returned while the engine has not finished
// initializing or failed to initialize.
var ErrUnavailable = errors.New("transcription engine unavailable")

// Segment is one recognized span of speech. Start and End are seconds
// relative to the beginning of the audio handed to Transcribe.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Hints carry per-call decoding preferences.
type Hints struct {
	// Language is a model selection hint such as "en" or "uk".
	Language string
	// FinalPass marks the flush at end of stream, letting a backend
	// spend more effort on the last chunk.
	FinalPass bool
}

// Engine transcribes normalized mono audio. Implementations must honor
// ctx cancellation on Transcribe and must be safe for concurrent use,
// typically by wrapping with a Pool.
type Engine interface {
	// Ready blocks until the engine can serve requests or ctx ends.
	Ready(ctx context.Context) error
	// Transcribe recognizes samples in [-1, 1] at the configured rate.
	Transcribe(ctx context.Context, samples []float32, hints Hints) ([]Segment, error)
	Close() error
}
