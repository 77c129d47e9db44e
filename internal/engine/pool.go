// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"time"

	"github.com/lifetrace/go_voice_stream/internal/metrics"
)

// Pool bounds concurrent Transcribe calls on an inner engine and makes
// every call abandonable: when ctx expires the caller gets the ctx
// error immediately while the inner call finishes in the background and
// its result is discarded.
type Pool struct {
	inner Engine
	slots chan struct{}
}

// NewPool wraps inner with at most maxConcurrent in-flight calls.
func NewPool(inner Engine, maxConcurrent int) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{
		inner: inner,
		slots: make(chan struct{}, maxConcurrent),
	}
}

func (p *Pool) Ready(ctx context.Context) error {
	return p.inner.Ready(ctx)
}

type transcribeResult struct {
	segments []Segment
	err      error
}

// Transcribe acquires a slot, then runs the inner call in its own
// goroutine so a hung backend cannot wedge the caller past its timeout.
func (p *Pool) Transcribe(ctx context.Context, samples []float32, hints Hints) ([]Segment, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		metrics.InferenceTimeouts.Inc()
		return nil, ctx.Err()
	}

	metrics.InferenceCalls.Inc()
	start := time.Now()
	done := make(chan transcribeResult, 1)
	go func() {
		defer func() { <-p.slots }()
		segs, err := p.inner.Transcribe(ctx, samples, hints)
		metrics.InferenceDuration.Observe(time.Since(start).Seconds())
		done <- transcribeResult{segments: segs, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil {
			metrics.InferenceErrors.Inc()
		}
		return res.segments, res.err
	case <-ctx.Done():
		metrics.InferenceTimeouts.Inc()
		return nil, ctx.Err()
	}
}

func (p *Pool) Close() error {
	return p.inner.Close()
}
