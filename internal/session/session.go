// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lifetrace/go_voice_stream/internal/audio"
	"github.com/lifetrace/go_voice_stream/internal/engine"
	"github.com/lifetrace/go_voice_stream/internal/metrics"
	"github.com/lifetrace/go_voice_stream/internal/vad"
)

// inferenceTimeoutPad is added on top of twice the chunk duration when
// deriving the per-call inference timeout.
const inferenceTimeoutPad = 300 * time.Millisecond

// Config carries everything a session needs. The transport layer builds
// it from the loaded configuration plus per-connection query options.
type Config struct {
	SampleRate        int
	ChunkDuration     time.Duration
	OverlapDuration   time.Duration
	MinSamples        int
	MaxBufferDuration time.Duration
	OverflowThreshold time.Duration
	ContextDuration   time.Duration
	Policy            PolicyConfig
	VAD               vad.Config
	Language          string
}

// Result is one committed transcription span.
type Result struct {
	Text     string
	Final    bool
	Start    float64
	End      float64
	Segments []engine.Segment
}

// Session is the per-connection transcription state machine. AddPCM is
// driven from the connection's read loop; TryProcess from the read loop
// and from the transport's pacing ticker. The mutex serializes those
// callers and keeps teardown from racing an in-flight pass.
type Session struct {
	id     string
	cfg    Config
	eng    engine.Engine
	logger *slog.Logger

	mu              sync.Mutex
	buf             *audio.Buffer
	det             *vad.Detector
	ctxWin          *audio.ContextWindow
	tl              timeline
	pendingVoiceEnd bool
	processing      bool
	processingSince time.Time
	lastProcess     time.Time
	// epoch increments when a stuck pass is superseded; the stale pass
	// sees the mismatch and discards its result without touching state.
	epoch uint64

	overflowSamples int
	overlapSamples  int
}

// New builds a session. The engine is shared across sessions and must
// already bound its own concurrency.
func New(id string, cfg Config, eng engine.Engine, logger *slog.Logger) *Session {
	logger = logger.With("session_id", id)
	return &Session{
		id:              id,
		cfg:             cfg,
		eng:             eng,
		logger:          logger,
		buf:             audio.NewBuffer(cfg.SampleRate, cfg.MaxBufferDuration, logger),
		det:             vad.NewDetector(cfg.VAD),
		ctxWin:          audio.NewContextWindow(durToSamples(cfg.SampleRate, cfg.ContextDuration)),
		tl:              timeline{rate: cfg.SampleRate},
		lastProcess:     time.Now(),
		overflowSamples: durToSamples(cfg.SampleRate, cfg.OverflowThreshold),
		overlapSamples:  durToSamples(cfg.SampleRate, cfg.OverlapDuration),
	}
}

func durToSamples(rate int, d time.Duration) int {
	return int(float64(rate) * d.Seconds())
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// AddPCM ingests one frame of PCM16LE bytes: the voice detector sees it
// first, then it lands in the ring buffer. Never blocks on inference.
func (s *Session) AddPCM(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := audio.BytesToFloat32(p)
	switch ev := s.det.Detect(samples); ev {
	case vad.EventVoiceStarted:
		metrics.VADEvents.WithLabelValues(ev.String()).Inc()
		s.logger.Debug("voice started")
	case vad.EventVoiceEnded:
		metrics.VADEvents.WithLabelValues(ev.String()).Inc()
		s.pendingVoiceEnd = true
		s.logger.Debug("voice ended")
	}

	before := s.buf.Dropped()
	s.buf.Add(p)
	if d := s.buf.Dropped() - before; d > 0 {
		metrics.SamplesDropped.Add(float64(d))
	}
}

// TryProcess runs one processing pass if the gating conditions hold.
// It returns a non-nil Result only when the commit policy decides to
// emit. The buffer always advances after a pass, even when inference
// fails, times out, or produces garbage.
func (s *Session) TryProcess(ctx context.Context) (*Result, error) {
	s.mu.Lock()

	buffered := s.buf.Samples()
	if buffered < s.cfg.MinSamples {
		s.mu.Unlock()
		return nil, nil
	}

	elapsed := time.Since(s.lastProcess)
	overflow := buffered >= s.overflowSamples
	if !s.pendingVoiceEnd && !overflow && elapsed < s.cfg.ChunkDuration {
		s.mu.Unlock()
		return nil, nil
	}

	if s.processing {
		stuck := time.Since(s.processingSince) > 2*s.cfg.ChunkDuration
		if !overflow && !stuck {
			s.mu.Unlock()
			return nil, nil
		}
		// Supersede the wedged pass; it will see the epoch change and
		// discard its result.
		s.epoch++
		s.logger.Warn("superseding in-flight pass",
			"overflow", overflow, "stuck", stuck,
			"in_flight", time.Since(s.processingSince))
	}
	if overflow {
		metrics.BufferOverflows.Inc()
	}

	s.processing = true
	s.processingSince = time.Now()
	epoch := s.epoch

	chunk := audio.BytesToFloat32(s.buf.Extract(buffered))
	processed := len(chunk)
	voiceEnded := s.pendingVoiceEnd
	s.pendingVoiceEnd = false
	hasSilence := s.det.HasSilence(chunk)

	// Residual silence never reaches the engine, but the stream
	// position still moves past it.
	if s.det.IsSilent(chunk) {
		s.advanceLocked(processed)
		s.mu.Unlock()
		return nil, nil
	}

	combined, ctxSamples := s.ctxWin.Combine(chunk)
	s.mu.Unlock()

	timeout := inferenceTimeout(s.cfg.ChunkDuration)
	ictx, cancel := context.WithTimeout(ctx, timeout)
	segs, err := s.eng.Transcribe(ictx, combined, engine.Hints{Language: s.cfg.Language})
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		// A newer pass took over this audio; it advances the buffer.
		return nil, nil
	}

	start, end := s.tl.Window(processed)
	s.advanceLocked(processed)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("inference timed out", "timeout", timeout, "chunk_samples", processed)
		} else if !errors.Is(err, context.Canceled) {
			s.logger.Error("inference failed", "error", err)
		}
		return nil, nil
	}

	text := joinSegments(segs)
	textLen := len([]rune(text))
	if textLen == 0 {
		return nil, nil
	}
	if IsGarbage(text) {
		metrics.GarbageFiltered.Inc()
		s.logger.Debug("discarded garbage recognition", "text", text)
		return nil, nil
	}

	chunkDur := time.Duration(float64(processed) / float64(s.cfg.SampleRate) * float64(time.Second))
	decision := Decide(s.cfg.Policy, chunkDur, hasSilence, textLen, voiceEnded)
	if !decision.Commit {
		return nil, nil
	}
	if decision.Final {
		s.ctxWin.Reset()
	}

	return &Result{
		Text:     text,
		Final:    decision.Final,
		Start:    start,
		End:      end,
		Segments: rebaseSegments(segs, start, end, ctxSamples, s.cfg.SampleRate),
	}, nil
}

// advanceLocked consumes the pass from the buffer and moves the
// timeline. Caller holds s.mu.
func (s *Session) advanceLocked(processed int) {
	s.buf.Consume(processed, s.overlapSamples)
	s.tl.Advance(processed, s.overlapSamples)
	s.processing = false
	s.lastProcess = time.Now()
}

// Flush processes whatever remains in the buffer as the last pass of
// the stream. Residue shorter than the minimum chunk is dropped
// silently. A non-nil result is always final.
func (s *Session) Flush(ctx context.Context) (*Result, error) {
	s.mu.Lock()

	buffered := s.buf.Samples()
	if buffered == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	if buffered < s.cfg.MinSamples {
		s.buf.Consume(buffered, 0)
		s.tl.Advance(buffered, 0)
		s.mu.Unlock()
		s.logger.Debug("dropped sub-minimum residue on flush", "samples", buffered)
		return nil, nil
	}

	chunk := audio.BytesToFloat32(s.buf.Extract(buffered))
	processed := len(chunk)

	if s.det.IsSilent(chunk) {
		s.buf.Consume(processed, 0)
		s.tl.Advance(processed, 0)
		s.mu.Unlock()
		return nil, nil
	}

	combined, ctxSamples := s.ctxWin.Combine(chunk)
	s.epoch++ // any wedged pass must not race the flush
	s.mu.Unlock()

	timeout := inferenceTimeout(s.cfg.ChunkDuration)
	ictx, cancel := context.WithTimeout(ctx, timeout)
	segs, err := s.eng.Transcribe(ictx, combined, engine.Hints{Language: s.cfg.Language, FinalPass: true})
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := s.tl.Window(processed)
	s.buf.Consume(processed, 0)
	s.tl.Advance(processed, 0)
	s.ctxWin.Reset()

	if err != nil {
		s.logger.Warn("flush inference failed", "error", err)
		return nil, nil
	}

	text := joinSegments(segs)
	if text == "" {
		return nil, nil
	}
	if IsGarbage(text) {
		metrics.GarbageFiltered.Inc()
		return nil, nil
	}

	return &Result{
		Text:     text,
		Final:    true,
		Start:    start,
		End:      end,
		Segments: rebaseSegments(segs, start, end, ctxSamples, s.cfg.SampleRate),
	}, nil
}

// inferenceTimeout derives the per-call deadline from the chunk length,
// clamped to a 1 to 2 second band.
func inferenceTimeout(chunk time.Duration) time.Duration {
	t := 2*chunk + inferenceTimeoutPad
	if t < time.Second {
		return time.Second
	}
	if t > 2*time.Second {
		return 2 * time.Second
	}
	return t
}

func joinSegments(segs []engine.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, sg := range segs {
		if t := strings.TrimSpace(sg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// rebaseSegments shifts engine-relative segment times onto the stream
// timeline, subtracting the context prefix and clamping into the pass
// window so context audio can never produce out-of-window timestamps.
func rebaseSegments(segs []engine.Segment, start, end float64, ctxSamples, rate int) []engine.Segment {
	if len(segs) == 0 {
		return nil
	}
	ctxSec := float64(ctxSamples) / float64(rate)
	out := make([]engine.Segment, 0, len(segs))
	for _, sg := range segs {
		st := start + sg.Start - ctxSec
		en := start + sg.End - ctxSec
		if st < start {
			st = start
		}
		if en > end {
			en = end
		}
		if en < st {
			en = st
		}
		out = append(out, engine.Segment{Text: sg.Text, Start: st, End: en})
	}
	return out
}
