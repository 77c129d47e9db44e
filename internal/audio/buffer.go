// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package audio

import (
	"log/slog"
	"time"
)

const bytesPerSample = 2

// Buffer is a bounded FIFO over raw PCM16LE mono bytes. When an Add
// would exceed the capacity, the oldest bytes are dropped so the buffer
// always holds the most recent audio. Not safe for concurrent use; the
// owning session serializes access.
type Buffer struct {
	data     []byte
	maxBytes int
	dropped  uint64
	logger   *slog.Logger
}

// NewBuffer returns a buffer capped at maxDuration of audio at the
// given sample rate.
func NewBuffer(sampleRate int, maxDuration time.Duration, logger *slog.Logger) *Buffer {
	maxSamples := int(float64(sampleRate) * maxDuration.Seconds())
	return &Buffer{
		data:     make([]byte, 0, maxSamples*bytesPerSample),
		maxBytes: maxSamples * bytesPerSample,
		logger:   logger.With("component", "audio_buffer"),
	}
}

// Add appends PCM16LE bytes. A trailing odd byte cannot be half a
// sample, so it is truncated with a warning. If the buffer would exceed
// its capacity, the oldest bytes are discarded and counted as dropped
// samples.
func (b *Buffer) Add(p []byte) {
	if len(p)%bytesPerSample != 0 {
		b.logger.Warn("odd-length PCM frame, truncating trailing byte", "len", len(p))
		p = p[:len(p)-1]
	}
	if len(p) == 0 {
		return
	}
	b.data = append(b.data, p...)
	if excess := len(b.data) - b.maxBytes; excess > 0 {
		b.data = b.data[excess:]
		b.dropped += uint64(excess / bytesPerSample)
		b.logger.Warn("buffer full, dropped oldest audio",
			"dropped_samples", excess/bytesPerSample,
			"dropped_total", b.dropped)
	}
}

// Extract copies out up to targetSamples from the head of the buffer
// without consuming them. The same bytes stay available until Consume.
func (b *Buffer) Extract(targetSamples int) []byte {
	n := targetSamples * bytesPerSample
	if n > len(b.data) {
		n = len(b.data)
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	return out
}

// Consume removes processed-overlap samples from the head, so the
// overlap tail is seen again by the next pass. The removal is capped at
// the current length.
func (b *Buffer) Consume(processed, overlap int) {
	advance := processed - overlap
	if advance <= 0 {
		return
	}
	n := advance * bytesPerSample
	if n > len(b.data) {
		n = len(b.data)
	}
	b.data = b.data[n:]
}

// Samples reports how many whole samples are currently buffered.
func (b *Buffer) Samples() int {
	return len(b.data) / bytesPerSample
}

// Dropped reports the total samples discarded because the buffer was full.
func (b *Buffer) Dropped() uint64 {
	return b.dropped
}
