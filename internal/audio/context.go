// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package audio

// ContextWindow keeps the tail of previously processed audio so the
// recognizer sees words that straddle chunk boundaries. The retained
// tail never exceeds maxSamples, and the contribution per pass never
// exceeds half of that, so a long chunk cannot flood the window.
type ContextWindow struct {
	samples    []float32
	maxSamples int
}

// NewContextWindow returns a window bounded at maxSamples.
func NewContextWindow(maxSamples int) *ContextWindow {
	return &ContextWindow{maxSamples: maxSamples}
}

// Combine prefixes the stored context onto chunk and returns the
// combined audio plus how many leading samples are context. It then
// retains the trailing min(len(chunk), maxSamples/2) samples of chunk
// as the context for the next pass.
func (w *ContextWindow) Combine(chunk []float32) (combined []float32, ctxSamples int) {
	ctxSamples = len(w.samples)
	combined = make([]float32, 0, ctxSamples+len(chunk))
	combined = append(combined, w.samples...)
	combined = append(combined, chunk...)

	keep := len(chunk)
	if half := w.maxSamples / 2; keep > half {
		keep = half
	}
	w.samples = append(w.samples[:0], chunk[len(chunk)-keep:]...)
	return combined, ctxSamples
}

// Len reports the currently retained context samples.
func (w *ContextWindow) Len() int {
	return len(w.samples)
}

// Reset drops the retained context.
func (w *ContextWindow) Reset() {
	w.samples = w.samples[:0]
}
