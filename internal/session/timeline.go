// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// timeline reconstructs stream-relative timestamps from consumed sample
// counts. Wall clocks never enter the math, so timestamps stay correct
// under backpressure, bursts, and dropped processing passes.
type timeline struct {
	rate  int
	total int64
}

// Window returns the time span covered by a pass over processed
// samples, relative to the start of the stream.
func (t *timeline) Window(processed int) (start, end float64) {
	start = float64(t.total) / float64(t.rate)
	end = float64(t.total+int64(processed)) / float64(t.rate)
	return start, end
}

// Advance moves the stream position past the pass, minus the overlap
// that the next pass will see again. Positions never move backward.
func (t *timeline) Advance(processed, overlap int) {
	adv := processed - overlap
	if adv < 0 {
		adv = 0
	}
	t.total += int64(adv)
}
