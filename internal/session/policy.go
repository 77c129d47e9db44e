// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "time"

// Decision is the outcome of one commit policy evaluation.
type Decision struct {
	// Commit emits the recognized text to the client.
	Commit bool
	// Final marks the committed text as a completed utterance.
	Final bool
}

// PolicyConfig tunes the commit policy.
type PolicyConfig struct {
	// MinChunkDuration is the nominal chunk length; shorter audio only
	// commits under the short-utterance or voice-ended rules.
	MinChunkDuration time.Duration
	// MaxChunkDuration forces a partial commit to final so one
	// utterance cannot grow without bound.
	MaxChunkDuration time.Duration
	// ShortUtterance bounds the quick-exchange rule.
	ShortUtterance time.Duration
	// MinTextLength filters one-character recognition noise.
	MinTextLength int
}

// Decide applies the commit rules in priority order. chunkDur is the
// length of audio processed this pass, hasSilence whether the chunk
// tail is below the activity thresholds, textLen the recognized text
// length in runes, and voiceEnded whether a voice-ended transition is
// pending.
func Decide(cfg PolicyConfig, chunkDur time.Duration, hasSilence bool, textLen int, voiceEnded bool) Decision {
	// Utterance boundary: commit whatever was recognized as final.
	if voiceEnded && textLen > 0 {
		return Decision{Commit: true, Final: true}
	}
	// Silence after a full chunk of meaningful text.
	if hasSilence && textLen >= cfg.MinTextLength && chunkDur >= cfg.MinChunkDuration {
		return Decision{Commit: true, Final: true}
	}
	// Short utterance followed by silence, typical of quick exchanges.
	if chunkDur < cfg.ShortUtterance && textLen > 0 && hasSilence {
		return Decision{Commit: true, Final: true}
	}
	// Ongoing speech: stream a partial, but cap the open utterance.
	if chunkDur >= cfg.MinChunkDuration && textLen >= cfg.MinTextLength {
		return Decision{Commit: true, Final: chunkDur >= cfg.MaxChunkDuration}
	}
	return Decision{}
}
