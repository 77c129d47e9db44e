// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package vad

import (
	"math"
	"time"
)

// SourceType names a threshold class for the capture source.
type SourceType string

const (
	SourceMicrophone SourceType = "microphone"
	SourceSystem     SourceType = "system"
)

// Event is a voice activity transition. Transitions are edge-triggered:
// each is emitted exactly once until the opposite transition occurs.
type Event int

const (
	EventNone Event = iota
	EventVoiceStarted
	EventVoiceEnded
)

func (e Event) String() string {
	switch e {
	case EventVoiceStarted:
		return "voice_started"
	case EventVoiceEnded:
		return "voice_ended"
	default:
		return "none"
	}
}

// Silence floor defaults. A chunk under the floor on every feature is
// true silence and never reaches the engine. Each bound is capped at
// the class threshold, so a quiet source class keeps a proportionally
// lower floor and a chunk the class counts as voiced can never read
// as silent.
const (
	floorRMS  = 0.01
	floorPeak = 0.01
	floorZCR  = 0.05
)

// Thresholds are the per-feature activity bounds for one source class.
type Thresholds struct {
	RMS  float64
	Peak float64
	ZCR  float64
}

// Scale returns the thresholds multiplied by f. Used to derive the
// system-audio class from the microphone baseline.
func (t Thresholds) Scale(f float64) Thresholds {
	return Thresholds{RMS: t.RMS * f, Peak: t.Peak * f, ZCR: t.ZCR}
}

// Config parameterizes a Detector.
type Config struct {
	Thresholds Thresholds
	SampleRate int
	// MinSilence is how long sustained silence must last before a
	// VoiceEnded transition fires.
	MinSilence time.Duration
}

// Detector tracks voice state across consecutive chunks of one audio
// stream. Not safe for concurrent use; a session owns one detector.
type Detector struct {
	cfg          Config
	voiceActive  bool
	silenceAccum time.Duration
}

// NewDetector returns a detector in the silent state.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Features computes the RMS energy, peak amplitude, and zero-crossing
// rate of a chunk of normalized samples.
func Features(samples []float32) (rms, peak, zcr float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	var sumSq float64
	crossings := 0
	prev := samples[0]
	for i, s := range samples {
		v := float64(s)
		sumSq += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
		if i > 0 && (s >= 0) != (prev >= 0) {
			crossings++
		}
		prev = s
	}
	rms = math.Sqrt(sumSq / float64(len(samples)))
	zcr = float64(crossings) / float64(len(samples))
	return rms, peak, zcr
}

// IsSilent reports whether a chunk sits under the silence floor on
// every feature.
func (d *Detector) IsSilent(samples []float32) bool {
	rms, peak, zcr := Features(samples)
	t := d.cfg.Thresholds
	return rms < math.Min(floorRMS, t.RMS) &&
		peak < math.Min(floorPeak, t.Peak) &&
		zcr < math.Min(floorZCR, t.ZCR)
}

// isVoiced applies the per-class thresholds. Any of three combinations
// counts: strong energy alone, moderate energy with speech-like ZCR, or
// a clear peak with some energy behind it.
func (d *Detector) isVoiced(samples []float32) bool {
	rms, peak, zcr := Features(samples)
	t := d.cfg.Thresholds
	if rms > t.RMS {
		return true
	}
	if rms > t.RMS*0.5 && zcr > t.ZCR {
		return true
	}
	if peak > t.Peak && rms > t.RMS*0.25 {
		return true
	}
	return false
}

// Detect consumes one chunk and returns at most one transition event.
// VoiceStarted fires on the first voiced chunk after silence;
// VoiceEnded fires only after MinSilence of sustained silence, so brief
// intra-word pauses do not split an utterance.
func (d *Detector) Detect(samples []float32) Event {
	if len(samples) == 0 {
		return EventNone
	}
	voiced := d.isVoiced(samples)

	if voiced {
		d.silenceAccum = 0
		if !d.voiceActive {
			d.voiceActive = true
			return EventVoiceStarted
		}
		return EventNone
	}

	if d.voiceActive {
		chunkDur := time.Duration(float64(len(samples)) / float64(d.cfg.SampleRate) * float64(time.Second))
		d.silenceAccum += chunkDur
		if d.silenceAccum >= d.cfg.MinSilence {
			d.voiceActive = false
			d.silenceAccum = 0
			return EventVoiceEnded
		}
	}
	return EventNone
}

// Active reports whether the detector currently considers voice present.
func (d *Detector) Active() bool {
	return d.voiceActive
}

// HasSilence reports whether silence is present at the chunk boundary:
// no voice is active, silence is accumulating toward a VoiceEnded
// transition, or the chunk itself reads below the activity thresholds.
// A chunk ending in a pause shorter than MinSilence still counts, so
// the commit policy sees the pause on the pass it happened in.
func (d *Detector) HasSilence(samples []float32) bool {
	if !d.voiceActive || d.silenceAccum > 0 {
		return true
	}
	return !d.isVoiced(samples)
}
