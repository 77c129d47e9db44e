package vad

import (
	"math"
	"testing"
	"time"
)

const testRate = 16000

func defaultTestConfig() Config {
	return Config{
		Thresholds: Thresholds{RMS: 0.01, Peak: 0.02, ZCR: 0.1},
		SampleRate: testRate,
		MinSilence: 500 * time.Millisecond,
	}
}

// tone generates dur of a sine tone at the given amplitude and frequency.
func tone(dur time.Duration, amplitude, freq float64) []float32 {
	n := int(float64(testRate) * dur.Seconds())
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/testRate))
	}
	return out
}

func sine(dur time.Duration, amplitude float64) []float32 {
	return tone(dur, amplitude, 440)
}

func silence(dur time.Duration) []float32 {
	n := int(float64(testRate) * dur.Seconds())
	return make([]float32, n)
}

func TestDetectorVoiceStartedOnce(t *testing.T) {
	d := NewDetector(defaultTestConfig())

	events := []Event{}
	for i := 0; i < 5; i++ {
		if ev := d.Detect(sine(100*time.Millisecond, 0.3)); ev != EventNone {
			events = append(events, ev)
		}
	}
	if len(events) != 1 || events[0] != EventVoiceStarted {
		t.Errorf("events = %v, want exactly one VoiceStarted", events)
	}
	if !d.Active() {
		t.Error("Active() = false during voiced audio")
	}
}

func TestDetectorVoiceEndedAfterMinSilence(t *testing.T) {
	d := NewDetector(defaultTestConfig())
	if ev := d.Detect(sine(300*time.Millisecond, 0.3)); ev != EventVoiceStarted {
		t.Fatalf("first voiced chunk = %v, want VoiceStarted", ev)
	}

	// 300 ms silence: below the 500 ms bound, no transition yet.
	if ev := d.Detect(silence(300 * time.Millisecond)); ev != EventNone {
		t.Errorf("after 300ms silence = %v, want None", ev)
	}
	// Another 300 ms pushes accumulated silence past 500 ms.
	if ev := d.Detect(silence(300 * time.Millisecond)); ev != EventVoiceEnded {
		t.Errorf("after 600ms silence = %v, want VoiceEnded", ev)
	}
	// Sustained silence fires nothing further.
	if ev := d.Detect(silence(time.Second)); ev != EventNone {
		t.Errorf("continued silence = %v, want None", ev)
	}
}

func TestDetectorBriefPauseDoesNotEndVoice(t *testing.T) {
	d := NewDetector(defaultTestConfig())
	d.Detect(sine(300*time.Millisecond, 0.3))

	// Short pause, then voice resumes: the accumulator must reset.
	d.Detect(silence(200 * time.Millisecond))
	if ev := d.Detect(sine(100*time.Millisecond, 0.3)); ev != EventNone {
		t.Errorf("voice resuming after brief pause = %v, want None", ev)
	}
	if ev := d.Detect(silence(400 * time.Millisecond)); ev != EventNone {
		t.Errorf("400ms silence after reset = %v, want None", ev)
	}
}

func TestDetectorPureSilenceNoEvents(t *testing.T) {
	d := NewDetector(defaultTestConfig())
	for i := 0; i < 20; i++ {
		if ev := d.Detect(silence(100 * time.Millisecond)); ev != EventNone {
			t.Fatalf("chunk %d: event %v on pure silence", i, ev)
		}
	}
}

func TestSystemThresholdsDetectQuietAudio(t *testing.T) {
	quiet := sine(300*time.Millisecond, 0.005)

	mic := NewDetector(defaultTestConfig())
	if ev := mic.Detect(quiet); ev != EventNone {
		t.Errorf("microphone class on quiet audio = %v, want None", ev)
	}

	cfg := defaultTestConfig()
	cfg.Thresholds = cfg.Thresholds.Scale(0.1)
	sys := NewDetector(cfg)
	if ev := sys.Detect(quiet); ev != EventVoiceStarted {
		t.Errorf("system class on quiet audio = %v, want VoiceStarted", ev)
	}
}

func TestIsSilent(t *testing.T) {
	mic := NewDetector(defaultTestConfig())
	sysCfg := defaultTestConfig()
	sysCfg.Thresholds = sysCfg.Thresholds.Scale(0.1)
	sys := NewDetector(sysCfg)

	tests := []struct {
		name    string
		det     *Detector
		samples []float32
		want    bool
	}{
		{"zeros", mic, silence(100 * time.Millisecond), true},
		{"clear tone", mic, sine(100*time.Millisecond, 0.3), false},
		{"quiet tone above floor", mic, sine(100*time.Millisecond, 0.02), false},
		{"low hum under microphone floor", mic, tone(100*time.Millisecond, 0.009, 150), true},
		{"low hum above scaled system floor", sys, tone(100*time.Millisecond, 0.009, 150), false},
		{"empty", mic, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.det.IsSilent(tt.samples); got != tt.want {
				t.Errorf("IsSilent() = %v, want %v", got, tt.want)
			}
		})
	}
}

// A chunk the active threshold class considers voiced must never be
// classified silent; otherwise quiet system audio would be skipped
// before it ever reaches the engine.
func TestQuietSystemAudioVoicedNotSilent(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Thresholds = cfg.Thresholds.Scale(0.1)
	d := NewDetector(cfg)

	chunk := tone(300*time.Millisecond, 0.009, 150)
	if ev := d.Detect(chunk); ev != EventVoiceStarted {
		t.Fatalf("Detect() = %v, want VoiceStarted for quiet system audio", ev)
	}
	if d.IsSilent(chunk) {
		t.Error("IsSilent() = true for a chunk the detector counts as voiced")
	}
}

func TestHasSilenceSeesTrailingPause(t *testing.T) {
	d := NewDetector(defaultTestConfig())
	d.Detect(sine(300*time.Millisecond, 0.3))
	// A pause shorter than MinSilence: no VoiceEnded yet, but the
	// accumulating silence must already show up in the level query.
	d.Detect(silence(200 * time.Millisecond))

	chunk := append(sine(300*time.Millisecond, 0.3), silence(200*time.Millisecond)...)
	if !d.HasSilence(chunk) {
		t.Error("HasSilence() = false with silence accumulating, want true")
	}
}

func TestHasSilenceDuringSteadyVoice(t *testing.T) {
	d := NewDetector(defaultTestConfig())
	chunk := sine(300*time.Millisecond, 0.3)
	d.Detect(chunk)
	if d.HasSilence(chunk) {
		t.Error("HasSilence() = true during uninterrupted voice")
	}
}

func TestFeatures(t *testing.T) {
	rms, peak, zcr := Features(sine(100*time.Millisecond, 0.5))
	if rms < 0.3 || rms > 0.4 {
		t.Errorf("rms = %v, want about 0.35 for 0.5 amplitude sine", rms)
	}
	if peak < 0.49 || peak > 0.51 {
		t.Errorf("peak = %v, want about 0.5", peak)
	}
	// 440 Hz at 16 kHz crosses zero roughly 880 times a second.
	if zcr < 0.04 || zcr > 0.07 {
		t.Errorf("zcr = %v, want about 0.055", zcr)
	}

	rms, peak, zcr = Features(nil)
	if rms != 0 || peak != 0 || zcr != 0 {
		t.Errorf("Features(nil) = %v %v %v, want zeros", rms, peak, zcr)
	}
}
