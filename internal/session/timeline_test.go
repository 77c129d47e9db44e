package session

import "testing"

func TestTimelineWindowAndAdvance(t *testing.T) {
	tl := timeline{rate: 16000}

	start, end := tl.Window(16000)
	if start != 0 || end != 1.0 {
		t.Errorf("first window = [%v, %v], want [0, 1]", start, end)
	}

	// Advance by processed minus overlap: next pass replays the overlap.
	tl.Advance(16000, 1600)
	start, end = tl.Window(8000)
	if start != 0.9 || end != 1.4 {
		t.Errorf("second window = [%v, %v], want [0.9, 1.4]", start, end)
	}

	// Overlap larger than processed never moves the position backward.
	tl.Advance(1000, 2000)
	start, _ = tl.Window(100)
	if start != 0.9 {
		t.Errorf("start after degenerate advance = %v, want 0.9", start)
	}
}

func TestInferenceTimeoutClamp(t *testing.T) {
	tests := []struct {
		chunkMs int
		wantMs  int
	}{
		{100, 1000},  // 2*0.1+0.3 = 0.5s, clamped up
		{300, 1000},  // 0.9s, clamped up
		{400, 1100},  // 1.1s, in band
		{700, 1700},  // 1.7s, in band
		{1500, 2000}, // 3.3s, clamped down
	}
	for _, tt := range tests {
		got := inferenceTimeout(msDur(tt.chunkMs))
		if got != msDur(tt.wantMs) {
			t.Errorf("inferenceTimeout(%dms) = %v, want %dms", tt.chunkMs, got, tt.wantMs)
		}
	}
}
