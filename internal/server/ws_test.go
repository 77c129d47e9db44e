package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lifetrace/go_voice_stream/internal/audio"
	"github.com/lifetrace/go_voice_stream/internal/config"
	"github.com/lifetrace/go_voice_stream/internal/engine"
	"github.com/lifetrace/go_voice_stream/internal/metrics"
)

const testRate = 16000

type mockEngine struct {
	mu       sync.Mutex
	calls    int
	text     string
	readyErr error
}

func (m *mockEngine) Ready(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyErr
}

func (m *mockEngine) Transcribe(ctx context.Context, samples []float32, hints engine.Hints) ([]engine.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	dur := float64(len(samples)) / testRate
	return []engine.Segment{{Text: m.text, Start: 0, End: dur}}, nil
}

func (m *mockEngine) Close() error { return nil }

func testServerConfig() Config {
	return Config{
		Audio: config.AudioConfig{
			SampleRate:        testRate,
			ChunkDuration:     0.1,
			OverlapDuration:   0.025,
			MinSamples:        1600,
			MaxBufferDuration: 5,
			OverflowThreshold: 2,
			ContextDuration:   0.2,
		},
		Policy: config.PolicyConfig{
			MinTextLength:    2,
			ShortUtterance:   0.3,
			MaxChunkDuration: 2,
		},
		VAD: config.VADConfig{
			RMSThreshold:       0.01,
			PeakThreshold:      0.02,
			ZCRThreshold:       0.1,
			MinSilenceDuration: 0.2,
			SystemAudioScale:   0.1,
		},
		Keepalive: config.KeepaliveConfig{
			PingInterval: 5,
			PongTimeout:  15,
		},
		DefaultLanguage: "en",
	}
}

func newTestServer(t *testing.T, eng engine.Engine, cfg Config) (*httptest.Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(cfg, eng, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/voice/stream"
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func voiceFrame(dur time.Duration) []byte {
	n := int(float64(testRate) * dur.Seconds())
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	return audio.Float32ToInt16Bytes(samples)
}

func silenceFrame(dur time.Duration) []byte {
	n := int(float64(testRate) * dur.Seconds())
	return make([]byte, n*2)
}

type wireResult struct {
	Text      string  `json:"text"`
	IsFinal   bool    `json:"isFinal"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Segments  []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
	Error string `json:"error"`
}

// readFinal reads frames until a final result arrives, skipping pings
// and partial results. Partials depend on wall-clock pacing, so tests
// only assert on finals.
func readFinal(t *testing.T, conn *websocket.Conn, timeout time.Duration) *wireResult {
	t.Helper()
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading result: %v", err)
		}
		if string(data) == msgPing {
			continue
		}
		var res wireResult
		if err := json.Unmarshal(data, &res); err != nil {
			t.Fatalf("unexpected frame %q: %v", data, err)
		}
		if res.Error != "" {
			t.Fatalf("got error frame: %s (%s)", res.Error, data)
		}
		if !res.IsFinal {
			continue
		}
		return &res
	}
}

func TestStreamVoiceThenSilenceEmitsFinal(t *testing.T) {
	eng := &mockEngine{text: "hello world"}
	_, wsURL := newTestServer(t, eng, testServerConfig())
	conn := dial(t, wsURL+"?source=microphone")

	for i := 0; i < 5; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, voiceFrame(100*time.Millisecond)); err != nil {
			t.Fatalf("send voice: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, silenceFrame(100*time.Millisecond)); err != nil {
			t.Fatalf("send silence: %v", err)
		}
	}

	res := readFinal(t, conn, 3*time.Second)
	if res.Text != "hello world" {
		t.Errorf("text = %q, want %q", res.Text, "hello world")
	}
	if res.StartTime < 0 {
		t.Errorf("startTime = %v, want >= 0", res.StartTime)
	}
	if res.EndTime <= res.StartTime {
		t.Errorf("window inverted: [%v, %v]", res.StartTime, res.EndTime)
	}
	if len(res.Segments) == 0 {
		t.Error("expected word segments in the result frame")
	}
}

func TestStreamEOSFlushesAndCloses(t *testing.T) {
	eng := &mockEngine{text: "closing words"}
	_, wsURL := newTestServer(t, eng, testServerConfig())
	conn := dial(t, wsURL)

	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, voiceFrame(100*time.Millisecond)); err != nil {
			t.Fatalf("send voice: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msgEOS)); err != nil {
		t.Fatalf("send EOS: %v", err)
	}

	res := readFinal(t, conn, 3*time.Second)
	if res.Text != "closing words" {
		t.Errorf("flush result = %+v, want final %q", res, "closing words")
	}

	// The server closes normally after the flush.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close after EOS, got %v", err)
	}
}

func TestStreamEOSWithTinyResidueJustCloses(t *testing.T) {
	eng := &mockEngine{text: "should not appear"}
	_, wsURL := newTestServer(t, eng, testServerConfig())
	conn := dial(t, wsURL)

	// 50 ms is under the minimum chunk; the flush drops it silently.
	if err := conn.WriteMessage(websocket.BinaryMessage, voiceFrame(50*time.Millisecond)); err != nil {
		t.Fatalf("send voice: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msgEOS)); err != nil {
		t.Fatalf("send EOS: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close with no result, got %v", err)
	}
	eng.mu.Lock()
	calls := eng.calls
	eng.mu.Unlock()
	if calls != 0 {
		t.Errorf("engine called %d times for sub-minimum residue", calls)
	}
}

func TestOddLengthFrameCountsMalformed(t *testing.T) {
	eng := &mockEngine{text: "x"}
	_, wsURL := newTestServer(t, eng, testServerConfig())
	conn := dial(t, wsURL)

	before := testutil.ToFloat64(metrics.MalformedFrames)
	frame := voiceFrame(100 * time.Millisecond)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame[:len(frame)-1]); err != nil {
		t.Fatalf("send odd frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(metrics.MalformedFrames) <= before {
		if time.Now().After(deadline) {
			t.Fatal("odd-length frame never counted as malformed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestKeepaliveTimeoutTearsDownSession(t *testing.T) {
	cfg := testServerConfig()
	cfg.Keepalive = config.KeepaliveConfig{PingInterval: 0.05, PongTimeout: 0.12}
	eng := &mockEngine{text: "x"}
	_, wsURL := newTestServer(t, eng, cfg)
	conn := dial(t, wsURL)

	// Never answer pings; the watchdog must close the connection well
	// before the read deadline.
	gotPing := false
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("watchdog never closed the connection")
			}
			break
		}
		if string(data) == msgPing {
			gotPing = true
		}
	}
	if !gotPing {
		t.Error("never received a ping before teardown")
	}
}

func TestKeepalivePongKeepsSessionAlive(t *testing.T) {
	cfg := testServerConfig()
	cfg.Keepalive = config.KeepaliveConfig{PingInterval: 0.05, PongTimeout: 0.15}
	eng := &mockEngine{text: "x"}
	_, wsURL := newTestServer(t, eng, cfg)
	conn := dial(t, wsURL)

	// Answer every ping for half a second, well past the pong timeout.
	stop := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(stop) {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("connection died despite pongs: %v", err)
		}
		if string(data) == msgPing {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msgPong)); err != nil {
				t.Fatalf("send pong: %v", err)
			}
		}
	}
}

func TestStreamRejectsUnknownCodec(t *testing.T) {
	eng := &mockEngine{}
	srv, _ := newTestServer(t, eng, testServerConfig())

	resp, err := http.Get(srv.URL + "/api/voice/stream?codec=mp3")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamRejectsUnknownSource(t *testing.T) {
	eng := &mockEngine{}
	srv, _ := newTestServer(t, eng, testServerConfig())

	resp, err := http.Get(srv.URL + "/api/voice/stream?source=telepathy")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	eng := &mockEngine{}
	srv, _ := newTestServer(t, eng, testServerConfig())

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health struct {
		Status         string `json:"status"`
		EngineReady    bool   `json:"engineReady"`
		ActiveSessions int    `json:"activeSessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || !health.EngineReady || health.ActiveSessions != 0 {
		t.Errorf("health = %+v", health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	eng := &mockEngine{}
	srv, _ := newTestServer(t, eng, testServerConfig())

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "voice_stream_sessions_active") {
		t.Error("metrics output missing session gauge")
	}
}
