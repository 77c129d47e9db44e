// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lifetrace/go_voice_stream/internal/codec"
	"github.com/lifetrace/go_voice_stream/internal/engine"
	"github.com/lifetrace/go_voice_stream/internal/metrics"
	"github.com/lifetrace/go_voice_stream/internal/session"
	"github.com/lifetrace/go_voice_stream/internal/vad"
)

// Control messages exchanged as websocket text frames.
const (
	msgEOS  = "EOS"
	msgPing = "ping"
	msgPong = "pong"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Streaming clients are local capture agents, not browsers with
	// credentials; origin enforcement stays off.
	CheckOrigin: func(*http.Request) bool { return true },
}

type resultFrame struct {
	Text      string         `json:"text"`
	IsFinal   bool           `json:"isFinal"`
	StartTime float64        `json:"startTime"`
	EndTime   float64        `json:"endTime"`
	Segments  []segmentFrame `json:"segments,omitempty"`
}

type segmentFrame struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type errorFrame struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Stream upgrades the connection and runs the session loop until the
// client sends EOS, disconnects, or the keepalive watchdog fires.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	source := vad.SourceType(r.URL.Query().Get("source"))
	if source == "" {
		source = vad.SourceMicrophone
	}
	if source != vad.SourceMicrophone && source != vad.SourceSystem {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown source class", Details: string(source)})
		return
	}

	codecName := r.URL.Query().Get("codec")
	if codecName == "" {
		codecName = "pcm"
	}
	factory, ok := h.cfg.Decoders[codecName]
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported codec", Details: codecName})
		return
	}

	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = h.cfg.DefaultLanguage
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	logger := h.logger.With("session_id", id, "source", source, "codec", codecName, "lang", lang)

	ls := &liveSession{
		conn:   conn,
		logger: logger,
		ping:   h.cfg.Keepalive.GetPingInterval(),
		pong:   h.cfg.Keepalive.GetPongTimeout(),
		pace:   h.cfg.Audio.GetChunkDuration(),
	}

	// The engine must be usable before audio is accepted. Waiting here
	// also covers the first connection racing a slow model load.
	readyCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	err = h.eng.Ready(readyCtx)
	cancel()
	if err != nil {
		logger.Error("engine not ready, rejecting stream", "error", err)
		ls.writeError("transcription engine unavailable", err.Error())
		ls.close(websocket.CloseInternalServerErr, "engine unavailable")
		return
	}

	dec, err := factory(h.cfg.Audio.SampleRate)
	if err != nil {
		logger.Error("decoder init failed", "error", err)
		ls.writeError("codec initialization failed", err.Error())
		ls.close(websocket.CloseInternalServerErr, "codec unavailable")
		return
	}
	ls.dec = dec
	ls.sess = session.New(id, h.sessionConfig(source, lang), h.eng, logger)

	h.register(ls)
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	logger.Info("session started")
	defer func() {
		h.unregister(ls)
		metrics.SessionsActive.Dec()
		metrics.SessionsClosed.Inc()
		logger.Info("session ended")
	}()

	ls.run(context.Background())
}

// liveSession binds one websocket connection to one session. The read
// loop, the pacer, and the keepalive goroutine all write to the
// connection; writes are serialized by writeMu.
type liveSession struct {
	conn   *websocket.Conn
	sess   *session.Session
	dec    codec.Decoder
	logger *slog.Logger
	ping   time.Duration
	pong   time.Duration
	pace   time.Duration

	writeMu   sync.Mutex
	lastPong  atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

func (ls *liveSession) run(ctx context.Context) {
	ls.done = make(chan struct{})
	ls.lastPong.Store(time.Now().UnixNano())
	go ls.keepalive()
	go ls.pacer(ctx)
	defer func() {
		close(ls.done)
		ls.conn.Close()
	}()

	for {
		msgType, data, err := ls.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ls.logger.Debug("read loop ended", "error", err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			ls.handleAudio(ctx, data)
		case websocket.TextMessage:
			switch string(data) {
			case msgPong:
				ls.lastPong.Store(time.Now().UnixNano())
			case msgEOS:
				ls.handleEOS(ctx)
				return
			default:
				ls.logger.Debug("ignoring unknown text message", "message", string(data))
			}
		}
	}
}

func (ls *liveSession) handleAudio(ctx context.Context, frame []byte) {
	metrics.FramesReceived.Inc()
	metrics.BytesReceived.Add(float64(len(frame)))

	pcm, err := ls.dec.Decode(frame)
	if err != nil {
		metrics.MalformedFrames.Inc()
		ls.logger.Warn("dropping undecodable frame", "error", err, "len", len(frame))
		return
	}
	if len(pcm)%2 != 0 {
		// Half a trailing sample; the buffer truncates it.
		metrics.MalformedFrames.Inc()
		ls.logger.Warn("odd-length PCM frame", "len", len(pcm))
	}

	ls.sess.AddPCM(pcm)
	ls.processAndEmit(ctx)
}

// processAndEmit runs one pass and writes its result. The read loop
// and the pacer call it without serializing: the session admits one
// pass at a time and an overflow or stuck trigger supersedes the
// in-flight one, whose result is then discarded, so overlapping calls
// yield at most one emitter and results stay in recording order.
func (ls *liveSession) processAndEmit(ctx context.Context) {
	res, err := ls.sess.TryProcess(ctx)
	if err != nil {
		ls.logger.Error("processing pass failed", "error", err)
		ls.writeError("processing failed", err.Error())
		return
	}
	if res != nil {
		ls.writeResult(res)
	}
}

// pacer keeps processing on the chunk cadence while the client is quiet
// on the wire, so audio buffered just before a send gap still gets
// transcribed without waiting for the next frame.
func (ls *liveSession) pacer(ctx context.Context) {
	ticker := time.NewTicker(ls.pace)
	defer ticker.Stop()

	for {
		select {
		case <-ls.done:
			return
		case <-ticker.C:
			ls.processAndEmit(ctx)
		}
	}
}

func (ls *liveSession) handleEOS(ctx context.Context) {
	ls.logger.Debug("end of stream received")
	// Flush supersedes any pass the pacer still has in flight.
	res, err := ls.sess.Flush(ctx)
	if err != nil {
		ls.logger.Error("final flush failed", "error", err)
	}
	if res != nil {
		ls.writeResult(res)
	}
	ls.close(websocket.CloseNormalClosure, "end of stream")
}

// keepalive pings the client on a fixed interval and tears the session
// down when no pong has arrived within the timeout, unblocking a read
// loop whose peer silently went away.
func (ls *liveSession) keepalive() {
	ticker := time.NewTicker(ls.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ls.done:
			return
		case <-ticker.C:
			last := time.Unix(0, ls.lastPong.Load())
			if time.Since(last) > ls.pong {
				metrics.KeepaliveTimeouts.Inc()
				ls.logger.Warn("keepalive timeout, closing session", "last_pong", time.Since(last))
				ls.close(websocket.CloseGoingAway, "keepalive timeout")
				return
			}
			ls.writeText(msgPing)
		}
	}
}

func (ls *liveSession) writeResult(res *session.Result) {
	frame := resultFrame{
		Text:      res.Text,
		IsFinal:   res.Final,
		StartTime: res.Start,
		EndTime:   res.End,
		Segments:  toSegmentFrames(res.Segments),
	}
	if ls.writeJSON(frame) {
		metrics.ResultsEmitted.WithLabelValues(strconv.FormatBool(res.Final)).Inc()
	}
}

func toSegmentFrames(segs []engine.Segment) []segmentFrame {
	if len(segs) == 0 {
		return nil
	}
	out := make([]segmentFrame, len(segs))
	for i, sg := range segs {
		out[i] = segmentFrame{Text: sg.Text, Start: sg.Start, End: sg.End}
	}
	return out
}

func (ls *liveSession) writeError(msg, details string) {
	ls.writeJSON(errorFrame{Error: msg, Details: details})
}

func (ls *liveSession) writeJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		ls.logger.Error("marshal frame", "error", err)
		return false
	}
	ls.writeMu.Lock()
	defer ls.writeMu.Unlock()
	if err := ls.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ls.logger.Debug("write frame failed", "error", err)
		return false
	}
	return true
}

func (ls *liveSession) writeText(msg string) {
	ls.writeMu.Lock()
	defer ls.writeMu.Unlock()
	if err := ls.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		ls.logger.Debug("write text failed", "error", err, "message", msg)
	}
}

// close sends a close frame then drops the connection. Safe to call
// from any goroutine, repeatedly.
func (ls *liveSession) close(code int, reason string) {
	ls.closeOnce.Do(func() {
		ls.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = ls.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		ls.writeMu.Unlock()
		ls.conn.Close()
	})
}
