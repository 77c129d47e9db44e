// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the service over HTTP: the websocket streaming
// endpoint, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lifetrace/go_voice_stream/internal/codec"
	"github.com/lifetrace/go_voice_stream/internal/config"
	"github.com/lifetrace/go_voice_stream/internal/engine"
	"github.com/lifetrace/go_voice_stream/internal/session"
	"github.com/lifetrace/go_voice_stream/internal/vad"
)

// Config carries the sections of the service configuration the HTTP
// layer needs, plus the codec factories registered by the entrypoint.
type Config struct {
	Audio           config.AudioConfig
	Policy          config.PolicyConfig
	VAD             config.VADConfig
	Keepalive       config.KeepaliveConfig
	DefaultLanguage string
	Decoders        map[string]codec.Factory
}

// Handler owns the HTTP surface and the registry of live sessions.
type Handler struct {
	cfg    Config
	eng    engine.Engine
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*liveSession
}

// NewHandler builds the handler. The PCM decoder is always available;
// additional codecs come registered in cfg.Decoders.
func NewHandler(cfg Config, eng engine.Engine, logger *slog.Logger) *Handler {
	if cfg.Decoders == nil {
		cfg.Decoders = map[string]codec.Factory{}
	}
	if _, ok := cfg.Decoders["pcm"]; !ok {
		cfg.Decoders["pcm"] = codec.NewPCM
	}
	return &Handler{
		cfg:    cfg,
		eng:    eng,
		logger: logger.With("component", "server"),
		live:   make(map[string]*liveSession),
	}
}

// RegisterRoutes attaches all endpoints to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/voice/stream", h.Stream)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	EngineReady    bool   `json:"engineReady"`
	ActiveSessions int    `json:"activeSessions"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Healthz reports liveness plus engine readiness. The readiness probe
// is non-blocking: an engine still initializing reports false.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	probe, cancel := context.WithTimeout(r.Context(), 50*time.Millisecond)
	defer cancel()
	ready := h.eng.Ready(probe) == nil

	h.mu.Lock()
	active := len(h.live)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		EngineReady:    ready,
		ActiveSessions: active,
	})
}

// sessionConfig assembles the per-session configuration from the loaded
// service config and the connection's source class and language.
func (h *Handler) sessionConfig(source vad.SourceType, lang string) session.Config {
	thresholds := vad.Thresholds{
		RMS:  h.cfg.VAD.RMSThreshold,
		Peak: h.cfg.VAD.PeakThreshold,
		ZCR:  h.cfg.VAD.ZCRThreshold,
	}
	if source == vad.SourceSystem {
		thresholds = thresholds.Scale(h.cfg.VAD.SystemAudioScale)
	}

	return session.Config{
		SampleRate:        h.cfg.Audio.SampleRate,
		ChunkDuration:     h.cfg.Audio.GetChunkDuration(),
		OverlapDuration:   h.cfg.Audio.GetOverlapDuration(),
		MinSamples:        h.cfg.Audio.MinSamples,
		MaxBufferDuration: h.cfg.Audio.GetMaxBufferDuration(),
		OverflowThreshold: h.cfg.Audio.GetOverflowThreshold(),
		ContextDuration:   h.cfg.Audio.GetContextDuration(),
		Policy: session.PolicyConfig{
			MinChunkDuration: h.cfg.Audio.GetChunkDuration(),
			MaxChunkDuration: h.cfg.Policy.GetMaxChunkDuration(),
			ShortUtterance:   h.cfg.Policy.GetShortUtterance(),
			MinTextLength:    h.cfg.Policy.MinTextLength,
		},
		VAD: vad.Config{
			Thresholds: thresholds,
			SampleRate: h.cfg.Audio.SampleRate,
			MinSilence: h.cfg.VAD.GetMinSilenceDuration(),
		},
		Language: lang,
	}
}

func (h *Handler) register(ls *liveSession) {
	h.mu.Lock()
	h.live[ls.sess.ID()] = ls
	h.mu.Unlock()
}

func (h *Handler) unregister(ls *liveSession) {
	h.mu.Lock()
	delete(h.live, ls.sess.ID())
	h.mu.Unlock()
}

// Shutdown force-closes every live session. No final flush is run; the
// clients did not end their streams.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	sessions := make([]*liveSession, 0, len(h.live))
	for _, ls := range h.live {
		sessions = append(sessions, ls)
	}
	h.mu.Unlock()

	for _, ls := range sessions {
		ls.close(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info("closed live sessions", "count", len(sessions))
}
