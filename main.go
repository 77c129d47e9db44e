// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lifetrace/go_voice_stream/internal/codec/opuscodec"
	"github.com/lifetrace/go_voice_stream/internal/config"
	"github.com/lifetrace/go_voice_stream/internal/engine"
	voskengine "github.com/lifetrace/go_voice_stream/internal/engine/vosk"
	"github.com/lifetrace/go_voice_stream/internal/server"

	"github.com/lifetrace/go_voice_stream/internal/codec"
)

// Models are fetched from this repository when engine.download is set
// and the default model is missing locally.
const (
	modelRepo     = "alphacep/vosk-models"
	modelRevision = "main"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.Info("starting go_voice_stream",
		"address", cfg.Server.Address,
		"port", cfg.Server.Port,
		"sample_rate", cfg.Audio.SampleRate,
		"default_language", cfg.Engine.DefaultLanguage,
	)

	eng := voskengine.New(voskengine.Config{
		ModelDir:         cfg.Engine.ModelDir,
		DefaultLanguage:  cfg.Engine.DefaultLanguage,
		SampleRate:       cfg.Audio.SampleRate,
		Download:         cfg.Engine.Download,
		DownloadRepo:     modelRepo,
		DownloadRevision: modelRevision,
	}, slog.Default())
	pooled := engine.NewPool(eng, cfg.Engine.MaxConcurrent)
	defer pooled.Close()

	// Warm the engine in the background so the first stream does not
	// pay model load or download latency.
	go func() {
		if err := pooled.Ready(context.Background()); err != nil {
			slog.Error("engine preload failed", "error", err)
		}
	}()

	h := server.NewHandler(server.Config{
		Audio:           cfg.Audio,
		Policy:          cfg.Policy,
		VAD:             cfg.VAD,
		Keepalive:       cfg.Keepalive,
		DefaultLanguage: cfg.Engine.DefaultLanguage,
		Decoders: map[string]codec.Factory{
			"opus": opuscodec.New,
		},
	}, pooled, slog.Default())

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Handler:     mux,
		ReadTimeout: 0, // streaming connections stay open indefinitely
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("failed to listen", "addr", addr, "error", err)
		os.Exit(1)
	}
	slog.Info("HTTP server listening", "addr", addr)

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	h.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist so the binary runs out of the box.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if env := os.Getenv("VS_LOG_LEVEL"); env == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
