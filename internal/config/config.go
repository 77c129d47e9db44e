// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Policy    PolicyConfig    `yaml:"policy"`
	VAD       VADConfig       `yaml:"vad"`
	Engine    EngineConfig    `yaml:"engine"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// AudioConfig contains audio buffering and chunking parameters.
// All durations are in seconds.
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	ChunkDuration     float64 `yaml:"chunk_duration"`
	OverlapDuration   float64 `yaml:"overlap_duration"`
	MinSamples        int     `yaml:"min_samples"`
	MaxBufferDuration float64 `yaml:"max_buffer_duration"`
	OverflowThreshold float64 `yaml:"overflow_threshold"`
	ContextDuration   float64 `yaml:"context_duration"`
}

// PolicyConfig contains streaming commit policy parameters.
type PolicyConfig struct {
	MinTextLength    int     `yaml:"min_text_length"`
	ShortUtterance   float64 `yaml:"short_utterance"`    // seconds
	MaxChunkDuration float64 `yaml:"max_chunk_duration"` // seconds
}

// VADConfig contains voice activity detection thresholds. The base
// thresholds apply to microphone-class sources; system-audio sources
// (typically 10-20 dB quieter) are scaled by SystemAudioScale.
type VADConfig struct {
	RMSThreshold       float64 `yaml:"rms_threshold"`
	PeakThreshold      float64 `yaml:"peak_threshold"`
	ZCRThreshold       float64 `yaml:"zcr_threshold"`
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
	SystemAudioScale   float64 `yaml:"system_audio_scale"`
}

// EngineConfig contains transcription engine configuration.
type EngineConfig struct {
	ModelDir        string `yaml:"model_dir"`
	DefaultLanguage string `yaml:"default_language"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
	Download        bool   `yaml:"download"`
}

// KeepaliveConfig contains the ping/pong watchdog parameters, in seconds.
type KeepaliveConfig struct {
	PingInterval float64 `yaml:"ping_interval"`
	PongTimeout  float64 `yaml:"pong_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no config file is present.
// The VAD thresholds are empirically tuned defaults and are expected to be
// recalibrated per deployment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    9091,
		},
		Audio: AudioConfig{
			SampleRate:        16000,
			ChunkDuration:     0.3,
			OverlapDuration:   0.1,
			MinSamples:        4800,
			MaxBufferDuration: 10.0,
			OverflowThreshold: 3.0,
			ContextDuration:   1.0,
		},
		Policy: PolicyConfig{
			MinTextLength:    2,
			ShortUtterance:   1.0,
			MaxChunkDuration: 2.0,
		},
		VAD: VADConfig{
			RMSThreshold:       0.01,
			PeakThreshold:      0.02,
			ZCRThreshold:       0.1,
			MinSilenceDuration: 0.5,
			SystemAudioScale:   0.1,
		},
		Engine: EngineConfig{
			ModelDir:        "models",
			DefaultLanguage: "en",
			MaxConcurrent:   4,
			Download:        false,
		},
		Keepalive: KeepaliveConfig{
			PingInterval: 20.0,
			PongTimeout:  60.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses the configuration file, applying defaults for
// omitted sections before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the full configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.Keepalive.Validate(); err != nil {
		return fmt.Errorf("keepalive config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}
	if a.OverlapDuration < 0 {
		return fmt.Errorf("overlap_duration cannot be negative, got %f", a.OverlapDuration)
	}
	if a.OverlapDuration >= a.ChunkDuration {
		return fmt.Errorf("overlap_duration (%f) must be less than chunk_duration (%f)",
			a.OverlapDuration, a.ChunkDuration)
	}
	if a.MinSamples <= 0 {
		return fmt.Errorf("min_samples must be positive, got %d", a.MinSamples)
	}
	if a.OverflowThreshold <= a.ChunkDuration {
		return fmt.Errorf("overflow_threshold (%f) must be greater than chunk_duration (%f)",
			a.OverflowThreshold, a.ChunkDuration)
	}
	if a.MaxBufferDuration < a.OverflowThreshold {
		return fmt.Errorf("max_buffer_duration (%f) must be at least overflow_threshold (%f)",
			a.MaxBufferDuration, a.OverflowThreshold)
	}
	if a.ContextDuration < 0 {
		return fmt.Errorf("context_duration cannot be negative, got %f", a.ContextDuration)
	}
	return nil
}

// Validate validates commit policy configuration.
func (p *PolicyConfig) Validate() error {
	if p.MinTextLength < 1 {
		return fmt.Errorf("min_text_length must be at least 1, got %d", p.MinTextLength)
	}
	if p.ShortUtterance <= 0 {
		return fmt.Errorf("short_utterance must be positive, got %f", p.ShortUtterance)
	}
	if p.MaxChunkDuration <= 0 {
		return fmt.Errorf("max_chunk_duration must be positive, got %f", p.MaxChunkDuration)
	}
	return nil
}

// Validate validates VAD configuration.
func (v *VADConfig) Validate() error {
	if v.RMSThreshold <= 0 || v.RMSThreshold > 1 {
		return fmt.Errorf("rms_threshold must be in (0, 1], got %f", v.RMSThreshold)
	}
	if v.PeakThreshold <= 0 || v.PeakThreshold > 1 {
		return fmt.Errorf("peak_threshold must be in (0, 1], got %f", v.PeakThreshold)
	}
	if v.ZCRThreshold <= 0 || v.ZCRThreshold > 1 {
		return fmt.Errorf("zcr_threshold must be in (0, 1], got %f", v.ZCRThreshold)
	}
	if v.MinSilenceDuration <= 0 {
		return fmt.Errorf("min_silence_duration must be positive, got %f", v.MinSilenceDuration)
	}
	if v.SystemAudioScale <= 0 || v.SystemAudioScale > 1 {
		return fmt.Errorf("system_audio_scale must be in (0, 1], got %f", v.SystemAudioScale)
	}
	return nil
}

// Validate validates engine configuration.
func (e *EngineConfig) Validate() error {
	if e.ModelDir == "" {
		return fmt.Errorf("model_dir cannot be empty")
	}
	if e.DefaultLanguage == "" {
		return fmt.Errorf("default_language cannot be empty")
	}
	if e.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.MaxConcurrent)
	}
	return nil
}

// Validate validates keepalive configuration.
func (k *KeepaliveConfig) Validate() error {
	if k.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %f", k.PingInterval)
	}
	if k.PongTimeout <= k.PingInterval {
		return fmt.Errorf("pong_timeout (%f) must be greater than ping_interval (%f)",
			k.PongTimeout, k.PingInterval)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// GetChunkDuration returns the chunk duration as a time.Duration.
func (a *AudioConfig) GetChunkDuration() time.Duration { return seconds(a.ChunkDuration) }

// GetOverlapDuration returns the overlap duration as a time.Duration.
func (a *AudioConfig) GetOverlapDuration() time.Duration { return seconds(a.OverlapDuration) }

// GetMaxBufferDuration returns the hard buffer cap as a time.Duration.
func (a *AudioConfig) GetMaxBufferDuration() time.Duration { return seconds(a.MaxBufferDuration) }

// GetOverflowThreshold returns the forced-processing threshold as a time.Duration.
func (a *AudioConfig) GetOverflowThreshold() time.Duration { return seconds(a.OverflowThreshold) }

// GetContextDuration returns the context window size as a time.Duration.
func (a *AudioConfig) GetContextDuration() time.Duration { return seconds(a.ContextDuration) }

// GetShortUtterance returns the short-utterance threshold as a time.Duration.
func (p *PolicyConfig) GetShortUtterance() time.Duration { return seconds(p.ShortUtterance) }

// GetMaxChunkDuration returns the maximum chunk duration as a time.Duration.
func (p *PolicyConfig) GetMaxChunkDuration() time.Duration { return seconds(p.MaxChunkDuration) }

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration.
func (v *VADConfig) GetMinSilenceDuration() time.Duration { return seconds(v.MinSilenceDuration) }

// GetPingInterval returns the keepalive ping interval as a time.Duration.
func (k *KeepaliveConfig) GetPingInterval() time.Duration { return seconds(k.PingInterval) }

// GetPongTimeout returns the keepalive pong timeout as a time.Duration.
func (k *KeepaliveConfig) GetPongTimeout() time.Duration { return seconds(k.PongTimeout) }
