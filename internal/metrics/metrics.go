// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics declares the Prometheus instrumentation for the
// streaming transcription service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_stream_sessions_active",
		Help: "Number of currently active transcription sessions",
	})
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_sessions_created_total",
		Help: "Total number of transcription sessions created",
	})
	SessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_sessions_closed_total",
		Help: "Total number of transcription sessions closed",
	})
	KeepaliveTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_keepalive_timeouts_total",
		Help: "Sessions torn down because no pong arrived within the keepalive timeout",
	})

	// Transport
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_frames_received_total",
		Help: "Total binary audio frames received",
	})
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_bytes_received_total",
		Help: "Total audio payload bytes received",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_malformed_frames_total",
		Help: "Frames dropped or truncated due to malformed payloads",
	})

	// Buffering
	BufferOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_buffer_overflows_total",
		Help: "Processing passes forced by the buffer overflow threshold",
	})
	SamplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_samples_dropped_total",
		Help: "Samples dropped from the head of a full ring buffer",
	})

	// VAD
	VADEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_stream_vad_events_total",
		Help: "Voice activity transitions by event type",
	}, []string{"event"})

	// Inference
	InferenceCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_inference_calls_total",
		Help: "Total transcription engine invocations",
	})
	InferenceTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_inference_timeouts_total",
		Help: "Engine invocations abandoned after the per-call timeout",
	})
	InferenceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_inference_errors_total",
		Help: "Engine invocations that returned an error",
	})
	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_stream_inference_duration_seconds",
		Help:    "Wall time of transcription engine invocations",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
	})
	GarbageFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stream_garbage_filtered_total",
		Help: "Recognition outputs discarded by the repeated-token garbage filter",
	})

	// Results
	ResultsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_stream_results_emitted_total",
		Help: "Transcription results emitted to clients, by finality",
	}, []string{"final"})
)
