// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vad implements lightweight voice activity detection over
// normalized PCM chunks using RMS energy, peak amplitude, and
// zero-crossing rate. It is tuned by threshold class: microphone
// capture is loud and close, system loopback audio is 10 to 20 dB
// quieter and gets scaled-down thresholds.
package vad