// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the per-connection transcription state machine:
// buffered audio, voice activity tracking, the incremental context
// window, the commit policy deciding when recognized text is emitted,
// and the stream-relative timestamp reconstruction.
package session