// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audio provides the PCM sample plumbing for a transcription
// session: a bounded ring buffer over raw PCM16LE bytes, the trailing
// context window carried between inference passes, and the sample
// format conversions.
package audio