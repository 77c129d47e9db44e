// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "strings"

// IsGarbage reports whether recognized text looks like a recognition
// artifact: long runs of one repeated character or one repeated token.
// Hallucinated repetition is the dominant failure mode when a model is
// fed boundary noise, so the check is deliberately narrow.
func IsGarbage(text string) bool {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= 3 {
		return false
	}

	// A run of four or more identical characters.
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= 4 {
				return true
			}
		} else {
			run = 1
		}
	}

	// The whole text collapsing to a single distinct character.
	distinct := make(map[rune]struct{})
	for _, r := range runes {
		if r == ' ' {
			continue
		}
		distinct[r] = struct{}{}
	}
	if len(distinct) == 1 {
		return true
	}

	// Three or more identical consecutive tokens.
	tokens := strings.Fields(string(runes))
	run = 1
	for i := 1; i < len(tokens); i++ {
		if tokens[i] == tokens[i-1] {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 1
		}
	}

	return false
}
