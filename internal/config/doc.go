// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates the service configuration from a
// YAML file. The session core never reads configuration itself; it is
// handed plain structs built from this package.
package config