// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package vosk

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
)

// modelDirs maps a language hint to the model directory name under the
// configured model dir.
var modelDirs = map[string]string{
	"en": "vosk-model-small-en-us-0.15",
	"uk": "vosk-model-small-uk-v3-small",
	"ru": "vosk-model-small-ru-0.22",
	"de": "vosk-model-small-de-0.15",
	"fr": "vosk-model-small-fr-0.22",
	"es": "vosk-model-small-es-0.42",
}

// ModelManager caches loaded models by language with reference
// counting, so concurrent sessions share one in-memory model and it is
// freed when the last user releases it.
type ModelManager struct {
	mu       sync.Mutex
	modelDir string
	models   map[string]*modelEntry
	logger   *slog.Logger
}

type modelEntry struct {
	model    *vosk.VoskModel
	refCount int
}

func NewModelManager(modelDir string, logger *slog.Logger) *ModelManager {
	return &ModelManager{
		modelDir: modelDir,
		models:   make(map[string]*modelEntry),
		logger:   logger.With("component", "model_manager"),
	}
}

// Get loads the model for lang, or bumps the refcount of an already
// loaded one. Every Get must be paired with a Release.
func (mm *ModelManager) Get(lang string) (*vosk.VoskModel, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if entry, ok := mm.models[lang]; ok {
		entry.refCount++
		mm.logger.Debug("reusing cached model", "lang", lang, "ref_count", entry.refCount)
		return entry.model, nil
	}

	dir, ok := modelDirs[lang]
	if !ok {
		return nil, fmt.Errorf("no model available for language: %s", lang)
	}

	modelPath := filepath.Join(mm.modelDir, dir)
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model directory not found: %s", modelPath)
	}

	mm.logger.Info("loading vosk model", "lang", lang, "path", modelPath)
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load vosk model for %s: %w", lang, err)
	}

	mm.models[lang] = &modelEntry{model: model, refCount: 1}
	return model, nil
}

// Release drops one reference; the model is freed at zero.
func (mm *ModelManager) Release(lang string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	entry, ok := mm.models[lang]
	if !ok {
		return
	}

	entry.refCount--
	if entry.refCount <= 0 {
		entry.model.Free()
		delete(mm.models, lang)
		mm.logger.Info("freed vosk model", "lang", lang)
	}
}

// Available reports whether the model directory for lang exists on disk.
func (mm *ModelManager) Available(lang string) bool {
	dir, ok := modelDirs[lang]
	if !ok {
		return false
	}
	info, err := os.Stat(filepath.Join(mm.modelDir, dir))
	return err == nil && info.IsDir()
}

// CloseAll frees every cached model regardless of refcount. Only for
// process shutdown.
func (mm *ModelManager) CloseAll() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for lang, entry := range mm.models {
		entry.model.Free()
		delete(mm.models, lang)
	}
}
