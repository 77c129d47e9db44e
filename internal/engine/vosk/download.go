// SPDX-FileCopyrightText: 2026 LifeTrace contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// Overridable in tests.
var (
	hfAPIBase = "https://huggingface.co/api/models"
	hfResolve = "https://huggingface.co"
)

type hfEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// downloadModels fetches the model repository at the pinned revision
// into modelDir. Files already present with the expected size are
// skipped, so restarts resume where they left off.
func downloadModels(ctx context.Context, repo, revision, modelDir string) error {
	slog.Info("starting model download", "repo", repo, "revision", revision, "dest", modelDir)

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	files, err := listAllFiles(ctx, repo, revision, "")
	if err != nil {
		return fmt.Errorf("list repo files: %w", err)
	}

	var toDownload []hfEntry
	for _, f := range files {
		localPath := filepath.Join(modelDir, f.Path)
		if info, err := os.Stat(localPath); err == nil && info.Size() == f.Size {
			continue // already downloaded
		}
		toDownload = append(toDownload, f)
	}

	if len(toDownload) == 0 {
		slog.Info("all models already downloaded")
		return nil
	}

	slog.Info("downloading models", "files", len(toDownload), "skipped", len(files)-len(toDownload))

	for i, f := range toDownload {
		if err := downloadFile(ctx, repo, revision, modelDir, f.Path); err != nil {
			return fmt.Errorf("download %s: %w", f.Path, err)
		}
		if (i+1)%50 == 0 {
			slog.Info("download progress", "completed", i+1, "total", len(toDownload))
		}
	}

	slog.Info("model download complete", "files", len(toDownload))
	return nil
}

func listAllFiles(ctx context.Context, repo, revision, prefix string) ([]hfEntry, error) {
	url := fmt.Sprintf("%s/%s/tree/%s", hfAPIBase, repo, revision)
	if prefix != "" {
		url += "/" + prefix
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	var entries []hfEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var files []hfEntry
	for _, e := range entries {
		switch e.Type {
		case "file":
			files = append(files, e)
		case "directory":
			subFiles, err := listAllFiles(ctx, repo, revision, e.Path)
			if err != nil {
				return nil, err
			}
			files = append(files, subFiles...)
		}
	}

	return files, nil
}

func downloadFile(ctx context.Context, repo, revision, modelDir, filePath string) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", hfResolve, repo, revision, filePath)
	localPath := filepath.Join(modelDir, filePath)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	tmpPath := localPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	_ = f.Close()

	if err := os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}
