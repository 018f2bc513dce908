package services

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/models"
)

// BootstrapBasePool loads shared curriculum files from dir into the base
// tenant on first startup. A base pool that already has documents is left
// alone so operator edits survive restarts.
func BootstrapBasePool(ctx context.Context, dir string, pipeline *Pipeline, documents DocumentRegistry) error {
	if dir == "" {
		return nil
	}

	count, err := documents.CountByTenant(ctx, models.BaseTenantID)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Debug("Base pool already initialized", "documents", count)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Base knowledge directory missing, skipping bootstrap", "dir", dir)
			return nil
		}
		return err
	}

	var files []models.IngestFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".txt", ".md", ".pdf", ".html":
		default:
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("Skipping unreadable base file", "file", name, "error", err)
			continue
		}
		contentType := mime.TypeByExtension(ext)
		if contentType == "" {
			contentType = "text/plain"
		}
		files = append(files, models.IngestFile{
			Name:        name,
			ContentType: contentType,
			Content:     content,
			Description: "base curriculum",
		})
	}

	if len(files) == 0 {
		logger.Info("No base knowledge files found", "dir", dir)
		return nil
	}

	batch, err := pipeline.IngestBatch(ctx, models.BaseTenantID, files)
	if err != nil {
		return err
	}
	logger.Info("Base pool bootstrapped",
		"dir", dir, "succeeded", batch.SuccessCount, "failed", batch.FailCount)
	return nil
}
