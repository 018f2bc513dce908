package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"edu-knowledge-platform/internal/errs"
	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/models"
)

const (
	TaskIngestDocument = "knowledge:ingest"
	TaskReprocess      = "knowledge:reprocess"
)

// IngestPayload references a staged upload on disk. The payload stays small;
// the file content lives in the staging directory until the worker consumes it.
type IngestPayload struct {
	TenantID    int64  `json:"tenant_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	StagedPath  string `json:"staged_path"`
	Description string `json:"description"`
}

type ReprocessPayload struct {
	TenantID int64 `json:"tenant_id"`
}

func NewIngestTask(payload IngestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngestDocument,
		data,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewReprocessTask(tenantID int64) (*asynq.Task, error) {
	data, err := json.Marshal(ReprocessPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskReprocess,
		data,
		asynq.MaxRetry(5),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("default"),
	), nil
}

// Ingestor is the slice of the pipeline the worker needs.
type Ingestor interface {
	Ingest(ctx context.Context, tenantID int64, file models.IngestFile) (*models.IngestResult, error)
	ReprocessUnprocessed(ctx context.Context, tenantID int64) (int, error)
}

type TaskProcessor struct {
	pipeline Ingestor
}

func NewTaskProcessor(pipeline Ingestor) *TaskProcessor {
	return &TaskProcessor{pipeline: pipeline}
}

func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngestDocument, p.HandleIngest)
	mux.HandleFunc(TaskReprocess, p.HandleReprocess)
}

func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info("Processing ingest task",
		"tenant_id", payload.TenantID, "file", payload.FileName)

	content, err := os.ReadFile(payload.StagedPath)
	if err != nil {
		// Staged file gone: a retry cannot succeed.
		return fmt.Errorf("staged file unreadable: %v: %w", err, asynq.SkipRetry)
	}

	result, err := p.pipeline.Ingest(ctx, payload.TenantID, models.IngestFile{
		Name:        payload.FileName,
		ContentType: payload.ContentType,
		Content:     content,
		Description: payload.Description,
	})
	if err != nil {
		if errs.IsTransient(err) {
			return err // retried by asynq
		}
		return fmt.Errorf("ingest failed: %v: %w", err, asynq.SkipRetry)
	}

	if err := os.Remove(payload.StagedPath); err != nil {
		logger.Warn("Failed to remove staged file", "path", payload.StagedPath, "error", err)
	}

	if !result.Success {
		logger.Warn("Ingest task completed without success",
			"tenant_id", payload.TenantID, "file", payload.FileName, "message", result.Message)
		return nil
	}

	logger.Info("Ingest task complete",
		"tenant_id", payload.TenantID,
		"document_id", result.DocumentID,
		"chunks", result.ChunkCount,
		"processed", result.ProcessedCount)
	return nil
}

func (p *TaskProcessor) HandleReprocess(ctx context.Context, t *asynq.Task) error {
	var payload ReprocessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	repaired, err := p.pipeline.ReprocessUnprocessed(ctx, payload.TenantID)
	if err != nil {
		return err
	}
	logger.Info("Reprocess task complete", "tenant_id", payload.TenantID, "repaired", repaired)
	return nil
}
