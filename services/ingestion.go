package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"edu-knowledge-platform/internal/ai"
	"edu-knowledge-platform/internal/errs"
	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/internal/telemetry"
	"edu-knowledge-platform/internal/vectorindex"
	"edu-knowledge-platform/models"
)

// Pipeline ingests documents: extract, segment, embed, index, persist.
type Pipeline struct {
	segmenter *Segmenter
	extractor *TextExtractor
	embedder  ai.Embedder
	index     vectorindex.Index
	chunks    ChunkStore
	documents DocumentRegistry
	metrics   *telemetry.Metrics
	workers   int
}

func NewPipeline(
	segmenter *Segmenter,
	extractor *TextExtractor,
	embedder ai.Embedder,
	index vectorindex.Index,
	chunks ChunkStore,
	documents DocumentRegistry,
	metrics *telemetry.Metrics,
	workers int,
) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		segmenter: segmenter,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		documents: documents,
		metrics:   metrics,
		workers:   workers,
	}
}

// Ingest processes a single file for a tenant. A file whose extracted text is
// empty is reported as a failed result, not an error: the caller's batch
// accounting treats it as one failed file. Uploading a file whose name
// already exists for the tenant replaces the earlier document entirely.
func (p *Pipeline) Ingest(ctx context.Context, tenantID int64, file models.IngestFile) (*models.IngestResult, error) {
	tracer := otel.Tracer("ingestion-pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.ingest")
	defer span.End()
	start := time.Now()

	span.SetAttributes(
		attribute.Int64("knowledge.tenant_id", tenantID),
		attribute.String("knowledge.file_name", file.Name),
		attribute.Int("knowledge.file_size", len(file.Content)),
	)

	text, err := p.extractor.Extract(file.Content, file.ContentType, file.Name)
	if err != nil {
		logger.Warn("Text extraction failed", "tenant_id", tenantID, "file", file.Name, "error", err)
		p.recordIngest(tenantID, 0, start, false)
		return &models.IngestResult{
			Success: false,
			Message: fmt.Sprintf("extraction failed: %v", err),
		}, nil
	}

	segments := p.segmenter.Segment(text)
	if len(segments) == 0 {
		p.recordIngest(tenantID, 0, start, false)
		return &models.IngestResult{
			Success: false,
			Message: "no content extracted",
		}, nil
	}

	if err := p.replaceExisting(ctx, tenantID, file.Name); err != nil {
		return nil, err
	}

	doc := &models.KnowledgeDocument{
		TenantID:     tenantID,
		OriginalName: file.Name,
		ContentType:  file.ContentType,
		Size:         int64(len(file.Content)),
		Description:  file.Description,
		Processing:   true,
	}
	if err := p.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	processed := p.processSegments(ctx, tenantID, doc, segments)

	if err := p.documents.Finalize(ctx, doc.ID, len(segments), processed); err != nil {
		logger.Error("Failed to finalize document", "document_id", doc.ID.Hex(), "error", err)
	}

	span.SetAttributes(
		attribute.Int("knowledge.chunk_count", len(segments)),
		attribute.Int("knowledge.processed_count", processed),
	)

	logger.Info("Document ingested",
		"tenant_id", tenantID,
		"document_id", doc.ID.Hex(),
		"file", file.Name,
		"chunks", len(segments),
		"processed", processed)

	p.recordIngest(tenantID, processed, start, true)

	return &models.IngestResult{
		Success:        true,
		DocumentID:     doc.ID.Hex(),
		ChunkCount:     len(segments),
		ProcessedCount: processed,
		Message:        fmt.Sprintf("ingested %d of %d chunks", processed, len(segments)),
	}, nil
}

func (p *Pipeline) recordIngest(tenantID int64, chunks int, start time.Time, success bool) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordIngest(tenantID, chunks, time.Since(start).Seconds(), success)
}

// processSegments embeds and persists segments with a bounded worker pool.
// An embedding failure still persists the chunk row with processed=false so
// the content survives for later repair; a row-insert failure after the
// vector upsert rolls the vector back to keep the index consistent.
func (p *Pipeline) processSegments(ctx context.Context, tenantID int64, doc *models.KnowledgeDocument, segments []Segment) int {
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0

	for _, segment := range segments {
		wg.Add(1)
		sem <- struct{}{}
		go func(seg Segment) {
			defer wg.Done()
			defer func() { <-sem }()

			if p.processOne(ctx, tenantID, doc, seg) {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}(segment)
	}
	wg.Wait()
	return processed
}

func (p *Pipeline) processOne(ctx context.Context, tenantID int64, doc *models.KnowledgeDocument, seg Segment) bool {
	chunkID := uuid.NewString()

	chunk := &models.KnowledgeChunk{
		ChunkID:      chunkID,
		TenantID:     tenantID,
		DocumentID:   doc.ID,
		DocumentName: doc.OriginalName,
		Ordinal:      seg.Ordinal,
		Content:      seg.Text,
	}

	vector, err := p.embedder.Embed(ctx, seg.Text)
	if err != nil {
		logger.Warn("Embedding failed, keeping chunk unprocessed",
			"tenant_id", tenantID, "chunk_id", chunkID, "ordinal", seg.Ordinal, "error", err)
		if p.metrics != nil {
			p.metrics.RecordEmbeddingFailure(tenantID)
		}
		chunk.Processed = false
		if insertErr := p.chunks.Insert(ctx, chunk); insertErr != nil {
			logger.Error("Failed to persist unprocessed chunk", "chunk_id", chunkID, "error", insertErr)
		}
		return false
	}

	if err := p.index.Upsert(ctx, vectorindex.Entry{
		ChunkID:  chunkID,
		TenantID: tenantID,
		Vector:   vector,
	}); err != nil {
		logger.Warn("Vector upsert failed, keeping chunk unprocessed",
			"tenant_id", tenantID, "chunk_id", chunkID, "error", err)
		chunk.Processed = false
		if insertErr := p.chunks.Insert(ctx, chunk); insertErr != nil {
			logger.Error("Failed to persist unprocessed chunk", "chunk_id", chunkID, "error", insertErr)
		}
		return false
	}

	chunk.Processed = true
	if err := p.chunks.Insert(ctx, chunk); err != nil {
		logger.Error("Chunk row insert failed, rolling back vector", "chunk_id", chunkID, "error", err)
		if delErr := p.index.Delete(ctx, chunkID); delErr != nil {
			logger.Error("Vector rollback failed, reconciliation will clean up",
				"chunk_id", chunkID, "error", delErr)
		}
		return false
	}
	return true
}

// IngestBatch processes files independently: one bad file never blocks the
// rest. Counts reflect per-file outcomes in input order.
func (p *Pipeline) IngestBatch(ctx context.Context, tenantID int64, files []models.IngestFile) (*models.BatchResult, error) {
	batch := &models.BatchResult{
		TotalCount: len(files),
		PerFile:    make([]models.FileResult, 0, len(files)),
	}

	for _, file := range files {
		result, err := p.Ingest(ctx, tenantID, file)
		if err != nil {
			batch.FailCount++
			batch.PerFile = append(batch.PerFile, models.FileResult{
				FileName: file.Name,
				Success:  false,
				Message:  err.Error(),
			})
			continue
		}
		if result.Success {
			batch.SuccessCount++
		} else {
			batch.FailCount++
		}
		batch.PerFile = append(batch.PerFile, models.FileResult{
			FileName:   file.Name,
			Success:    result.Success,
			DocumentID: result.DocumentID,
			ChunkCount: result.ChunkCount,
			Message:    result.Message,
		})
	}

	logger.Info("Batch ingestion complete",
		"tenant_id", tenantID,
		"total", batch.TotalCount,
		"succeeded", batch.SuccessCount,
		"failed", batch.FailCount)

	return batch, nil
}

// replaceExisting removes an earlier document with the same name, vectors
// first so a crash mid-replace leaves orphan rows rather than orphan vectors.
func (p *Pipeline) replaceExisting(ctx context.Context, tenantID int64, name string) error {
	existing, err := p.documents.GetByName(ctx, tenantID, name)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}

	logger.Info("Replacing existing document",
		"tenant_id", tenantID, "document_id", existing.ID.Hex(), "name", name)

	old, err := p.chunks.ListByDocument(ctx, existing.ID)
	if err != nil {
		return err
	}
	for _, chunk := range old {
		if err := p.index.Delete(ctx, chunk.ChunkID); err != nil {
			return err
		}
	}
	if _, err := p.chunks.DeleteByDocument(ctx, existing.ID); err != nil {
		return err
	}
	return p.documents.Delete(ctx, existing.ID)
}

// ReprocessUnprocessed retries embedding for chunks left unprocessed by an
// earlier partial failure.
func (p *Pipeline) ReprocessUnprocessed(ctx context.Context, tenantID int64) (int, error) {
	chunks, err := p.chunks.ListByTenant(ctx, tenantID, 0, 0)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, chunk := range chunks {
		if chunk.Processed {
			continue
		}
		vector, err := p.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			logger.Warn("Reprocess embed failed", "chunk_id", chunk.ChunkID, "error", err)
			continue
		}
		if err := p.index.Upsert(ctx, vectorindex.Entry{
			ChunkID:  chunk.ChunkID,
			TenantID: chunk.TenantID,
			Vector:   vector,
		}); err != nil {
			logger.Warn("Reprocess upsert failed", "chunk_id", chunk.ChunkID, "error", err)
			continue
		}
		if err := p.chunks.MarkProcessed(ctx, chunk.ChunkID, true); err != nil {
			// The vector would now claim a processed chunk the row disputes.
			logger.Error("Reprocess mark failed, rolling back vector", "chunk_id", chunk.ChunkID, "error", err)
			if delErr := p.index.Delete(ctx, chunk.ChunkID); delErr != nil {
				logger.Error("Vector rollback failed, reconciliation will clean up",
					"chunk_id", chunk.ChunkID, "error", delErr)
			}
			continue
		}
		if err := p.documents.AdjustCounts(ctx, chunk.DocumentID, 0, 1); err != nil && !errors.Is(err, errs.ErrNotFound) {
			logger.Warn("Failed to update document processed counter", "chunk_id", chunk.ChunkID, "error", err)
		}
		repaired++
	}

	if repaired > 0 {
		logger.Info("Reprocessed unprocessed chunks", "tenant_id", tenantID, "repaired", repaired)
	}
	return repaired, nil
}
