package services

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"edu-knowledge-platform/internal/ai"
	"edu-knowledge-platform/internal/errs"
	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/internal/vectorindex"
	"edu-knowledge-platform/models"
)

const chunkLockStripes = 64

// ReconcileMarkers records tenants whose cascade delete may have been
// interrupted, so a background sweep can finish the job.
type ReconcileMarkers interface {
	Mark(ctx context.Context, tenantID int64) error
	Clear(ctx context.Context, tenantID int64) error
	Pending(ctx context.Context) ([]int64, error)
}

// Lifecycle manages per-tenant knowledge state: stats, health, chunk edits,
// and cascade deletion.
type Lifecycle struct {
	embedder  ai.Embedder
	index     vectorindex.Index
	chunks    ChunkStore
	documents DocumentRegistry
	markers   ReconcileMarkers

	// Striped locks serialize concurrent update/delete on the same chunk id.
	locks [chunkLockStripes]sync.Mutex
}

func NewLifecycle(embedder ai.Embedder, index vectorindex.Index, chunks ChunkStore, documents DocumentRegistry, markers ReconcileMarkers) *Lifecycle {
	return &Lifecycle{
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		documents: documents,
		markers:   markers,
	}
}

func (l *Lifecycle) lockFor(chunkID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(chunkID))
	return &l.locks[h.Sum32()%chunkLockStripes]
}

// Stats aggregates document and chunk counts plus stored content size.
func (l *Lifecycle) Stats(ctx context.Context, tenantID int64) (*models.KnowledgeStats, error) {
	docCount, err := l.documents.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	total, processed, err := l.chunks.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	bytes, err := l.chunks.TotalBytesByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &models.KnowledgeStats{
		TenantID:        tenantID,
		DocumentCount:   docCount,
		TotalChunks:     total,
		ProcessedChunks: processed,
		TotalBytes:      bytes,
	}, nil
}

// Health reports whether a tenant's knowledge is fully indexed. A tenant with
// no documents is uninitialized; unprocessed chunks make it partial.
func (l *Lifecycle) Health(ctx context.Context, tenantID int64) (*models.KnowledgeHealth, error) {
	stats, err := l.Stats(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	status := models.HealthHealthy
	recommendation := ""
	switch {
	case stats.DocumentCount == 0:
		status = models.HealthUninitialized
		recommendation = "upload documents to initialize this knowledge base"
	case stats.ProcessedChunks < stats.TotalChunks:
		status = models.HealthPartial
		recommendation = "run reprocess to repair unprocessed chunks"
	}

	return &models.KnowledgeHealth{
		TenantID:        tenantID,
		Status:          status,
		DocumentCount:   stats.DocumentCount,
		TotalChunks:     stats.TotalChunks,
		ProcessedChunks: stats.ProcessedChunks,
		Recommendation:  recommendation,
	}, nil
}

// UpdateChunk replaces a chunk's content, re-embeds it, and refreshes its
// vector. Updating a missing chunk returns not-found.
func (l *Lifecycle) UpdateChunk(ctx context.Context, chunkID, content string) error {
	mu := l.lockFor(chunkID)
	mu.Lock()
	defer mu.Unlock()

	chunk, err := l.chunks.GetByChunkID(ctx, chunkID)
	if err != nil {
		return err
	}

	vector, err := l.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}
	if err := l.index.Upsert(ctx, vectorindex.Entry{
		ChunkID:  chunkID,
		TenantID: chunk.TenantID,
		Vector:   vector,
	}); err != nil {
		return err
	}
	if err := l.chunks.UpdateContent(ctx, chunkID, content); err != nil {
		// Row vanished between the read and the write: a concurrent delete
		// won. Remove the vector we just wrote.
		if errors.Is(err, errs.ErrNotFound) {
			if delErr := l.index.Delete(ctx, chunkID); delErr != nil {
				logger.Error("Failed to remove vector after lost update race", "chunk_id", chunkID, "error", delErr)
			}
		}
		return err
	}
	if err := l.chunks.MarkProcessed(ctx, chunkID, true); err != nil {
		logger.Warn("Failed to mark updated chunk processed", "chunk_id", chunkID, "error", err)
	} else if !chunk.Processed {
		// The chunk just went from unprocessed to processed; the owning
		// document's counter follows. A missing document means a concurrent
		// cascade already removed it.
		if err := l.documents.AdjustCounts(ctx, chunk.DocumentID, 0, 1); err != nil && !errors.Is(err, errs.ErrNotFound) {
			logger.Warn("Failed to update document processed counter", "chunk_id", chunkID, "error", err)
		}
	}

	logger.Info("Chunk updated", "chunk_id", chunkID, "tenant_id", chunk.TenantID)
	return nil
}

// DeleteChunk removes a chunk's vector and row and decrements the owning
// document's counters. Deleting a chunk that does not exist is a no-op.
func (l *Lifecycle) DeleteChunk(ctx context.Context, chunkID string) error {
	mu := l.lockFor(chunkID)
	mu.Lock()
	defer mu.Unlock()

	chunk, err := l.chunks.GetByChunkID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// Row already gone; clear any orphaned vector and finish.
			return l.index.Delete(ctx, chunkID)
		}
		return err
	}

	if err := l.index.Delete(ctx, chunkID); err != nil {
		return err
	}
	if err := l.chunks.Delete(ctx, chunkID); err != nil {
		return err
	}

	processedDelta := 0
	if chunk.Processed {
		processedDelta = -1
	}
	if err := l.documents.AdjustCounts(ctx, chunk.DocumentID, -1, processedDelta); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}

	logger.Info("Chunk deleted", "chunk_id", chunkID, "document_id", chunk.DocumentID.Hex())
	return nil
}

// ListChunks returns a page of a tenant's chunks as API views.
func (l *Lifecycle) ListChunks(ctx context.Context, tenantID int64, limit, offset int64) ([]models.ChunkView, error) {
	chunks, err := l.chunks.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]models.ChunkView, 0, len(chunks))
	for _, chunk := range chunks {
		views = append(views, models.ChunkView{
			ChunkID:      chunk.ChunkID,
			DocumentID:   chunk.DocumentID.Hex(),
			DocumentName: chunk.DocumentName,
			Ordinal:      chunk.Ordinal,
			Content:      chunk.Preview(240),
			Processed:    chunk.Processed,
			UpdatedAt:    chunk.UpdatedAt,
		})
	}
	return views, nil
}

// Reimport re-embeds every processed chunk of a tenant and re-upserts its
// vector, rebuilding the index after an index loss or an embedding model
// change. Unprocessed chunks are left for ReprocessUnprocessed.
func (l *Lifecycle) Reimport(ctx context.Context, tenantID int64) (int, error) {
	chunks, err := l.chunks.ListByTenant(ctx, tenantID, 0, 0)
	if err != nil {
		return 0, err
	}

	reimported := 0
	for _, chunk := range chunks {
		if !chunk.Processed {
			continue
		}
		vector, err := l.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			logger.Warn("Reimport embed failed", "chunk_id", chunk.ChunkID, "error", err)
			continue
		}
		if err := l.index.Upsert(ctx, vectorindex.Entry{
			ChunkID:  chunk.ChunkID,
			TenantID: chunk.TenantID,
			Vector:   vector,
		}); err != nil {
			logger.Warn("Reimport upsert failed", "chunk_id", chunk.ChunkID, "error", err)
			continue
		}
		reimported++
	}

	logger.Info("Tenant knowledge reimported", "tenant_id", tenantID, "chunks", reimported)
	return reimported, nil
}

// DeleteTenantKnowledge cascades over vectors, then chunk rows, then
// documents. A reconcile marker brackets the whole cascade so an interrupted
// delete is retried by the background sweep.
func (l *Lifecycle) DeleteTenantKnowledge(ctx context.Context, tenantID int64) error {
	if l.markers != nil {
		if err := l.markers.Mark(ctx, tenantID); err != nil {
			return err
		}
	}

	if err := l.index.DeleteTenant(ctx, tenantID); err != nil {
		return err
	}
	chunksDeleted, err := l.chunks.DeleteByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	docsDeleted, err := l.documents.DeleteByTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	if l.markers != nil {
		if err := l.markers.Clear(ctx, tenantID); err != nil {
			logger.Warn("Failed to clear reconcile marker", "tenant_id", tenantID, "error", err)
		}
	}

	logger.Info("Tenant knowledge deleted",
		"tenant_id", tenantID, "chunks", chunksDeleted, "documents", docsDeleted)
	return nil
}

// Reconcile finishes cascade deletes that were interrupted mid-flight.
func (l *Lifecycle) Reconcile(ctx context.Context) error {
	if l.markers == nil {
		return nil
	}
	pending, err := l.markers.Pending(ctx)
	if err != nil {
		return err
	}
	for _, tenantID := range pending {
		logger.Info("Reconciling interrupted delete", "tenant_id", tenantID)
		if err := l.DeleteTenantKnowledge(ctx, tenantID); err != nil {
			logger.Error("Reconcile failed", "tenant_id", tenantID, "error", err)
		}
	}
	return nil
}
