package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"edu-knowledge-platform/internal/ai"
	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/internal/telemetry"
	"edu-knowledge-platform/internal/vectorindex"
	"edu-knowledge-platform/models"
)

const DefaultTopK = 5

// Retriever answers similarity searches over a tenant's knowledge, optionally
// widened with the shared base pool.
type Retriever struct {
	embedder  ai.Embedder
	index     vectorindex.Index
	chunks    ChunkStore
	generator ai.Generator
	metrics   *telemetry.Metrics
}

func NewRetriever(embedder ai.Embedder, index vectorindex.Index, chunks ChunkStore, generator ai.Generator, metrics *telemetry.Metrics) *Retriever {
	return &Retriever{
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		generator: generator,
		metrics:   metrics,
	}
}

// Search embeds the query, runs the vector search scoped to the tenant (plus
// the base pool when includeBase is set), and hydrates matches into full
// chunk content. A match whose chunk row has vanished is dropped, never
// returned partially.
func (r *Retriever) Search(ctx context.Context, tenantID int64, query string, topK int, includeBase bool) ([]models.SearchHit, error) {
	tracer := otel.Tracer("retrieval-engine")
	ctx, span := tracer.Start(ctx, "retriever.search")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	start := time.Now()

	span.SetAttributes(
		attribute.Int64("knowledge.tenant_id", tenantID),
		attribute.Int("knowledge.top_k", topK),
		attribute.Bool("knowledge.include_base", includeBase),
	)

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	tenants := []int64{tenantID}
	if includeBase && tenantID != models.BaseTenantID {
		tenants = append(tenants, models.BaseTenantID)
	}

	matches, err := r.index.Query(ctx, vector, topK, tenants)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		if r.metrics != nil {
			r.metrics.RecordSearch(tenantID, 0, time.Since(start).Seconds())
		}
		return nil, nil
	}

	chunkIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		chunkIDs = append(chunkIDs, m.ChunkID)
	}
	rows, err := r.chunks.GetByChunkIDs(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(matches))
	for _, m := range matches {
		chunk, ok := rows[m.ChunkID]
		if !ok {
			logger.Warn("Dropping match without chunk row", "chunk_id", m.ChunkID, "tenant_id", m.TenantID)
			continue
		}
		hits = append(hits, models.SearchHit{
			ChunkID:      chunk.ChunkID,
			TenantID:     chunk.TenantID,
			DocumentName: chunk.DocumentName,
			Ordinal:      chunk.Ordinal,
			Content:      chunk.Content,
			Score:        m.Score,
		})
	}

	sortHits(hits)
	span.SetAttributes(attribute.Int("knowledge.hits", len(hits)))
	if r.metrics != nil {
		r.metrics.RecordSearch(tenantID, len(hits), time.Since(start).Seconds())
	}
	return hits, nil
}

// Ask retrieves context for a question and generates an answer. When the
// generation provider degrades, the fixed fallback answer is returned with
// the retrieved sources still attached.
func (r *Retriever) Ask(ctx context.Context, tenantID int64, req models.AskRequest) (*models.AskResponse, error) {
	hits, err := r.Search(ctx, tenantID, req.Question, req.TopK, req.IncludeBase)
	if err != nil {
		return nil, err
	}

	contextChunks := make([]string, 0, len(hits))
	for _, hit := range hits {
		contextChunks = append(contextChunks, hit.Content)
	}

	answer, fallback, err := r.generator.Generate(ctx, req.Question, contextChunks)
	if err != nil {
		return nil, err
	}

	return &models.AskResponse{
		Answer:    answer,
		Fallback:  fallback,
		Sources:   hits,
		Timestamp: time.Now(),
	}, nil
}

// sortHits orders by score descending, then ordinal ascending, then document
// name, so equal-score results are stable across runs.
func sortHits(hits []models.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Ordinal != hits[j].Ordinal {
			return hits[i].Ordinal < hits[j].Ordinal
		}
		return hits[i].DocumentName < hits[j].DocumentName
	})
}
