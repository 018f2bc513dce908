package models

import "time"

// IngestFile is one uploaded file handed to the pipeline.
type IngestFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
	Description string `json:"description,omitempty"`
}

// IngestResult reports the outcome of ingesting a single document. Partial
// embedding failures are not an error; they surface as
// ProcessedCount < ChunkCount.
type IngestResult struct {
	Success        bool   `json:"success"`
	DocumentID     string `json:"document_id,omitempty"`
	ChunkCount     int    `json:"chunk_count"`
	ProcessedCount int    `json:"processed_count"`
	Message        string `json:"message,omitempty"`
}

// FileResult is the per-file entry of a batch ingest response.
type FileResult struct {
	FileName   string `json:"file_name"`
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	Message    string `json:"message,omitempty"`
}

// BatchResult aggregates per-file ingestion outcomes. One file's failure never
// aborts the others.
type BatchResult struct {
	SuccessCount int          `json:"success_count"`
	FailCount    int          `json:"fail_count"`
	TotalCount   int          `json:"total_count"`
	PerFile      []FileResult `json:"per_file"`
}

// SearchHit is one ranked retrieval result with hydrated chunk content.
type SearchHit struct {
	ChunkID      string  `json:"chunk_id"`
	TenantID     int64   `json:"tenant_id"`
	DocumentName string  `json:"document_name"`
	Ordinal      int     `json:"ordinal"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

// KnowledgeStats are tenant-level aggregates, derived by scanning the
// document and chunk stores so they always agree with the underlying rows.
type KnowledgeStats struct {
	TenantID        int64 `json:"tenant_id"`
	DocumentCount   int64 `json:"document_count"`
	TotalChunks     int64 `json:"total_chunks"`
	ProcessedChunks int64 `json:"processed_chunks"`
	TotalBytes      int64 `json:"total_bytes"`
}

// Health status values for a tenant's knowledge base.
const (
	HealthHealthy       = "HEALTHY"
	HealthPartial       = "PARTIAL"
	HealthUninitialized = "UNINITIALIZED"
)

// KnowledgeHealth summarizes processing completeness for a tenant.
type KnowledgeHealth struct {
	TenantID        int64  `json:"tenant_id"`
	Status          string `json:"status"`
	DocumentCount   int64  `json:"document_count"`
	TotalChunks     int64  `json:"total_chunks"`
	ProcessedChunks int64  `json:"processed_chunks"`
	Recommendation  string `json:"recommendation,omitempty"`
}

// ChunkView is the listing/inventory shape of a chunk.
type ChunkView struct {
	ChunkID      string    `json:"chunk_id"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Ordinal      int       `json:"ordinal"`
	Content      string    `json:"content"`
	Processed    bool      `json:"processed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpdateChunkRequest carries replacement content for a chunk.
type UpdateChunkRequest struct {
	Content string `json:"content" binding:"required"`
}

// AskRequest is a retrieval-augmented question for a tenant's knowledge base.
type AskRequest struct {
	Question    string `json:"question" binding:"required"`
	TopK        int    `json:"top_k"`
	IncludeBase bool   `json:"include_base"`
}

// AskResponse carries the generated answer plus the chunks it was grounded on.
type AskResponse struct {
	Answer    string      `json:"answer"`
	Fallback  bool        `json:"fallback"`
	Sources   []SearchHit `json:"sources"`
	Timestamp time.Time   `json:"timestamp"`
}
