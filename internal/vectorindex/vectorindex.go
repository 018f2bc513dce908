// Package vectorindex abstracts the vector store behind a small interface:
// upsert, delete, and tenant-filtered top-K similarity query. Scores are
// cosine similarity, higher is better.
package vectorindex

import (
	"context"
	"math"
)

// Entry is one stored vector, keyed by chunk id and tagged with its tenant.
type Entry struct {
	ChunkID  string
	TenantID int64
	Vector   []float32
}

// Match is one query result. Results come back sorted by descending score,
// at most topK of them.
type Match struct {
	ChunkID  string
	TenantID int64
	Score    float64
}

// Index stores vectors keyed by chunk identifier. Upsert replaces any prior
// entry under the same key, so an index never holds two vectors for one
// chunk id. Delete of a missing key is a no-op.
type Index interface {
	Upsert(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, chunkID string) error
	DeleteTenant(ctx context.Context, tenantID int64) error
	Query(ctx context.Context, vector []float32, topK int, tenants []int64) ([]Match, error)
}

// CosineSimilarity computes the cosine of the angle between a and b.
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
