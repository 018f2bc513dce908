package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"edu-knowledge-platform/internal/errs"
	"edu-knowledge-platform/models"
)

// fakeEmbedder returns deterministic vectors derived from text length, and
// can be told to fail for specific inputs.
type fakeEmbedder struct {
	mu       sync.Mutex
	failOn   map[string]bool
	failAll  bool
	embedded int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{failOn: map[string]bool{}}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failOn[text] {
		return nil, errs.Transient("embed", errors.New("provider unavailable"))
	}
	f.embedded++
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r)
	}
	return v, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }

type fakeGenerator struct {
	answer   string
	fallback bool
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, _ []string) (string, bool, error) {
	return g.answer, g.fallback, nil
}

// memChunkStore is an in-memory ChunkStore for pipeline and lifecycle tests.
type memChunkStore struct {
	mu           sync.Mutex
	rows         map[string]*models.KnowledgeChunk
	failInsertOn map[string]bool
	failMarkOn   map[string]bool
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{
		rows:         map[string]*models.KnowledgeChunk{},
		failInsertOn: map[string]bool{},
		failMarkOn:   map[string]bool{},
	}
}

func (s *memChunkStore) Insert(_ context.Context, chunk *models.KnowledgeChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsertOn[chunk.Content] {
		return errs.Transient("chunk.insert", errors.New("write failed"))
	}
	if chunk.ID.IsZero() {
		chunk.ID = primitive.NewObjectID()
	}
	cp := *chunk
	cp.SizeBytes = int64(len(cp.Content))
	s.rows[chunk.ChunkID] = &cp
	return nil
}

func (s *memChunkStore) GetByChunkID(_ context.Context, chunkID string) (*models.KnowledgeChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[chunkID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memChunkStore) GetByChunkIDs(_ context.Context, chunkIDs []string) (map[string]*models.KnowledgeChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]*models.KnowledgeChunk{}
	for _, id := range chunkIDs {
		if row, ok := s.rows[id]; ok {
			cp := *row
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *memChunkStore) ListByTenant(_ context.Context, tenantID int64, limit, offset int64) ([]models.KnowledgeChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.KnowledgeChunk
	for _, row := range s.rows {
		if row.TenantID == tenantID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *memChunkStore) ListByDocument(_ context.Context, documentID primitive.ObjectID) ([]models.KnowledgeChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.KnowledgeChunk
	for _, row := range s.rows {
		if row.DocumentID == documentID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *memChunkStore) UpdateContent(_ context.Context, chunkID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[chunkID]
	if !ok {
		return errs.ErrNotFound
	}
	row.Content = content
	row.SizeBytes = int64(len(content))
	return nil
}

func (s *memChunkStore) MarkProcessed(_ context.Context, chunkID string, processed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarkOn[chunkID] {
		return errs.Transient("chunk.mark", errors.New("write failed"))
	}
	row, ok := s.rows[chunkID]
	if !ok {
		return errs.ErrNotFound
	}
	row.Processed = processed
	return nil
}

func (s *memChunkStore) Delete(_ context.Context, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, chunkID)
	return nil
}

func (s *memChunkStore) DeleteByDocument(_ context.Context, documentID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.DocumentID == documentID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memChunkStore) DeleteByTenant(_ context.Context, tenantID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.TenantID == tenantID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memChunkStore) CountByTenant(_ context.Context, tenantID int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, processed int64
	for _, row := range s.rows {
		if row.TenantID == tenantID {
			total++
			if row.Processed {
				processed++
			}
		}
	}
	return total, processed, nil
}

func (s *memChunkStore) TotalBytesByTenant(_ context.Context, tenantID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.TenantID == tenantID {
			n += row.SizeBytes
		}
	}
	return n, nil
}

// memDocumentRegistry is an in-memory DocumentRegistry.
type memDocumentRegistry struct {
	mu   sync.Mutex
	rows map[primitive.ObjectID]*models.KnowledgeDocument
}

func newMemDocumentRegistry() *memDocumentRegistry {
	return &memDocumentRegistry{rows: map[primitive.ObjectID]*models.KnowledgeDocument{}}
}

func (r *memDocumentRegistry) Create(_ context.Context, doc *models.KnowledgeDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.TenantID == doc.TenantID && row.OriginalName == doc.OriginalName {
			return fmt.Errorf("duplicate document name %q", doc.OriginalName)
		}
	}
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	cp := *doc
	r.rows[doc.ID] = &cp
	return nil
}

func (r *memDocumentRegistry) GetByName(_ context.Context, tenantID int64, name string) (*models.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.TenantID == tenantID && row.OriginalName == name {
			cp := *row
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *memDocumentRegistry) GetByID(_ context.Context, id primitive.ObjectID) (*models.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memDocumentRegistry) ListByTenant(_ context.Context, tenantID int64) ([]models.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.KnowledgeDocument
	for _, row := range r.rows {
		if row.TenantID == tenantID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *memDocumentRegistry) Finalize(_ context.Context, id primitive.ObjectID, chunkCount, processedChunks int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return errs.ErrNotFound
	}
	row.ChunkCount = chunkCount
	row.ProcessedChunks = processedChunks
	row.Processing = false
	return nil
}

func (r *memDocumentRegistry) AdjustCounts(_ context.Context, id primitive.ObjectID, chunkDelta, processedDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return errs.ErrNotFound
	}
	row.ChunkCount += chunkDelta
	row.ProcessedChunks += processedDelta
	return nil
}

func (r *memDocumentRegistry) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memDocumentRegistry) DeleteByTenant(_ context.Context, tenantID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, row := range r.rows {
		if row.TenantID == tenantID {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *memDocumentRegistry) CountByTenant(_ context.Context, tenantID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// memMarkers is an in-memory ReconcileMarkers.
type memMarkers struct {
	mu      sync.Mutex
	pending map[int64]bool
}

func newMemMarkers() *memMarkers {
	return &memMarkers{pending: map[int64]bool{}}
}

func (m *memMarkers) Mark(_ context.Context, tenantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[tenantID] = true
	return nil
}

func (m *memMarkers) Clear(_ context.Context, tenantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, tenantID)
	return nil
}

func (m *memMarkers) Pending(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for id := range m.pending {
		out = append(out, id)
	}
	return out, nil
}
