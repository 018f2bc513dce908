package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"edu-knowledge-platform/internal/errs"
	"edu-knowledge-platform/internal/vectorindex"
	"edu-knowledge-platform/models"
)

func newTestLifecycle() (*Lifecycle, *vectorindex.Memory, *memChunkStore, *memDocumentRegistry, *memMarkers) {
	index := vectorindex.NewMemory()
	chunks := newMemChunkStore()
	documents := newMemDocumentRegistry()
	markers := newMemMarkers()
	lifecycle := NewLifecycle(newFakeEmbedder(), index, chunks, documents, markers)
	return lifecycle, index, chunks, documents, markers
}

func TestStatsAndHealth(t *testing.T) {
	lifecycle, index, chunks, documents, _ := newTestLifecycle()
	ctx := context.Background()

	health, err := lifecycle.Health(ctx, 7)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != models.HealthUninitialized {
		t.Errorf("empty tenant status = %q", health.Status)
	}

	doc := &models.KnowledgeDocument{TenantID: 7, OriginalName: "a.txt", ChunkCount: 2, ProcessedChunks: 1}
	if err := documents.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	seedChunk(t, index, chunks, "c1", 7, "a.txt", 0, []float32{1, 0, 0, 0}, "first")
	if err := chunks.Insert(ctx, &models.KnowledgeChunk{ChunkID: "c2", TenantID: 7, DocumentName: "a.txt", Ordinal: 1, Content: "second", Processed: false}); err != nil {
		t.Fatal(err)
	}

	stats, err := lifecycle.Stats(ctx, 7)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 1 || stats.TotalChunks != 2 || stats.ProcessedChunks != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalBytes != int64(len("first")+len("second")) {
		t.Errorf("total bytes = %d", stats.TotalBytes)
	}

	health, err = lifecycle.Health(ctx, 7)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != models.HealthPartial {
		t.Errorf("partially processed tenant status = %q", health.Status)
	}

	if err := chunks.MarkProcessed(ctx, "c2", true); err != nil {
		t.Fatal(err)
	}
	health, _ = lifecycle.Health(ctx, 7)
	if health.Status != models.HealthHealthy {
		t.Errorf("fully processed tenant status = %q", health.Status)
	}
}

func TestUpdateChunkReembedsAndRefreshesVector(t *testing.T) {
	lifecycle, index, chunks, _, _ := newTestLifecycle()
	ctx := context.Background()

	seedChunk(t, index, chunks, "c1", 7, "a.txt", 0, []float32{1, 0, 0, 0}, "old content")

	if err := lifecycle.UpdateChunk(ctx, "c1", "new content entirely"); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}

	row, err := chunks.GetByChunkID(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Content != "new content entirely" {
		t.Errorf("content = %q", row.Content)
	}
	if !row.Processed {
		t.Error("updated chunk not marked processed")
	}
	if index.Len() != 1 || !index.Has("c1") {
		t.Error("vector missing after update")
	}
}

func TestUpdateMissingChunkReturnsNotFound(t *testing.T) {
	lifecycle, _, _, _, _ := newTestLifecycle()

	err := lifecycle.UpdateChunk(context.Background(), "ghost", "content")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDeleteChunkIdempotent(t *testing.T) {
	lifecycle, index, chunks, _, _ := newTestLifecycle()
	ctx := context.Background()

	seedChunk(t, index, chunks, "c1", 7, "a.txt", 0, []float32{1, 0, 0, 0}, "content")

	if err := lifecycle.DeleteChunk(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChunk: %v", err)
	}
	if index.Has("c1") {
		t.Error("vector survived delete")
	}
	if _, err := chunks.GetByChunkID(ctx, "c1"); !errors.Is(err, errs.ErrNotFound) {
		t.Error("row survived delete")
	}

	// Deleting again is a no-op, not an error.
	if err := lifecycle.DeleteChunk(ctx, "c1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if err := lifecycle.DeleteChunk(ctx, "never-existed"); err != nil {
		t.Fatalf("deleting unknown chunk: %v", err)
	}
}

func TestDeleteChunkRecountsDocument(t *testing.T) {
	lifecycle, index, chunks, documents, _ := newTestLifecycle()
	ctx := context.Background()

	doc := &models.KnowledgeDocument{TenantID: 7, OriginalName: "a.txt", ChunkCount: 3, ProcessedChunks: 2}
	if err := documents.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	for i, spec := range []struct {
		id        string
		processed bool
	}{
		{"c1", true}, {"c2", true}, {"c3", false},
	} {
		if err := chunks.Insert(ctx, &models.KnowledgeChunk{
			ChunkID: spec.id, TenantID: 7, DocumentID: doc.ID, DocumentName: "a.txt",
			Ordinal: i, Content: "content", Processed: spec.processed,
		}); err != nil {
			t.Fatal(err)
		}
		if spec.processed {
			if err := index.Upsert(ctx, vectorindex.Entry{ChunkID: spec.id, TenantID: 7, Vector: []float32{1, 0, 0, 0}}); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := lifecycle.DeleteChunk(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChunk processed: %v", err)
	}
	got, err := documents.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ChunkCount != 2 || got.ProcessedChunks != 1 {
		t.Errorf("after deleting processed chunk: count=%d processed=%d, want 2/1", got.ChunkCount, got.ProcessedChunks)
	}

	if err := lifecycle.DeleteChunk(ctx, "c3"); err != nil {
		t.Fatalf("DeleteChunk unprocessed: %v", err)
	}
	got, _ = documents.GetByID(ctx, doc.ID)
	if got.ChunkCount != 1 || got.ProcessedChunks != 1 {
		t.Errorf("after deleting unprocessed chunk: count=%d processed=%d, want 1/1", got.ChunkCount, got.ProcessedChunks)
	}

	// The counter must always equal the surviving rows.
	total, _, _ := chunks.CountByTenant(ctx, 7)
	if int64(got.ChunkCount) != total {
		t.Errorf("document counts %d chunks but %d rows remain", got.ChunkCount, total)
	}
}

func TestUpdateChunkBumpsProcessedCounter(t *testing.T) {
	lifecycle, _, chunks, documents, _ := newTestLifecycle()
	ctx := context.Background()

	doc := &models.KnowledgeDocument{TenantID: 7, OriginalName: "a.txt", ChunkCount: 2, ProcessedChunks: 1}
	if err := documents.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := chunks.Insert(ctx, &models.KnowledgeChunk{
		ChunkID: "c2", TenantID: 7, DocumentID: doc.ID, DocumentName: "a.txt",
		Ordinal: 1, Content: "stranded", Processed: false,
	}); err != nil {
		t.Fatal(err)
	}

	if err := lifecycle.UpdateChunk(ctx, "c2", "repaired content"); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}

	got, err := documents.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessedChunks != 2 {
		t.Errorf("processed counter = %d, want 2", got.ProcessedChunks)
	}

	// Updating an already-processed chunk leaves the counter alone.
	if err := lifecycle.UpdateChunk(ctx, "c2", "revised again"); err != nil {
		t.Fatalf("second UpdateChunk: %v", err)
	}
	got, _ = documents.GetByID(ctx, doc.ID)
	if got.ProcessedChunks != 2 {
		t.Errorf("counter drifted to %d after repeat update", got.ProcessedChunks)
	}
}

func TestReimportRebuildsVectors(t *testing.T) {
	lifecycle, index, chunks, _, _ := newTestLifecycle()
	ctx := context.Background()

	// Rows survived an index loss: processed chunks without vectors.
	for i, spec := range []struct {
		id        string
		processed bool
	}{
		{"c1", true}, {"c2", true}, {"c3", false},
	} {
		if err := chunks.Insert(ctx, &models.KnowledgeChunk{
			ChunkID: spec.id, TenantID: 7, DocumentName: "a.txt",
			Ordinal: i, Content: "chunk " + spec.id, Processed: spec.processed,
		}); err != nil {
			t.Fatal(err)
		}
	}

	reimported, err := lifecycle.Reimport(ctx, 7)
	if err != nil {
		t.Fatalf("Reimport: %v", err)
	}
	if reimported != 2 {
		t.Errorf("reimported %d chunks, want 2", reimported)
	}
	if !index.Has("c1") || !index.Has("c2") {
		t.Error("processed chunks missing from rebuilt index")
	}
	if index.Has("c3") {
		t.Error("unprocessed chunk reimported; it belongs to reprocess")
	}
}

func TestConcurrentUpdateDeleteSameChunk(t *testing.T) {
	lifecycle, index, chunks, _, _ := newTestLifecycle()
	ctx := context.Background()

	seedChunk(t, index, chunks, "c1", 7, "a.txt", 0, []float32{1, 0, 0, 0}, "content")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = lifecycle.UpdateChunk(ctx, "c1", "updated")
	}()
	go func() {
		defer wg.Done()
		_ = lifecycle.DeleteChunk(ctx, "c1")
	}()
	wg.Wait()

	// Either order is fine, but row and vector must agree.
	_, rowErr := chunks.GetByChunkID(ctx, "c1")
	rowExists := rowErr == nil
	if rowExists != index.Has("c1") {
		t.Fatalf("row exists=%v but vector exists=%v", rowExists, index.Has("c1"))
	}
}

func TestDeleteTenantKnowledgeCascades(t *testing.T) {
	lifecycle, index, chunks, documents, markers := newTestLifecycle()
	ctx := context.Background()

	if err := documents.Create(ctx, &models.KnowledgeDocument{TenantID: 7, OriginalName: "a.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := documents.Create(ctx, &models.KnowledgeDocument{TenantID: 9, OriginalName: "b.txt"}); err != nil {
		t.Fatal(err)
	}
	seedChunk(t, index, chunks, "c1", 7, "a.txt", 0, []float32{1, 0, 0, 0}, "x")
	seedChunk(t, index, chunks, "c2", 7, "a.txt", 1, []float32{0, 1, 0, 0}, "y")
	seedChunk(t, index, chunks, "c3", 9, "b.txt", 0, []float32{0, 0, 1, 0}, "z")

	if err := lifecycle.DeleteTenantKnowledge(ctx, 7); err != nil {
		t.Fatalf("DeleteTenantKnowledge: %v", err)
	}

	if n, _ := documents.CountByTenant(ctx, 7); n != 0 {
		t.Error("documents survived cascade")
	}
	if total, _, _ := chunks.CountByTenant(ctx, 7); total != 0 {
		t.Error("chunks survived cascade")
	}
	if index.Has("c1") || index.Has("c2") {
		t.Error("vectors survived cascade")
	}

	// Other tenant untouched.
	if n, _ := documents.CountByTenant(ctx, 9); n != 1 {
		t.Error("cascade leaked into other tenant's documents")
	}
	if !index.Has("c3") {
		t.Error("cascade leaked into other tenant's vectors")
	}

	// Completed cascade clears its marker.
	pending, _ := markers.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("markers still pending: %v", pending)
	}
}

func TestReconcileFinishesInterruptedDelete(t *testing.T) {
	lifecycle, index, chunks, documents, markers := newTestLifecycle()
	ctx := context.Background()

	// Simulate a crash mid-cascade: marker set, data still present.
	if err := documents.Create(ctx, &models.KnowledgeDocument{TenantID: 7, OriginalName: "a.txt"}); err != nil {
		t.Fatal(err)
	}
	seedChunk(t, index, chunks, "c1", 7, "a.txt", 0, []float32{1, 0, 0, 0}, "x")
	if err := markers.Mark(ctx, 7); err != nil {
		t.Fatal(err)
	}

	if err := lifecycle.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if n, _ := documents.CountByTenant(ctx, 7); n != 0 {
		t.Error("reconcile left documents behind")
	}
	if index.Has("c1") {
		t.Error("reconcile left vectors behind")
	}
	pending, _ := markers.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("marker not cleared: %v", pending)
	}
}
