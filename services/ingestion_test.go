package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"edu-knowledge-platform/internal/telemetry"
	"edu-knowledge-platform/internal/vectorindex"
	"edu-knowledge-platform/models"
)

func newTestPipeline(embedder *fakeEmbedder) (*Pipeline, *vectorindex.Memory, *memChunkStore, *memDocumentRegistry) {
	index := vectorindex.NewMemory()
	chunks := newMemChunkStore()
	documents := newMemDocumentRegistry()
	pipeline := NewPipeline(
		NewSegmenter(200, 20, 50),
		NewTextExtractor(),
		embedder,
		index,
		chunks,
		documents,
		nil,
		2,
	)
	return pipeline, index, chunks, documents
}

func textFile(name, text string) models.IngestFile {
	return models.IngestFile{Name: name, ContentType: "text/plain", Content: []byte(text)}
}

// loremParagraphs builds n paragraphs with distinct text so every segment the
// pipeline produces is unique, letting tests target a single segment by text.
func loremParagraphs(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Lesson %d reviews cellular respiration and energy transfer in cells. ", i+1)
		fmt.Fprintf(&b, "Mitochondria convert glucose into usable energy during stage %d.", i+1)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestIngestHappyPath(t *testing.T) {
	embedder := newFakeEmbedder()
	pipeline, index, chunks, documents := newTestPipeline(embedder)

	result, err := pipeline.Ingest(context.Background(), 7, textFile("bio.txt", loremParagraphs(6)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got message %q", result.Message)
	}
	if result.ChunkCount == 0 || result.ProcessedCount != result.ChunkCount {
		t.Fatalf("counts: processed %d of %d", result.ProcessedCount, result.ChunkCount)
	}
	if index.Len() != result.ChunkCount {
		t.Errorf("index has %d vectors, want %d", index.Len(), result.ChunkCount)
	}

	total, processed, _ := chunks.CountByTenant(context.Background(), 7)
	if total != int64(result.ChunkCount) || processed != total {
		t.Errorf("store has %d/%d chunks", processed, total)
	}

	doc, err := documents.GetByName(context.Background(), 7, "bio.txt")
	if err != nil {
		t.Fatalf("document not registered: %v", err)
	}
	if doc.Processing {
		t.Error("document still marked processing after ingest")
	}
	if doc.ChunkCount != result.ChunkCount {
		t.Errorf("document chunk count %d, want %d", doc.ChunkCount, result.ChunkCount)
	}
}

func TestIngestEmptyFileReportsFailureNotError(t *testing.T) {
	pipeline, _, _, documents := newTestPipeline(newFakeEmbedder())

	result, err := pipeline.Ingest(context.Background(), 7, textFile("empty.txt", "   \n\n  "))
	if err != nil {
		t.Fatalf("empty file must not be a hard error: %v", err)
	}
	if result.Success {
		t.Fatal("empty file reported as success")
	}
	if result.Message != "no content extracted" {
		t.Errorf("message = %q", result.Message)
	}
	if n, _ := documents.CountByTenant(context.Background(), 7); n != 0 {
		t.Errorf("empty file registered %d documents", n)
	}
}

func TestIngestPartialEmbeddingFailure(t *testing.T) {
	embedder := newFakeEmbedder()
	pipeline, index, chunks, _ := newTestPipeline(embedder)

	// Ingest once to learn the segment texts, then fail one of them.
	probe := NewSegmenter(200, 20, 50).Segment(loremParagraphs(6))
	if len(probe) < 2 {
		t.Fatal("need multiple segments for this test")
	}
	embedder.failOn[probe[1].Text] = true

	result, err := pipeline.Ingest(context.Background(), 7, textFile("bio.txt", loremParagraphs(6)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !result.Success {
		t.Fatal("partial embedding failure must still report success")
	}
	if result.ProcessedCount != result.ChunkCount-1 {
		t.Errorf("processed %d, want %d", result.ProcessedCount, result.ChunkCount-1)
	}

	// The failed chunk row survives unprocessed.
	total, processed, _ := chunks.CountByTenant(context.Background(), 7)
	if total != int64(result.ChunkCount) {
		t.Errorf("store kept %d rows, want %d", total, result.ChunkCount)
	}
	if processed != total-1 {
		t.Errorf("processed rows %d, want %d", processed, total-1)
	}
	if index.Len() != result.ChunkCount-1 {
		t.Errorf("index has %d vectors, want %d", index.Len(), result.ChunkCount-1)
	}
}

func TestIngestRowInsertFailureRollsBackVector(t *testing.T) {
	embedder := newFakeEmbedder()
	pipeline, index, chunks, _ := newTestPipeline(embedder)

	probe := NewSegmenter(200, 20, 50).Segment(loremParagraphs(6))
	if len(probe) < 2 {
		t.Fatal("need multiple segments for this test")
	}
	chunks.failInsertOn[probe[0].Text] = true

	result, err := pipeline.Ingest(context.Background(), 7, textFile("bio.txt", loremParagraphs(6)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.ProcessedCount != result.ChunkCount-1 {
		t.Errorf("processed %d, want %d", result.ProcessedCount, result.ChunkCount-1)
	}
	// The orphaned vector was rolled back.
	if index.Len() != result.ChunkCount-1 {
		t.Errorf("index has %d vectors after rollback, want %d", index.Len(), result.ChunkCount-1)
	}
}

func TestIngestReplacesDocumentWithSameName(t *testing.T) {
	embedder := newFakeEmbedder()
	pipeline, index, chunks, documents := newTestPipeline(embedder)
	ctx := context.Background()

	first, err := pipeline.Ingest(ctx, 7, textFile("notes.txt", loremParagraphs(6)))
	if err != nil || !first.Success {
		t.Fatalf("first ingest failed: %v %+v", err, first)
	}

	second, err := pipeline.Ingest(ctx, 7, textFile("notes.txt", loremParagraphs(3)))
	if err != nil || !second.Success {
		t.Fatalf("replacing ingest failed: %v %+v", err, second)
	}

	if n, _ := documents.CountByTenant(ctx, 7); n != 1 {
		t.Errorf("tenant has %d documents after replace, want 1", n)
	}
	total, _, _ := chunks.CountByTenant(ctx, 7)
	if total != int64(second.ChunkCount) {
		t.Errorf("store has %d chunks after replace, want %d", total, second.ChunkCount)
	}
	if index.Len() != second.ChunkCount {
		t.Errorf("index has %d vectors after replace, want %d", index.Len(), second.ChunkCount)
	}
	if first.DocumentID == second.DocumentID {
		t.Error("replace reused old document id")
	}
}

func TestIngestBatchIndependentFailures(t *testing.T) {
	pipeline, _, _, _ := newTestPipeline(newFakeEmbedder())

	files := []models.IngestFile{
		textFile("a.txt", loremParagraphs(4)),
		textFile("empty.txt", ""),
		textFile("b.txt", loremParagraphs(4)),
	}
	batch, err := pipeline.IngestBatch(context.Background(), 7, files)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if batch.TotalCount != 3 || batch.SuccessCount != 2 || batch.FailCount != 1 {
		t.Fatalf("batch counts: %+v", batch)
	}
	if len(batch.PerFile) != 3 {
		t.Fatalf("per-file results: %d", len(batch.PerFile))
	}
	if batch.PerFile[1].Success {
		t.Error("empty file counted as success in batch")
	}
	if !batch.PerFile[0].Success || !batch.PerFile[2].Success {
		t.Error("good files affected by the failed one")
	}
}

func TestIngestRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}

	embedder := newFakeEmbedder()
	pipeline := NewPipeline(
		NewSegmenter(200, 20, 50),
		NewTextExtractor(),
		embedder,
		vectorindex.NewMemory(),
		newMemChunkStore(),
		newMemDocumentRegistry(),
		metrics,
		2,
	)

	if _, err := pipeline.Ingest(context.Background(), 7, textFile("bio.txt", loremParagraphs(3))); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	recorded := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			recorded[m.Name] = true
		}
	}
	for _, want := range []string{"knowledge.documents.ingested", "knowledge.chunks.indexed", "knowledge.ingest.duration"} {
		if !recorded[want] {
			t.Errorf("ingest did not record %s", want)
		}
	}
}

func TestReprocessUnprocessed(t *testing.T) {
	embedder := newFakeEmbedder()
	pipeline, index, chunks, documents := newTestPipeline(embedder)
	ctx := context.Background()

	probe := NewSegmenter(200, 20, 50).Segment(loremParagraphs(6))
	embedder.failOn[probe[0].Text] = true

	result, _ := pipeline.Ingest(ctx, 7, textFile("bio.txt", loremParagraphs(6)))
	if result.ProcessedCount == result.ChunkCount {
		t.Fatal("expected one unprocessed chunk")
	}

	// Provider recovers.
	embedder.failOn = map[string]bool{}

	repaired, err := pipeline.ReprocessUnprocessed(ctx, 7)
	if err != nil {
		t.Fatalf("ReprocessUnprocessed: %v", err)
	}
	if repaired != 1 {
		t.Errorf("repaired %d chunks, want 1", repaired)
	}
	_, processed, _ := chunks.CountByTenant(ctx, 7)
	if processed != int64(result.ChunkCount) {
		t.Errorf("processed rows %d, want %d", processed, result.ChunkCount)
	}
	if index.Len() != result.ChunkCount {
		t.Errorf("index has %d vectors, want %d", index.Len(), result.ChunkCount)
	}

	// The repair shows up in the document's counters too.
	doc, err := documents.GetByName(ctx, 7, "bio.txt")
	if err != nil {
		t.Fatal(err)
	}
	if doc.ProcessedChunks != result.ChunkCount {
		t.Errorf("document processed counter %d, want %d", doc.ProcessedChunks, result.ChunkCount)
	}
}

func TestReprocessMarkFailureRollsBackVector(t *testing.T) {
	embedder := newFakeEmbedder()
	pipeline, index, chunks, _ := newTestPipeline(embedder)
	ctx := context.Background()

	probe := NewSegmenter(200, 20, 50).Segment(loremParagraphs(6))
	embedder.failOn[probe[0].Text] = true

	result, _ := pipeline.Ingest(ctx, 7, textFile("bio.txt", loremParagraphs(6)))
	if result.ProcessedCount != result.ChunkCount-1 {
		t.Fatalf("expected one unprocessed chunk, got %d of %d", result.ProcessedCount, result.ChunkCount)
	}

	// Find the stranded row and make its mark step fail.
	rows, _ := chunks.ListByTenant(ctx, 7, 0, 0)
	var stranded string
	for _, row := range rows {
		if !row.Processed {
			stranded = row.ChunkID
		}
	}
	if stranded == "" {
		t.Fatal("no unprocessed row found")
	}
	embedder.failOn = map[string]bool{}
	chunks.failMarkOn[stranded] = true

	repaired, err := pipeline.ReprocessUnprocessed(ctx, 7)
	if err != nil {
		t.Fatalf("ReprocessUnprocessed: %v", err)
	}
	if repaired != 0 {
		t.Errorf("repaired %d chunks despite mark failure", repaired)
	}
	// The vector written before the failed mark was rolled back, so the row
	// and index still agree.
	if index.Has(stranded) {
		t.Error("vector left behind for a chunk still marked unprocessed")
	}
	if index.Len() != result.ProcessedCount {
		t.Errorf("index has %d vectors, want %d", index.Len(), result.ProcessedCount)
	}
}
