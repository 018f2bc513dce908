package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	DocumentsIngested   metric.Int64Counter
	ChunksIndexed       metric.Int64Counter
	IngestDuration      metric.Float64Histogram
	SearchDuration      metric.Float64Histogram
	EmbeddingFailures   metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("edu-knowledge-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	documentsIngested, err := meter.Int64Counter(
		"knowledge.documents.ingested",
		metric.WithDescription("Total documents ingested"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"knowledge.chunks.indexed",
		metric.WithDescription("Total chunks embedded and indexed"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"knowledge.ingest.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"knowledge.search.duration",
		metric.WithDescription("Similarity search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	embeddingFailures, err := meter.Int64Counter(
		"knowledge.embedding.failures",
		metric.WithDescription("Embedding calls that failed"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		DocumentsIngested:   documentsIngested,
		ChunksIndexed:       chunksIndexed,
		IngestDuration:      ingestDuration,
		SearchDuration:      searchDuration,
		EmbeddingFailures:   embeddingFailures,
		CircuitBreakerState: circuitBreakerState,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordIngest records a completed document ingestion
func (m *Metrics) RecordIngest(tenantID int64, chunks int, duration float64, success bool) {
	attrs := []attribute.KeyValue{
		attribute.Int64("knowledge.tenant_id", tenantID),
		attribute.Bool("knowledge.success", success),
	}

	m.DocumentsIngested.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.ChunksIndexed.Add(context.Background(), int64(chunks), metric.WithAttributes(attrs...))
	m.IngestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordSearch records a similarity search
func (m *Metrics) RecordSearch(tenantID int64, hits int, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.Int64("knowledge.tenant_id", tenantID),
		attribute.Int("knowledge.hits", hits),
	}

	m.SearchDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordEmbeddingFailure records a failed embedding call
func (m *Metrics) RecordEmbeddingFailure(tenantID int64) {
	attrs := []attribute.KeyValue{
		attribute.Int64("knowledge.tenant_id", tenantID),
	}

	m.EmbeddingFailures.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
