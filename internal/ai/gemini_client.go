package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"edu-knowledge-platform/internal/config"
	"edu-knowledge-platform/internal/telemetry"
)

// FallbackAnswer is returned when the generation provider is unavailable.
const FallbackAnswer = "I can't reach the answer service right now. Please try again in a moment."

// Generator produces an answer grounded on retrieved context chunks.
type Generator interface {
	Generate(ctx context.Context, question string, contextChunks []string) (answer string, fallback bool, err error)
}

// GeminiClient wraps the Gemini generative model behind a circuit breaker and
// rate limiter. When the breaker is open it degrades to FallbackAnswer
// instead of failing the request.
type GeminiClient struct {
	client  *genai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewGeminiClient(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	limits := getRateLimits(cfg.GeminiTier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
			if metrics != nil {
				metrics.RecordCircuitBreakerState(name, to.String())
			}
		},
	})

	limiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10+1)

	return &GeminiClient{
		client:  client,
		model:   cfg.GenerationModel,
		breaker: breaker,
		limiter: limiter,
	}, nil
}

func (gc *GeminiClient) Generate(ctx context.Context, question string, contextChunks []string) (string, bool, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()

	span.SetAttributes(
		attribute.Int("gemini.context_chunks", len(contextChunks)),
		attribute.String("gemini.model", gc.model),
	)

	if err := gc.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return FallbackAnswer, true, nil
	}

	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.client.GenerativeModel(gc.model)
		model.SetTemperature(0.7)
		model.SetMaxOutputTokens(2048)

		resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(question, contextChunks)))
		if err != nil {
			return nil, err
		}
		return extractText(resp), nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		// Degrade to the fixed fallback; callers surface it as a normal answer.
		return FallbackAnswer, true, nil
	}

	answer := result.(string)
	if answer == "" {
		return FallbackAnswer, true, nil
	}

	span.SetAttributes(attribute.Bool("gemini.success", true))
	return answer, false, nil
}

func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}

func buildPrompt(question string, contextChunks []string) string {
	if len(contextChunks) == 0 {
		return question
	}
	contextStr := ""
	for i, chunk := range contextChunks {
		contextStr += fmt.Sprintf("Context %d:\n%s\n\n", i+1, chunk)
	}
	return fmt.Sprintf("Based on the following course material:\n\n%s\nAnswer this question: %s", contextStr, question)
}

func extractText(resp *genai.GenerateContentResponse) string {
	text := ""
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	return text
}
