package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pustakaid/pustaka-rag/internal/config"
	"google.golang.org/genai"
)

// GeminiServiceInterface is the embedder contract used by the pipeline.
// Failures surface to the caller; the orchestrator owns retry policy.
type GeminiServiceInterface interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type GeminiService struct {
	Client         *genai.Client
	Model          string
	RequestTimeout time.Duration
}

const maxEmbeddingInput = 10000

func NewGeminiService(ctx context.Context) (*GeminiService, error) {
	geminiConfig := config.LoadGeminiConfig()
	apiKey := geminiConfig.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiService{
		Client:         client,
		Model:          "gemini-embedding-001",
		RequestTimeout: 90 * time.Second,
	}, nil
}

func (s *GeminiService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.GenerateEmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddingBatch embeds every text in one request where the model
// allows it. The result is order-aligned with the input and each vector is
// normalized to unit length so cosine similarity reduces to a dot product.
func (s *GeminiService) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	contents := make([]*genai.Content, 0, len(texts))
	for i, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, fmt.Errorf("text %d for embedding cannot be empty", i)
		}
		if len(trimmed) > maxEmbeddingInput {
			log.Printf("Warning: text length %d exceeds recommended limit, truncating...", len(trimmed))
			trimmed = truncateForEmbedding(trimmed)
		}
		contents = append(contents, genai.NewContentFromText(trimmed, genai.RoleUser))
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancel()

	result, err := s.Client.Models.EmbedContent(timeoutCtx, s.Model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate embedding failed: %w", err)
	}

	return validateEmbeddingResponse(result, len(texts))
}

// truncateForEmbedding cuts s down to maxEmbeddingInput bytes, backing off to
// a rune boundary so the result is still valid UTF-8.
func truncateForEmbedding(s string) string {
	if len(s) <= maxEmbeddingInput {
		return s
	}
	cut := maxEmbeddingInput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func validateEmbeddingResponse(resp *genai.EmbedContentResponse, want int) ([][]float32, error) {
	if resp == nil {
		return nil, fmt.Errorf("response is nil")
	}
	if len(resp.Embeddings) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(resp.Embeddings))
	}

	vectors := make([][]float32, 0, want)
	for n, emb := range resp.Embeddings {
		values := emb.Values
		if len(values) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", n)
		}
		for i, val := range values {
			if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
				return nil, fmt.Errorf("invalid embedding value at index %d: %v", i, val)
			}
		}
		vectors = append(vectors, NormalizeVector(values))
	}
	return vectors, nil
}

// NormalizeVector scales v to unit length. A zero vector is returned as-is.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
