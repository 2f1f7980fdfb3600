package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/pustakaid/pustaka-rag/internal/config"
	"github.com/pustakaid/pustaka-rag/internal/repository"
	"github.com/pustakaid/pustaka-rag/internal/service"
)

var ErrEmptyQuery = errors.New("query cannot be empty")

// RetrievalResult is the ranked context for one query. Found distinguishes
// "nothing above the confidence threshold" from "not yet queried": callers
// must never treat an empty result as an error.
type RetrievalResult struct {
	Found   bool                           `json:"found"`
	Query   string                         `json:"query"`
	Results []repository.ChunkSearchResult `json:"results"`
}

// RetrievalUsecase embeds a query and assembles ranked, source-attributed
// context from the vector store.
type RetrievalUsecase struct {
	chunks   ChunkStore
	embedder service.GeminiServiceInterface
	topK     int
	minScore float64
}

func NewRetrievalUsecase(chunks ChunkStore, embedder service.GeminiServiceInterface, cfg *config.PipelineConfig) *RetrievalUsecase {
	return &RetrievalUsecase{
		chunks:   chunks,
		embedder: embedder,
		topK:     cfg.TopK,
		minScore: cfg.MinScore,
	}
}

// Retrieve returns the top-k chunks above the similarity threshold. k <= 0
// falls back to the configured default. Queries are read-only and safe to
// run concurrently with ingestion; a document being ingested is simply not
// visible until its STORING stage commits.
func (uc *RetrievalUsecase) Retrieve(ctx context.Context, query string, k int) (*RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = uc.topK
	}

	embedding, err := uc.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := uc.chunks.Search(pgvector.NewVector(embedding), k, uc.minScore)
	if err != nil {
		return nil, err
	}

	return &RetrievalResult{
		Found:   len(results) > 0,
		Query:   query,
		Results: results,
	}, nil
}
