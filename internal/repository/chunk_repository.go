package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/pustakaid/pustaka-rag/internal/model"
	"gorm.io/gorm"
)

// ChunkSearchResult is one ranked retrieval hit with the document metadata
// needed for citation display.
type ChunkSearchResult struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	SeqIndex   int       `json:"seq_index"`
	Content    string    `json:"content"`
	PageStart  int       `json:"page_start"`
	PageEnd    int       `json:"page_end"`
	Score      float64   `json:"score"` // cosine similarity, 0..1
	Title      string    `json:"title"`
	Authors    string    `json:"authors"`
	DocType    string    `json:"doc_type"`
	Filename   string    `json:"filename"`
}

// ChunkMetrics aggregates stored chunk counts for the metrics endpoint.
type ChunkMetrics struct {
	TotalChunks  int64 `json:"total_chunks"`
	StorageBytes int64 `json:"storage_bytes"`
}

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db}
}

// ReplaceForDocument swaps the document's chunk set atomically: the old set
// is deleted and the new one inserted inside a single transaction, so a
// reader never observes a partial chunk set. The context carries the stage
// timeout.
func (r *ChunkRepository) ReplaceForDocument(ctx context.Context, docID uuid.UUID, chunks []model.Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error
	})
}

// DeleteByDocument removes the whole chunk set for a document. The document
// and job rows are retained for audit.
func (r *ChunkRepository) DeleteByDocument(docID uuid.UUID) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Where("document_id = ?", docID).Delete(&model.Chunk{}).Error
	})
}

// Search runs a thresholded cosine similarity query. Embeddings are unit
// length, so similarity = 1 - cosine distance (pgvector <=> operator).
// Equal scores tie-break on (document_id, seq_index) so repeated identical
// queries return results in the same order.
func (r *ChunkRepository) Search(embedding pgvector.Vector, topK int, minScore float64) ([]ChunkSearchResult, error) {
	var results []ChunkSearchResult
	err := r.db.Raw(`
        SELECT c.id AS chunk_id, c.document_id, c.seq_index, c.content,
               c.page_start, c.page_end,
               1 - (c.embedding <=> ?) AS score,
               d.title, d.authors, d.doc_type, d.filename
        FROM chunks c
        JOIN documents d ON d.id = c.document_id
        WHERE 1 - (c.embedding <=> ?) >= ?
        ORDER BY c.embedding <=> ? ASC, c.document_id ASC, c.seq_index ASC
        LIMIT ?
    `, embedding, embedding, minScore, embedding, topK).Scan(&results).Error

	return results, err
}

func (r *ChunkRepository) CountByDocument(docID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.Model(&model.Chunk{}).Where("document_id = ?", docID).Count(&n).Error
	return n, err
}

func (r *ChunkRepository) Metrics() (*ChunkMetrics, error) {
	var m ChunkMetrics
	err := r.db.Raw(`
        SELECT COUNT(*) AS total_chunks,
               COALESCE(SUM(LENGTH(content)), 0) AS storage_bytes
        FROM chunks
    `).Scan(&m).Error
	return &m, err
}
