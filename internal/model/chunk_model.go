package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Chunk is a contiguous slice of extracted text with its embedding. Chunks
// are immutable once written; re-processing replaces the whole set for a
// document in one transaction.
type Chunk struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID uuid.UUID       `gorm:"type:uuid;index" json:"document_id"`
	SeqIndex   int             `json:"seq_index"` // contiguous, zero-based per document
	Content    string          `gorm:"type:text" json:"content"`
	CharStart  int             `json:"char_start"`
	CharEnd    int             `json:"char_end"`
	PageStart  int             `json:"page_start"`
	PageEnd    int             `json:"page_end"`
	Marker     string          `gorm:"type:varchar(20)" json:"marker,omitempty"` // image/code structural marker
	Embedding  pgvector.Vector `gorm:"type:vector(3072)" json:"-"` // pakai pgvector, unit length
	CreatedAt  time.Time       `json:"created_at"`
}

func (c *Chunk) TableName() string {
	return "chunks"
}
