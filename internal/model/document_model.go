package model

import (
	"time"

	"github.com/google/uuid"
)

// Document is the immutable source identity of an ingested file. The row is
// created at submission (the content hash is known up front); PageCount is
// filled in once extraction succeeds. Re-submitting identical bytes reuses
// the same row.
type Document struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Filename    string    `gorm:"type:varchar(512)" json:"filename"`
	ContentHash string    `gorm:"type:varchar(64);uniqueIndex" json:"content_hash"`
	Format      string    `gorm:"type:varchar(20)" json:"format"` // pdf, text, code
	PageCount   int       `json:"page_count"`
	Title       string    `gorm:"type:text" json:"title"`
	Authors     string    `gorm:"type:text" json:"authors"`
	DocType     string    `gorm:"type:varchar(50)" json:"doc_type"` // e.g. "book", "article"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d *Document) TableName() string {
	return "documents"
}
