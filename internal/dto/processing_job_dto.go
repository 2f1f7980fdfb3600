package dto

import (
	"time"

	"github.com/google/uuid"
)

type ProcessingJobDTO struct {
	ID           uuid.UUID  `json:"id"`
	DocumentID   uuid.UUID  `json:"document_id"`
	Stage        string     `json:"stage"` // e.g. "QUEUED", "EXTRACTING", "COMPLETED"
	Progress     int        `json:"progress"`
	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
