package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStage is the state of a ProcessingJob. A job never moves backward except
// FAILED -> QUEUED on an explicit operator retry.
type JobStage string

const (
	StageQueued     JobStage = "QUEUED"
	StageExtracting JobStage = "EXTRACTING"
	StageChunking   JobStage = "CHUNKING"
	StageEmbedding  JobStage = "EMBEDDING"
	StageStoring    JobStage = "STORING"
	StageCompleted  JobStage = "COMPLETED"
	StageFailed     JobStage = "FAILED"
)

// Terminal reports whether the stage is a terminal state.
func (s JobStage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Valid reports whether s is a known stage value (used for list filtering).
func (s JobStage) Valid() bool {
	switch s {
	case StageQueued, StageExtracting, StageChunking, StageEmbedding,
		StageStoring, StageCompleted, StageFailed:
		return true
	}
	return false
}

// ProcessingJob tracks one ingestion attempt for a document. Rows are only
// mutated by the orchestrator and are retained after completion for audit.
type ProcessingJob struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID   uuid.UUID  `gorm:"type:uuid;index" json:"document_id"`
	SourcePath   string     `gorm:"type:varchar(1024)" json:"-"`
	Stage        JobStage   `gorm:"type:varchar(20);index" json:"stage"`
	Progress     int        `json:"progress"` // 0-100, each stage contributes 25
	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	WebhookURL   string     `gorm:"type:varchar(1024)" json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

func (j *ProcessingJob) TableName() string {
	return "processing_jobs"
}
