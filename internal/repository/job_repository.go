package repository

import (
	"github.com/google/uuid"
	"github.com/pustakaid/pustaka-rag/internal/model"
	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db}
}

func (r *JobRepository) Create(job *model.ProcessingJob) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) Update(job *model.ProcessingJob) error {
	return r.db.Save(job).Error
}

func (r *JobRepository) FindByID(id string) (*model.ProcessingJob, error) {
	var j model.ProcessingJob
	err := r.db.First(&j, "id = ?", id).Error
	return &j, err
}

// FindPending returns every job in a non-terminal stage, oldest first. Used
// on startup to resume work that survived a restart.
func (r *JobRepository) FindPending() ([]model.ProcessingJob, error) {
	var jobs []model.ProcessingJob
	err := r.db.Where("stage NOT IN ?", []model.JobStage{model.StageCompleted, model.StageFailed}).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// List returns one page of jobs, newest first, optionally filtered by stage.
func (r *JobRepository) List(stage model.JobStage, page, pageSize int) ([]model.ProcessingJob, int64, error) {
	q := r.db.Model(&model.ProcessingJob{})
	if stage != "" {
		q = q.Where("stage = ?", stage)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []model.ProcessingJob
	err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error
	return jobs, total, err
}

// HasCompletedForDocument reports whether any job for the document reached
// COMPLETED. Used by the dedup check on re-submission.
func (r *JobRepository) HasCompletedForDocument(docID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.Model(&model.ProcessingJob{}).
		Where("document_id = ? AND stage = ?", docID, model.StageCompleted).
		Count(&n).Error
	return n > 0, err
}
