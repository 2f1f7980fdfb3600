package repository

import (
	"errors"

	"github.com/pustakaid/pustaka-rag/internal/model"
	"gorm.io/gorm"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

func (r *DocumentRepository) Update(doc *model.Document) error {
	return r.db.Save(doc).Error
}

func (r *DocumentRepository) FindByID(id string) (*model.Document, error) {
	var d model.Document
	err := r.db.First(&d, "id = ?", id).Error
	return &d, err
}

// FindByHash returns (nil, nil) when no document has the given content hash.
func (r *DocumentRepository) FindByHash(hash string) (*model.Document, error) {
	var d model.Document
	err := r.db.First(&d, "content_hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocumentRepository) List() ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (r *DocumentRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&model.Document{}).Count(&n).Error
	return n, err
}
