package repository

import (
	"fmt"

	"gorm.io/gorm"

	"gopherai-legal/internal/model"
)

type RAGSessionRepository struct {
	db *gorm.DB
}

func NewRAGSessionRepository(db *gorm.DB) *RAGSessionRepository {
	return &RAGSessionRepository{db: db}
}

func (r *RAGSessionRepository) Create(session *model.RAGSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create rag session failed: %w", err)
	}
	return nil
}

func (r *RAGSessionRepository) DeleteByID(id string) error {
	if err := r.db.Where("id = ?", id).Delete(&model.RAGSession{}).Error; err != nil {
		return fmt.Errorf("delete rag session failed: %w", err)
	}
	return nil
}
