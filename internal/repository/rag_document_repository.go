package repository

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-legal/internal/model"
)

type RAGDocumentRepository struct {
	db *gorm.DB
}

func NewRAGDocumentRepository(db *gorm.DB) *RAGDocumentRepository {
	return &RAGDocumentRepository{db: db}
}

func (r *RAGDocumentRepository) Create(doc *model.RAGDocument) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create rag document failed: %w", err)
	}
	return nil
}

// CreateIfSessionExists inserts doc only while its session row exists. The session
// row is share-locked for the insert, so a concurrent session delete either sees
// this row or makes the insert skip. It reports whether the row was written.
func (r *RAGDocumentRepository) CreateIfSessionExists(doc *model.RAGDocument) (bool, error) {
	created := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.RAGSession{}).
			Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id = ?", doc.SessionID).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("create rag document failed: %w", err)
	}
	return created, nil
}

// ListBySessionID returns a session's documents in ingest order.
func (r *RAGDocumentRepository) ListBySessionID(sessionID string) ([]model.RAGDocument, error) {
	var list []model.RAGDocument
	if err := r.db.Where("session_id = ?", sessionID).Order("first_chunk_id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list rag documents failed: %w", err)
	}
	return list, nil
}

func (r *RAGDocumentRepository) DeleteBySessionID(sessionID string) error {
	if err := r.db.Where("session_id = ?", sessionID).Delete(&model.RAGDocument{}).Error; err != nil {
		return fmt.Errorf("delete rag documents by session failed: %w", err)
	}
	return nil
}
