package model

import "time"

// RAGDocument is the ledger row written for every document ingested into a session.
type RAGDocument struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SessionID    string    `gorm:"size:64;not null;index" json:"session_id"`
	Name         string    `gorm:"size:256;not null" json:"name"`
	Format       string    `gorm:"size:8;not null" json:"format"`
	FirstChunkID int64     `gorm:"not null" json:"first_chunk_id"`
	ChunkCount   int       `gorm:"not null" json:"chunk_count"`
	PageCount    int       `gorm:"not null" json:"page_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// IngestEvent is published after a successful ingest and consumed by the ledger worker.
type IngestEvent struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Format       string    `json:"format"`
	FirstChunkID int64     `json:"first_chunk_id"`
	ChunkCount   int       `json:"chunk_count"`
	PageCount    int       `json:"page_count"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// Document converts the event into its ledger row.
func (e IngestEvent) Document() RAGDocument {
	return RAGDocument{
		SessionID:    e.SessionID,
		Name:         e.Name,
		Format:       e.Format,
		FirstChunkID: e.FirstChunkID,
		ChunkCount:   e.ChunkCount,
		PageCount:    e.PageCount,
		CreatedAt:    e.IngestedAt,
	}
}
