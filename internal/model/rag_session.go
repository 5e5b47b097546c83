package model

import "time"

// RAGSession is the ledger row for a live session. It is removed when the session is
// deleted or evicted.
type RAGSession struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionDocument describes one document merged into a session's index.
type SessionDocument struct {
	Name         string    `json:"name"`
	Format       string    `json:"format"`
	PageCount    int       `json:"page_count"`
	FirstChunkID int64     `json:"first_chunk_id"`
	ChunkCount   int       `json:"chunk_count"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// SessionSnapshot is the persisted form of a session: chunk metadata plus the
// serialised index. It is enough to resume a session without re-embedding.
type SessionSnapshot struct {
	SessionID      string            `json:"session_id"`
	CreatedAt      time.Time         `json:"created_at"`
	Generation     uint64            `json:"generation"`
	NextChunkID    int64             `json:"next_chunk_id"`
	EmbeddingModel string            `json:"embedding_model"`
	Dimension      int               `json:"dimension"`
	Documents      []SessionDocument `json:"documents"`
	Chunks         []RAGChunk        `json:"chunks"`
	Index          []byte            `json:"-"`
}
