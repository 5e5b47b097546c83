package rag

import "gopherai-legal/internal/model"

// Result is one retrieved chunk with its relevance score. A retrieval result is a
// slice of these in descending score order.
type Result struct {
	Chunk model.RAGChunk `json:"chunk"`
	Score float64        `json:"score"`
}
