package model

// RAGChunk is one contiguous span of a document's extracted text, the unit of retrieval.
// Offsets and lengths count runes of the document's joined page text.
type RAGChunk struct {
	ID           int64  `json:"id"`
	DocumentName string `json:"document_name"`
	Text         string `json:"text"`
	SourcePage   int    `json:"source_page"`
	CharOffset   int    `json:"char_offset"`
	CharLength   int    `json:"char_length"`
}
