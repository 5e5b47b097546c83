package rag

import (
	"fmt"
	"sort"
	"strings"

	"gopherai-legal/internal/model"
)

const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 64
)

// ChunkConfig controls the sliding window. Sizes are in runes.
type ChunkConfig struct {
	Size    int
	Overlap int
}

// DefaultChunkConfig matches the defaults of the config package.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

func (c ChunkConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size %d must be positive", ErrInvalidChunkConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkConfig, c.Overlap, c.Size)
	}
	return nil
}

// joinPages concatenates the non-blank pages with a newline and returns the joined
// runes plus the rune offset where each kept page starts.
func joinPages(pages []model.Page) ([]rune, []pageSpan) {
	var (
		text  []rune
		spans []pageSpan
	)
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if len(text) > 0 {
			text = append(text, '\n')
		}
		spans = append(spans, pageSpan{number: p.Number, start: len(text)})
		text = append(text, []rune(p.Text)...)
	}
	return text, spans
}

type pageSpan struct {
	number int
	start  int
}

// pageAt returns the page whose span contains offset.
func pageAt(spans []pageSpan, offset int) int {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].start > offset })
	if i == 0 {
		return spans[0].number
	}
	return spans[i-1].number
}

// Chunk splits the pages of one document into overlapping windows. IDs are assigned
// sequentially from startID. The same input and config always yield the same chunks.
func Chunk(docName string, pages []model.Page, cfg ChunkConfig, startID int64) ([]model.RAGChunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	text, spans := joinPages(pages)
	if len(text) == 0 {
		return nil, nil
	}

	step := cfg.Size - cfg.Overlap
	var chunks []model.RAGChunk
	for start := 0; ; start += step {
		end := start + cfg.Size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, model.RAGChunk{
			ID:           startID + int64(len(chunks)),
			DocumentName: docName,
			Text:         string(text[start:end]),
			SourcePage:   pageAt(spans, start),
			CharOffset:   start,
			CharLength:   end - start,
		})
		if end == len(text) {
			break
		}
	}
	return chunks, nil
}

// Reconstruct reverses Chunk for the chunks of a single document: the first chunk is
// taken whole, every later one without its leading overlap.
func Reconstruct(chunks []model.RAGChunk, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		runes := []rune(c.Text)
		if i > 0 {
			runes = runes[overlap:]
		}
		b.WriteString(string(runes))
	}
	return b.String()
}
