package session

import (
	"fmt"
	"slices"

	"gopherai-legal/internal/model"
	"gopherai-legal/internal/rag"
)

// State is an immutable view of a session's documents, chunks and index. Writers
// build a new State and swap it in; readers keep whichever State they loaded.
type State struct {
	Generation  uint64
	NextChunkID int64
	Chunks      []model.RAGChunk
	Documents   []model.SessionDocument
	Index       *rag.Index

	byID map[int64]int
}

func newState(gen uint64, next int64, chunks []model.RAGChunk, docs []model.SessionDocument, idx *rag.Index) *State {
	st := &State{
		Generation:  gen,
		NextChunkID: next,
		Chunks:      chunks,
		Documents:   docs,
		Index:       idx,
		byID:        make(map[int64]int, len(chunks)),
	}
	for i, c := range chunks {
		st.byID[c.ID] = i
	}
	return st
}

// Chunk returns the chunk with the given id.
func (st *State) Chunk(id int64) (model.RAGChunk, bool) {
	i, ok := st.byID[id]
	if !ok {
		return model.RAGChunk{}, false
	}
	return st.Chunks[i], true
}

func (st *State) snapshot(sess *Session, embeddingModel string) (*model.SessionSnapshot, error) {
	blob, err := st.Index.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &model.SessionSnapshot{
		SessionID:      sess.ID,
		CreatedAt:      sess.CreatedAt,
		Generation:     st.Generation,
		NextChunkID:    st.NextChunkID,
		EmbeddingModel: embeddingModel,
		Dimension:      st.Index.Dimension(),
		Documents:      slices.Clone(st.Documents),
		Chunks:         slices.Clone(st.Chunks),
		Index:          blob,
	}, nil
}

// stateFromSnapshot validates a persisted snapshot against its index.
func stateFromSnapshot(snap *model.SessionSnapshot) (*State, error) {
	idx, err := rag.Restore(snap.Index)
	if err != nil {
		return nil, err
	}
	if idx.Len() != len(snap.Chunks) {
		return nil, fmt.Errorf("%w: index has %d vectors for %d chunks", rag.ErrCorrupted, idx.Len(), len(snap.Chunks))
	}
	if snap.Dimension != 0 && idx.Dimension() != snap.Dimension {
		return nil, fmt.Errorf("%w: index has %d dimensions, metadata says %d", rag.ErrCorrupted, idx.Dimension(), snap.Dimension)
	}
	for _, c := range snap.Chunks {
		if !idx.Contains(c.ID) {
			return nil, fmt.Errorf("%w: chunk %d has no vector", rag.ErrCorrupted, c.ID)
		}
		if c.ID >= snap.NextChunkID {
			return nil, fmt.Errorf("%w: chunk %d is beyond the id watermark %d", rag.ErrCorrupted, c.ID, snap.NextChunkID)
		}
	}
	return newState(snap.Generation, snap.NextChunkID, snap.Chunks, snap.Documents, idx), nil
}
