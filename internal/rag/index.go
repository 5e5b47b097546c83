package rag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"slices"
)

// Entry pairs a chunk id with its embedding.
type Entry struct {
	ChunkID int64
	Vector  []float32
}

// Hit is one search result. Score is the cosine similarity in [-1, 1].
type Hit struct {
	ChunkID int64
	Score   float64
}

// Index is an immutable exact nearest-neighbour index over unit vectors.
// Session indexes hold hundreds of chunks, so a flat scan is fast enough and
// is trivially consistent with a rebuild from scratch.
type Index struct {
	dim     int
	ids     []int64
	vectors [][]float32
}

// Build normalises every vector and returns a fresh index.
func Build(entries []Entry) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyIndex
	}
	dim := len(entries[0].Vector)
	if dim == 0 {
		return nil, fmt.Errorf("%w: chunk %d has an empty vector", ErrDimensionMismatch, entries[0].ChunkID)
	}

	idx := &Index{
		dim:     dim,
		ids:     make([]int64, 0, len(entries)),
		vectors: make([][]float32, 0, len(entries)),
	}
	seen := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, index has %d",
				ErrDimensionMismatch, e.ChunkID, len(e.Vector), dim)
		}
		if _, dup := seen[e.ChunkID]; dup {
			return nil, fmt.Errorf("%w: duplicate chunk id %d", ErrInvalidInput, e.ChunkID)
		}
		seen[e.ChunkID] = struct{}{}
		idx.ids = append(idx.ids, e.ChunkID)
		idx.vectors = append(idx.vectors, normalize(e.Vector))
	}
	return idx, nil
}

func (ix *Index) Len() int       { return len(ix.ids) }
func (ix *Index) Dimension() int { return ix.dim }

// Entries returns a copy of the stored (normalised) vectors, used to rebuild the
// index with more chunks.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, len(ix.ids))
	for i := range ix.ids {
		out[i] = Entry{ChunkID: ix.ids[i], Vector: slices.Clone(ix.vectors[i])}
	}
	return out
}

// Contains reports whether id has a vector in the index.
func (ix *Index) Contains(id int64) bool {
	return slices.Contains(ix.ids, id)
}

// Search returns up to k hits by descending cosine similarity; equal scores are
// ordered by ascending chunk id.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), ix.dim)
	}

	q := normalize(query)
	hits := make([]Hit, len(ix.ids))
	for i, v := range ix.vectors {
		hits[i] = Hit{ChunkID: ix.ids[i], Score: dot(q, v)}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.ChunkID < b.ChunkID:
			return -1
		case a.ChunkID > b.ChunkID:
			return 1
		}
		return 0
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns a unit-length copy of v; the zero vector stays zero and vectors
// that are already unit length are copied unchanged, so rebuilding from Entries is exact.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	if math.Abs(sum-1) < 1e-6 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// Binary layout, little endian:
//
//	magic "LGIX" | version u16 | dim u32 | count u32 | count × (id i64, dim × f32) | crc32 u32
var indexMagic = [4]byte{'L', 'G', 'I', 'X'}

const indexVersion uint16 = 1

// MarshalBinary serialises the index. Restore of the output reproduces identical
// search results.
func (ix *Index) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(14 + len(ix.ids)*(8+4*ix.dim) + 4)
	buf.Write(indexMagic[:])
	header := struct {
		Version uint16
		Dim     uint32
		Count   uint32
	}{indexVersion, uint32(ix.dim), uint32(len(ix.ids))}
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write index header failed: %w", err)
	}
	for i, id := range ix.ids {
		if err := binary.Write(&buf, binary.LittleEndian, id); err != nil {
			return nil, fmt.Errorf("write index row failed: %w", err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, ix.vectors[i]); err != nil {
			return nil, fmt.Errorf("write index row failed: %w", err)
		}
	}
	sum := crc32.ChecksumIEEE(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return nil, fmt.Errorf("write index checksum failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore parses the output of MarshalBinary. Vectors are taken as stored.
func Restore(data []byte) (*Index, error) {
	if len(data) < 4+10+4 {
		return nil, fmt.Errorf("%w: index blob too short (%d bytes)", ErrCorrupted, len(data))
	}
	payload, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: index checksum mismatch", ErrCorrupted)
	}
	if !bytes.Equal(payload[:4], indexMagic[:]) {
		return nil, fmt.Errorf("%w: bad index magic", ErrCorrupted)
	}

	r := bytes.NewReader(payload[4:])
	var header struct {
		Version uint16
		Dim     uint32
		Count   uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: read index header: %w", ErrCorrupted, err)
	}
	if header.Version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported index version %d", ErrCorrupted, header.Version)
	}
	if header.Count == 0 || header.Dim == 0 {
		return nil, fmt.Errorf("%w: index header declares %d rows of %d dimensions", ErrCorrupted, header.Count, header.Dim)
	}
	rowLen := int64(8 + 4*int64(header.Dim))
	if int64(r.Len()) != rowLen*int64(header.Count) {
		return nil, fmt.Errorf("%w: index body is %d bytes, header implies %d", ErrCorrupted, r.Len(), rowLen*int64(header.Count))
	}

	ix := &Index{
		dim:     int(header.Dim),
		ids:     make([]int64, header.Count),
		vectors: make([][]float32, header.Count),
	}
	for i := range ix.ids {
		if err := binary.Read(r, binary.LittleEndian, &ix.ids[i]); err != nil {
			return nil, fmt.Errorf("%w: read index row %d: %w", ErrCorrupted, i, err)
		}
		ix.vectors[i] = make([]float32, ix.dim)
		if err := binary.Read(r, binary.LittleEndian, ix.vectors[i]); err != nil {
			return nil, fmt.Errorf("%w: read index row %d: %w", ErrCorrupted, i, err)
		}
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing bytes after index rows", ErrCorrupted)
	}
	return ix, nil
}
