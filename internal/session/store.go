// Package session owns per-session chunks and indexes and runs the
// load → chunk → embed → index pipeline for each upload.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gopherai-legal/internal/ai"
	"gopherai-legal/internal/model"
	"gopherai-legal/internal/pkg/docextract"
	"gopherai-legal/internal/rag"
)

// SnapshotStore persists session snapshots keyed by session id.
// Load returns rag.ErrSessionNotFound for unknown ids. Touch marks a snapshot as
// still in use; stores whose entries expire must extend them.
type SnapshotStore interface {
	Save(ctx context.Context, snap *model.SessionSnapshot) error
	Touch(ctx context.Context, sessionID string) error
	Load(ctx context.Context, sessionID string) (*model.SessionSnapshot, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
}

type Config struct {
	Chunk         rag.ChunkConfig
	MaxQueryRunes int
	// SnapshotTouchInterval is the minimum gap between two Touch calls for one
	// session. It must stay well below the snapshot store's expiry.
	SnapshotTouchInterval time.Duration
}

const defaultSnapshotTouchInterval = time.Minute

// Session is one isolated unit of uploaded documents.
type Session struct {
	ID        string
	CreatedAt time.Time

	state    atomic.Pointer[State]
	lastUsed atomic.Int64
	// persisted is when the snapshot was last saved or touched, in unix nanos.
	persisted atomic.Int64

	// writeMu serialises uploads. live is held shared by every in-flight call and
	// exclusively by teardown, so a session is never released under a reader.
	writeMu sync.Mutex
	live    sync.RWMutex
}

// State returns the current immutable state.
func (s *Session) State() *State { return s.state.Load() }

func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

func (s *Session) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

// Info is a read-only summary of a session.
type Info struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
	Generation uint64    `json:"generation"`
	Documents  int       `json:"documents"`
	Chunks     int       `json:"chunks"`
}

func (s *Session) Info() Info {
	st := s.State()
	return Info{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		LastUsed:   s.LastUsed(),
		Generation: st.Generation,
		Documents:  len(st.Documents),
		Chunks:     len(st.Chunks),
	}
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	embedder  ai.Embedder
	snapshots SnapshotStore
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore builds an empty store. snapshots may be nil for memory-only sessions.
func NewStore(embedder ai.Embedder, snapshots SnapshotStore, cfg Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Chunk.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxQueryRunes <= 0 {
		cfg.MaxQueryRunes = 1000
	}
	if cfg.SnapshotTouchInterval <= 0 {
		cfg.SnapshotTouchInterval = defaultSnapshotTouchInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:  make(map[string]*Session),
		embedder:  embedder,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Create registers a new empty session and returns it.
func (s *Store) Create() *Session {
	now := s.now()
	sess := &Session{ID: uuid.NewString(), CreatedAt: now}
	sess.state.Store(newState(0, 0, nil, nil, nil))
	sess.touch(now)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rag.ErrSessionNotFound, id)
	}
	return sess, nil
}

// List returns a summary of every live session, oldest first.
func (s *Store) List() []Info {
	s.mu.RLock()
	out := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Info())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// acquire marks an in-flight call on the session. The returned release must be called.
func (s *Store) acquire(id string) (*Session, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", rag.ErrSessionNotFound, id)
	}
	sess.live.RLock()
	sess.touch(s.now())
	return sess, sess.live.RUnlock, nil
}

// AddResult reports what an upload added.
type AddResult struct {
	State       *State
	ChunksAdded int
	Documents   []model.SessionDocument
}

// AddDocuments loads, chunks and embeds every document and swaps in an index built
// from the old entries plus the new ones. Any failure leaves the session unchanged.
func (s *Store) AddDocuments(ctx context.Context, id string, docs []docextract.Document) (*AddResult, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents", rag.ErrInvalidInput)
	}
	sess, release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	old := sess.State()
	next := old.NextChunkID
	var (
		added   []model.RAGChunk
		newDocs []model.SessionDocument
	)
	for _, doc := range docs {
		format := doc.Format
		if format == "" {
			if format, err = docextract.FormatFromFilename(doc.Filename); err != nil {
				return nil, fmt.Errorf("load %s failed: %w", doc.Filename, err)
			}
		}
		pages, err := docextract.Load(doc.Data, format)
		if err != nil {
			return nil, fmt.Errorf("load %s failed: %w", doc.Filename, err)
		}
		chunks, err := rag.Chunk(doc.Filename, pages, s.cfg.Chunk, next)
		if err != nil {
			return nil, fmt.Errorf("chunk %s failed: %w", doc.Filename, err)
		}
		newDocs = append(newDocs, model.SessionDocument{
			Name:         doc.Filename,
			Format:       string(format),
			PageCount:    len(pages),
			FirstChunkID: next,
			ChunkCount:   len(chunks),
			IngestedAt:   s.now(),
		})
		added = append(added, chunks...)
		next += int64(len(chunks))
	}

	if len(added) == 0 {
		if old.Index == nil {
			return nil, fmt.Errorf("%w: documents contain no extractable text", rag.ErrEmptyIndex)
		}
		return &AddResult{State: old, Documents: newDocs}, nil
	}

	texts := make([]string, len(added))
	for i, c := range added {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks failed: %w", len(texts), err)
	}
	if len(vectors) != len(added) {
		return nil, fmt.Errorf("%w: embedding count mismatch: sent %d, got %d", rag.ErrEmbeddingUnavailable, len(added), len(vectors))
	}

	var entries []rag.Entry
	if old.Index != nil {
		entries = old.Index.Entries()
	}
	for i, c := range added {
		entries = append(entries, rag.Entry{ChunkID: c.ID, Vector: vectors[i]})
	}
	idx, err := rag.Build(entries)
	if err != nil {
		return nil, fmt.Errorf("build index failed: %w", err)
	}

	chunks := make([]model.RAGChunk, 0, len(old.Chunks)+len(added))
	chunks = append(append(chunks, old.Chunks...), added...)
	documents := append(slices.Clone(old.Documents), newDocs...)
	st := newState(old.Generation+1, next, chunks, documents, idx)

	if s.snapshots != nil {
		snap, err := st.snapshot(sess, s.embedder.ModelID())
		if err != nil {
			return nil, fmt.Errorf("snapshot session failed: %w", err)
		}
		if err := s.snapshots.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("persist session failed: %w", err)
		}
		sess.persisted.Store(s.now().UnixNano())
	}

	sess.state.Store(st)
	s.logger.Info("session index rebuilt",
		"session_id", sess.ID,
		"generation", st.Generation,
		"documents", len(newDocs),
		"chunks_added", len(added),
		"chunks_total", len(chunks),
	)
	return &AddResult{State: st, ChunksAdded: len(added), Documents: newDocs}, nil
}

// Retrieve embeds query and returns up to k chunks of the session by descending
// relevance. It never mutates the session.
func (s *Store) Retrieve(ctx context.Context, id, query string, k int) ([]rag.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", rag.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidQuery, k)
	}
	if runes := []rune(query); len(runes) > s.cfg.MaxQueryRunes {
		query = string(runes[:s.cfg.MaxQueryRunes])
	}

	sess, release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	st := sess.State()
	if st.Index == nil {
		return nil, fmt.Errorf("%w: %s has no documents", rag.ErrSessionNotFound, id)
	}
	s.keepSnapshot(ctx, sess)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}
	hits, err := st.Index.Search(vec, k)
	if err != nil {
		return nil, err
	}

	results := make([]rag.Result, 0, len(hits))
	for _, h := range hits {
		c, ok := st.Chunk(h.ChunkID)
		if !ok {
			return nil, fmt.Errorf("%w: index references unknown chunk %d", rag.ErrCorrupted, h.ChunkID)
		}
		results = append(results, rag.Result{Chunk: c, Score: h.Score})
	}
	return results, nil
}

// keepSnapshot extends the persisted snapshot of a session that is being read, so
// a session queried without new uploads stays restorable. Failures only log.
func (s *Store) keepSnapshot(ctx context.Context, sess *Session) {
	if s.snapshots == nil {
		return
	}
	now := s.now().UnixNano()
	last := sess.persisted.Load()
	if now-last < int64(s.cfg.SnapshotTouchInterval) || !sess.persisted.CompareAndSwap(last, now) {
		return
	}
	if err := s.snapshots.Touch(ctx, sess.ID); err != nil {
		s.logger.Warn("refresh session snapshot failed", "session_id", sess.ID, "error", err)
	}
}

// Delete removes the session, waits for in-flight calls on it to finish, then
// drops its persisted snapshot.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", rag.ErrSessionNotFound, id)
	}

	sess.live.Lock()
	sess.state.Store(newState(sess.State().Generation+1, 0, nil, nil, nil))
	sess.live.Unlock()

	if s.snapshots != nil {
		if err := s.snapshots.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete session snapshot failed: %w", err)
		}
	}
	return nil
}

// EvictIdle removes every session unused for at least timeout. Sessions with a call
// in flight are skipped; they are not idle.
func (s *Store) EvictIdle(ctx context.Context, timeout time.Duration) []string {
	now := s.now()
	var evicted []string

	s.mu.Lock()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastUsed()) < timeout {
			continue
		}
		if !sess.live.TryLock() {
			continue
		}
		delete(s.sessions, id)
		sess.state.Store(newState(sess.State().Generation+1, 0, nil, nil, nil))
		sess.live.Unlock()
		evicted = append(evicted, id)
	}
	s.mu.Unlock()

	slices.Sort(evicted)
	if s.snapshots != nil {
		for _, id := range evicted {
			if err := s.snapshots.Delete(ctx, id); err != nil {
				s.logger.Warn("delete evicted session snapshot failed", "session_id", id, "error", err)
			}
		}
	}
	return evicted
}

// Restore loads every persisted snapshot, e.g. after a process restart. Snapshots
// that fail validation are reported in the returned error and skipped.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	ids, err := s.snapshots.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list session snapshots failed: %w", err)
	}

	var (
		restored int
		errs     []error
	)
	for _, id := range ids {
		snap, err := s.snapshots.Load(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load session %s failed: %w", id, err))
			continue
		}
		st, err := stateFromSnapshot(snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("restore session %s failed: %w", id, err))
			continue
		}
		if dim := s.embedder.Dimension(); st.Index.Dimension() != dim {
			errs = append(errs, fmt.Errorf("restore session %s failed: %w: stored %d, embedder %s has %d",
				id, rag.ErrDimensionMismatch, st.Index.Dimension(), s.embedder.ModelID(), dim))
			continue
		}

		sess := &Session{ID: snap.SessionID, CreatedAt: snap.CreatedAt}
		sess.state.Store(st)
		sess.touch(s.now())
		sess.persisted.Store(s.now().UnixNano())
		s.mu.Lock()
		s.sessions[sess.ID] = sess
		s.mu.Unlock()
		restored++
	}
	return restored, errors.Join(errs...)
}
