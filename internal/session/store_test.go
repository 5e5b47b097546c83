package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-legal/internal/ai"
	"gopherai-legal/internal/cache"
	"gopherai-legal/internal/pkg/docextract"
	"gopherai-legal/internal/pkg/docextract/docxtest"
	"gopherai-legal/internal/rag"
	"gopherai-legal/internal/repository"
)

func leaseDoc(t *testing.T) docextract.Document {
	return docextract.Document{
		Filename: "lease.docx",
		Format:   docextract.FormatDOCX,
		Data: docxtest.Build(t,
			"Rent is due on the 1st of each month. A $50 late fee applies after 3 days.",
			"The landlord maintains the garden and the roof. Pets require written consent.",
		),
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, snapshots SnapshotStore) (*Store, *clock) {
	t.Helper()
	s, err := NewStore(ai.NewHashingEmbedder(256), snapshots, Config{
		Chunk: rag.ChunkConfig{Size: 80, Overlap: 10},
	}, nil)
	require.NoError(t, err)
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func TestNewStoreRejectsBadChunkConfig(t *testing.T) {
	_, err := NewStore(ai.NewHashingEmbedder(16), nil, Config{Chunk: rag.ChunkConfig{Size: 10, Overlap: 10}}, nil)
	require.ErrorIs(t, err, rag.ErrInvalidChunkConfig)
}

func TestAddAndRetrieveLateFee(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	sess := s.Create()

	res, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)
	assert.Positive(t, res.ChunksAdded)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, 2, res.Documents[0].PageCount)
	assert.Equal(t, uint64(1), res.State.Generation)
	assert.Equal(t, res.State.Index.Len(), len(res.State.Chunks))

	results, err := s.Retrieve(ctx, sess.ID, "What is the late fee?", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Chunk.Text, "$50 late fee")
	assert.Equal(t, 1, results[0].Chunk.SourcePage)
	assert.Equal(t, "lease.docx", results[0].Chunk.DocumentName)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRetrieveValidatesQuery(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	sess := s.Create()
	_, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)

	_, err = s.Retrieve(ctx, sess.ID, "   ", 3)
	require.ErrorIs(t, err, rag.ErrInvalidInput)

	_, err = s.Retrieve(ctx, sess.ID, "late fee", 0)
	require.ErrorIs(t, err, rag.ErrInvalidQuery)

	results, err := s.Retrieve(ctx, sess.ID, "late fee", 100)
	require.NoError(t, err)
	assert.Len(t, results, len(sess.State().Chunks))
}

func TestRetrieveUnknownOrEmptySession(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.Retrieve(ctx, "missing", "late fee", 3)
	require.ErrorIs(t, err, rag.ErrSessionNotFound)

	sess := s.Create()
	_, err = s.Retrieve(ctx, sess.ID, "late fee", 3)
	require.ErrorIs(t, err, rag.ErrNotFound)
}

func TestUnsupportedFormatLeavesSessionUnchanged(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	sess := s.Create()
	_, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)
	before := sess.State()

	_, err = s.AddDocuments(ctx, sess.ID, []docextract.Document{{Filename: "notes.txt", Data: []byte("hello")}})
	require.ErrorIs(t, err, rag.ErrInvalidInput)
	assert.Same(t, before, sess.State())
}

func TestBatchIsAllOrNothing(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	sess := s.Create()

	_, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{
		leaseDoc(t),
		{Filename: "broken.docx", Format: docextract.FormatDOCX, Data: []byte("not a zip")},
	})
	require.ErrorIs(t, err, rag.ErrCorrupted)
	assert.Empty(t, sess.State().Chunks)
	assert.Equal(t, uint64(0), sess.State().Generation)
}

func TestSecondUploadExtendsIndex(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	sess := s.Create()

	first, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)
	loan := docextract.Document{
		Filename: "loan.docx",
		Data:     docxtest.Build(t, "The interest rate is variable and may rise with the central bank rate."),
	}
	second, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{loan})
	require.NoError(t, err)

	st := second.State
	assert.Equal(t, uint64(2), st.Generation)
	assert.Len(t, st.Chunks, first.ChunksAdded+second.ChunksAdded)
	assert.Equal(t, st.Index.Len(), len(st.Chunks))
	assert.Equal(t, int64(first.ChunksAdded), second.Documents[0].FirstChunkID)
	for i, c := range st.Chunks {
		assert.Equal(t, int64(i), c.ID)
	}

	results, err := s.Retrieve(ctx, sess.ID, "interest rate", 1)
	require.NoError(t, err)
	assert.Equal(t, "loan.docx", results[0].Chunk.DocumentName)
}

func TestEmptyDocumentOnFreshSession(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	sess := s.Create()

	blank := docextract.Document{Filename: "blank.docx", Data: docxtest.Build(t, "   ")}
	_, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{blank})
	require.ErrorIs(t, err, rag.ErrEmptyIndex)

	_, err = s.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)
	res, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{blank})
	require.NoError(t, err)
	assert.Zero(t, res.ChunksAdded)
	assert.Equal(t, uint64(1), sess.State().Generation)
}

func TestSessionsAreIsolated(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	a, b := s.Create(), s.Create()

	_, err := s.AddDocuments(ctx, a.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)

	_, err = s.Retrieve(ctx, b.ID, "late fee", 3)
	require.ErrorIs(t, err, rag.ErrNotFound)
	assert.Empty(t, b.State().Chunks)
}

func TestConcurrentAddAndRetrieve(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	sess := s.Create()
	_, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)

	riders := make([]docextract.Document, 4)
	for i := range riders {
		riders[i] = docextract.Document{
			Filename: fmt.Sprintf("rider-%d.docx", i),
			Data:     docxtest.Build(t, fmt.Sprintf("Rider %d: the tenant pays for electricity and water in unit %d.", i, i)),
		}
	}

	var wg sync.WaitGroup
	for _, doc := range riders {
		wg.Add(1)
		go func(doc docextract.Document) {
			defer wg.Done()
			_, err := s.AddDocuments(ctx, sess.ID, []docextract.Document{doc})
			assert.NoError(t, err)
		}(doc)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				st := sess.State()
				assert.Equal(t, st.Index.Len(), len(st.Chunks))
				results, err := s.Retrieve(ctx, sess.ID, "late fee", 5)
				if assert.NoError(t, err) {
					assert.NotEmpty(t, results)
				}
			}
		}()
	}
	wg.Wait()

	st := sess.State()
	assert.Equal(t, uint64(5), st.Generation)
	assert.Len(t, st.Documents, 5)
	assert.Equal(t, st.Index.Len(), len(st.Chunks))
}

func TestDelete(t *testing.T) {
	repo, err := repository.NewFileSnapshotRepository(t.TempDir())
	require.NoError(t, err)
	s, _ := newTestStore(t, repo)
	ctx := context.Background()
	sess := s.Create()
	_, err = s.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, sess.ID))
	_, err = s.Get(sess.ID)
	require.ErrorIs(t, err, rag.ErrSessionNotFound)
	_, err = repo.Load(ctx, sess.ID)
	require.ErrorIs(t, err, rag.ErrSessionNotFound)
	require.ErrorIs(t, s.Delete(ctx, sess.ID), rag.ErrSessionNotFound)
}

func TestEvictIdle(t *testing.T) {
	s, c := newTestStore(t, nil)
	ctx := context.Background()
	idle := s.Create()
	_, err := s.AddDocuments(ctx, idle.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)

	c.advance(30 * time.Minute)
	busy := s.Create()
	c.advance(45 * time.Minute)

	assert.Equal(t, []string{idle.ID}, s.EvictIdle(ctx, time.Hour))
	_, err = s.Retrieve(ctx, idle.ID, "late fee", 3)
	require.ErrorIs(t, err, rag.ErrSessionNotFound)
	_, err = s.Get(busy.ID)
	require.NoError(t, err)
}

func TestEvictIdleSkipsInFlightSession(t *testing.T) {
	s, c := newTestStore(t, nil)
	ctx := context.Background()
	sess := s.Create()

	_, release, err := s.acquire(sess.ID)
	require.NoError(t, err)
	c.advance(2 * time.Hour)
	assert.Empty(t, s.EvictIdle(ctx, time.Hour))

	release()
	assert.Equal(t, []string{sess.ID}, s.EvictIdle(ctx, time.Hour))
}

func TestRestoreFromSnapshots(t *testing.T) {
	repo, err := repository.NewFileSnapshotRepository(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	s1, _ := newTestStore(t, repo)
	sess := s1.Create()
	_, err = s1.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)
	want, err := s1.Retrieve(ctx, sess.ID, "What is the late fee?", 3)
	require.NoError(t, err)

	s2, _ := newTestStore(t, repo)
	n, err := s2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restored, err := s2.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.State().Generation, restored.State().Generation)
	assert.Equal(t, sess.State().Chunks, restored.State().Chunks)

	got, err := s2.Retrieve(ctx, sess.ID, "What is the late fee?", 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestActiveSessionSnapshotOutlivesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	snapshots := cache.NewSnapshotCache(client, time.Hour)
	ctx := context.Background()

	s1, c := newTestStore(t, snapshots)
	sess := s1.Create()
	_, err := s1.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c.advance(20 * time.Minute)
		mr.FastForward(20 * time.Minute)
		_, err := s1.Retrieve(ctx, sess.ID, "late fee", 1)
		require.NoError(t, err)
	}

	s2, _ := newTestStore(t, snapshots)
	n, err := s2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mr.FastForward(2 * time.Hour)
	s3, _ := newTestStore(t, snapshots)
	n, err = s3.Restore(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRestoreRejectsDimensionMismatch(t *testing.T) {
	repo, err := repository.NewFileSnapshotRepository(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	s1, _ := newTestStore(t, repo)
	sess := s1.Create()
	_, err = s1.AddDocuments(ctx, sess.ID, []docextract.Document{leaseDoc(t)})
	require.NoError(t, err)

	s2, err := NewStore(ai.NewHashingEmbedder(64), repo, Config{Chunk: rag.DefaultChunkConfig()}, nil)
	require.NoError(t, err)
	n, err := s2.Restore(ctx)
	assert.Zero(t, n)
	require.ErrorIs(t, err, rag.ErrDimensionMismatch)
}

func TestList(t *testing.T) {
	s, c := newTestStore(t, nil)
	a := s.Create()
	c.advance(time.Second)
	b := s.Create()

	infos := s.List()
	require.Len(t, infos, 2)
	assert.Equal(t, a.ID, infos[0].ID)
	assert.Equal(t, b.ID, infos[1].ID)
	assert.Zero(t, infos[0].Chunks)
}
