package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopherai-legal/internal/rag"
)

// call runs fn with a deadline and returns as soon as the deadline passes, even if
// fn ignores its context. A late result is discarded.
func call[T any](ctx context.Context, timeout time.Duration, what string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %s exceeded %s", rag.ErrTimeout, what, timeout)
		}
		return r.val, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %s exceeded %s", rag.ErrTimeout, what, timeout)
		}
		return zero, ctx.Err()
	}
}

// BoundedEmbedder enforces a per-call timeout and the embedder's declared dimension.
type BoundedEmbedder struct {
	next    Embedder
	timeout time.Duration
}

func NewBoundedEmbedder(next Embedder, timeout time.Duration) *BoundedEmbedder {
	return &BoundedEmbedder{next: next, timeout: timeout}
}

func (b *BoundedEmbedder) Dimension() int  { return b.next.Dimension() }
func (b *BoundedEmbedder) ModelID() string { return b.next.ModelID() }

func (b *BoundedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := call(ctx, b.timeout, "embedding", func(ctx context.Context) ([]float32, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	if err := b.checkDim(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (b *BoundedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vs, err := call(ctx, b.timeout, "embedding batch", func(ctx context.Context) ([][]float32, error) {
		return b.next.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vs) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count mismatch: sent %d, got %d", rag.ErrEmbeddingUnavailable, len(texts), len(vs))
	}
	for _, v := range vs {
		if err := b.checkDim(v); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func (b *BoundedEmbedder) checkDim(v []float32) error {
	if want := b.next.Dimension(); len(v) != want {
		return fmt.Errorf("%w: embedder %s returned %d dimensions, expected %d",
			rag.ErrDimensionMismatch, b.next.ModelID(), len(v), want)
	}
	return nil
}

// BoundedGenerator enforces a per-call timeout on a Generator.
type BoundedGenerator struct {
	next    Generator
	timeout time.Duration
}

func NewBoundedGenerator(next Generator, timeout time.Duration) *BoundedGenerator {
	return &BoundedGenerator{next: next, timeout: timeout}
}

func (b *BoundedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return call(ctx, b.timeout, "generation", func(ctx context.Context) (string, error) {
		return b.next.Generate(ctx, prompt)
	})
}
