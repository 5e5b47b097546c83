package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"gopherai-legal/internal/rag"
)

// Embedder maps text to fixed-dimension vectors. Blank text maps to the all-zero
// vector of Dimension(); EmbedBatch is equivalent to calling Embed on every element.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
}

// EmbeddingConfig holds request settings for text-embedding. Endpoint and key
// live on the client.
type EmbeddingConfig struct {
	Model       string
	Dimension   int
	BatchSize   int // DashScope and similar APIs often limit batch size
	Concurrency int
}

type OpenAIEmbedder struct {
	client *openai.Client
	cfg    EmbeddingConfig
}

func NewOpenAIEmbedder(client *openai.Client, cfg EmbeddingConfig) *OpenAIEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &OpenAIEmbedder{client: client, cfg: cfg}
}

func (e *OpenAIEmbedder) Dimension() int  { return e.cfg.Dimension }
func (e *OpenAIEmbedder) ModelID() string { return e.cfg.Model }

// Embed returns the embedding vector for the given text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends the non-blank texts in batches of BatchSize, at most Concurrency
// requests at a time, and reassembles the vectors in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var pending []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, e.cfg.Dimension)
			continue
		}
		pending = append(pending, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(pending))
		batch := pending[start:end]
		g.Go(func() error {
			inputs := make([]string, len(batch))
			for j, idx := range batch {
				inputs[j] = texts[idx]
			}
			vectors, err := e.request(gctx, inputs)
			if err != nil {
				return err
			}
			for j, idx := range batch {
				out[idx] = vectors[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Input:      inputs,
		Dimensions: e.cfg.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding request failed: %w", rag.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: embedding count mismatch: sent %d, got %d",
			rag.ErrEmbeddingUnavailable, len(inputs), len(resp.Data))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vectors := make([][]float32, len(data))
	for i := range data {
		v := make([]float32, len(data[i].Embedding))
		for j, x := range data[i].Embedding {
			v[j] = float32(x)
		}
		vectors[i] = v
	}
	return vectors, nil
}
