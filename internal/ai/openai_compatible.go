package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"gopherai-legal/internal/rag"
)

const systemPrompt = "You are a helpful legal document analysis assistant. Always respond with valid JSON as requested."

// Generator is the text-generation capability: prompt in, text out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type ChatConfig struct {
	Model       string
	Temperature float32
}

// NewOpenAICompatibleClient builds a go-openai client against any OpenAI-compatible
// base URL (OpenAI, OpenRouter, DashScope compatible mode, ...).
func NewOpenAICompatibleClient(baseURL, apiKey string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}

type OpenAIGenerator struct {
	client *openai.Client
	cfg    ChatConfig
}

func NewOpenAIGenerator(client *openai.Client, cfg ChatConfig) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, cfg: cfg}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: llm request failed: %w", rag.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty llm choices", rag.ErrGenerationUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
