// Package openai implements llm.Generator on top of langchaingo's OpenAI client.
//
// The client talks to any OpenAI-compatible endpoint, so the same generator serves the
// hosted API and self-hosted gateways configured through BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Lllllllleong/htareportflow/internal/llm"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// ErrInvalidConfig indicates missing client settings.
var ErrInvalidConfig = errors.New("invalid openai configuration")

// Config holds the connection settings.
type Config struct {
	APIKey string
	// BaseURL is optional; empty means the public OpenAI API.
	BaseURL string
}

// Generator is an llm.Generator backed by the OpenAI chat and embedding APIs.
type Generator struct {
	config Config

	mu        sync.Mutex
	chat      *openai.LLM
	embedders map[string]*openai.LLM
}

var _ llm.Generator = (*Generator)(nil)

// New creates a Generator.
func New(config Config) (*Generator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	chat, err := openai.New(options(config)...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return &Generator{
		config:    config,
		chat:      chat,
		embedders: make(map[string]*openai.LLM),
	}, nil
}

func options(config Config, extra ...openai.Option) []openai.Option {
	opts := []openai.Option{openai.WithToken(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}
	return append(opts, extra...)
}

// Complete sends one chat completion.
func (g *Generator) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt))

	callOpts := []llms.CallOption{
		llms.WithModel(req.Model),
		llms.WithTemperature(float64(req.Temperature)),
	}
	if req.MaxOutputTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxOutputTokens))
	}

	resp, err := g.chat.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

// Embed returns the embedding of text from the named model.
func (g *Generator) Embed(ctx context.Context, model, text string) ([]float32, error) {
	client, err := g.embedder(model)
	if err != nil {
		return nil, err
	}
	vectors, err := client.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, classify(err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}

// embedder returns the client bound to an embedding model. The embedding model is a
// client-level option in langchaingo, so one client is kept per model.
func (g *Generator) embedder(model string) (*openai.LLM, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if client, ok := g.embedders[model]; ok {
		return client, nil
	}
	client, err := openai.New(options(g.config, openai.WithEmbeddingModel(model))...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI embedding client for %s: %w", model, err)
	}
	g.embedders[model] = client
	return client, nil
}

// classify turns a langchaingo error into an llm.StatusError when the message carries a
// recognisable HTTP status.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return &llm.StatusError{Code: http.StatusTooManyRequests, Err: err}
	case strings.Contains(msg, "status code: 5"), strings.Contains(msg, "server error"):
		return &llm.StatusError{Code: http.StatusInternalServerError, Err: err}
	}
	return err
}
