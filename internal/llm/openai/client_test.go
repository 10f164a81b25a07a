package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/htareportflow/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_CachesEmbedderPerModel(t *testing.T) {
	g, err := New(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1/v1"})
	require.NoError(t, err)

	first, err := g.embedder("text-embedding-3-large")
	require.NoError(t, err)
	again, err := g.embedder("text-embedding-3-large")
	require.NoError(t, err)
	other, err := g.embedder("text-embedding-3-small")
	require.NoError(t, err)

	assert.Same(t, first, again)
	assert.NotSame(t, first, other)
}

func TestComplete_SendsSystemAndUserMessages(t *testing.T) {
	type chatRequest struct {
		Model    string `json:"model"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	g, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	out, err := g.Complete(context.Background(), llm.CompletionRequest{
		Model:           "gpt-4o-mini",
		System:          "Translate to English.",
		Prompt:          "Hallo",
		MaxOutputTokens: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", out)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		rateLimited bool
		wantCode    int
	}{
		{name: "status code 429", err: errors.New("API returned unexpected status code: 429: slow down"), rateLimited: true, wantCode: 429},
		{name: "rate limit text", err: errors.New("Rate limit reached for gpt-4o"), rateLimited: true, wantCode: 429},
		{name: "server error", err: errors.New("API returned unexpected status code: 503: unavailable"), wantCode: 500},
		{name: "other", err: errors.New("invalid request")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.rateLimited, llm.IsRateLimited(got))
			assert.ErrorIs(t, got, tt.err)

			var se *llm.StatusError
			if tt.wantCode == 0 {
				assert.False(t, errors.As(got, &se))
				return
			}
			require.True(t, errors.As(got, &se))
			assert.Equal(t, tt.wantCode, se.Code)
		})
	}

	t.Run("context errors pass through", func(t *testing.T) {
		err := fmt.Errorf("request: %w", context.DeadlineExceeded)
		assert.Same(t, err, classify(err))
	})
}
