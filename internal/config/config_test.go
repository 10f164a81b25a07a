package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/htareportflow/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv(FileEnv, "")
	t.Setenv("PROJECT_ID", "hta-project")
	t.Setenv("TEXTGEN_PROVIDER", ProviderVertex)
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "hta-project", cfg.ProjectID)
	assert.Equal(t, ProviderVertex, cfg.TextGenProvider)
	assert.Equal(t, "documents", cfg.Firestore.Collection)
	assert.Equal(t, "chunks", cfg.Firestore.ChunkCollection)
	assert.Equal(t, 1, cfg.Enrich.Workers)
	assert.False(t, cfg.Enrich.Resume)
	assert.Equal(t, "Details", cfg.Enrich.ReportSection)
	assert.Equal(t, "URL for published report", cfg.Enrich.ReportField)
	assert.Equal(t, 10000, cfg.Enrich.TranslateChunkSize)
	assert.Equal(t, 200, cfg.Enrich.TranslateChunkOverlap)
	assert.Equal(t, 60*time.Second, cfg.Invoker.Cooldown)
	assert.Equal(t, 5*time.Minute, cfg.Invoker.CallTimeout)
	assert.Equal(t, 60*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 100000, cfg.Tasks.Summarize.MaxInputChars)
	assert.Equal(t, float32(0.2), cfg.Tasks.Translate.Temperature)
	require.NotEmpty(t, cfg.Tasks.Embed.Candidates)
	assert.Equal(t, llm.Candidate{Model: "text-multilingual-embedding-002", ContextTokens: 2048}, cfg.Tasks.Embed.Candidates[0])
}

func TestLoad_OpenAIProfile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TEXTGEN_PROVIDER", ProviderOpenAI)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	require.Len(t, cfg.Tasks.Summarize.Candidates, 5)
	assert.Equal(t, llm.Candidate{Model: "gpt-4o", ContextTokens: 128000, MaxOutputTokens: 8096}, cfg.Tasks.Summarize.Candidates[0])
	assert.Equal(t, []llm.Candidate{{Model: "text-embedding-3-small", ContextTokens: 8191}}, cfg.Tasks.Embed.Candidates)
	assert.Equal(t, 10000, cfg.Enrich.EmbedChunkSize)
	// Untouched defaults survive the profile.
	assert.Equal(t, "documents", cfg.Firestore.Collection)
}

func TestLoad_OpenAIRequiresKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TEXTGEN_PROVIDER", ProviderOpenAI)
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingProjectID(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PROJECT_ID", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENRICH_WORKERS", "4")
	t.Setenv("ENRICH_RESUME", "true")
	t.Setenv("FIRESTORE_COLLECTION", "hta_documents")
	t.Setenv("WORKFLOW_ID", "send-summary-mail")
	t.Setenv("REPORT_BUCKET", "hta-reports")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Enrich.Workers)
	assert.True(t, cfg.Enrich.Resume)
	assert.Equal(t, "hta_documents", cfg.Firestore.Collection)
	assert.Equal(t, "send-summary-mail", cfg.Workflow.ID)
	assert.Equal(t, "us-central1", cfg.Workflow.Location)
	assert.Equal(t, "hta-reports", cfg.ReportBucket)
}

func TestLoad_ConfigFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "enricher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
enrich:
  workers: 3
  resume: true
invoker:
  cooldown: 5s
tasks:
  embed:
    candidates:
      - model: custom-embedder
        context_tokens: 4096
`), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("ENRICH_WORKERS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Enrich.Workers, "environment wins over the file")
	assert.True(t, cfg.Enrich.Resume)
	assert.Equal(t, 5*time.Second, cfg.Invoker.Cooldown)
	assert.Equal(t, []llm.Candidate{{Model: "custom-embedder", ContextTokens: 4096}}, cfg.Tasks.Embed.Candidates)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ProjectID:       "p",
			VertexRegion:    "us-central1",
			TextGenProvider: ProviderVertex,
			Firestore:       FirestoreConfig{Collection: "documents", ChunkCollection: "chunks"},
			Enrich: EnrichConfig{
				Workers:               1,
				ReportField:           "URL for published report",
				TranslateChunkSize:    100,
				TranslateChunkOverlap: 2,
				EmbedChunkSize:        100,
				EmbedChunkOverlap:     2,
			},
			Tasks: llm.Tasks{
				Translate: llm.TaskConfig{Candidates: []llm.Candidate{{Model: "m", ContextTokens: 10}}},
				Summarize: llm.TaskConfig{Candidates: []llm.Candidate{{Model: "m", ContextTokens: 10}}},
				Embed:     llm.TaskConfig{Candidates: []llm.Candidate{{Model: "e", ContextTokens: 10}}},
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.TextGenProvider = "bedrock" }},
		{"zero workers", func(c *Config) { c.Enrich.Workers = 0 }},
		{"overlap not below size", func(c *Config) { c.Enrich.TranslateChunkOverlap = 100 }},
		{"no embed candidates", func(c *Config) { c.Tasks.Embed.Candidates = nil }},
		{"candidate without model", func(c *Config) { c.Tasks.Summarize.Candidates[0].Model = "" }},
		{"workflow without location", func(c *Config) { c.Workflow.ID = "wf" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
