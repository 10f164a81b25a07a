// Package config loads the pipeline configuration.
//
// Precedence, lowest to highest: embedded defaults.yaml, the provider profile (openai.yaml
// when textgen_provider is openai), the YAML file named by ENRICHER_CONFIG_FILE, then the
// environment variables listed in envKeys.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Lllllllleong/htareportflow/internal/llm"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Text-generation providers.
const (
	ProviderVertex = "vertex"
	ProviderOpenAI = "openai"
)

// FileEnv names the environment variable holding an optional YAML config file path.
const FileEnv = "ENRICHER_CONFIG_FILE"

const maxConfigFileSize = 1024 * 1024

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

//go:embed defaults.yaml
var defaultsYAML []byte

//go:embed openai.yaml
var openAIYAML []byte

// envKeys maps the supported environment variables to config keys.
var envKeys = map[string]string{
	"PROJECT_ID":                 "project_id",
	"VERTEX_AI_REGION":           "vertex_region",
	"TEXTGEN_PROVIDER":           "textgen_provider",
	"OPENAI_API_KEY":             "openai.api_key",
	"OPENAI_BASE_URL":            "openai.base_url",
	"FIRESTORE_COLLECTION":       "firestore.collection",
	"FIRESTORE_CHUNK_COLLECTION": "firestore.chunk_collection",
	"REPORT_BUCKET":              "report_bucket",
	"WORKFLOW_ID":                "workflow.id",
	"WORKFLOW_LOCATION":          "workflow.location",
	"LISTING_URL":                "listing.url",
	"ENRICH_WORKERS":             "enrich.workers",
	"ENRICH_RESUME":              "enrich.resume",
}

// Config is the full pipeline configuration.
type Config struct {
	ProjectID       string `koanf:"project_id"`
	VertexRegion    string `koanf:"vertex_region"`
	TextGenProvider string `koanf:"textgen_provider"`
	// ReportBucket receives a copy of every downloaded report. Empty disables archiving.
	ReportBucket string `koanf:"report_bucket"`

	OpenAI    OpenAIConfig    `koanf:"openai"`
	Firestore FirestoreConfig `koanf:"firestore"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Listing   ListingConfig   `koanf:"listing"`
	Enrich    EnrichConfig    `koanf:"enrich"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Invoker   InvokerConfig   `koanf:"invoker"`
	Tasks     llm.Tasks       `koanf:"tasks"`
}

// OpenAIConfig holds the OpenAI-compatible endpoint settings.
type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// FirestoreConfig names the collections.
type FirestoreConfig struct {
	Collection      string `koanf:"collection"`
	ChunkCollection string `koanf:"chunk_collection"`
}

// WorkflowConfig identifies the notification workflow. An empty ID logs notifications
// instead of executing a workflow.
type WorkflowConfig struct {
	ID       string `koanf:"id"`
	Location string `koanf:"location"`
}

// ListingConfig holds the catalog listing page to ingest.
type ListingConfig struct {
	URL string `koanf:"url"`
}

// EnrichConfig controls the enrichment run.
type EnrichConfig struct {
	Workers               int    `koanf:"workers"`
	Resume                bool   `koanf:"resume"`
	ReportSection         string `koanf:"report_section"`
	ReportField           string `koanf:"report_field"`
	TranslateChunkSize    int    `koanf:"translate_chunk_size"`
	TranslateChunkOverlap int    `koanf:"translate_chunk_overlap"`
	EmbedChunkSize        int    `koanf:"embed_chunk_size"`
	EmbedChunkOverlap     int    `koanf:"embed_chunk_overlap"`
}

// FetchConfig controls page and report downloads.
type FetchConfig struct {
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	MaxRetries        int           `koanf:"max_retries"`
}

// InvokerConfig controls model calls.
type InvokerConfig struct {
	Cooldown    time.Duration `koanf:"cooldown"`
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// Load builds the configuration from all sources and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := loadOverrides(k); err != nil {
		return nil, err
	}

	// The profile sits below the file and the environment, so they are applied again.
	if k.String("textgen_provider") == ProviderOpenAI {
		if err := k.Load(rawbytes.Provider(openAIYAML), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load openai profile: %w", err)
		}
		if err := loadOverrides(k); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func loadOverrides(k *koanf.Koanf) error {
	if path := os.Getenv(FileEnv); path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Unlisted variables map to "" and are ignored.
		return envKeys[s]
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%w: config file %s exceeds %d bytes", ErrInvalidConfig, path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required (PROJECT_ID)"))
	}
	switch c.TextGenProvider {
	case ProviderVertex:
		if c.VertexRegion == "" {
			errs = append(errs, errors.New("vertex_region is required for the vertex provider"))
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("openai.api_key is required for the openai provider (OPENAI_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown textgen_provider %q", c.TextGenProvider))
	}
	if c.Firestore.Collection == "" || c.Firestore.ChunkCollection == "" {
		errs = append(errs, errors.New("firestore collection names are required"))
	}
	if c.Workflow.ID != "" && c.Workflow.Location == "" {
		errs = append(errs, errors.New("workflow.location is required when workflow.id is set"))
	}
	if c.Enrich.Workers < 1 {
		errs = append(errs, fmt.Errorf("enrich.workers must be at least 1, got %d", c.Enrich.Workers))
	}
	if c.Enrich.ReportField == "" {
		errs = append(errs, errors.New("enrich.report_field is required"))
	}
	if err := checkChunking("translate", c.Enrich.TranslateChunkSize, c.Enrich.TranslateChunkOverlap); err != nil {
		errs = append(errs, err)
	}
	if err := checkChunking("embed", c.Enrich.EmbedChunkSize, c.Enrich.EmbedChunkOverlap); err != nil {
		errs = append(errs, err)
	}
	for name, task := range map[string]llm.TaskConfig{
		"translate": c.Tasks.Translate,
		"summarize": c.Tasks.Summarize,
		"embed":     c.Tasks.Embed,
	} {
		if len(task.Candidates) == 0 {
			errs = append(errs, fmt.Errorf("tasks.%s needs at least one candidate model", name))
		}
		for _, cand := range task.Candidates {
			if cand.Model == "" || cand.ContextTokens <= 0 || cand.MaxOutputTokens < 0 {
				errs = append(errs, fmt.Errorf("tasks.%s has an invalid candidate %+v", name, cand))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func checkChunking(name string, size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("enrich.%s_chunk_size must be positive", name)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("enrich.%s_chunk_overlap must be in [0, %d)", name, size)
	}
	return nil
}
