package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/htareportflow/internal/config"
	"github.com/Lllllllleong/htareportflow/internal/gcp"
	"github.com/Lllllllleong/htareportflow/internal/llm"
	"github.com/Lllllllleong/htareportflow/internal/llm/openai"
	"github.com/Lllllllleong/htareportflow/internal/report"
	"github.com/Lllllllleong/htareportflow/internal/web"
)

// Runtime owns every client the functions need and the services built on them.
type Runtime struct {
	Config   *config.Config
	Enricher *Enricher
	Ingestor *Ingestor

	firestoreClient  *firestore.Client
	storageClient    *storage.Client
	executionsClient *executions.Client
	vertexClient     *gcp.VertexClient
	store            *gcp.FirestoreStore
}

// NewRuntimeFromEnv loads the configuration and builds a Runtime from it.
func NewRuntimeFromEnv(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewRuntime(ctx, cfg, logger)
}

// NewRuntime creates the clients described by cfg. On error, anything already opened is closed.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.firestoreClient, err = gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	rt.store = gcp.NewFirestoreStore(rt.firestoreClient, cfg.Firestore.Collection, cfg.Firestore.ChunkCollection, logger)

	generator, err := rt.newGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	invoker := llm.NewInvoker(generator, cfg.Tasks,
		llm.WithCooldown(cfg.Invoker.Cooldown),
		llm.WithCallTimeout(cfg.Invoker.CallTimeout),
		llm.WithLogger(logger),
	)

	fetcher := web.NewFetcher(web.Config{
		Timeout:           cfg.Fetch.Timeout,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
		MaxRetries:        cfg.Fetch.MaxRetries,
	}, logger)

	var archiver ReportArchiver
	if cfg.ReportBucket != "" {
		rt.storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		archiver = gcp.NewReportArchive(rt.storageClient, cfg.ReportBucket, logger)
	}

	var notifier Notifier = LogNotifier{Logger: logger}
	if cfg.Workflow.ID != "" {
		rt.executionsClient, err = executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create workflow executions client: %w", err)
		}
		notifier = gcp.NewWorkflowNotifier(rt.executionsClient, cfg.ProjectID, cfg.Workflow.Location, cfg.Workflow.ID, logger)
	}

	rt.Enricher = NewEnricher(EnricherDeps{
		Store:     rt.store,
		Fetcher:   fetcher,
		Converter: report.NewPDFConverter(logger),
		Invoker:   invoker,
		Archiver:  archiver,
		Notifier:  notifier,
		Logger:    logger,
	}, EnricherConfig{
		Workers:               cfg.Enrich.Workers,
		Resume:                cfg.Enrich.Resume,
		ReportSection:         cfg.Enrich.ReportSection,
		ReportField:           cfg.Enrich.ReportField,
		TranslateChunkSize:    cfg.Enrich.TranslateChunkSize,
		TranslateChunkOverlap: cfg.Enrich.TranslateChunkOverlap,
		EmbedChunkSize:        cfg.Enrich.EmbedChunkSize,
		EmbedChunkOverlap:     cfg.Enrich.EmbedChunkOverlap,
	})
	rt.Ingestor = NewIngestor(rt.store, fetcher, rt.Enricher, IngestorConfig{
		ListingURL: cfg.Listing.URL,
		Enrich:     true,
	}, logger)

	logger.Info("Runtime initialized.", "provider", cfg.TextGenProvider, "archive", archiver != nil, "workflow", cfg.Workflow.ID != "")
	return rt, nil
}

func (rt *Runtime) newGenerator(ctx context.Context, cfg *config.Config) (llm.Generator, error) {
	switch cfg.TextGenProvider {
	case config.ProviderOpenAI:
		gen, err := openai.New(openai.Config{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai generator: %w", err)
		}
		return gen, nil
	case config.ProviderVertex:
		vc, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		rt.vertexClient = vc
		return vc, nil
	default:
		return nil, fmt.Errorf("unknown text generation provider %q", cfg.TextGenProvider)
	}
}

// Close releases every client the Runtime opened.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.vertexClient != nil {
		errs = append(errs, rt.vertexClient.Close())
	}
	if rt.executionsClient != nil {
		errs = append(errs, rt.executionsClient.Close())
	}
	if rt.storageClient != nil {
		errs = append(errs, rt.storageClient.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	} else if rt.firestoreClient != nil {
		errs = append(errs, rt.firestoreClient.Close())
	}
	return errors.Join(errs...)
}
