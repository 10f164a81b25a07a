package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/htareportflow/internal/listing"
	"github.com/Lllllllleong/htareportflow/internal/models"
)

// IngestorConfig holds all configuration for the ingestor service.
type IngestorConfig struct {
	// ListingURL is used when Process is called without a URL.
	ListingURL string
	// Enrich runs the enricher over the newly inserted documents.
	Enrich bool
}

// Ingestor reads the catalog listing and inserts unseen records as new documents.
type Ingestor struct {
	store    Store
	fetcher  PageFetcher
	enricher *Enricher
	config   IngestorConfig
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor. enricher may be nil when Enrich is off.
func NewIngestor(store Store, fetcher PageFetcher, enricher *Enricher, config IngestorConfig, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:    store,
		fetcher:  fetcher,
		enricher: enricher,
		config:   config,
		logger:   logger,
	}
}

// Process ingests the listing at listingURL, or the configured listing when it is empty.
// Known ids are skipped. The inserted ids are returned in listing order.
func (i *Ingestor) Process(ctx context.Context, listingURL string) (*models.IngestResult, error) {
	if listingURL == "" {
		listingURL = i.config.ListingURL
	}
	if listingURL == "" {
		return nil, errors.New("no listing URL given or configured")
	}
	logCtx := i.logger.With("listingUrl", listingURL)

	if err := i.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	markup, err := i.fetcher.Fetch(ctx, listingURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	rows, err := listing.Parse(markup, listingURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}
	docs, skipped := listing.Documents(rows)
	if len(skipped) > 0 {
		logCtx.Warn("Skipped listing rows without a document id.", "count", len(skipped))
	}

	result := &models.IngestResult{ListingURL: listingURL, Rows: len(rows), InsertedIDs: []string{}}
	for _, doc := range docs {
		err := i.store.CreateDocument(ctx, doc)
		switch {
		case errors.Is(err, models.ErrDuplicateDocument):
			result.Duplicates++
		case err != nil:
			return nil, fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
		default:
			result.InsertedIDs = append(result.InsertedIDs, doc.ID)
		}
	}
	logCtx.Info("Listing ingested.", "rows", result.Rows, "inserted", len(result.InsertedIDs), "duplicates", result.Duplicates)

	if i.config.Enrich && i.enricher != nil && len(result.InsertedIDs) > 0 {
		batch, err := i.enricher.ProcessBatch(ctx, result.InsertedIDs)
		if err != nil {
			return result, fmt.Errorf("failed to enrich inserted documents: %w", err)
		}
		result.Batch = batch
	}
	return result, nil
}
