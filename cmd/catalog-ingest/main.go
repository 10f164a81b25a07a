package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/htareportflow/internal/models"
	"github.com/Lllllllleong/htareportflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	runtimeInstance *services.Runtime
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. A scheduler publishes to the trigger topic.
	functions.CloudEvent("IngestCatalog", ingestCatalog)
}

// main is required by the Go Functions Framework.
func main() {}

// ingestCatalog reads the catalog listing, inserts unseen records and enriches them.
func ingestCatalog(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		runtimeInstance, initErr = services.NewRuntimeFromEnv(context.Background(), slog.Default())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	trigger, err := parseTrigger(e)
	if err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return err
	}

	result, err := runtimeInstance.Ingestor.Process(ctx, trigger.ListingURL)
	if err != nil {
		slog.Error("Catalog ingestion failed", "error", err, "eventId", e.ID())
		return err
	}

	attrs := []any{"listingUrl", result.ListingURL, "inserted", len(result.InsertedIDs), "duplicates", result.Duplicates}
	if result.Batch != nil {
		attrs = append(attrs, "runId", result.Batch.RunID, "completed", result.Batch.Completed, "failed", result.Batch.Failed)
	}
	slog.Info("Catalog ingestion finished", attrs...)
	return nil
}

// parseTrigger reads the optional listing override from the Pub/Sub message body.
// An empty body means the configured listing.
func parseTrigger(e cloudevents.Event) (models.IngestTrigger, error) {
	var trigger models.IngestTrigger
	if len(e.Data()) == 0 {
		return trigger, nil
	}
	var msg models.PubSubMessageEvent
	if err := json.Unmarshal(e.Data(), &msg); err != nil {
		return trigger, fmt.Errorf("json.Unmarshal: %w", err)
	}
	if len(msg.Message.Data) == 0 {
		return trigger, nil
	}
	if err := json.Unmarshal(msg.Message.Data, &trigger); err != nil {
		return trigger, fmt.Errorf("invalid trigger message: %w", err)
	}
	return trigger, nil
}
