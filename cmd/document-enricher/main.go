package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/htareportflow/internal/models"
	"github.com/Lllllllleong/htareportflow/internal/services"
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

	// Register the HTTP function with the framework.
	functions.HTTP("HandleEnrichDocuments", handleEnrichDocuments)
}

// main is required by the Go Functions Framework.
func main() {}

// handleEnrichDocuments enriches the requested documents and answers with one outcome per id.
func handleEnrichDocuments(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		runtimeInstance, initErr = services.NewRuntimeFromEnv(context.Background(), slog.Default())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if len(req.DocumentIDs) == 0 {
		http.Error(w, "Bad Request: documentIds must not be empty", http.StatusBadRequest)
		return
	}

	enricher := runtimeInstance.Enricher
	if req.Resume {
		enricher = enricher.WithResume(true)
	}

	res, err := enricher.ProcessBatch(r.Context(), req.DocumentIDs)
	if err != nil {
		// Only an unreachable store fails the whole batch; it is logged inside ProcessBatch.
		http.Error(w, "Service Unavailable: document store unreachable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
