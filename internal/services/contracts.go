package services

import (
	"context"
	"log/slog"

	"github.com/Lllllllleong/htareportflow/internal/llm"
	"github.com/Lllllllleong/htareportflow/internal/models"
)

// PageFetcher downloads a page or file. Non-2xx responses must be errors.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ReportConverter extracts the text of each page of a PDF file.
type ReportConverter interface {
	Convert(ctx context.Context, path string) ([]string, error)
}

// Store persists documents and their chunks.
type Store interface {
	Ping(ctx context.Context) error
	// CreateDocument returns models.ErrDuplicateDocument for a known id.
	CreateDocument(ctx context.Context, doc *models.Document) error
	// GetDocument returns models.ErrDocumentNotFound for an unknown id.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// SaveDocument upserts the whole document.
	SaveDocument(ctx context.Context, doc *models.Document) error
	// MarkFailed sets only the status and error details of a stored document.
	MarkFailed(ctx context.Context, id, errorDetails string) error
	DeleteChunks(ctx context.Context, documentID string) (int, error)
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
}

// Notifier tells downstream consumers that a document is enriched.
type Notifier interface {
	Notify(ctx context.Context, doc *models.Document) error
}

// ReportArchiver keeps a copy of a downloaded report and returns its location.
type ReportArchiver interface {
	Archive(ctx context.Context, documentID, hash string, data []byte) (string, error)
}

// TextInvoker runs the model tasks. *llm.Invoker implements it.
type TextInvoker interface {
	Translate(ctx context.Context, text string) (string, error)
	Summarize(ctx context.Context, text string) string
	Embed(ctx context.Context, text string) (llm.Embedding, error)
}

var _ TextInvoker = (*llm.Invoker)(nil)

// LogNotifier records notifications in the log. It stands in when no workflow is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the document id.
func (n LogNotifier) Notify(_ context.Context, doc *models.Document) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Document enriched; no notification workflow configured.", "documentId", doc.ID, "status", doc.Status)
	return nil
}
