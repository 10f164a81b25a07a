package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/Lllllllleong/htareportflow/internal/chunker"
	"github.com/Lllllllleong/htareportflow/internal/extractor"
	"github.com/Lllllllleong/htareportflow/internal/llm"
	"github.com/Lllllllleong/htareportflow/internal/models"
	"github.com/Lllllllleong/htareportflow/internal/report"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoDetailPage is returned for documents without a detail page URL.
	ErrNoDetailPage = errors.New("document has no detail page URL")
	// ErrNoReportURL is returned when the detail data names no published report.
	ErrNoReportURL = errors.New("URL for published report not found in the document")
	// ErrUnsupportedReport is returned when the report link is not a PDF.
	ErrUnsupportedReport = errors.New("report URL does not point to a PDF file")
	// ErrEmptyReport is returned when the report yields no text.
	ErrEmptyReport = errors.New("report contains no extractable text")
)

// EnricherConfig holds all configuration for the enricher service.
type EnricherConfig struct {
	// Workers bounds how many documents are enriched at once.
	Workers int
	// Resume skips stages whose output the document already has.
	Resume bool
	// ReportSection and ReportField locate the report link in the detail data.
	ReportSection string
	ReportField   string

	TranslateChunkSize    int
	TranslateChunkOverlap int
	EmbedChunkSize        int
	EmbedChunkOverlap     int
}

// EnricherDeps are the collaborators of the enricher. Archiver may be nil.
type EnricherDeps struct {
	Store     Store
	Fetcher   PageFetcher
	Converter ReportConverter
	Invoker   TextInvoker
	Archiver  ReportArchiver
	Notifier  Notifier
	Logger    *slog.Logger
}

// Enricher drives documents through detail extraction, report text extraction,
// translation, summarization, chunk embedding and notification.
type Enricher struct {
	deps             EnricherDeps
	extractor        *extractor.Extractor
	translateChunker *chunker.Chunker
	embedChunker     *chunker.Chunker
	config           EnricherConfig
	logger           *slog.Logger
}

// NewEnricher creates an Enricher.
func NewEnricher(deps EnricherDeps, config EnricherConfig) *Enricher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{Logger: logger}
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Enricher{
		deps:             deps,
		extractor:        extractor.New(logger),
		translateChunker: newChunker(config.TranslateChunkSize, config.TranslateChunkOverlap),
		embedChunker:     newChunker(config.EmbedChunkSize, config.EmbedChunkOverlap),
		config:           config,
		logger:           logger,
	}
}

// WithResume returns a copy of the enricher with stage skipping switched on or off.
func (e *Enricher) WithResume(resume bool) *Enricher {
	c := *e
	c.config.Resume = resume
	return &c
}

func newChunker(size, overlap int) *chunker.Chunker {
	var opts []chunker.Option
	if size > 0 {
		opts = append(opts, chunker.WithSize(size))
		opts = append(opts, chunker.WithOverlap(overlap))
	}
	return chunker.New(opts...)
}

// stage is one persisted step of the pipeline.
type stage struct {
	name   string
	status string
	// done reports whether the document already holds the stage output.
	done func(doc *models.Document) bool
	run  func(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error
}

func (e *Enricher) stages() []stage {
	return []stage{
		{
			name:   "extract details",
			status: models.StatusDetailsExtracted,
			done:   func(doc *models.Document) bool { return len(doc.DetailData) > 0 },
			run:    e.extractDetails,
		},
		{
			name:   "extract report text",
			status: models.StatusTextExtracted,
			done:   func(doc *models.Document) bool { return doc.ReportOriginalText != "" },
			run:    e.extractReportText,
		},
		{
			name:   "translate",
			status: models.StatusTranslated,
			done:   func(doc *models.Document) bool { return doc.ReportEnglishText != "" },
			run:    e.translate,
		},
		{
			name:   "summarize",
			status: models.StatusSummarized,
			done: func(doc *models.Document) bool {
				return doc.AISummary != "" && doc.AISummary != llm.SummaryFallback
			},
			run: e.summarize,
		},
		{
			name:   "embed chunks",
			status: models.StatusEmbedded,
			done:   func(doc *models.Document) bool { return doc.ChunkCount > 0 && !doc.ChunksPending },
			run:    e.embedChunks,
		},
		{
			name:   "notify",
			status: models.StatusCompleted,
			done:   func(doc *models.Document) bool { return doc.Status == models.StatusCompleted },
			run:    e.notify,
		},
	}
}

// ProcessBatch enriches every id and returns one outcome per id, in input order. Only an
// unreachable store fails the batch; document failures are recorded in their outcomes.
func (e *Enricher) ProcessBatch(ctx context.Context, ids []string) (*models.BatchResult, error) {
	runID := uuid.NewString()
	logCtx := e.logger.With("runId", runID)

	if err := e.deps.Store.Ping(ctx); err != nil {
		logCtx.Error("Store unreachable; aborting batch.", "error", err)
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	logCtx.Info("Starting enrichment batch.", "documents", len(ids), "workers", e.config.Workers, "resume", e.config.Resume)

	outcomes := make([]models.DocumentOutcome, len(ids))
	var eg errgroup.Group
	eg.SetLimit(e.config.Workers)
	for i, id := range ids {
		eg.Go(func() error {
			outcomes[i] = e.processDocument(ctx, runID, id)
			return nil
		})
	}
	_ = eg.Wait()

	result := &models.BatchResult{RunID: runID, Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Succeeded() {
			result.Completed++
		} else {
			result.Failed++
		}
	}
	logCtx.Info("Enrichment batch finished.", "completed", result.Completed, "failed", result.Failed)
	return result, nil
}

// ProcessDocument enriches a single document.
func (e *Enricher) ProcessDocument(ctx context.Context, id string) models.DocumentOutcome {
	return e.processDocument(ctx, uuid.NewString(), id)
}

func (e *Enricher) processDocument(ctx context.Context, runID, id string) models.DocumentOutcome {
	logCtx := e.logger.With("documentId", id, "runId", runID)
	logCtx.Info("Processing document.")

	doc, err := e.deps.Store.GetDocument(ctx, id)
	if err != nil {
		logCtx.Error("Failed to load document.", "error", err)
		return models.DocumentOutcome{DocumentID: id, Error: fmt.Sprintf("failed to load document: %v", err)}
	}

	for _, st := range e.stages() {
		if e.config.Resume && st.done(doc) {
			logCtx.Info("Stage output present; skipping.", "stage", st.name)
			continue
		}
		if err := st.run(ctx, logCtx, doc); err != nil {
			return e.handleError(ctx, logCtx, doc, fmt.Sprintf("stage %q failed", st.name), err)
		}
		doc.Status = st.status
		doc.ErrorDetails = ""
		if err := e.deps.Store.SaveDocument(ctx, doc); err != nil {
			return e.handleError(ctx, logCtx, doc, fmt.Sprintf("failed to save after stage %q", st.name), err)
		}
		logCtx.Info("Stage complete.", "stage", st.name, "status", doc.Status)
	}

	return models.DocumentOutcome{DocumentID: id, Status: doc.Status, Document: doc.Clone()}
}

// handleError marks the document FAILED with the error details and keeps everything it
// had persisted before the failing stage.
func (e *Enricher) handleError(ctx context.Context, logCtx *slog.Logger, doc *models.Document, message string, originalErr error) models.DocumentOutcome {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)

	doc.Status = models.StatusFailed
	doc.ErrorDetails = fullError
	if err := e.deps.Store.MarkFailed(ctx, doc.ID, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update status to FAILED after a processing error.", "updateError", err)
	}
	return models.DocumentOutcome{DocumentID: doc.ID, Status: doc.Status, Error: fullError, Document: doc.Clone()}
}

func (e *Enricher) extractDetails(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	if doc.URL == "" {
		return ErrNoDetailPage
	}
	markup, err := e.deps.Fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch detail page: %w", err)
	}
	detail, err := e.extractor.ExtractHTML(markup, doc.URL)
	if err != nil {
		return err
	}
	doc.DetailData = detail

	// The metadata vector is a nice-to-have; failures leave it unset.
	if text := MetaEmbeddingText(doc); text != "" {
		emb, err := e.deps.Invoker.Embed(ctx, text)
		if err != nil {
			logCtx.Warn("Meta embedding failed; continuing without it.", "error", err)
		} else {
			doc.MetaEmbedding = emb.Vector
		}
	}
	return nil
}

func (e *Enricher) extractReportText(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	reportURL := ResolveReportURL(doc.DetailData, e.config.ReportSection, e.config.ReportField)
	if reportURL == "" {
		return ErrNoReportURL
	}
	if !report.IsPDFURL(reportURL) {
		return fmt.Errorf("%w: %s", ErrUnsupportedReport, reportURL)
	}

	data, err := e.deps.Fetcher.Fetch(ctx, reportURL)
	if err != nil {
		return fmt.Errorf("failed to download report: %w", err)
	}
	hash := report.Hash(data)
	logCtx = logCtx.With("reportHash", hash)

	archiveURI := ""
	if e.deps.Archiver != nil {
		archiveURI, err = e.deps.Archiver.Archive(ctx, doc.ID, hash, data)
		if err != nil {
			logCtx.Warn("Failed to archive report; continuing.", "error", err)
		}
	}

	pages, err := e.convert(ctx, data)
	if err != nil {
		return err
	}
	text := report.JoinPages(pages)
	if text == "" {
		return ErrEmptyReport
	}

	logCtx.Info("Report text extracted.", "pages", len(pages), "chars", len(text))
	doc.ReportURL = reportURL
	doc.ReportHash = hash
	doc.ReportArchiveURI = archiveURI
	doc.ReportOriginalText = text
	return nil
}

// convert writes the report to a temp file for the converter.
func (e *Enricher) convert(ctx context.Context, data []byte) ([]string, error) {
	f, err := os.CreateTemp("", "report-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	pages, err := e.deps.Converter.Convert(ctx, f.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to convert report: %w", err)
	}
	return pages, nil
}

func (e *Enricher) translate(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	windows := e.translateChunker.Split(doc.ReportOriginalText)
	translated := make([]string, 0, len(windows))
	for _, w := range windows {
		logCtx.Info("Translating chunk.", "chunk", w.Index+1, "of", len(windows))
		out, err := e.deps.Invoker.Translate(ctx, w.Text)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", w.Index, err)
		}
		translated = append(translated, out)
	}
	doc.ReportEnglishText = strings.Join(translated, " ")
	return nil
}

func (e *Enricher) summarize(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	doc.AISummary = e.deps.Invoker.Summarize(ctx, doc.ReportOriginalText)
	if doc.AISummary == llm.SummaryFallback {
		logCtx.Warn("Stored fallback summary.")
	}
	return nil
}

// embedChunks replaces the chunk set of the document. The pending flag is persisted
// before the old chunks are deleted and cleared only after the new set is written, so a
// crash in between leaves a document that is visibly in need of reprocessing.
func (e *Enricher) embedChunks(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	windows := e.embedChunker.Split(doc.ReportOriginalText)
	chunks := make([]models.Chunk, 0, len(windows))
	for _, w := range windows {
		logCtx.Info("Embedding chunk.", "chunk", w.Index+1, "of", len(windows))
		emb, err := e.deps.Invoker.Embed(ctx, w.Text)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", w.Index, err)
		}
		chunks = append(chunks, models.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  w.Index,
			Text:        w.Text,
			Vector:      emb.Vector,
			Model:       emb.Model,
			SourceTitle: doc.Title,
			SourceURL:   doc.URL,
		})
	}

	doc.ChunksPending = true
	if err := e.deps.Store.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to mark chunks pending: %w", err)
	}
	deleted, err := e.deps.Store.DeleteChunks(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}
	if err := e.deps.Store.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	logCtx.Info("Chunk set replaced.", "deleted", deleted, "inserted", len(chunks))
	doc.ChunksPending = false
	doc.ChunkCount = len(chunks)
	return nil
}

func (e *Enricher) notify(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	if err := e.deps.Notifier.Notify(ctx, doc); err != nil {
		logCtx.Warn("Notification failed; document stays enriched.", "error", err)
	}
	return nil
}

// ResolveReportURL finds the report link in the detail data: first at section/field,
// then under field in any section or at the top level.
func ResolveReportURL(detail models.DetailData, section, field string) string {
	if v, ok := detail.Lookup(section, field); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := detail.Lookup("", field); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	keys := detail.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		if v, ok := detail.Lookup(key, field); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// MetaEmbeddingText joins the descriptive metadata of a record into one sentence list.
func MetaEmbeddingText(doc *models.Document) string {
	var sb strings.Builder
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sb.WriteString(s)
			sb.WriteString(". ")
		}
	}
	field := func(section, name string) string {
		v, _ := doc.DetailData.Lookup(section, name)
		return v
	}

	add(doc.Title)
	add(field("", "Original Title"))
	add(field("Details", "English language abstract"))
	add(doc.Source)
	if terms, ok := doc.DetailData["MeSH Terms"]; ok && terms.Kind == models.KindList && len(terms.List) > 0 {
		add(strings.Join(terms.List, ", "))
	}
	add(field("Contact", "Contact Name"))
	add(field("Details", "Country"))
	add(field("Details", "Publication Type"))

	return strings.TrimSpace(sb.String())
}
