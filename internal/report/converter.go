// Package report turns downloaded report PDFs into plain text.
package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrInvalidPDF is returned when a file cannot be read as a PDF even after repair.
var ErrInvalidPDF = errors.New("file is not a readable PDF")

// PDFConverter extracts the plain text of every page of a PDF.
type PDFConverter struct {
	logger *slog.Logger
}

// NewPDFConverter creates a PDFConverter. A nil logger falls back to slog.Default().
func NewPDFConverter(logger *slog.Logger) *PDFConverter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFConverter{logger: logger}
}

// Convert returns the text of each page of the PDF at path, in page order. A file that
// fails validation is rewritten by the optimizer once before giving up.
func (c *PDFConverter) Convert(ctx context.Context, path string) ([]string, error) {
	logCtx := c.logger.With("path", path)

	source := path
	if err := validatePDF(path); err != nil {
		logCtx.Warn("PDF failed validation; attempting repair.", "error", err)

		tempDir, err := os.MkdirTemp("", "report-repair-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tempDir)

		repaired := filepath.Join(tempDir, "repaired.pdf")
		if err := optimizePDF(path, repaired); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
		}
		source = repaired
	}

	pageCount, err := api.PageCountFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}

	f, r, err := pdf.Open(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	defer f.Close()

	pages := make([]string, 0, pageCount)
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(r, i)
		if err != nil {
			// A single unreadable page should not sink the whole report.
			logCtx.Warn("Failed to extract page text; page left empty.", "page", i, "error", err)
		}
		pages = append(pages, text)
	}

	logCtx.Info("PDF converted to text.", "pageCount", pageCount, "pagesRead", len(pages))
	return pages, nil
}

func pageText(r *pdf.Reader, num int) (text string, err error) {
	// The text extractor panics on some malformed content streams.
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("page %d: %v", num, rec)
		}
	}()
	p := r.Page(num)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func validatePDF(path string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.ValidateFile(path, cfg)
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

// JoinPages joins page texts with newlines, trims every line and drops empty ones.
func JoinPages(pages []string) string {
	lines := strings.Split(strings.Join(pages, "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Hash returns the hex encoded SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsPDFURL reports whether a report link points at a PDF file.
func IsPDFURL(rawURL string) bool {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(strings.ToLower(u), ".pdf")
}
