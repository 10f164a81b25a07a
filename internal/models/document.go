package models

import (
	"errors"
	"time"
)

// Document statuses, in the order the enricher advances through them.
const (
	StatusNew              = "NEW"
	StatusDetailsExtracted = "DETAILS_EXTRACTED"
	StatusTextExtracted    = "TEXT_EXTRACTED"
	StatusTranslated       = "TRANSLATED"
	StatusSummarized       = "SUMMARIZED"
	StatusEmbedded         = "EMBEDDED"
	StatusCompleted        = "COMPLETED"
	StatusFailed           = "FAILED"
)

var (
	// ErrDuplicateDocument is returned by a store when a document with the same id already exists.
	ErrDuplicateDocument = errors.New("document already exists")
	// ErrDocumentNotFound is returned by a store when no document has the requested id.
	ErrDocumentNotFound = errors.New("document not found")
)

// Document is one catalog listing entry and everything the enricher learns about it.
// It is stored in Firestore keyed by ID. The text fields stay empty until their stage has run.
type Document struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Year   string `json:"year"`
	Source string `json:"source"`

	DetailData    DetailData `json:"detailData,omitempty"`
	MetaEmbedding []float32  `json:"-"`

	ReportURL          string `json:"reportUrl,omitempty"`
	ReportHash         string `json:"reportHash,omitempty"`
	ReportArchiveURI   string `json:"reportArchiveUri,omitempty"`
	ReportOriginalText string `json:"reportOriginalText,omitempty"`
	ReportEnglishText  string `json:"reportEnglishText,omitempty"`
	AISummary          string `json:"aiSummary,omitempty"`

	ChunkCount    int  `json:"chunkCount"`
	ChunksPending bool `json:"chunksPending"`

	Status       string    `json:"status"`
	ErrorDetails string    `json:"errorDetails,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Clone returns a deep copy, so a failed stage can hand back the last persisted state.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.DetailData = d.DetailData.Clone()
	if d.MetaEmbedding != nil {
		c.MetaEmbedding = append([]float32(nil), d.MetaEmbedding...)
	}
	return &c
}

// Chunk is one embedded window of a document's report text. The chunk set of a
// document is always replaced as a whole.
type Chunk struct {
	DocumentID  string    `json:"documentId"`
	ChunkIndex  int       `json:"chunkIndex"`
	Text        string    `json:"text"`
	Vector      []float32 `json:"vector"`
	Model       string    `json:"model,omitempty"`
	SourceTitle string    `json:"sourceTitle"`
	SourceURL   string    `json:"sourceUrl"`
}
