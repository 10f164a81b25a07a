package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/htareportflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// MaxVectorDimensions is the largest vector Firestore stores and indexes.
const MaxVectorDimensions = 2048

// ErrVectorTooLarge is returned for a vector Firestore would reject.
var ErrVectorTooLarge = fmt.Errorf("vector exceeds %d dimensions", MaxVectorDimensions)

// Report texts live in a "texts" subcollection of the document, split into parts that
// keep each part well under the 1 MiB document limit.
const (
	textsCollection  = "texts"
	textPartBytes    = 900 * 1024
	originalTextName = "reportOriginalText"
	englishTextName  = "reportEnglishText"
)

// documentRecord is the Firestore shape of models.Document without its report texts.
type documentRecord struct {
	ID     string `firestore:"id"`
	URL    string `firestore:"url"`
	Title  string `firestore:"title"`
	Year   string `firestore:"year"`
	Source string `firestore:"source"`

	DetailData    map[string]interface{} `firestore:"detailData,omitempty"`
	MetaEmbedding firestore.Vector32     `firestore:"metaEmbedding,omitempty"`

	ReportURL        string         `firestore:"reportUrl,omitempty"`
	ReportHash       string         `firestore:"reportHash,omitempty"`
	ReportArchiveURI string         `firestore:"reportArchiveUri,omitempty"`
	TextParts        map[string]int `firestore:"textParts,omitempty"`
	AISummary        string         `firestore:"aiSummary,omitempty"`

	ChunkCount    int  `firestore:"chunkCount"`
	ChunksPending bool `firestore:"chunksPending"`

	Status       string    `firestore:"status"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// chunkRecord is the Firestore shape of models.Chunk.
type chunkRecord struct {
	DocumentID  string             `firestore:"documentId"`
	ChunkIndex  int                `firestore:"chunkIndex"`
	Text        string             `firestore:"text"`
	Vector      firestore.Vector32 `firestore:"vector"`
	Model       string             `firestore:"model,omitempty"`
	SourceTitle string             `firestore:"sourceTitle"`
	SourceURL   string             `firestore:"sourceUrl"`
}

// textPartRecord is one part of a report text.
type textPartRecord struct {
	Field string `firestore:"field"`
	Part  int    `firestore:"part"`
	Text  string `firestore:"text"`
}

func toDocumentRecord(doc *models.Document) documentRecord {
	rec := documentRecord{
		ID:               doc.ID,
		URL:              doc.URL,
		Title:            doc.Title,
		Year:             doc.Year,
		Source:           doc.Source,
		ReportURL:        doc.ReportURL,
		ReportHash:       doc.ReportHash,
		ReportArchiveURI: doc.ReportArchiveURI,
		AISummary:        doc.AISummary,
		ChunkCount:       doc.ChunkCount,
		ChunksPending:    doc.ChunksPending,
		Status:           doc.Status,
		ErrorDetails:     doc.ErrorDetails,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if doc.DetailData != nil {
		rec.DetailData = doc.DetailData.ToMap()
	}
	if len(doc.MetaEmbedding) > 0 {
		rec.MetaEmbedding = firestore.Vector32(doc.MetaEmbedding)
	}
	return rec
}

func fromDocumentRecord(rec documentRecord) (*models.Document, error) {
	doc := &models.Document{
		ID:               rec.ID,
		URL:              rec.URL,
		Title:            rec.Title,
		Year:             rec.Year,
		Source:           rec.Source,
		ReportURL:        rec.ReportURL,
		ReportHash:       rec.ReportHash,
		ReportArchiveURI: rec.ReportArchiveURI,
		AISummary:        rec.AISummary,
		ChunkCount:       rec.ChunkCount,
		ChunksPending:    rec.ChunksPending,
		Status:           rec.Status,
		ErrorDetails:     rec.ErrorDetails,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
	if rec.DetailData != nil {
		detail, err := models.DetailDataFromMap(rec.DetailData)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", rec.ID, err)
		}
		doc.DetailData = detail
	}
	if len(rec.MetaEmbedding) > 0 {
		doc.MetaEmbedding = []float32(rec.MetaEmbedding)
	}
	return doc, nil
}

func toChunkRecord(c models.Chunk) chunkRecord {
	return chunkRecord{
		DocumentID:  c.DocumentID,
		ChunkIndex:  c.ChunkIndex,
		Text:        c.Text,
		Vector:      firestore.Vector32(c.Vector),
		Model:       c.Model,
		SourceTitle: c.SourceTitle,
		SourceURL:   c.SourceURL,
	}
}

// reportTexts returns the report texts of doc keyed by their stored field name.
func reportTexts(doc *models.Document) map[string]string {
	return map[string]string{
		originalTextName: doc.ReportOriginalText,
		englishTextName:  doc.ReportEnglishText,
	}
}

func setReportText(doc *models.Document, field, text string) {
	switch field {
	case originalTextName:
		doc.ReportOriginalText = text
	case englishTextName:
		doc.ReportEnglishText = text
	}
}

// SplitText cuts s into parts of at most maxBytes bytes without splitting a UTF-8
// sequence. An empty string has no parts.
func SplitText(s string, maxBytes int) []string {
	if maxBytes < utf8.UTFMax {
		maxBytes = utf8.UTFMax
	}
	var parts []string
	for len(s) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

// TextPartID is the Firestore id of one part of a report text.
func TextPartID(field string, part int) string {
	return fmt.Sprintf("%s_%03d", field, part)
}

// joinTextParts rebuilds each text from its first counts[field] parts. Parts past the
// count are leftovers of a longer earlier text and are ignored.
func joinTextParts(counts map[string]int, parts []textPartRecord) (map[string]string, error) {
	byField := make(map[string][]textPartRecord, len(counts))
	for _, p := range parts {
		if p.Part < counts[p.Field] {
			byField[p.Field] = append(byField[p.Field], p)
		}
	}
	texts := make(map[string]string, len(counts))
	for field, n := range counts {
		got := byField[field]
		if len(got) != n {
			return nil, fmt.Errorf("text %s has %d of %d parts", field, len(got), n)
		}
		sort.Slice(got, func(i, j int) bool { return got[i].Part < got[j].Part })
		var sb strings.Builder
		for _, p := range got {
			sb.WriteString(p.Text)
		}
		texts[field] = sb.String()
	}
	return texts, nil
}

func checkVector(v []float32) error {
	if len(v) > MaxVectorDimensions {
		return fmt.Errorf("%w: got %d", ErrVectorTooLarge, len(v))
	}
	return nil
}

// ChunkDocID is the Firestore id of a chunk.
func ChunkDocID(documentID string, index int) string {
	return fmt.Sprintf("%s_%05d", documentID, index)
}

// FirestoreStore keeps documents and their chunks in two collections.
type FirestoreStore struct {
	client          *firestore.Client
	collection      string
	chunkCollection string
	now             func() time.Time
	logger          *slog.Logger
}

// NewFirestoreStore creates a store over an existing client.
func NewFirestoreStore(client *firestore.Client, collection, chunkCollection string, logger *slog.Logger) *FirestoreStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreStore{
		client:          client,
		collection:      collection,
		chunkCollection: chunkCollection,
		now:             time.Now,
		logger:          logger,
	}
}

// Ping checks that the documents collection can be read.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	if _, err := s.client.Collection(s.collection).Limit(1).Documents(ctx).GetAll(); err != nil {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

// CreateDocument inserts doc. An existing id yields models.ErrDuplicateDocument.
func (s *FirestoreStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if err := checkVector(doc.MetaEmbedding); err != nil {
		return fmt.Errorf("document %s meta embedding: %w", doc.ID, err)
	}
	now := s.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	ref := s.client.Collection(s.collection).Doc(doc.ID)
	rec := toDocumentRecord(doc)
	// Texts of a new document only reach Firestore once the body exists, so a duplicate
	// never overwrites the parts of the stored document.
	_, err := ref.Create(ctx, rec)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("document %s: %w", doc.ID, models.ErrDuplicateDocument)
	}
	if err != nil {
		return fmt.Errorf("failed to create document %s: %w", doc.ID, err)
	}
	if doc.ReportOriginalText == "" && doc.ReportEnglishText == "" {
		return nil
	}
	counts, err := s.writeTexts(ctx, ref, doc)
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, []firestore.Update{{Path: "textParts", Value: counts}}); err != nil {
		return fmt.Errorf("failed to record text parts of %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument loads a document. A missing id yields models.ErrDocumentNotFound.
func (s *FirestoreStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	var rec documentRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = snap.Ref.ID
	}
	doc, err := fromDocumentRecord(rec)
	if err != nil {
		return nil, err
	}
	if len(rec.TextParts) == 0 {
		return doc, nil
	}

	snaps, err := snap.Ref.Collection(textsCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to get texts of %s: %w", id, err)
	}
	parts := make([]textPartRecord, 0, len(snaps))
	for _, ps := range snaps {
		var p textPartRecord
		if err := ps.DataTo(&p); err != nil {
			return nil, fmt.Errorf("failed to decode text part %s of %s: %w", ps.Ref.ID, id, err)
		}
		parts = append(parts, p)
	}
	texts, err := joinTextParts(rec.TextParts, parts)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	for field, text := range texts {
		setReportText(doc, field, text)
	}
	return doc, nil
}

// SaveDocument writes the full document, creating it if needed. The report texts are
// written to the texts subcollection first and the body records their part counts.
func (s *FirestoreStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	if err := checkVector(doc.MetaEmbedding); err != nil {
		return fmt.Errorf("document %s meta embedding: %w", doc.ID, err)
	}
	doc.UpdatedAt = s.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}

	ref := s.client.Collection(s.collection).Doc(doc.ID)
	counts, err := s.writeTexts(ctx, ref, doc)
	if err != nil {
		return err
	}
	rec := toDocumentRecord(doc)
	rec.TextParts = counts
	if _, err := ref.Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// writeTexts stores every non-empty report text of doc as parts and removes parts left
// over from longer texts. It returns the part count per field.
func (s *FirestoreStore) writeTexts(ctx context.Context, ref *firestore.DocumentRef, doc *models.Document) (map[string]int, error) {
	texts := ref.Collection(textsCollection)
	existing, err := texts.DocumentRefs(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list texts of %s: %w", doc.ID, err)
	}

	counts := map[string]int{}
	keep := map[string]bool{}
	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for field, text := range reportTexts(doc) {
		parts := SplitText(text, textPartBytes)
		if len(parts) == 0 {
			continue
		}
		counts[field] = len(parts)
		for i, part := range parts {
			id := TextPartID(field, i)
			keep[id] = true
			job, err := bw.Set(texts.Doc(id), textPartRecord{Field: field, Part: i, Text: part})
			if err != nil {
				bw.End()
				return nil, fmt.Errorf("failed to queue text part %s of %s: %w", id, doc.ID, err)
			}
			jobs = append(jobs, job)
		}
	}
	for _, old := range existing {
		if keep[old.ID] {
			continue
		}
		job, err := bw.Delete(old)
		if err != nil {
			bw.End()
			return nil, fmt.Errorf("failed to queue text part delete %s of %s: %w", old.ID, doc.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	if _, err := awaitJobs(jobs); err != nil {
		return nil, fmt.Errorf("failed to write texts of %s: %w", doc.ID, err)
	}
	if len(counts) == 0 {
		return nil, nil
	}
	return counts, nil
}

// MarkFailed sets only the status and error details of a stored document. It leaves the
// rest of the document as last saved.
func (s *FirestoreStore) MarkFailed(ctx context.Context, id, errorDetails string) error {
	_, err := s.client.Collection(s.collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: models.StatusFailed},
		{Path: "errorDetails", Value: errorDetails},
		{Path: "updatedAt", Value: s.now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("document %s: %w", id, models.ErrDocumentNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to mark document %s failed: %w", id, err)
	}
	return nil
}

// DeleteChunks removes every chunk of a document and returns how many were deleted.
func (s *FirestoreStore) DeleteChunks(ctx context.Context, documentID string) (int, error) {
	iter := s.client.Collection(s.chunkCollection).Where("documentId", "==", documentID).Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to list chunks of %s: %w", documentID, err)
		}
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to queue chunk delete %s: %w", snap.Ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted, err := awaitJobs(jobs)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	s.logger.Info("Deleted chunks.", "documentId", documentID, "count", deleted)
	return deleted, nil
}

// InsertChunks writes chunks with ids derived from document id and chunk index.
func (s *FirestoreStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	coll := s.client.Collection(s.chunkCollection)

	for _, c := range chunks {
		if err := checkVector(c.Vector); err != nil {
			return fmt.Errorf("chunk %d of %s: %w", c.ChunkIndex, c.DocumentID, err)
		}
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(chunks))
	for _, c := range chunks {
		job, err := bw.Set(coll.Doc(ChunkDocID(c.DocumentID, c.ChunkIndex)), toChunkRecord(c))
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue chunk %d of %s: %w", c.ChunkIndex, c.DocumentID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	if _, err := awaitJobs(jobs); err != nil {
		return fmt.Errorf("failed to insert chunks of %s: %w", chunks[0].DocumentID, err)
	}
	return nil
}

// awaitJobs collects bulk writer results, returning the success count and the errors.
func awaitJobs(jobs []*firestore.BulkWriterJob) (int, error) {
	var errs []error
	ok := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

// Close releases the client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
