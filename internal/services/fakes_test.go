package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Lllllllleong/htareportflow/internal/llm"
	"github.com/Lllllllleong/htareportflow/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	docs      map[string]*models.Document
	chunks    map[string][]models.Chunk
	pingErr   error
	insertErr error
	createErr error
	saves     int
}

func newFakeStore(docs ...*models.Document) *fakeStore {
	s := &fakeStore{docs: map[string]*models.Document{}, chunks: map[string][]models.Chunk{}}
	for _, d := range docs {
		s.docs[d.ID] = d.Clone()
	}
	return s
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.docs[doc.ID]; ok {
		return models.ErrDuplicateDocument
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *fakeStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	return d.Clone(), nil
}

func (s *fakeStore) SaveDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id, errorDetails string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return models.ErrDocumentNotFound
	}
	d.Status = models.StatusFailed
	d.ErrorDetails = errorDetails
	return nil
}

// sizeLimitedStore rejects saves whose report texts together exceed limit bytes, the way
// Firestore rejects an oversized document.
type sizeLimitedStore struct {
	*fakeStore
	limit int
}

func (s *sizeLimitedStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	if n := len(doc.ReportOriginalText) + len(doc.ReportEnglishText); n > s.limit {
		return fmt.Errorf("document %s exceeds the size limit: %d bytes", doc.ID, n)
	}
	return s.fakeStore.SaveDocument(ctx, doc)
}

func (s *fakeStore) DeleteChunks(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.chunks[documentID])
	delete(s.chunks, documentID)
	return n, nil
}

func (s *fakeStore) InsertChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, c := range chunks {
		s.chunks[c.DocumentID] = append(s.chunks[c.DocumentID], c)
	}
	return nil
}

func (s *fakeStore) doc(id string) *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("unexpected status 404 for %s", url)
	}
	return body, nil
}

// fakeConverter serves pages keyed by the content of the converted file.
type fakeConverter struct {
	pages map[string][]string
}

func (c *fakeConverter) Convert(_ context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pages, ok := c.pages[string(data)]
	if !ok {
		return nil, errors.New("not a PDF")
	}
	return pages, nil
}

type fakeInvoker struct {
	mu           sync.Mutex
	translateErr error
	embedErr     error
	summary      string
	translated   []string
	summarized   []string
	embedded     []string
}

func (f *fakeInvoker) Translate(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translated = append(f.translated, text)
	if f.translateErr != nil {
		return "", f.translateErr
	}
	return "EN " + text, nil
}

func (f *fakeInvoker) Summarize(_ context.Context, text string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarized = append(f.summarized, text)
	if f.summary == "" {
		return "A short summary."
	}
	return f.summary
}

func (f *fakeInvoker) Embed(_ context.Context, text string) (llm.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedded = append(f.embedded, text)
	if f.embedErr != nil {
		return llm.Embedding{}, f.embedErr
	}
	return llm.Embedding{Model: "embed-model", Vector: []float32{float32(len(text)), 1}}, nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (a *fakeArchiver) Archive(_ context.Context, documentID, hash string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return "gs://reports/" + documentID + "/" + hash + ".pdf", nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	notified []string
}

func (n *fakeNotifier) Notify(_ context.Context, doc *models.Document) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, doc.ID)
	return n.err
}
