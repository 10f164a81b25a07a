package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not an error, which keeps reruns idempotent.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists; skipping write.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to copy content to GCS object.", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		// The precondition is usually only checked when the upload is finalized.
		if isPreconditionFailed(err) {
			slog.Info("Object already exists; skipping write.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer.", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// ReportArchive stores downloaded report files in a bucket, one object per distinct file.
type ReportArchive struct {
	client     *storage.Client
	bucketName string
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewReportArchive creates a ReportArchive for bucketName.
func NewReportArchive(client *storage.Client, bucketName string, logger *slog.Logger) *ReportArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportArchive{
		client:     client,
		bucketName: bucketName,
		maxRetries: 4,
		backoff:    1 * time.Second,
		logger:     logger,
	}
}

// ReportObjectName is the object a report is archived under. The content hash makes the
// name stable across reruns for the same file.
func ReportObjectName(documentID, hash string) string {
	return fmt.Sprintf("reports/%s/%s.pdf", documentID, hash)
}

// Archive uploads data for documentID and returns its gs:// URI.
func (a *ReportArchive) Archive(ctx context.Context, documentID, hash string, data []byte) (string, error) {
	objectName := ReportObjectName(documentID, hash)
	bucket := a.client.Bucket(a.bucketName)
	logCtx := a.logger.With("documentId", documentID, "gcsObject", objectName)

	backoff := a.backoff
	var lastErr error
	for i := 0; i < a.maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()
			return SaveToGCSAtomically(writeCtx, bucket, objectName, "application/pdf", data)
		}()
		if err == nil {
			uri := fmt.Sprintf("gs://%s/%s", a.bucketName, objectName)
			logCtx.Info("Report archived.", "uri", uri)
			return uri, nil
		}

		lastErr = err
		logCtx.Warn("Upload failed, will retry.", "attempt", i+1, "maxRetries", a.maxRetries, "backoff", backoff.String(), "error", err)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			logCtx.Error("Context cancelled during backoff. Aborting retries.", "error", ctx.Err())
			return "", ctx.Err()
		}
	}
	logCtx.Error("Upload failed after all retries.", "error", lastErr)
	return "", fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}
