package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/docingest/internal/models"
	"golang.org/x/sync/errgroup"
)

// BlobStore is the slice of object storage the pipeline needs. The production
// implementation is gcp.GCSStore; tests substitute an in-memory fake.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key, contentType string, data []byte) error
	Append(ctx context.Context, key, contentType string, line []byte) error
}

// OutputWriter persists an extraction result as three artifacts in the
// processed bucket: the plain-text body, a JSON metadata object pointing back
// at it, and one line in the per-date metrics log.
//
// The text and JSON keys are deterministic per doc ID and ingest date, so
// reprocessing overwrites instead of duplicating. The metrics log is
// append-only; a redelivered message appends a duplicate line, which its
// downstream consumers dedupe.
type OutputWriter struct {
	store BlobStore
}

func NewOutputWriter(store BlobStore) *OutputWriter {
	return &OutputWriter{store: store}
}

func (w *OutputWriter) Write(ctx context.Context, result models.ExtractionResult) error {
	textKey := result.TextKey()
	jsonKey := result.JSONKey()

	metadata := models.Metadata{
		Summary: result.Summarize(),
		TextGCS: textKey,
	}
	metadataJSON, err := marshalIndented(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", result.DocID, err)
	}
	metricsLine, err := result.MetricsLine()
	if err != nil {
		return fmt.Errorf("build metrics line for %s: %w", result.DocID, err)
	}

	// Text and metadata are independent overwrites; run them together. The
	// metrics append goes last so a line only ever lands for artifacts that
	// exist.
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return w.store.Put(gctx, textKey, "text/plain", []byte(result.Text))
	})
	eg.Go(func() error {
		return w.store.Put(gctx, jsonKey, "application/json", metadataJSON)
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("write artifacts for %s: %w", result.DocID, err)
	}

	if err := w.store.Append(ctx, result.MetricsKey(), "application/json", metricsLine); err != nil {
		return fmt.Errorf("append metrics for %s: %w", result.DocID, err)
	}

	slog.Info(
		"Wrote extraction artifacts.",
		"docId", result.DocID,
		"ingestDate", result.IngestDate,
		"format", result.Format,
		"pages", result.Pages,
		"textLength", len(result.Text),
		"avgConfidence", result.AvgConfidence,
	)
	return nil
}

func marshalIndented(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
