package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/docingest/internal/gcp"
	"github.com/Lllllllleong/docingest/internal/models"
	"github.com/Lllllllleong/docingest/internal/ocr"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ObjectFetcher reads source objects out of whichever bucket the storage
// event names.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Outcome tags what happened to one record of a router batch.
type Outcome string

const (
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeProcessed Outcome = "PROCESSED"
	OutcomeFailed    Outcome = "FAILED"
)

// RecordResult is the per-record verdict of a batch run.
type RecordResult struct {
	Key     string
	Outcome Outcome
	Err     error
}

type RouterConfig struct {
	IngestPrefix    string
	ProcessedBucket string
	OCREndpoint     string
	OCRToken        string
	NotifyTopic     string
	NotifyAccount   string
}

// RouterFunction is the entry point of the pipeline: it inspects each newly
// created object and either extracts it directly (DOCX), hands it to the OCR
// service (PDF), or skips it.
type RouterFunction struct {
	config    RouterConfig
	fetcher   ObjectFetcher
	submitter *Submitter
	writer    *OutputWriter
	inspect   func(data []byte) (int, error)
}

func NewRouter(ctx context.Context) (*RouterFunction, error) {
	config := RouterConfig{
		IngestPrefix:    gcp.GetEnv("INGEST_PREFIX", "docs/"),
		ProcessedBucket: gcp.GetEnv("PROCESSED_BUCKET", ""),
		OCREndpoint:     gcp.GetEnv("OCR_ENDPOINT", ""),
		OCRToken:        gcp.GetEnv("OCR_API_TOKEN", ""),
		NotifyTopic:     gcp.GetEnv("OCR_NOTIFY_TOPIC", ""),
		NotifyAccount:   gcp.GetEnv("OCR_PUBLISH_SERVICE_ACCOUNT", ""),
	}
	if config.ProcessedBucket == "" {
		return nil, fmt.Errorf("PROCESSED_BUCKET environment variable must be set")
	}
	if config.OCREndpoint == "" {
		return nil, fmt.Errorf("OCR_ENDPOINT environment variable must be set")
	}
	if config.NotifyTopic == "" {
		return nil, fmt.Errorf("OCR_NOTIFY_TOPIC environment variable must be set")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	analysisClient, err := ocr.NewClient(config.OCREndpoint, config.OCRToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR client: %w", err)
	}

	f := newRouter(
		config,
		gcp.NewGCSFetcher(storageClient),
		NewSubmitter(analysisClient, ocr.NotificationChannel{
			Topic:          config.NotifyTopic,
			ServiceAccount: config.NotifyAccount,
		}),
		NewOutputWriter(gcp.NewGCSStore(storageClient, config.ProcessedBucket)),
	)
	slog.Info("Ingest router initialized.", "ingestPrefix", config.IngestPrefix, "processedBucket", config.ProcessedBucket)
	return f, nil
}

func newRouter(config RouterConfig, fetcher ObjectFetcher, submitter *Submitter, writer *OutputWriter) *RouterFunction {
	return &RouterFunction{
		config:    config,
		fetcher:   fetcher,
		submitter: submitter,
		writer:    writer,
		inspect:   inspectPDF,
	}
}

// RouteBatch processes every record independently and never fails the batch:
// a malformed or unprocessable record is logged and tagged Failed while the
// loop continues. Redelivery of an individual record is the event source's
// concern, not ours.
func (f *RouterFunction) RouteBatch(ctx context.Context, records []models.ObjectRecord) []RecordResult {
	results := make([]RecordResult, 0, len(records))
	for _, record := range records {
		result := f.routeOne(ctx, record)
		if result.Err != nil {
			slog.Error("Failed to process record.", "gcsObject", record.Key, "error", result.Err)
		}
		results = append(results, result)
	}
	return results
}

func (f *RouterFunction) routeOne(ctx context.Context, record models.ObjectRecord) RecordResult {
	if !strings.HasPrefix(strings.ToLower(record.Key), f.config.IngestPrefix) {
		return RecordResult{Key: record.Key, Outcome: OutcomeSkipped}
	}

	ref := models.ParseDocumentRef(record.Bucket, record.Key)
	logCtx := slog.With("gcsBucket", record.Bucket, "gcsObject", record.Key, "docId", ref.DocID, "ingestDate", ref.IngestDate)

	switch ref.Extension() {
	case "pdf":
		if err := f.processPDF(ctx, logCtx, ref); err != nil {
			return RecordResult{Key: record.Key, Outcome: OutcomeFailed, Err: err}
		}
	case "docx":
		if err := f.processDOCX(ctx, logCtx, ref); err != nil {
			return RecordResult{Key: record.Key, Outcome: OutcomeFailed, Err: err}
		}
	default:
		logCtx.Warn("Unsupported file type, skipping.", "extension", ref.Extension())
		return RecordResult{Key: record.Key, Outcome: OutcomeSkipped}
	}

	return RecordResult{Key: record.Key, Outcome: OutcomeProcessed}
}

// processPDF stages the object locally, rejects documents the OCR service
// would choke on, and submits the analysis job tagged with the source key.
func (f *RouterFunction) processPDF(ctx context.Context, logCtx *slog.Logger, ref models.DocumentRef) error {
	data, err := f.fetcher.Fetch(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return fmt.Errorf("download source PDF: %w", err)
	}

	pageCount, err := f.inspect(data)
	if err != nil {
		return fmt.Errorf("validate source PDF: %w", err)
	}
	logCtx.Info("Validated source PDF.", "pageCount", pageCount)

	if _, err := f.submitter.Submit(ctx, ref.Bucket, ref.Key); err != nil {
		return err
	}
	return nil
}

func (f *RouterFunction) processDOCX(ctx context.Context, logCtx *slog.Logger, ref models.DocumentRef) error {
	data, err := f.fetcher.Fetch(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return fmt.Errorf("download source DOCX: %w", err)
	}

	text, err := ExtractDOCX(data)
	if err != nil {
		return fmt.Errorf("extract DOCX text: %w", err)
	}

	if err := f.writer.Write(ctx, DirectResult(ref, text)); err != nil {
		return err
	}
	logCtx.Info("Processed DOCX document directly.", "textLength", len(text))
	return nil
}

// inspectPDF validates the document with relaxed rules and returns its page
// count.
func inspectPDF(data []byte) (int, error) {
	tempDir, err := os.MkdirTemp("", "ingest-router-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return 0, fmt.Errorf("failed to stage PDF: %w", err)
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return 0, err
	}
	return api.PageCountFile(path)
}
