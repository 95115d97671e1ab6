package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/docingest/internal/gcp"
	"github.com/Lllllllleong/docingest/internal/models"
	"github.com/Lllllllleong/docingest/internal/ocr"
)

// AlertSink receives operational alerts. gcp.AlertPublisher implements it.
type AlertSink interface {
	Publish(ctx context.Context, data []byte) error
}

type ConsumerConfig struct {
	ProcessedBucket  string
	LowConfThreshold float64
	ProjectID        string
	AlertsTopic      string
	OCREndpoint      string
	OCRToken         string
}

// ConsumerFunction handles OCR completion notifications. For a succeeded job
// it re-hydrates the full multi-page result from the analysis service,
// aggregates recognized lines into the canonical text body with confidence
// metrics, recovers the source document from the job tag, and writes the
// output artifacts.
//
// Delivery is at least once; every step is idempotent, so a redelivered
// notification simply rewrites the same artifacts.
type ConsumerFunction struct {
	config   ConsumerConfig
	analysis AnalysisClient
	writer   *OutputWriter
	alerts   AlertSink
}

func NewConsumer(ctx context.Context) (*ConsumerFunction, error) {
	config := ConsumerConfig{
		ProcessedBucket:  gcp.GetEnv("PROCESSED_BUCKET", ""),
		LowConfThreshold: gcp.GetEnvFloat("LOW_CONF_THRESHOLD", 0.85),
		ProjectID:        gcp.GetEnv("PROJECT_ID", ""),
		AlertsTopic:      gcp.GetEnv("ALERTS_TOPIC", ""),
		OCREndpoint:      gcp.GetEnv("OCR_ENDPOINT", ""),
		OCRToken:         gcp.GetEnv("OCR_API_TOKEN", ""),
	}
	if config.ProcessedBucket == "" {
		return nil, fmt.Errorf("PROCESSED_BUCKET environment variable must be set")
	}
	if config.OCREndpoint == "" {
		return nil, fmt.Errorf("OCR_ENDPOINT environment variable must be set")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	analysisClient, err := ocr.NewClient(config.OCREndpoint, config.OCRToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR client: %w", err)
	}

	var alerts AlertSink
	if config.AlertsTopic != "" && config.ProjectID != "" {
		publisher, err := gcp.NewAlertPublisher(ctx, config.ProjectID, config.AlertsTopic)
		if err != nil {
			return nil, fmt.Errorf("failed to create alert publisher: %w", err)
		}
		alerts = publisher
	}

	f := newConsumer(config, analysisClient, NewOutputWriter(gcp.NewGCSStore(storageClient, config.ProcessedBucket)), alerts)
	slog.Info("OCR completion consumer initialized.", "processedBucket", config.ProcessedBucket, "lowConfThreshold", config.LowConfThreshold)
	return f, nil
}

func newConsumer(config ConsumerConfig, analysis AnalysisClient, writer *OutputWriter, alerts AlertSink) *ConsumerFunction {
	return &ConsumerFunction{
		config:   config,
		analysis: analysis,
		writer:   writer,
		alerts:   alerts,
	}
}

// Process handles one completion notification. A returned error marks the
// invocation failed so the subscription redelivers the message (and
// eventually dead-letters it); a nil return acknowledges it.
func (f *ConsumerFunction) Process(ctx context.Context, msg models.OCRCompletion) error {
	logCtx := slog.With("jobId", msg.JobID, "status", msg.Status, "jobTag", msg.JobTag)

	if msg.Status != models.JobSucceeded {
		logCtx.Warn("OCR job did not succeed, dropping.")
		f.raiseAlert(ctx, logCtx, msg)
		return nil
	}

	blocks, pages, err := f.fetchAllResults(ctx, msg.JobID)
	if err != nil {
		logCtx.Error("Failed to retrieve OCR results.", "error", err)
		return err
	}

	text, avgConf, minConf := aggregateLines(blocks)

	ref := models.ParseDocumentRef("", msg.JobTag)
	result := models.ExtractionResult{
		SourceKey:     msg.JobTag,
		DocID:         ref.DocID,
		IngestDate:    ref.IngestDate,
		Pages:         pages,
		AvgConfidence: avgConf,
		MinConfidence: minConf,
		Format:        "PDF",
		Text:          text,
	}

	if text != "" && avgConf < f.config.LowConfThreshold {
		logCtx.Warn("Extraction confidence below threshold.", "avgConfidence", avgConf, "threshold", f.config.LowConfThreshold)
	}

	if err := f.writer.Write(ctx, result); err != nil {
		logCtx.Error("Failed to write extraction artifacts.", "error", err)
		return err
	}
	return nil
}

// fetchAllResults pages through the job's result set until the service stops
// returning a continuation token. The aggregated page count is the maximum
// reported across result pages (the service repeats document metadata on
// each).
func (f *ConsumerFunction) fetchAllResults(ctx context.Context, jobID string) ([]ocr.Block, int, error) {
	var blocks []ocr.Block
	var pages int
	pageToken := ""

	for {
		page, err := f.analysis.GetResults(ctx, jobID, pageToken)
		if err != nil {
			return nil, 0, err
		}
		blocks = append(blocks, page.Blocks...)
		if page.DocumentMetadata.Pages > pages {
			pages = page.DocumentMetadata.Pages
		}
		if page.NextPageToken == "" {
			return blocks, pages, nil
		}
		pageToken = page.NextPageToken
	}
}

// raiseAlert surfaces a failed job to the alerts topic. Publishing is best
// effort: an alerting outage must not turn a terminal job failure into a
// redelivery loop.
func (f *ConsumerFunction) raiseAlert(ctx context.Context, logCtx *slog.Logger, msg models.OCRCompletion) {
	if f.alerts == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logCtx.Error("Failed to marshal alert payload.", "error", err)
		return
	}
	if err := f.alerts.Publish(ctx, payload); err != nil {
		logCtx.Error("Failed to publish OCR failure alert.", "error", err)
	}
}

// aggregateLines filters the result blocks down to recognized lines, joins
// their text with newlines, and computes average and minimum confidence
// normalized from the service's 0–100 scale to 0–1, rounded to 4 decimals.
// No recognized lines means both confidences are 0.
func aggregateLines(blocks []ocr.Block) (string, float64, float64) {
	var lines []string
	var confidences []float64
	for _, b := range blocks {
		if b.BlockType != ocr.BlockTypeLine || b.Text == "" {
			continue
		}
		lines = append(lines, b.Text)
		confidences = append(confidences, b.Confidence)
	}

	if len(confidences) == 0 {
		return strings.Join(lines, "\n"), 0.0, 0.0
	}

	sum := 0.0
	min := confidences[0]
	for _, c := range confidences {
		sum += c
		if c < min {
			min = c
		}
	}
	avg := round4(sum / float64(len(confidences)) / 100)
	return strings.Join(lines, "\n"), avg, round4(min / 100)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
