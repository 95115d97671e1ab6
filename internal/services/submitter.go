package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/docingest/internal/ocr"
)

// AnalysisClient is the slice of the OCR service API the pipeline uses.
// ocr.Client implements it; tests substitute fakes.
type AnalysisClient interface {
	StartAnalysis(ctx context.Context, req ocr.StartAnalysisRequest) (string, error)
	GetResults(ctx context.Context, jobID, pageToken string) (*ocr.ResultsPage, error)
}

// Submitter starts asynchronous OCR jobs for documents that need heavy
// recognition. It keeps no state between submission and completion: the job
// tag, set to the full object key, is the only link the completion consumer
// gets back to the source document.
type Submitter struct {
	notify       ocr.NotificationChannel
	analysis     AnalysisClient
	featureTypes []string
}

func NewSubmitter(analysis AnalysisClient, notify ocr.NotificationChannel) *Submitter {
	return &Submitter{
		notify:       notify,
		analysis:     analysis,
		featureTypes: []string{ocr.FeatureTables, ocr.FeatureForms},
	}
}

// Submit starts one analysis job for gs://bucket/key and returns the
// service-assigned job ID.
func (s *Submitter) Submit(ctx context.Context, bucket, key string) (string, error) {
	req := ocr.StartAnalysisRequest{
		FeatureTypes:        s.featureTypes,
		NotificationChannel: s.notify,
		Tag:                 key,
	}
	req.Input.Bucket = bucket
	req.Input.Object = key

	jobID, err := s.analysis.StartAnalysis(ctx, req)
	if err != nil {
		return "", fmt.Errorf("submit OCR job for %s: %w", key, err)
	}

	slog.Info("Started OCR analysis job.", "jobId", jobID, "gcsObject", key)
	return jobID, nil
}
