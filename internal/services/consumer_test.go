package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Lllllllleong/docingest/internal/models"
	"github.com/Lllllllleong/docingest/internal/ocr"
)

// fakeAnalysis serves canned result pages and records submissions.
type fakeAnalysis struct {
	pages      []ocr.ResultsPage
	calls      []string // page tokens in request order
	started    []ocr.StartAnalysisRequest
	startErr   error
	resultsErr error
}

func (f *fakeAnalysis) StartAnalysis(_ context.Context, req ocr.StartAnalysisRequest) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	return fmt.Sprintf("job-%d", len(f.started)), nil
}

func (f *fakeAnalysis) GetResults(_ context.Context, jobID, pageToken string) (*ocr.ResultsPage, error) {
	if f.resultsErr != nil {
		return nil, f.resultsErr
	}
	f.calls = append(f.calls, pageToken)
	for i := range f.pages {
		token := ""
		if i > 0 {
			token = fmt.Sprintf("token-%d", i)
		}
		if token == pageToken {
			return &f.pages[i], nil
		}
	}
	return nil, fmt.Errorf("no page for token %q", pageToken)
}

type fakeAlerts struct {
	published [][]byte
	err       error
}

func (f *fakeAlerts) Publish(_ context.Context, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, data)
	return nil
}

func line(text string, confidence float64) ocr.Block {
	return ocr.Block{BlockType: ocr.BlockTypeLine, Text: text, Confidence: confidence}
}

func newTestConsumer(analysis AnalysisClient, store *fakeStore, alerts AlertSink) *ConsumerFunction {
	return newConsumer(
		ConsumerConfig{ProcessedBucket: "processed", LowConfThreshold: 0.85},
		analysis,
		NewOutputWriter(store),
		alerts,
	)
}

func TestConsumerEndToEnd(t *testing.T) {
	analysis := &fakeAnalysis{
		pages: []ocr.ResultsPage{
			{
				Blocks:           []ocr.Block{line("alpha", 90), {BlockType: ocr.BlockTypeWord, Text: "noise", Confidence: 10}},
				DocumentMetadata: ocr.DocumentMetadata{Pages: 2},
				NextPageToken:    "token-1",
			},
			{
				Blocks:           []ocr.Block{line("beta", 80), line("gamma", 70)},
				DocumentMetadata: ocr.DocumentMetadata{Pages: 2},
			},
		},
	}
	store := newFakeStore()
	c := newTestConsumer(analysis, store, nil)

	err := c.Process(context.Background(), models.OCRCompletion{
		JobID:  "job-1",
		Status: models.JobSucceeded,
		JobTag: "docs/2025-01-01/x.pdf",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Pagination: first call without a token, second with the continuation
	// token, then stop.
	if len(analysis.calls) != 2 || analysis.calls[0] != "" || analysis.calls[1] != "token-1" {
		t.Errorf("unexpected pagination calls: %v", analysis.calls)
	}

	text := string(store.objects["docs/text/2025-01-01/x.txt"])
	if text != "alpha\nbeta\ngamma" {
		t.Errorf("text body = %q", text)
	}

	metrics := string(store.objects["docs/metrics/2025-01-01/metrics.jsonl"])
	for _, want := range []string{`"doc_id":"x"`, `"pages":2`, `"avg_confidence":0.8`, `"min_confidence":0.7`, `"format":"PDF"`} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics line missing %s: %q", want, metrics)
		}
	}
}

func TestConsumerFailedJobAlertsAndDrops(t *testing.T) {
	store := newFakeStore()
	alerts := &fakeAlerts{}
	c := newTestConsumer(&fakeAnalysis{}, store, alerts)

	err := c.Process(context.Background(), models.OCRCompletion{
		JobID:  "job-9",
		Status: models.JobFailed,
		JobTag: "docs/2025-01-01/x.pdf",
	})
	if err != nil {
		t.Fatalf("failed status must not error (no redelivery): %v", err)
	}
	if len(store.objects) != 0 {
		t.Error("failed job must not produce artifacts")
	}
	if len(alerts.published) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.published))
	}
	if !strings.Contains(string(alerts.published[0]), "job-9") {
		t.Errorf("alert payload missing job ID: %s", alerts.published[0])
	}
}

func TestConsumerAlertFailureIsSwallowed(t *testing.T) {
	c := newTestConsumer(&fakeAnalysis{}, newFakeStore(), &fakeAlerts{err: fmt.Errorf("topic gone")})

	err := c.Process(context.Background(), models.OCRCompletion{JobID: "j", Status: models.JobFailed})
	if err != nil {
		t.Fatalf("alert publish failure must not fail the invocation: %v", err)
	}
}

func TestConsumerRetrievalErrorPropagates(t *testing.T) {
	c := newTestConsumer(&fakeAnalysis{resultsErr: fmt.Errorf("throttled")}, newFakeStore(), nil)

	err := c.Process(context.Background(), models.OCRCompletion{JobID: "j", Status: models.JobSucceeded, JobTag: "docs/x.pdf"})
	if err == nil {
		t.Fatal("retrieval failure must propagate to drive redelivery")
	}
}

func TestConsumerDefaultIngestDateFromMalformedTag(t *testing.T) {
	analysis := &fakeAnalysis{
		pages: []ocr.ResultsPage{{
			Blocks:           []ocr.Block{line("text", 95)},
			DocumentMetadata: ocr.DocumentMetadata{Pages: 1},
		}},
	}
	store := newFakeStore()
	c := newTestConsumer(analysis, store, nil)

	err := c.Process(context.Background(), models.OCRCompletion{JobID: "j", Status: models.JobSucceeded, JobTag: "docs/undated.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	wantKey := "docs/text/" + models.DefaultIngestDate + "/undated.txt"
	if _, ok := store.objects[wantKey]; !ok {
		t.Errorf("expected artifact at %s, have %v", wantKey, keysOf(store.objects))
	}
}

func TestAggregateLines(t *testing.T) {
	tests := []struct {
		name     string
		blocks   []ocr.Block
		text     string
		avg, min float64
	}{
		{
			name:   "service scale normalized",
			blocks: []ocr.Block{line("a", 90), line("b", 80), line("c", 70)},
			text:   "a\nb\nc",
			avg:    0.8,
			min:    0.7,
		},
		{
			name:   "no recognized lines",
			blocks: []ocr.Block{{BlockType: ocr.BlockTypeWord, Text: "w", Confidence: 50}},
			text:   "",
			avg:    0.0,
			min:    0.0,
		},
		{
			name:   "empty line text ignored",
			blocks: []ocr.Block{line("", 99), line("kept", 88.884)},
			text:   "kept",
			avg:    0.8888,
			min:    0.8888,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, avg, min := aggregateLines(tt.blocks)
			if text != tt.text {
				t.Errorf("text = %q, want %q", text, tt.text)
			}
			if avg != tt.avg {
				t.Errorf("avg = %v, want %v", avg, tt.avg)
			}
			if min != tt.min {
				t.Errorf("min = %v, want %v", min, tt.min)
			}
		})
	}
}


func keysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
