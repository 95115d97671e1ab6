package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseDocumentRef(t *testing.T) {
	tests := []struct {
		key        string
		docID      string
		ingestDate string
	}{
		{"docs/2025-01-01/x.pdf", "x", "2025-01-01"},
		{"docs/2025-01-01/report.final.docx", "report.final", "2025-01-01"},
		{"docs/ingest_date=2025-02-03/y.docx", "y", "2025-02-03"},
		{"docs/contract.pdf", "contract", DefaultIngestDate},
		{"docs/nested/deep/2024-12-31/z.PDF", "z", "2024-12-31"},
		{"plain.docx", "plain", DefaultIngestDate},
		{"docs/2025-01-01/noext", "noext", "2025-01-01"},
	}

	for _, tt := range tests {
		ref := ParseDocumentRef("raw-bucket", tt.key)
		if ref.DocID != tt.docID {
			t.Errorf("ParseDocumentRef(%q).DocID = %q, want %q", tt.key, ref.DocID, tt.docID)
		}
		if ref.IngestDate != tt.ingestDate {
			t.Errorf("ParseDocumentRef(%q).IngestDate = %q, want %q", tt.key, ref.IngestDate, tt.ingestDate)
		}
	}
}

// The consumer derives from a job tag, the router from an object key. Both
// must agree for the same original key.
func TestParseDocumentRefDeterministic(t *testing.T) {
	key := "docs/2025-01-01/x.pdf"
	fromEvent := ParseDocumentRef("raw-bucket", key)
	fromTag := ParseDocumentRef("", key)

	if fromEvent.DocID != fromTag.DocID || fromEvent.IngestDate != fromTag.IngestDate {
		t.Errorf("derivation differs: event=%+v tag=%+v", fromEvent, fromTag)
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		key string
		ext string
	}{
		{"docs/2025-01-01/x.pdf", "pdf"},
		{"docs/2025-01-01/X.PDF", "pdf"},
		{"docs/2025-01-01/y.DocX", "docx"},
		{"docs/2025-01-01/noext", ""},
		{"docs/2025-01-01/trailing.", ""},
	}
	for _, tt := range tests {
		ref := DocumentRef{Key: tt.key}
		if got := ref.Extension(); got != tt.ext {
			t.Errorf("Extension(%q) = %q, want %q", tt.key, got, tt.ext)
		}
	}
}

func TestOutputKeys(t *testing.T) {
	r := ExtractionResult{DocID: "x", IngestDate: "2025-01-01"}

	if got, want := r.TextKey(), "docs/text/2025-01-01/x.txt"; got != want {
		t.Errorf("TextKey() = %q, want %q", got, want)
	}
	if got, want := r.JSONKey(), "docs/json/2025-01-01/x.json"; got != want {
		t.Errorf("JSONKey() = %q, want %q", got, want)
	}
	if got, want := r.MetricsKey(), "docs/metrics/2025-01-01/metrics.jsonl"; got != want {
		t.Errorf("MetricsKey() = %q, want %q", got, want)
	}
}

func TestMetricsLine(t *testing.T) {
	r := ExtractionResult{
		SourceKey:     "docs/2025-01-01/x.pdf",
		DocID:         "x",
		IngestDate:    "2025-01-01",
		Pages:         3,
		AvgConfidence: 0.8,
		MinConfidence: 0.7,
		Format:        "PDF",
		Text:          "hello\nworld",
	}

	line, err := r.MetricsLine()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		t.Error("metrics line must be newline terminated")
	}

	var got map[string]any
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("metrics line is not valid JSON: %v", err)
	}
	if got["doc_id"] != "x" {
		t.Errorf("doc_id = %v, want x", got["doc_id"])
	}
	if got["text_length"] != float64(len("hello\nworld")) {
		t.Errorf("text_length = %v, want %d", got["text_length"], len("hello\nworld"))
	}
	if _, ok := got["text"]; ok {
		t.Error("metrics line must not carry the text body")
	}
}
