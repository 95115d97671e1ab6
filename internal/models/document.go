package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DefaultIngestDate is used when an object key carries no recognizable
// ingest-date path segment. Both the router and the consumer fall back to it,
// so outputs for undated keys still land under a stable partition.
const DefaultIngestDate = "2025-08-12"

var ingestDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DocumentRef identifies one uploaded object and the attributes derived from
// its key. It is recomputed independently by the router (from the storage
// event) and by the consumer (from the OCR job tag); both must agree, which is
// why all derivation lives in ParseDocumentRef.
type DocumentRef struct {
	Bucket     string
	Key        string
	DocID      string
	IngestDate string
}

// ParseDocumentRef derives doc ID and ingest date from an object key.
//
// The ingest date is taken from an "ingest_date=<value>" segment when present
// (Hive-style partitioning), otherwise from the first path segment shaped like
// YYYY-MM-DD, otherwise DefaultIngestDate. The doc ID is the final path
// segment with its extension stripped.
func ParseDocumentRef(bucket, key string) DocumentRef {
	ref := DocumentRef{
		Bucket:     bucket,
		Key:        key,
		IngestDate: DefaultIngestDate,
	}

	segments := strings.Split(key, "/")
	for _, seg := range segments {
		if v, ok := strings.CutPrefix(seg, "ingest_date="); ok {
			ref.IngestDate = v
			break
		}
		if ingestDatePattern.MatchString(seg) {
			ref.IngestDate = seg
			break
		}
	}

	name := segments[len(segments)-1]
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	ref.DocID = name

	return ref
}

// Extension returns the lower-cased file extension of the key, without the
// leading dot, or "" when the key has none.
func (r DocumentRef) Extension() string {
	name := r.Key
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// ExtractionResult is the canonical outcome of processing one document,
// whether it came from the direct extractor or from an OCR job.
// Confidence values are on the 0–1 scale.
type ExtractionResult struct {
	SourceKey     string
	DocID         string
	IngestDate    string
	Pages         int
	AvgConfidence float64
	MinConfidence float64
	Format        string
	Text          string
}

// TextKey, JSONKey and MetricsKey are the deterministic output locations for
// a result. Reprocessing the same document overwrites the first two and
// appends another line at the third.
func (r ExtractionResult) TextKey() string {
	return fmt.Sprintf("docs/text/%s/%s.txt", r.IngestDate, r.DocID)
}

func (r ExtractionResult) JSONKey() string {
	return fmt.Sprintf("docs/json/%s/%s.json", r.IngestDate, r.DocID)
}

func (r ExtractionResult) MetricsKey() string {
	return fmt.Sprintf("docs/metrics/%s/metrics.jsonl", r.IngestDate)
}

// Summary is the metrics view of a result: everything except the text body.
// It is what goes into the metrics log, one line per processed document.
type Summary struct {
	SourceKey     string  `json:"source_key"`
	DocID         string  `json:"doc_id"`
	IngestDate    string  `json:"ingest_date"`
	Pages         int     `json:"pages"`
	AvgConfidence float64 `json:"avg_confidence"`
	MinConfidence float64 `json:"min_confidence"`
	TextLength    int     `json:"text_length"`
	Format        string  `json:"format"`
}

// Metadata is the JSON artifact written next to the text body: the summary
// plus a back-reference to the text object's key.
type Metadata struct {
	Summary
	TextGCS string `json:"text_gcs"`
}

func (r ExtractionResult) Summarize() Summary {
	return Summary{
		SourceKey:     r.SourceKey,
		DocID:         r.DocID,
		IngestDate:    r.IngestDate,
		Pages:         r.Pages,
		AvgConfidence: r.AvgConfidence,
		MinConfidence: r.MinConfidence,
		TextLength:    len(r.Text),
		Format:        r.Format,
	}
}

// MetricsLine renders the summary as one newline-terminated JSON line.
func (r ExtractionResult) MetricsLine() ([]byte, error) {
	b, err := json.Marshal(r.Summarize())
	if err != nil {
		return nil, fmt.Errorf("marshal metrics line: %w", err)
	}
	return append(b, '\n'), nil
}
