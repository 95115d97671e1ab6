package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvFloat reads an environment variable as a float64, returning the
// fallback when unset or unparsable.
func GetEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("Ignoring unparsable float environment variable.", "key", key, "value", value)
		return fallback
	}
	return f
}

// GCSFetcher reads objects from arbitrary buckets. It satisfies the
// services.ObjectFetcher interface; the router uses it because source objects
// live in whichever bucket the storage event names.
type GCSFetcher struct {
	client *storage.Client
}

func NewGCSFetcher(client *storage.Client) *GCSFetcher {
	return &GCSFetcher{client: client}
}

func (f *GCSFetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := f.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// GCSStore is blob storage backed by a single GCS bucket. It satisfies the
// services.BlobStore interface.
type GCSStore struct {
	bucket     *storage.BucketHandle
	bucketName string
}

func NewGCSStore(client *storage.Client, bucketName string) *GCSStore {
	return &GCSStore{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
	}
}

// Get reads the full contents of an object. A missing object is reported as
// storage.ErrObjectNotExist.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucketName, key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucketName, key, err)
	}
	return data, nil
}

// Put overwrites an object with the given content. Transient failures are
// retried with exponential backoff; permanent API errors are returned on the
// first attempt.
func (s *GCSStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	const maxRetries = 4
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := s.writeOnce(ctx, key, contentType, data)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return fmt.Errorf("write gs://%s/%s: %w", s.bucketName, key, err)
		}

		lastErr = err
		slog.Warn(
			"GCS write failed, will retry.",
			"gcsObject", key,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("write gs://%s/%s: %w", s.bucketName, key, ctx.Err())
		}
	}
	return fmt.Errorf("write gs://%s/%s failed after all retries: %w", s.bucketName, key, lastErr)
}

// Append adds a line to a JSON-lines object. GCS objects are immutable, so
// this is a read–concatenate–write; a concurrent append can lose a line, which
// the metrics log tolerates (its consumers dedupe by doc ID and each
// invocation appends at most once).
func (s *GCSStore) Append(ctx context.Context, key, contentType string, line []byte) error {
	existing, err := s.Get(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("read before append gs://%s/%s: %w", s.bucketName, key, err)
	}
	combined := bytes.Join([][]byte{existing, line}, nil)
	return s.Put(ctx, key, contentType, combined)
}

func (s *GCSStore) writeOnce(ctx context.Context, key, contentType string, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	w := s.bucket.Object(key).NewWriter(writeCtx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return nil
}

// isRetryable treats anything but a client-side API error (4xx) as worth
// another attempt.
func isRetryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code >= 500 || gerr.Code == 429
	}
	return true
}
