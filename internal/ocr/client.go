// Package ocr is the client for the remote document-analysis service. The
// service recognizes text, tables and forms in scanned documents, runs jobs
// asynchronously, and reports per-line confidence on a 0–100 scale.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Block types and job feature names used by the analysis API.
const (
	BlockTypeLine = "LINE"
	BlockTypeWord = "WORD"

	FeatureTables = "TABLES"
	FeatureForms  = "FORMS"
)

// Block is the service's atomic recognized unit.
type Block struct {
	BlockType  string  `json:"blockType"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Page       int     `json:"page"`
}

// DocumentMetadata carries whole-document facts reported alongside each
// result page.
type DocumentMetadata struct {
	Pages int `json:"pages"`
}

// ResultsPage is one page of a job's result set. NextPageToken is empty on
// the final page.
type ResultsPage struct {
	Blocks           []Block          `json:"blocks"`
	DocumentMetadata DocumentMetadata `json:"documentMetadata"`
	NextPageToken    string           `json:"nextPageToken"`
}

// NotificationChannel tells the service where to publish the job's completion
// notification: a Pub/Sub topic and the service account it publishes as.
type NotificationChannel struct {
	Topic          string `json:"topic"`
	ServiceAccount string `json:"serviceAccount"`
}

// StartAnalysisRequest describes one analysis job. Tag round-trips unchanged
// into the completion notification.
type StartAnalysisRequest struct {
	Input struct {
		Bucket string `json:"bucket"`
		Object string `json:"object"`
	} `json:"input"`
	FeatureTypes        []string            `json:"featureTypes"`
	NotificationChannel NotificationChannel `json:"notificationChannel"`
	Tag                 string              `json:"tag"`
}

type startAnalysisResponse struct {
	JobID string `json:"jobId"`
}

// Client talks to the analysis service over its REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("NewClient: baseURL cannot be empty")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// StartAnalysis submits a job and returns the service-assigned job ID. The
// call returns as soon as the job is accepted; completion arrives later on the
// notification channel.
func (c *Client) StartAnalysis(ctx context.Context, req StartAnalysisRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyses", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp startAnalysisResponse
	if err := c.do(httpReq, &resp); err != nil {
		return "", fmt.Errorf("start analysis for gs://%s/%s: %w", req.Input.Bucket, req.Input.Object, err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("start analysis for gs://%s/%s: service returned no job ID", req.Input.Bucket, req.Input.Object)
	}
	return resp.JobID, nil
}

// GetResults retrieves one page of a completed job's result set. Pass an
// empty pageToken for the first page and the previous page's NextPageToken
// afterwards.
func (c *Client) GetResults(ctx context.Context, jobID, pageToken string) (*ResultsPage, error) {
	endpoint := fmt.Sprintf("%s/v1/analyses/%s/results", c.baseURL, url.PathEscape(jobID))
	if pageToken != "" {
		endpoint += "?pageToken=" + url.QueryEscape(pageToken)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build results request: %w", err)
	}

	var page ResultsPage
	if err := c.do(httpReq, &page); err != nil {
		return nil, fmt.Errorf("get results for job %s: %w", jobID, err)
	}
	return &page, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("service returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
