// Package crawler provides a client for the self-operated social crawl
// service: jobs are enqueued, then polled until they settle or the caller's
// deadline expires.
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Client defines the crawl operations used by the source router.
type Client interface {
	// Crawl submits a crawl job for the query and blocks until the job
	// settles or ctx expires.
	Crawl(ctx context.Context, req CrawlRequest) (*CrawlResult, error)
}

// CrawlRequest describes one crawl job.
type CrawlRequest struct {
	ValidationID    string   `json:"validation_id"`
	UserID          string   `json:"user_id,omitempty"`
	Query           string   `json:"query"`
	Platforms       []string `json:"platforms"`
	Mode            string   `json:"mode"`
	Notes           int      `json:"notes,omitempty"`
	CommentsPerNote int      `json:"comments_per_note,omitempty"`
}

// Note is a normalized crawled post.
type Note struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Desc           string `json:"desc"`
	LikedCount     int    `json:"liked_count"`
	CommentsCount  int    `json:"comments_count"`
	CollectedCount int    `json:"collected_count"`
	Platform       string `json:"platform"`
	URL            string `json:"url,omitempty"`
}

// Comment is a normalized crawled comment.
type Comment struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	LikeCount int    `json:"like_count"`
	Platform  string `json:"platform"`
}

// PlatformResult is the per-platform slice of a crawl result.
type PlatformResult struct {
	Platform string    `json:"platform"`
	Notes    []Note    `json:"notes"`
	Comments []Comment `json:"comments"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
}

// CrawlResult is a settled crawl job.
type CrawlResult struct {
	JobID           string           `json:"job_id"`
	Status          string           `json:"status"`
	PlatformResults []PlatformResult `json:"platform_results"`
	SampleCount     int              `json:"sample_count"`
	CommentCount    int              `json:"comment_count"`
	Errors          []string         `json:"errors,omitempty"`
}

// Completed reports whether the job finished with data.
func (r *CrawlResult) Completed() bool {
	return r.Status == "completed"
}

type enqueueRequest struct {
	JobID   string     `json:"job_id"`
	Payload jobPayload `json:"payload"`
}

type jobPayload struct {
	ValidationID string    `json:"validation_id"`
	TraceID      string    `json:"trace_id"`
	UserID       string    `json:"user_id,omitempty"`
	Query        string    `json:"query"`
	Platforms    []string  `json:"platforms"`
	Mode         string    `json:"mode"`
	Limits       jobLimits `json:"limits"`
}

type jobLimits struct {
	Notes           int `json:"notes"`
	CommentsPerNote int `json:"comments_per_note"`
}

type jobStatus struct {
	JobID  string       `json:"job_id"`
	Status string       `json:"status"`
	Result *CrawlResult `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *httpClient) {
		c.pollInterval = d
	}
}

type httpClient struct {
	baseURL      string
	token        string
	pollInterval time.Duration
	http         *http.Client
}

// NewClient creates a crawler-service client.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL:      baseURL,
		token:        token,
		pollInterval: 3 * time.Second,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Crawl(ctx context.Context, req CrawlRequest) (*CrawlResult, error) {
	jobID := uuid.NewString()

	notes := req.Notes
	if notes <= 0 {
		notes = 6
	}
	comments := req.CommentsPerNote
	if comments <= 0 {
		comments = 3
	}

	payload := enqueueRequest{
		JobID: jobID,
		Payload: jobPayload{
			ValidationID: req.ValidationID,
			TraceID:      jobID,
			UserID:       req.UserID,
			Query:        req.Query,
			Platforms:    req.Platforms,
			Mode:         req.Mode,
			Limits:       jobLimits{Notes: notes, CommentsPerNote: comments},
		},
	}

	if err := c.post(ctx, "/internal/v1/crawl/jobs", payload, nil); err != nil {
		return nil, eris.Wrap(err, "crawler: enqueue job")
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, c.abandon(jobID, ctx.Err())
		case <-ticker.C:
		}

		status, err := c.getStatus(ctx, jobID)
		if err != nil {
			// The deadline can also fire mid-poll; that path still owes the
			// server a cancel.
			if ctx.Err() != nil {
				return nil, c.abandon(jobID, ctx.Err())
			}
			return nil, err
		}

		switch status.Status {
		case "completed":
			if status.Result != nil {
				return status.Result, nil
			}
			return &CrawlResult{JobID: jobID, Status: status.Status}, nil
		case "failed", "cancelled":
			return nil, eris.Errorf("crawler: job %s %s: %s", jobID, status.Status, status.Error)
		}
	}
}

// abandon cancels the job best-effort; the job would otherwise idle out
// server-side.
func (c *httpClient) abandon(jobID string, cause error) error {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.post(cancelCtx, "/internal/v1/crawl/cancel/"+jobID, nil, nil)
	return eris.Wrap(cause, "crawler: crawl deadline")
}

func (c *httpClient) getStatus(ctx context.Context, jobID string) (*jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/v1/crawl/jobs/"+jobID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: create status request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: get status")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: read status")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("crawler: status %d: %s", resp.StatusCode, string(body))
	}

	var status jobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, eris.Wrap(err, "crawler: unmarshal status")
	}
	return &status, nil
}

func (c *httpClient) post(ctx context.Context, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "crawler: marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "crawler: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "crawler: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "crawler: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("crawler: status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "crawler: unmarshal response")
		}
	}
	return nil
}
