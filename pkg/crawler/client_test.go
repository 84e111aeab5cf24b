package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crawlReq() CrawlRequest {
	return CrawlRequest{
		ValidationID: "v-1",
		UserID:       "user-1",
		Query:        "智能喂食器",
		Platforms:    []string{"xiaohongshu"},
		Mode:         "quick",
	}
}

func TestCrawl_EnqueueAndPoll(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	var enqueued jobPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/internal/v1/crawl/jobs":
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			var req enqueueRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.NotEmpty(t, req.JobID)
			enqueued = req.Payload
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/internal/v1/crawl/jobs/"):
			status := jobStatus{JobID: "j", Status: "running"}
			if polls.Add(1) >= 2 {
				status.Status = "completed"
				status.Result = &CrawlResult{
					JobID:  "j",
					Status: "completed",
					PlatformResults: []PlatformResult{{
						Platform: "xiaohongshu",
						Notes:    []Note{{ID: "n1", Title: "开箱", LikedCount: 50}},
						Comments: []Comment{{ID: "c1", Content: "好用"}},
						Success:  true,
					}},
					SampleCount:  1,
					CommentCount: 1,
				}
			}
			json.NewEncoder(w).Encode(status)

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", WithPollInterval(10*time.Millisecond))
	result, err := client.Crawl(context.Background(), crawlReq())

	require.NoError(t, err)
	assert.True(t, result.Completed())
	assert.Equal(t, 1, result.SampleCount)
	require.Len(t, result.PlatformResults, 1)
	assert.Equal(t, "n1", result.PlatformResults[0].Notes[0].ID)

	// Enqueue payload carries defaults for unset limits.
	assert.Equal(t, "v-1", enqueued.ValidationID)
	assert.Equal(t, "智能喂食器", enqueued.Query)
	assert.Equal(t, 6, enqueued.Limits.Notes)
	assert.Equal(t, 3, enqueued.Limits.CommentsPerNote)
}

func TestCrawl_JobFailed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(jobStatus{Status: "failed", Error: "login expired"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", WithPollInterval(10*time.Millisecond))
	_, err := client.Crawl(context.Background(), crawlReq())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "login expired")
}

func TestCrawl_EnqueueRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`queue full`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", WithPollInterval(10*time.Millisecond))
	_, err := client.Crawl(context.Background(), crawlReq())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue job")
}

func TestCrawl_DeadlineCancelsJob(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/internal/v1/crawl/cancel/"):
			cancelled.Store(true)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
		default:
			json.NewEncoder(w).Encode(jobStatus{Status: "running"})
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(srv.URL, "test-token", WithPollInterval(10*time.Millisecond))
	_, err := client.Crawl(ctx, crawlReq())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl deadline")
	assert.True(t, cancelled.Load())
}

func TestCrawl_DeadlineDuringStatusPoll(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/internal/v1/crawl/cancel/"):
			cancelled.Store(true)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
		default:
			// Hold the poll open past the caller's deadline.
			time.Sleep(200 * time.Millisecond)
			json.NewEncoder(w).Encode(jobStatus{Status: "running"})
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	client := NewClient(srv.URL, "test-token", WithPollInterval(10*time.Millisecond))
	_, err := client.Crawl(ctx, crawlReq())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl deadline")
	assert.True(t, cancelled.Load())
}

func TestCrawl_CompletedWithoutResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(jobStatus{Status: "completed"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", WithPollInterval(10*time.Millisecond))
	result, err := client.Crawl(context.Background(), crawlReq())

	require.NoError(t, err)
	assert.True(t, result.Completed())
	assert.Zero(t, result.SampleCount)
}
