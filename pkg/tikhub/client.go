// Package tikhub provides a client for the TikHub social data API, the
// third-party fallback path when the self-operated crawler is unavailable
// or returns too little.
package tikhub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.tikhub.io"

// Client defines the third-party crawl operations.
type Client interface {
	// Search returns posts for a query on one platform.
	Search(ctx context.Context, platform, query string) ([]Post, error)
	// Comments returns comments attached to one post.
	Comments(ctx context.Context, platform, itemID string) ([]Comment, error)
}

// Post is one social post.
type Post struct {
	ID             string `json:"note_id"`
	Title          string `json:"title"`
	Desc           string `json:"desc"`
	LikedCount     int    `json:"liked_count"`
	CommentsCount  int    `json:"comments_count"`
	CollectedCount int    `json:"collected_count"`
	URL            string `json:"note_url,omitempty"`
}

// Comment is one comment on a post.
type Comment struct {
	ID        string `json:"comment_id"`
	Content   string `json:"content"`
	LikeCount int    `json:"like_count"`
}

type searchResponse struct {
	Code int `json:"code"`
	Data struct {
		Items []Post `json:"items"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
}

type commentsResponse struct {
	Code int `json:"code"`
	Data struct {
		Comments []Comment `json:"comments"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
}

// platform → search path. TikHub exposes a separate sub-API per platform.
var searchPaths = map[string]string{
	"xiaohongshu": "/api/v1/xiaohongshu/web/search_notes",
	"douyin":      "/api/v1/douyin/web/search_videos",
}

var commentPaths = map[string]string{
	"xiaohongshu": "/api/v1/xiaohongshu/web/get_note_comments",
	"douyin":      "/api/v1/douyin/web/get_video_comments",
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a TikHub client with the given credential. The caller
// decides whether the credential is user-supplied or the quota-metered
// system default.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 45 * time.Second,
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

func (c *httpClient) Search(ctx context.Context, platform, query string) ([]Post, error) {
	path, ok := searchPaths[platform]
	if !ok {
		return nil, eris.Errorf("tikhub: unsupported platform %q", platform)
	}

	q := url.Values{}
	q.Set("keyword", query)
	q.Set("page", "1")

	var result searchResponse
	if err := c.get(ctx, path, q, &result); err != nil {
		return nil, err
	}
	if result.Code != 200 && result.Code != 0 {
		return nil, eris.Errorf("tikhub: search error code %d: %s", result.Code, result.Message)
	}
	return result.Data.Items, nil
}

func (c *httpClient) Comments(ctx context.Context, platform, itemID string) ([]Comment, error) {
	path, ok := commentPaths[platform]
	if !ok {
		return nil, eris.Errorf("tikhub: unsupported platform %q", platform)
	}

	q := url.Values{}
	q.Set("note_id", itemID)

	var result commentsResponse
	if err := c.get(ctx, path, q, &result); err != nil {
		return nil, err
	}
	if result.Code != 200 && result.Code != 0 {
		return nil, eris.Errorf("tikhub: comments error code %d: %s", result.Code, result.Message)
	}
	return result.Data.Comments, nil
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "tikhub: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "tikhub: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "tikhub: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("tikhub: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "tikhub: unmarshal response")
	}
	return nil
}
