// Package serper provides a client for the Serper Google-SERP JSON API,
// the pipeline's second web-search provider.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://google.serper.dev"

// Client performs web searches against the Serper API.
type Client interface {
	Search(ctx context.Context, query string, num int) ([]Result, error)
}

// Result is a single organic search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type searchRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num,omitempty"`
	GL    string `json:"gl,omitempty"`
	HL    string `json:"hl,omitempty"`
}

type searchResponse struct {
	Organic []Result `json:"organic"`
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

// WithLocale sets the gl/hl search locale (defaults to cn/zh-cn; most idea
// validation queries target Chinese social commerce).
func WithLocale(gl, hl string) Option {
	return func(c *httpClient) {
		c.gl = gl
		c.hl = hl
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	gl      string
	hl      string
	http    *http.Client
}

// NewClient creates a Serper API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		gl:      "cn",
		hl:      "zh-cn",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, num int) ([]Result, error) {
	if num <= 0 {
		num = 10
	}

	body, err := json.Marshal(searchRequest{Query: query, Num: num, GL: c.gl, HL: c.hl})
	if err != nil {
		return nil, eris.Wrap(err, "serper: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "serper: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "serper: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serper: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("serper: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "serper: unmarshal response")
	}

	return result.Organic, nil
}
