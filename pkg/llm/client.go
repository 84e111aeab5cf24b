// Package llm provides the single language-model primitive used by the
// validation pipeline: chat completion against a configured candidate
// runtime. OpenAI-compatible endpoints are spoken to over plain HTTP with
// endpoint-form probing; Anthropic runtimes go through the official SDK.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seedcheck/validator-cli/internal/model"
)

// Message is a single conversational message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request against one candidate runtime.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	// JSONResponse asks the provider for a JSON object response where the
	// endpoint supports response_format; parsing stays lenient regardless.
	JSONResponse bool
}

// Response is the provider-agnostic completion result.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Client issues completions against an arbitrary candidate runtime. The
// candidate list varies per run, so the client is not bound to one endpoint.
type Client interface {
	Complete(ctx context.Context, rt model.LLMRuntime, req Request) (*Response, error)
}

// StatusError carries the HTTP status of a failed completion so callers can
// classify 5xx (retry same candidate) apart from everything else.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %s", e.Code, truncate(e.Body, 200))
}

// StatusOf returns the HTTP status carried in the chain, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// errBadEndpoint marks a response that is not a JSON completion at all
// (HTML page, redirect, gateway rate-limit page); the next endpoint form is
// tried instead of failing the candidate outright.
var errBadEndpoint = eris.New("llm: endpoint returned non-completion response")

// Option configures the client.
type Option func(*client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

type client struct {
	http      *http.Client
	anthropic anthropicCaller
}

// NewClient creates a multi-runtime completion client.
func NewClient(opts ...Option) Client {
	c := &client{
		http: &http.Client{
			// Per-call deadlines come from the request context; the client
			// timeout is only a hard upper bound.
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.anthropic == nil {
		c.anthropic = newAnthropicCaller()
	}
	return c
}

func (c *client) Complete(ctx context.Context, rt model.LLMRuntime, req Request) (*Response, error) {
	if !rt.Configured() {
		return nil, eris.Errorf("llm: runtime %q not configured", rt.Key())
	}
	if rt.Provider == model.ProviderAnthropic {
		return c.anthropic.complete(ctx, rt, req)
	}

	var lastErr error
	for _, endpoint := range candidateEndpoints(rt.BaseURL) {
		resp, err := c.completeOpenAI(ctx, endpoint, rt, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		// Only a non-completion response justifies trying the other form;
		// real provider errors are reported to the fallback chain as-is.
		if !eris.Is(err, errBadEndpoint) {
			return nil, err
		}
	}
	return nil, eris.Wrap(lastErr, "llm: all endpoint forms rejected")
}

// candidateEndpoints resolves the ambiguous base-URL convention: compatible
// providers disagree on whether the path prefix includes /v1.
func candidateEndpoints(baseURL string) []string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasSuffix(base, "/chat/completions"):
		return []string{base}
	case strings.HasSuffix(base, "/v1"):
		return []string{base + "/chat/completions", strings.TrimSuffix(base, "/v1") + "/chat/completions"}
	default:
		return []string{base + "/v1/chat/completions", base + "/chat/completions"}
	}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *client) completeOpenAI(ctx context.Context, endpoint string, rt model.LLMRuntime, req Request) (*Response, error) {
	payload := openAIRequest{
		Model:       rt.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONResponse {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "llm: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "llm: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if rt.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+rt.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "llm: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "llm: read response")
	}

	if rejected, reason := rejectEndpointForm(resp, respBody); rejected {
		return nil, eris.Wrap(errBadEndpoint, reason)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var result openAIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "llm: unmarshal response")
	}
	if result.Error != nil {
		return nil, eris.Errorf("llm: provider error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, eris.New("llm: response has no choices")
	}

	return &Response{
		Text:             result.Choices[0].Message.Content,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}

// rejectEndpointForm detects responses that indicate the URL form is wrong
// rather than the provider failing: HTML bodies, redirects, path-level 404s
// and gateway rate-limit pages.
func rejectEndpointForm(resp *http.Response, body []byte) (bool, string) {
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") {
		return true, "html content type"
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return true, fmt.Sprintf("redirect status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return true, "path not found"
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return true, "html body"
	}
	if resp.StatusCode == http.StatusTooManyRequests && !json.Valid(trimmed) {
		return true, "non-json rate-limit page"
	}
	return false, ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
