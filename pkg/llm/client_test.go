package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedcheck/validator-cli/internal/model"
)

func openAIRuntime(baseURL string) model.LLMRuntime {
	return model.LLMRuntime{
		Provider: model.ProviderOpenAI,
		BaseURL:  baseURL,
		APIKey:   "test-key",
		Model:    "deepseek-chat",
	}
}

func completionBody(text string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": text}},
		},
		"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 45},
	}
}

func TestComplete_OpenAI(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody(`{"score": 72}`))
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Complete(context.Background(), openAIRuntime(srv.URL), Request{
		Messages: []Message{
			{Role: "system", Content: "You analyze ideas."},
			{Role: "user", Content: "smart pet feeder"},
		},
		MaxTokens:    1000,
		JSONResponse: true,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"score": 72}`, resp.Text)
	assert.Equal(t, 120, resp.PromptTokens)
	assert.Equal(t, 45, resp.CompletionTokens)
}

func TestComplete_FallsBackToSecondEndpointForm(t *testing.T) {
	t.Parallel()

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("ok"))
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Complete(context.Background(), openAIRuntime(srv.URL), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, []string{"/v1/chat/completions", "/chat/completions"}, paths)
}

func TestComplete_StatusErrorNotRetriedAcrossForms(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Complete(context.Background(), openAIRuntime(srv.URL), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.Error(t, err)
	assert.Equal(t, 500, StatusOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_HTMLBodyRejectsAllForms(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>gateway</html>"))
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Complete(context.Background(), openAIRuntime(srv.URL), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all endpoint forms rejected")
	assert.Zero(t, StatusOf(err))
}

func TestComplete_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "context length exceeded"}})
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Complete(context.Background(), openAIRuntime(srv.URL), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "context length exceeded")
}

func TestComplete_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Complete(context.Background(), openAIRuntime(srv.URL), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestComplete_NotConfigured(t *testing.T) {
	t.Parallel()

	c := NewClient()
	_, err := c.Complete(context.Background(), model.LLMRuntime{Provider: model.ProviderOpenAI}, Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestCandidateEndpoints(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base string
		want []string
	}{
		{
			base: "https://api.deepseek.com",
			want: []string{"https://api.deepseek.com/v1/chat/completions", "https://api.deepseek.com/chat/completions"},
		},
		{
			base: "https://api.openai.com/v1",
			want: []string{"https://api.openai.com/v1/chat/completions", "https://api.openai.com/chat/completions"},
		},
		{
			base: "https://proxy.example.com/v1/chat/completions",
			want: []string{"https://proxy.example.com/v1/chat/completions"},
		},
		{
			base: "https://api.deepseek.com/",
			want: []string{"https://api.deepseek.com/v1/chat/completions", "https://api.deepseek.com/chat/completions"},
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, candidateEndpoints(tc.base), tc.base)
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 503, StatusOf(&StatusError{Code: 503}))
	assert.Zero(t, StatusOf(nil))
	assert.Zero(t, StatusOf(context.Canceled))
}

func TestRejectEndpointForm(t *testing.T) {
	t.Parallel()

	mkResp := func(status int, ct string) *http.Response {
		resp := &http.Response{StatusCode: status, Header: http.Header{}}
		if ct != "" {
			resp.Header.Set("Content-Type", ct)
		}
		return resp
	}

	rejected, _ := rejectEndpointForm(mkResp(200, "text/html"), []byte("<html>"))
	assert.True(t, rejected)

	rejected, _ = rejectEndpointForm(mkResp(302, "application/json"), nil)
	assert.True(t, rejected)

	rejected, _ = rejectEndpointForm(mkResp(404, "application/json"), []byte(`{}`))
	assert.True(t, rejected)

	rejected, _ = rejectEndpointForm(mkResp(200, "application/json"), []byte(`  <!DOCTYPE html>`))
	assert.True(t, rejected)

	rejected, _ = rejectEndpointForm(mkResp(429, "text/plain"), []byte("slow down"))
	assert.True(t, rejected)

	rejected, _ = rejectEndpointForm(mkResp(429, "application/json"), []byte(`{"error":"rate"}`))
	assert.False(t, rejected)

	rejected, _ = rejectEndpointForm(mkResp(200, "application/json"), []byte(`{"choices":[]}`))
	assert.False(t, rejected)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
