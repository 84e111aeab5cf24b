package serper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "智能宠物喂食器", req["q"])
		assert.Equal(t, float64(5), req["num"])
		assert.Equal(t, "cn", req["gl"])
		assert.Equal(t, "zh-cn", req["hl"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]any{
				{"title": "PetKit 智能喂食器", "link": "https://petkit.com", "snippet": "智能定时喂食"},
				{"title": "Catlink", "link": "https://catlink.com", "snippet": "猫用智能硬件"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "智能宠物喂食器", 5)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "PetKit 智能喂食器", got[0].Title)
	assert.Equal(t, "https://petkit.com", got[0].Link)
	assert.Equal(t, "智能定时喂食", got[0].Snippet)
}

func TestSearch_DefaultNum(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(10), req["num"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"organic": []map[string]any{}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "query", 0)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_Locale(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "us", req["gl"])
		assert.Equal(t, "en", req["hl"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"organic": []map[string]any{}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithLocale("us", "en"))
	_, err := client.Search(context.Background(), "smart pet feeder", 5)
	require.NoError(t, err)
}

func TestSearch_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Unauthorized"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "query", 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSearch_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "query", 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, "cn", hc.gl)
	assert.Equal(t, "zh-cn", hc.hl)
}
