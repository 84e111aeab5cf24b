package tikhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_Xiaohongshu(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/xiaohongshu/web/search_notes", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "智能喂食器", r.URL.Query().Get("keyword"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"items": []map[string]any{
					{"note_id": "n1", "title": "开箱测评", "desc": "好用", "liked_count": 120, "comments_count": 30},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	posts, err := client.Search(context.Background(), "xiaohongshu", "智能喂食器")

	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "n1", posts[0].ID)
	assert.Equal(t, "开箱测评", posts[0].Title)
	assert.Equal(t, 120, posts[0].LikedCount)
	assert.Equal(t, 30, posts[0].CommentsCount)
}

func TestSearch_DouyinPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/douyin/web/search_videos", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"items": []map[string]any{}}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	posts, err := client.Search(context.Background(), "douyin", "宠物用品")

	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestSearch_UnsupportedPlatform(t *testing.T) {
	t.Parallel()

	client := NewClient("test-key")
	_, err := client.Search(context.Background(), "weibo", "query")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported platform")
}

func TestSearch_APIErrorCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"code": 401, "message": "invalid token"})
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "xiaohongshu", "query")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestSearch_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "xiaohongshu", "query")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestComments(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/xiaohongshu/web/get_note_comments", r.URL.Path)
		assert.Equal(t, "n1", r.URL.Query().Get("note_id"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"comments": []map[string]any{
					{"comment_id": "c1", "content": "已入手，很方便", "like_count": 15},
					{"comment_id": "c2", "content": "价格有点贵", "like_count": 8},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	comments, err := client.Comments(context.Background(), "xiaohongshu", "n1")

	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "已入手，很方便", comments[0].Content)
	assert.Equal(t, 15, comments[0].LikeCount)
}

func TestComments_UnsupportedPlatform(t *testing.T) {
	t.Parallel()

	client := NewClient("test-key")
	_, err := client.Comments(context.Background(), "bilibili", "n1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported platform")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
}
