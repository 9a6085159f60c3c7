package facebook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/sharecast/internal/share"
	"github.com/blacktop/sharecast/internal/share/httpx"
	"github.com/blacktop/sharecast/internal/share/media"
	"github.com/blacktop/sharecast/internal/storage"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	hc := httpx.New(httpx.Config{})
	hc.SetSleepFunc(func(context.Context, time.Duration) error { return nil })
	c, err := New(Config{
		BaseURL:      baseURL,
		GraphVersion: "v25.0",
		PageID:       "123",
		AccessToken:  "tok",
	}, hc, &media.Resolver{HTTP: hc})
	require.NoError(t, err)
	return c
}

func TestNewMissingCredentials(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	var ce share.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"page_id", "access_token"}, ce.Missing)
}

func TestShareTextAndLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v25.0/123/feed", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok", r.PostFormValue("access_token"))
		assert.Equal(t, "hello", r.PostFormValue("message"))
		assert.Equal(t, "https://example.com", r.PostFormValue("link"))
		w.Write([]byte(`{"id":"123_456"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		Message: "hello",
		Link:    "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "123_456", result.ID)
	assert.Equal(t, "https://www.facebook.com/123_456", result.URL)
}

func TestShareRoutesImageToPhotos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v25.0/123/photos", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://cdn.example.com/a.jpg", r.PostFormValue("url"))
		assert.Equal(t, "caption\nhttps://example.com", r.PostFormValue("caption"))
		w.Write([]byte(`{"id":"9","post_id":"123_9"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		Message:  "caption",
		Link:     "https://example.com",
		ImageURL: "https://cdn.example.com/a.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "9", result.ID)
}

func TestShareRoutesVideoToVideos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v25.0/123/videos", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://cdn.example.com/b.mp4", r.PostFormValue("file_url"))
		assert.Equal(t, "demo", r.PostFormValue("description"))
		w.Write([]byte(`{"id":"77"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		Message:  "demo",
		VideoURL: "https://cdn.example.com/b.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, "77", result.ID)
}

func TestShareStagesLocalMedia(t *testing.T) {
	local := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(local, []byte("img"), 0o600))

	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotURL = r.PostFormValue("url")
		w.Write([]byte(`{"id":"5"}`))
	}))
	defer srv.Close()

	hc := httpx.New(httpx.Config{})
	store := storage.NewLocal(t.TempDir(), "https://media.example.com")
	client, err := New(Config{BaseURL: srv.URL, PageID: "123", AccessToken: "tok"}, hc,
		&media.Resolver{HTTP: hc, Store: store, Dir: "tmp", Visibility: "public"})
	require.NoError(t, err)

	_, err = client.Share(context.Background(), &share.Payload{ImageURL: local})
	require.NoError(t, err)
	assert.Contains(t, gotURL, "https://media.example.com/tmp/")
}

func TestShareScheduledForcesUnpublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "false", r.PostFormValue("published"))
		assert.Equal(t, "1767225600", r.PostFormValue("scheduled_publish_time"))
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		Message: "later",
		Options: map[string]any{
			"published":    true,
			"scheduled_at": int64(1767225600),
		},
	})
	require.NoError(t, err)
}

func TestEpochFrom(t *testing.T) {
	parsed, err := epochFrom("2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1767225600), parsed)

	parsed, err = epochFrom(1767225600)
	require.NoError(t, err)
	assert.Equal(t, int64(1767225600), parsed)

	_, err = epochFrom("whenever")
	var pe share.PayloadError
	assert.ErrorAs(t, err, &pe)
}

func TestShareEmptyPayload(t *testing.T) {
	_, err := newTestClient(t, "http://unused").Share(context.Background(), &share.Payload{})
	var pe share.PayloadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, share.Facebook, pe.Provider)
}

func TestShareAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{Message: "hi"})
	var apiErr *share.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid OAuth access token", apiErr.Message)
}

func TestDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v25.0/123_456", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ok, err := newTestClient(t, srv.URL).Delete(context.Background(), "123_456")
	require.NoError(t, err)
	assert.True(t, ok)
}
