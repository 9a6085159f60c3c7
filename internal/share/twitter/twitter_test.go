package twitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/sharecast/internal/share"
	"github.com/blacktop/sharecast/internal/share/httpx"
	"github.com/blacktop/sharecast/internal/share/media"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	hc := httpx.New(httpx.Config{})
	hc.SetSleepFunc(func(context.Context, time.Duration) error { return nil })
	c, err := New(Config{
		BaseURL:      baseURL,
		BearerToken:  "tok",
		PollAttempts: 5,
	}, hc, &media.Resolver{HTTP: hc})
	require.NoError(t, err)
	return c
}

func TestNewCredentialModes(t *testing.T) {
	t.Run("no credentials asks for a bearer token", func(t *testing.T) {
		_, err := New(Config{}, httpx.New(httpx.Config{}), nil)
		var ce share.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, []string{"bearer_token"}, ce.Missing)
	})

	t.Run("partial quartet lists the missing keys", func(t *testing.T) {
		_, err := New(Config{ConsumerKey: "k", AccessToken: "a"}, httpx.New(httpx.Config{}), nil)
		var ce share.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, []string{"consumer_secret", "access_token_secret"}, ce.Missing)
	})

	t.Run("complete quartet drops the bearer header", func(t *testing.T) {
		c, err := New(Config{
			ConsumerKey: "k", ConsumerSecret: "s",
			AccessToken: "a", AccessTokenSecret: "as",
		}, httpx.New(httpx.Config{}), nil)
		require.NoError(t, err)
		assert.Nil(t, c.headers())
	})

	t.Run("signing client keeps the configured timeout", func(t *testing.T) {
		base := httpx.New(httpx.Config{Timeout: 7 * time.Second})
		c, err := New(Config{
			ConsumerKey: "k", ConsumerSecret: "s",
			AccessToken: "a", AccessTokenSecret: "as",
		}, base, nil)
		require.NoError(t, err)
		assert.NotSame(t, base, c.http)
		assert.Equal(t, 7*time.Second, c.http.HTTPClient().Timeout)
	})
}

func TestShareTextWithLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ship it!\n\nhttps://example.com", body["text"])
		w.Write([]byte(`{"data":{"id":"111"}}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		Message: "Ship it!",
		Link:    "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "111", result.ID)
	assert.Equal(t, "https://x.com/i/web/status/111", result.URL)
}

func TestShareRejectsBadLink(t *testing.T) {
	_, err := newTestClient(t, "http://unused").Share(context.Background(), &share.Payload{
		Message: "hi",
		Link:    "not a url",
	})
	var pe share.PayloadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, share.Twitter, pe.Provider)
}

func TestShareAttachesMediaIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mediaBody, ok := body["media"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, []any{"1", "2"}, mediaBody["media_ids"])
		w.Write([]byte(`{"data":{"id":"222"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		Message:  "pics",
		MediaIDs: []string{"1", "2", "1"},
	})
	require.NoError(t, err)
}

func TestShareUploadsImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(img, []byte("pngdata"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/media/upload":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "tweet_image", r.PostFormValue("media_category"))
			decoded, err := base64.StdEncoding.DecodeString(r.PostFormValue("media_data"))
			require.NoError(t, err)
			assert.Equal(t, "pngdata", string(decoded))
			w.Write([]byte(`{"media_id_string":"m1"}`))
		case "/2/tweets":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mediaBody := body["media"].(map[string]any)
			assert.Equal(t, []any{"m1"}, mediaBody["media_ids"])
			w.Write([]byte(`{"data":{"id":"333"}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		Message:      "look",
		MediaSources: []share.MediaSource{{Source: img}},
	})
	require.NoError(t, err)
	assert.Equal(t, "333", result.ID)
}

func TestShareUploadsVideoChunked(t *testing.T) {
	vid := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(vid, []byte("videodata"), 0o600))

	var appends, statusCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/2/media/upload" && r.Method == http.MethodPost:
			require.NoError(t, r.ParseMultipartForm(4<<20))
			switch r.FormValue("command") {
			case "INIT":
				assert.Equal(t, "video/mp4", r.FormValue("media_type"))
				assert.Equal(t, "9", r.FormValue("total_bytes"))
				assert.Equal(t, "tweet_video", r.FormValue("media_category"))
				w.Write([]byte(`{"media_id_string":"v1"}`))
			case "APPEND":
				appends.Add(1)
				assert.Equal(t, "v1", r.FormValue("media_id"))
				assert.Equal(t, "0", r.FormValue("segment_index"))
				file, _, err := r.FormFile("media")
				require.NoError(t, err)
				file.Close()
				w.WriteHeader(http.StatusNoContent)
			case "FINALIZE":
				assert.Equal(t, "v1", r.FormValue("media_id"))
				w.Write([]byte(`{"media_id_string":"v1","processing_info":{"state":"pending","check_after_secs":1}}`))
			default:
				t.Errorf("unexpected command %q", r.FormValue("command"))
			}
		case r.URL.Path == "/2/media/upload" && r.Method == http.MethodGet:
			assert.Equal(t, "STATUS", r.URL.Query().Get("command"))
			if statusCalls.Add(1) == 1 {
				w.Write([]byte(`{"processing_info":{"state":"in_progress","check_after_secs":1}}`))
			} else {
				w.Write([]byte(`{"processing_info":{"state":"succeeded"}}`))
			}
		case r.URL.Path == "/2/tweets":
			w.Write([]byte(`{"data":{"id":"444"}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		MediaSources: []share.MediaSource{{Source: vid, Type: "video"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "444", result.ID)
	assert.Equal(t, int32(1), appends.Load())
	assert.Equal(t, int32(2), statusCalls.Load())
}

func TestInitFallsBackToPathShape(t *testing.T) {
	vid := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(vid, []byte("videodata"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/media/upload":
			// The command-form endpoint rejects INIT on this tier.
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":[{"message":"unsupported"}]}`))
		case "/2/media/upload/initialize":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "tweet_video", body["media_category"])
			w.Write([]byte(`{"data":{"id":"v2"}}`))
		case "/2/media/upload/v2/append":
			w.WriteHeader(http.StatusNoContent)
		case "/2/media/upload/v2/finalize":
			w.Write([]byte(`{"data":{"id":"v2"}}`))
		case "/2/tweets":
			w.Write([]byte(`{"data":{"id":"555"}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		MediaSources: []share.MediaSource{{Source: vid, Type: "video"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "555", result.ID)
}

func TestInitFallsBackToAmplifyCategory(t *testing.T) {
	vid := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(vid, []byte("videodata"), 0o600))

	var initCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/media/upload":
			require.NoError(t, r.ParseMultipartForm(4<<20))
			switch r.FormValue("command") {
			case "INIT":
				initCalls.Add(1)
				if r.FormValue("media_category") != "amplify_video" {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"errors":[{"message":"category not allowed"}]}`))
					return
				}
				w.Write([]byte(`{"media_id_string":"v3"}`))
			case "APPEND":
				w.WriteHeader(http.StatusNoContent)
			case "FINALIZE":
				w.Write([]byte(`{"media_id_string":"v3"}`))
			}
		case "/2/media/upload/initialize":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":[{"message":"unsupported"}]}`))
		case "/2/tweets":
			w.Write([]byte(`{"data":{"id":"666"}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		MediaSources: []share.MediaSource{{Source: vid, Type: "video"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "666", result.ID)
	assert.Equal(t, int32(2), initCalls.Load())
}

func TestShareProcessingFailure(t *testing.T) {
	vid := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(vid, []byte("videodata"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/2/media/upload" && r.Method == http.MethodPost:
			require.NoError(t, r.ParseMultipartForm(4<<20))
			switch r.FormValue("command") {
			case "INIT":
				w.Write([]byte(`{"media_id_string":"v4"}`))
			case "APPEND":
				w.WriteHeader(http.StatusNoContent)
			case "FINALIZE":
				w.Write([]byte(`{"media_id_string":"v4","processing_info":{"state":"pending","check_after_secs":1}}`))
			}
		case r.URL.Path == "/2/media/upload" && r.Method == http.MethodGet:
			w.Write([]byte(`{"processing_info":{"state":"failed","error":{"message":"InvalidMedia"}}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Share(context.Background(), &share.Payload{
		MediaSources: []share.MediaSource{{Source: vid, Type: "video"}},
	})
	var apiErr *share.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "InvalidMedia")
}

func TestDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/2/tweets/111", r.URL.Path)
		w.Write([]byte(`{"data":{"deleted":true}}`))
	}))
	defer srv.Close()

	ok, err := newTestClient(t, srv.URL).Delete(context.Background(), "111")
	require.NoError(t, err)
	assert.True(t, ok)
}
