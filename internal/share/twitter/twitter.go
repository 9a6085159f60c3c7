// Package twitter posts tweets through the X API v2. Media is uploaded
// before the tweet is created: images go up in a single base64 request,
// videos through the INIT/APPEND/FINALIZE chunked protocol followed by a
// processing poll. The upload endpoints exist in two shapes (the older
// command form and the newer path form); the driver starts with the command
// form and falls back when the API rejects it.
package twitter

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/samber/lo"

	"github.com/blacktop/sharecast/internal/logutil"
	"github.com/blacktop/sharecast/internal/share"
	"github.com/blacktop/sharecast/internal/share/httpx"
	"github.com/blacktop/sharecast/internal/share/media"
)

const (
	defaultBaseURL      = "https://api.x.com"
	defaultPollAttempts = 15

	chunkSize = 1 << 20 // APPEND segments are 1 MiB
)

// Config carries the resolved X credentials. Either a bearer token or the
// full OAuth 1.0a quartet must be present.
type Config struct {
	BaseURL      string
	BearerToken  string
	PollAttempts int

	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// Client implements share.Sharer for X.
type Client struct {
	cfg      Config
	http     *httpx.Client
	resolver *media.Resolver
}

// New validates credentials and constructs the driver. When the OAuth 1.0a
// quartet is configured, requests are signed instead of bearer-authorized.
func New(cfg Config, httpClient *httpx.Client, resolver *media.Resolver) (*Client, error) {
	hasOAuth1 := cfg.ConsumerKey != "" && cfg.ConsumerSecret != "" && cfg.AccessToken != "" && cfg.AccessTokenSecret != ""
	if cfg.BearerToken == "" && !hasOAuth1 {
		missing := missingOAuth1Keys(cfg)
		if len(missing) == 4 {
			missing = []string{"bearer_token"}
		}
		return nil, share.ConfigError{Provider: share.Twitter, Missing: missing}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}

	if hasOAuth1 {
		oauthCfg := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
		token := oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret)
		// Sign on top of the configured transport so the timeout and
		// connect budget survive the swap.
		ctx := context.WithValue(context.Background(), oauth1.HTTPClient, httpClient.HTTPClient())
		httpClient = httpClient.WithHTTPClient(oauthCfg.Client(ctx, token))
		cfg.BearerToken = ""
	}

	return &Client{cfg: cfg, http: httpClient, resolver: resolver}, nil
}

func missingOAuth1Keys(cfg Config) []string {
	var missing []string
	if cfg.ConsumerKey == "" {
		missing = append(missing, "consumer_key")
	}
	if cfg.ConsumerSecret == "" {
		missing = append(missing, "consumer_secret")
	}
	if cfg.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if cfg.AccessTokenSecret == "" {
		missing = append(missing, "access_token_secret")
	}
	return missing
}

// Provider identifies the driver.
func (c *Client) Provider() share.Provider { return share.Twitter }

func (c *Client) headers() map[string]string {
	if c.cfg.BearerToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.cfg.BearerToken}
}

// Share uploads every declared media source and creates the tweet.
func (c *Client) Share(ctx context.Context, p *share.Payload) (*share.Result, error) {
	cleanups := &share.Cleanups{}
	defer cleanups.Run()

	if !p.HasAnyCoreContent() {
		return nil, share.PayloadError{Provider: share.Twitter, Reason: "share payload has no content"}
	}
	if p.Link != "" && !media.IsRemote(p.Link) {
		return nil, share.PayloadError{Provider: share.Twitter, Reason: fmt.Sprintf("link %q is not a valid URL", p.Link)}
	}

	mediaIDs := append([]string(nil), p.MediaIDs...)
	sources, err := media.SourcesFromPayload(p)
	if err != nil {
		return nil, wrapErr(err)
	}
	for _, src := range sources {
		id, err := c.uploadMedia(ctx, src, cleanups)
		if err != nil {
			return nil, err
		}
		mediaIDs = append(mediaIDs, id)
	}
	mediaIDs = lo.Uniq(mediaIDs)

	body := map[string]any{}
	if text := share.JoinNonEmpty("\n\n", p.Message, p.Link); text != "" {
		body["text"] = text
	}
	if len(mediaIDs) > 0 {
		body["media"] = map[string]any{"media_ids": mediaIDs}
	}
	if v, ok := p.Option("in_reply_to_tweet_id"); ok {
		body["reply"] = map[string]any{"in_reply_to_tweet_id": v}
	}
	if v, ok := p.Option("quote_tweet_id"); ok {
		body["quote_tweet_id"] = v
	}
	if v, ok := p.Option("poll"); ok {
		body["poll"] = v
	}

	logutil.Debugf("twitter: creating tweet with %d media ids", len(mediaIDs))
	resp, err := c.http.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/2/tweets", c.headers(), body)
	if err != nil {
		return nil, &share.APIError{Provider: share.Twitter, Message: err.Error()}
	}
	if !resp.OK() {
		return nil, share.NewAPIError(share.Twitter, resp.Status, resp.Body)
	}

	id := resp.Get("data.id").String()
	if id == "" {
		return nil, &share.APIError{
			Provider: share.Twitter,
			Status:   resp.Status,
			Message:  "tweet response did not include an id",
			Body:     resp.Body,
		}
	}

	return &share.Result{
		Provider: share.Twitter,
		ID:       id,
		URL:      "https://x.com/i/web/status/" + id,
		Raw:      share.RawMap(resp.Body),
	}, nil
}

// uploadShape selects between the two generations of the upload API.
type uploadShape int

const (
	shapeCommand uploadShape = iota // POST /2/media/upload with command fields
	shapePath                       // POST /2/media/upload/{initialize,append,finalize}
)

// uploadMedia resolves one source to a local file and runs the appropriate
// upload protocol for its kind.
func (c *Client) uploadMedia(ctx context.Context, src share.MediaSource, cleanups *share.Cleanups) (string, error) {
	path, cleanup, err := c.resolver.PrepareUploadSource(ctx, src.Source)
	if err != nil {
		return "", wrapErr(err)
	}
	cleanups.Add(cleanup)

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	kind, err := media.Infer(src.Source, src.Type, mimeType)
	if err != nil {
		return "", wrapErr(err)
	}

	if kind == media.KindImage {
		return c.uploadImage(ctx, path, mimeType)
	}
	return c.uploadChunked(ctx, path, mimeType)
}

// uploadImage sends the whole file in one base64 request. GIFs get the
// tweet_gif category, everything else tweet_image.
func (c *Client) uploadImage(ctx context.Context, path, mimeType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", share.PayloadError{Provider: share.Twitter, Reason: fmt.Sprintf("media file %q is not readable", path)}
	}

	category := "tweet_image"
	if strings.Contains(strings.ToLower(mimeType), "gif") || strings.EqualFold(filepath.Ext(path), ".gif") {
		category = "tweet_gif"
	}

	fields := url.Values{}
	fields.Set("media_data", base64.StdEncoding.EncodeToString(data))
	fields.Set("media_category", category)

	logutil.Debugf("twitter: uploading image (%d bytes, category=%s)", len(data), category)
	resp, err := c.http.PostForm(ctx, c.cfg.BaseURL+"/2/media/upload", c.headers(), fields)
	if err != nil {
		return "", &share.APIError{Provider: share.Twitter, Message: err.Error()}
	}
	if !resp.OK() {
		return "", share.NewAPIError(share.Twitter, resp.Status, resp.Body)
	}
	return mediaIDFrom(resp)
}

// uploadChunked runs INIT, APPEND (1 MiB segments), FINALIZE, and the
// processing poll for video media.
func (c *Client) uploadChunked(ctx context.Context, path, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", share.PayloadError{Provider: share.Twitter, Reason: fmt.Sprintf("media file %q is not readable", path)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", share.PayloadError{Provider: share.Twitter, Reason: fmt.Sprintf("media file %q is not readable", path)}
	}
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	mediaID, shape, err := c.initUpload(ctx, mimeType, info.Size())
	if err != nil {
		return "", err
	}

	if err := c.appendChunks(ctx, shape, mediaID, f); err != nil {
		return "", err
	}

	finalizeResp, err := c.finalizeUpload(ctx, shape, mediaID)
	if err != nil {
		return "", err
	}

	if processingState(finalizeResp) != "" {
		if err := c.awaitProcessing(ctx, mediaID, finalizeResp); err != nil {
			return "", err
		}
	}
	return mediaID, nil
}

// initUpload issues INIT, trying tweet_video then amplify_video, and the
// command form before the path form. It reports which shape succeeded so
// APPEND and FINALIZE use matching endpoints.
func (c *Client) initUpload(ctx context.Context, mimeType string, totalBytes int64) (string, uploadShape, error) {
	categories := []string{"tweet_video", "amplify_video"}

	var lastResp *httpx.Response
	for _, category := range categories {
		for _, shape := range []uploadShape{shapeCommand, shapePath} {
			resp, err := c.initWithShape(ctx, shape, mimeType, totalBytes, category)
			if err != nil {
				return "", 0, &share.APIError{Provider: share.Twitter, Message: err.Error()}
			}
			if resp.OK() {
				id, idErr := mediaIDFrom(resp)
				if idErr != nil {
					return "", 0, idErr
				}
				logutil.Debugf("twitter: INIT ok media_id=%s category=%s", id, category)
				return id, shape, nil
			}
			lastResp = resp
			if resp.Status != http.StatusBadRequest {
				return "", 0, share.NewAPIError(share.Twitter, resp.Status, resp.Body)
			}
			// 400: try the alternate endpoint shape, then the next category.
		}
	}
	return "", 0, share.NewAPIError(share.Twitter, lastResp.Status, lastResp.Body)
}

func (c *Client) initWithShape(ctx context.Context, shape uploadShape, mimeType string, totalBytes int64, category string) (*httpx.Response, error) {
	if shape == shapeCommand {
		return c.http.PostMultipart(ctx, c.cfg.BaseURL+"/2/media/upload", c.headers(), map[string]string{
			"command":        "INIT",
			"media_type":     mimeType,
			"total_bytes":    strconv.FormatInt(totalBytes, 10),
			"media_category": category,
		}, nil)
	}
	return c.http.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/2/media/upload/initialize", c.headers(), map[string]any{
		"media_type":     mimeType,
		"total_bytes":    totalBytes,
		"media_category": category,
	})
}

func (c *Client) appendChunks(ctx context.Context, shape uploadShape, mediaID string, f *os.File) error {
	buf := make([]byte, chunkSize)
	for segment := 0; ; segment++ {
		n, readErr := io.ReadFull(f, buf)
		if n == 0 {
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				return nil
			}
			return &share.APIError{Provider: share.Twitter, Message: fmt.Sprintf("read media chunk: %v", readErr)}
		}

		chunk := buf[:n]
		part := &httpx.FilePart{FieldName: "media", FileName: "media", Content: chunk}

		var (
			resp *httpx.Response
			err  error
		)
		if shape == shapeCommand {
			resp, err = c.http.PostMultipart(ctx, c.cfg.BaseURL+"/2/media/upload", c.headers(), map[string]string{
				"command":       "APPEND",
				"media_id":      mediaID,
				"segment_index": strconv.Itoa(segment),
			}, part)
		} else {
			resp, err = c.http.PostMultipart(ctx, fmt.Sprintf("%s/2/media/upload/%s/append", c.cfg.BaseURL, mediaID), c.headers(), map[string]string{
				"segment_index": strconv.Itoa(segment),
			}, part)
		}
		if err != nil {
			return &share.APIError{Provider: share.Twitter, Message: err.Error()}
		}
		if !resp.OK() {
			return share.NewAPIError(share.Twitter, resp.Status, resp.Body)
		}
		logutil.Debugf("twitter: APPEND segment=%d bytes=%d", segment, n)

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return &share.APIError{Provider: share.Twitter, Message: fmt.Sprintf("read media chunk: %v", readErr)}
		}
	}
}

func (c *Client) finalizeUpload(ctx context.Context, shape uploadShape, mediaID string) (*httpx.Response, error) {
	var (
		resp *httpx.Response
		err  error
	)
	if shape == shapeCommand {
		resp, err = c.http.PostMultipart(ctx, c.cfg.BaseURL+"/2/media/upload", c.headers(), map[string]string{
			"command":  "FINALIZE",
			"media_id": mediaID,
		}, nil)
	} else {
		resp, err = c.http.DoJSON(ctx, http.MethodPost, fmt.Sprintf("%s/2/media/upload/%s/finalize", c.cfg.BaseURL, mediaID), c.headers(), nil)
	}
	if err != nil {
		return nil, &share.APIError{Provider: share.Twitter, Message: err.Error()}
	}
	if !resp.OK() {
		return nil, share.NewAPIError(share.Twitter, resp.Status, resp.Body)
	}
	return resp, nil
}

// awaitProcessing polls the STATUS command until the media succeeds or the
// attempt budget runs out, honoring the server's check_after_secs hint.
func (c *Client) awaitProcessing(ctx context.Context, mediaID string, last *httpx.Response) error {
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		switch processingState(last) {
		case "succeeded":
			return nil
		case "failed":
			msg := processingErrorMessage(last)
			return &share.APIError{Provider: share.Twitter, Message: fmt.Sprintf("media processing failed: %s", msg), Body: last.Body}
		}

		wait := time.Duration(checkAfterSecs(last)) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		logutil.Debugf("twitter: media %s processing, waiting %s (attempt %d/%d)", mediaID, wait, attempt, c.cfg.PollAttempts)
		if err := c.http.Sleep(ctx, wait); err != nil {
			return &share.APIError{Provider: share.Twitter, Message: fmt.Sprintf("processing poll canceled: %v", err)}
		}

		statusURL := fmt.Sprintf("%s/2/media/upload?command=STATUS&media_id=%s", c.cfg.BaseURL, url.QueryEscape(mediaID))
		resp, err := c.http.DoJSON(ctx, http.MethodGet, statusURL, c.headers(), nil)
		if err != nil {
			return &share.APIError{Provider: share.Twitter, Message: err.Error()}
		}
		if !resp.OK() {
			return share.NewAPIError(share.Twitter, resp.Status, resp.Body)
		}
		last = resp
	}
	return &share.APIError{
		Provider: share.Twitter,
		Message:  fmt.Sprintf("media %s still processing after %d attempts", mediaID, c.cfg.PollAttempts),
	}
}

// mediaIDFrom reads the media id from either response generation.
func mediaIDFrom(resp *httpx.Response) (string, error) {
	for _, path := range []string{"data.id", "media_id_string", "media_id"} {
		if v := resp.Get(path); v.Exists() && v.String() != "" {
			return v.String(), nil
		}
	}
	return "", &share.APIError{
		Provider: share.Twitter,
		Status:   resp.Status,
		Message:  "upload response did not include a media id",
		Body:     resp.Body,
	}
}

func processingState(resp *httpx.Response) string {
	for _, path := range []string{"data.processing_info.state", "processing_info.state"} {
		if v := resp.Get(path); v.Exists() {
			return strings.ToLower(v.String())
		}
	}
	return ""
}

func checkAfterSecs(resp *httpx.Response) int {
	for _, path := range []string{"data.processing_info.check_after_secs", "processing_info.check_after_secs"} {
		if v := resp.Get(path); v.Exists() {
			return int(v.Int())
		}
	}
	return 0
}

func processingErrorMessage(resp *httpx.Response) string {
	for _, path := range []string{
		"data.processing_info.error.message",
		"processing_info.error.message",
		"data.processing_info.error.name",
		"processing_info.error.name",
	} {
		if v := resp.Get(path); v.String() != "" {
			return v.String()
		}
	}
	return "unknown error"
}

// Delete removes a tweet. Success comes from the data.deleted flag.
func (c *Client) Delete(ctx context.Context, postID string) (bool, error) {
	endpoint := c.cfg.BaseURL + "/2/tweets/" + url.PathEscape(postID)
	resp, err := c.http.DoJSON(ctx, http.MethodDelete, endpoint, c.headers(), nil)
	if err != nil {
		return false, &share.APIError{Provider: share.Twitter, Message: err.Error()}
	}
	if !resp.OK() {
		return false, share.NewAPIError(share.Twitter, resp.Status, resp.Body)
	}
	return resp.Get("data.deleted").Bool(), nil
}

func wrapErr(err error) error {
	return share.WrapErr(share.Twitter, err)
}
