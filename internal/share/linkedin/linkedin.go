// Package linkedin publishes posts through the LinkedIn REST API. Images
// upload in a single PUT against a pre-authorized URL; videos use the
// resumable protocol: initializeUpload hands back byte-range instructions,
// each range is PUT separately, the collected ETags finalize the upload, and
// the asset is polled until processing reports AVAILABLE.
package linkedin

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/blacktop/sharecast/internal/logutil"
	"github.com/blacktop/sharecast/internal/share"
	"github.com/blacktop/sharecast/internal/share/httpx"
	"github.com/blacktop/sharecast/internal/share/media"
)

const (
	defaultBaseURL      = "https://api.linkedin.com"
	defaultVersion      = "202602"
	defaultPollAttempts = 20
	defaultPollInterval = 2 * time.Second
)

var (
	versionPattern = regexp.MustCompile(`^\d{6}$`)
	numericAuthor  = regexp.MustCompile(`^\d+$`)

	urnPrefixes = []string{"urn:li:share:", "urn:li:ugcPost:", "urn:li:activity:"}
)

// Config carries the resolved LinkedIn credentials and polling tuning.
type Config struct {
	BaseURL      string
	Author       string
	AccessToken  string
	Version      string
	PollAttempts int
	PollInterval time.Duration
}

// Client implements share.Sharer (and share.Commenter) for LinkedIn.
type Client struct {
	cfg      Config
	author   string
	http     *httpx.Client
	resolver *media.Resolver
}

// New validates credentials and constructs the driver. A purely numeric
// author is converted to a person URN; anything that is neither a URN nor a
// number is a configuration error.
func New(cfg Config, httpClient *httpx.Client, resolver *media.Resolver) (*Client, error) {
	var missing []string
	if cfg.Author == "" {
		missing = append(missing, "author")
	}
	if cfg.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return nil, share.ConfigError{Provider: share.LinkedIn, Missing: missing}
	}

	author := strings.TrimSpace(cfg.Author)
	switch {
	case strings.HasPrefix(author, "urn:"):
	case numericAuthor.MatchString(author):
		author = "urn:li:person:" + author
	default:
		return nil, share.ConfigError{
			Provider: share.LinkedIn,
			Reason:   fmt.Sprintf("author %q is neither a URN nor a numeric member id", cfg.Author),
		}
	}

	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if !versionPattern.MatchString(cfg.Version) {
		return nil, share.ConfigError{
			Provider: share.LinkedIn,
			Reason:   fmt.Sprintf("version %q must be six digits (YYYYMM)", cfg.Version),
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Client{cfg: cfg, author: author, http: httpClient, resolver: resolver}, nil
}

// Provider identifies the driver.
func (c *Client) Provider() share.Provider { return share.LinkedIn }

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization":             "Bearer " + c.cfg.AccessToken,
		"Linkedin-Version":          c.cfg.Version,
		"X-Restli-Protocol-Version": "2.0.0",
	}
}

// Share uploads media if needed and creates the post.
func (c *Client) Share(ctx context.Context, p *share.Payload) (*share.Result, error) {
	cleanups := &share.Cleanups{}
	defer cleanups.Run()

	mediaURN, err := c.resolveMediaURN(ctx, p, cleanups)
	if err != nil {
		return nil, err
	}
	if !p.HasAnyCoreContent() && mediaURN == "" {
		return nil, share.PayloadError{Provider: share.LinkedIn, Reason: "share payload has no content"}
	}

	body := map[string]any{
		"author":     c.author,
		"commentary": share.JoinNonEmpty("\n\n", p.Message, p.Link),
		"visibility": upperOption(p, "visibility", "PUBLIC"),
		"distribution": map[string]any{
			"feedDistribution":               upperOption(p, "distribution", "MAIN_FEED"),
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByViewer": false,
	}

	switch {
	case mediaURN != "":
		body["content"] = map[string]any{"media": map[string]any{"id": mediaURN}}
	case p.Link != "":
		title := cast.ToString(optionOr(p, "article_title", ""))
		if title == "" {
			title = p.Message
		}
		if title == "" {
			title = "Shared link"
		}
		body["content"] = map[string]any{"article": map[string]any{"source": p.Link, "title": title}}
	}

	resp, err := c.http.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/rest/posts", c.headers(), body)
	if err != nil {
		return nil, &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
	}
	if !resp.OK() {
		return nil, share.NewAPIError(share.LinkedIn, resp.Status, resp.Body)
	}

	id := resp.Get("id").String()
	if id == "" {
		id = resp.Header.Get("x-restli-id")
	}
	if id == "" {
		return nil, &share.APIError{
			Provider: share.LinkedIn,
			Status:   resp.Status,
			Message:  "post response did not include an id",
			Body:     resp.Body,
		}
	}

	return &share.Result{
		Provider: share.LinkedIn,
		ID:       id,
		URL:      permalink(resp, id),
		Raw:      share.RawMap(resp.Body),
	}, nil
}

func optionOr(p *share.Payload, key string, fallback any) any {
	if v, ok := p.Option(key); ok {
		return v
	}
	return fallback
}

func upperOption(p *share.Payload, key, fallback string) string {
	v := strings.ToUpper(strings.TrimSpace(cast.ToString(optionOr(p, key, ""))))
	if v == "" {
		return fallback
	}
	return v
}

// resolveMediaURN prefers an explicit media_urn option, else uploads the
// first declared media source.
func (c *Client) resolveMediaURN(ctx context.Context, p *share.Payload, cleanups *share.Cleanups) (string, error) {
	if v, ok := p.Option("media_urn"); ok {
		if urn := strings.TrimSpace(cast.ToString(v)); urn != "" {
			return urn, nil
		}
	}

	sources, err := media.SourcesFromPayload(p)
	if err != nil {
		return "", wrapErr(err)
	}
	if len(sources) == 0 {
		return "", nil
	}

	src := sources[0]
	kind, err := media.Infer(src.Source, src.Type, "")
	if err != nil {
		return "", wrapErr(err)
	}
	if kind == media.KindImage {
		return c.uploadImage(ctx, src.Source)
	}
	return c.uploadVideo(ctx, src.Source, cleanups)
}

// uploadImage initializes an image upload and PUTs the bytes in one shot.
func (c *Client) uploadImage(ctx context.Context, source string) (string, error) {
	bin, err := c.resolver.LoadBinary(ctx, source)
	if err != nil {
		return "", wrapErr(err)
	}

	resp, err := c.http.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/rest/images?action=initializeUpload", c.headers(), map[string]any{
		"initializeUploadRequest": map[string]any{"owner": c.author},
	})
	if err != nil {
		return "", &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
	}
	if !resp.OK() {
		return "", share.NewAPIError(share.LinkedIn, resp.Status, resp.Body)
	}

	uploadURL := resp.Get("value.uploadUrl").String()
	urn := resp.Get("value.image").String()
	if uploadURL == "" || urn == "" {
		return "", &share.APIError{
			Provider: share.LinkedIn,
			Status:   resp.Status,
			Message:  "initializeUpload returned no upload URL or image URN",
			Body:     resp.Body,
		}
	}

	contentType := bin.MIME
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	putResp, err := c.http.PutBinary(ctx, uploadURL, map[string]string{"Authorization": "Bearer " + c.cfg.AccessToken}, contentType, bytes.NewReader(bin.Data), int64(len(bin.Data)))
	if err != nil {
		return "", &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
	}
	if !putResp.OK() {
		return "", share.NewAPIError(share.LinkedIn, putResp.Status, putResp.Body)
	}

	logutil.Debugf("linkedin: uploaded image asset %s", urn)
	return urn, nil
}

// uploadVideo runs the resumable protocol: initialize with the file size,
// PUT each instructed byte range, finalize with the collected ETags, and
// wait for processing. Without range instructions the whole file goes up in
// a single PUT and no finalize or poll is needed.
func (c *Client) uploadVideo(ctx context.Context, source string, cleanups *share.Cleanups) (string, error) {
	path, cleanup, err := c.resolver.PrepareUploadSource(ctx, source)
	if err != nil {
		return "", wrapErr(err)
	}
	cleanups.Add(cleanup)

	f, err := os.Open(path)
	if err != nil {
		return "", share.PayloadError{Provider: share.LinkedIn, Reason: fmt.Sprintf("media file %q is not readable", path)}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", share.PayloadError{Provider: share.LinkedIn, Reason: fmt.Sprintf("media file %q is not readable", path)}
	}

	resp, err := c.http.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/rest/videos?action=initializeUpload", c.headers(), map[string]any{
		"initializeUploadRequest": map[string]any{
			"owner":         c.author,
			"fileSizeBytes": info.Size(),
		},
	})
	if err != nil {
		return "", &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
	}
	if !resp.OK() {
		return "", share.NewAPIError(share.LinkedIn, resp.Status, resp.Body)
	}

	urn := resp.Get("value.video").String()
	if urn == "" {
		return "", &share.APIError{
			Provider: share.LinkedIn,
			Status:   resp.Status,
			Message:  "initializeUpload returned no video URN",
			Body:     resp.Body,
		}
	}
	uploadToken := resp.Get("value.uploadToken").String()

	etags := []string{}
	instructions := resp.Get("value.uploadInstructions").Array()
	if len(instructions) == 0 {
		data := make([]byte, info.Size())
		if _, err := f.ReadAt(data, 0); err != nil {
			return "", share.PayloadError{Provider: share.LinkedIn, Reason: fmt.Sprintf("media file %q is not readable", path)}
		}
		uploadURL := resp.Get("value.uploadUrl").String()
		if uploadURL == "" {
			return "", &share.APIError{
				Provider: share.LinkedIn,
				Status:   resp.Status,
				Message:  "initializeUpload returned neither upload instructions nor an upload URL",
				Body:     resp.Body,
			}
		}
		putResp, err := c.http.PutBinary(ctx, uploadURL, map[string]string{"Authorization": "Bearer " + c.cfg.AccessToken}, "application/octet-stream", bytes.NewReader(data), info.Size())
		if err != nil {
			return "", &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
		}
		if !putResp.OK() {
			return "", share.NewAPIError(share.LinkedIn, putResp.Status, putResp.Body)
		}
	}

	for i, instruction := range instructions {
		uploadURL := instruction.Get("uploadUrl").String()
		first := instruction.Get("firstByte").Int()
		last := instruction.Get("lastByte").Int()
		length := last - first + 1

		chunk := make([]byte, length)
		if _, err := f.ReadAt(chunk, first); err != nil {
			return "", share.PayloadError{Provider: share.LinkedIn, Reason: fmt.Sprintf("media file %q is not readable", path)}
		}

		putResp, err := c.http.PutBinary(ctx, uploadURL, map[string]string{"Authorization": "Bearer " + c.cfg.AccessToken}, "application/octet-stream", bytes.NewReader(chunk), length)
		if err != nil {
			return "", &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
		}
		if !putResp.OK() {
			return "", share.NewAPIError(share.LinkedIn, putResp.Status, putResp.Body)
		}
		etags = append(etags, putResp.Header.Get("ETag"))
		logutil.Debugf("linkedin: uploaded video part %d/%d (%d bytes)", i+1, len(instructions), length)
	}

	finalizeResp, err := c.http.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/rest/videos?action=finalizeUpload", c.headers(), map[string]any{
		"finalizeUploadRequest": map[string]any{
			"video":           urn,
			"uploadToken":     uploadToken,
			"uploadedPartIds": etags,
		},
	})
	if err != nil {
		return "", &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
	}
	if !finalizeResp.OK() {
		return "", share.NewAPIError(share.LinkedIn, finalizeResp.Status, finalizeResp.Body)
	}

	// Processing status is only worth polling when the upload was chunked;
	// single-shot uploads report ready on finalize.
	if len(instructions) > 0 {
		if err := c.awaitVideo(ctx, urn); err != nil {
			return "", err
		}
	}
	return urn, nil
}

// escapeID percent-encodes a post id or URN for path use. PathEscape
// leaves ':' alone, but the Restli endpoints expect it encoded.
func escapeID(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), ":", "%3A")
}

// awaitVideo polls the asset until processing reports AVAILABLE.
func (c *Client) awaitVideo(ctx context.Context, urn string) error {
	endpoint := c.cfg.BaseURL + "/rest/videos/" + escapeID(urn)
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		resp, err := c.http.DoJSON(ctx, http.MethodGet, endpoint, c.headers(), nil)
		if err != nil {
			return &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
		}
		if !resp.OK() {
			return share.NewAPIError(share.LinkedIn, resp.Status, resp.Body)
		}

		status := strings.ToUpper(resp.Get("status").String())
		switch status {
		case "AVAILABLE":
			return nil
		case "PROCESSING_FAILED", "FAILED":
			return &share.APIError{
				Provider: share.LinkedIn,
				Message:  fmt.Sprintf("video %s processing ended in status %s", urn, status),
				Body:     resp.Body,
			}
		}

		logutil.Debugf("linkedin: video %s status=%s, waiting %s (attempt %d/%d)", urn, status, c.cfg.PollInterval, attempt, c.cfg.PollAttempts)
		if err := c.http.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return &share.APIError{Provider: share.LinkedIn, Message: fmt.Sprintf("video poll canceled: %v", err)}
		}
	}
	return &share.APIError{
		Provider: share.LinkedIn,
		Message:  fmt.Sprintf("video %s not available after %d attempts", urn, c.cfg.PollAttempts),
	}
}

// permalink prefers the response's own link, falling back to the feed URL
// for known URN shapes.
func permalink(resp *httpx.Response, id string) string {
	if link := resp.Get("permalink").String(); link != "" {
		return link
	}
	if link := resp.Get("url").String(); link != "" {
		return link
	}
	for _, prefix := range urnPrefixes {
		if strings.HasPrefix(id, prefix) {
			return "https://www.linkedin.com/feed/update/" + id + "/"
		}
	}
	return ""
}

// Delete removes a post. HTTP 204 is success; anything else consults the
// body's success flag.
func (c *Client) Delete(ctx context.Context, postID string) (bool, error) {
	endpoint := c.cfg.BaseURL + "/rest/posts/" + escapeID(postID)
	resp, err := c.http.DoJSON(ctx, http.MethodDelete, endpoint, c.headers(), nil)
	if err != nil {
		return false, &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
	}
	if resp.Status == http.StatusNoContent {
		return true, nil
	}
	if !resp.OK() {
		return false, share.NewAPIError(share.LinkedIn, resp.Status, resp.Body)
	}
	return resp.Get("success").Bool(), nil
}

// Comment adds a comment to an existing post.
func (c *Client) Comment(ctx context.Context, postID, message string) (*share.CommentResult, error) {
	endpoint := c.cfg.BaseURL + "/v2/socialActions/" + escapeID(postID) + "/comments"
	resp, err := c.http.DoJSON(ctx, http.MethodPost, endpoint, c.headers(), map[string]any{
		"actor":   c.author,
		"message": map[string]any{"text": message},
	})
	if err != nil {
		return nil, &share.APIError{Provider: share.LinkedIn, Message: err.Error()}
	}
	if !resp.OK() {
		return nil, share.NewAPIError(share.LinkedIn, resp.Status, resp.Body)
	}

	return &share.CommentResult{
		Provider: share.LinkedIn,
		ID:       resp.Get("id").String(),
		PostID:   postID,
		Raw:      share.RawMap(resp.Body),
	}, nil
}

func wrapErr(err error) error {
	return share.WrapErr(share.LinkedIn, err)
}
