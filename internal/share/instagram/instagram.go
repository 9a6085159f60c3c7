// Package instagram publishes media through the Instagram Graph API.
// Instagram's pipeline is asynchronous server-side: media is staged into a
// container, the container is polled until processing finishes, and the
// publish call is retried while the API still reports the media as not
// ready. "Not yet processed" is indistinguishable from a real 400 except by
// error code and message sniffing.
package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/blacktop/sharecast/internal/logutil"
	"github.com/blacktop/sharecast/internal/share"
	"github.com/blacktop/sharecast/internal/share/httpx"
	"github.com/blacktop/sharecast/internal/share/media"
)

const (
	defaultBaseURL      = "https://graph.facebook.com"
	defaultGraphVersion = "v25.0"
	defaultPollAttempts = 20
	defaultPollInterval = 3 * time.Second

	carouselMin = 2
	carouselMax = 10

	// Graph error identifiers for "media not ready for publishing".
	codeNotReady    = 9007
	subcodeNotReady = 2207027
)

// Config carries the resolved Instagram credentials and polling tuning.
type Config struct {
	BaseURL      string
	GraphVersion string
	IGID         string
	AccessToken  string
	PollAttempts int
	PollInterval time.Duration
}

// Client implements share.Sharer for Instagram business accounts.
type Client struct {
	cfg      Config
	http     *httpx.Client
	resolver *media.Resolver
}

// New validates credentials and constructs the driver.
func New(cfg Config, httpClient *httpx.Client, resolver *media.Resolver) (*Client, error) {
	var missing []string
	if cfg.IGID == "" {
		missing = append(missing, "ig_id")
	}
	if cfg.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return nil, share.ConfigError{Provider: share.Instagram, Missing: missing}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.GraphVersion == "" {
		cfg.GraphVersion = defaultGraphVersion
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Client{cfg: cfg, http: httpClient, resolver: resolver}, nil
}

// Provider identifies the driver.
func (c *Client) Provider() share.Provider { return share.Instagram }

func (c *Client) endpoint(segment string) string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.GraphVersion, segment)
}

// Share stages the payload media into a container and publishes it.
func (c *Client) Share(ctx context.Context, p *share.Payload) (*share.Result, error) {
	cleanups := &share.Cleanups{}
	defer cleanups.Run()

	if len(p.MediaIDs) > 0 {
		return nil, share.UnsupportedError{
			Provider: share.Instagram,
			Feature:  "direct media ids",
			Reason:   "Instagram media must be created through containers",
		}
	}
	items, carousel := p.Option("carousel_items")
	if !carousel && !p.HasAnyCoreContent() {
		return nil, share.PayloadError{Provider: share.Instagram, Reason: "share payload has no content"}
	}

	var (
		containerID string
		hasVideo    bool
		err         error
	)
	if carousel {
		containerID, hasVideo, err = c.createCarousel(ctx, p, items, cleanups)
	} else {
		containerID, hasVideo, err = c.createSingle(ctx, p, cleanups)
	}
	if err != nil {
		return nil, err
	}

	poll := &containerPoll{client: c}
	if hasVideo {
		if err := poll.waitUntilReady(ctx, containerID); err != nil {
			return nil, err
		}
	}

	postID, raw, err := c.publish(ctx, containerID, poll)
	if err != nil {
		return nil, err
	}

	return &share.Result{
		Provider: share.Instagram,
		ID:       postID,
		URL:      c.permalink(ctx, postID),
		Raw:      raw,
	}, nil
}

// createSingle builds one media container from the image/video fields or the
// first declared media source.
func (c *Client) createSingle(ctx context.Context, p *share.Payload, cleanups *share.Cleanups) (string, bool, error) {
	source, hint, err := c.pickSource(p)
	if err != nil {
		return "", false, err
	}
	if source == "" {
		// Text-only payloads cannot be expressed as a container.
		return "", false, share.PayloadError{
			Provider: share.Instagram,
			Reason:   "Instagram requires at least one image or video",
		}
	}

	kind, err := media.Infer(source, hint, "")
	if err != nil {
		return "", false, wrapErr(err)
	}

	publicURL, cleanup, err := c.resolver.PublicURL(ctx, source)
	if err != nil {
		return "", false, wrapErr(err)
	}
	cleanups.Add(cleanup)

	params := url.Values{}
	if caption := share.JoinNonEmpty("\n", p.Message, p.Link); caption != "" {
		params.Set("caption", caption)
	}

	if kind == media.KindImage {
		params.Set("image_url", publicURL)
		if alt, ok := p.Option("alt_text"); ok {
			if text := cast.ToString(alt); text != "" {
				params.Set("alt_text", text)
			}
		}
	} else {
		mediaType, err := videoMediaType(p)
		if err != nil {
			return "", false, err
		}
		params.Set("video_url", publicURL)
		params.Set("media_type", mediaType)
	}

	id, err := c.createContainer(ctx, params)
	return id, kind == media.KindVideo, err
}

func (c *Client) pickSource(p *share.Payload) (string, string, error) {
	if p.ImageURL != "" {
		return p.ImageURL, "image", nil
	}
	if p.VideoURL != "" {
		return p.VideoURL, "video", nil
	}
	sources, err := media.SourcesFromPayload(p)
	if err != nil {
		return "", "", wrapErr(err)
	}
	if len(sources) == 0 {
		return "", "", nil
	}
	return sources[0].Source, sources[0].Type, nil
}

// videoMediaType maps the media_type option onto what the publish endpoint
// accepts. Plain VIDEO posts are published as reels.
func videoMediaType(p *share.Payload) (string, error) {
	raw, ok := p.Option("media_type")
	if !ok {
		return "REELS", nil
	}
	switch strings.ToUpper(strings.TrimSpace(cast.ToString(raw))) {
	case "", "VIDEO", "REELS":
		return "REELS", nil
	case "STORIES":
		return "STORIES", nil
	default:
		return "", share.PayloadError{
			Provider: share.Instagram,
			Reason:   fmt.Sprintf("unsupported media_type %q (expected VIDEO, REELS, or STORIES)", cast.ToString(raw)),
		}
	}
}

// createCarousel creates each child container in caller order, then the
// parent referencing them.
func (c *Client) createCarousel(ctx context.Context, p *share.Payload, items any, cleanups *share.Cleanups) (string, bool, error) {
	sources, err := media.ParseSourceList(items)
	if err != nil {
		return "", false, wrapErr(err)
	}
	if len(sources) < carouselMin || len(sources) > carouselMax {
		return "", false, share.PayloadError{
			Provider: share.Instagram,
			Reason:   fmt.Sprintf("carousel requires between %d and %d items, got %d", carouselMin, carouselMax, len(sources)),
		}
	}

	childIDs := make([]string, 0, len(sources))
	hasVideo := false
	for i, src := range sources {
		kind, err := media.Infer(src.Source, src.Type, "")
		if err != nil {
			return "", false, wrapErr(err)
		}

		publicURL, cleanup, err := c.resolver.PublicURL(ctx, src.Source)
		if err != nil {
			return "", false, wrapErr(err)
		}
		cleanups.Add(cleanup)

		params := url.Values{}
		params.Set("is_carousel_item", "true")
		if kind == media.KindImage {
			params.Set("image_url", publicURL)
		} else {
			params.Set("video_url", publicURL)
			params.Set("media_type", "VIDEO")
			hasVideo = true
		}

		childID, err := c.createContainer(ctx, params)
		if err != nil {
			return "", false, fmt.Errorf("carousel item %d: %w", i+1, err)
		}
		childIDs = append(childIDs, childID)
	}

	params := url.Values{}
	params.Set("media_type", "CAROUSEL")
	params.Set("children", strings.Join(childIDs, ","))
	if caption := share.JoinNonEmpty("\n", p.Message, p.Link); caption != "" {
		params.Set("caption", caption)
	}

	parentID, err := c.createContainer(ctx, params)
	return parentID, hasVideo, err
}

func (c *Client) createContainer(ctx context.Context, params url.Values) (string, error) {
	params.Set("access_token", c.cfg.AccessToken)
	resp, err := c.http.PostForm(ctx, c.endpoint(c.cfg.IGID+"/media"), nil, params)
	if err != nil {
		return "", &share.APIError{Provider: share.Instagram, Message: err.Error()}
	}
	if !resp.OK() {
		return "", share.NewAPIError(share.Instagram, resp.Status, resp.Body)
	}
	id := resp.Get("id").String()
	if id == "" {
		return "", &share.APIError{
			Provider: share.Instagram,
			Status:   resp.Status,
			Message:  "container creation returned no id",
			Body:     resp.Body,
		}
	}
	logutil.Debugf("instagram: created container %s", id)
	return id, nil
}

// containerPoll tracks per-call poll state: once the API rejects the
// estimated_time_to_completion field the degraded field list sticks for the
// rest of the call.
type containerPoll struct {
	client   *Client
	degraded bool
}

// status fetches the container's processing status. Returns the lowercased
// status_code and the server's estimated wait in seconds (0 when unknown).
func (cp *containerPoll) status(ctx context.Context, containerID string) (string, int, error) {
	fields := "status_code,status,estimated_time_to_completion"
	if cp.degraded {
		fields = "status_code,status"
	}

	for {
		endpoint := fmt.Sprintf("%s?fields=%s&access_token=%s",
			cp.client.endpoint(url.PathEscape(containerID)), fields, url.QueryEscape(cp.client.cfg.AccessToken))
		resp, err := cp.client.http.DoJSON(ctx, http.MethodGet, endpoint, nil, nil)
		if err != nil {
			return "", 0, &share.APIError{Provider: share.Instagram, Message: err.Error()}
		}
		if !resp.OK() {
			if !cp.degraded && resp.Status == http.StatusBadRequest {
				// Older Graph versions reject the ETA field.
				cp.degraded = true
				fields = "status_code,status"
				continue
			}
			return "", 0, share.NewAPIError(share.Instagram, resp.Status, resp.Body)
		}

		statusCode := strings.ToLower(resp.Get("status_code").String())
		eta := int(resp.Get("estimated_time_to_completion").Int())
		return statusCode, eta, nil
	}
}

// waitUntilReady polls the container until processing finishes, sleeping the
// server-estimated time between attempts.
func (cp *containerPoll) waitUntilReady(ctx context.Context, containerID string) error {
	c := cp.client
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		statusCode, eta, err := cp.status(ctx, containerID)
		if err != nil {
			return err
		}

		switch statusCode {
		case "finished", "ready":
			return nil
		case "error", "expired", "failed":
			return &share.APIError{
				Provider: share.Instagram,
				Message:  fmt.Sprintf("container %s processing ended in status %q", containerID, statusCode),
			}
		}

		wait := c.cfg.PollInterval
		if eta > 0 {
			wait = time.Duration(eta) * time.Second
		}
		logutil.Debugf("instagram: container %s status=%q, waiting %s (attempt %d/%d)",
			containerID, statusCode, wait, attempt, c.cfg.PollAttempts)
		if err := c.http.Sleep(ctx, wait); err != nil {
			return &share.APIError{Provider: share.Instagram, Message: fmt.Sprintf("poll canceled: %v", err)}
		}
	}
	return &share.APIError{
		Provider: share.Instagram,
		Message:  fmt.Sprintf("container %s not ready after %d attempts", containerID, c.cfg.PollAttempts),
	}
}

// publish issues media_publish, retrying while the API reports the media as
// not yet available. Any other failure is fatal immediately.
func (c *Client) publish(ctx context.Context, containerID string, poll *containerPoll) (string, map[string]any, error) {
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		params := url.Values{}
		params.Set("creation_id", containerID)
		params.Set("access_token", c.cfg.AccessToken)

		resp, err := c.http.PostForm(ctx, c.endpoint(c.cfg.IGID+"/media_publish"), nil, params)
		if err != nil {
			return "", nil, &share.APIError{Provider: share.Instagram, Message: err.Error()}
		}

		if resp.OK() {
			id := resp.Get("id").String()
			if id == "" {
				statusCode, _, statusErr := poll.status(ctx, containerID)
				msg := "publish response did not include a post id"
				if statusErr == nil {
					msg += fmt.Sprintf(" (container status %q)", statusCode)
				}
				return "", nil, &share.APIError{
					Provider: share.Instagram,
					Status:   resp.Status,
					Message:  msg,
					Body:     resp.Body,
				}
			}
			return id, share.RawMap(resp.Body), nil
		}

		if !isNotReady(resp) {
			return "", nil, share.NewAPIError(share.Instagram, resp.Status, resp.Body)
		}

		// Media still processing; ask the container how long to wait.
		wait := c.cfg.PollInterval
		if _, eta, statusErr := poll.status(ctx, containerID); statusErr == nil && eta > 0 {
			wait = time.Duration(eta) * time.Second
		}
		logutil.Debugf("instagram: container %s not ready for publishing, retrying in %s (attempt %d/%d)",
			containerID, wait, attempt, c.cfg.PollAttempts)
		if err := c.http.Sleep(ctx, wait); err != nil {
			return "", nil, &share.APIError{Provider: share.Instagram, Message: fmt.Sprintf("publish retry canceled: %v", err)}
		}
	}
	return "", nil, &share.APIError{
		Provider: share.Instagram,
		Message:  fmt.Sprintf("container %s not ready after %d attempts", containerID, c.cfg.PollAttempts),
	}
}

// isNotReady recognizes the transient "media not available yet" 400.
func isNotReady(resp *httpx.Response) bool {
	if resp.Status != http.StatusBadRequest {
		return false
	}
	if resp.Get("error.code").Int() == codeNotReady {
		return true
	}
	if resp.Get("error.error_subcode").Int() == subcodeNotReady {
		return true
	}
	msg := strings.ToLower(resp.Get("error.message").String())
	return strings.Contains(msg, "media id is not available") ||
		strings.Contains(msg, "not ready for publishing")
}

// permalink fetches the published media's permalink. Best effort: a share
// that succeeded is never failed over a missing permalink.
func (c *Client) permalink(ctx context.Context, postID string) string {
	endpoint := fmt.Sprintf("%s?fields=permalink&access_token=%s",
		c.endpoint(url.PathEscape(postID)), url.QueryEscape(c.cfg.AccessToken))
	resp, err := c.http.DoJSON(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil || !resp.OK() {
		return ""
	}
	return resp.Get("permalink").String()
}

// Delete removes a published post.
func (c *Client) Delete(ctx context.Context, postID string) (bool, error) {
	endpoint := c.endpoint(url.PathEscape(postID)) + "?access_token=" + url.QueryEscape(c.cfg.AccessToken)
	resp, err := c.http.DoJSON(ctx, http.MethodDelete, endpoint, nil, nil)
	if err != nil {
		return false, &share.APIError{Provider: share.Instagram, Message: err.Error()}
	}
	if !resp.OK() {
		return false, share.NewAPIError(share.Instagram, resp.Status, resp.Body)
	}
	if success := resp.Get("success"); success.Exists() {
		return success.Bool(), nil
	}
	return true, nil
}

func wrapErr(err error) error {
	return share.WrapErr(share.Instagram, err)
}
