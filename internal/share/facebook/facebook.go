// Package facebook publishes page posts through the Facebook Graph API.
// The protocol is a single synchronous request: media is referenced by URL
// (local files are staged to temporary public storage first) and routed to
// the photos, videos, or feed endpoint.
package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
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
)

// Config carries the resolved Facebook credentials and endpoints.
type Config struct {
	BaseURL      string
	GraphVersion string
	PageID       string
	AccessToken  string
}

// Client implements share.Sharer for Facebook pages.
type Client struct {
	cfg      Config
	http     *httpx.Client
	resolver *media.Resolver
}

// New validates credentials and constructs the driver.
func New(cfg Config, httpClient *httpx.Client, resolver *media.Resolver) (*Client, error) {
	var missing []string
	if cfg.PageID == "" {
		missing = append(missing, "page_id")
	}
	if cfg.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return nil, share.ConfigError{Provider: share.Facebook, Missing: missing}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.GraphVersion == "" {
		cfg.GraphVersion = defaultGraphVersion
	}
	return &Client{cfg: cfg, http: httpClient, resolver: resolver}, nil
}

// Provider identifies the driver.
func (c *Client) Provider() share.Provider { return share.Facebook }

func (c *Client) endpoint(segment string) string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.GraphVersion, segment)
}

// Share publishes a post to the configured page.
func (c *Client) Share(ctx context.Context, p *share.Payload) (*share.Result, error) {
	cleanups := &share.Cleanups{}
	defer cleanups.Run()

	if !p.HasAnyCoreContent() {
		return nil, share.PayloadError{Provider: share.Facebook, Reason: "share payload has no content"}
	}

	kind, mediaURL, err := c.resolveMedia(ctx, p, cleanups)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("access_token", c.cfg.AccessToken)

	var segment string
	switch {
	case kind == media.KindImage:
		segment = c.cfg.PageID + "/photos"
		params.Set("url", mediaURL)
		if caption := share.JoinNonEmpty("\n", p.Message, p.Link); caption != "" {
			params.Set("caption", caption)
		}
	case kind == media.KindVideo:
		segment = c.cfg.PageID + "/videos"
		params.Set("file_url", mediaURL)
		if description := share.JoinNonEmpty("\n", p.Message, p.Link); description != "" {
			params.Set("description", description)
		}
	default:
		segment = c.cfg.PageID + "/feed"
		if p.Message != "" {
			params.Set("message", p.Message)
		}
		if p.Link != "" {
			params.Set("link", p.Link)
		}
	}

	if err := applyPublishingOptions(params, p); err != nil {
		return nil, err
	}

	logutil.Debugf("facebook: posting to %s", segment)
	resp, err := c.http.PostForm(ctx, c.endpoint(segment), nil, params)
	if err != nil {
		return nil, &share.APIError{Provider: share.Facebook, Message: err.Error()}
	}
	if !resp.OK() {
		return nil, share.NewAPIError(share.Facebook, resp.Status, resp.Body)
	}

	id := resp.Get("id").String()
	if id == "" {
		id = resp.Get("post_id").String()
	}
	if id == "" {
		return nil, &share.APIError{
			Provider: share.Facebook,
			Status:   resp.Status,
			Message:  "response did not include a post id",
			Body:     resp.Body,
		}
	}

	return &share.Result{
		Provider: share.Facebook,
		ID:       id,
		URL:      "https://www.facebook.com/" + id,
		Raw:      share.RawMap(resp.Body),
	}, nil
}

// resolveMedia finds at most one media URL for the post: the explicit
// image/video fields win, then the first declared media source. Local files
// are staged to a temporary public URL since the Graph photo/video endpoints
// take URLs, not bytes.
func (c *Client) resolveMedia(ctx context.Context, p *share.Payload, cleanups *share.Cleanups) (media.Kind, string, error) {
	stage := func(kind media.Kind, source string) (media.Kind, string, error) {
		publicURL, cleanup, err := c.resolver.PublicURL(ctx, source)
		if err != nil {
			return "", "", wrapErr(err)
		}
		cleanups.Add(cleanup)
		return kind, publicURL, nil
	}

	if p.ImageURL != "" {
		return stage(media.KindImage, p.ImageURL)
	}
	if p.VideoURL != "" {
		return stage(media.KindVideo, p.VideoURL)
	}

	sources, err := media.SourcesFromPayload(p)
	if err != nil {
		return "", "", wrapErr(err)
	}
	if len(sources) == 0 {
		return "", "", nil
	}

	first := sources[0]
	kind, err := media.Infer(first.Source, first.Type, "")
	if err != nil {
		return "", "", wrapErr(err)
	}
	return stage(kind, first.Source)
}

// applyPublishingOptions folds published/scheduled_at/targeting into the
// outgoing request. A scheduled post is forced unpublished.
func applyPublishingOptions(params url.Values, p *share.Payload) error {
	if v, ok := p.Option("published"); ok {
		params.Set("published", cast.ToString(cast.ToBool(v)))
	}

	if v, ok := p.Option("scheduled_at"); ok {
		epoch, err := epochFrom(v)
		if err != nil {
			return err
		}
		params.Set("scheduled_publish_time", cast.ToString(epoch))
		params.Set("published", "false")
	}

	if v, ok := p.Option("targeting"); ok {
		if t := cast.ToStringMap(v); len(t) > 0 {
			encoded, err := json.Marshal(t)
			if err != nil {
				return share.PayloadError{Provider: share.Facebook, Reason: fmt.Sprintf("targeting is not encodable: %v", err)}
			}
			params.Set("targeting", string(encoded))
		}
	}

	return nil
}

// epochFrom accepts an epoch int or a parseable datetime string.
func epochFrom(v any) (int64, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Unix(), nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.Unix(), nil
			}
		}
		if epoch, err := cast.ToInt64E(t); err == nil && epoch > 0 {
			return epoch, nil
		}
	default:
		if epoch, err := cast.ToInt64E(v); err == nil && epoch > 0 {
			return epoch, nil
		}
	}
	return 0, share.PayloadError{
		Provider: share.Facebook,
		Reason:   fmt.Sprintf("scheduled_at %v is neither an epoch nor a parseable datetime", v),
	}
}

// Delete removes a post. The success flag comes from the response body and
// defaults to false.
func (c *Client) Delete(ctx context.Context, postID string) (bool, error) {
	endpoint := c.endpoint(url.PathEscape(postID)) + "?access_token=" + url.QueryEscape(c.cfg.AccessToken)
	resp, err := c.http.DoJSON(ctx, http.MethodDelete, endpoint, nil, nil)
	if err != nil {
		return false, &share.APIError{Provider: share.Facebook, Message: err.Error()}
	}
	if !resp.OK() {
		return false, share.NewAPIError(share.Facebook, resp.Status, resp.Body)
	}
	return resp.Get("success").Bool(), nil
}

func wrapErr(err error) error {
	return share.WrapErr(share.Facebook, err)
}
