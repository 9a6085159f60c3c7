package share

import (
	"context"
	"errors"
	"fmt"
)

// optionKeys is the per-provider allowlist consulted when strict option-key
// checking is enabled. "media_sources" is the legacy escape hatch accepted
// everywhere.
var optionKeys = map[Provider]map[string]struct{}{
	Facebook:  keySet("published", "scheduled_at", "targeting", "media_sources"),
	Instagram: keySet("media_type", "alt_text", "carousel_items", "media_sources"),
	Twitter:   keySet("poll", "in_reply_to_tweet_id", "quote_tweet_id", "media_sources"),
	LinkedIn:  keySet("visibility", "distribution", "media_urn", "article_title", "media_sources"),
}

func keySet(keys ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Fluent accumulates generic and provider-scoped share options, validates
// them against the bound provider, and assembles a Payload on demand. All
// checks happen before any network call: an invalid builder never reaches
// the driver.
type Fluent struct {
	driver Sharer
	strict bool

	payload Payload
	errs    []error
}

// NewFluent returns a builder bound to the given driver. When strict is set,
// unknown Option keys are rejected at build time.
func NewFluent(driver Sharer, strict bool) *Fluent {
	return &Fluent{driver: driver, strict: strict}
}

func (f *Fluent) provider() Provider { return f.driver.Provider() }

func (f *Fluent) fail(err error) *Fluent {
	f.errs = append(f.errs, err)
	return f
}

// scoped records an UnsupportedError unless the bound provider is allowed.
func (f *Fluent) scoped(feature string, allowed ...Provider) bool {
	for _, p := range allowed {
		if f.provider() == p {
			return true
		}
	}
	f.fail(UnsupportedError{Provider: f.provider(), Feature: feature})
	return false
}

// Message sets the share text.
func (f *Fluent) Message(text string) *Fluent {
	f.payload.Message = normalizeText(text)
	return f
}

// Link sets the share link.
func (f *Fluent) Link(url string) *Fluent {
	f.payload.Link = normalizeText(url)
	return f
}

// Image sets a direct image URL. X requires media to be uploaded through
// Media first, so this is rejected there.
func (f *Fluent) Image(url string) *Fluent {
	if f.provider() == Twitter {
		return f.fail(UnsupportedError{
			Provider: Twitter,
			Feature:  "direct image URLs",
			Reason:   "attach media with Media so it is uploaded before posting",
		})
	}
	f.payload.ImageURL = normalizeText(url)
	return f
}

// Video sets a direct video URL. Rejected on X for the same reason as Image.
func (f *Fluent) Video(url string) *Fluent {
	if f.provider() == Twitter {
		return f.fail(UnsupportedError{
			Provider: Twitter,
			Feature:  "direct video URLs",
			Reason:   "attach media with Media so it is uploaded before posting",
		})
	}
	f.payload.VideoURL = normalizeText(url)
	return f
}

// Media attaches a local path or remote URL with an optional type hint.
func (f *Fluent) Media(source string, typeHint ...string) *Fluent {
	hint := ""
	if len(typeHint) > 0 {
		hint = typeHint[0]
	}
	f.payload.MediaSources = AppendUniqueMediaSource(f.payload.MediaSources, MediaSource{Source: source, Type: hint})
	return f
}

// MediaID attaches a provider-issued media handle. Duplicates are dropped.
func (f *Fluent) MediaID(id string) *Fluent {
	id = normalizeText(id)
	if id == "" {
		return f
	}
	for _, existing := range f.payload.MediaIDs {
		if existing == id {
			return f
		}
	}
	f.payload.MediaIDs = append(f.payload.MediaIDs, id)
	return f
}

// Option sets a provider-specific knob by key. Unknown keys are rejected
// when strict option checking is configured.
func (f *Fluent) Option(key string, value any) *Fluent {
	if f.strict {
		if _, ok := optionKeys[f.provider()][key]; !ok {
			return f.fail(PayloadError{
				Provider: f.provider(),
				Reason:   fmt.Sprintf("unknown option %q", key),
			})
		}
	}
	if f.payload.Options == nil {
		f.payload.Options = map[string]any{}
	}
	f.payload.Options[key] = value
	return f
}

// Metadata stores caller passthrough data, never interpreted by drivers.
func (f *Fluent) Metadata(key string, value any) *Fluent {
	if f.payload.Metadata == nil {
		f.payload.Metadata = map[string]any{}
	}
	f.payload.Metadata[key] = value
	return f
}

// Published toggles immediate publishing (Facebook).
func (f *Fluent) Published(published bool) *Fluent {
	if f.scoped("published toggle", Facebook) {
		f.Option("published", published)
	}
	return f
}

// ScheduledAt schedules the post for a later time (Facebook). Accepts an
// epoch int or a parseable datetime string.
func (f *Fluent) ScheduledAt(when any) *Fluent {
	if f.scoped("scheduled publishing", Facebook) {
		f.Option("scheduled_at", when)
	}
	return f
}

// Targeting sets audience targeting (Facebook).
func (f *Fluent) Targeting(t map[string]any) *Fluent {
	if f.scoped("targeting", Facebook) {
		f.Option("targeting", t)
	}
	return f
}

// AltText sets image alt text (Instagram).
func (f *Fluent) AltText(text string) *Fluent {
	if f.scoped("alt text", Instagram) {
		f.Option("alt_text", text)
	}
	return f
}

// Reel publishes video media as a reel (Instagram).
func (f *Fluent) Reel() *Fluent {
	if f.scoped("reels", Instagram) {
		f.Option("media_type", "REELS")
	}
	return f
}

// Story publishes video media as a story (Instagram).
func (f *Fluent) Story() *Fluent {
	if f.scoped("stories", Instagram) {
		f.Option("media_type", "STORIES")
	}
	return f
}

// Carousel attaches 2-10 media items as a carousel post (Instagram).
func (f *Fluent) Carousel(items ...MediaSource) *Fluent {
	if f.scoped("carousels", Instagram) {
		f.Option("carousel_items", items)
	}
	return f
}

// Poll attaches a poll to the tweet (X).
func (f *Fluent) Poll(choices []string, durationMinutes int) *Fluent {
	if f.scoped("polls", Twitter) {
		f.Option("poll", map[string]any{
			"options":          choices,
			"duration_minutes": durationMinutes,
		})
	}
	return f
}

// ReplyTo makes the tweet a reply (X).
func (f *Fluent) ReplyTo(tweetID string) *Fluent {
	if f.scoped("replies", Twitter) {
		f.Option("in_reply_to_tweet_id", tweetID)
	}
	return f
}

// QuoteTweet quotes another tweet (X).
func (f *Fluent) QuoteTweet(tweetID string) *Fluent {
	if f.scoped("quote tweets", Twitter) {
		f.Option("quote_tweet_id", tweetID)
	}
	return f
}

// Visibility sets post visibility (LinkedIn).
func (f *Fluent) Visibility(v string) *Fluent {
	if f.scoped("visibility", LinkedIn) {
		f.Option("visibility", v)
	}
	return f
}

// Distribution sets feed distribution (LinkedIn).
func (f *Fluent) Distribution(d string) *Fluent {
	if f.scoped("distribution", LinkedIn) {
		f.Option("distribution", d)
	}
	return f
}

// MediaURN attaches an already uploaded media asset (LinkedIn).
func (f *Fluent) MediaURN(urn string) *Fluent {
	if f.scoped("media URNs", LinkedIn) {
		f.Option("media_urn", urn)
	}
	return f
}

// ArticleTitle overrides the article card title for link shares (LinkedIn).
func (f *Fluent) ArticleTitle(title string) *Fluent {
	if f.scoped("article titles", LinkedIn) {
		f.Option("article_title", title)
	}
	return f
}

// Payload assembles and returns the normalized payload, or the first
// validation error recorded while building.
func (f *Fluent) Payload() (*Payload, error) {
	if len(f.errs) > 0 {
		return nil, errors.Join(f.errs...)
	}
	p := f.payload
	return &p, nil
}

// Share builds the payload and delegates to the bound driver.
func (f *Fluent) Share(ctx context.Context) (*Result, error) {
	p, err := f.Payload()
	if err != nil {
		return nil, err
	}
	return f.driver.Share(ctx, p)
}
