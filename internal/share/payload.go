package share

import (
	"encoding/json"
	"strings"
)

// MediaSource is an arbitrary local or remote media reference with an
// optional type hint ("image" or "video").
type MediaSource struct {
	Source string `json:"source"`
	Type   string `json:"type,omitempty"`
}

// NormalizeMediaType lowercases and trims a type hint; empty collapses to "".
func NormalizeMediaType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// Payload is the normalized share input. It is assembled once by the fluent
// builder and treated as read-only by drivers.
type Payload struct {
	Message  string
	Link     string
	ImageURL string
	VideoURL string

	// MediaIDs are provider-issued media handles, insertion order preserved.
	MediaIDs []string

	// MediaSources are media references, insertion order preserved and
	// deduplicated by (source, normalized type).
	MediaSources []MediaSource

	// Options are provider-specific knobs (published, scheduled_at, ...).
	Options map[string]any

	// Metadata is caller passthrough, never interpreted by drivers.
	Metadata map[string]any
}

// HasAnyCoreContent reports whether at least one of message, link, image,
// video, media ids, or media sources is present after normalization.
func (p *Payload) HasAnyCoreContent() bool {
	return p.Message != "" || p.Link != "" || p.ImageURL != "" || p.VideoURL != "" ||
		len(p.MediaIDs) > 0 || len(p.MediaSources) > 0
}

// Option returns a provider option by key.
func (p *Payload) Option(key string) (any, bool) {
	if p.Options == nil {
		return nil, false
	}
	v, ok := p.Options[key]
	return v, ok
}

// AppendUniqueMediaSource adds a source to the list unless an entry with the
// same source string and normalized type already exists. First entry wins.
func AppendUniqueMediaSource(list []MediaSource, src MediaSource) []MediaSource {
	src.Type = NormalizeMediaType(src.Type)
	src.Source = strings.TrimSpace(src.Source)
	if src.Source == "" {
		return list
	}
	for _, existing := range list {
		if existing.Source == src.Source && existing.Type == src.Type {
			return list
		}
	}
	return append(list, src)
}

func normalizeText(s string) string {
	return strings.TrimSpace(s)
}

// JoinNonEmpty joins the non-empty parts with sep. Drivers use it to combine
// message and link into one body with provider-specific spacing.
func JoinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}

// RawMap decodes a response body into a generic map for Result.Raw snapshots.
// Non-object bodies yield a single "body" entry so diagnostics are never lost.
func RawMap(body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return map[string]any{"body": string(body)}
	}
	return m
}
