package share

import (
	"context"
	"fmt"
	"strings"
)

// Provider identifies a supported social network.
type Provider string

const (
	Facebook  Provider = "facebook"
	Instagram Provider = "instagram"
	Twitter   Provider = "twitter"
	LinkedIn  Provider = "linkedin"
)

// Providers lists every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{Facebook, Instagram, Twitter, LinkedIn}
}

var providerAliases = map[string]Provider{
	"facebook":  Facebook,
	"fb":        Facebook,
	"instagram": Instagram,
	"ig":        Instagram,
	"twitter":   Twitter,
	"x":         Twitter,
	"linkedin":  LinkedIn,
	"li":        LinkedIn,
}

// ParseProvider resolves a provider token or short alias (fb, ig, x, li).
// An unknown token is a hard error.
func ParseProvider(token string) (Provider, error) {
	p, ok := providerAliases[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", token)
	}
	return p, nil
}

// Result is the uniform outcome of a successful share.
type Result struct {
	Provider Provider       `json:"provider"`
	ID       string         `json:"id"`
	URL      string         `json:"url,omitempty"`
	Raw      map[string]any `json:"raw,omitempty"`
}

// CommentResult is the outcome of commenting on an existing post.
type CommentResult struct {
	Provider Provider       `json:"provider"`
	ID       string         `json:"id"`
	PostID   string         `json:"post_id"`
	Raw      map[string]any `json:"raw,omitempty"`
}

// Sharer is the driver contract every provider implements.
type Sharer interface {
	Provider() Provider
	Share(ctx context.Context, p *Payload) (*Result, error)
	Delete(ctx context.Context, postID string) (bool, error)
}

// Commenter is implemented by providers that support post comments (LinkedIn).
type Commenter interface {
	Comment(ctx context.Context, postID, message string) (*CommentResult, error)
}
