// Package manager wires configuration, transport, storage, and drivers
// together. Drivers are built from an explicit factory table keyed by
// provider and cached per provider+profile.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blacktop/sharecast/internal/share"
	"github.com/blacktop/sharecast/internal/share/config"
	"github.com/blacktop/sharecast/internal/share/facebook"
	"github.com/blacktop/sharecast/internal/share/httpx"
	"github.com/blacktop/sharecast/internal/share/instagram"
	"github.com/blacktop/sharecast/internal/share/linkedin"
	"github.com/blacktop/sharecast/internal/share/media"
	"github.com/blacktop/sharecast/internal/share/twitter"
	"github.com/blacktop/sharecast/internal/storage"
)

// Factory builds a driver from its resolved provider section and credentials.
type Factory func(m *Manager, pc *config.ProviderConfig, creds config.Credentials) (share.Sharer, error)

func factories() map[share.Provider]Factory {
	return map[share.Provider]Factory{
		share.Facebook:  newFacebook,
		share.Instagram: newInstagram,
		share.Twitter:   newTwitter,
		share.LinkedIn:  newLinkedIn,
	}
}

type driverKey struct {
	provider share.Provider
	profile  string
}

// Manager resolves providers and profiles into ready drivers.
type Manager struct {
	cfg       *config.Config
	http      *httpx.Client
	resolver  *media.Resolver
	factories map[share.Provider]Factory

	mu      sync.Mutex
	drivers map[driverKey]share.Sharer
}

// New builds the shared transport and media resolver and returns a Manager.
func New(ctx context.Context, cfg *config.Config) (*Manager, error) {
	httpClient := httpx.New(httpx.Config{
		Timeout:        cfg.HTTP.Timeout,
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		Retries:        cfg.HTTP.Retries,
		RetrySleep:     time.Duration(cfg.HTTP.RetrySleepMS) * time.Millisecond,
	})

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:  cfg,
		http: httpClient,
		resolver: &media.Resolver{
			HTTP:       httpClient,
			Store:      store,
			Dir:        cfg.TemporaryMedia.Directory,
			Visibility: cfg.TemporaryMedia.Visibility,
			BaseURL:    cfg.TemporaryMedia.BaseURL,
		},
		factories: factories(),
		drivers:   make(map[driverKey]share.Sharer),
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.TemporaryMedia.Disk {
	case "s3":
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:      cfg.TemporaryMedia.S3.Endpoint,
			AccessKey:     cfg.TemporaryMedia.S3.AccessKey,
			SecretKey:     cfg.TemporaryMedia.S3.SecretKey,
			Bucket:        cfg.TemporaryMedia.S3.Bucket,
			Region:        cfg.TemporaryMedia.S3.Region,
			UseSSL:        cfg.TemporaryMedia.S3.UseSSL,
			PublicBaseURL: cfg.TemporaryMedia.S3.PublicBaseURL,
		})
	default:
		return storage.NewLocal(cfg.TemporaryMedia.Directory, cfg.TemporaryMedia.BaseURL), nil
	}
}

// HTTP exposes the shared transport (tests inject a sleep func through it).
func (m *Manager) HTTP() *httpx.Client { return m.http }

// Driver resolves a provider token and profile into a cached driver.
// Unknown tokens and missing profiles or credentials are hard errors.
func (m *Manager) Driver(providerToken, profile string) (share.Sharer, error) {
	provider, err := share.ParseProvider(providerToken)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := driverKey{provider: provider, profile: profile}
	if d, ok := m.drivers[key]; ok {
		return d, nil
	}

	factory, ok := m.factories[provider]
	if !ok {
		return nil, fmt.Errorf("no driver registered for provider %s", provider)
	}
	creds, err := m.cfg.Profile(provider, profile)
	if err != nil {
		return nil, err
	}
	d, err := factory(m, m.cfg.Provider(provider), creds)
	if err != nil {
		return nil, err
	}
	m.drivers[key] = d
	return d, nil
}

// Share returns a fluent builder bound to the resolved driver.
func (m *Manager) Share(providerToken, profile string) (*share.Fluent, error) {
	d, err := m.Driver(providerToken, profile)
	if err != nil {
		return nil, err
	}
	return share.NewFluent(d, m.cfg.StrictOptionKeys), nil
}

// Delete removes a post through the resolved driver.
func (m *Manager) Delete(ctx context.Context, providerToken, profile, postID string) (bool, error) {
	d, err := m.Driver(providerToken, profile)
	if err != nil {
		return false, err
	}
	return d.Delete(ctx, postID)
}

// Comment adds a comment through the resolved driver, when it supports
// commenting.
func (m *Manager) Comment(ctx context.Context, providerToken, profile, postID, message string) (*share.CommentResult, error) {
	d, err := m.Driver(providerToken, profile)
	if err != nil {
		return nil, err
	}
	commenter, ok := d.(share.Commenter)
	if !ok {
		return nil, share.UnsupportedError{
			Provider: d.Provider(),
			Feature:  "comment",
			Reason:   "provider does not support comments",
		}
	}
	return commenter.Comment(ctx, postID, message)
}

func newFacebook(m *Manager, pc *config.ProviderConfig, creds config.Credentials) (share.Sharer, error) {
	return facebook.New(facebook.Config{
		BaseURL:      pc.BaseURL,
		GraphVersion: pc.GraphVersion,
		PageID:       creds.Get("page_id"),
		AccessToken:  creds.Get("access_token"),
	}, m.http, m.resolver)
}

func newInstagram(m *Manager, pc *config.ProviderConfig, creds config.Credentials) (share.Sharer, error) {
	return instagram.New(instagram.Config{
		BaseURL:      pc.BaseURL,
		GraphVersion: pc.GraphVersion,
		IGID:         creds.Get("ig_id"),
		AccessToken:  creds.Get("access_token"),
		PollAttempts: pc.PollAttempts,
		PollInterval: pc.PollInterval,
	}, m.http, m.resolver)
}

func newTwitter(m *Manager, pc *config.ProviderConfig, creds config.Credentials) (share.Sharer, error) {
	return twitter.New(twitter.Config{
		BaseURL:           pc.BaseURL,
		BearerToken:       creds.Get("bearer_token"),
		PollAttempts:      pc.PollAttempts,
		ConsumerKey:       creds.Get("consumer_key"),
		ConsumerSecret:    creds.Get("consumer_secret"),
		AccessToken:       creds.Get("access_token"),
		AccessTokenSecret: creds.Get("access_token_secret"),
	}, m.http, m.resolver)
}

func newLinkedIn(m *Manager, pc *config.ProviderConfig, creds config.Credentials) (share.Sharer, error) {
	return linkedin.New(linkedin.Config{
		BaseURL:      pc.BaseURL,
		Author:       creds.Get("author"),
		AccessToken:  creds.Get("access_token"),
		Version:      creds.Get("version"),
		PollAttempts: pc.PollAttempts,
		PollInterval: pc.PollInterval,
	}, m.http, m.resolver)
}
