// Package media resolves share payload media references into the form each
// provider's upload step needs: raw bytes, a local file path suitable for
// chunked upload, or a publicly reachable URL.
package media

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/blacktop/sharecast/internal/logutil"
	"github.com/blacktop/sharecast/internal/share"
	"github.com/blacktop/sharecast/internal/share/httpx"
	"github.com/blacktop/sharecast/internal/storage"
)

// Kind is an inferred media type.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var imageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {},
	".webp": {}, ".heic": {}, ".heif": {},
}

var videoExts = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".m4v": {}, ".avi": {}, ".webm": {}, ".mkv": {},
}

// Infer resolves the media kind for a source. Resolution order is fixed:
// explicit hint first, then MIME, then file extension. An unresolvable
// source is a payload error asking for an explicit hint.
func Infer(source, typeHint, mimeHint string) (Kind, error) {
	hint := strings.ToLower(typeHint)
	switch {
	case strings.Contains(hint, "image"):
		return KindImage, nil
	case strings.Contains(hint, "video"):
		return KindVideo, nil
	}

	mimeLower := strings.ToLower(mimeHint)
	switch {
	case strings.Contains(mimeLower, "image/"):
		return KindImage, nil
	case strings.Contains(mimeLower, "video/"):
		return KindVideo, nil
	}

	ext := strings.ToLower(path.Ext(sourcePath(source)))
	if _, ok := imageExts[ext]; ok {
		return KindImage, nil
	}
	if _, ok := videoExts[ext]; ok {
		return KindVideo, nil
	}

	return "", share.PayloadError{
		Reason: fmt.Sprintf("cannot determine media type for %q, pass an explicit image/video hint", source),
	}
}

// sourcePath strips query/fragment noise from URLs so extension lookup sees
// the real filename. Local paths pass through untouched.
func sourcePath(source string) string {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return u.Path
	}
	return source
}

// IsRemote reports whether source is a well-formed http(s) URL.
func IsRemote(source string) bool {
	u, err := url.Parse(source)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ParseSourceList converts a loosely typed option value (strings or
// {source, type} maps) into media sources. Used by the legacy
// "media_sources" option and Instagram carousel items.
func ParseSourceList(value any) ([]share.MediaSource, error) {
	var out []share.MediaSource
	add := func(entry any) error {
		switch v := entry.(type) {
		case string:
			out = append(out, share.MediaSource{Source: v})
		case share.MediaSource:
			out = append(out, v)
		case map[string]any:
			src := cast.ToString(v["source"])
			if src == "" {
				return share.PayloadError{Reason: "media source entry is missing a source"}
			}
			out = append(out, share.MediaSource{Source: src, Type: cast.ToString(v["type"])})
		default:
			return share.PayloadError{Reason: fmt.Sprintf("unsupported media source entry %T", entry)}
		}
		return nil
	}

	switch v := value.(type) {
	case []share.MediaSource:
		out = append(out, v...)
	case []string:
		for _, entry := range v {
			if err := add(entry); err != nil {
				return nil, err
			}
		}
	case []any:
		for _, entry := range v {
			if err := add(entry); err != nil {
				return nil, err
			}
		}
	default:
		if err := add(value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SourcesFromPayload merges explicit media sources, the legacy
// "media_sources" option, and the image/video URL fields into one ordered,
// deduplicated list. First entry wins on duplicates.
func SourcesFromPayload(p *share.Payload) ([]share.MediaSource, error) {
	merged := make([]share.MediaSource, 0, len(p.MediaSources)+2)
	for _, src := range p.MediaSources {
		merged = share.AppendUniqueMediaSource(merged, src)
	}

	if legacy, ok := p.Option("media_sources"); ok {
		parsed, err := ParseSourceList(legacy)
		if err != nil {
			return nil, err
		}
		for _, src := range parsed {
			merged = share.AppendUniqueMediaSource(merged, src)
		}
	}

	if p.ImageURL != "" {
		merged = share.AppendUniqueMediaSource(merged, share.MediaSource{Source: p.ImageURL, Type: "image"})
	}
	if p.VideoURL != "" {
		merged = share.AppendUniqueMediaSource(merged, share.MediaSource{Source: p.VideoURL, Type: "video"})
	}

	return merged, nil
}

// Binary is a fully loaded media source.
type Binary struct {
	Data     []byte
	Filename string
	MIME     string
}

// Resolver turns media sources into bytes, upload-ready paths, or public
// URLs, staging temporary artifacts in the configured store.
type Resolver struct {
	HTTP  *httpx.Client
	Store storage.Store

	// Dir and Visibility control temporary object placement.
	Dir        string
	Visibility string

	// BaseURL absolutizes relative storage URLs.
	BaseURL string
}

// LoadBinary reads a source fully into memory. Remote sources are downloaded
// with the configured transport; local paths are read from disk.
func (r *Resolver) LoadBinary(ctx context.Context, source string) (*Binary, error) {
	if IsRemote(source) {
		resp, err := r.HTTP.GetBytes(ctx, source, nil)
		if err != nil {
			return nil, fmt.Errorf("download media %s: %w", source, err)
		}
		if !resp.OK() {
			return nil, fmt.Errorf("download media %s: HTTP %d", source, resp.Status)
		}
		name := path.Base(sourcePath(source))
		if name == "" || name == "." || name == "/" || path.Ext(name) == "" {
			name = "media.bin"
		}
		mimeType := strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0])
		return &Binary{Data: resp.Body, Filename: name, MIME: mimeType}, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, share.PayloadError{Reason: fmt.Sprintf("media file %q is not readable", source)}
	}
	if len(data) == 0 {
		return nil, share.PayloadError{Reason: fmt.Sprintf("media file %q is empty", source)}
	}

	mimeType := mime.TypeByExtension(filepath.Ext(source))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	return &Binary{Data: data, Filename: filepath.Base(source), MIME: mimeType}, nil
}

// PrepareUploadSource produces a filesystem path suitable for streamed or
// chunked upload, plus an idempotent cleanup. Local paths are returned as-is
// with a no-op cleanup; remote sources are streamed to a temporary file.
func (r *Resolver) PrepareUploadSource(ctx context.Context, source string) (string, func(), error) {
	if !IsRemote(source) {
		if info, err := os.Stat(source); err != nil || info.IsDir() {
			return "", nil, share.PayloadError{Reason: fmt.Sprintf("media file %q is not readable", source)}
		}
		return source, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "sharecast-media-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	written, contentType, err := r.HTTP.DownloadToFile(ctx, source, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", nil, err
	}
	if written == 0 {
		// Some origins reject streamed reads; fall back to a buffered fetch.
		bin, err := r.LoadBinary(ctx, source)
		if err != nil {
			os.Remove(tmpPath)
			return "", nil, err
		}
		if err := os.WriteFile(tmpPath, bin.Data, 0o600); err != nil {
			os.Remove(tmpPath)
			return "", nil, fmt.Errorf("write temp media: %w", err)
		}
		contentType = bin.MIME
	}

	finalPath := tmpPath
	ext := path.Ext(sourcePath(source))
	if ext == "" || ext == ".bin" {
		if derived := extensionForContentType(contentType); derived != "" {
			renamed := tmpPath + derived
			if err := os.Rename(tmpPath, renamed); err == nil {
				finalPath = renamed
			}
		}
	} else if !strings.HasSuffix(finalPath, ext) {
		renamed := tmpPath + ext
		if err := os.Rename(tmpPath, renamed); err == nil {
			finalPath = renamed
		}
	}

	cleanupPath := finalPath
	cleanup := share.Once(func() {
		if err := os.Remove(cleanupPath); err != nil && !os.IsNotExist(err) {
			logutil.Warnf("failed to remove temp media %s: %v", cleanupPath, err)
		}
	})
	return finalPath, cleanup, nil
}

// TemporaryPublicURL stages a local file in the configured store and returns
// a validated public URL with a cleanup that deletes the staged object.
func (r *Resolver) TemporaryPublicURL(ctx context.Context, localPath string) (string, func(), error) {
	if r.Store == nil {
		return "", nil, share.ConfigError{Reason: "temporary media storage is not configured"}
	}

	name := uuid.NewString()
	if ext := filepath.Ext(localPath); ext != "" {
		name += strings.ToLower(ext)
	}

	key, err := r.Store.PutFileAs(ctx, r.Dir, localPath, name, r.Visibility)
	if err != nil {
		return "", nil, fmt.Errorf("stage temporary media: %w", err)
	}

	cleanup := share.Once(func() {
		if err := r.Store.Delete(context.Background(), key); err != nil {
			logutil.Warnf("failed to delete staged media %s: %v", key, err)
		}
	})

	rawURL, err := r.Store.URL(key)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("resolve staged media URL: %w", err)
	}
	if strings.HasPrefix(rawURL, "/") && r.BaseURL != "" {
		rawURL = strings.TrimRight(r.BaseURL, "/") + rawURL
	}
	if !IsRemote(rawURL) {
		cleanup()
		return "", nil, share.PayloadError{
			Reason: fmt.Sprintf("staged media URL %q is not publicly reachable", rawURL),
		}
	}

	logutil.Debugf("staged temporary media: key=%s url=%s", key, rawURL)
	return rawURL, cleanup, nil
}

// PublicURL resolves a source into a reachable URL: remote sources pass
// through, local paths are staged to temporary public storage.
func (r *Resolver) PublicURL(ctx context.Context, source string) (string, func(), error) {
	if IsRemote(source) {
		return source, func() {}, nil
	}
	if _, err := os.Stat(source); err != nil {
		return "", nil, share.PayloadError{Reason: fmt.Sprintf("media file %q is not readable", source)}
	}
	return r.TemporaryPublicURL(ctx, source)
}

func extensionForContentType(contentType string) string {
	contentType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	switch strings.ToLower(contentType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
