// Package httpx is the HTTP capability shared by every provider driver:
// JSON and form requests, multipart posts, raw binary puts, and streamed
// downloads, all with bounded retry and a fixed inter-attempt sleep.
// Responses never throw on 4xx/5xx; callers inspect the status.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/blacktop/sharecast/internal/logutil"
	"github.com/tidwall/gjson"
)

// Config carries the transport settings every driver shares.
type Config struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Retries        int
	RetrySleep     time.Duration

	// HTTPClient overrides the built client, e.g. an OAuth1-signing client.
	HTTPClient *http.Client
}

// Response is a completed HTTP exchange. Body is fully read and the
// underlying connection released before it is returned.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Get reads a JSON path from the body without a full decode.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Client performs requests with the configured timeout and retry budget.
type Client struct {
	http       *http.Client
	retries    int
	retrySleep time.Duration

	// sleep is overridable so tests run without real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client from config. A zero config yields sane defaults
// (30s timeout, no retries).
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		transport := http.DefaultTransport
		if cfg.ConnectTimeout > 0 {
			t := http.DefaultTransport.(*http.Transport).Clone()
			t.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
			transport = t
		}
		hc = &http.Client{Timeout: timeout, Transport: transport}
	}
	sleepDur := cfg.RetrySleep
	if sleepDur == 0 {
		sleepDur = time.Second
	}
	return &Client{
		http:       hc,
		retries:    cfg.Retries,
		retrySleep: sleepDur,
		sleep:      sleepCtx,
	}
}

// HTTPClient exposes the underlying client so wrappers can reuse its
// transport and timeout.
func (c *Client) HTTPClient() *http.Client { return c.http }

// WithHTTPClient returns a copy of the client using hc for transport,
// keeping the retry budget. A replacement with no timeout of its own
// inherits the current one. Used by the X driver for OAuth1 signing.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	clone := *c
	if hc.Timeout == 0 && c.http != nil {
		inherited := *hc
		inherited.Timeout = c.http.Timeout
		hc = &inherited
	}
	clone.http = hc
	return &clone
}

// SetSleepFunc overrides the inter-attempt sleep. Intended for tests.
func (c *Client) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// Sleep waits d or until the context is done. Drivers use this for
// server-hinted processing waits so tests can stub the delay.
func (c *Client) Sleep(ctx context.Context, d time.Duration) error {
	return c.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable reports whether a status code warrants another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// do runs the request loop. build must return a fresh request each attempt
// so bodies are re-readable on retry.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retrySleep); err != nil {
				return nil, fmt.Errorf("request canceled: %w", err)
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request canceled: %w", ctx.Err())
			}
			lastErr = err
			logutil.Debugf("request failed, will retry: attempt=%d err=%v", attempt+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response body: %w", readErr)
			continue
		}

		out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}
		if retryable(resp.StatusCode) && attempt < c.retries {
			logutil.Debugf("retrying after HTTP %d: attempt=%d", resp.StatusCode, attempt+1)
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}
		return out, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retries+1, lastErr)
}

// DoJSON sends a request with an optional JSON body and returns the
// response regardless of status.
func (c *Client) DoJSON(ctx context.Context, method, rawURL string, headers map[string]string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}
	return c.do(ctx, func() (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		applyHeaders(req, headers)
		return req, nil
	})
}

// PostForm sends application/x-www-form-urlencoded fields.
func (c *Client) PostForm(ctx context.Context, rawURL string, headers map[string]string, values url.Values) (*Response, error) {
	encoded := values.Encode()
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		applyHeaders(req, headers)
		return req, nil
	})
}

// FilePart is the optional binary attachment for PostMultipart.
type FilePart struct {
	FieldName string
	FileName  string
	Content   []byte
}

// PostMultipart sends named fields plus an optional binary attachment as
// multipart/form-data.
func (c *Client) PostMultipart(ctx context.Context, rawURL string, headers map[string]string, fields map[string]string, file *FilePart) (*Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write multipart field %s: %w", name, err)
		}
	}
	if file != nil {
		part, err := writer.CreateFormFile(file.FieldName, file.FileName)
		if err != nil {
			return nil, fmt.Errorf("create multipart file part: %w", err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, fmt.Errorf("write multipart file part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}
	contentType := writer.FormDataContentType()
	body := buf.Bytes()

	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		applyHeaders(req, headers)
		return req, nil
	})
}

// PutBinary uploads raw bytes with an explicit content type. The body is
// buffered up front so retries can replay it.
func (c *Client) PutBinary(ctx context.Context, rawURL string, headers map[string]string, contentType string, body io.Reader, size int64) (*Response, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if size > 0 {
			req.ContentLength = size
		} else {
			req.ContentLength = int64(len(data))
		}
		applyHeaders(req, headers)
		return req, nil
	})
}

// DownloadToFile streams a GET response into dest and returns bytes written
// and the response Content-Type. The request is not retried: the caller
// decides whether a partial file is worth a second attempt.
func (c *Client) DownloadToFile(ctx context.Context, rawURL, dest string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, "", fmt.Errorf("download %s: HTTP %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, "", fmt.Errorf("create %s: %w", dest, err)
	}
	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(dest)
		return 0, "", fmt.Errorf("stream download to %s: %w", dest, copyErr)
	}
	if closeErr != nil {
		os.Remove(dest)
		return 0, "", fmt.Errorf("close %s: %w", dest, closeErr)
	}

	return written, resp.Header.Get("Content-Type"), nil
}

// GetBytes fetches a URL and returns its body, filename-relevant
// Content-Type included. Used for buffered media downloads.
func (c *Client) GetBytes(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return c.DoJSON(ctx, http.MethodGet, rawURL, headers, nil)
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
