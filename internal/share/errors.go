package share

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// PayloadError is returned when caller-supplied content is structurally
// invalid or insufficient for the target provider. Never retried.
type PayloadError struct {
	Provider Provider
	Reason   string
}

func (e PayloadError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("invalid share payload: %s", e.Reason)
	}
	return fmt.Sprintf("%s: invalid share payload: %s", e.Provider, e.Reason)
}

// ConfigError is returned for missing or malformed credentials, profiles, or
// provider configuration. Fatal, not retried.
type ConfigError struct {
	Provider Provider
	Missing  []string
	Reason   string
}

func (e ConfigError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%s: credentials not configured (missing %s)", e.Provider, strings.Join(e.Missing, ", "))
	case e.Provider == "":
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	default:
		return fmt.Sprintf("%s: invalid configuration: %s", e.Provider, e.Reason)
	}
}

// UnsupportedError signals a capability invoked for the wrong provider or a
// payload shape the provider's API cannot express.
type UnsupportedError struct {
	Provider Provider
	Feature  string
	Reason   string
}

func (e UnsupportedError) Error() string {
	msg := fmt.Sprintf("%s does not support %s", e.Provider, e.Feature)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// APIError carries a remote API failure: HTTP status, a best-effort extracted
// human message, and the raw response body for diagnostics.
type APIError struct {
	Provider Provider
	Status   int
	Message  string
	Body     []byte
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

// NewAPIError builds an APIError, extracting a human message from the body.
func NewAPIError(provider Provider, status int, body []byte) *APIError {
	return &APIError{
		Provider: provider,
		Status:   status,
		Message:  ExtractAPIMessage(body),
		Body:     body,
	}
}

// ExtractAPIMessage pulls the most useful human-readable message out of an
// arbitrary provider error body. Checked in order: title+detail combined,
// error.message, error.detail, message, detail, title, then the first usable
// entry of an errors array.
func ExtractAPIMessage(body []byte) string {
	if len(body) == 0 {
		return "empty response body"
	}
	doc := string(body)
	if !gjson.Valid(doc) {
		return truncate(strings.TrimSpace(doc), 200)
	}

	title := gjson.Get(doc, "title").String()
	detail := gjson.Get(doc, "detail").String()
	if title != "" && detail != "" {
		return title + ": " + detail
	}

	for _, path := range []string{"error.message", "error.detail", "message", "detail", "title"} {
		if v := gjson.Get(doc, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}

	var found string
	gjson.Get(doc, "errors").ForEach(func(_, entry gjson.Result) bool {
		for _, path := range []string{"message", "detail", "title"} {
			if v := entry.Get(path); v.String() != "" {
				found = v.String()
				return false
			}
		}
		if entry.Type == gjson.String && entry.String() != "" {
			found = entry.String()
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	return truncate(strings.TrimSpace(doc), 200)
}

// WrapErr keeps already-typed share errors intact and folds anything else
// into an APIError for the given provider, so callers only ever see the
// four-error taxonomy.
func WrapErr(provider Provider, err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case PayloadError:
		if e.Provider == "" {
			e.Provider = provider
		}
		return e
	case ConfigError:
		if e.Provider == "" {
			e.Provider = provider
		}
		return e
	case UnsupportedError:
		return e
	case *APIError:
		return e
	}
	return &APIError{Provider: provider, Message: err.Error()}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
