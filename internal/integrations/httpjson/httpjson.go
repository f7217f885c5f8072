// Package httpjson does GET requests against JSON APIs and decodes the body
// into an explicit schema.
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const snippetLen = 140

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	// Message is the "error" or "message" field of a JSON error body, if any.
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), msg)
}

// ParseError is returned when a response is not JSON or does not match the
// expected schema.
type ParseError struct {
	URL        string
	StatusCode int
	Snippet    string
	Err        error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse response (%d) from %s: %v", e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("non-JSON (%d) from %s: %s", e.StatusCode, e.URL, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Schema is implemented by response types that can check their own shape after decoding.
type Schema interface {
	Validate() error
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Get fetches rawURL and decodes a JSON body into out. out may implement Schema.
// redacted is the URL reported in errors (rawURL when empty); callers put API keys
// in the query string, so they pass a copy without them.
func Get(ctx context.Context, c *http.Client, rawURL, redacted string, out any) (int, error) {
	if redacted == "" {
		redacted = rawURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = redacted
		}
		return 0, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errors.Wrap(err, "read body")
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return resp.StatusCode, &ParseError{URL: redacted, StatusCode: resp.StatusCode, Snippet: snippet(body)}
	}

	if resp.StatusCode/100 != 2 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		msg := eb.Error
		if msg == "" {
			msg = eb.Message
		}
		return resp.StatusCode, &StatusError{URL: redacted, StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, &ParseError{URL: redacted, StatusCode: resp.StatusCode, Snippet: snippet(body), Err: err}
	}
	if s, ok := out.(Schema); ok {
		if err := s.Validate(); err != nil {
			return resp.StatusCode, &ParseError{URL: redacted, StatusCode: resp.StatusCode, Snippet: snippet(body), Err: err}
		}
	}
	return resp.StatusCode, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func snippet(b []byte) string {
	s := string(b)
	if len(s) > snippetLen {
		s = s[:snippetLen]
	}
	return s
}
