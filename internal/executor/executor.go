// Package executor holds the per-backend upstream adapters. Each backend
// knows its own URL templates, header quirks, and token refresh procedure;
// everything else about the HTTP exchange is shared.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/wire"
)

// Tokens is the result of a credential refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Response is one upstream HTTP exchange result. Body is streamed; the
// caller owns closing it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	URL        string
}

// IsStream reports whether the upstream answered with an event stream.
func (r *Response) IsStream() bool {
	return strings.Contains(r.Header.Get("Content-Type"), "text/event-stream")
}

// Executor adapts one backend's wire quirks.
type Executor interface {
	// Identifier is the backend id connections reference.
	Identifier() string
	// Format is the wire format this backend speaks.
	Format() wire.Format
	// ForcesStreaming reports whether the backend only supports streaming
	// upstream regardless of the client's stream flag.
	ForcesStreaming() bool
	// Execute performs one upstream call with the given credentials.
	Execute(ctx context.Context, creds connpool.Credentials, model string, body []byte, stream bool) (*Response, error)
	// Refresh exchanges the connection's refresh token for new tokens.
	// (nil, nil) means the backend has no refresh procedure and a 401
	// should not be retried with a refreshed token.
	Refresh(ctx context.Context, creds connpool.Credentials) (*Tokens, error)
}

// UpstreamError is a non-OK upstream response, fully read and decoded.
type UpstreamError struct {
	Status     int
	Message    string
	Body       []byte
	Backend    string
	RetryDelay *time.Duration
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream returned %d: %s", e.Backend, e.Status, e.Message)
}

// StatusCode implements the status extraction contract used by error
// classification.
func (e *UpstreamError) StatusCode() int { return e.Status }

// RetryAfter returns the upstream-provided wait, when present.
func (e *UpstreamError) RetryAfter() *time.Duration {
	if e.RetryDelay == nil {
		return nil
	}
	val := *e.RetryDelay
	return &val
}

// registry of executors by backend id.
var executors = map[string]Executor{}

// Register installs an executor under its identifier.
func Register(e Executor) {
	executors[e.Identifier()] = e
}

// Lookup returns the executor for a backend id.
func Lookup(backend string) (Executor, bool) {
	e, ok := executors[backend]
	return e, ok
}

// Backends lists registered backend ids.
func Backends() []string {
	out := make([]string, 0, len(executors))
	for id := range executors {
		out = append(out, id)
	}
	return out
}

// doJSON performs one upstream POST and normalizes the outcome: 2xx
// returns the streamed response, anything else drains the body into an
// UpstreamError.
func doJSON(ctx context.Context, creds connpool.Credentials, backend, url string, headers http.Header, body []byte) (*Response, error) {
	client, err := HTTPClient(creds.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("%s: proxy transport: %w", backend, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	reader, err := decodedBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(reader, 1<<20))
		reader.Close()
		return nil, newUpstreamError(backend, resp, raw)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       reader,
		URL:        url,
	}, nil
}

// decodedBody unwraps Content-Encoding when the request advertised
// encodings net/http will not transparently decode.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &compositeCloser{Reader: gz, closers: []io.Closer{gz, resp.Body}}, nil
	case "br":
		return &compositeCloser{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}

type compositeCloser struct {
	io.Reader
	closers []io.Closer
}

func (c *compositeCloser) Close() error {
	var first error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newUpstreamError(backend string, resp *http.Response, raw []byte) *UpstreamError {
	e := &UpstreamError{
		Status:  resp.StatusCode,
		Message: upstreamMessage(raw),
		Body:    raw,
		Backend: backend,
	}
	if d := parseRetryAfter(resp.Header.Get("Retry-After"), raw); d > 0 {
		e.RetryDelay = &d
	}
	return e
}

// upstreamMessage digs the human-readable message out of whichever error
// envelope the vendor uses.
func upstreamMessage(raw []byte) string {
	doc := gjson.ParseBytes(raw)
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := doc.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

// parseRetryAfter reads the wait from the Retry-After header (seconds or
// HTTP date) or from Gemini's RetryInfo detail ("32s" style).
func parseRetryAfter(header string, body []byte) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(header); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	details := gjson.GetBytes(body, "error.details")
	if details.IsArray() {
		for _, detail := range details.Array() {
			if !strings.Contains(detail.Get("@type").String(), "RetryInfo") {
				continue
			}
			if d, err := time.ParseDuration(detail.Get("retryDelay").String()); err == nil && d > 0 {
				return d
			}
		}
	}
	return 0
}
