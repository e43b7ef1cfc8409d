package executor

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/connpool"
)

func TestOpenAIExecutor_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	e := &OpenAIExecutor{BaseURL: srv.URL}
	resp, err := e.Execute(context.Background(), connpool.Credentials{APIKey: "sk-test"}, "gpt-4o", []byte(`{}`), false)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.IsStream() {
		t.Error("JSON response misdetected as stream")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"choices":[]}` {
		t.Errorf("body = %s", body)
	}
}

func TestOpenAIExecutor_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	e := &OpenAIExecutor{BaseURL: srv.URL}
	_, err := e.Execute(context.Background(), connpool.Credentials{APIKey: "k"}, "gpt-4o", []byte(`{}`), false)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %T, want *UpstreamError", err)
	}
	if ue.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d", ue.Status)
	}
	if ue.Message != "rate limit exceeded" {
		t.Errorf("Message = %q, want the decoded error.message", ue.Message)
	}
	if ra := ue.RetryAfter(); ra == nil || *ra != 17*time.Second {
		t.Errorf("RetryAfter = %v, want 17s from the header", ra)
	}
}

func TestDoJSON_GzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`{"ok":true}`))
		gz.Close()
	}))
	defer srv.Close()

	resp, err := doJSON(context.Background(), connpool.Credentials{}, "test", srv.URL, http.Header{}, []byte(`{}`))
	if err != nil {
		t.Fatalf("doJSON failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s, gzip must be transparently decoded", body)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30", nil); got != 30*time.Second {
		t.Errorf("seconds header = %v", got)
	}
	if got := parseRetryAfter("", nil); got != 0 {
		t.Errorf("empty = %v", got)
	}

	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"32s"}]}}`)
	if got := parseRetryAfter("", body); got != 32*time.Second {
		t.Errorf("RetryInfo detail = %v", got)
	}

	// Header wins over body details.
	if got := parseRetryAfter("5", body); got != 5*time.Second {
		t.Errorf("header precedence = %v", got)
	}
}

func TestUpstreamMessage(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"error":{"message":"boom"}}`, "boom"},
		{`{"error":"bare string"}`, "bare string"},
		{`{"message":"top level"}`, "top level"},
		{`{"detail":"django style"}`, "django style"},
		{`plain text error`, "plain text error"},
	}
	for _, tc := range cases {
		if got := upstreamMessage([]byte(tc.raw)); got != tc.want {
			t.Errorf("upstreamMessage(%s) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestHTTPClient_BadProxy(t *testing.T) {
	if _, err := HTTPClient("://not-a-url"); err == nil {
		t.Error("invalid proxy url must error")
	}
	client, err := HTTPClient("")
	if err != nil {
		t.Fatalf("HTTPClient failed: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client")
	}
}
