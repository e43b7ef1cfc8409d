package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/executor"
	"github.com/modelgate/modelgate/internal/orchestrator"
	"github.com/modelgate/modelgate/internal/usage"
	"github.com/modelgate/modelgate/internal/wire"
)

type fakeExecutor struct {
	upstream func(body []byte, stream bool) (*executor.Response, error)
}

func (f *fakeExecutor) Identifier() string    { return "fake" }
func (f *fakeExecutor) Format() wire.Format   { return wire.FormatOpenAI }
func (f *fakeExecutor) ForcesStreaming() bool { return false }

func (f *fakeExecutor) Execute(_ context.Context, _ connpool.Credentials, _ string, body []byte, stream bool) (*executor.Response, error) {
	return f.upstream(body, stream)
}

func (f *fakeExecutor) Refresh(context.Context, connpool.Credentials) (*executor.Tokens, error) {
	return nil, nil
}

func newTestServer(t *testing.T, upstream func(body []byte, stream bool) (*executor.Response, error)) *Server {
	t.Helper()
	executor.Register(&fakeExecutor{upstream: upstream})
	pool := connpool.New(connpool.Options{})
	pool.Upsert(connpool.Connection{ID: "c1", Backend: "fake", APIKey: "k"})
	orch := orchestrator.New(orchestrator.Options{
		Pool:   pool,
		Routes: map[string]orchestrator.Route{"fake-model": {Backend: "fake"}},
	})
	return NewServer(Options{
		Orchestrator: orch,
		Pool:         pool,
		Tracker:      usage.NewTracker(nil),
	})
}

func jsonUpstream(body string) func([]byte, bool) (*executor.Response, error) {
	return func([]byte, bool) (*executor.Response, error) {
		return &executor.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, jsonUpstream(`{}`))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestChatCompletions(t *testing.T) {
	s := newTestServer(t, jsonUpstream(`{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"fake-model","messages":[{"role":"user","content":"hello"}]}`))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "choices.0.message.content").String(); got != "hi" {
		t.Errorf("content = %q", got)
	}
}

func TestGeminiPathRouting(t *testing.T) {
	var sawStream bool
	s := newTestServer(t, func(body []byte, stream bool) (*executor.Response, error) {
		sawStream = stream
		return jsonUpstream(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)(body, stream)
	})

	// The model rides in the path, the method after the colon.
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/fake-model:generateContent",
		strings.NewReader(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if sawStream {
		t.Error("generateContent must not stream upstream")
	}
	if got := gjson.Get(rec.Body.String(), "candidates.0.content.parts.0.text").String(); got != "ok" {
		t.Errorf("gemini body = %s", rec.Body.String())
	}
}

func TestErrorDialects(t *testing.T) {
	s := newTestServer(t, func([]byte, bool) (*executor.Response, error) {
		return nil, &executor.UpstreamError{Status: 429, Message: "rate limit", Backend: "fake"}
	})

	// Claude clients get the anthropic error envelope.
	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"fake-model","anthropic_version":"2023-06-01","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	doc := gjson.Parse(rec.Body.String())
	if doc.Get("type").String() != "error" || doc.Get("error.type").String() != "rate_limit_error" {
		t.Errorf("claude error body = %s", rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("capacity exhaustion must set Retry-After")
	}

	// OpenAI clients get the openai envelope.
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"fake-model","messages":[{"role":"user","content":"hi"}]}`))
	rec = httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	if got := gjson.Get(rec.Body.String(), "error.type").String(); got != "rate_limit_error" {
		t.Errorf("openai error body = %s", rec.Body.String())
	}
}

func TestUnknownModel404(t *testing.T) {
	s := newTestServer(t, jsonUpstream(`{}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"mystery","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSplitAction(t *testing.T) {
	model, method, ok := splitAction("gemini-2.5-flash:streamGenerateContent")
	if !ok || model != "gemini-2.5-flash" || method != "streamGenerateContent" {
		t.Errorf("splitAction = %q %q %v", model, method, ok)
	}
	// Model names may themselves contain colons; the method is the last
	// segment.
	model, method, ok = splitAction("publishers/google/models/gemini:generateContent")
	if !ok || method != "generateContent" {
		t.Errorf("splitAction = %q %q %v", model, method, ok)
	}
	if _, _, ok := splitAction("no-method"); ok {
		t.Error("missing method must not parse")
	}
}
