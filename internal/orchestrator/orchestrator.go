// Package orchestrator runs the per-request state machine: classify and
// translate the inbound payload, pick a credential, execute upstream with
// refresh-and-retry on auth failures and credential fallback on everything
// else, then hand the response to the right translation path.
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/executor"
	log "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/translator"
	"github.com/modelgate/modelgate/internal/usage"
	"github.com/modelgate/modelgate/internal/wire"
)

// Request is one inbound completion request after the API layer extracted
// its format, model, and stream flag.
type Request struct {
	Source  wire.Format
	Payload []byte
	Model   string
	Stream  bool
}

// FrameWriter receives client-ready SSE frames. Implementations flush
// after every frame.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// Reply is a successful orchestration outcome. Exactly one of Body and
// Stream is set: Body for whole-JSON replies, Stream for SSE pumping.
type Reply struct {
	Body   []byte
	Stream func(w FrameWriter) error
}

type Options struct {
	Pool      *connpool.Pool
	Refresher *executor.RefreshManager
	Tracker   *usage.Tracker
	Routes    map[string]Route
}

type Orchestrator struct {
	pool      *connpool.Pool
	refresher *executor.RefreshManager
	tracker   *usage.Tracker
	routes    map[string]Route

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func New(opts Options) *Orchestrator {
	refresher := opts.Refresher
	if refresher == nil {
		refresher = executor.NewRefreshManager()
	}
	routes := opts.Routes
	if routes == nil {
		routes = map[string]Route{}
	}
	return &Orchestrator{
		pool:      opts.Pool,
		refresher: refresher,
		tracker:   opts.Tracker,
		routes:    routes,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// SetRoutes swaps the per-model routing table at runtime.
func (o *Orchestrator) SetRoutes(routes map[string]Route) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if routes == nil {
		routes = map[string]Route{}
	}
	o.routes = routes
}

// Complete runs the full state machine for one request. Errors are always
// *HTTPError, ready for the API layer to render.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (*Reply, error) {
	route, err := o.resolveRoute(req.Model)
	if err != nil {
		return nil, err
	}
	exec, ok := executor.Lookup(route.Backend)
	if !ok {
		return nil, notFound("backend %q is not registered", route.Backend)
	}
	target := route.Format
	if target == "" {
		target = exec.Format()
	}
	effStream := req.Stream || exec.ForcesStreaming()

	// Parsed IR is kept around for tool-name remapping and, when the
	// upstream omits usage, token estimation.
	parsed, err := translator.ParseRequest(req.Source, req.Payload)
	if err != nil {
		return nil, badRequest("unparseable %s request: %v", req.Source, err)
	}
	body, err := translator.TranslateRequest(req.Source, target, route.Model, req.Payload, effStream)
	if err != nil {
		return nil, badRequest("cannot translate %s request to %s: %v", req.Source, target, err)
	}

	breaker := o.breaker(route.Backend)
	if breaker.State() == gobreaker.StateOpen {
		return nil, &HTTPError{Status: http.StatusServiceUnavailable, Message: "backend circuit breaker is open"}
	}

	exclude := make(map[string]struct{})
	var lastRejection *executor.UpstreamError
	for {
		creds, selErr := o.pool.Select(route.Backend, route.Model, exclude)
		if selErr != nil {
			return nil, o.exhausted(route, lastRejection, selErr)
		}
		exclude[creds.ID] = struct{}{}

		resp, execErr := o.attempt(ctx, breaker, exec, creds, route.Model, body, effStream)
		if execErr == nil {
			o.pool.MarkSuccess(creds.ID, route.Model)
			return o.respond(ctx, req, route, creds, parsed, target, effStream, resp)
		}

		var ue *executor.UpstreamError
		if !errors.As(execErr, &ue) {
			return nil, transportError(ctx, execErr)
		}
		decision := connpool.CheckFallbackError(ue.Status, ue.Message)
		if ra := ue.RetryAfter(); ra != nil {
			decision.RetryAfter = ra
		}
		o.pool.MarkUnavailable(creds.ID, route.Model, decision)
		log.Warnf("orchestrator: %s credential %s rejected (%d, %s), falling back", route.Backend, creds.ID, ue.Status, decision.Reason)
		lastRejection = ue
		if !decision.Fallback {
			return nil, passthroughError(ue, 0)
		}
	}
}

// attempt performs one upstream exchange. A 401/403 triggers one token
// refresh and one retry against the same credential; a failed refresh
// surfaces the original rejection untouched.
func (o *Orchestrator) attempt(ctx context.Context, breaker *gobreaker.CircuitBreaker, exec executor.Executor, creds connpool.Credentials, model string, body []byte, stream bool) (*executor.Response, error) {
	resp, err := o.execute(ctx, breaker, exec, creds, model, body, stream)
	if err == nil {
		return resp, nil
	}
	var ue *executor.UpstreamError
	if !errors.As(err, &ue) {
		return nil, err
	}
	if ue.Status != http.StatusUnauthorized && ue.Status != http.StatusForbidden {
		return nil, err
	}
	tokens, refreshErr := o.refresher.Refresh(ctx, exec, creds)
	if refreshErr != nil || tokens == nil {
		if refreshErr != nil {
			log.Warnf("orchestrator: token refresh for %s failed: %v", creds.ID, refreshErr)
		}
		return nil, err
	}
	o.pool.UpdateTokens(creds.ID, tokens.AccessToken, tokens.RefreshToken, tokens.Expiry)
	creds.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		creds.RefreshToken = tokens.RefreshToken
	}
	log.Infof("orchestrator: refreshed tokens for %s, retrying", creds.ID)
	return o.execute(ctx, breaker, exec, creds, model, body, stream)
}

func (o *Orchestrator) execute(ctx context.Context, breaker *gobreaker.CircuitBreaker, exec executor.Executor, creds connpool.Credentials, model string, body []byte, stream bool) (*executor.Response, error) {
	result, err := breaker.Execute(func() (any, error) {
		return exec.Execute(ctx, creds, model, body, stream)
	})
	if err != nil {
		return nil, err
	}
	return result.(*executor.Response), nil
}

// exhausted converts a dry pool into the final client error: the last
// classified rejection when one exists, annotated with the earliest lock
// expiry; otherwise a capacity or configuration answer.
func (o *Orchestrator) exhausted(route Route, lastRejection *executor.UpstreamError, selErr error) error {
	var retryAfter time.Duration
	var noCreds *connpool.ErrNoCredentials
	if errors.As(selErr, &noCreds) {
		retryAfter = noCreds.RetryAfter
	}
	if ra, ok := o.pool.RetryAfter(route.Backend, route.Model); ok && (retryAfter == 0 || ra < retryAfter) {
		retryAfter = ra
	}
	if lastRejection != nil {
		return passthroughError(lastRejection, retryAfter)
	}
	if retryAfter > 0 {
		return &HTTPError{
			Status:     http.StatusTooManyRequests,
			Message:    "all credentials are cooling down",
			RetryAfter: retryAfter,
		}
	}
	return &HTTPError{Status: http.StatusServiceUnavailable, Message: selErr.Error()}
}

// breaker returns the per-backend circuit breaker, creating it on first
// use. Only server-side failures count against the circuit; credential and
// user errors must not take a whole backend offline.
func (o *Orchestrator) breaker(backend string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[backend]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        backend,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var ue *executor.UpstreamError
			if errors.As(err, &ue) {
				return ue.Status < 500
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("orchestrator: %s circuit breaker %s -> %s", name, from, to)
		},
	})
	o.breakers[backend] = cb
	return cb
}
