package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/modelgate/modelgate/internal/executor"
)

// HTTPError is the normalized client-facing failure. The API layer renders
// it as a JSON error body with the given status.
type HTTPError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string { return e.Message }

func badRequest(format string, args ...any) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// transportError maps a delivery failure to a gateway status. The request
// never reached a specific credential meaningfully, so no fallback happens.
func transportError(ctx context.Context, err error) *HTTPError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &HTTPError{Status: http.StatusServiceUnavailable, Message: "backend circuit breaker is open"}
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &HTTPError{Status: 499, Message: "client closed request"}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &HTTPError{Status: http.StatusGatewayTimeout, Message: fmt.Sprintf("upstream timed out: %v", err)}
	}
	return &HTTPError{Status: http.StatusBadGateway, Message: fmt.Sprintf("upstream transport failure: %v", err)}
}

// passthroughError surfaces an upstream rejection to the client unchanged
// in status, with the decoded upstream message.
func passthroughError(ue *executor.UpstreamError, retryAfter time.Duration) *HTTPError {
	status := ue.Status
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return &HTTPError{Status: status, Message: ue.Message, RetryAfter: retryAfter}
}
