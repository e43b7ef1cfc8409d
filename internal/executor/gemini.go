package executor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/wire"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiExecutor speaks the public generateContent wire with x-goog-api-key
// auth. The model rides in the URL path; streaming switches the action and
// adds alt=sse.
type GeminiExecutor struct{}

func (e *GeminiExecutor) Identifier() string { return "gemini" }

func (e *GeminiExecutor) Format() wire.Format { return wire.FormatGemini }

func (e *GeminiExecutor) ForcesStreaming() bool { return false }

func (e *GeminiExecutor) Execute(ctx context.Context, creds connpool.Credentials, model string, body []byte, stream bool) (*Response, error) {
	action := "generateContent"
	query := ""
	if stream {
		action = "streamGenerateContent"
		query = "?alt=sse"
	}
	endpoint := fmt.Sprintf("%s/models/%s:%s%s", geminiEndpoint, url.PathEscape(model), action, query)

	headers := http.Header{}
	headers.Set("x-goog-api-key", creds.APIKey)
	if stream {
		headers.Set("Accept", "text/event-stream")
	} else {
		headers.Set("Accept", "application/json")
	}
	return doJSON(ctx, creds, e.Identifier(), endpoint, headers, body)
}

// Refresh is a no-op: api-key auth has nothing to refresh.
func (e *GeminiExecutor) Refresh(context.Context, connpool.Credentials) (*Tokens, error) {
	return nil, nil
}
