package executor

import (
	"context"
	"net/http"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/wire"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIExecutor speaks the Chat Completions wire with plain Bearer auth.
type OpenAIExecutor struct {
	// BaseURL overrides the default endpoint, for OpenAI-compatible
	// gateways.
	BaseURL string
}

func (e *OpenAIExecutor) Identifier() string { return "openai" }

func (e *OpenAIExecutor) Format() wire.Format { return wire.FormatOpenAI }

func (e *OpenAIExecutor) ForcesStreaming() bool { return false }

func (e *OpenAIExecutor) Execute(ctx context.Context, creds connpool.Credentials, model string, body []byte, stream bool) (*Response, error) {
	url := e.BaseURL
	if url == "" {
		url = openAIEndpoint
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+creds.APIKey)
	if stream {
		headers.Set("Accept", "text/event-stream")
	} else {
		headers.Set("Accept", "application/json")
	}
	return doJSON(ctx, creds, e.Identifier(), url, headers, body)
}

// Refresh is a no-op: api-key auth has nothing to refresh.
func (e *OpenAIExecutor) Refresh(context.Context, connpool.Credentials) (*Tokens, error) {
	return nil, nil
}
