package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/sseutil"
	"github.com/modelgate/modelgate/internal/wire"
)

const googleTokenEndpoint = "https://oauth2.googleapis.com/token"

var (
	antigravityClientID     = os.Getenv("MODELGATE_ANTIGRAVITY_CLIENT_ID")
	antigravityClientSecret = os.Getenv("MODELGATE_ANTIGRAVITY_CLIENT_SECRET")
)

// AntigravityExecutor speaks the same envelope-wrapped cloudcode wire as
// gemini-cli but authenticates as the Antigravity IDE client; its refresh
// goes straight to the Google token endpoint as a Basic-auth form post.
type AntigravityExecutor struct{}

func (e *AntigravityExecutor) Identifier() string { return "antigravity" }

func (e *AntigravityExecutor) Format() wire.Format { return wire.FormatAntigravity }

func (e *AntigravityExecutor) ForcesStreaming() bool { return true }

func (e *AntigravityExecutor) Execute(ctx context.Context, creds connpool.Credentials, model string, body []byte, stream bool) (*Response, error) {
	payload := sseutil.WrapEnvelope(body)
	payload, _ = sjson.SetBytes(payload, "project", creds.ProjectID)
	payload, _ = sjson.SetBytes(payload, "model", model)
	payload, _ = sjson.SetBytes(payload, "userAgent", "antigravity")
	payload, _ = sjson.SetBytes(payload, "requestType", "agent")

	endpoint := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", codeAssistEndpoint, codeAssistVersion)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+creds.AccessToken)
	headers.Set("User-Agent", "antigravity/1.0 google-api-nodejs-client/9.15.1")
	headers.Set("Client-Metadata", "ideType=ANTIGRAVITY,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")
	headers.Set("Accept", "text/event-stream")
	return doJSON(ctx, creds, e.Identifier(), endpoint, headers, payload)
}

func (e *AntigravityExecutor) Refresh(ctx context.Context, creds connpool.Credentials) (*Tokens, error) {
	if creds.RefreshToken == "" || antigravityClientID == "" {
		return nil, nil
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(antigravityClientID, antigravityClientSecret)

	client, err := HTTPClient(creds.ProxyURL)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("antigravity token refresh returned %d: %s", resp.StatusCode, upstreamMessage(raw))
	}
	tokens, err := tokensFromOAuthBody(raw)
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = creds.RefreshToken
	}
	return tokens, nil
}
