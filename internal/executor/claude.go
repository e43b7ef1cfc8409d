package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/json"
	"github.com/modelgate/modelgate/internal/wire"
)

const (
	claudeEndpoint     = "https://api.anthropic.com/v1/messages"
	claudeOAuthToken   = "https://console.anthropic.com/v1/oauth/token"
	claudeOAuthClient  = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	claudeAPIVersion   = "2023-06-01"
	claudeOAuthBeta    = "oauth-2025-04-20"
)

// ClaudeExecutor speaks the Anthropic Messages wire. API-key connections
// use x-api-key; OAuth connections use Bearer plus the oauth beta header,
// and refresh through the console token endpoint with a JSON body.
type ClaudeExecutor struct{}

func (e *ClaudeExecutor) Identifier() string { return "claude" }

func (e *ClaudeExecutor) Format() wire.Format { return wire.FormatClaude }

func (e *ClaudeExecutor) ForcesStreaming() bool { return false }

func (e *ClaudeExecutor) Execute(ctx context.Context, creds connpool.Credentials, model string, body []byte, stream bool) (*Response, error) {
	headers := http.Header{}
	headers.Set("anthropic-version", claudeAPIVersion)
	if creds.AuthKind == connpool.AuthOAuth {
		headers.Set("Authorization", "Bearer "+creds.AccessToken)
		headers.Set("anthropic-beta", claudeOAuthBeta)
	} else {
		headers.Set("x-api-key", creds.APIKey)
	}
	if stream {
		headers.Set("Accept", "text/event-stream")
	} else {
		headers.Set("Accept", "application/json")
	}
	return doJSON(ctx, creds, e.Identifier(), claudeEndpoint, headers, body)
}

func (e *ClaudeExecutor) Refresh(ctx context.Context, creds connpool.Credentials) (*Tokens, error) {
	if creds.AuthKind != connpool.AuthOAuth || creds.RefreshToken == "" {
		return nil, nil
	}
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": creds.RefreshToken,
		"client_id":     claudeOAuthClient,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeOAuthToken, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("claude token refresh returned %d: %s", resp.StatusCode, upstreamMessage(raw))
	}
	return tokensFromOAuthBody(raw)
}

// tokensFromOAuthBody decodes the common OAuth token-exchange response.
func tokensFromOAuthBody(raw []byte) (*Tokens, error) {
	doc := gjson.ParseBytes(raw)
	access := doc.Get("access_token").String()
	if access == "" {
		return nil, fmt.Errorf("token refresh response missing access_token")
	}
	tokens := &Tokens{
		AccessToken:  access,
		RefreshToken: doc.Get("refresh_token").String(),
	}
	if expiresIn := doc.Get("expires_in").Int(); expiresIn > 0 {
		tokens.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return tokens, nil
}
