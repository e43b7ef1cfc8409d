package executor

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/sseutil"
	"github.com/modelgate/modelgate/internal/wire"
)

const (
	codeAssistEndpoint = "https://cloudcode-pa.googleapis.com"
	codeAssistVersion  = "v1internal"
)

// The installed-app OAuth client the CLI tooling registered with Google.
// Deployments supply their own pair through the environment.
var (
	geminiCLIClientID     = os.Getenv("MODELGATE_GEMINI_OAUTH_CLIENT_ID")
	geminiCLIClientSecret = os.Getenv("MODELGATE_GEMINI_OAUTH_CLIENT_SECRET")
)

var geminiOAuthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// GeminiCLIExecutor speaks the cloudcode wire: the Gemini body rides inside
// a request envelope with project and model fields, auth is a Google OAuth
// token, and headers mimic the official Node client. The upstream only
// streams, so non-stream client requests collapse downstream.
type GeminiCLIExecutor struct{}

func (e *GeminiCLIExecutor) Identifier() string { return "gemini-cli" }

func (e *GeminiCLIExecutor) Format() wire.Format { return wire.FormatGeminiCLI }

func (e *GeminiCLIExecutor) ForcesStreaming() bool { return true }

func (e *GeminiCLIExecutor) Execute(ctx context.Context, creds connpool.Credentials, model string, body []byte, stream bool) (*Response, error) {
	payload := sseutil.WrapEnvelope(body)
	payload, _ = sjson.SetBytes(payload, "project", creds.ProjectID)
	payload, _ = sjson.SetBytes(payload, "model", model)

	endpoint := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", codeAssistEndpoint, codeAssistVersion)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+creds.AccessToken)
	applyCloudCodeHeaders(headers)
	headers.Set("Accept", "text/event-stream")
	return doJSON(ctx, creds, e.Identifier(), endpoint, headers, payload)
}

func (e *GeminiCLIExecutor) Refresh(ctx context.Context, creds connpool.Credentials) (*Tokens, error) {
	if creds.RefreshToken == "" || geminiCLIClientID == "" {
		return nil, nil
	}
	conf := &oauth2.Config{
		ClientID:     geminiCLIClientID,
		ClientSecret: geminiCLIClientSecret,
		Scopes:       geminiOAuthScopes,
		Endpoint:     google.Endpoint,
	}
	if client, err := HTTPClient(creds.ProxyURL); err == nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = creds.RefreshToken
	}
	return &Tokens{AccessToken: tok.AccessToken, RefreshToken: refresh, Expiry: tok.Expiry}, nil
}

func applyCloudCodeHeaders(h http.Header) {
	h.Set("User-Agent", "google-api-nodejs-client/9.15.1")
	h.Set("X-Goog-Api-Client", "gl-node/22.17.0")
	h.Set("Client-Metadata", "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")
}
