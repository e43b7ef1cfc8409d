package orchestrator

import (
	"strings"

	"github.com/modelgate/modelgate/internal/executor"
	"github.com/modelgate/modelgate/internal/wire"
)

// Route binds a client-visible model name to a backend, an optional
// upstream model rename, and an optional target-format override.
type Route struct {
	Backend string
	Model   string
	Format  wire.Format
}

// resolveRoute maps a requested model to its backend. Explicit per-model
// overrides win; "backend/model" addressing comes next; last are the
// vendor's well-known model-name prefixes. Unresolvable models are a 404.
func (o *Orchestrator) resolveRoute(model string) (Route, error) {
	if model == "" {
		return Route{}, badRequest("request carries no model")
	}
	o.mu.Lock()
	route, ok := o.routes[model]
	o.mu.Unlock()
	if ok {
		if route.Model == "" {
			route.Model = model
		}
		return route, nil
	}
	if backendID, rest, ok := strings.Cut(model, "/"); ok {
		if _, registered := executor.Lookup(backendID); registered {
			return Route{Backend: backendID, Model: rest}, nil
		}
	}
	if backendID := backendForModel(model); backendID != "" {
		return Route{Backend: backendID, Model: model}, nil
	}
	return Route{}, notFound("model %q does not map to any backend", model)
}

func backendForModel(model string) string {
	name := strings.ToLower(model)
	switch {
	case strings.HasPrefix(name, "claude"):
		return "claude"
	case strings.HasPrefix(name, "gemini"):
		return "gemini"
	case strings.HasPrefix(name, "gpt"),
		strings.HasPrefix(name, "chatgpt"),
		strings.HasPrefix(name, "o1"),
		strings.HasPrefix(name, "o3"),
		strings.HasPrefix(name, "o4"),
		strings.HasPrefix(name, "text-"):
		return "openai"
	}
	return ""
}
