// Package translator converts chat payloads between provider wire formats.
// Every conversion passes through the unified IR: source payloads parse once
// via to_ir, target payloads render via from_ir. Same-format pairs bypass
// the IR entirely and get light field surgery instead.
package translator

import (
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/sseutil"
	"github.com/modelgate/modelgate/internal/translator/from_ir"
	"github.com/modelgate/modelgate/internal/translator/ir"
	"github.com/modelgate/modelgate/internal/translator/to_ir"
	"github.com/modelgate/modelgate/internal/wire"
)

type requestParser func(payload []byte) (*ir.Request, error)

type requestRenderer func(req *ir.Request) ([]byte, error)

type responseParser func(payload []byte) (*ir.Response, error)

type responseRenderer func(resp *ir.Response, model string) ([]byte, error)

var requestParsers = map[wire.Format]requestParser{
	wire.FormatOpenAI:          to_ir.ParseOpenAIRequest,
	wire.FormatOpenAIResponses: to_ir.ParseResponsesRequest,
	wire.FormatClaude:          to_ir.ParseClaudeRequest,
	wire.FormatGemini:          to_ir.ParseGeminiRequest,
	wire.FormatGeminiCLI:       to_ir.ParseGeminiRequest,
	wire.FormatAntigravity:     to_ir.ParseGeminiRequest,
}

var requestRenderers = map[wire.Format]requestRenderer{
	wire.FormatOpenAI:          from_ir.ToOpenAIRequest,
	wire.FormatOpenAIResponses: from_ir.ToResponsesRequest,
	wire.FormatClaude:          from_ir.ToClaudeRequest,
	wire.FormatGemini:          from_ir.ToGeminiRequest,
	wire.FormatGeminiCLI:       from_ir.ToGeminiRequest,
	wire.FormatAntigravity:     from_ir.ToGeminiRequest,
}

var responseParsers = map[wire.Format]responseParser{
	wire.FormatOpenAI:          to_ir.ParseOpenAIResponse,
	wire.FormatOpenAIResponses: to_ir.ParseOpenAIResponse,
	wire.FormatClaude:          to_ir.ParseClaudeResponse,
	wire.FormatGemini:          to_ir.ParseGeminiResponse,
	wire.FormatGeminiCLI:       to_ir.ParseGeminiResponse,
	wire.FormatAntigravity:     to_ir.ParseGeminiResponse,
}

var responseRenderers = map[wire.Format]responseRenderer{
	wire.FormatOpenAI:          from_ir.ToOpenAIResponse,
	wire.FormatOpenAIResponses: from_ir.ToResponsesResponse,
	wire.FormatClaude:          from_ir.ToClaudeResponse,
	wire.FormatGemini:          from_ir.ToGeminiResponse,
	wire.FormatGeminiCLI:       from_ir.ToGeminiResponse,
	wire.FormatAntigravity:     from_ir.ToGeminiResponse,
}

// ParseRequest parses a source-format payload into the IR. Cloudcode
// request envelopes are unwrapped first.
func ParseRequest(source wire.Format, payload []byte) (*ir.Request, error) {
	payload = unwrapForSource(source, payload)
	parse, ok := requestParsers[source]
	if !ok {
		return nil, fmt.Errorf("no request parser for format %q", source)
	}
	return parse(payload)
}

// TranslateRequest converts an inbound payload into the target format with
// the resolved model applied. Same-family pairs skip the IR round trip and
// get the model rewritten in place.
//
// Thinking configuration only survives translation when the conversation
// ends on a user turn; a trailing assistant or tool turn means the thinking
// budget can no longer affect the next response and some backends reject it.
func TranslateRequest(source, target wire.Format, model string, payload []byte, stream bool) ([]byte, error) {
	payload = unwrapForSource(source, payload)
	if sameWire(source, target) {
		return rewriteSameFormat(source, model, payload, stream)
	}
	req, err := ParseRequest(source, payload)
	if err != nil {
		return nil, err
	}
	req.Model = model
	req.Stream = stream
	if req.Thinking != nil && !req.LastMessageFromUser() {
		req.Thinking = nil
	}
	render, ok := requestRenderers[target]
	if !ok {
		return nil, fmt.Errorf("no request renderer for format %q", target)
	}
	return render(req)
}

// ParseResponse parses a whole-body upstream response into the IR.
// Envelope-wrapped bodies are unwrapped before parsing.
func ParseResponse(source wire.Format, payload []byte) (*ir.Response, error) {
	if source.IsGeminiFamily() {
		payload = sseutil.UnwrapEnvelope(payload)
	}
	parse, ok := responseParsers[source]
	if !ok {
		return nil, fmt.Errorf("no response parser for format %q", source)
	}
	return parse(payload)
}

// TranslateResponse converts a whole-body upstream response into the client
// format. Envelope-wrapped bodies are unwrapped before parsing.
func TranslateResponse(source, target wire.Format, model string, payload []byte) ([]byte, error) {
	if source.IsGeminiFamily() {
		payload = sseutil.UnwrapEnvelope(payload)
	}
	if sameWire(source, target) {
		return wrapForTarget(target, payload), nil
	}
	parse, ok := responseParsers[source]
	if !ok {
		return nil, fmt.Errorf("no response parser for format %q", source)
	}
	resp, err := parse(payload)
	if err != nil {
		return nil, err
	}
	render, ok := responseRenderers[target]
	if !ok {
		return nil, fmt.Errorf("no response renderer for format %q", target)
	}
	out, err := render(resp, model)
	if err != nil {
		return nil, err
	}
	return wrapForTarget(target, out), nil
}

// unwrapForSource strips the cloudcode request envelope so every request
// body downstream of this package is a bare Gemini body. Executors that
// speak the enveloped wire re-wrap on the way out.
func unwrapForSource(source wire.Format, payload []byte) []byte {
	if source == wire.FormatGeminiCLI || source == wire.FormatAntigravity {
		return sseutil.UnwrapRequestEnvelope(payload)
	}
	return payload
}

// wrapForTarget applies the cloudcode response envelope for clients that
// speak the wrapped wire variants.
func wrapForTarget(target wire.Format, payload []byte) []byte {
	if target == wire.FormatGeminiCLI || target == wire.FormatAntigravity {
		return sseutil.WrapResponseEnvelope(payload)
	}
	return payload
}

// RenderResponse renders an IR completion in the client format.
func RenderResponse(target wire.Format, resp *ir.Response, model string) ([]byte, error) {
	render, ok := responseRenderers[target]
	if !ok {
		return nil, fmt.Errorf("no response renderer for format %q", target)
	}
	out, err := render(resp, model)
	if err != nil {
		return nil, err
	}
	return wrapForTarget(target, out), nil
}

// sameWire reports whether two formats share a body shape closely enough
// for passthrough. The Gemini family shares one body; openai-responses and
// openai-chat do not.
func sameWire(a, b wire.Format) bool {
	if a == b {
		return true
	}
	return a.IsGeminiFamily() && b.IsGeminiFamily()
}

// rewriteSameFormat applies model and stream surgery without a full parse.
// The internal tool_name_map field never goes upstream.
func rewriteSameFormat(format wire.Format, model string, payload []byte, stream bool) ([]byte, error) {
	out := payload
	var err error
	switch format {
	case wire.FormatGemini, wire.FormatGeminiCLI, wire.FormatAntigravity:
		// Model rides in the URL for the Gemini family.
	default:
		out, err = sjson.SetBytes(out, "model", model)
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "stream", stream)
		if err != nil {
			return nil, err
		}
	}
	out, _ = sjson.DeleteBytes(out, "tool_name_map")
	return out, nil
}
