package translator

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/wire"
)

func TestTranslateRequest_OpenAIToClaude(t *testing.T) {
	payload := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "Be terse."},
			{"role": "user", "content": "What is 2+2?"}
		],
		"temperature": 0.5,
		"tools": [{"type":"function","function":{"name":"lookup","description":"d","parameters":{"type":"object"}}}]
	}`)

	out, err := TranslateRequest(wire.FormatOpenAI, wire.FormatClaude, "claude-sonnet-4", payload, false)
	if err != nil {
		t.Fatalf("TranslateRequest failed: %v", err)
	}
	doc := gjson.ParseBytes(out)

	if got := doc.Get("model").String(); got != "claude-sonnet-4" {
		t.Errorf("model = %q, want resolved model", got)
	}
	if got := doc.Get("system").String(); got != "Be terse." {
		t.Errorf("system = %q, system message should lift to system field", got)
	}
	if got := doc.Get("messages.0.content.0.text").String(); got != "What is 2+2?" {
		t.Errorf("user text = %q", got)
	}
	if !doc.Get("max_tokens").Exists() {
		t.Error("claude body must carry max_tokens")
	}
	if got := doc.Get("tools.0.name").String(); got != "lookup" {
		t.Errorf("tool name = %q, want lookup", got)
	}
	if got := doc.Get("temperature").Float(); got != 0.5 {
		t.Errorf("temperature = %v, want 0.5", got)
	}
}

func TestTranslateRequest_ClaudeToGemini_Thinking(t *testing.T) {
	payload := []byte(`{
		"model": "claude-sonnet-4",
		"max_tokens": 2048,
		"thinking": {"type": "enabled", "budget_tokens": 512},
		"messages": [{"role": "user", "content": "why is the sky blue"}]
	}`)

	out, err := TranslateRequest(wire.FormatClaude, wire.FormatGemini, "gemini-2.5-pro", payload, false)
	if err != nil {
		t.Fatalf("TranslateRequest failed: %v", err)
	}
	doc := gjson.ParseBytes(out)

	if got := doc.Get("contents.0.parts.0.text").String(); got != "why is the sky blue" {
		t.Errorf("text = %q", got)
	}
	if !doc.Get("generationConfig.thinkingConfig.includeThoughts").Bool() {
		t.Error("thinking config should survive when the last turn is the user's")
	}
	if got := doc.Get("generationConfig.thinkingConfig.thinkingBudget").Int(); got != 512 {
		t.Errorf("thinkingBudget = %d, want 512", got)
	}
	if got := doc.Get("generationConfig.maxOutputTokens").Int(); got != 2048 {
		t.Errorf("maxOutputTokens = %d, want 2048", got)
	}
	if doc.Get("model").Exists() {
		t.Error("gemini bodies must not carry a model field")
	}
}

func TestTranslateRequest_ThinkingDroppedAfterAssistantTurn(t *testing.T) {
	payload := []byte(`{
		"model": "claude-sonnet-4",
		"max_tokens": 1024,
		"thinking": {"type": "enabled", "budget_tokens": 512},
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"}
		]
	}`)

	out, err := TranslateRequest(wire.FormatClaude, wire.FormatGemini, "gemini-2.5-pro", payload, false)
	if err != nil {
		t.Fatalf("TranslateRequest failed: %v", err)
	}
	if gjson.GetBytes(out, "generationConfig.thinkingConfig").Exists() {
		t.Error("thinking config should drop when the conversation ends on an assistant turn")
	}
}

func TestTranslateRequest_SameWireRewrite(t *testing.T) {
	payload := []byte(`{"model":"alias","stream":false,"tool_name_map":{"a_b":"a.b"},"messages":[{"role":"user","content":"hi"}]}`)

	out, err := TranslateRequest(wire.FormatOpenAI, wire.FormatOpenAI, "gpt-4o-mini", payload, true)
	if err != nil {
		t.Fatalf("TranslateRequest failed: %v", err)
	}
	doc := gjson.ParseBytes(out)
	if got := doc.Get("model").String(); got != "gpt-4o-mini" {
		t.Errorf("model = %q, want rewritten model", got)
	}
	if !doc.Get("stream").Bool() {
		t.Error("stream flag should be rewritten to the effective value")
	}
	if doc.Get("tool_name_map").Exists() {
		t.Error("tool_name_map must never go upstream")
	}
	if got := doc.Get("messages.0.content").String(); got != "hi" {
		t.Errorf("message content mangled: %q", got)
	}
}

func TestTranslateRequest_OpenAIToResponses(t *testing.T) {
	payload := []byte(`{
		"model": "gpt-4o",
		"max_tokens": 256,
		"messages": [
			{"role": "system", "content": "Be terse."},
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "tool_calls": [{"id":"call_9","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"SF\"}"}}]},
			{"role": "tool", "tool_call_id": "call_9", "content": "sunny"}
		],
		"tools": [{"type":"function","function":{"name":"get_weather","description":"d","parameters":{"type":"object"}}}]
	}`)

	out, err := TranslateRequest(wire.FormatOpenAI, wire.FormatOpenAIResponses, "gpt-5", payload, false)
	if err != nil {
		t.Fatalf("TranslateRequest failed: %v", err)
	}
	doc := gjson.ParseBytes(out)

	if doc.Get("messages").Exists() {
		t.Error("responses body must not carry a chat-completions messages array")
	}
	if got := doc.Get("instructions").String(); got != "Be terse." {
		t.Errorf("instructions = %q, system must lift to instructions", got)
	}
	if got := doc.Get("max_output_tokens").Int(); got != 256 {
		t.Errorf("max_output_tokens = %d", got)
	}
	if got := doc.Get("input.0.type").String(); got != "message" {
		t.Errorf("input.0.type = %q", got)
	}
	if got := doc.Get("input.0.content.0.type").String(); got != "input_text" {
		t.Errorf("user content type = %q", got)
	}
	if got := doc.Get("input.1.type").String(); got != "function_call" {
		t.Errorf("input.1.type = %q, assistant tool call must become function_call", got)
	}
	if got := doc.Get("input.1.call_id").String(); got != "call_9" {
		t.Errorf("call_id = %q", got)
	}
	if got := doc.Get("input.2.type").String(); got != "function_call_output" {
		t.Errorf("input.2.type = %q, tool result must become function_call_output", got)
	}
	if got := doc.Get("input.2.output").String(); got != "sunny" {
		t.Errorf("output = %q", got)
	}
	// Responses tools are flat, not nested under "function".
	if got := doc.Get("tools.0.name").String(); got != "get_weather" {
		t.Errorf("tools.0.name = %q", got)
	}
	if doc.Get("tools.0.function").Exists() {
		t.Error("tool definition must use the flat responses shape")
	}
}

func TestTranslateRequest_CloudCodeEnvelopeUnwrapped(t *testing.T) {
	payload := []byte(`{
		"model": "gemini-2.5-pro",
		"project": "proj-1",
		"request": {"contents": [{"role": "user", "parts": [{"text": "hi"}]}]}
	}`)

	// Same-family passthrough normalizes to the bare body; the executor
	// re-wraps on the way out.
	out, err := TranslateRequest(wire.FormatGeminiCLI, wire.FormatGeminiCLI, "gemini-2.5-pro", payload, true)
	if err != nil {
		t.Fatalf("TranslateRequest failed: %v", err)
	}
	doc := gjson.ParseBytes(out)
	if doc.Get("request").Exists() {
		t.Error("request envelope should be stripped in flight")
	}
	if got := doc.Get("contents.0.parts.0.text").String(); got != "hi" {
		t.Errorf("text = %q", got)
	}

	// Cross-family translation sees through the envelope too.
	out, err = TranslateRequest(wire.FormatGeminiCLI, wire.FormatOpenAI, "gpt-4o", payload, false)
	if err != nil {
		t.Fatalf("TranslateRequest failed: %v", err)
	}
	if got := gjson.GetBytes(out, "messages.0.content").String(); got != "hi" {
		t.Errorf("translated content = %q", got)
	}
}

func TestTranslateResponse_GeminiToOpenAI(t *testing.T) {
	payload := []byte(`{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"text": "thinking about it", "thought": true},
				{"text": "The answer is 4."}
			]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
	}`)

	out, err := TranslateResponse(wire.FormatGemini, wire.FormatOpenAI, "gpt-4o", payload)
	if err != nil {
		t.Fatalf("TranslateResponse failed: %v", err)
	}
	doc := gjson.ParseBytes(out)
	if got := doc.Get("choices.0.message.content").String(); got != "The answer is 4." {
		t.Errorf("content = %q", got)
	}
	if got := doc.Get("choices.0.message.reasoning_content").String(); got != "thinking about it" {
		t.Errorf("reasoning_content = %q, thought parts must stay separate from content", got)
	}
	if got := doc.Get("choices.0.finish_reason").String(); got != "stop" {
		t.Errorf("finish_reason = %q, want stop", got)
	}
	if got := doc.Get("usage.total_tokens").Int(); got != 15 {
		t.Errorf("total_tokens = %d, want 15", got)
	}
}

func TestTranslateResponse_EnvelopeRoundTrip(t *testing.T) {
	payload := []byte(`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP"}]}}`)

	// gemini-cli upstream answering a gemini-cli client: body passes
	// through but stays wrapped.
	out, err := TranslateResponse(wire.FormatGeminiCLI, wire.FormatGeminiCLI, "gemini-2.5-pro", payload)
	if err != nil {
		t.Fatalf("TranslateResponse failed: %v", err)
	}
	if got := gjson.GetBytes(out, "response.candidates.0.content.parts.0.text").String(); got != "hi" {
		t.Errorf("wrapped text = %q", got)
	}

	// The same upstream body for a bare gemini client loses the envelope.
	out, err = TranslateResponse(wire.FormatGeminiCLI, wire.FormatGemini, "gemini-2.5-pro", payload)
	if err != nil {
		t.Fatalf("TranslateResponse failed: %v", err)
	}
	doc := gjson.ParseBytes(out)
	if doc.Get("response").Exists() {
		t.Error("bare gemini clients should not see the envelope")
	}
	if got := doc.Get("candidates.0.content.parts.0.text").String(); got != "hi" {
		t.Errorf("text = %q", got)
	}
}

func TestTranslateRequest_ToolCallRoundTrip(t *testing.T) {
	payload := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": "weather in Oslo"},
			{"role": "assistant", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Oslo\"}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "content": "4C, rain"}
		]
	}`)

	out, err := TranslateRequest(wire.FormatOpenAI, wire.FormatGemini, "gemini-2.5-pro", payload, false)
	if err != nil {
		t.Fatalf("TranslateRequest failed: %v", err)
	}
	doc := gjson.ParseBytes(out)
	if got := doc.Get("contents.1.parts.0.functionCall.name").String(); got != "get_weather" {
		t.Errorf("functionCall name = %q", got)
	}
	if got := doc.Get("contents.1.parts.0.functionCall.args.city").String(); got != "Oslo" {
		t.Errorf("functionCall args = %q", got)
	}
	if got := doc.Get("contents.2.parts.0.functionResponse.name").String(); got != "get_weather" {
		t.Errorf("functionResponse name = %q, tool results must resolve the call name by id", got)
	}
}
