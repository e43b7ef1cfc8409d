package stream

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/translator/ir"
	"github.com/modelgate/modelgate/internal/wire"
)

var errLate = errors.New("upstream connection reset")

func feedAll(t *testing.T, tr *Translator, chunks []string) [][]byte {
	t.Helper()
	var frames [][]byte
	for _, chunk := range chunks {
		out, err := tr.Feed([]byte(chunk))
		if err != nil {
			t.Fatalf("Feed(%s) failed: %v", chunk, err)
		}
		frames = append(frames, out...)
	}
	return frames
}

func TestTranslator_OpenAIToClaude(t *testing.T) {
	var done Completion
	fired := 0
	tr := New(wire.FormatOpenAI, wire.FormatClaude, "claude-sonnet-4", nil, func(c Completion) {
		done = c
		fired++
	})

	frames := feedAll(t, tr, []string{
		`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
	})
	finish, err := tr.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	frames = append(frames, finish...)

	all := string(bytes.Join(frames, nil))
	for _, event := range []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"} {
		if !strings.Contains(all, "event: "+event) {
			t.Errorf("stream missing %s frame", event)
		}
	}
	if !strings.Contains(all, `"text_delta"`) || !strings.Contains(all, "Hel") {
		t.Error("text deltas missing from claude frames")
	}

	if fired != 1 {
		t.Fatalf("completion fired %d times, want 1", fired)
	}
	if done.FinishReason != ir.FinishReasonStop {
		t.Errorf("finish = %s, want stop", done.FinishReason)
	}
	if done.TextLen != len("Hello") {
		t.Errorf("TextLen = %d, want 5", done.TextLen)
	}
	if done.Usage.TotalTokens != 9 {
		t.Errorf("TotalTokens = %d, want 9", done.Usage.TotalTokens)
	}
	if done.FirstTokenAt.IsZero() || done.LastTokenAt.Before(done.FirstTokenAt) {
		t.Error("token timestamps not recorded")
	}
}

func TestTranslator_CollapseMatchesWholeBody(t *testing.T) {
	tr := New(wire.FormatOpenAI, wire.FormatOpenAI, "gpt-4o", nil, nil)
	feedAll(t, tr, []string{
		`{"choices":[{"delta":{"reasoning_content":"hmm "}}]}`,
		`{"choices":[{"delta":{"content":"Four."}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"add","arguments":"{\"a\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"2}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	})

	resp := tr.Response()
	var text, reasoning string
	for _, part := range resp.Message.Content {
		switch part.Type {
		case ir.ContentTypeText:
			text += part.Text
		case ir.ContentTypeReasoning:
			reasoning += part.Reasoning
		}
	}
	if text != "Four." {
		t.Errorf("text = %q", text)
	}
	if reasoning != "hmm " {
		t.Errorf("reasoning = %q", reasoning)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.Name != "add" || call.ID != "call_1" {
		t.Errorf("call = %+v", call)
	}
	if call.Args != `{"a":2}` {
		t.Errorf("args = %q, partial deltas must concatenate", call.Args)
	}
	if resp.FinishReason != ir.FinishReasonToolCalls {
		t.Errorf("finish = %s", resp.FinishReason)
	}
}

func TestTranslator_UsageOnlyChunkIsRecordOnly(t *testing.T) {
	tr := New(wire.FormatOpenAI, wire.FormatClaude, "claude-sonnet-4", nil, nil)
	feedAll(t, tr, []string{
		`{"choices":[{"delta":{"content":"hi"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"length"}]}`,
	})
	// stream_options usage-only chunk arrives after finish_reason.
	frames, err := tr.Feed([]byte(`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("usage-only chunk emitted %d frames, want none", len(frames))
	}

	resp := tr.Response()
	if resp.FinishReason != ir.FinishReasonLength {
		t.Errorf("finish = %s, usage-only chunk must not overwrite it", resp.FinishReason)
	}
	if usage, ok := tr.Usage(); !ok || usage.TotalTokens != 4 {
		t.Errorf("usage = %+v ok=%v, want recorded total 4", usage, ok)
	}
}

func TestTranslator_CompletionFiresOnce(t *testing.T) {
	fired := 0
	var last Completion
	tr := New(wire.FormatOpenAI, wire.FormatOpenAI, "gpt-4o", nil, func(c Completion) {
		fired++
		last = c
	})
	if _, err := tr.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	tr.Fail(errLate)
	if fired != 1 {
		t.Fatalf("completion fired %d times", fired)
	}
	if last.Err != nil {
		t.Error("first completion won, err must stay nil")
	}
}

func TestTranslator_FailRecordsError(t *testing.T) {
	var done Completion
	tr := New(wire.FormatOpenAI, wire.FormatOpenAI, "gpt-4o", nil, func(c Completion) { done = c })
	feedAll(t, tr, []string{`{"choices":[{"delta":{"content":"par"}}]}`})
	tr.Fail(errLate)
	if done.Err == nil {
		t.Error("failure completion must carry the error")
	}
	if done.TextLen != 3 {
		t.Errorf("TextLen = %d, partial output still counts", done.TextLen)
	}
}

func TestTranslator_ToolNameRemap(t *testing.T) {
	nameMap := map[string]string{"mcp_fs_read": "mcp.fs/read"}
	tr := New(wire.FormatOpenAI, wire.FormatOpenAI, "gpt-4o", nameMap, nil)
	frames := feedAll(t, tr, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"mcp_fs_read","arguments":"{}"}}]}}]}`,
	})
	if len(frames) == 0 {
		t.Fatal("expected a tool delta frame")
	}
	payload := bytes.TrimPrefix(bytes.TrimSpace(frames[0]), []byte("data: "))
	if got := gjson.GetBytes(payload, "choices.0.delta.tool_calls.0.function.name").String(); got != "mcp.fs/read" {
		t.Errorf("name = %q, sanitized tool names must map back", got)
	}
}

func TestTranslator_SameFormatForwardsChunksVerbatim(t *testing.T) {
	var done Completion
	fired := 0
	tr := New(wire.FormatOpenAI, wire.FormatOpenAI, "gpt-4o", nil, func(c Completion) {
		done = c
		fired++
	})

	frames := feedAll(t, tr, []string{
		`{"id":"chatcmpl-upstream","object":"chat.completion.chunk","system_fingerprint":"fp_44709d6fcb","choices":[{"delta":{"content":"hi"},"logprobs":{"content":[]}}]}`,
		`{"id":"chatcmpl-upstream","object":"chat.completion.chunk","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`,
	})
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want one per upstream chunk", len(frames))
	}
	first := bytes.TrimPrefix(bytes.TrimSpace(frames[0]), []byte("data: "))
	if got := gjson.GetBytes(first, "id").String(); got != "chatcmpl-upstream" {
		t.Errorf("id = %q, upstream chunk id must survive", got)
	}
	if got := gjson.GetBytes(first, "system_fingerprint").String(); got != "fp_44709d6fcb" {
		t.Errorf("system_fingerprint = %q, unmodeled fields must survive", got)
	}
	if !gjson.GetBytes(first, "choices.0.logprobs").Exists() {
		t.Error("logprobs dropped from forwarded chunk")
	}

	finish, err := tr.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if len(finish) != 1 || !strings.Contains(string(finish[0]), "[DONE]") {
		t.Errorf("terminal frames = %q, want only the [DONE] sentinel", finish)
	}
	if fired != 1 || done.TextLen != 2 || done.Usage.TotalTokens != 4 {
		t.Errorf("completion = %+v fired=%d, accounting must still run", done, fired)
	}
}

func TestTranslator_PassthroughRewrapsEnvelope(t *testing.T) {
	chunk := `{"candidates":[{"content":{"parts":[{"text":"hi"}],"role":"model"}}]}`

	tr := New(wire.FormatGemini, wire.FormatGeminiCLI, "gemini-2.5-pro", nil, nil)
	frames := feedAll(t, tr, []string{chunk})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	payload := bytes.TrimPrefix(bytes.TrimSpace(frames[0]), []byte("data: "))
	if got := gjson.GetBytes(payload, "response.candidates.0.content.parts.0.text").String(); got != "hi" {
		t.Errorf("cloudcode client must get an enveloped chunk, got %s", payload)
	}

	tr = New(wire.FormatGeminiCLI, wire.FormatGemini, "gemini-2.5-pro", nil, nil)
	frames = feedAll(t, tr, []string{`{"response":` + chunk + `}`})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	payload = bytes.TrimPrefix(bytes.TrimSpace(frames[0]), []byte("data: "))
	if gjson.GetBytes(payload, "response").Exists() {
		t.Errorf("bare gemini client must not see the envelope, got %s", payload)
	}
	if got := gjson.GetBytes(payload, "candidates.0.content.parts.0.text").String(); got != "hi" {
		t.Errorf("text = %q after unwrap", got)
	}
}

func TestEventsFromResponse_ReplaysWholeBody(t *testing.T) {
	resp := &ir.Response{
		Model: "gemini-2.5-pro",
		Message: ir.Message{
			Role: ir.RoleAssistant,
			Content: []ir.ContentPart{
				{Type: ir.ContentTypeReasoning, Reasoning: "think"},
				{Type: ir.ContentTypeText, Text: "answer"},
			},
			ToolCalls: []ir.ToolCall{{ID: "c1", Name: "f", Args: "{}"}},
		},
		FinishReason: ir.FinishReasonToolCalls,
		Usage:        &ir.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}

	events := EventsFromResponse(resp)
	if len(events) != 4 {
		t.Fatalf("events = %d, want reasoning+text+tool+finish", len(events))
	}
	if events[0].Type != ir.EventTypeReasoning || events[1].Type != ir.EventTypeToken {
		t.Error("reasoning must replay before text")
	}
	if events[2].Type != ir.EventTypeToolCall {
		t.Error("tool calls replay after content")
	}
	last := events[len(events)-1]
	if last.Type != ir.EventTypeFinish || last.FinishReason != ir.FinishReasonToolCalls || last.Usage == nil {
		t.Errorf("finish event = %+v", last)
	}
}
