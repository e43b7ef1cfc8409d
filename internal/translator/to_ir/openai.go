// Package to_ir parses provider wire formats into the unified IR.
package to_ir

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/translator/ir"
)

// ParseOpenAIRequest converts an OpenAI Chat Completions payload to IR.
func ParseOpenAIRequest(payload []byte) (*ir.Request, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("openai request: invalid JSON")
	}
	doc := gjson.ParseBytes(payload)

	req := &ir.Request{
		Model:  doc.Get("model").String(),
		Stream: doc.Get("stream").Bool(),
	}
	parseOpenAISampling(doc, req)
	parseToolNameMap(doc, req)

	for _, tool := range doc.Get("tools").Array() {
		fn := tool.Get("function")
		if !fn.Exists() {
			continue
		}
		def := ir.ToolDefinition{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
		}
		if params := fn.Get("parameters"); params.Exists() {
			def.Parameters = toMap(params)
		}
		req.Tools = append(req.Tools, def)
	}

	for _, m := range doc.Get("messages").Array() {
		role := ir.Role(m.Get("role").String())
		switch role {
		case ir.RoleSystem, "developer":
			req.System = joinText(req.System, textOf(m.Get("content")))
			continue
		case ir.RoleTool:
			req.Messages = append(req.Messages, ir.Message{
				Role: ir.RoleTool,
				Content: []ir.ContentPart{{
					Type: ir.ContentTypeToolResult,
					ToolResult: &ir.ToolResultPart{
						ToolCallID: m.Get("tool_call_id").String(),
						Result:     textOf(m.Get("content")),
					},
				}},
			})
			continue
		}

		msg := ir.Message{Role: role}
		content := m.Get("content")
		switch {
		case content.Type == gjson.String:
			if content.String() != "" {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: content.String()})
			}
		case content.IsArray():
			for _, part := range content.Array() {
				switch part.Get("type").String() {
				case "text":
					msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: part.Get("text").String()})
				case "image_url":
					url := part.Get("image_url.url").String()
					msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: imageFromDataURL(url)})
				}
			}
		}
		if reasoning := m.Get("reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
			msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: reasoning.String()})
		}
		for _, tc := range m.Get("tool_calls").Array() {
			msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
				ID:   tc.Get("id").String(),
				Name: tc.Get("function.name").String(),
				Args: tc.Get("function.arguments").String(),
			})
		}
		req.Messages = append(req.Messages, msg)
	}

	return req, nil
}

func parseOpenAISampling(doc gjson.Result, req *ir.Request) {
	if v := doc.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := doc.Get("top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := doc.Get("max_completion_tokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	} else if v := doc.Get("max_tokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	switch stop := doc.Get("stop"); {
	case stop.Type == gjson.String:
		req.StopSequences = []string{stop.String()}
	case stop.IsArray():
		for _, s := range stop.Array() {
			req.StopSequences = append(req.StopSequences, s.String())
		}
	}
	if effort := doc.Get("reasoning_effort").String(); effort != "" && effort != "none" {
		req.Thinking = &ir.ThinkingConfig{IncludeThoughts: true, Effort: effort}
	}
}

func parseToolNameMap(doc gjson.Result, req *ir.Request) {
	nameMap := doc.Get("tool_name_map")
	if !nameMap.Exists() || !nameMap.IsObject() {
		return
	}
	req.ToolNameMap = make(map[string]string)
	nameMap.ForEach(func(key, value gjson.Result) bool {
		req.ToolNameMap[key.String()] = value.String()
		return true
	})
}

// ParseOpenAIResponse converts a whole-body chat.completion object to IR.
func ParseOpenAIResponse(body []byte) (*ir.Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("openai response: invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	choice := doc.Get("choices.0")
	if !choice.Exists() {
		return nil, fmt.Errorf("openai response: missing choices")
	}

	resp := &ir.Response{
		Model:        doc.Get("model").String(),
		FinishReason: mapOpenAIFinishReason(choice.Get("finish_reason").String()),
		Message:      ir.Message{Role: ir.RoleAssistant},
	}
	if text := choice.Get("message.content").String(); text != "" {
		resp.Message.Content = append(resp.Message.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: text})
	}
	if reasoning := choice.Get("message.reasoning_content").String(); reasoning != "" {
		resp.Message.Content = append(resp.Message.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: reasoning})
	}
	for _, tc := range choice.Get("message.tool_calls").Array() {
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ir.ToolCall{
			ID:   tc.Get("id").String(),
			Name: tc.Get("function.name").String(),
			Args: tc.Get("function.arguments").String(),
		})
	}
	if usage := doc.Get("usage"); usage.Exists() {
		resp.Usage = parseOpenAIUsage(usage)
	}
	return resp, nil
}

// ParseOpenAIChunk converts one chat.completion.chunk SSE payload to events.
// The literal [DONE] sentinel yields no events.
func ParseOpenAIChunk(payload []byte) ([]ir.Event, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "[DONE]" {
		return nil, nil
	}
	if !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("openai chunk: invalid JSON")
	}
	doc := gjson.Parse(trimmed)

	var events []ir.Event
	choice := doc.Get("choices.0")
	delta := choice.Get("delta")
	if content := delta.Get("content").String(); content != "" {
		events = append(events, ir.Event{Type: ir.EventTypeToken, Content: content})
	}
	if reasoning := delta.Get("reasoning_content").String(); reasoning != "" {
		events = append(events, ir.Event{Type: ir.EventTypeReasoning, Reasoning: reasoning})
	}
	for _, tc := range delta.Get("tool_calls").Array() {
		events = append(events, ir.Event{
			Type:          ir.EventTypeToolCallDelta,
			ToolCallIndex: int(tc.Get("index").Int()),
			ToolCall: &ir.ToolCall{
				ID:          tc.Get("id").String(),
				Name:        tc.Get("function.name").String(),
				PartialArgs: tc.Get("function.arguments").String(),
			},
		})
	}
	if reason := choice.Get("finish_reason").String(); reason != "" {
		events = append(events, ir.Event{Type: ir.EventTypeFinish, FinishReason: mapOpenAIFinishReason(reason)})
	}
	if usage := doc.Get("usage"); usage.Exists() && usage.IsObject() {
		u := parseOpenAIUsage(usage)
		if n := len(events); n > 0 {
			events[n-1].Usage = u
		} else {
			// stream_options usage-only chunk: record, emit nothing.
			events = append(events, ir.Event{Type: ir.EventTypeFinish, FinishReason: ir.FinishReasonUnknown, Usage: u})
		}
	}
	return events, nil
}

func parseOpenAIUsage(usage gjson.Result) *ir.Usage {
	u := &ir.Usage{
		PromptTokens:     usage.Get("prompt_tokens").Int(),
		CompletionTokens: usage.Get("completion_tokens").Int(),
		TotalTokens:      usage.Get("total_tokens").Int(),
		ThoughtsTokens:   usage.Get("completion_tokens_details.reasoning_tokens").Int(),
		CachedTokens:     usage.Get("prompt_tokens_details.cached_tokens").Int(),
	}
	u.Normalize()
	return u
}

func mapOpenAIFinishReason(reason string) ir.FinishReason {
	switch reason {
	case "stop":
		return ir.FinishReasonStop
	case "length":
		return ir.FinishReasonLength
	case "tool_calls", "function_call":
		return ir.FinishReasonToolCalls
	case "content_filter":
		return ir.FinishReasonContentFilter
	case "":
		return ir.FinishReasonUnknown
	default:
		return ir.FinishReasonStop
	}
}
