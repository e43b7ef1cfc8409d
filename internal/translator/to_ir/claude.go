package to_ir

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/translator/ir"
)

// ParseClaudeRequest converts an Anthropic Messages payload to IR.
func ParseClaudeRequest(payload []byte) (*ir.Request, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("claude request: invalid JSON")
	}
	doc := gjson.ParseBytes(payload)

	req := &ir.Request{
		Model:  doc.Get("model").String(),
		Stream: doc.Get("stream").Bool(),
		System: textOf(doc.Get("system")),
	}
	if v := doc.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := doc.Get("top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := doc.Get("top_k"); v.Exists() {
		n := int(v.Int())
		req.TopK = &n
	}
	if v := doc.Get("max_tokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	for _, s := range doc.Get("stop_sequences").Array() {
		req.StopSequences = append(req.StopSequences, s.String())
	}
	if thinking := doc.Get("thinking"); thinking.Exists() && thinking.Get("type").String() == "enabled" {
		req.Thinking = &ir.ThinkingConfig{
			IncludeThoughts: true,
			Budget:          int(thinking.Get("budget_tokens").Int()),
		}
	}
	parseToolNameMap(doc, req)

	for _, tool := range doc.Get("tools").Array() {
		req.Tools = append(req.Tools, ir.ToolDefinition{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
			Parameters:  toMap(tool.Get("input_schema")),
		})
	}

	for _, m := range doc.Get("messages").Array() {
		role := ir.Role(m.Get("role").String())
		msg := ir.Message{Role: role}
		content := m.Get("content")
		if content.Type == gjson.String {
			if content.String() != "" {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: content.String()})
			}
			req.Messages = append(req.Messages, msg)
			continue
		}
		for _, block := range content.Array() {
			switch block.Get("type").String() {
			case "text":
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: block.Get("text").String()})
			case "thinking":
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: block.Get("thinking").String()})
			case "image":
				if block.Get("source.type").String() == "base64" {
					msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: &ir.ImagePart{
						MimeType: block.Get("source.media_type").String(),
						Data:     block.Get("source.data").String(),
					}})
				} else {
					msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: &ir.ImagePart{
						URL: block.Get("source.url").String(),
					}})
				}
			case "tool_use":
				args := block.Get("input").Raw
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
					ID:   block.Get("id").String(),
					Name: block.Get("name").String(),
					Args: args,
				})
			case "tool_result":
				msg.Content = append(msg.Content, ir.ContentPart{
					Type: ir.ContentTypeToolResult,
					ToolResult: &ir.ToolResultPart{
						ToolCallID: block.Get("tool_use_id").String(),
						Result:     textOf(block.Get("content")),
					},
				})
			}
		}
		req.Messages = append(req.Messages, msg)
	}

	return req, nil
}

// ParseClaudeResponse converts an Anthropic Messages response body to IR.
// Content blocks unpack into text, reasoning, and tool calls; stop_reason
// maps onto the unified finish reasons (end_turn->stop, tool_use->tool_calls).
func ParseClaudeResponse(body []byte) (*ir.Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("claude response: invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.Get("content").Exists() && !doc.Get("stop_reason").Exists() {
		return nil, fmt.Errorf("claude response: missing content")
	}

	resp := &ir.Response{
		Model:        doc.Get("model").String(),
		FinishReason: MapClaudeStopReason(doc.Get("stop_reason").String()),
		Message:      ir.Message{Role: ir.RoleAssistant},
	}
	for _, block := range doc.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			resp.Message.Content = append(resp.Message.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: block.Get("text").String()})
		case "thinking":
			resp.Message.Content = append(resp.Message.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: block.Get("thinking").String()})
		case "tool_use":
			args := block.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			resp.Message.ToolCalls = append(resp.Message.ToolCalls, ir.ToolCall{
				ID:   block.Get("id").String(),
				Name: block.Get("name").String(),
				Args: args,
			})
		}
	}
	if usage := doc.Get("usage"); usage.Exists() {
		resp.Usage = parseClaudeUsage(usage)
	}
	return resp, nil
}

// ClaudeChunkState carries the block-type table needed to interpret
// index-addressed deltas across frames of one Claude SSE stream.
type ClaudeChunkState struct {
	blockTypes map[int]string
	toolIDs    map[int]string
	toolNames  map[int]string
	usage      ir.Usage
}

// NewClaudeChunkState returns fresh per-stream Claude decode state.
func NewClaudeChunkState() *ClaudeChunkState {
	return &ClaudeChunkState{
		blockTypes: make(map[int]string),
		toolIDs:    make(map[int]string),
		toolNames:  make(map[int]string),
	}
}

// ParseClaudeChunk converts one Claude SSE data payload to events.
func ParseClaudeChunk(payload []byte, state *ClaudeChunkState) ([]ir.Event, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, nil
	}
	if !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("claude chunk: invalid JSON")
	}
	doc := gjson.Parse(trimmed)
	index := int(doc.Get("index").Int())

	switch doc.Get("type").String() {
	case "message_start":
		if usage := doc.Get("message.usage"); usage.Exists() {
			state.usage = *parseClaudeUsage(usage)
		}
		return nil, nil
	case "content_block_start":
		blockType := doc.Get("content_block.type").String()
		state.blockTypes[index] = blockType
		if blockType == "tool_use" {
			state.toolIDs[index] = doc.Get("content_block.id").String()
			state.toolNames[index] = doc.Get("content_block.name").String()
			return []ir.Event{{
				Type:          ir.EventTypeToolCallDelta,
				ToolCallIndex: index,
				ToolCall:      &ir.ToolCall{ID: state.toolIDs[index], Name: state.toolNames[index]},
			}}, nil
		}
		return nil, nil
	case "content_block_delta":
		switch doc.Get("delta.type").String() {
		case "text_delta":
			return []ir.Event{{Type: ir.EventTypeToken, Content: doc.Get("delta.text").String()}}, nil
		case "thinking_delta":
			return []ir.Event{{Type: ir.EventTypeReasoning, Reasoning: doc.Get("delta.thinking").String()}}, nil
		case "input_json_delta":
			return []ir.Event{{
				Type:          ir.EventTypeToolCallDelta,
				ToolCallIndex: index,
				ToolCall: &ir.ToolCall{
					ID:          state.toolIDs[index],
					Name:        state.toolNames[index],
					PartialArgs: doc.Get("delta.partial_json").String(),
				},
			}}, nil
		}
		return nil, nil
	case "message_delta":
		var events []ir.Event
		if usage := doc.Get("usage"); usage.Exists() {
			u := parseClaudeUsage(usage)
			if u.PromptTokens == 0 {
				u.PromptTokens = state.usage.PromptTokens
			}
			u.Normalize()
			state.usage = *u
		}
		if reason := doc.Get("delta.stop_reason").String(); reason != "" {
			usageCopy := state.usage
			events = append(events, ir.Event{
				Type:         ir.EventTypeFinish,
				FinishReason: MapClaudeStopReason(reason),
				Usage:        &usageCopy,
			})
		}
		return events, nil
	case "message_stop", "ping", "content_block_stop":
		return nil, nil
	case "error":
		return []ir.Event{{Type: ir.EventTypeError, Error: fmt.Errorf("%s", doc.Get("error.message").String())}}, nil
	}
	return nil, nil
}

func parseClaudeUsage(usage gjson.Result) *ir.Usage {
	u := &ir.Usage{
		PromptTokens:     usage.Get("input_tokens").Int(),
		CompletionTokens: usage.Get("output_tokens").Int(),
		CachedTokens:     usage.Get("cache_read_input_tokens").Int(),
	}
	u.Normalize()
	return u
}

// MapClaudeStopReason maps Anthropic stop reasons onto unified finish reasons.
func MapClaudeStopReason(reason string) ir.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return ir.FinishReasonStop
	case "max_tokens":
		return ir.FinishReasonLength
	case "tool_use":
		return ir.FinishReasonToolCalls
	case "refusal":
		return ir.FinishReasonContentFilter
	case "":
		return ir.FinishReasonUnknown
	default:
		return ir.FinishReasonStop
	}
}
