// Package from_ir renders the unified IR into provider wire formats, both
// whole-body payloads and SSE stream frames.
package from_ir

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/json"
	"github.com/modelgate/modelgate/internal/translator/ir"
)

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	StreamOpts  *streamOptions  `json:"stream_options,omitempty"`
	Effort      string          `json:"reasoning_effort,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role             string           `json:"role"`
	Content          any              `json:"content,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	Index    int            `json:"index,omitempty"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIToolSpec    `json:"function"`
}

type openAIToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToOpenAIRequest renders an IR request as an OpenAI Chat Completions body.
func ToOpenAIRequest(req *ir.Request) ([]byte, error) {
	out := openAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOpts = &streamOptions{IncludeUsage: true}
	}
	if req.Thinking != nil && req.Thinking.IncludeThoughts {
		if req.Thinking.Effort != "" {
			out.Effort = req.Thinking.Effort
		} else {
			out.Effort = "medium"
		}
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type: "function",
			Function: openAIToolSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	for i := range req.Messages {
		rendered, err := renderOpenAIMessage(&req.Messages[i])
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, rendered...)
	}
	return json.Marshal(out)
}

func renderOpenAIMessage(msg *ir.Message) ([]openAIMessage, error) {
	// Tool results become separate messages with role "tool".
	var toolMsgs []openAIMessage
	var parts []map[string]any
	plainText := ""
	multimodal := false
	for _, part := range msg.Content {
		switch part.Type {
		case ir.ContentTypeText:
			plainText += part.Text
			parts = append(parts, map[string]any{"type": "text", "text": part.Text})
		case ir.ContentTypeImage:
			multimodal = true
			url := part.Image.URL
			if url == "" {
				url = fmt.Sprintf("data:%s;base64,%s", part.Image.MimeType, part.Image.Data)
			}
			parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}})
		case ir.ContentTypeToolResult:
			toolMsgs = append(toolMsgs, openAIMessage{
				Role:       "tool",
				Content:    part.ToolResult.Result,
				ToolCallID: part.ToolResult.ToolCallID,
			})
		case ir.ContentTypeReasoning:
			// Assistant-side reasoning is not replayed to OpenAI.
		}
	}

	if len(toolMsgs) > 0 && plainText == "" && len(msg.ToolCalls) == 0 && !multimodal {
		return toolMsgs, nil
	}

	out := openAIMessage{Role: string(msg.Role)}
	if multimodal {
		out.Content = parts
	} else if plainText != "" {
		out.Content = plainText
	}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, openAIToolCall{
			ID:   id,
			Type: "function",
			Function: openAIFunction{
				Name:      tc.Name,
				Arguments: nonEmptyArgs(tc.Args),
			},
		})
	}
	if out.Content == nil && len(out.ToolCalls) == 0 && len(toolMsgs) == 0 {
		out.Content = ""
	}
	return append([]openAIMessage{out}, toolMsgs...), nil
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ToOpenAIResponse renders an IR completion as a chat.completion object.
// Thought content surfaces as reasoning_content, separate from content.
func ToOpenAIResponse(resp *ir.Response, model string) ([]byte, error) {
	msg := openAIMessage{Role: "assistant"}
	text, reasoning := "", ""
	for _, part := range resp.Message.Content {
		switch part.Type {
		case ir.ContentTypeText:
			text += part.Text
		case ir.ContentTypeReasoning:
			reasoning += part.Reasoning
		}
	}
	msg.Content = text
	msg.ReasoningContent = reasoning
	for _, tc := range resp.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
			ID:       id,
			Type:     "function",
			Function: openAIFunction{Name: tc.Name, Arguments: nonEmptyArgs(tc.Args)},
		})
	}

	out := openAIResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openAIChoice{{
			Message:      msg,
			FinishReason: OpenAIFinishReason(resp.FinishReason),
		}},
	}
	if resp.Usage != nil {
		out.Usage = &openAIUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return json.Marshal(out)
}

type openAIChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []openAIChunkChoice `json:"choices"`
	Usage   *openAIUsage        `json:"usage,omitempty"`
}

type openAIChunkChoice struct {
	Index        int              `json:"index"`
	Delta        openAIChunkDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
}

type openAIChunkDelta struct {
	Role             string           `json:"role,omitempty"`
	Content          string           `json:"content,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []openAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIChunkMeta fixes the id/model/created triple shared by every chunk
// of one stream.
type OpenAIChunkMeta struct {
	ID      string
	Model   string
	Created int64
}

// ToOpenAIChunk renders one delta as a chat.completion.chunk body.
func ToOpenAIChunk(meta OpenAIChunkMeta, delta openAIChunkDelta, finishReason *string, usage *ir.Usage) ([]byte, error) {
	chunk := openAIChunk{
		ID:      meta.ID,
		Object:  "chat.completion.chunk",
		Created: meta.Created,
		Model:   meta.Model,
		Choices: []openAIChunkChoice{{Delta: delta, FinishReason: finishReason}},
	}
	if usage != nil {
		chunk.Usage = &openAIUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	return json.Marshal(chunk)
}

// OpenAITextChunk renders a content delta chunk.
func OpenAITextChunk(meta OpenAIChunkMeta, content string) ([]byte, error) {
	return ToOpenAIChunk(meta, openAIChunkDelta{Role: "assistant", Content: content}, nil, nil)
}

// OpenAIReasoningChunk renders a reasoning delta chunk.
func OpenAIReasoningChunk(meta OpenAIChunkMeta, reasoning string) ([]byte, error) {
	return ToOpenAIChunk(meta, openAIChunkDelta{Role: "assistant", ReasoningContent: reasoning}, nil, nil)
}

// OpenAIToolCallChunk renders a tool-call delta chunk.
func OpenAIToolCallChunk(meta OpenAIChunkMeta, index int, call *ir.ToolCall) ([]byte, error) {
	tc := openAIToolCall{
		Index:    index,
		ID:       call.ID,
		Type:     "function",
		Function: openAIFunction{Name: call.Name, Arguments: call.PartialArgs},
	}
	if tc.Function.Arguments == "" && call.Args != "" {
		tc.Function.Arguments = call.Args
	}
	return ToOpenAIChunk(meta, openAIChunkDelta{Role: "assistant", ToolCalls: []openAIToolCall{tc}}, nil, nil)
}

// OpenAIFinishChunk renders the terminal chunk carrying finish_reason and usage.
func OpenAIFinishChunk(meta OpenAIChunkMeta, reason ir.FinishReason, usage *ir.Usage) ([]byte, error) {
	fr := OpenAIFinishReason(reason)
	return ToOpenAIChunk(meta, openAIChunkDelta{}, &fr, usage)
}

// OpenAIFinishReason maps a unified finish reason to OpenAI vocabulary.
func OpenAIFinishReason(reason ir.FinishReason) string {
	switch reason {
	case ir.FinishReasonLength:
		return "length"
	case ir.FinishReasonToolCalls:
		return "tool_calls"
	case ir.FinishReasonContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

func nonEmptyArgs(args string) string {
	if args == "" {
		return "{}"
	}
	return args
}
