package from_ir

import (
	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/json"
	"github.com/modelgate/modelgate/internal/translator/ir"
)

type claudeRequest struct {
	Model         string          `json:"model"`
	Messages      []claudeMessage `json:"messages"`
	System        string          `json:"system,omitempty"`
	Tools         []claudeTool    `json:"tools,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Thinking      *claudeThinking `json:"thinking,omitempty"`
}

type claudeThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	Source    *claudeSource  `json:"source,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type claudeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

const claudeDefaultMaxTokens = 8192

// ToClaudeRequest renders an IR request as an Anthropic Messages body.
// max_tokens is mandatory on this wire, so a default applies when unset.
func ToClaudeRequest(req *ir.Request) ([]byte, error) {
	out := claudeRequest{
		Model:         req.Model,
		System:        req.System,
		MaxTokens:     claudeDefaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Thinking != nil && req.Thinking.IncludeThoughts {
		th := &claudeThinking{Type: "enabled", BudgetTokens: req.Thinking.Budget}
		if th.BudgetTokens == 0 {
			th.BudgetTokens = 1024
		}
		out.Thinking = th
	}
	for _, tool := range req.Tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, claudeTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		rendered := renderClaudeMessage(msg)
		if len(rendered.Content) == 0 {
			continue
		}
		out.Messages = append(out.Messages, rendered)
	}
	return json.Marshal(out)
}

func renderClaudeMessage(msg *ir.Message) claudeMessage {
	role := "user"
	if msg.Role == ir.RoleAssistant {
		role = "assistant"
	}
	out := claudeMessage{Role: role}
	for _, part := range msg.Content {
		switch part.Type {
		case ir.ContentTypeText:
			if part.Text != "" {
				out.Content = append(out.Content, claudeBlock{Type: "text", Text: part.Text})
			}
		case ir.ContentTypeReasoning:
			if role == "assistant" && part.Reasoning != "" {
				out.Content = append(out.Content, claudeBlock{Type: "thinking", Thinking: part.Reasoning})
			}
		case ir.ContentTypeImage:
			src := &claudeSource{}
			if part.Image.URL != "" {
				src.Type = "url"
				src.URL = part.Image.URL
			} else {
				src.Type = "base64"
				src.MediaType = part.Image.MimeType
				src.Data = part.Image.Data
			}
			out.Content = append(out.Content, claudeBlock{Type: "image", Source: src})
		case ir.ContentTypeToolResult:
			out.Content = append(out.Content, claudeBlock{
				Type:      "tool_result",
				ToolUseID: part.ToolResult.ToolCallID,
				Content:   part.ToolResult.Result,
			})
		}
	}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "toolu_" + uuid.NewString()
		}
		input := map[string]any{}
		if tc.Args != "" {
			_ = json.Unmarshal([]byte(tc.Args), &input)
		}
		out.Content = append(out.Content, claudeBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  tc.Name,
			Input: input,
		})
	}
	return out
}

type claudeResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Model        string        `json:"model"`
	Content      []claudeBlock `json:"content"`
	StopReason   string        `json:"stop_reason"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        *claudeUsage  `json:"usage,omitempty"`
}

type claudeUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ToClaudeResponse renders an IR completion as an Anthropic message object.
func ToClaudeResponse(resp *ir.Response, model string) ([]byte, error) {
	out := claudeResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: ClaudeStopReason(resp.FinishReason),
	}
	for _, part := range resp.Message.Content {
		switch part.Type {
		case ir.ContentTypeText:
			if part.Text != "" {
				out.Content = append(out.Content, claudeBlock{Type: "text", Text: part.Text})
			}
		case ir.ContentTypeReasoning:
			if part.Reasoning != "" {
				out.Content = append(out.Content, claudeBlock{Type: "thinking", Thinking: part.Reasoning})
			}
		}
	}
	for _, tc := range resp.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "toolu_" + uuid.NewString()
		}
		input := map[string]any{}
		if tc.Args != "" {
			_ = json.Unmarshal([]byte(tc.Args), &input)
		}
		out.Content = append(out.Content, claudeBlock{Type: "tool_use", ID: id, Name: tc.Name, Input: input})
	}
	if out.Content == nil {
		out.Content = []claudeBlock{}
	}
	if resp.Usage != nil {
		out.Usage = &claudeUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return json.Marshal(out)
}

// ClaudeStopReason maps a unified finish reason to Anthropic vocabulary.
func ClaudeStopReason(reason ir.FinishReason) string {
	switch reason {
	case ir.FinishReasonLength:
		return "max_tokens"
	case ir.FinishReasonToolCalls:
		return "tool_use"
	case ir.FinishReasonContentFilter:
		return "refusal"
	default:
		return "end_turn"
	}
}

// Claude SSE event bodies. The Anthropic stream names each frame with an
// explicit event: line, so builders return (event, payload) pairs.

type claudeStreamEvent struct {
	Type    string          `json:"type"`
	Message *claudeResponse `json:"message,omitempty"`
	Delta   *claudeDelta    `json:"delta,omitempty"`
	Usage   *claudeUsage    `json:"usage,omitempty"`
}

// Block-scoped events always carry an index, including index zero.
type claudeBlockEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock *claudeBlock `json:"content_block,omitempty"`
	Delta        *claudeDelta `json:"delta,omitempty"`
}

type claudeDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	PartialJSON  string  `json:"partial_json,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// ClaudeMessageStart renders the message_start event payload.
func ClaudeMessageStart(model string) (string, []byte, error) {
	body, err := json.Marshal(claudeStreamEvent{
		Type: "message_start",
		Message: &claudeResponse{
			ID:      "msg_" + uuid.NewString(),
			Type:    "message",
			Role:    "assistant",
			Model:   model,
			Content: []claudeBlock{},
			Usage:   &claudeUsage{},
		},
	})
	return "message_start", body, err
}

// ClaudeBlockStart renders a content_block_start event for the given block
// shape ("text", "thinking" or "tool_use").
func ClaudeBlockStart(index int, block claudeBlock) (string, []byte, error) {
	body, err := json.Marshal(claudeBlockEvent{
		Type:         "content_block_start",
		Index:        index,
		ContentBlock: &block,
	})
	return "content_block_start", body, err
}

// ClaudeTextBlockStart renders a content_block_start for a text block.
func ClaudeTextBlockStart(index int) (string, []byte, error) {
	return ClaudeBlockStart(index, claudeBlock{Type: "text"})
}

// ClaudeThinkingBlockStart renders a content_block_start for a thinking block.
func ClaudeThinkingBlockStart(index int) (string, []byte, error) {
	return ClaudeBlockStart(index, claudeBlock{Type: "thinking"})
}

// ClaudeToolBlockStart renders a content_block_start for a tool_use block.
func ClaudeToolBlockStart(index int, id, name string) (string, []byte, error) {
	if id == "" {
		id = "toolu_" + uuid.NewString()
	}
	return ClaudeBlockStart(index, claudeBlock{Type: "tool_use", ID: id, Name: name, Input: map[string]any{}})
}

// ClaudeTextDelta renders a text_delta frame.
func ClaudeTextDelta(index int, text string) (string, []byte, error) {
	body, err := json.Marshal(claudeBlockEvent{
		Type:  "content_block_delta",
		Index: index,
		Delta: &claudeDelta{Type: "text_delta", Text: text},
	})
	return "content_block_delta", body, err
}

// ClaudeThinkingDelta renders a thinking_delta frame.
func ClaudeThinkingDelta(index int, thinking string) (string, []byte, error) {
	body, err := json.Marshal(claudeBlockEvent{
		Type:  "content_block_delta",
		Index: index,
		Delta: &claudeDelta{Type: "thinking_delta", Thinking: thinking},
	})
	return "content_block_delta", body, err
}

// ClaudeInputJSONDelta renders an input_json_delta frame for tool arguments.
func ClaudeInputJSONDelta(index int, partial string) (string, []byte, error) {
	body, err := json.Marshal(claudeBlockEvent{
		Type:  "content_block_delta",
		Index: index,
		Delta: &claudeDelta{Type: "input_json_delta", PartialJSON: partial},
	})
	return "content_block_delta", body, err
}

// ClaudeBlockStop renders a content_block_stop frame.
func ClaudeBlockStop(index int) (string, []byte, error) {
	body, err := json.Marshal(claudeBlockEvent{Type: "content_block_stop", Index: index})
	return "content_block_stop", body, err
}

// ClaudeMessageDelta renders the message_delta frame with the final stop
// reason and output usage.
func ClaudeMessageDelta(reason ir.FinishReason, usage *ir.Usage) (string, []byte, error) {
	ev := claudeStreamEvent{
		Type:  "message_delta",
		Delta: &claudeDelta{StopReason: ClaudeStopReason(reason)},
	}
	if usage != nil {
		ev.Usage = &claudeUsage{InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens}
	}
	body, err := json.Marshal(ev)
	return "message_delta", body, err
}

// ClaudeMessageStop renders the terminal message_stop frame.
func ClaudeMessageStop() (string, []byte, error) {
	body, err := json.Marshal(claudeStreamEvent{Type: "message_stop"})
	return "message_stop", body, err
}
