// Package ir defines the format-neutral intermediate representation that
// requests and responses pass through during translation. Every inbound
// payload is parsed into these types once; every upstream payload and
// client response is rendered from them.
package ir

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentType defines the type of content part.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeReasoning  ContentType = "reasoning"
	ContentTypeImage      ContentType = "image"
	ContentTypeToolResult ContentType = "tool_result"
)

// ContentPart represents a discrete part of a message (a block of text, an
// image, a tool result).
type ContentPart struct {
	Type       ContentType
	Text       string
	Reasoning  string
	Image      *ImagePart
	ToolResult *ToolResultPart
}

type ImagePart struct {
	MimeType string
	Data     string
	URL      string
}

type ToolResultPart struct {
	ToolCallID string
	Result     string
}

// ToolCall represents a request from the model to execute a tool.
type ToolCall struct {
	ID          string
	Name        string
	Args        string
	PartialArgs string
}

type Message struct {
	Role      Role
	Content   []ContentPart
	ToolCalls []ToolCall
}

// ToolDefinition represents a tool capability exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ThinkingConfig controls the reasoning capabilities of the model.
type ThinkingConfig struct {
	IncludeThoughts bool
	Budget          int
	Effort          string
}

// Request is the unified in-flight chat request. It is owned by exactly one
// request lifecycle and never shared across goroutines.
type Request struct {
	Model         string
	Messages      []Message
	Tools         []ToolDefinition
	System        string
	Temperature   *float64
	TopP          *float64
	TopK          *int
	MaxTokens     *int
	StopSequences []string
	Stream        bool
	Thinking      *ThinkingConfig

	// ToolNameMap restores tool-call names mangled in translation
	// (sanitized key -> original name). Stripped before the payload
	// goes upstream.
	ToolNameMap map[string]string
}

// LastMessageFromUser reports whether the conversation ends on a user turn.
// Thinking configuration is only forwarded upstream when it can still
// affect the very next turn, which requires this to be true.
func (r *Request) LastMessageFromUser() bool {
	if len(r.Messages) == 0 {
		return false
	}
	return r.Messages[len(r.Messages)-1].Role == RoleUser
}

type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonUnknown       FinishReason = "unknown"
)

// Usage normalizes token accounting across provider vocabularies
// (input_tokens, promptTokenCount, prompt_tokens all land here).
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	ThoughtsTokens   int64
	CachedTokens     int64
}

// Normalize fills TotalTokens when the upstream omitted it.
func (u *Usage) Normalize() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// Response is the unified whole-body completion result.
type Response struct {
	Model        string
	Message      Message
	FinishReason FinishReason
	Usage        *Usage
}

type EventType string

const (
	EventTypeToken         EventType = "token"
	EventTypeReasoning     EventType = "reasoning"
	EventTypeToolCall      EventType = "tool_call"
	EventTypeToolCallDelta EventType = "tool_call_delta"
	EventTypeError         EventType = "error"
	EventTypeFinish        EventType = "finish"
)

// Event is one unit of streamed output in the unified representation.
// Upstream SSE frames decode to one or more events; target-format frames
// are rendered from them.
type Event struct {
	Type          EventType
	Content       string
	Reasoning     string
	ToolCall      *ToolCall
	ToolCallIndex int
	Error         error
	Usage         *Usage
	FinishReason  FinishReason
}
