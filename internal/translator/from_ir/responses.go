package from_ir

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/json"
	"github.com/modelgate/modelgate/internal/translator/ir"
)

type responsesRequest struct {
	Model           string              `json:"model"`
	Input           []responsesInput    `json:"input"`
	Instructions    string              `json:"instructions,omitempty"`
	Tools           []responsesToolDef  `json:"tools,omitempty"`
	Temperature     *float64            `json:"temperature,omitempty"`
	TopP            *float64            `json:"top_p,omitempty"`
	MaxOutputTokens *int                `json:"max_output_tokens,omitempty"`
	Reasoning       *responsesReasoning `json:"reasoning,omitempty"`
	Stream          bool                `json:"stream,omitempty"`
}

type responsesReasoning struct {
	Effort string `json:"effort"`
}

// Responses tools are flat, unlike the nested chat-completions shape.
type responsesToolDef struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responsesInput struct {
	Type      string               `json:"type"`
	Role      string               `json:"role,omitempty"`
	Content   []responsesInputPart `json:"content,omitempty"`
	CallID    string               `json:"call_id,omitempty"`
	Name      string               `json:"name,omitempty"`
	Arguments string               `json:"arguments,omitempty"`
	Output    string               `json:"output,omitempty"`
}

type responsesInputPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ToResponsesRequest renders an IR request as a Responses API body, for
// upstreams addressed with a responses format override. Tool calls become
// function_call items, tool results function_call_output items.
func ToResponsesRequest(req *ir.Request) ([]byte, error) {
	out := responsesRequest{
		Model:           req.Model,
		Input:           []responsesInput{},
		Instructions:    req.System,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
		Stream:          req.Stream,
	}
	if req.Thinking != nil && req.Thinking.IncludeThoughts {
		effort := req.Thinking.Effort
		if effort == "" {
			effort = "medium"
		}
		out.Reasoning = &responsesReasoning{Effort: effort}
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, responsesToolDef{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	for i := range req.Messages {
		out.Input = append(out.Input, renderResponsesInput(&req.Messages[i])...)
	}
	return json.Marshal(out)
}

func renderResponsesInput(msg *ir.Message) []responsesInput {
	var parts []responsesInputPart
	var toolOutputs []responsesInput
	for _, part := range msg.Content {
		switch part.Type {
		case ir.ContentTypeText:
			kind := "input_text"
			if msg.Role == ir.RoleAssistant {
				kind = "output_text"
			}
			parts = append(parts, responsesInputPart{Type: kind, Text: part.Text})
		case ir.ContentTypeImage:
			url := part.Image.URL
			if url == "" {
				url = fmt.Sprintf("data:%s;base64,%s", part.Image.MimeType, part.Image.Data)
			}
			parts = append(parts, responsesInputPart{Type: "input_image", ImageURL: url})
		case ir.ContentTypeToolResult:
			toolOutputs = append(toolOutputs, responsesInput{
				Type:   "function_call_output",
				CallID: part.ToolResult.ToolCallID,
				Output: part.ToolResult.Result,
			})
		case ir.ContentTypeReasoning:
			// Assistant-side reasoning is not replayed.
		}
	}

	var items []responsesInput
	if len(parts) > 0 {
		items = append(items, responsesInput{Type: "message", Role: string(msg.Role), Content: parts})
	}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		items = append(items, responsesInput{
			Type:      "function_call",
			CallID:    id,
			Name:      tc.Name,
			Arguments: nonEmptyArgs(tc.Args),
		})
	}
	return append(items, toolOutputs...)
}

type responsesResponse struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Status    string          `json:"status"`
	Model     string          `json:"model"`
	Output    []responsesItem `json:"output"`
	Usage     *responsesUsage `json:"usage,omitempty"`
}

type responsesItem struct {
	ID        string             `json:"id,omitempty"`
	Type      string             `json:"type"`
	Role      string             `json:"role,omitempty"`
	Status    string             `json:"status,omitempty"`
	Content   []responsesContent `json:"content,omitempty"`
	Summary   []responsesContent `json:"summary,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ToResponsesResponse renders an IR completion as a Responses API object.
// Reasoning surfaces as a reasoning output item with summary text, tool
// calls as function_call items.
func ToResponsesResponse(resp *ir.Response, model string) ([]byte, error) {
	out := responsesResponse{
		ID:        "resp_" + uuid.NewString(),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     model,
	}
	text, reasoning := "", ""
	for _, part := range resp.Message.Content {
		switch part.Type {
		case ir.ContentTypeText:
			text += part.Text
		case ir.ContentTypeReasoning:
			reasoning += part.Reasoning
		}
	}
	if reasoning != "" {
		out.Output = append(out.Output, responsesItem{
			ID:      "rs_" + uuid.NewString(),
			Type:    "reasoning",
			Summary: []responsesContent{{Type: "summary_text", Text: reasoning}},
		})
	}
	if text != "" || len(resp.Message.ToolCalls) == 0 {
		out.Output = append(out.Output, responsesItem{
			ID:      "msg_" + uuid.NewString(),
			Type:    "message",
			Role:    "assistant",
			Status:  "completed",
			Content: []responsesContent{{Type: "output_text", Text: text}},
		})
	}
	for _, tc := range resp.Message.ToolCalls {
		callID := tc.ID
		if callID == "" {
			callID = "call_" + uuid.NewString()
		}
		out.Output = append(out.Output, responsesItem{
			ID:        "fc_" + uuid.NewString(),
			Type:      "function_call",
			Status:    "completed",
			CallID:    callID,
			Name:      tc.Name,
			Arguments: nonEmptyArgs(tc.Args),
		})
	}
	if resp.Usage != nil {
		out.Usage = &responsesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return json.Marshal(out)
}

// Responses streams name their frames with event: lines like the Anthropic
// wire, so builders return (event, payload) pairs.

type responsesStreamEvent struct {
	Type     string             `json:"type"`
	Response *responsesResponse `json:"response,omitempty"`
	ItemID   string             `json:"item_id,omitempty"`
	Delta    string             `json:"delta,omitempty"`
	Text     string             `json:"text,omitempty"`
}

// ResponsesCreated renders the response.created frame.
func ResponsesCreated(model string) (string, []byte, error) {
	body, err := json.Marshal(responsesStreamEvent{
		Type: "response.created",
		Response: &responsesResponse{
			ID:        "resp_" + uuid.NewString(),
			Object:    "response",
			CreatedAt: time.Now().Unix(),
			Status:    "in_progress",
			Model:     model,
			Output:    []responsesItem{},
		},
	})
	return "response.created", body, err
}

// ResponsesTextDelta renders a response.output_text.delta frame.
func ResponsesTextDelta(itemID, delta string) (string, []byte, error) {
	body, err := json.Marshal(responsesStreamEvent{
		Type:   "response.output_text.delta",
		ItemID: itemID,
		Delta:  delta,
	})
	return "response.output_text.delta", body, err
}

// ResponsesReasoningDelta renders a response.reasoning_summary_text.delta frame.
func ResponsesReasoningDelta(itemID, delta string) (string, []byte, error) {
	body, err := json.Marshal(responsesStreamEvent{
		Type:   "response.reasoning_summary_text.delta",
		ItemID: itemID,
		Delta:  delta,
	})
	return "response.reasoning_summary_text.delta", body, err
}

// ResponsesArgumentsDelta renders a response.function_call_arguments.delta frame.
func ResponsesArgumentsDelta(itemID, delta string) (string, []byte, error) {
	body, err := json.Marshal(responsesStreamEvent{
		Type:   "response.function_call_arguments.delta",
		ItemID: itemID,
		Delta:  delta,
	})
	return "response.function_call_arguments.delta", body, err
}

// ResponsesCompleted renders the terminal response.completed frame carrying
// the final assembled response object.
func ResponsesCompleted(resp *ir.Response, model string) (string, []byte, error) {
	full, err := ToResponsesResponse(resp, model)
	if err != nil {
		return "", nil, err
	}
	var inner responsesResponse
	if err := json.Unmarshal(full, &inner); err != nil {
		return "", nil, err
	}
	body, err := json.Marshal(responsesStreamEvent{
		Type:     "response.completed",
		Response: &inner,
	})
	return "response.completed", body, err
}
