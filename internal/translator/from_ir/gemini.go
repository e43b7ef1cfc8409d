package from_ir

import (
	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/json"
	"github.com/modelgate/modelgate/internal/translator/ir"
)

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiToolGroup `json:"tools,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	Thought          bool                `json:"thought,omitempty"`
	InlineData       *geminiInlineData   `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResp struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiToolGroup struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenConfig struct {
	Temperature     *float64              `json:"temperature,omitempty"`
	TopP            *float64              `json:"topP,omitempty"`
	TopK            *int                  `json:"topK,omitempty"`
	MaxOutputTokens *int                  `json:"maxOutputTokens,omitempty"`
	StopSequences   []string              `json:"stopSequences,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  *int `json:"thinkingBudget,omitempty"`
}

// ToGeminiRequest renders an IR request as a Gemini generateContent body.
// The model name travels in the URL on this wire, not in the payload.
func ToGeminiRequest(req *ir.Request) ([]byte, error) {
	out := geminiRequest{}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		group := geminiToolGroup{}
		for _, tool := range req.Tools {
			group.FunctionDeclarations = append(group.FunctionDeclarations, geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		out.Tools = []geminiToolGroup{group}
	}
	gc := &geminiGenConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		TopK:            req.TopK,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   req.StopSequences,
	}
	if req.Thinking != nil && req.Thinking.IncludeThoughts {
		tc := &geminiThinkingConfig{IncludeThoughts: true}
		if req.Thinking.Budget > 0 {
			budget := req.Thinking.Budget
			tc.ThinkingBudget = &budget
		}
		gc.ThinkingConfig = tc
	}
	out.GenerationConfig = gc
	// functionResponse parts must carry the name of the call they answer,
	// but tool results only reference the call id.
	callNames := map[string]string{}
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" {
				callNames[tc.ID] = tc.Name
			}
		}
	}
	for i := range req.Messages {
		content := renderGeminiContent(&req.Messages[i], callNames)
		if len(content.Parts) == 0 {
			continue
		}
		out.Contents = append(out.Contents, content)
	}
	return json.Marshal(out)
}

func renderGeminiContent(msg *ir.Message, callNames map[string]string) geminiContent {
	role := "user"
	if msg.Role == ir.RoleAssistant {
		role = "model"
	}
	out := geminiContent{Role: role}
	for _, part := range msg.Content {
		switch part.Type {
		case ir.ContentTypeText:
			if part.Text != "" {
				out.Parts = append(out.Parts, geminiPart{Text: part.Text})
			}
		case ir.ContentTypeReasoning:
			if role == "model" && part.Reasoning != "" {
				out.Parts = append(out.Parts, geminiPart{Text: part.Reasoning, Thought: true})
			}
		case ir.ContentTypeImage:
			if part.Image.Data != "" {
				out.Parts = append(out.Parts, geminiPart{InlineData: &geminiInlineData{
					MimeType: part.Image.MimeType,
					Data:     part.Image.Data,
				}})
			}
		case ir.ContentTypeToolResult:
			resp := map[string]any{}
			if json.Valid([]byte(part.ToolResult.Result)) {
				var decoded any
				if err := json.Unmarshal([]byte(part.ToolResult.Result), &decoded); err == nil {
					if m, ok := decoded.(map[string]any); ok {
						resp = m
					} else {
						resp = map[string]any{"result": decoded}
					}
				}
			} else {
				resp = map[string]any{"result": part.ToolResult.Result}
			}
			name := callNames[part.ToolResult.ToolCallID]
			if name == "" {
				name = part.ToolResult.ToolCallID
			}
			out.Parts = append(out.Parts, geminiPart{FunctionResponse: &geminiFunctionResp{
				ID:       part.ToolResult.ToolCallID,
				Name:     name,
				Response: resp,
			}})
		}
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Args != "" {
			_ = json.Unmarshal([]byte(tc.Args), &args)
		}
		out.Parts = append(out.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
			ID:   tc.ID,
			Name: tc.Name,
			Args: args,
		}})
	}
	return out
}

type geminiResponse struct {
	Candidates    []geminiCandidate  `json:"candidates"`
	UsageMetadata *geminiUsage       `json:"usageMetadata,omitempty"`
	ModelVersion  string             `json:"modelVersion,omitempty"`
	ResponseID    string             `json:"responseId,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsage struct {
	PromptTokenCount        int64 `json:"promptTokenCount"`
	CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
	TotalTokenCount         int64 `json:"totalTokenCount"`
	ThoughtsTokenCount      int64 `json:"thoughtsTokenCount,omitempty"`
	CachedContentTokenCount int64 `json:"cachedContentTokenCount,omitempty"`
}

// ToGeminiResponse renders an IR completion as a generateContent response.
func ToGeminiResponse(resp *ir.Response, model string) ([]byte, error) {
	content := geminiContent{Role: "model"}
	for _, part := range resp.Message.Content {
		switch part.Type {
		case ir.ContentTypeText:
			if part.Text != "" {
				content.Parts = append(content.Parts, geminiPart{Text: part.Text})
			}
		case ir.ContentTypeReasoning:
			if part.Reasoning != "" {
				content.Parts = append(content.Parts, geminiPart{Text: part.Reasoning, Thought: true})
			}
		}
	}
	for _, tc := range resp.Message.ToolCalls {
		args := map[string]any{}
		if tc.Args != "" {
			_ = json.Unmarshal([]byte(tc.Args), &args)
		}
		content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
			ID:   tc.ID,
			Name: tc.Name,
			Args: args,
		}})
	}
	out := geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      content,
			FinishReason: GeminiFinishReason(resp.FinishReason),
		}},
		ModelVersion: model,
		ResponseID:   uuid.NewString(),
	}
	if resp.Usage != nil {
		out.UsageMetadata = &geminiUsage{
			PromptTokenCount:        resp.Usage.PromptTokens,
			CandidatesTokenCount:    resp.Usage.CompletionTokens,
			TotalTokenCount:         resp.Usage.TotalTokens,
			ThoughtsTokenCount:      resp.Usage.ThoughtsTokens,
			CachedContentTokenCount: resp.Usage.CachedTokens,
		}
	}
	return json.Marshal(out)
}

// GeminiFinishReason maps a unified finish reason to Gemini vocabulary.
// Tool-call terminations render as STOP, matching what the Gemini wire
// itself emits for function calls.
func GeminiFinishReason(reason ir.FinishReason) string {
	switch reason {
	case ir.FinishReasonLength:
		return "MAX_TOKENS"
	case ir.FinishReasonContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

// GeminiChunkMeta fixes the model/responseId pair shared by every frame of
// one stream.
type GeminiChunkMeta struct {
	Model      string
	ResponseID string
}

// ToGeminiChunk renders one streamed frame. finishReason is empty for
// intermediate frames; usage rides on whichever frame has it.
func ToGeminiChunk(meta GeminiChunkMeta, parts []geminiPart, finishReason string, usage *ir.Usage) ([]byte, error) {
	out := geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      geminiContent{Role: "model", Parts: parts},
			FinishReason: finishReason,
		}},
		ModelVersion: meta.Model,
		ResponseID:   meta.ResponseID,
	}
	if usage != nil {
		out.UsageMetadata = &geminiUsage{
			PromptTokenCount:        usage.PromptTokens,
			CandidatesTokenCount:    usage.CompletionTokens,
			TotalTokenCount:         usage.TotalTokens,
			ThoughtsTokenCount:      usage.ThoughtsTokens,
			CachedContentTokenCount: usage.CachedTokens,
		}
	}
	return json.Marshal(out)
}

// GeminiTextChunk renders a text delta frame.
func GeminiTextChunk(meta GeminiChunkMeta, text string) ([]byte, error) {
	return ToGeminiChunk(meta, []geminiPart{{Text: text}}, "", nil)
}

// GeminiThoughtChunk renders a thought delta frame.
func GeminiThoughtChunk(meta GeminiChunkMeta, thought string) ([]byte, error) {
	return ToGeminiChunk(meta, []geminiPart{{Text: thought, Thought: true}}, "", nil)
}

// GeminiToolCallChunk renders a functionCall frame. Gemini tool calls are
// whole, never argument deltas.
func GeminiToolCallChunk(meta GeminiChunkMeta, call *ir.ToolCall) ([]byte, error) {
	args := map[string]any{}
	if call.Args != "" {
		_ = json.Unmarshal([]byte(call.Args), &args)
	}
	return ToGeminiChunk(meta, []geminiPart{{FunctionCall: &geminiFunctionCall{
		ID:   call.ID,
		Name: call.Name,
		Args: args,
	}}}, "", nil)
}

// GeminiFinishChunk renders the terminal frame with finishReason and usage.
func GeminiFinishChunk(meta GeminiChunkMeta, reason ir.FinishReason, usage *ir.Usage) ([]byte, error) {
	return ToGeminiChunk(meta, []geminiPart{}, GeminiFinishReason(reason), usage)
}
