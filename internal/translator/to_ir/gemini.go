package to_ir

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/json"
	"github.com/modelgate/modelgate/internal/translator/ir"
)

// ParseGeminiRequest converts a generateContent payload to IR. Antigravity
// and gemini-cli bodies must be unwrapped from their envelope first.
func ParseGeminiRequest(payload []byte) (*ir.Request, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("gemini request: invalid JSON")
	}
	doc := gjson.ParseBytes(payload)

	req := &ir.Request{Model: doc.Get("model").String()}
	req.System = systemInstructionText(doc)

	genCfg := doc.Get("generationConfig")
	if v := genCfg.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := genCfg.Get("topP"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := genCfg.Get("topK"); v.Exists() {
		n := int(v.Int())
		req.TopK = &n
	}
	if v := genCfg.Get("maxOutputTokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	for _, s := range genCfg.Get("stopSequences").Array() {
		req.StopSequences = append(req.StopSequences, s.String())
	}
	if thinking := genCfg.Get("thinkingConfig"); thinking.Exists() {
		req.Thinking = &ir.ThinkingConfig{
			IncludeThoughts: thinking.Get("includeThoughts").Bool(),
			Budget:          int(thinking.Get("thinkingBudget").Int()),
		}
	}

	for _, tool := range doc.Get("tools").Array() {
		for _, decl := range tool.Get("functionDeclarations").Array() {
			req.Tools = append(req.Tools, ir.ToolDefinition{
				Name:        decl.Get("name").String(),
				Description: decl.Get("description").String(),
				Parameters:  toMap(decl.Get("parameters")),
			})
		}
	}

	for _, content := range doc.Get("contents").Array() {
		role := ir.RoleUser
		if content.Get("role").String() == "model" {
			role = ir.RoleAssistant
		}
		msg := ir.Message{Role: role}
		for _, part := range content.Get("parts").Array() {
			switch {
			case part.Get("text").Exists():
				if part.Get("thought").Bool() {
					msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: part.Get("text").String()})
				} else {
					msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: part.Get("text").String()})
				}
			case part.Get("inlineData").Exists():
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: &ir.ImagePart{
					MimeType: part.Get("inlineData.mimeType").String(),
					Data:     part.Get("inlineData.data").String(),
				}})
			case part.Get("functionCall").Exists():
				call := part.Get("functionCall")
				msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
					ID:   call.Get("id").String(),
					Name: call.Get("name").String(),
					Args: rawOrEmptyObject(call.Get("args")),
				})
			case part.Get("functionResponse").Exists():
				fr := part.Get("functionResponse")
				msg.Content = append(msg.Content, ir.ContentPart{
					Type: ir.ContentTypeToolResult,
					ToolResult: &ir.ToolResultPart{
						ToolCallID: fr.Get("id").String(),
						Result:     rawOrEmptyObject(fr.Get("response")),
					},
				})
			}
		}
		req.Messages = append(req.Messages, msg)
	}

	return req, nil
}

// ParseGeminiResponse converts a generateContent response to IR, separating
// thought parts from normal text and rebuilding tool calls from
// functionCall parts.
func ParseGeminiResponse(body []byte) (*ir.Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("gemini response: invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	candidate := doc.Get("candidates.0")
	if !candidate.Exists() {
		return nil, fmt.Errorf("gemini response: missing candidates")
	}

	resp := &ir.Response{
		Model:   doc.Get("modelVersion").String(),
		Message: ir.Message{Role: ir.RoleAssistant},
	}
	for _, part := range candidate.Get("content.parts").Array() {
		appendGeminiPart(&resp.Message, part)
	}
	resp.FinishReason = MapGeminiFinishReason(candidate.Get("finishReason").String(), len(resp.Message.ToolCalls) > 0)
	if usage := doc.Get("usageMetadata"); usage.Exists() {
		resp.Usage = parseGeminiUsage(usage)
	}
	return resp, nil
}

// ParseGeminiChunk converts one streamGenerateContent SSE payload to events.
func ParseGeminiChunk(payload []byte) ([]ir.Event, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, nil
	}
	if !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("gemini chunk: invalid JSON")
	}
	doc := gjson.Parse(trimmed)
	// Cloud Code streams wrap each chunk in a response envelope.
	if inner := doc.Get("response"); inner.Exists() && inner.IsObject() {
		doc = inner
	}
	candidate := doc.Get("candidates.0")

	var events []ir.Event
	hasToolCall := false
	toolIndex := 0
	for _, part := range candidate.Get("content.parts").Array() {
		switch {
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			events = append(events, ir.Event{
				Type:          ir.EventTypeToolCall,
				ToolCallIndex: toolIndex,
				ToolCall: &ir.ToolCall{
					ID:   call.Get("id").String(),
					Name: call.Get("name").String(),
					Args: rawOrEmptyObject(call.Get("args")),
				},
			})
			toolIndex++
			hasToolCall = true
		case part.Get("text").Exists():
			if part.Get("thought").Bool() {
				events = append(events, ir.Event{Type: ir.EventTypeReasoning, Reasoning: part.Get("text").String()})
			} else {
				events = append(events, ir.Event{Type: ir.EventTypeToken, Content: part.Get("text").String()})
			}
		}
	}

	if reason := candidate.Get("finishReason").String(); reason != "" {
		finish := ir.Event{Type: ir.EventTypeFinish, FinishReason: MapGeminiFinishReason(reason, hasToolCall)}
		if usage := doc.Get("usageMetadata"); usage.Exists() {
			finish.Usage = parseGeminiUsage(usage)
		}
		events = append(events, finish)
	} else if usage := doc.Get("usageMetadata"); usage.Exists() && len(events) > 0 {
		events[len(events)-1].Usage = parseGeminiUsage(usage)
	}
	return events, nil
}

func appendGeminiPart(msg *ir.Message, part gjson.Result) {
	switch {
	case part.Get("functionCall").Exists():
		call := part.Get("functionCall")
		msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
			ID:   call.Get("id").String(),
			Name: call.Get("name").String(),
			Args: rawOrEmptyObject(call.Get("args")),
		})
	case part.Get("text").Exists():
		if part.Get("thought").Bool() {
			msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: part.Get("text").String()})
		} else {
			msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: part.Get("text").String()})
		}
	case part.Get("inlineData").Exists():
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: &ir.ImagePart{
			MimeType: part.Get("inlineData.mimeType").String(),
			Data:     part.Get("inlineData.data").String(),
		}})
	}
}

func parseGeminiUsage(usage gjson.Result) *ir.Usage {
	u := &ir.Usage{
		PromptTokens:     usage.Get("promptTokenCount").Int(),
		CompletionTokens: usage.Get("candidatesTokenCount").Int(),
		TotalTokens:      usage.Get("totalTokenCount").Int(),
		ThoughtsTokens:   usage.Get("thoughtsTokenCount").Int(),
		CachedTokens:     usage.Get("cachedContentTokenCount").Int(),
	}
	u.Normalize()
	return u
}

// MapGeminiFinishReason maps Gemini finish reasons onto the unified set.
// STOP remaps to tool_calls when the candidate carried function calls,
// since Gemini does not use a distinct reason for that case.
func MapGeminiFinishReason(reason string, hasToolCalls bool) ir.FinishReason {
	switch strings.ToUpper(reason) {
	case "STOP":
		if hasToolCalls {
			return ir.FinishReasonToolCalls
		}
		return ir.FinishReasonStop
	case "MAX_TOKENS":
		return ir.FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return ir.FinishReasonContentFilter
	case "":
		return ir.FinishReasonUnknown
	default:
		return ir.FinishReasonStop
	}
}

func rawOrEmptyObject(v gjson.Result) string {
	if !v.Exists() || v.Raw == "" {
		return "{}"
	}
	if !json.Valid([]byte(v.Raw)) {
		return "{}"
	}
	return v.Raw
}

func systemInstructionText(doc gjson.Result) string {
	si := doc.Get("systemInstruction")
	if !si.Exists() {
		si = doc.Get("system_instruction")
	}
	if !si.Exists() {
		return ""
	}
	var sb strings.Builder
	for _, part := range si.Get("parts").Array() {
		if t := part.Get("text"); t.Exists() {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(t.String())
		}
	}
	return sb.String()
}
