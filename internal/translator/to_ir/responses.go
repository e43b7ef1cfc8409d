package to_ir

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/translator/ir"
)

// ParseResponsesRequest converts an OpenAI Responses API payload to IR.
// The input[] array mixes plain messages with function_call and
// function_call_output items.
func ParseResponsesRequest(payload []byte) (*ir.Request, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("responses request: invalid JSON")
	}
	doc := gjson.ParseBytes(payload)

	req := &ir.Request{
		Model:  doc.Get("model").String(),
		Stream: doc.Get("stream").Bool(),
		System: doc.Get("instructions").String(),
	}
	if v := doc.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := doc.Get("top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := doc.Get("max_output_tokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	if reasoning := doc.Get("reasoning"); reasoning.Exists() {
		effort := reasoning.Get("effort").String()
		if effort != "" && effort != "none" {
			req.Thinking = &ir.ThinkingConfig{IncludeThoughts: true, Effort: effort}
		}
	}
	parseToolNameMap(doc, req)

	for _, tool := range doc.Get("tools").Array() {
		if tool.Get("type").String() != "function" {
			continue
		}
		req.Tools = append(req.Tools, ir.ToolDefinition{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
			Parameters:  toMap(tool.Get("parameters")),
		})
	}

	input := doc.Get("input")
	if input.Type == gjson.String {
		req.Messages = append(req.Messages, ir.Message{
			Role:    ir.RoleUser,
			Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: input.String()}},
		})
		return req, nil
	}

	for _, item := range input.Array() {
		switch item.Get("type").String() {
		case "function_call":
			req.Messages = append(req.Messages, ir.Message{
				Role: ir.RoleAssistant,
				ToolCalls: []ir.ToolCall{{
					ID:   item.Get("call_id").String(),
					Name: item.Get("name").String(),
					Args: item.Get("arguments").String(),
				}},
			})
		case "function_call_output":
			req.Messages = append(req.Messages, ir.Message{
				Role: ir.RoleTool,
				Content: []ir.ContentPart{{
					Type: ir.ContentTypeToolResult,
					ToolResult: &ir.ToolResultPart{
						ToolCallID: item.Get("call_id").String(),
						Result:     textOf(item.Get("output")),
					},
				}},
			})
		case "message", "":
			role := ir.Role(item.Get("role").String())
			if role == "" {
				role = ir.RoleUser
			}
			if role == ir.RoleSystem || role == "developer" {
				req.System = joinText(req.System, responsesContentText(item.Get("content")))
				continue
			}
			msg := ir.Message{Role: role}
			content := item.Get("content")
			if content.Type == gjson.String {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: content.String()})
			} else {
				for _, part := range content.Array() {
					switch part.Get("type").String() {
					case "input_text", "output_text", "text":
						msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: part.Get("text").String()})
					case "input_image":
						msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: imageFromDataURL(part.Get("image_url").String())})
					}
				}
			}
			req.Messages = append(req.Messages, msg)
		}
	}

	return req, nil
}

func responsesContentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	out := ""
	for _, part := range content.Array() {
		if t := part.Get("text"); t.Exists() {
			out = joinText(out, t.String())
		}
	}
	return out
}
