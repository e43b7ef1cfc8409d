package usage

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/modelgate/modelgate/internal/translator/ir"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

func countTokens(text string) int64 {
	if text == "" {
		return 0
	}
	if c := getCodec(); c != nil {
		if n, err := c.Count(text); err == nil {
			return int64(n)
		}
	}
	// Rough heuristic when the tokenizer is unavailable.
	return int64(len(text)/4) + 1
}

// EstimatePromptTokens approximates the input token count of a request.
// Used when the upstream response carried no usage block; the resulting
// record is flagged as estimated.
func EstimatePromptTokens(req *ir.Request) int64 {
	if req == nil {
		return 0
	}
	var total int64
	total += countTokens(req.System)
	for _, msg := range req.Messages {
		// Small per-message overhead for role and framing tokens.
		total += 4
		for _, part := range msg.Content {
			total += countTokens(part.Text)
			total += countTokens(part.Reasoning)
			if part.ToolResult != nil {
				total += countTokens(part.ToolResult.Result)
			}
		}
		for _, tc := range msg.ToolCalls {
			total += countTokens(tc.Name)
			total += countTokens(tc.Args)
		}
	}
	for _, tool := range req.Tools {
		total += countTokens(tool.Name)
		total += countTokens(tool.Description)
	}
	return total
}

// EstimateCompletionTokens approximates output tokens from accumulated
// text and reasoning lengths.
func EstimateCompletionTokens(textLen, reasoningLen int) int64 {
	chars := textLen + reasoningLen
	if chars == 0 {
		return 0
	}
	return int64(chars/4) + 1
}
