package stream

import (
	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/sseutil"
	"github.com/modelgate/modelgate/internal/translator/from_ir"
	"github.com/modelgate/modelgate/internal/translator/ir"
	"github.com/modelgate/modelgate/internal/wire"
)

// Target-format frame rendering. Each render* method returns fully framed
// SSE bytes ready to write to the client, including any start frames owed
// before the first delta.

func (t *Translator) renderText(delta string) ([][]byte, error) {
	switch t.target {
	case wire.FormatClaude:
		frames, err := t.claudeEnsureBlock("text")
		if err != nil {
			return nil, err
		}
		event, body, err := from_ir.ClaudeTextDelta(t.out.blockIndex, delta)
		if err != nil {
			return nil, err
		}
		return append(frames, sseutil.NamedFrame(event, body)), nil
	case wire.FormatOpenAIResponses:
		frames, err := t.responsesEnsureStarted()
		if err != nil {
			return nil, err
		}
		if t.out.msgItemID == "" {
			t.out.msgItemID = "msg_" + uuid.NewString()
		}
		event, body, err := from_ir.ResponsesTextDelta(t.out.msgItemID, delta)
		if err != nil {
			return nil, err
		}
		return append(frames, sseutil.NamedFrame(event, body)), nil
	case wire.FormatGemini, wire.FormatGeminiCLI, wire.FormatAntigravity:
		body, err := from_ir.GeminiTextChunk(t.out.geminiMeta, delta)
		if err != nil {
			return nil, err
		}
		return [][]byte{t.geminiFrame(body)}, nil
	default:
		body, err := from_ir.OpenAITextChunk(t.out.openAIMeta, delta)
		if err != nil {
			return nil, err
		}
		return [][]byte{sseutil.Frame(body)}, nil
	}
}

func (t *Translator) renderReasoning(delta string) ([][]byte, error) {
	switch t.target {
	case wire.FormatClaude:
		frames, err := t.claudeEnsureBlock("thinking")
		if err != nil {
			return nil, err
		}
		event, body, err := from_ir.ClaudeThinkingDelta(t.out.blockIndex, delta)
		if err != nil {
			return nil, err
		}
		return append(frames, sseutil.NamedFrame(event, body)), nil
	case wire.FormatOpenAIResponses:
		frames, err := t.responsesEnsureStarted()
		if err != nil {
			return nil, err
		}
		if t.out.reasoningItemID == "" {
			t.out.reasoningItemID = "rs_" + uuid.NewString()
		}
		event, body, err := from_ir.ResponsesReasoningDelta(t.out.reasoningItemID, delta)
		if err != nil {
			return nil, err
		}
		return append(frames, sseutil.NamedFrame(event, body)), nil
	case wire.FormatGemini, wire.FormatGeminiCLI, wire.FormatAntigravity:
		body, err := from_ir.GeminiThoughtChunk(t.out.geminiMeta, delta)
		if err != nil {
			return nil, err
		}
		return [][]byte{t.geminiFrame(body)}, nil
	default:
		body, err := from_ir.OpenAIReasoningChunk(t.out.openAIMeta, delta)
		if err != nil {
			return nil, err
		}
		return [][]byte{sseutil.Frame(body)}, nil
	}
}

func (t *Translator) renderToolDelta(idx int, call *ir.ToolCall, argsDelta string) ([][]byte, error) {
	switch t.target {
	case wire.FormatClaude:
		var frames [][]byte
		blockIdx, open := t.out.blockForTool[idx]
		if !open {
			closing, err := t.claudeCloseBlock()
			if err != nil {
				return nil, err
			}
			frames = append(frames, closing...)
			started, err := t.claudeStarted()
			if err != nil {
				return nil, err
			}
			frames = append(frames, started...)
			t.out.blockIndex++
			blockIdx = t.out.blockIndex
			t.out.blockForTool[idx] = blockIdx
			t.out.openBlock = "tool"
			acc := t.tools[idx]
			event, body, err := from_ir.ClaudeToolBlockStart(blockIdx, acc.call.ID, acc.call.Name)
			if err != nil {
				return nil, err
			}
			frames = append(frames, sseutil.NamedFrame(event, body))
		}
		if argsDelta != "" {
			event, body, err := from_ir.ClaudeInputJSONDelta(blockIdx, argsDelta)
			if err != nil {
				return nil, err
			}
			frames = append(frames, sseutil.NamedFrame(event, body))
		}
		return frames, nil
	case wire.FormatOpenAIResponses:
		frames, err := t.responsesEnsureStarted()
		if err != nil {
			return nil, err
		}
		itemID, ok := t.out.toolItemIDs[idx]
		if !ok {
			itemID = "fc_" + uuid.NewString()
			t.out.toolItemIDs[idx] = itemID
		}
		if argsDelta == "" {
			return frames, nil
		}
		event, body, err := from_ir.ResponsesArgumentsDelta(itemID, argsDelta)
		if err != nil {
			return nil, err
		}
		return append(frames, sseutil.NamedFrame(event, body)), nil
	case wire.FormatGemini, wire.FormatGeminiCLI, wire.FormatAntigravity:
		// Gemini tool calls go out whole; deltas buffer until Finish.
		return nil, nil
	default:
		out := ir.ToolCall{PartialArgs: argsDelta}
		if !t.out.toolsOpened[idx] {
			t.out.toolsOpened[idx] = true
			acc := t.tools[idx]
			out.ID = acc.call.ID
			out.Name = acc.call.Name
		}
		if out.ID == "" && out.Name == "" && argsDelta == "" {
			return nil, nil
		}
		body, err := from_ir.OpenAIToolCallChunk(t.out.openAIMeta, idx, &out)
		if err != nil {
			return nil, err
		}
		return [][]byte{sseutil.Frame(body)}, nil
	}
}

func (t *Translator) renderFinish() ([][]byte, error) {
	usage := t.usage
	usage.Normalize()
	reason := t.effectiveFinish()

	switch t.target {
	case wire.FormatClaude:
		frames, err := t.claudeStarted()
		if err != nil {
			return nil, err
		}
		closing, err := t.claudeCloseBlock()
		if err != nil {
			return nil, err
		}
		frames = append(frames, closing...)
		event, body, err := from_ir.ClaudeMessageDelta(reason, &usage)
		if err != nil {
			return nil, err
		}
		frames = append(frames, sseutil.NamedFrame(event, body))
		event, body, err = from_ir.ClaudeMessageStop()
		if err != nil {
			return nil, err
		}
		return append(frames, sseutil.NamedFrame(event, body)), nil
	case wire.FormatOpenAIResponses:
		frames, err := t.responsesEnsureStarted()
		if err != nil {
			return nil, err
		}
		event, body, err := from_ir.ResponsesCompleted(t.Response(), t.model)
		if err != nil {
			return nil, err
		}
		return append(frames, sseutil.NamedFrame(event, body)), nil
	case wire.FormatGemini, wire.FormatGeminiCLI, wire.FormatAntigravity:
		var frames [][]byte
		for _, acc := range t.tools {
			call := acc.call
			call.Args = acc.args.String()
			body, err := from_ir.GeminiToolCallChunk(t.out.geminiMeta, &call)
			if err != nil {
				return nil, err
			}
			frames = append(frames, t.geminiFrame(body))
		}
		body, err := from_ir.GeminiFinishChunk(t.out.geminiMeta, reason, &usage)
		if err != nil {
			return nil, err
		}
		return append(frames, t.geminiFrame(body)), nil
	default:
		body, err := from_ir.OpenAIFinishChunk(t.out.openAIMeta, reason, &usage)
		if err != nil {
			return nil, err
		}
		return [][]byte{sseutil.Frame(body), sseutil.DoneFrame()}, nil
	}
}

// claudeStarted emits the message_start frame once.
func (t *Translator) claudeStarted() ([][]byte, error) {
	if t.out.started {
		return nil, nil
	}
	t.out.started = true
	t.out.blockIndex = -1
	event, body, err := from_ir.ClaudeMessageStart(t.model)
	if err != nil {
		return nil, err
	}
	return [][]byte{sseutil.NamedFrame(event, body)}, nil
}

// claudeEnsureBlock opens a block of the wanted kind, closing whatever
// block is open first.
func (t *Translator) claudeEnsureBlock(kind string) ([][]byte, error) {
	frames, err := t.claudeStarted()
	if err != nil {
		return nil, err
	}
	if t.out.openBlock == kind {
		return frames, nil
	}
	closing, err := t.claudeCloseBlock()
	if err != nil {
		return nil, err
	}
	frames = append(frames, closing...)
	t.out.blockIndex++
	t.out.openBlock = kind
	var event string
	var body []byte
	if kind == "thinking" {
		event, body, err = from_ir.ClaudeThinkingBlockStart(t.out.blockIndex)
	} else {
		event, body, err = from_ir.ClaudeTextBlockStart(t.out.blockIndex)
	}
	if err != nil {
		return nil, err
	}
	return append(frames, sseutil.NamedFrame(event, body)), nil
}

func (t *Translator) claudeCloseBlock() ([][]byte, error) {
	if t.out.openBlock == "" {
		return nil, nil
	}
	event, body, err := from_ir.ClaudeBlockStop(t.out.blockIndex)
	if err != nil {
		return nil, err
	}
	t.out.openBlock = ""
	return [][]byte{sseutil.NamedFrame(event, body)}, nil
}

// responsesEnsureStarted emits the response.created frame once.
func (t *Translator) responsesEnsureStarted() ([][]byte, error) {
	if t.out.started {
		return nil, nil
	}
	t.out.started = true
	event, body, err := from_ir.ResponsesCreated(t.model)
	if err != nil {
		return nil, err
	}
	return [][]byte{sseutil.NamedFrame(event, body)}, nil
}

// geminiFrame frames one Gemini-family chunk, envelope-wrapped for the
// cloudcode wire variants.
func (t *Translator) geminiFrame(body []byte) []byte {
	if t.target == wire.FormatGeminiCLI || t.target == wire.FormatAntigravity {
		body = sseutil.WrapResponseEnvelope(body)
	}
	return sseutil.Frame(body)
}
