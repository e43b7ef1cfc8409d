// Package stream re-frames upstream SSE output into the client's wire
// format. One Translator owns one request lifecycle: upstream data lines
// feed in, client-ready frames come out, and a single completion record
// fires when the stream ends however it ends.
package stream

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/sseutil"
	"github.com/modelgate/modelgate/internal/translator/from_ir"
	"github.com/modelgate/modelgate/internal/translator/ir"
	"github.com/modelgate/modelgate/internal/translator/to_ir"
	"github.com/modelgate/modelgate/internal/wire"
)

// Completion is the single end-of-stream accounting record.
type Completion struct {
	FinishReason ir.FinishReason
	Usage        ir.Usage
	TextLen      int
	ReasoningLen int
	ToolCalls    int
	FirstTokenAt time.Time
	LastTokenAt  time.Time
	Err          error
}

type accTool struct {
	call ir.ToolCall
	args strings.Builder
}

// Translator converts one upstream SSE stream into client frames.
type Translator struct {
	source wire.Format
	target wire.Format
	model  string

	// Restores tool-call names the sanitizer mangled (sanitized -> original).
	nameMap map[string]string

	// Same-wire streams forward upstream chunks verbatim instead of
	// re-rendering them through the IR.
	passthrough bool

	claudeState *to_ir.ClaudeChunkState

	text      strings.Builder
	reasoning strings.Builder
	tools     []*accTool
	toolIndex map[int]int
	usage     ir.Usage
	hasUsage  bool
	finish    ir.FinishReason

	firstTokenAt time.Time
	lastTokenAt  time.Time

	out outState

	onComplete   func(Completion)
	completeOnce sync.Once
	finished     bool
}

// outState tracks target-side framing across frames of one stream.
type outState struct {
	started bool

	openAIMeta  from_ir.OpenAIChunkMeta
	geminiMeta  from_ir.GeminiChunkMeta
	toolsOpened map[int]bool

	// Claude target block bookkeeping.
	blockIndex   int
	openBlock    string // "", "text", "thinking", "tool"
	blockForTool map[int]int

	// Responses target item ids.
	msgItemID       string
	reasoningItemID string
	toolItemIDs     map[int]string
}

// New returns a Translator for one stream. onComplete fires exactly once,
// from whichever of Finish or Fail runs first.
func New(source, target wire.Format, model string, nameMap map[string]string, onComplete func(Completion)) *Translator {
	t := &Translator{
		source:      source,
		target:      target,
		model:       model,
		nameMap:     nameMap,
		passthrough: sameWire(source, target),
		toolIndex:   make(map[int]int),
		finish:      ir.FinishReasonStop,
		onComplete:  onComplete,
		out: outState{
			openAIMeta: from_ir.OpenAIChunkMeta{
				ID:      "chatcmpl-" + uuid.NewString(),
				Model:   model,
				Created: time.Now().Unix(),
			},
			geminiMeta: from_ir.GeminiChunkMeta{
				Model:      model,
				ResponseID: uuid.NewString(),
			},
			toolsOpened:  make(map[int]bool),
			blockForTool: make(map[int]int),
			toolItemIDs:  make(map[int]string),
		},
	}
	if source == wire.FormatClaude {
		t.claudeState = to_ir.NewClaudeChunkState()
	}
	return t
}

// Feed decodes one upstream SSE data payload and returns zero or more
// client frames, each already framed with data:/event: lines. Same-wire
// streams forward the upstream chunk verbatim.
func (t *Translator) Feed(payload []byte) ([][]byte, error) {
	events, err := t.parse(payload)
	if err != nil {
		return nil, err
	}
	if t.passthrough {
		return t.forward(payload, events)
	}
	return t.FeedEvents(events)
}

// forward emits one upstream chunk unchanged, modulo the cloudcode envelope
// and tool-name restoration. The accumulators still run on the decoded
// events so the completion record and the collapse body stay identical to
// the translating path.
func (t *Translator) forward(payload []byte, events []ir.Event) ([][]byte, error) {
	for i := range events {
		if err := t.record(&events[i]); err != nil {
			return nil, err
		}
	}
	out := payload
	if t.source.IsGeminiFamily() {
		out = sseutil.UnwrapEnvelope(out)
	}
	out = t.restoreToolNames(out)
	switch t.target {
	case wire.FormatGeminiCLI, wire.FormatAntigravity:
		return [][]byte{sseutil.Frame(sseutil.WrapResponseEnvelope(out))}, nil
	case wire.FormatClaude, wire.FormatOpenAIResponses:
		// Both dialects name the SSE event after the payload type.
		return [][]byte{sseutil.NamedFrame(gjson.GetBytes(out, "type").String(), out)}, nil
	default:
		return [][]byte{sseutil.Frame(out)}, nil
	}
}

// restoreToolNames rewrites sanitized tool-call names inside a raw chunk.
func (t *Translator) restoreToolNames(payload []byte) []byte {
	if len(t.nameMap) == 0 {
		return payload
	}
	set := func(path, name string) {
		if original, ok := t.nameMap[name]; ok && original != "" {
			payload, _ = sjson.SetBytes(payload, path, original)
		}
	}
	switch {
	case t.source.IsGeminiFamily():
		for i, part := range gjson.GetBytes(payload, "candidates.0.content.parts").Array() {
			set("candidates.0.content.parts."+strconv.Itoa(i)+".functionCall.name", part.Get("functionCall.name").String())
		}
	case t.source == wire.FormatClaude:
		set("content_block.name", gjson.GetBytes(payload, "content_block.name").String())
	default:
		for i, call := range gjson.GetBytes(payload, "choices.0.delta.tool_calls").Array() {
			set("choices.0.delta.tool_calls."+strconv.Itoa(i)+".function.name", call.Get("function.name").String())
		}
	}
	return payload
}

// FeedEvents consumes already-decoded events. The synthetic streaming path
// uses this to replay a whole-body completion as a stream.
func (t *Translator) FeedEvents(events []ir.Event) ([][]byte, error) {
	// A synthetic replay has no upstream chunks to forward; it always
	// renders, even on a same-wire pair.
	t.passthrough = false
	var frames [][]byte
	for i := range events {
		rendered, err := t.consume(&events[i])
		if err != nil {
			return frames, err
		}
		frames = append(frames, rendered...)
	}
	return frames, nil
}

// EventsFromResponse decomposes a whole-body completion into the event
// sequence a stream of it would have produced.
func EventsFromResponse(resp *ir.Response) []ir.Event {
	var events []ir.Event
	for _, part := range resp.Message.Content {
		switch part.Type {
		case ir.ContentTypeReasoning:
			if part.Reasoning != "" {
				events = append(events, ir.Event{Type: ir.EventTypeReasoning, Reasoning: part.Reasoning})
			}
		case ir.ContentTypeText:
			if part.Text != "" {
				events = append(events, ir.Event{Type: ir.EventTypeToken, Content: part.Text})
			}
		}
	}
	for i := range resp.Message.ToolCalls {
		call := resp.Message.ToolCalls[i]
		events = append(events, ir.Event{Type: ir.EventTypeToolCall, ToolCall: &call, ToolCallIndex: i})
	}
	events = append(events, ir.Event{Type: ir.EventTypeFinish, FinishReason: resp.FinishReason, Usage: resp.Usage})
	return events
}

// sameWire mirrors the whole-body passthrough rule: identical formats, or
// any two members of the Gemini family, share a chunk shape.
func sameWire(a, b wire.Format) bool {
	if a == b {
		return true
	}
	return a.IsGeminiFamily() && b.IsGeminiFamily()
}

func (t *Translator) parse(payload []byte) ([]ir.Event, error) {
	switch t.source {
	case wire.FormatClaude:
		return to_ir.ParseClaudeChunk(payload, t.claudeState)
	case wire.FormatGemini, wire.FormatGeminiCLI, wire.FormatAntigravity:
		return to_ir.ParseGeminiChunk(payload)
	default:
		return to_ir.ParseOpenAIChunk(payload)
	}
}

func (t *Translator) consume(ev *ir.Event) ([][]byte, error) {
	if err := t.record(ev); err != nil {
		return nil, err
	}
	switch ev.Type {
	case ir.EventTypeToken:
		if ev.Content == "" {
			return nil, nil
		}
		return t.renderText(ev.Content)
	case ir.EventTypeReasoning:
		if ev.Reasoning == "" {
			return nil, nil
		}
		return t.renderReasoning(ev.Reasoning)
	case ir.EventTypeToolCall:
		call := t.remapped(ev.ToolCall)
		return t.renderToolDelta(t.toolIndex[ev.ToolCallIndex], &call, call.Args)
	case ir.EventTypeToolCallDelta:
		call := t.remapped(ev.ToolCall)
		return t.renderToolDelta(t.toolIndex[ev.ToolCallIndex], &call, call.PartialArgs)
	}
	return nil, nil
}

// record runs the accumulators for one event without rendering. Both the
// translating path and the passthrough share it.
func (t *Translator) record(ev *ir.Event) error {
	now := time.Now()
	switch ev.Type {
	case ir.EventTypeToken:
		if ev.Content != "" {
			t.markToken(now)
			t.text.WriteString(ev.Content)
		}
	case ir.EventTypeReasoning:
		if ev.Reasoning != "" {
			t.markToken(now)
			t.reasoning.WriteString(ev.Reasoning)
		}
	case ir.EventTypeToolCall:
		t.markToken(now)
		call := t.remapped(ev.ToolCall)
		t.recordTool(ev.ToolCallIndex, &call, call.Args)
	case ir.EventTypeToolCallDelta:
		t.markToken(now)
		call := t.remapped(ev.ToolCall)
		t.recordTool(ev.ToolCallIndex, &call, call.PartialArgs)
	case ir.EventTypeFinish:
		if ev.Usage != nil {
			t.usage = *ev.Usage
			t.usage.Normalize()
			t.hasUsage = true
		}
		// FinishReasonUnknown marks a usage-only bookkeeping frame.
		if ev.FinishReason != ir.FinishReasonUnknown {
			t.finish = ev.FinishReason
		}
	case ir.EventTypeError:
		return ev.Error
	}
	return nil
}

func (t *Translator) markToken(now time.Time) {
	if t.firstTokenAt.IsZero() {
		t.firstTokenAt = now
	}
	t.lastTokenAt = now
}

func (t *Translator) remapped(call *ir.ToolCall) ir.ToolCall {
	if call == nil {
		return ir.ToolCall{}
	}
	out := *call
	if original, ok := t.nameMap[out.Name]; ok && original != "" {
		out.Name = original
	}
	return out
}

// recordTool accumulates a tool call under its upstream index and returns
// the dense local index used for client framing.
func (t *Translator) recordTool(upstreamIdx int, call *ir.ToolCall, argsDelta string) int {
	idx, ok := t.toolIndex[upstreamIdx]
	if !ok {
		idx = len(t.tools)
		t.toolIndex[upstreamIdx] = idx
		t.tools = append(t.tools, &accTool{call: ir.ToolCall{ID: call.ID, Name: call.Name}})
	}
	acc := t.tools[idx]
	if acc.call.ID == "" && call.ID != "" {
		acc.call.ID = call.ID
	}
	if acc.call.Name == "" && call.Name != "" {
		acc.call.Name = call.Name
	}
	acc.args.WriteString(argsDelta)
	return idx
}

// Finish closes the stream normally: terminal frames render in the client
// format and the completion record fires with the best-known usage.
func (t *Translator) Finish() ([][]byte, error) {
	if t.finished {
		return nil, nil
	}
	t.finished = true
	if t.passthrough {
		// The upstream's own terminal chunks were forwarded verbatim;
		// only the [DONE] sentinel gets re-emitted because the pump
		// swallows non-JSON lines.
		t.fire(nil)
		if t.target == wire.FormatOpenAI {
			return [][]byte{sseutil.DoneFrame()}, nil
		}
		return nil, nil
	}
	frames, err := t.renderFinish()
	t.fire(nil)
	return frames, err
}

// Fail ends the stream after an upstream error. No terminal frames render;
// the completion record still fires so accounting never goes missing.
func (t *Translator) Fail(err error) {
	t.finished = true
	t.fire(err)
}

func (t *Translator) fire(err error) {
	t.completeOnce.Do(func() {
		if t.onComplete == nil {
			return
		}
		usage := t.usage
		usage.Normalize()
		t.onComplete(Completion{
			FinishReason: t.effectiveFinish(),
			Usage:        usage,
			TextLen:      t.text.Len(),
			ReasoningLen: t.reasoning.Len(),
			ToolCalls:    len(t.tools),
			FirstTokenAt: t.firstTokenAt,
			LastTokenAt:  t.lastTokenAt,
			Err:          err,
		})
	})
}

func (t *Translator) effectiveFinish() ir.FinishReason {
	if len(t.tools) > 0 && t.finish == ir.FinishReasonStop {
		return ir.FinishReasonToolCalls
	}
	return t.finish
}

// Usage returns the usage recorded so far.
func (t *Translator) Usage() (ir.Usage, bool) {
	return t.usage, t.hasUsage
}

// Response assembles the accumulated stream into a whole-body IR completion.
// This is the SSE collapse path for backends that only speak streaming.
func (t *Translator) Response() *ir.Response {
	msg := ir.Message{Role: ir.RoleAssistant}
	if r := t.reasoning.String(); r != "" {
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: r})
	}
	if s := t.text.String(); s != "" {
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: s})
	}
	for _, acc := range t.tools {
		call := acc.call
		call.Args = acc.args.String()
		if call.Args == "" {
			call.Args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, call)
	}
	usage := t.usage
	usage.Normalize()
	return &ir.Response{
		Model:        t.model,
		Message:      msg,
		FinishReason: t.effectiveFinish(),
		Usage:        &usage,
	}
}
