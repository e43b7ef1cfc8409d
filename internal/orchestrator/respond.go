package orchestrator

import (
	"context"
	"io"
	"time"

	"github.com/modelgate/modelgate/internal/connpool"
	"github.com/modelgate/modelgate/internal/executor"
	log "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/sseutil"
	"github.com/modelgate/modelgate/internal/translator"
	"github.com/modelgate/modelgate/internal/translator/ir"
	"github.com/modelgate/modelgate/internal/translator/stream"
	"github.com/modelgate/modelgate/internal/usage"
	"github.com/modelgate/modelgate/internal/wire"
)

// Upstream bodies on the whole-JSON path are bounded; streams are not.
const maxResponseBody = 64 << 20

// respond dispatches a successful upstream exchange to one of four paths,
// keyed by what the client asked for and what the upstream delivered:
// stream-to-stream re-framing, stream-to-JSON collapse, JSON-to-stream
// synthesis, and whole-body translation.
func (o *Orchestrator) respond(ctx context.Context, req Request, route Route, creds connpool.Credentials, parsed *ir.Request, target wire.Format, effStream bool, resp *executor.Response) (*Reply, error) {
	record := o.completionRecorder(req, route, creds, parsed)

	switch {
	case req.Stream && resp.IsStream():
		tr := stream.New(target, req.Source, req.Model, parsed.ToolNameMap, record)
		return &Reply{Stream: func(w FrameWriter) error {
			return pumpStream(ctx, resp, tr, w)
		}}, nil

	case !req.Stream && resp.IsStream():
		return o.collapseStream(req, parsed, target, resp, record)

	case req.Stream && !resp.IsStream():
		return o.synthesizeStream(req, parsed, target, resp, record)

	default:
		return o.translateBody(req, target, resp, record)
	}
}

// completionRecorder builds the single-fire accounting callback. Missing
// upstream usage is estimated from the request and accumulated output.
func (o *Orchestrator) completionRecorder(req Request, route Route, creds connpool.Credentials, parsed *ir.Request) func(stream.Completion) {
	started := time.Now()
	return func(c stream.Completion) {
		if o.tracker == nil {
			return
		}
		rec := usage.Record{
			Backend:         route.Backend,
			ConnectionID:    creds.ID,
			Model:           route.Model,
			SourceFormat:    req.Source.String(),
			RequestedAt:     started,
			Failed:          c.Err != nil,
			Streamed:        req.Stream,
			InputTokens:     c.Usage.PromptTokens,
			OutputTokens:    c.Usage.CompletionTokens,
			ReasoningTokens: c.Usage.ThoughtsTokens,
			CachedTokens:    c.Usage.CachedTokens,
			TotalTokens:     c.Usage.TotalTokens,
			DurationMs:      time.Since(started).Milliseconds(),
			FinishReason:    string(c.FinishReason),
		}
		if !c.FirstTokenAt.IsZero() {
			rec.FirstTokenMs = c.FirstTokenAt.Sub(started).Milliseconds()
		}
		if rec.TotalTokens == 0 && c.Err == nil {
			rec.InputTokens = usage.EstimatePromptTokens(parsed)
			rec.OutputTokens = usage.EstimateCompletionTokens(c.TextLen, c.ReasoningLen)
			rec.TotalTokens = rec.InputTokens + rec.OutputTokens
			rec.Estimated = true
		}
		o.tracker.Append(rec)
	}
}

// pumpStream forwards upstream SSE chunks through the translator one at a
// time; nothing buffers the whole body.
func pumpStream(ctx context.Context, resp *executor.Response, tr *stream.Translator, w FrameWriter) error {
	defer resp.Body.Close()

	scanner := sseutil.NewScanner(resp.Body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			tr.Fail(ctx.Err())
			return ctx.Err()
		}
		payload := sseutil.JSONPayload(scanner.Bytes())
		if payload == nil {
			continue
		}
		frames, err := tr.Feed(payload)
		if err != nil {
			tr.Fail(err)
			return err
		}
		for _, frame := range frames {
			if werr := w.WriteFrame(frame); werr != nil {
				tr.Fail(werr)
				return werr
			}
		}
	}
	if err := scanner.Err(); err != nil {
		tr.Fail(err)
		return err
	}
	frames, err := tr.Finish()
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if werr := w.WriteFrame(frame); werr != nil {
			return werr
		}
	}
	return nil
}

// collapseStream consumes an upstream SSE body whole and renders a single
// JSON reply, for backends that only speak streaming.
func (o *Orchestrator) collapseStream(req Request, parsed *ir.Request, target wire.Format, resp *executor.Response, record func(stream.Completion)) (*Reply, error) {
	defer resp.Body.Close()

	tr := stream.New(target, req.Source, req.Model, parsed.ToolNameMap, record)
	scanner := sseutil.NewScanner(resp.Body)
	for scanner.Scan() {
		payload := sseutil.JSONPayload(scanner.Bytes())
		if payload == nil {
			continue
		}
		if _, err := tr.Feed(payload); err != nil {
			tr.Fail(err)
			return nil, &HTTPError{Status: 502, Message: "unparseable upstream stream: " + err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		tr.Fail(err)
		return nil, &HTTPError{Status: 502, Message: "upstream stream failed: " + err.Error()}
	}
	irResp := tr.Response()
	if _, err := tr.Finish(); err != nil {
		log.Debugf("orchestrator: discarding terminal frames on collapse: %v", err)
	}
	body, err := translator.RenderResponse(req.Source, irResp, req.Model)
	if err != nil {
		return nil, &HTTPError{Status: 502, Message: "cannot render collapsed response: " + err.Error()}
	}
	return &Reply{Body: body}, nil
}

// synthesizeStream replays a whole-body upstream answer as a client stream.
func (o *Orchestrator) synthesizeStream(req Request, parsed *ir.Request, target wire.Format, resp *executor.Response, record func(stream.Completion)) (*Reply, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &HTTPError{Status: 502, Message: "reading upstream response failed: " + err.Error()}
	}
	irResp, err := translator.ParseResponse(target, raw)
	if err != nil {
		return nil, &HTTPError{Status: 502, Message: "unparseable upstream response: " + err.Error()}
	}

	tr := stream.New(target, req.Source, req.Model, parsed.ToolNameMap, record)
	frames, err := tr.FeedEvents(stream.EventsFromResponse(irResp))
	if err != nil {
		tr.Fail(err)
		return nil, &HTTPError{Status: 502, Message: "cannot restream upstream response: " + err.Error()}
	}
	terminal, err := tr.Finish()
	if err != nil {
		return nil, &HTTPError{Status: 502, Message: "cannot restream upstream response: " + err.Error()}
	}
	frames = append(frames, terminal...)

	return &Reply{Stream: func(w FrameWriter) error {
		for _, frame := range frames {
			if werr := w.WriteFrame(frame); werr != nil {
				return werr
			}
		}
		return nil
	}}, nil
}

// translateBody is the plain JSON-to-JSON path. Accounting parses the
// upstream body a second time, best-effort.
func (o *Orchestrator) translateBody(req Request, target wire.Format, resp *executor.Response, record func(stream.Completion)) (*Reply, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &HTTPError{Status: 502, Message: "reading upstream response failed: " + err.Error()}
	}
	out, err := translator.TranslateResponse(target, req.Source, req.Model, raw)
	if err != nil {
		return nil, &HTTPError{Status: 502, Message: "cannot translate upstream response: " + err.Error()}
	}

	if irResp, perr := translator.ParseResponse(target, raw); perr == nil {
		comp := stream.Completion{FinishReason: irResp.FinishReason}
		if irResp.Usage != nil {
			comp.Usage = *irResp.Usage
		}
		record(comp)
	} else {
		record(stream.Completion{FinishReason: ir.FinishReasonUnknown})
	}
	return &Reply{Body: out}, nil
}
