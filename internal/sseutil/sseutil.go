// Package sseutil provides shared SSE (Server-Sent Events) processing
// utilities. It is imported by both the executor and stream packages
// without creating circular dependencies.
package sseutil

import (
	"bufio"
	"bytes"
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Pre-allocated byte slices for zero-copy comparisons
var (
	doneMarker  = []byte("[DONE]")
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
)

// JSONPayload extracts the JSON payload from an SSE line.
// Returns nil if the line is empty, [DONE], an event: line, or does not
// start a JSON object.
func JSONPayload(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	if bytes.Equal(trimmed, doneMarker) {
		return nil
	}
	if bytes.HasPrefix(trimmed, eventPrefix) {
		return nil
	}
	if bytes.HasPrefix(trimmed, dataPrefix) {
		trimmed = bytes.TrimSpace(trimmed[len(dataPrefix):])
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	return trimmed
}

// IsDone reports whether the SSE line is the [DONE] sentinel.
func IsDone(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	if bytes.HasPrefix(trimmed, dataPrefix) {
		trimmed = bytes.TrimSpace(trimmed[len(dataPrefix):])
	}
	return bytes.Equal(trimmed, doneMarker)
}

// EventName extracts the event name from an event: line, or "".
func EventName(line []byte) string {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, eventPrefix) {
		return ""
	}
	return string(bytes.TrimSpace(trimmed[len(eventPrefix):]))
}

// WrapEnvelope wraps a Gemini JSON payload in a request envelope for the
// cloudcode wire.
// Input:  {"contents": [...], "generationConfig": {...}}
// Output: {"request": {"contents": [...], "generationConfig": {...}}}
// Returns an empty JSON object for empty or invalid payloads.
func WrapEnvelope(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return []byte("{}")
	}
	wrapped, err := sjson.SetRawBytes([]byte("{}"), "request", trimmed)
	if err != nil {
		return []byte("{}")
	}
	return wrapped
}

// WrapResponseEnvelope wraps a Gemini response body the way the cloudcode
// wire frames its own replies: {"response": {...}}.
func WrapResponseEnvelope(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return []byte("{}")
	}
	wrapped, err := sjson.SetRawBytes([]byte("{}"), "response", trimmed)
	if err != nil {
		return []byte("{}")
	}
	return wrapped
}

// UnwrapRequestEnvelope returns the inner body of a cloudcode request
// envelope: {"request": {...}} -> inner object bytes. Anything else passes
// through untouched.
func UnwrapRequestEnvelope(rawJSON []byte) []byte {
	if len(rawJSON) == 0 {
		return rawJSON
	}
	parsed := gjson.ParseBytes(rawJSON)
	if request := parsed.Get("request"); request.Exists() && request.IsObject() {
		return []byte(request.Raw)
	}
	return rawJSON
}

// UnwrapEnvelope returns the inner content for envelope-wrapped responses.
// {"response": {...}} -> inner object bytes; anything else passes through.
func UnwrapEnvelope(rawJSON []byte) []byte {
	if len(rawJSON) == 0 {
		return rawJSON
	}
	parsed := gjson.ParseBytes(rawJSON)
	if response := parsed.Get("response"); response.Exists() && response.IsObject() {
		return []byte(response.Raw)
	}
	return rawJSON
}

// Frame renders one data frame with the trailing blank line.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, dataPrefix...)
	out = append(out, ' ')
	out = append(out, payload...)
	out = append(out, '\n', '\n')
	return out
}

// NamedFrame renders an event:/data: frame pair with the trailing blank line.
func NamedFrame(event string, payload []byte) []byte {
	out := make([]byte, 0, len(event)+len(payload)+16)
	out = append(out, eventPrefix...)
	out = append(out, ' ')
	out = append(out, event...)
	out = append(out, '\n')
	out = append(out, dataPrefix...)
	out = append(out, ' ')
	out = append(out, payload...)
	out = append(out, '\n', '\n')
	return out
}

// DoneFrame is the terminal frame of OpenAI-style streams.
func DoneFrame() []byte {
	return []byte("data: [DONE]\n\n")
}

const maxLineSize = 20 * 1024 * 1024

// NewScanner returns a line scanner sized for large SSE payloads. Inline
// images ride inside single data: lines, so the cap is generous.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return sc
}
