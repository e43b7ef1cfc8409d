package sseutil

import (
	"bytes"
	"strings"
	"testing"
)

func TestJSONPayload(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{`data: {"a":1}`, `{"a":1}`},
		{`data:{"a":1}`, `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{`data: [DONE]`, ""},
		{`[DONE]`, ""},
		{`event: message_start`, ""},
		{``, ""},
		{`data: `, ""},
		{`: comment`, ""},
	}
	for _, tc := range cases {
		got := JSONPayload([]byte(tc.line))
		if tc.want == "" {
			if got != nil {
				t.Errorf("JSONPayload(%q) = %s, want nil", tc.line, got)
			}
			continue
		}
		if string(got) != tc.want {
			t.Errorf("JSONPayload(%q) = %s, want %s", tc.line, got, tc.want)
		}
	}
}

func TestIsDone(t *testing.T) {
	if !IsDone([]byte("data: [DONE]")) || !IsDone([]byte("[DONE]")) {
		t.Error("done sentinel not detected")
	}
	if IsDone([]byte(`data: {"done":true}`)) {
		t.Error("JSON payload misdetected as done")
	}
}

func TestEventName(t *testing.T) {
	if got := EventName([]byte("event: content_block_delta")); got != "content_block_delta" {
		t.Errorf("EventName = %q", got)
	}
	if got := EventName([]byte("data: {}")); got != "" {
		t.Errorf("EventName on data line = %q", got)
	}
}

func TestEnvelopes(t *testing.T) {
	body := []byte(`{"contents":[{"parts":[{"text":"hi"}]}]}`)

	wrapped := WrapEnvelope(body)
	if !bytes.HasPrefix(wrapped, []byte(`{"request":`)) {
		t.Errorf("WrapEnvelope = %s", wrapped)
	}
	if got := UnwrapRequestEnvelope(wrapped); !bytes.Equal(got, body) {
		t.Errorf("request round trip = %s", got)
	}
	if got := UnwrapRequestEnvelope(body); !bytes.Equal(got, body) {
		t.Error("bare bodies must pass through unwrap untouched")
	}

	resp := WrapResponseEnvelope(body)
	if !bytes.HasPrefix(resp, []byte(`{"response":`)) {
		t.Errorf("WrapResponseEnvelope = %s", resp)
	}
	if got := UnwrapEnvelope(resp); !bytes.Equal(got, body) {
		t.Errorf("response round trip = %s", got)
	}

	if got := WrapEnvelope([]byte("not json")); string(got) != "{}" {
		t.Errorf("invalid payload wrap = %s", got)
	}
}

func TestFrames(t *testing.T) {
	if got := string(Frame([]byte(`{"a":1}`))); got != "data: {\"a\":1}\n\n" {
		t.Errorf("Frame = %q", got)
	}
	if got := string(NamedFrame("ping", []byte("{}"))); got != "event: ping\ndata: {}\n\n" {
		t.Errorf("NamedFrame = %q", got)
	}
	if got := string(DoneFrame()); got != "data: [DONE]\n\n" {
		t.Errorf("DoneFrame = %q", got)
	}
}

func TestScannerHandlesLongLines(t *testing.T) {
	long := strings.Repeat("x", 1<<20)
	sc := NewScanner(strings.NewReader("data: " + long + "\n"))
	if !sc.Scan() {
		t.Fatalf("scan failed: %v", sc.Err())
	}
	if len(sc.Bytes()) != len("data: ")+len(long) {
		t.Errorf("line truncated to %d bytes", len(sc.Bytes()))
	}
}
