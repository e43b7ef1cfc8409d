package wire

import "github.com/tidwall/gjson"

// Fields only ever set by OpenAI-style clients. Checked before any Claude
// probe: Claude clients never send these, so their presence resolves
// ambiguous multimodal payloads to OpenAI.
var openAIOnlyFields = []string{
	"stream_options",
	"response_format",
	"logprobs",
	"top_logprobs",
	"n",
	"frequency_penalty",
	"presence_penalty",
	"logit_bias",
	"user",
}

// Claude content-block shapes that cannot appear in an OpenAI payload.
var claudeBlockProbes = []string{
	`messages.#(content.#(type=="tool_use"))`,
	`messages.#(content.#(type=="tool_result"))`,
	`messages.#(content.#(source.type=="base64"))`,
}

// Classify inspects a parsed request payload and returns its wire format.
// The probe order is a deliberate precedence chain, most specific first;
// reordering it changes how ambiguous payloads resolve. Unclassifiable
// input always falls through to FormatOpenAI, never an error.
func Classify(payload []byte) Format {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return FormatOpenAI
	}
	doc := gjson.ParseBytes(payload)

	// Responses API is the only format with a top-level input[] array.
	if input := doc.Get("input"); input.Exists() && input.IsArray() {
		return FormatOpenAIResponses
	}

	// Antigravity wraps a Gemini body under "request" with a marker field.
	if req := doc.Get("request"); req.Exists() && req.Get("contents").Exists() {
		if doc.Get("userAgent").Exists() || doc.Get("requestType").Exists() || req.Get("clientMetadata").Exists() {
			return FormatAntigravity
		}
		return FormatGeminiCLI
	}

	// Bare Gemini generateContent body.
	if contents := doc.Get("contents"); contents.Exists() && contents.IsArray() {
		return FormatGemini
	}

	// OpenAI-only knobs win over any Claude shape below.
	for _, field := range openAIOnlyFields {
		if doc.Get(field).Exists() {
			return FormatOpenAI
		}
	}

	if doc.Get("messages").Exists() {
		if doc.Get("anthropic_version").Exists() {
			return FormatClaude
		}
		if system := doc.Get("system"); system.Exists() && (system.IsArray() || system.Type == gjson.String) {
			return FormatClaude
		}
		if doc.Get("max_tokens").Exists() && doc.Get("thinking").Exists() {
			return FormatClaude
		}
		for _, probe := range claudeBlockProbes {
			if doc.Get(probe).Exists() {
				return FormatClaude
			}
		}
	}

	return FormatOpenAI
}
