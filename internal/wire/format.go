// Package wire identifies the JSON wire formats spoken by AI completion
// APIs and classifies inbound request payloads into one of them.
package wire

import "strings"

// Format tags the JSON shape of a chat-completion request or response.
// A request and the upstream call serving it may carry different formats.
type Format string

const (
	FormatOpenAI          Format = "openai-chat"
	FormatOpenAIResponses Format = "openai-responses"
	FormatClaude          Format = "claude-messages"
	FormatGemini          Format = "gemini"
	FormatGeminiCLI       Format = "gemini-cli"
	FormatAntigravity     Format = "antigravity"
)

func (f Format) String() string { return string(f) }

// FromString normalizes a format name; unknown names map to FormatOpenAI.
func FromString(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "openai-chat", "openai_chat":
		return FormatOpenAI
	case "openai-responses", "responses":
		return FormatOpenAIResponses
	case "claude", "claude-messages", "anthropic":
		return FormatClaude
	case "gemini":
		return FormatGemini
	case "gemini-cli":
		return FormatGeminiCLI
	case "antigravity":
		return FormatAntigravity
	default:
		return FormatOpenAI
	}
}

// IsGeminiFamily reports whether the format uses Gemini response shapes
// (candidates[], parts[], usageMetadata).
func (f Format) IsGeminiFamily() bool {
	return f == FormatGemini || f == FormatGeminiCLI || f == FormatAntigravity
}
