package to_ir

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/translator/ir"
)

// textOf flattens a content value that may be a plain string or an array
// of text blocks into one string.
func textOf(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var sb strings.Builder
		for _, part := range content.Array() {
			if part.Type == gjson.String {
				sb.WriteString(part.String())
				continue
			}
			if t := part.Get("text"); t.Exists() {
				sb.WriteString(t.String())
			}
		}
		return sb.String()
	default:
		return ""
	}
}

func joinText(existing, extra string) string {
	if existing == "" {
		return extra
	}
	if extra == "" {
		return existing
	}
	return existing + "\n" + extra
}

func toMap(v gjson.Result) map[string]any {
	if m, ok := v.Value().(map[string]any); ok {
		return m
	}
	return nil
}

// imageFromDataURL splits a data: URL into mime type and base64 payload;
// plain URLs pass through on the URL field.
func imageFromDataURL(url string) *ir.ImagePart {
	if strings.HasPrefix(url, "data:") {
		rest := url[len("data:"):]
		if idx := strings.Index(rest, ";base64,"); idx >= 0 {
			return &ir.ImagePart{MimeType: rest[:idx], Data: rest[idx+len(";base64,"):]}
		}
	}
	return &ir.ImagePart{URL: url}
}
