package llm

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")

// ExtractJSON returns the JSON document embedded in an LLM reply. Models
// routinely wrap JSON in markdown fences or surround it with prose even when
// asked for raw output; this strips the wrapping and validates what is left.
// Returns "" when no valid JSON can be found.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}
	if gjson.Valid(content) {
		return content
	}

	// Last resort: take the outermost braces or brackets and hope the prose
	// lives outside them.
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(content, pair[0])
		end := strings.LastIndex(content, pair[1])
		if start >= 0 && end > start {
			candidate := content[start : end+1]
			if gjson.Valid(candidate) {
				return candidate
			}
		}
	}
	return ""
}

// Field returns the string value at path inside an LLM JSON reply, tolerating
// markdown wrapping. Returns "" when the reply has no valid JSON or the path
// is absent.
func Field(content, path string) string {
	doc := ExtractJSON(content)
	if doc == "" {
		return ""
	}
	return gjson.Get(doc, path).String()
}
