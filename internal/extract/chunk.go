// Package extract turns free-form email text into structured task records
// using an LLM, chunking long bodies so each model call stays focused.
package extract

import (
	"regexp"
	"strings"
)

// DefaultMaxChunkLines caps a chunk when the text has no section headers to
// split on.
const DefaultMaxChunkLines = 20

// Section headers look like "Project Alpha:" or "- Completed Activities:",
// optionally bulleted. Splitting on them keeps each project's updates in one
// model call.
var headerPattern = regexp.MustCompile(`^\s*[-*]?\s*[A-Z][A-Za-z0-9 &()'\-]+:`)

// Chunk splits email text into extraction-sized pieces. Text is split at
// section headers; when no headers are present and the text exceeds maxLines,
// it is cut into fixed-size line windows instead. Empty chunks are dropped.
func Chunk(text string, maxLines int) []string {
	if maxLines <= 0 {
		maxLines = DefaultMaxChunkLines
	}

	normalized := strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")

	var chunks []string
	var current []string
	for _, line := range lines {
		if headerPattern.MatchString(line) && len(current) > 0 {
			chunks = append(chunks, strings.TrimSpace(strings.Join(current, "\n")))
			current = current[:0]
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, "\n")))
	}

	if len(chunks) == 1 && len(lines) > maxLines {
		chunks = chunks[:0]
		for i := 0; i < len(lines); i += maxLines {
			end := i + maxLines
			if end > len(lines) {
				end = len(lines)
			}
			chunks = append(chunks, strings.TrimSpace(strings.Join(lines[i:end], "\n")))
		}
	}

	var out []string
	for _, c := range chunks {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
