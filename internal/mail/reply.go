package mail

import (
	"regexp"
	"strings"
)

// Markers that start quoted thread history in a reply. Localized "wrote:"
// forms cover the clients seen in practice.
var quotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^>`),
	regexp.MustCompile(`(?i)^On .* wrote:$`),
	regexp.MustCompile(`(?i)^From:`),
	regexp.MustCompile(`(?i)^Sent:`),
	regexp.MustCompile(`(?i)^To:`),
	regexp.MustCompile(`(?i)^Subject:`),
	regexp.MustCompile(`^-{3,}`),
	regexp.MustCompile(`^_{3,}`),
	regexp.MustCompile(`^\*{3,}`),
	regexp.MustCompile(`(?i)^Le .* a écrit :$`),
	regexp.MustCompile(`(?i)^El .* escribió:$`),
	regexp.MustCompile(`(?i)^Am .* schrieb .*:$`),
}

func isQuoteStart(line string) bool {
	line = strings.TrimSpace(line)
	for _, p := range quotePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// ExtractReply strips quoted thread history from a reply body, returning only
// the text the sender wrote. When no quote marker is found the whole body
// comes back; when stripping would leave nothing, progressively weaker
// heuristics keep whatever looks like original content rather than returning
// an empty reply.
func ExtractReply(body string) string {
	if body == "" {
		return body
	}

	lines := strings.Split(body, "\n")

	cut := len(lines)
	for i, line := range lines {
		if isQuoteStart(line) {
			cut = i
			break
		}
	}
	reply := strings.TrimSpace(strings.Join(lines[:cut], "\n"))
	if reply != "" {
		return reply
	}

	// Quote marker on the first line. Scan from the bottom for the last line
	// of original content and keep everything above it.
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !isQuoteStart(line) {
			reply = strings.TrimSpace(strings.Join(lines[:i+1], "\n"))
			break
		}
	}
	if reply != "" {
		return reply
	}

	// Last resort: the first few lines up to a quote marker.
	head := lines
	if len(head) > 10 {
		head = head[:10]
	}
	var kept []string
	for _, line := range head {
		if isQuoteStart(line) {
			break
		}
		kept = append(kept, line)
	}
	if reply = strings.TrimSpace(strings.Join(kept, "\n")); reply != "" {
		return reply
	}
	return body
}
