package mail

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// blockTags end with a line break when converting to text.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "blockquote": true,
}

// HTMLToText renders an HTML email part as plain text, keeping rough block
// structure and skipping script and style content. Malformed markup is
// tolerated; the tokenizer consumes whatever it can.
func HTMLToText(src string) string {
	tz := html.NewTokenizer(strings.NewReader(src))

	var sb strings.Builder
	skipDepth := 0
	for {
		switch tz.Next() {
		case html.ErrorToken:
			text := blankLines.ReplaceAllString(sb.String(), "\n\n")
			return strings.TrimSpace(text)
		case html.TextToken:
			if skipDepth == 0 {
				sb.WriteString(string(tz.Text()))
			}
		case html.StartTagToken:
			name, _ := tz.TagName()
			switch string(name) {
			case "script", "style":
				skipDepth++
			case "br":
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tz.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockTags[tag] {
				sb.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := tz.TagName()
			if string(name) == "br" {
				sb.WriteByte('\n')
			}
		}
	}
}
