// Package convo tracks clarification conversations: matching inbound replies
// to open conversations and driving each conversation's lifecycle.
package convo

import (
	"log/slog"
	"regexp"

	"github.com/kalenko/taskpilot/internal/state"
)

// Mail clients mangle subjects unpredictably (prefix stripping, re-encoding,
// bracket removal), so correlation degrades through progressively weaker
// signals instead of failing outright.
var (
	markerPattern = regexp.MustCompile(`\[Context Request: ([a-f0-9-]{36})\]`)
	uuidPattern   = regexp.MustCompile(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`)
	replyPattern  = regexp.MustCompile(`(?i)^\s*re:`)
)

// ExtractConversationID pulls a conversation identifier out of an email's
// subject or, for replies, its body. It tries the exact bracketed marker
// first, then a bare UUID (brackets stripped by a client), then both
// patterns inside the body when the subject looks like a reply. Returns ""
// when nothing matches.
func ExtractConversationID(subject, body string) string {
	if m := markerPattern.FindStringSubmatch(subject); m != nil {
		return m[1]
	}
	if m := uuidPattern.FindString(subject); m != "" {
		return m
	}
	if replyPattern.MatchString(subject) && body != "" {
		if m := markerPattern.FindStringSubmatch(body); m != nil {
			return m[1]
		}
		if m := uuidPattern.FindString(body); m != "" {
			return m
		}
	}
	return ""
}

// Correlate determines which open conversation, if any, an inbound message
// belongs to. First match wins:
//
//  1. an embedded conversation ID that exists in the store,
//  2. for reply-looking subjects, the sender's most recent unresolved
//     conversation,
//  3. any unresolved conversation for the sender (malformed replies that
//     lost both the ID and the "Re:" prefix),
//  4. none — the message is treated as brand new.
//
// Fallbacks 2 and 3 can misattribute a reply when one sender has several
// conversations open at once; there is no stronger signal available to
// disambiguate.
func Correlate(st *state.State, subject, body, senderEmail string) string {
	if id := ExtractConversationID(subject, body); id != "" {
		if _, ok := st.PendingConversations[id]; ok {
			slog.Info("correlated reply by conversation id", "conversation_id", id)
			return id
		}
		slog.Warn("email carries unknown conversation id, falling through", "conversation_id", id)
	}

	if replyPattern.MatchString(subject) {
		if c := st.MostRecentConversationFor(senderEmail); c != nil {
			slog.Info("correlated reply to most recent conversation", "conversation_id", c.ID, "sender", senderEmail)
			return c.ID
		}
	}

	if c := st.AnyUnresolvedConversationFor(senderEmail); c != nil {
		slog.Info("correlated by sender with open conversation", "conversation_id", c.ID, "sender", senderEmail)
		return c.ID
	}

	return ""
}
