// Package mail holds the inbound message model, reply and attachment text
// extraction, and the outbound email surface of the assistant.
package mail

import (
	"context"
	"strings"
)

// Attachment is a file attached to an inbound message.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Message is one inbound email, already decoded from the wire format.
type Message struct {
	ID          string
	From        string
	FromName    string
	Subject     string
	TextBody    string
	HTMLBody    string
	Date        string // YYYY-MM-DD
	Attachments []Attachment
}

// PlainText returns the best plain-text rendering of the message body. When
// the message carries no text part, the HTML part is converted.
func (m Message) PlainText() string {
	if strings.TrimSpace(m.TextBody) != "" {
		return m.TextBody
	}
	if m.HTMLBody != "" {
		return HTMLToText(m.HTMLBody)
	}
	return ""
}

// Inbox is the inbound side of the mail boundary. Implementations fetch
// unread messages and acknowledge them.
type Inbox interface {
	FetchUnread(ctx context.Context) ([]Message, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Sender is the outbound side of the mail boundary.
type Sender interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}
