package mail

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
)

// SMTPSender delivers outbound email through a plain SMTP submission
// endpoint with AUTH PLAIN over STARTTLS.
type SMTPSender struct {
	addr     string // host:port
	host     string
	username string
	password string
	from     string
}

// NewSMTPSender creates a sender for the given submission endpoint.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		addr:     fmt.Sprintf("%s:%d", host, port),
		host:     host,
		username: username,
		password: password,
		from:     from,
	}
}

// Send delivers a multipart/alternative message with text and HTML parts.
// The context is consulted before dialing; smtp.SendMail itself does not
// support cancellation mid-session.
func (s *SMTPSender) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMIME(s.from, to, subject, textBody, htmlBody)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	if err := smtp.SendMail(s.addr, auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("sending email to %s: %w", to, err)
	}
	slog.Info("sent email", "to", to, "subject", subject)
	return nil
}

const mimeBoundary = "taskpilot-alt-boundary"

func buildMIME(from, to, subject, textBody, htmlBody string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	sb.WriteString("MIME-Version: 1.0\r\n")

	if htmlBody == "" {
		sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		sb.WriteString(textBody)
		return []byte(sb.String())
	}

	fmt.Fprintf(&sb, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)
	fmt.Fprintf(&sb, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", mimeBoundary, textBody)
	fmt.Fprintf(&sb, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", mimeBoundary, htmlBody)
	fmt.Fprintf(&sb, "--%s--\r\n", mimeBoundary)
	return []byte(sb.String())
}
