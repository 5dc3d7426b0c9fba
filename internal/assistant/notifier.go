package assistant

import (
	"context"

	"github.com/kalenko/taskpilot/internal/mail"
	"github.com/kalenko/taskpilot/internal/task"
	"github.com/kalenko/taskpilot/internal/verify"
)

// MailNotifier renders conversation lifecycle emails and hands them to a
// Sender. It implements convo.Notifier.
type MailNotifier struct {
	sender mail.Sender
}

// NewMailNotifier creates a MailNotifier.
func NewMailNotifier(sender mail.Sender) *MailNotifier {
	return &MailNotifier{sender: sender}
}

// SendConfirmation sends the post-filing summary email.
func (n *MailNotifier) SendConfirmation(ctx context.Context, to string, tasks []task.Record) error {
	email := mail.Confirmation(tasks)
	return n.sender.Send(ctx, to, email.Subject, email.Text, email.HTML)
}

// SendContextRequest sends a clarification request covering the tasks still
// pending in a conversation.
func (n *MailNotifier) SendContextRequest(ctx context.Context, to string, pending []task.Record, conversationID string, readyCount int) error {
	questions := verify.Questions(pending)
	email := mail.ClarificationRequest(questions, len(pending), readyCount, conversationID)
	return n.sender.Send(ctx, to, email.Subject, email.Text, email.HTML)
}
