package mail

import (
	"context"
	"sync"
)

// QueueInbox is an in-memory Inbox fed through the management API. Messages
// injected with Add stay queued until a pass marks them read.
type QueueInbox struct {
	mu       sync.Mutex
	messages []Message
}

// NewQueueInbox creates an empty queue.
func NewQueueInbox() *QueueInbox {
	return &QueueInbox{}
}

// Add enqueues a message for the next pass.
func (q *QueueInbox) Add(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
}

// FetchUnread returns queued messages not yet acknowledged, in arrival order.
func (q *QueueInbox) FetchUnread(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.messages))
	copy(out, q.messages)
	return out, nil
}

// MarkRead acknowledges a message and drops it from the queue. Acknowledged
// messages leave no residual bookkeeping, so the queue holds no state for
// messages it no longer carries.
func (q *QueueInbox) MarkRead(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.messages[:0]
	for _, m := range q.messages {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	q.messages = kept
	return nil
}
