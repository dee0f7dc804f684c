package mailbox

import "time"

// Message is one entry in a worker's queue.
type Message struct {
	ID          string     `json:"message_id"`
	From        string     `json:"from_worker"`
	To          string     `json:"to_worker"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"created_at"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// IsDelivered reports whether the recipient acknowledged the message.
func (m Message) IsDelivered() bool {
	return m.DeliveredAt != nil
}

// IsNotified reports whether the recipient was notified of the message.
func (m Message) IsNotified() bool {
	return m.NotifiedAt != nil
}

// Mark names a timestamp a message can be marked with.
type Mark string

const (
	MarkNotified  Mark = "notified"
	MarkDelivered Mark = "delivered"
)

// queue is the persisted per-worker document.
type queue struct {
	Messages []Message `json:"messages"`
}
