// Package mailbox implements per-worker message queues for a team.
//
// Each worker (and the leader) has one queue document under the team's
// mailbox directory. Messages are append-only: marking a message notified or
// delivered sets a timestamp and never removes it, so the full history stays
// retrievable with includeDelivered.
//
//	mb := mailbox.New(store, mailbox.WithBus(bus))
//	msg, err := mb.Send(ctx, "alpha", "worker-1", "worker-2", "parser is merged")
//	msgs, err := mb.List(ctx, "alpha", "worker-2", false) // undelivered only
//	_, err = mb.MarkDelivered(ctx, "alpha", "worker-2", msg.ID)
//
// Sending only persists the message. Notifying the recipient is the job of
// package dispatch, which wraps these calls.
package mailbox
