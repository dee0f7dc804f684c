package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Kind is what a dispatch delivers.
type Kind string

const (
	KindInbox   Kind = "inbox"
	KindMailbox Kind = "mailbox"
)

// Transport identifies how a notification reached (or was queued for) a
// worker.
type Transport string

const (
	// TransportHook queues the notification for pickup by a worker-side
	// hook. It is the only unconfirmed transport.
	TransportHook Transport = "hook"
	// TransportPromptStdin writes directly to the worker's stdin.
	TransportPromptStdin Transport = "prompt_stdin"
	// TransportTmuxSendKeys types into the worker's pane.
	TransportTmuxSendKeys Transport = "tmux_send_keys"
	// TransportNone means no notification was sent.
	TransportNone Transport = "none"
)

// Preference selects the dispatch strategy.
type Preference string

const (
	PreferHookWithFallback Preference = "hook_preferred_with_fallback"
	PreferTransportDirect  Preference = "transport_direct"
	PreferPromptStdin      Preference = "prompt_stdin"
)

// IsValid reports whether p is a recognized preference.
func (p Preference) IsValid() bool {
	switch p {
	case PreferHookWithFallback, PreferTransportDirect, PreferPromptStdin:
		return true
	default:
		return false
	}
}

// Status is the lifecycle of a Request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusNotified  Status = "notified"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Request is one tracked delivery attempt.
type Request struct {
	RequestID           string     `json:"request_id"`
	Kind                Kind       `json:"kind"`
	ToWorker            string     `json:"to_worker"`
	WorkerIndex         int        `json:"worker_index"`
	PaneID              string     `json:"pane_id,omitempty"`
	TriggerMessage      string     `json:"trigger_message"`
	MessageID           string     `json:"message_id,omitempty"`
	TransportPreference Preference `json:"transport_preference"`
	FallbackAllowed     bool       `json:"fallback_allowed"`
	Status              Status     `json:"status"`
	LastReason          string     `json:"last_reason,omitempty"`
	Transport           Transport  `json:"transport,omitempty"`
	AttemptCount        int        `json:"attempt_count"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	NotifiedAt          *time.Time `json:"notified_at,omitempty"`
	DeliveredAt         *time.Time `json:"delivered_at,omitempty"`
	FailedAt            *time.Time `json:"failed_at,omitempty"`
}

// CorrelationKey identifies equivalent requests for deduplication:
// kind|to_worker|message_id, or kind|to_worker|sha256(trigger) when there is
// no message id.
func (r *Request) CorrelationKey() string {
	ref := r.MessageID
	if ref == "" {
		sum := sha256.Sum256([]byte(r.TriggerMessage))
		ref = hex.EncodeToString(sum[:])
	}
	return strings.Join([]string{string(r.Kind), r.ToWorker, ref}, "|")
}

// requestLog is the persisted dispatch request collection.
type requestLog struct {
	Requests []Request `json:"requests"`
}

// ReceiptStatus is reported by the notified party.
type ReceiptStatus string

const (
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptFailed    ReceiptStatus = "failed"
)

// Receipt confirms (or refutes) delivery of a request.
type Receipt struct {
	RequestID string        `json:"request_id"`
	Status    ReceiptStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	At        time.Time     `json:"at"`
}

// Outcome is the result of one dispatch.
type Outcome struct {
	OK           bool      `json:"ok"`
	Deduped      bool      `json:"deduped,omitempty"`
	RequestID    string    `json:"request_id"`
	Transport    Transport `json:"transport,omitempty"`
	Status       Status    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	FallbackUsed bool      `json:"fallback_used,omitempty"`
}
