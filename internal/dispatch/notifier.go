package dispatch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/team"
)

// Target is who a notification is for.
type Target struct {
	Team   string
	Worker string
	Index  int
	PaneID string
}

// Payload is what a notifier delivers.
type Payload struct {
	RequestID  string
	Kind       Kind
	Message    string // trigger text shown to the worker
	MessageID  string
	Preference Preference
}

// Result is a notifier's report.
type Result struct {
	OK        bool
	Transport Transport
	Reason    string
}

// Confirmed reports whether the notification is known to have reached the
// worker. Hook results are only queued and need a receipt.
func (r Result) Confirmed() bool {
	return r.OK && r.Transport != TransportHook
}

// Notifier delivers a trigger to a worker. An error is treated like a
// failed Result; implementations need not recover their own panics.
type Notifier interface {
	Notify(ctx context.Context, target Target, payload Payload) (Result, error)
}

// FuncNotifier adapts a function to Notifier.
type FuncNotifier func(ctx context.Context, target Target, payload Payload) (Result, error)

// Notify calls f.
func (f FuncNotifier) Notify(ctx context.Context, target Target, payload Payload) (Result, error) {
	return f(ctx, target, payload)
}

// NopNotifier sends nothing and reports failure, leaving the request for a
// worker that polls its mailbox.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Target, Payload) (Result, error) {
	return Result{OK: false, Transport: TransportNone, Reason: "no notifier configured"}, nil
}

// Router picks a notifier by the payload's transport preference.
type Router struct {
	Hook   Notifier // hook_preferred_with_fallback
	Direct Notifier // transport_direct
	Stdin  Notifier // prompt_stdin
}

// Notify implements Notifier.
func (r Router) Notify(ctx context.Context, target Target, payload Payload) (Result, error) {
	var n Notifier
	switch payload.Preference {
	case PreferHookWithFallback:
		n = r.Hook
	case PreferTransportDirect:
		n = r.Direct
	case PreferPromptStdin:
		n = r.Stdin
	}
	if n == nil {
		return Result{Transport: TransportNone, Reason: fmt.Sprintf("no notifier for %s", payload.Preference)}, nil
	}
	return n.Notify(ctx, target, payload)
}

// HookNotifier queues the payload as a pickup file that a worker-side hook
// reads on its next turn. The worker answers with a receipt.
type HookNotifier struct {
	Store *state.Store
}

// Pickup is the file a HookNotifier leaves for a worker.
type Pickup struct {
	RequestID string `json:"request_id"`
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

func pickupDir(teamName, worker string) string {
	return filepath.Join(team.DispatchDir(teamName), "pickup", worker)
}

// Notify implements Notifier.
func (h HookNotifier) Notify(_ context.Context, target Target, payload Payload) (Result, error) {
	p := Pickup{
		RequestID: payload.RequestID,
		Kind:      payload.Kind,
		Message:   payload.Message,
		MessageID: payload.MessageID,
	}
	path := filepath.Join(pickupDir(target.Team, target.Worker), payload.RequestID+".json")
	if err := h.Store.WriteJSON(path, p); err != nil {
		return Result{Transport: TransportHook}, err
	}
	return Result{OK: true, Transport: TransportHook, Reason: "queued for hook pickup"}, nil
}

// Pickups returns and removes the pickup files waiting for a worker.
func (h HookNotifier) Pickups(teamName, worker string) ([]Pickup, error) {
	dir := pickupDir(teamName, worker)
	names, err := h.Store.List(dir)
	if err != nil {
		return nil, err
	}
	var out []Pickup
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		var p Pickup
		path := filepath.Join(dir, name)
		found, err := h.Store.ReadJSON(path, &p)
		if err != nil {
			return out, err
		}
		if !found {
			continue
		}
		if err := h.Store.Remove(path); err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// PaneSender types literal text into a pane and submits it.
type PaneSender interface {
	SendText(ctx context.Context, paneID, text string) error
}

// PaneNotifier types the trigger into the worker's pane.
type PaneNotifier struct {
	Sender PaneSender
}

// Notify implements Notifier.
func (p PaneNotifier) Notify(ctx context.Context, target Target, payload Payload) (Result, error) {
	if target.PaneID == "" {
		return Result{Transport: TransportTmuxSendKeys, Reason: "worker has no pane"}, nil
	}
	if err := p.Sender.SendText(ctx, target.PaneID, payload.Message); err != nil {
		return Result{Transport: TransportTmuxSendKeys}, err
	}
	return Result{OK: true, Transport: TransportTmuxSendKeys}, nil
}

// StdinNotifier writes the trigger line to a worker's stdin.
type StdinNotifier struct {
	// Open returns the stdin of the target worker. The notifier closes it.
	Open func(target Target) (io.WriteCloser, error)
}

// Notify implements Notifier.
func (s StdinNotifier) Notify(_ context.Context, target Target, payload Payload) (Result, error) {
	w, err := s.Open(target)
	if err != nil {
		return Result{Transport: TransportPromptStdin}, err
	}
	defer w.Close()
	if _, err := io.WriteString(w, strings.TrimRight(payload.Message, "\n")+"\n"); err != nil {
		return Result{Transport: TransportPromptStdin}, err
	}
	return Result{OK: true, Transport: TransportPromptStdin}, nil
}
