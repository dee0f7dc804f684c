package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

func receiptsDir(teamName string) string {
	return filepath.Join(team.DispatchDir(teamName), "receipts")
}

func receiptPath(teamName, requestID string) string {
	return filepath.Join(receiptsDir(teamName), requestID+".json")
}

// WriteReceipt is called by the notified party to confirm or refute
// delivery of a request.
func (c *Coordinator) WriteReceipt(ctx context.Context, teamName, requestID string, status ReceiptStatus, reason string) (*Receipt, error) {
	if status != ReceiptDelivered && status != ReceiptFailed {
		return nil, apperrors.NewValidationError("receipt status must be delivered or failed").
			WithField("status").WithValue(string(status))
	}
	if _, err := c.GetRequest(ctx, teamName, requestID); err != nil {
		return nil, err
	}
	r := &Receipt{RequestID: requestID, Status: status, Reason: reason, At: c.now().UTC()}
	if err := c.st.WriteJSON(receiptPath(teamName, requestID), r); err != nil {
		return nil, err
	}
	c.logger.Debug("receipt written", "team", teamName, "request_id", requestID, "status", string(status))
	return r, nil
}

// ReadReceipt returns the receipt for a request, or nil if none exists.
func (c *Coordinator) ReadReceipt(teamName, requestID string) (*Receipt, error) {
	var r Receipt
	found, err := c.st.ReadJSON(receiptPath(teamName, requestID), &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// waitReceipt blocks until a receipt for requestID exists, timeout elapses,
// or ctx is done. It returns nil on timeout. On an OS filesystem the
// receipts directory is watched with fsnotify; the poll ticker covers
// in-memory filesystems and missed events.
func (c *Coordinator) waitReceipt(ctx context.Context, teamName, requestID string, timeout time.Duration) (*Receipt, error) {
	if r, err := c.ReadReceipt(teamName, requestID); r != nil || err != nil {
		return r, err
	}

	var events <-chan fsnotify.Event
	if _, isOS := c.st.Fs().(*afero.OsFs); isOS {
		w, err := c.watchReceipts(teamName)
		if err != nil {
			c.logger.Debug("receipt watcher unavailable, polling", "team", teamName, "error", err)
		} else {
			defer w.Close()
			events = w.Events
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	want := requestID + ".json"
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-timer.C:
			return c.ReadReceipt(teamName, requestID)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != want || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
		case <-ticker.C:
		}
		if r, err := c.ReadReceipt(teamName, requestID); r != nil || err != nil {
			return r, err
		}
	}
}

func (c *Coordinator) watchReceipts(teamName string) (*fsnotify.Watcher, error) {
	dir := c.st.Path(receiptsDir(teamName))
	if err := c.st.Fs().MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipts dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}
