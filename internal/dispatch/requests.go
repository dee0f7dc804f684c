package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/google/uuid"
)

// errNothingExpired aborts an expiry sweep that changed nothing.
var errNothingExpired = apperrors.New("no expired requests")

func requestsPath(teamName string) string {
	return filepath.Join(team.DispatchDir(teamName), "requests.json")
}

// Enqueue persists req as a pending request and returns it with its id set.
// If a pending request with the same correlation key exists, Enqueue returns
// that request together with a duplicate_pending_dispatch_request conflict
// and writes nothing. Pending requests older than the pending expiry are
// failed first and never block a new request.
func (c *Coordinator) Enqueue(ctx context.Context, teamName string, req Request) (*Request, error) {
	key := req.CorrelationKey()
	var log requestLog
	var existing *Request
	var expired []Request
	err := c.st.Update(ctx, requestsPath(teamName), &log, func(bool) error {
		now := c.now().UTC()
		expired = c.expireStale(&log, now)
		for i := range log.Requests {
			r := log.Requests[i]
			if r.Status == StatusPending && r.CorrelationKey() == key {
				existing = &r
				return apperrors.NewConflictError(apperrors.CodeDuplicateDispatch, "dispatch_request", r.RequestID).
					WithMessage("a pending request for %s already exists", req.ToWorker)
			}
		}
		req.RequestID = uuid.NewString()
		req.Status = StatusPending
		req.CreatedAt = now
		req.UpdatedAt = now
		log.Requests = append(log.Requests, req)
		return nil
	})
	if err != nil {
		return existing, err
	}

	c.publishFailed(teamName, expired)
	c.bus.Publish(event.NewDispatchEnqueuedEvent(teamName, req.RequestID, string(req.Kind), req.ToWorker))
	return &req, nil
}

// expireStale fails pending requests last updated more than the pending
// expiry before now and returns them.
func (c *Coordinator) expireStale(log *requestLog, now time.Time) []Request {
	var expired []Request
	for i := range log.Requests {
		r := &log.Requests[i]
		if r.Status != StatusPending || now.Sub(r.UpdatedAt) <= c.pendingExpiry {
			continue
		}
		markFailed(r, now, fmt.Sprintf("abandoned: pending for more than %s", c.pendingExpiry))
		expired = append(expired, *r)
	}
	return expired
}

func markFailed(r *Request, now time.Time, reason string) {
	r.Status = StatusFailed
	r.LastReason = reason
	r.UpdatedAt = now
	r.FailedAt = &now
}

func (c *Coordinator) publishFailed(teamName string, reqs []Request) {
	for _, r := range reqs {
		c.logger.Warn("pending dispatch request failed", "team", teamName, "request_id", r.RequestID,
			"to_worker", r.ToWorker, "reason", r.LastReason)
		c.bus.Publish(event.NewDispatchCompletedEvent(teamName, r.RequestID, r.ToWorker,
			string(r.Status), string(r.Transport), false, r.LastReason))
	}
}

// ExpirePending fails every pending request older than the pending expiry,
// such as those left by a crash between enqueue and record.
func (c *Coordinator) ExpirePending(ctx context.Context, teamName string) ([]Request, error) {
	var log requestLog
	var expired []Request
	err := c.st.Update(ctx, requestsPath(teamName), &log, func(bool) error {
		expired = c.expireStale(&log, c.now().UTC())
		if len(expired) == 0 {
			return errNothingExpired
		}
		return nil
	})
	if err != nil && !apperrors.Is(err, errNothingExpired) {
		return nil, err
	}
	c.publishFailed(teamName, expired)
	return expired, nil
}

// FailPending marks one pending request failed with reason, regardless of
// its age. Requests that already reached a final status are rejected with
// already_terminal.
func (c *Coordinator) FailPending(ctx context.Context, teamName, requestID, reason string) (*Request, error) {
	if reason == "" {
		reason = "failed by operator"
	}
	var log requestLog
	var out Request
	err := c.st.Update(ctx, requestsPath(teamName), &log, func(bool) error {
		for i := range log.Requests {
			r := &log.Requests[i]
			if r.RequestID != requestID {
				continue
			}
			if r.Status != StatusPending {
				return apperrors.NewConflictError(apperrors.CodeAlreadyTerminal, "dispatch_request", requestID).
					WithMessage("request is already %s", r.Status)
			}
			markFailed(r, c.now().UTC(), reason)
			out = *r
			return nil
		}
		return apperrors.NewNotFoundError("dispatch_request", requestID)
	})
	if err != nil {
		return nil, err
	}
	c.publishFailed(teamName, []Request{out})
	return &out, nil
}

// ListRequests returns the team's dispatch requests in creation order,
// optionally filtered by status.
func (c *Coordinator) ListRequests(_ context.Context, teamName string, status Status) ([]Request, error) {
	var log requestLog
	if _, err := c.st.ReadJSON(requestsPath(teamName), &log); err != nil {
		return nil, err
	}
	if status == "" {
		return log.Requests, nil
	}
	var out []Request
	for _, r := range log.Requests {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// PendingRequests returns requests that never reached a final status, such
// as those left by a crash mid-dispatch.
func (c *Coordinator) PendingRequests(ctx context.Context, teamName string) ([]Request, error) {
	return c.ListRequests(ctx, teamName, StatusPending)
}

// GetRequest returns one request.
func (c *Coordinator) GetRequest(ctx context.Context, teamName, requestID string) (*Request, error) {
	all, err := c.ListRequests(ctx, teamName, "")
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].RequestID == requestID {
			return &all[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("dispatch_request", requestID)
}

// record writes the final outcome onto a request.
func (c *Coordinator) record(ctx context.Context, teamName string, out Outcome, attempts int) error {
	var log requestLog
	return c.st.Update(ctx, requestsPath(teamName), &log, func(bool) error {
		for i := range log.Requests {
			r := &log.Requests[i]
			if r.RequestID != out.RequestID {
				continue
			}
			now := c.now().UTC()
			r.Status = out.Status
			r.LastReason = out.Reason
			r.Transport = out.Transport
			r.AttemptCount += attempts
			r.UpdatedAt = now
			switch out.Status {
			case StatusNotified:
				r.NotifiedAt = &now
			case StatusDelivered:
				if r.NotifiedAt == nil {
					r.NotifiedAt = &now
				}
				r.DeliveredAt = &now
			case StatusFailed:
				r.FailedAt = &now
			}
			return nil
		}
		return apperrors.NewNotFoundError("dispatch_request", out.RequestID)
	})
}
