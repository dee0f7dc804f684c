package scaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/teamwork/internal/taskqueue"
)

// Default policy values.
const (
	defaultMinWorkers         = 1
	defaultScaleUpThreshold   = 2
	defaultScaleDownThreshold = 1
	defaultCooldownPeriod     = 30 * time.Second
)

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithMinWorkers sets the worker count the policy never recommends going
// below.
func WithMinWorkers(n int) PolicyOption {
	return func(p *Policy) { p.minWorkers = n }
}

// WithScaleUpThreshold sets the ready task count above which to scale up.
// When ready tasks exceed this threshold and outnumber in-progress tasks,
// scaling up is recommended.
func WithScaleUpThreshold(n int) PolicyOption {
	return func(p *Policy) { p.scaleUpThreshold = n }
}

// WithScaleDownThreshold sets the in-progress threshold for scaling down.
// When nothing is ready and in-progress <= this threshold, scaling down is
// recommended.
func WithScaleDownThreshold(n int) PolicyOption {
	return func(p *Policy) { p.scaleDownThreshold = n }
}

// WithCooldownPeriod sets the minimum time between non-trivial decisions.
func WithCooldownPeriod(d time.Duration) PolicyOption {
	return func(p *Policy) { p.cooldownPeriod = d }
}

// Policy recommends scaling actions from queue depth. It only advises;
// the Manager performs scaling. It is safe for concurrent use.
type Policy struct {
	mu                 sync.Mutex
	minWorkers         int
	scaleUpThreshold   int
	scaleDownThreshold int
	cooldownPeriod     time.Duration
	lastDecisionTime   time.Time
	now                func() time.Time
}

// NewPolicy creates a Policy with the given options.
// Unset options use defaults.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		minWorkers:         defaultMinWorkers,
		scaleUpThreshold:   defaultScaleUpThreshold,
		scaleDownThreshold: defaultScaleDownThreshold,
		cooldownPeriod:     defaultCooldownPeriod,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.minWorkers < 1 {
		p.minWorkers = 1
	}
	return p
}

// Evaluate inspects a task summary and the team's current and maximum
// worker counts and returns a Decision. Only ready tasks (pending with
// every dependency done) count as waiting work. The cooldown period
// prevents thrash between consecutive decisions.
func (p *Policy) Evaluate(s taskqueue.Summary, workers, maxWorkers int) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	if !p.lastDecisionTime.IsZero() && now.Sub(p.lastDecisionTime) < p.cooldownPeriod {
		return Decision{
			Action: ActionNone,
			Reason: "cooldown period active",
		}
	}

	if s.Ready > p.scaleUpThreshold && s.Ready > s.InProgress && workers < maxWorkers {
		delta := s.Ready - s.InProgress
		if workers+delta > maxWorkers {
			delta = maxWorkers - workers
		}
		if delta > 0 {
			p.lastDecisionTime = now
			return Decision{
				Action: ActionScaleUp,
				Delta:  delta,
				Reason: fmt.Sprintf("%d ready tasks with %d in progress (threshold: %d)", s.Ready, s.InProgress, p.scaleUpThreshold),
			}
		}
	}

	if s.Ready == 0 && s.InProgress <= p.scaleDownThreshold && workers > p.minWorkers {
		// Conservative: one worker at a time.
		p.lastDecisionTime = now
		return Decision{
			Action: ActionScaleDown,
			Delta:  -1,
			Reason: fmt.Sprintf("no ready tasks with %d in progress (threshold: %d)", s.InProgress, p.scaleDownThreshold),
		}
	}

	return Decision{
		Action: ActionNone,
		Reason: "no scaling needed",
	}
}
