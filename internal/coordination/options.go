package coordination

import (
	"time"

	"github.com/Iron-Ham/teamwork/internal/dispatch"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/scaling"
)

// hubConfig holds optional configuration for a Hub.
type hubConfig struct {
	logger        *logging.Logger
	now           func() time.Time
	claimLease    time.Duration
	scalingPolicy *scaling.Policy
	dispatchOpts  []dispatch.Option
	scalingOpts   []scaling.Option
}

// Option configures a Hub.
type Option func(*hubConfig)

// WithLogger sets the logger passed to every component.
func WithLogger(l *logging.Logger) Option {
	return func(c *hubConfig) { c.logger = l }
}

// WithClock overrides time.Now for every component. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *hubConfig) { c.now = now }
}

// WithClaimLease sets how long a task claim stays valid before
// ReleaseExpiredClaims may return the task to pending.
func WithClaimLease(d time.Duration) Option {
	return func(c *hubConfig) { c.claimLease = d }
}

// WithScalingPolicy sets the policy used by Recommend.
// If nil, a default policy is created.
func WithScalingPolicy(p *scaling.Policy) Option {
	return func(c *hubConfig) { c.scalingPolicy = p }
}

// WithDispatchOptions appends options for the dispatch coordinator. They
// are applied after the Hub's defaults and so override them.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(c *hubConfig) { c.dispatchOpts = append(c.dispatchOpts, opts...) }
}

// WithScalingOptions appends options for the lifecycle manager.
func WithScalingOptions(opts ...scaling.Option) Option {
	return func(c *hubConfig) { c.scalingOpts = append(c.scalingOpts, opts...) }
}
