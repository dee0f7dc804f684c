package tmux

import (
	"context"
	"strings"
	"time"

	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/scaling"
)

// readyPoll is how often WaitReady inspects a new pane.
const readyPoll = 250 * time.Millisecond

// Spawner runs each worker in its own tmux window.
type Spawner struct {
	client        *Client
	launchCommand []string
	stopTimeout   time.Duration
	logger        *logging.Logger
}

// SpawnerOption configures a Spawner.
type SpawnerOption func(*Spawner)

// WithLaunchCommand sets the command run in every worker pane, before any
// per-request launch arguments.
func WithLaunchCommand(argv ...string) SpawnerOption {
	return func(s *Spawner) { s.launchCommand = argv }
}

// WithStopTimeout sets how long Terminate waits after Ctrl+C.
func WithStopTimeout(d time.Duration) SpawnerOption {
	return func(s *Spawner) { s.stopTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) SpawnerOption {
	return func(s *Spawner) { s.logger = l }
}

// NewSpawner returns a Spawner using client.
func NewSpawner(client *Client, opts ...SpawnerOption) *Spawner {
	s := &Spawner{client: client, stopTimeout: DefaultGracefulStopTimeout}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).WithComponent("tmux")
	return s
}

var _ scaling.Spawner = (*Spawner)(nil)

// SessionName returns the tmux session for a team when the team config
// does not name one.
func SessionName(team string) string {
	return "teamwork-" + team
}

// Spawn starts the launch command in a new window named after the worker.
// TEAMWORK_TEAM and TEAMWORK_WORKER are always set in its environment.
func (s *Spawner) Spawn(ctx context.Context, req scaling.SpawnRequest) (scaling.Handle, error) {
	session := req.Session
	if session == "" {
		session = SessionName(req.Team)
	}
	env := map[string]string{
		"TEAMWORK_TEAM":   req.Team,
		"TEAMWORK_WORKER": req.Worker,
	}
	for k, v := range req.Env {
		env[k] = v
	}
	argv := append(append([]string(nil), s.launchCommand...), req.LaunchArgs...)

	paneID, pid, err := s.client.NewPane(ctx, PaneSpec{
		Session: session,
		Name:    req.Worker,
		Cwd:     req.Cwd,
		Env:     env,
		Command: argv,
	})
	if err != nil {
		return scaling.Handle{}, err
	}
	s.logger.Info("worker pane started", "team", req.Team, "worker", req.Worker, "session", session, "pane_id", paneID, "pid", pid)
	return scaling.Handle{PaneID: paneID, PID: pid}, nil
}

// IsAlive reports whether the worker's pane is live, falling back to the
// pid when there is no pane.
func (s *Spawner) IsAlive(ctx context.Context, h scaling.Handle) bool {
	if h.PaneID != "" {
		return s.client.PaneAlive(ctx, h.PaneID)
	}
	return IsProcessAlive(h.PID)
}

// SendText types text into the pane and submits it.
func (s *Spawner) SendText(ctx context.Context, paneID, text string) error {
	return s.client.SendText(ctx, paneID, text)
}

// WaitReady waits until the pane shows any output, which for interactive
// agents means the prompt has rendered.
func (s *Spawner) WaitReady(ctx context.Context, h scaling.Handle, timeout time.Duration) bool {
	if h.PaneID == "" {
		return IsProcessAlive(h.PID)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()

	for {
		if !s.client.PaneAlive(ctx, h.PaneID) {
			return false
		}
		if out, err := s.client.CapturePane(ctx, h.PaneID); err == nil && strings.TrimSpace(out) != "" {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Terminate sends Ctrl+C, waits for the process to exit, kills the pane,
// and then force-kills anything left of the process tree.
func (s *Spawner) Terminate(ctx context.Context, h scaling.Handle) error {
	pid := h.PID
	if pid <= 0 && h.PaneID != "" {
		pid = s.client.PanePID(ctx, h.PaneID)
	}
	// Capture the tree while the pane is still up.
	tree := append([]int{pid}, GetDescendantPIDs(pid)...)

	if h.PaneID != "" {
		if err := s.client.SendKey(ctx, h.PaneID, "C-c"); err != nil {
			s.logger.Debug("ctrl-c failed", "pane_id", h.PaneID, "error", err)
		}
	}
	if !WaitForProcessExit(ctx, pid, s.stopTimeout) {
		s.logger.Warn("worker did not exit after ctrl-c, killing", "pane_id", h.PaneID, "pid", pid)
	}
	var killErr error
	if h.PaneID != "" {
		killErr = s.client.KillPane(ctx, h.PaneID)
	}
	for _, p := range tree {
		if IsProcessAlive(p) {
			KillProcessTree(p)
		}
	}
	return killErr
}
