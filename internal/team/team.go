package team

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/state"
)

// Store reads and writes team documents through a state.Store.
type Store struct {
	st     *state.Store
	logger *logging.Logger
	bus    *event.Bus
	now    func() time.Time
}

// NewStore creates a team Store.
func NewStore(st *state.Store, opts ...Option) *Store {
	s := &Store{st: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).WithComponent("team")
	return s
}

// State returns the underlying state store.
func (s *Store) State() *state.Store { return s.st }

// InitInput describes a new team.
type InitInput struct {
	Name         string
	Workers      int
	MaxWorkers   int
	Role         Role
	TmuxSession  string
	LeaderPaneID string
	HUDPaneID    string
	WorkingDir   string
	// Panes optionally assigns pane ids to the initial workers, in order.
	Panes []string
}

// Init creates a team with Workers workers named worker-1..worker-K, so
// NextWorkerIndex starts at K+1. Initializing an existing team is a
// validation error.
func (s *Store) Init(ctx context.Context, in InitInput) (*Config, error) {
	name, err := ResolveName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.Workers < 1 {
		return nil, apperrors.NewValidationError("worker count must be a positive integer").
			WithField("workers").WithValue(in.Workers)
	}
	if in.MaxWorkers == 0 {
		in.MaxWorkers = in.Workers
	}
	if in.MaxWorkers < in.Workers {
		return nil, apperrors.NewValidationError("max workers is below the initial worker count").
			WithField("max_workers").WithValue(in.MaxWorkers)
	}

	var cfg Config
	err = s.st.Update(ctx, ConfigPath(name), &cfg, func(found bool) error {
		if found {
			return apperrors.NewValidationError(fmt.Sprintf("team %q already exists", name)).WithField("name")
		}
		now := s.now().UTC()
		cfg = Config{
			Name:         name,
			TmuxSession:  in.TmuxSession,
			MaxWorkers:   in.MaxWorkers,
			LeaderPaneID: in.LeaderPaneID,
			HUDPaneID:    in.HUDPaneID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		for i, idx := range cfg.ReserveIndices(in.Workers) {
			w := Worker{Name: WorkerName(idx), Index: idx, Role: in.Role, WorkingDir: in.WorkingDir}
			if i < len(in.Panes) {
				w.PaneID = in.Panes[i]
			}
			cfg.AddWorkers(w)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("team initialized", "team", name, "workers", cfg.WorkerCount, "max_workers", cfg.MaxWorkers)
	s.bus.Publish(event.NewTeamInitializedEvent(name, cfg.WorkerCount))
	return &cfg, nil
}

// Load reads the team config. A missing team is a not-found error.
func (s *Store) Load(_ context.Context, name string) (*Config, error) {
	var cfg Config
	found, err := s.st.ReadJSON(ConfigPath(name), &cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFoundError("team", name)
	}
	return &cfg, nil
}

// Update applies fn to the team config in a serialized read-modify-write.
// Callers mutating the roster must hold the team lock.
func (s *Store) Update(ctx context.Context, name string, fn func(*Config) error) (*Config, error) {
	var cfg Config
	err := s.st.Update(ctx, ConfigPath(name), &cfg, func(found bool) error {
		if !found {
			return apperrors.NewNotFoundError("team", name)
		}
		if err := fn(&cfg); err != nil {
			return err
		}
		cfg.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// List returns the names of all teams under the state root.
func (s *Store) List() ([]string, error) {
	return s.st.List("team")
}

// ReadStatus returns a worker's status; a missing file yields StateUnknown.
func (s *Store) ReadStatus(teamName, worker string) (WorkerStatus, error) {
	if err := ValidateWorkerName(worker); err != nil {
		return WorkerStatus{}, err
	}
	var st WorkerStatus
	found, err := s.st.ReadJSON(StatusPath(teamName, worker), &st)
	if err != nil {
		return WorkerStatus{}, err
	}
	if !found || !st.State.IsValid() {
		return WorkerStatus{State: StateUnknown}, nil
	}
	return st, nil
}

// WriteStatus replaces a worker's status document.
func (s *Store) WriteStatus(teamName, worker string, st WorkerStatus) error {
	if err := ValidateWorkerName(worker); err != nil {
		return err
	}
	if !st.State.IsValid() {
		return apperrors.NewValidationError("unknown worker state").WithField("state").WithValue(string(st.State))
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}
	if err := s.st.WriteJSON(StatusPath(teamName, worker), st); err != nil {
		return err
	}
	s.bus.Publish(event.NewWorkerStatusChangedEvent(teamName, worker, string(st.State), st.Reason))
	return nil
}

// Statuses returns the status of every roster worker keyed by name.
func (s *Store) Statuses(cfg *Config) (map[string]WorkerStatus, error) {
	out := make(map[string]WorkerStatus, len(cfg.Workers))
	for _, w := range cfg.Workers {
		st, err := s.ReadStatus(cfg.Name, w.Name)
		if err != nil {
			return nil, err
		}
		out[w.Name] = st
	}
	return out, nil
}

// RemoveWorkerState deletes a removed worker's directory (status and inbox).
func (s *Store) RemoveWorkerState(teamName, worker string) error {
	if err := ValidateWorkerName(worker); err != nil {
		return err
	}
	return s.st.RemoveAll(WorkerDir(teamName, worker))
}

// WriteInbox replaces a worker's inbox file.
func (s *Store) WriteInbox(teamName, worker, content string) error {
	if err := ValidateWorkerName(worker); err != nil {
		return err
	}
	return s.st.WriteFile(InboxPath(teamName, worker), []byte(content))
}

// ReadInbox returns a worker's inbox content, or "" if none was written.
func (s *Store) ReadInbox(teamName, worker string) (string, error) {
	if err := ValidateWorkerName(worker); err != nil {
		return "", err
	}
	data, _, err := s.st.ReadFile(InboxPath(teamName, worker))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
