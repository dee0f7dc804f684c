package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/teamwork/internal/config"
	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/dispatch"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/lock"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/scaling"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/Iron-Ham/teamwork/internal/tmux"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// ErrResultFailed is returned after a failed Result has been printed. The
// caller should exit non-zero without printing anything else.
var ErrResultFailed = errors.New("operation failed")

var errNoTeam = errors.New("no team given: use --team or set TEAMWORK_TEAM")

// app is the per-invocation wiring behind the coordination commands.
type app struct {
	cfg    *config.Config
	root   string
	logger *logging.Logger
	hub    *coordination.Hub
}

// spawnerFactory builds the worker spawner. Tests replace it.
var spawnerFactory = func(cfg *config.Config, logger *logging.Logger) scaling.Spawner {
	client := tmux.NewClient(cfg.Tmux.Socket)
	return tmux.NewSpawner(client,
		tmux.WithLaunchCommand(cfg.Tmux.LaunchCommand...),
		tmux.WithStopTimeout(cfg.Tmux.StopTimeout),
		tmux.WithLogger(logger),
	)
}

// openApp loads the configuration, resolves the state root, and builds the
// hub. With create set, a missing root is created in the working directory.
func openApp(create bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	root, err := resolveRoot(cfg, create)
	if err != nil {
		return nil, err
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(filepath.Join(root, team.LogsDir()), cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open log: %w", err)
		}
	}

	bus := event.NewBus(event.WithLogger(logger))
	bus.SubscribeAll(func(e event.Event) {
		logger.Debug("event", "type", e.EventType())
	})

	hub, err := coordination.NewHub(coordination.Config{
		Store:   state.NewOS(root, state.WithLogger(logger)),
		Bus:     bus,
		Spawner: spawnerFactory(cfg, logger),
	}, hubOptions(cfg, logger)...)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{cfg: cfg, root: root, logger: logger, hub: hub}, nil
}

// Close flushes and closes the log file.
func (a *app) Close() error {
	return a.logger.Close()
}

func resolveRoot(cfg *config.Config, create bool) (string, error) {
	if cfg.State.Dir != "" {
		root, err := filepath.Abs(cfg.State.Dir)
		if err != nil {
			return "", fmt.Errorf("resolve state dir: %w", err)
		}
		if create {
			if err := os.MkdirAll(root, 0o755); err != nil {
				return "", fmt.Errorf("create state dir: %w", err)
			}
		}
		return root, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := state.FindRoot(afero.NewOsFs(), cwd)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, state.ErrNoRoot) || !create {
		return "", fmt.Errorf("%w (run 'teamwork init' first)", err)
	}
	root = filepath.Join(cwd, state.DirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return root, nil
}

func hubOptions(cfg *config.Config, logger *logging.Logger) []coordination.Option {
	return []coordination.Option{
		coordination.WithLogger(logger),
		coordination.WithClaimLease(cfg.Tasks.ClaimLease),
		coordination.WithDispatchOptions(
			dispatch.WithReceiptWait(cfg.Dispatch.ReceiptTimeout, cfg.Dispatch.ReceiptPoll),
			dispatch.WithPreference(dispatch.Preference(cfg.Dispatch.TransportPreference)),
			dispatch.WithFallbackAllowed(cfg.Dispatch.FallbackAllowed),
			dispatch.WithPendingExpiry(cfg.Dispatch.PendingExpiry),
		),
		coordination.WithScalingOptions(
			scaling.WithEnabled(cfg.Scaling.Enabled),
			scaling.WithReadyTimeout(cfg.Scaling.ReadyTimeout),
			scaling.WithDrainTimeout(cfg.Scaling.DrainTimeout),
			scaling.WithDrainPoll(cfg.Scaling.DrainPoll),
			scaling.WithLockOptions(
				lock.WithStaleAfter(cfg.Lock.StaleAfter),
				lock.WithBackoff(cfg.Lock.InitialBackoff, cfg.Lock.MaxBackoff),
				lock.WithAcquireTimeout(cfg.Lock.AcquireTimeout),
			),
		),
		coordination.WithScalingPolicy(scaling.NewPolicy(
			scaling.WithMinWorkers(cfg.Scaling.MinWorkers),
			scaling.WithScaleUpThreshold(cfg.Scaling.ScaleUpThreshold),
			scaling.WithScaleDownThreshold(cfg.Scaling.ScaleDownThreshold),
			scaling.WithCooldownPeriod(cfg.Scaling.Cooldown),
		)),
	}
}

// runHub opens the app, runs fn, and prints its Result as JSON.
func runHub[T any](cmd *cobra.Command, create bool, fn func(a *app) (coordination.Result[T], error)) error {
	a, err := openApp(create)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := fn(a)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res)
}

// printResult writes res as indented JSON and reports ErrResultFailed when
// it carries an error.
func printResult[T any](w io.Writer, res coordination.Result[T]) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return err
	}
	if !res.OK {
		return ErrResultFailed
	}
	return nil
}
