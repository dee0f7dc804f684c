package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/scaling"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Add or remove workers",
	Long: `Add or remove workers of a running team.

Scaling is disabled unless scaling.enabled is set. New workers get the next
unused index; indices of removed workers are never reused.`,
}

var scaleUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Spawn new workers",
	Long: `Spawn new workers in the team's tmux session and bootstrap them through
their inboxes. Tasks given with --task or --tasks-file are created and
assigned to the new workers round-robin.`,
	Args: cobra.NoArgs,
	RunE: runScaleUp,
}

var scaleDownCmd = &cobra.Command{
	Use:   "down [worker-pattern...]",
	Short: "Remove workers",
	Long: `Remove workers by name or glob pattern, or the --count idlest workers.

Busy workers are drained first: they are asked to finish their task and the
command waits up to --drain-timeout. With --force, workers still busy are
removed anyway and their tasks return to pending.`,
	RunE: runScaleDown,
}

var scaleRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Advise whether the team should grow or shrink",
	Args:  cobra.NoArgs,
	RunE:  runScaleRecommend,
}

var (
	scaleUpCount      int
	scaleDownCount    int
	scaleRole         string
	scaleTasks        []string
	scaleTasksFile    string
	scaleLaunchArgs   []string
	scaleEnv          map[string]string
	scaleCwd          string
	scaleForce        bool
	scaleDrainTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(scaleCmd)
	scaleCmd.AddCommand(scaleUpCmd, scaleDownCmd, scaleRecommendCmd)

	scaleUpCmd.Flags().IntVarP(&scaleUpCount, "count", "n", 1, "Number of workers to add")
	scaleUpCmd.Flags().StringVar(&scaleRole, "role", string(team.RoleExecutor), "Role of the new workers")
	scaleUpCmd.Flags().StringArrayVar(&scaleTasks, "task", nil, "Subject of a task for the new workers (repeatable)")
	scaleUpCmd.Flags().StringVar(&scaleTasksFile, "tasks-file", "", "YAML list of tasks for the new workers")
	scaleUpCmd.Flags().StringArrayVar(&scaleLaunchArgs, "launch-arg", nil, "Extra argument for the worker command (repeatable)")
	scaleUpCmd.Flags().StringToStringVar(&scaleEnv, "env", nil, "Extra environment as KEY=VALUE")
	scaleUpCmd.Flags().StringVar(&scaleCwd, "cwd", "", "Working directory of the new workers (default: current directory)")

	scaleDownCmd.Flags().IntVarP(&scaleDownCount, "count", "n", 0, "Remove this many of the idlest workers")
	scaleDownCmd.Flags().BoolVar(&scaleForce, "force", false, "Remove workers that are still busy after draining")
	scaleDownCmd.Flags().DurationVar(&scaleDrainTimeout, "drain-timeout", 0, "How long to wait for busy workers (default: scaling.drain_timeout)")
}

func loadTaskSpecs(path string) ([]scaling.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	var specs []scaling.TaskSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file %s: %w", path, err)
	}
	return specs, nil
}

func runScaleUp(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}

	in := scaling.ScaleUpInput{
		Count:      scaleUpCount,
		Role:       team.Role(scaleRole),
		LaunchArgs: scaleLaunchArgs,
		Cwd:        scaleCwd,
		Env:        scaleEnv,
	}
	if scaleTasksFile != "" {
		if in.Tasks, err = loadTaskSpecs(scaleTasksFile); err != nil {
			return err
		}
	}
	for _, subject := range scaleTasks {
		in.Tasks = append(in.Tasks, scaling.TaskSpec{Subject: subject})
	}
	if in.Cwd == "" {
		if in.Cwd, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
	}

	return runHub(cmd, false, func(a *app) (coordination.Result[*scaling.ScaleUpResult], error) {
		return a.hub.ScaleUp(cmd.Context(), name, in)
	})
}

func runScaleDown(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}

	in := scaling.ScaleDownInput{
		WorkerNames:  args,
		Count:        scaleDownCount,
		Force:        scaleForce,
		DrainTimeout: scaleDrainTimeout,
	}

	return runHub(cmd, false, func(a *app) (coordination.Result[*scaling.ScaleDownResult], error) {
		return a.hub.ScaleDown(cmd.Context(), name, in)
	})
}

func runScaleRecommend(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[scaling.Decision], error) {
		return a.hub.Recommend(cmd.Context(), name)
	})
}
