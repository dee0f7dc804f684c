package cmd

import (
	"errors"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Report worker activity",
}

var workerSetStatusCmd = &cobra.Command{
	Use:   "set-status <state>",
	Short: "Report a worker's state",
	Long: `Report a worker's state: idle, working, done or unknown.

Workers report "working" with --task when they start a task and "idle" when
they finish. The state is used to pick workers for scale down.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(team.StateIdle), string(team.StateWorking), string(team.StateDone), string(team.StateUnknown)},
	RunE:      runWorkerSetStatus,
}

var (
	workerTask   string
	workerReason string
)

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerSetStatusCmd)

	workerSetStatusCmd.Flags().String("worker", "", "Reporting worker (default: $TEAMWORK_WORKER)")
	workerSetStatusCmd.Flags().StringVar(&workerTask, "task", "", "Task the worker is working on")
	workerSetStatusCmd.Flags().StringVar(&workerReason, "reason", "", "Free-form note")
}

func runWorkerSetStatus(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	worker := workerName(cmd, "worker")
	if worker == "" {
		return errors.New("no worker given: use --worker or set TEAMWORK_WORKER")
	}
	st := team.State(args[0])
	return runHub(cmd, false, func(a *app) (coordination.Result[*team.WorkerStatus], error) {
		return a.hub.SetWorkerStatus(cmd.Context(), name, worker, st, workerTask, workerReason)
	})
}
