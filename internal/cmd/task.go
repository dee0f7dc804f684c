package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/taskqueue"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, claim and complete tasks",
	Long: `Manage the team's task registry.

A worker claims a pending task and receives a claim token. Only the token
holder may move the task out of in_progress:

  teamwork task claim 3 --worker worker-1
  teamwork task transition 3 --from in_progress --to completed --token <token>`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pending task",
	Args:  cobra.NoArgs,
	RunE:  runTaskCreate,
}

var taskReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRead,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in id order",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <id>",
	Short: "Claim a pending task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClaim,
}

var taskTransitionCmd = &cobra.Command{
	Use:   "transition <id>",
	Short: "Move a claimed task to a new status",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskTransition,
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update task metadata",
	Long: `Update a task's subject, description, blocked_by or annotations.

Fields may be given as flags or as a JSON object:

  teamwork task update 4 --fields '{"annotations": {"area": "parser"}}'

An annotation with an empty value is removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskUpdate,
}

var taskReleaseCmd = &cobra.Command{
	Use:   "release-expired",
	Short: "Return tasks with expired claims to pending",
	Args:  cobra.NoArgs,
	RunE:  runTaskRelease,
}

var (
	taskSubject         string
	taskDescription     string
	taskBlockedBy       []string
	taskAnnotations     map[string]string
	taskFilterStatus    string
	taskFilterOwner     string
	taskWorker          string
	taskExpectedVersion int
	taskFrom            string
	taskTo              string
	taskToken           string
	taskResult          string
	taskError           string
	taskFields          string
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd, taskReadCmd, taskListCmd, taskClaimCmd,
		taskTransitionCmd, taskUpdateCmd, taskReleaseCmd)

	taskCreateCmd.Flags().StringVarP(&taskSubject, "subject", "s", "", "Task subject (required)")
	taskCreateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	taskCreateCmd.Flags().StringSliceVar(&taskBlockedBy, "blocked-by", nil, "Ids of tasks that must complete first")
	taskCreateCmd.Flags().StringToStringVar(&taskAnnotations, "annotation", nil, "Annotation as key=value (repeatable)")
	_ = taskCreateCmd.MarkFlagRequired("subject")

	taskListCmd.Flags().StringVar(&taskFilterStatus, "status", "", "Only tasks with this status")
	taskListCmd.Flags().StringVar(&taskFilterOwner, "owner", "", "Only tasks owned by this worker")

	taskClaimCmd.Flags().StringVar(&taskWorker, "worker", "", "Claiming worker (default: $TEAMWORK_WORKER)")
	taskClaimCmd.Flags().IntVar(&taskExpectedVersion, "expected-version", 0, "Fail unless the task is at this version")

	taskTransitionCmd.Flags().StringVar(&taskFrom, "from", string(taskqueue.StatusInProgress), "Expected current status")
	taskTransitionCmd.Flags().StringVar(&taskTo, "to", "", "New status: completed, failed or pending (required)")
	taskTransitionCmd.Flags().StringVar(&taskToken, "token", "", "Claim token returned by claim (required)")
	taskTransitionCmd.Flags().StringVar(&taskResult, "result", "", "Result recorded with completion")
	taskTransitionCmd.Flags().StringVar(&taskError, "error", "", "Error recorded with failure")
	_ = taskTransitionCmd.MarkFlagRequired("to")
	_ = taskTransitionCmd.MarkFlagRequired("token")

	taskUpdateCmd.Flags().StringVarP(&taskSubject, "subject", "s", "", "New subject")
	taskUpdateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "New description")
	taskUpdateCmd.Flags().StringSliceVar(&taskBlockedBy, "blocked-by", nil, "Replace the dependency list")
	taskUpdateCmd.Flags().StringToStringVar(&taskAnnotations, "annotation", nil, "Set or remove (empty value) an annotation")
	taskUpdateCmd.Flags().StringVar(&taskFields, "fields", "", "Fields as a JSON object")
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	in := taskqueue.CreateInput{
		Subject:     taskSubject,
		Description: taskDescription,
		BlockedBy:   taskBlockedBy,
		Annotations: taskAnnotations,
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[*taskqueue.Task], error) {
		return a.hub.CreateTask(cmd.Context(), name, in)
	})
}

func runTaskRead(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[*taskqueue.Task], error) {
		return a.hub.ReadTask(cmd.Context(), name, args[0])
	})
}

func runTaskList(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	filter := taskqueue.Filter{Status: taskqueue.Status(taskFilterStatus), Owner: taskFilterOwner}
	if filter.Status != "" && !filter.Status.IsValid() {
		return fmt.Errorf("invalid --status %q", taskFilterStatus)
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[[]taskqueue.Task], error) {
		return a.hub.ListTasks(cmd.Context(), name, filter)
	})
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	worker := workerName(cmd, "worker")
	if worker == "" {
		return errors.New("no worker given: use --worker or set TEAMWORK_WORKER")
	}
	var expected *int
	if cmd.Flags().Changed("expected-version") {
		v := taskExpectedVersion
		expected = &v
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[*taskqueue.ClaimResult], error) {
		return a.hub.ClaimTask(cmd.Context(), name, args[0], worker, expected)
	})
}

func runTaskTransition(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	from, to := taskqueue.Status(taskFrom), taskqueue.Status(taskTo)
	in := taskqueue.TransitionInput{Result: taskResult, Error: taskError}
	return runHub(cmd, false, func(a *app) (coordination.Result[*taskqueue.Task], error) {
		return a.hub.TransitionTaskStatus(cmd.Context(), name, args[0], from, to, taskToken, in)
	})
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	fields, err := updateFields(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[*taskqueue.Task], error) {
		return a.hub.UpdateTask(cmd.Context(), name, args[0], fields)
	})
}

// updateFields builds the field map from --fields and the individual flags.
// Flags win over the JSON object.
func updateFields(cmd *cobra.Command) (map[string]any, error) {
	fields := map[string]any{}
	if taskFields != "" {
		if err := json.Unmarshal([]byte(taskFields), &fields); err != nil {
			return nil, fmt.Errorf("invalid --fields: %w", err)
		}
	}
	flags := cmd.Flags()
	if flags.Changed("subject") {
		fields["subject"] = taskSubject
	}
	if flags.Changed("description") {
		fields["description"] = taskDescription
	}
	if flags.Changed("blocked-by") {
		fields["blocked_by"] = taskBlockedBy
	}
	if flags.Changed("annotation") {
		fields["annotations"] = taskAnnotations
	}
	return fields, nil
}

func runTaskRelease(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[[]string], error) {
		return a.hub.ReleaseExpiredClaims(cmd.Context(), name)
	})
}
