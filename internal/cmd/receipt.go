package cmd

import (
	"fmt"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/dispatch"
	"github.com/spf13/cobra"
)

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Confirm delivery of dispatch requests",
}

var receiptWriteCmd = &cobra.Command{
	Use:   "write <request-id>",
	Short: "Record a delivery receipt",
	Long: `Record whether a notification reached its worker. Hooks run this after
they inject a picked-up notification, so the sender can stop waiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runReceiptWrite,
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Entry points for worker hooks",
}

var hookPickupCmd = &cobra.Command{
	Use:   "pickup",
	Short: "Take the notifications queued for a worker",
	Long: `Print and remove the notifications queued for a worker. Each pickup
carries the request id to confirm with 'teamwork receipt write'.`,
	Args: cobra.NoArgs,
	RunE: runHookPickup,
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Inspect and resolve dispatch requests",
}

var dispatchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dispatch requests",
	Args:  cobra.NoArgs,
	RunE:  runDispatchList,
}

var dispatchExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Fail pending requests that were abandoned",
	Long: `Fail every pending request older than dispatch.pending_expiry, such as
one left by a crash mid-dispatch. Equivalent notifications are then sent
again instead of being deduplicated.`,
	Args: cobra.NoArgs,
	RunE: runDispatchExpire,
}

var dispatchFailCmd = &cobra.Command{
	Use:   "fail <request-id>",
	Short: "Fail one pending request",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatchFail,
}

var (
	receiptStatus  string
	receiptReason  string
	dispatchStatus string
	dispatchReason string
)

func init() {
	rootCmd.AddCommand(receiptCmd, hookCmd, dispatchCmd)
	receiptCmd.AddCommand(receiptWriteCmd)
	hookCmd.AddCommand(hookPickupCmd)
	dispatchCmd.AddCommand(dispatchListCmd, dispatchExpireCmd, dispatchFailCmd)

	receiptWriteCmd.Flags().StringVar(&receiptStatus, "status", string(dispatch.ReceiptDelivered), "delivered or failed")
	receiptWriteCmd.Flags().StringVar(&receiptReason, "reason", "", "Why delivery failed")

	hookPickupCmd.Flags().String("worker", "", "Worker whose queue to take (default: $TEAMWORK_WORKER)")

	dispatchListCmd.Flags().StringVar(&dispatchStatus, "status", "", "Only requests with this status")
	dispatchFailCmd.Flags().StringVar(&dispatchReason, "reason", "", "Why the request is failed")
}

func runReceiptWrite(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	status := dispatch.ReceiptStatus(receiptStatus)
	return runHub(cmd, false, func(a *app) (coordination.Result[*dispatch.Receipt], error) {
		return a.hub.WriteReceipt(cmd.Context(), name, args[0], status, receiptReason)
	})
}

func runHookPickup(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	worker, err := mailboxOwner(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[[]dispatch.Pickup], error) {
		return a.hub.HookPickups(cmd.Context(), name, worker)
	})
}

func runDispatchList(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	status := dispatch.Status(dispatchStatus)
	switch status {
	case "", dispatch.StatusPending, dispatch.StatusNotified, dispatch.StatusDelivered, dispatch.StatusFailed:
	default:
		return fmt.Errorf("invalid --status %q", dispatchStatus)
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[[]dispatch.Request], error) {
		return a.hub.DispatchRequests(cmd.Context(), name, status)
	})
}

func runDispatchExpire(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[[]dispatch.Request], error) {
		return a.hub.ExpireDispatchRequests(cmd.Context(), name)
	})
}

func runDispatchFail(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[*dispatch.Request], error) {
		return a.hub.FailDispatchRequest(cmd.Context(), name, args[0], dispatchReason)
	})
}
