package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/dispatch"
	"github.com/Iron-Ham/teamwork/internal/mailbox"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/spf13/cobra"
)

var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Send and read mailbox messages",
	Long: `Exchange messages between the leader and workers.

Messages are persisted in the recipient's mailbox before the recipient is
notified. Use "leader" to address the leader.`,
}

var msgSendCmd = &cobra.Command{
	Use:   "send <body>",
	Short: "Send a message to one worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runMsgSend,
}

var msgBroadcastCmd = &cobra.Command{
	Use:   "broadcast <body>",
	Short: "Send a message to every worker except the sender",
	Args:  cobra.ExactArgs(1),
	RunE:  runMsgBroadcast,
}

var msgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a worker's messages",
	Args:  cobra.NoArgs,
	RunE:  runMsgList,
}

var msgMarkNotifiedCmd = &cobra.Command{
	Use:   "mark-notified <id>",
	Short: "Record that a worker was told about a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runMsgMark,
}

var msgMarkDeliveredCmd = &cobra.Command{
	Use:   "mark-delivered <id>",
	Short: "Record that a worker read a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runMsgMark,
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Write or read a worker's inbox",
	Long: `The inbox is a single instructions document per worker. Writing it
replaces the previous content and notifies the worker.`,
}

var inboxWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Replace a worker's inbox and notify it",
	Args:  cobra.NoArgs,
	RunE:  runInboxWrite,
}

var inboxReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Print a worker's inbox",
	Args:  cobra.NoArgs,
	RunE:  runInboxRead,
}

var (
	msgFrom         string
	msgTo           string
	msgIncludeAll   bool
	msgPrompt       bool
	inboxFile       string
	inboxContent    string
	inboxTrigger    string
	inboxRawContent bool
)

func init() {
	rootCmd.AddCommand(msgCmd, inboxCmd)
	msgCmd.AddCommand(msgSendCmd, msgBroadcastCmd, msgListCmd, msgMarkNotifiedCmd, msgMarkDeliveredCmd)
	inboxCmd.AddCommand(inboxWriteCmd, inboxReadCmd)

	for _, c := range []*cobra.Command{msgSendCmd, msgBroadcastCmd} {
		c.Flags().StringVar(&msgFrom, "from", "", "Sender (default: $TEAMWORK_WORKER, else leader)")
	}
	msgSendCmd.Flags().StringVar(&msgTo, "to", "", "Recipient worker or leader (required)")
	_ = msgSendCmd.MarkFlagRequired("to")

	for _, c := range []*cobra.Command{msgListCmd, msgMarkNotifiedCmd, msgMarkDeliveredCmd, inboxWriteCmd, inboxReadCmd} {
		c.Flags().String("worker", "", "Mailbox owner (default: $TEAMWORK_WORKER)")
	}
	msgListCmd.Flags().BoolVarP(&msgIncludeAll, "all", "a", false, "Include delivered messages")
	msgListCmd.Flags().BoolVar(&msgPrompt, "prompt", false, "Print messages grouped by sender for a worker prompt")

	inboxWriteCmd.Flags().StringVarP(&inboxFile, "file", "f", "", "Read the content from a file (- for stdin)")
	inboxWriteCmd.Flags().StringVar(&inboxContent, "content", "", "Inbox content")
	inboxWriteCmd.Flags().StringVar(&inboxTrigger, "trigger", "", "Notification text (default: points at the inbox file)")
	inboxReadCmd.Flags().BoolVar(&inboxRawContent, "raw", false, "Print the content instead of a JSON result")
}

func sender(cmd *cobra.Command) string {
	if from := workerName(cmd, "from"); from != "" {
		return from
	}
	return team.LeaderName
}

func mailboxOwner(cmd *cobra.Command) (string, error) {
	worker := workerName(cmd, "worker")
	if worker == "" {
		return "", errors.New("no worker given: use --worker or set TEAMWORK_WORKER")
	}
	return worker, nil
}

func runMsgSend(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	from := sender(cmd)
	return runHub(cmd, false, func(a *app) (coordination.Result[*coordination.Delivery], error) {
		return a.hub.SendMessage(cmd.Context(), name, from, msgTo, args[0])
	})
}

func runMsgBroadcast(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	from := sender(cmd)
	return runHub(cmd, false, func(a *app) (coordination.Result[[]coordination.Delivery], error) {
		return a.hub.Broadcast(cmd.Context(), name, from, args[0])
	})
}

func runMsgList(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	worker, err := mailboxOwner(cmd)
	if err != nil {
		return err
	}
	if !msgPrompt {
		return runHub(cmd, false, func(a *app) (coordination.Result[[]mailbox.Message], error) {
			return a.hub.MailboxList(cmd.Context(), name, worker, msgIncludeAll)
		})
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.hub.MailboxList(cmd.Context(), name, worker, msgIncludeAll)
	if err != nil {
		return err
	}
	if !res.OK {
		return printResult(cmd.OutOrStdout(), res)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), mailbox.FormatForPrompt(res.Data))
	return err
}

func runMsgMark(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	worker, err := mailboxOwner(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[*mailbox.Message], error) {
		if cmd.Name() == "mark-delivered" {
			return a.hub.MailboxMarkDelivered(cmd.Context(), name, worker, args[0])
		}
		return a.hub.MailboxMarkNotified(cmd.Context(), name, worker, args[0])
	})
}

func runInboxWrite(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	worker, err := mailboxOwner(cmd)
	if err != nil {
		return err
	}
	content, err := inboxInput(cmd)
	if err != nil {
		return err
	}
	return runHub(cmd, false, func(a *app) (coordination.Result[dispatch.Outcome], error) {
		return a.hub.WriteInbox(cmd.Context(), name, worker, content, inboxTrigger)
	})
}

func inboxInput(cmd *cobra.Command) (string, error) {
	switch {
	case inboxFile == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case inboxFile != "":
		data, err := os.ReadFile(inboxFile)
		if err != nil {
			return "", fmt.Errorf("failed to read inbox file: %w", err)
		}
		return string(data), nil
	case cmd.Flags().Changed("content"):
		return inboxContent, nil
	default:
		return "", errors.New("no content given: use --content or --file")
	}
}

func runInboxRead(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}
	worker, err := mailboxOwner(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.hub.ReadInbox(cmd.Context(), name, worker)
	if err != nil {
		return err
	}
	if inboxRawContent && res.OK {
		_, err := fmt.Fprint(cmd.OutOrStdout(), res.Data)
		return err
	}
	return printResult(cmd.OutOrStdout(), res)
}
