package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/Iron-Ham/teamwork/internal/util"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show team status",
	Long: `Display the roster of a team with each worker's state and the task
counts. Output is styled on a terminal and plain otherwise.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the JSON result instead of a table")
}

var (
	statusTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	statusHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9CA3AF"))
	statusMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))

	stateColors = map[team.State]lipgloss.Color{
		team.StateIdle:     lipgloss.Color("#9CA3AF"),
		team.StateWorking:  lipgloss.Color("#10B981"),
		team.StateDraining: lipgloss.Color("#F59E0B"),
		team.StateDone:     lipgloss.Color("#A78BFA"),
		team.StateUnknown:  lipgloss.Color("#F87171"),
	}
)

// maxTaskColumn bounds the current-task column.
const maxTaskColumn = 40

func runStatus(cmd *cobra.Command, args []string) error {
	name, err := teamName(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.hub.TeamStatus(cmd.Context(), name)
	if err != nil {
		return err
	}
	if statusJSON || !res.OK {
		return printResult(cmd.OutOrStdout(), res)
	}

	styled := cmd.OutOrStdout() == os.Stdout && term.IsTerminal(int(os.Stdout.Fd()))
	_, err = fmt.Fprint(cmd.OutOrStdout(), renderStatus(res.Data, styled))
	return err
}

// renderStatus formats a team snapshot as a table. Styling is applied only
// when styled is set.
func renderStatus(s *coordination.TeamStatus, styled bool) string {
	style := func(st lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return st.Render(text)
	}

	var sb strings.Builder
	cfg := s.Team
	sb.WriteString(style(statusTitle, "Team: "+cfg.Name))
	sb.WriteString("\n")
	if cfg.TmuxSession != "" {
		sb.WriteString(fmt.Sprintf("Session: %s\n", cfg.TmuxSession))
	}
	sb.WriteString(fmt.Sprintf("Workers: %d/%d (next index %d)\n", cfg.WorkerCount, cfg.MaxWorkers, cfg.NextWorkerIndex))
	scalingState := "disabled"
	if s.ScalingEnabled {
		scalingState = "enabled"
	}
	sb.WriteString(fmt.Sprintf("Scaling: %s\n\n", scalingState))

	rows := [][]string{{"WORKER", "ROLE", "PANE", "STATE", "TASK"}}
	for _, w := range s.Workers {
		rows = append(rows, []string{
			w.Name,
			string(w.Role),
			orDash(w.PaneID),
			string(w.Status.State),
			util.TruncateANSI(orDash(w.Status.CurrentTaskID), maxTaskColumn),
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			padded := cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			switch {
			case r == 0:
				padded = style(statusHeader, padded)
			case i == 3:
				padded = style(lipgloss.NewStyle().Foreground(stateColors[team.State(cell)]), padded)
			}
			cells[i] = padded
		}
		sb.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		sb.WriteString("\n")
	}

	t := s.Tasks
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Tasks: %d total, %d pending (%d ready), %d in progress, %d completed, %d failed\n",
		t.Total, t.Pending, t.Ready, t.InProgress, t.Completed, t.Failed))
	if s.PendingDispatch > 0 {
		sb.WriteString(style(statusMuted, fmt.Sprintf("Pending notifications: %d", s.PendingDispatch)))
		sb.WriteString("\n")
	}
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
