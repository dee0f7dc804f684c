package cmd

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/taskqueue"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func sampleStatus() *coordination.TeamStatus {
	return &coordination.TeamStatus{
		Team: &team.Config{
			Name:            "alpha",
			TmuxSession:     "teamwork-alpha",
			WorkerCount:     2,
			MaxWorkers:      4,
			NextWorkerIndex: 4,
		},
		Workers: []coordination.WorkerView{
			{
				Worker: team.Worker{Name: "worker-1", Index: 1, Role: team.RoleExecutor, PaneID: "%1"},
				Status: team.WorkerStatus{State: team.StateWorking, CurrentTaskID: "7"},
			},
			{
				Worker: team.Worker{Name: "worker-3", Index: 3, Role: team.RoleReviewer},
				Status: team.WorkerStatus{State: team.StateIdle},
			},
		},
		Tasks:           taskqueue.Summary{Total: 3, Pending: 2, Ready: 1, InProgress: 1},
		PendingDispatch: 1,
		ScalingEnabled:  true,
	}
}

func TestRenderStatus_Plain(t *testing.T) {
	out := renderStatus(sampleStatus(), false)

	assert.NotContains(t, out, "\x1b[")
	lines := strings.Split(out, "\n")
	assert.Equal(t, "Team: alpha", lines[0])
	assert.Contains(t, out, "Workers: 2/4 (next index 4)")
	assert.Contains(t, out, "Scaling: enabled")
	assert.Contains(t, out, "Pending notifications: 1")

	var rows []string
	for _, l := range lines {
		if strings.HasPrefix(l, "worker-") || strings.HasPrefix(l, "WORKER") {
			rows = append(rows, l)
		}
	}
	if assert.Len(t, rows, 3) {
		assert.Equal(t, "WORKER    ROLE      PANE  STATE    TASK", rows[0])
		assert.Equal(t, "worker-1  executor  %1    working  7", rows[1])
		assert.Equal(t, "worker-3  reviewer  -     idle     -", rows[2])
	}
}

func TestRenderStatus_StyledKeepsColumns(t *testing.T) {
	lipgloss.SetColorProfile(termenv.TrueColor)
	t.Cleanup(func() { lipgloss.SetColorProfile(termenv.Ascii) })

	styled := renderStatus(sampleStatus(), true)
	assert.Contains(t, styled, "\x1b[")
	assert.Equal(t, renderStatus(sampleStatus(), false), ansi.Strip(styled))
}
