package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/scaling"
	"github.com/Iron-Ham/teamwork/internal/taskqueue"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initCmd = &cobra.Command{
	Use:   "init [team]",
	Short: "Create a team",
	Long: `Create a team and its state directory.

The team is created in the nearest .teamwork directory, or in a new
.teamwork directory under the working directory when none exists.

A manifest may describe the team and its initial tasks:

  name: alpha
  workers: 3
  max_workers: 6
  role: executor
  tmux_session: teamwork-alpha
  tasks:
    - subject: Write the parser
    - subject: Test the parser
      blocked_by: ["1"]

Tasks are numbered from 1 in manifest order. Flags override manifest values.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initWorkers    int
	initMaxWorkers int
	initRole       string
	initSession    string
	initLeaderPane string
	initHUDPane    string
	initPanes      []string
	initManifest   string
	initWorkingDir string
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().IntVarP(&initWorkers, "workers", "w", 0, "Number of initial workers (default: 1)")
	initCmd.Flags().IntVar(&initMaxWorkers, "max-workers", 0, "Team size limit (default: scaling.max_workers)")
	initCmd.Flags().StringVar(&initRole, "role", "", "Role of the initial workers (default: executor)")
	initCmd.Flags().StringVar(&initSession, "session", "", "tmux session the team runs in")
	initCmd.Flags().StringVar(&initLeaderPane, "leader-pane", "", "Pane id of the leader (default: $TMUX_PANE)")
	initCmd.Flags().StringVar(&initHUDPane, "hud-pane", "", "Pane id of the status display")
	initCmd.Flags().StringSliceVar(&initPanes, "panes", nil, "Pane ids of the initial workers, in order")
	initCmd.Flags().StringVarP(&initManifest, "manifest", "m", "", "Team manifest (YAML)")
	initCmd.Flags().StringVar(&initWorkingDir, "cwd", "", "Working directory recorded for the workers (default: current directory)")
}

// manifest is the YAML team description accepted by init.
type manifest struct {
	Name        string             `yaml:"name"`
	Workers     int                `yaml:"workers"`
	MaxWorkers  int                `yaml:"max_workers"`
	Role        string             `yaml:"role"`
	TmuxSession string             `yaml:"tmux_session"`
	LeaderPane  string             `yaml:"leader_pane"`
	HUDPane     string             `yaml:"hud_pane"`
	Tasks       []scaling.TaskSpec `yaml:"tasks"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	for i, t := range m.Tasks {
		if strings.TrimSpace(t.Subject) == "" {
			return nil, fmt.Errorf("manifest %s: task %d has no subject", path, i+1)
		}
	}
	return &m, nil
}

// initOutput is the data printed by init.
type initOutput struct {
	Team  *team.Config      `json:"team"`
	Tasks []*taskqueue.Task `json:"tasks,omitempty"`
}

func runInit(cmd *cobra.Command, args []string) error {
	m := &manifest{}
	if initManifest != "" {
		var err error
		if m, err = loadManifest(initManifest); err != nil {
			return err
		}
	}

	in, err := initInput(cmd, args, m)
	if err != nil {
		return err
	}

	return runHub(cmd, true, func(a *app) (coordination.Result[initOutput], error) {
		if in.MaxWorkers == 0 {
			in.MaxWorkers = max(a.cfg.Scaling.MaxWorkers, in.Workers)
		}
		ctx := cmd.Context()

		res, err := a.hub.InitTeam(ctx, in)
		if err != nil || !res.OK {
			return coordination.Result[initOutput]{Error: res.Error}, err
		}

		out := initOutput{Team: res.Data}
		for _, spec := range m.Tasks {
			tr, err := a.hub.CreateTask(ctx, res.Data.Name, taskqueue.CreateInput{
				Subject:     spec.Subject,
				Description: spec.Description,
				BlockedBy:   spec.BlockedBy,
			})
			if err != nil || !tr.OK {
				return coordination.Result[initOutput]{Data: out, Error: tr.Error}, err
			}
			out.Tasks = append(out.Tasks, tr.Data)
		}
		return coordination.Result[initOutput]{OK: true, Data: out}, nil
	})
}

// initInput merges the manifest with the command line.
func initInput(cmd *cobra.Command, args []string, m *manifest) (team.InitInput, error) {
	in := team.InitInput{
		Name:         m.Name,
		Workers:      m.Workers,
		MaxWorkers:   m.MaxWorkers,
		Role:         team.Role(m.Role),
		TmuxSession:  m.TmuxSession,
		LeaderPaneID: m.LeaderPane,
		HUDPaneID:    m.HUDPane,
		Panes:        initPanes,
		WorkingDir:   initWorkingDir,
	}
	if len(args) > 0 {
		in.Name = args[0]
	}
	if in.Name == "" {
		name, err := teamName(cmd)
		if err != nil {
			return in, err
		}
		in.Name = name
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		in.Workers = initWorkers
	}
	if flags.Changed("max-workers") {
		in.MaxWorkers = initMaxWorkers
	}
	if flags.Changed("role") {
		in.Role = team.Role(initRole)
	}
	if flags.Changed("session") {
		in.TmuxSession = initSession
	}
	if flags.Changed("leader-pane") {
		in.LeaderPaneID = initLeaderPane
	}
	if flags.Changed("hud-pane") {
		in.HUDPaneID = initHUDPane
	}

	if in.Workers == 0 {
		in.Workers = 1
	}
	if in.Role == "" {
		in.Role = team.RoleExecutor
	}
	if in.LeaderPaneID == "" {
		in.LeaderPaneID = os.Getenv("TMUX_PANE")
	}
	if in.WorkingDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return in, fmt.Errorf("failed to get current directory: %w", err)
		}
		in.WorkingDir = cwd
	}
	return in, nil
}
