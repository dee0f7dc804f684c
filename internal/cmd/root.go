package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/teamwork/internal/config"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "teamwork",
	Short: "Coordinate a team of agent workers through shared state",
	Long: `Teamwork coordinates a leader and a team of worker processes through a
shared .teamwork directory: a task registry with optimistic claims, per-worker
mailboxes, tracked dispatch of notifications, and worker scaling in tmux.

Every coordination command prints a JSON result. Failures with a known error
code still print a result and exit with status 1.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Blocking commands stop when ctx is done.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/teamwork/config.yaml)")
	rootCmd.PersistentFlags().String("root", "", "state directory (default: nearest .teamwork above the working directory)")
	rootCmd.PersistentFlags().StringP("team", "t", "", "team name (default: $TEAMWORK_TEAM)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("state.dir", rootCmd.PersistentFlags().Lookup("root"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(filepath.Join(".", state.DirName))
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TEAMWORK")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TEAMWORK_DISPATCH_RECEIPT_TIMEOUT for dispatch.receipt_timeout
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// teamName resolves the --team flag, falling back to the environment a
// spawned worker inherits.
func teamName(cmd *cobra.Command) (string, error) {
	name, _ := cmd.Flags().GetString("team")
	if name == "" {
		name = os.Getenv("TEAMWORK_TEAM")
	}
	if name == "" {
		return "", errNoTeam
	}
	return name, nil
}

// workerName resolves a --worker style flag, falling back to the identity a
// spawned worker inherits.
func workerName(cmd *cobra.Command, flag string) string {
	name, _ := cmd.Flags().GetString(flag)
	if name == "" {
		name = os.Getenv("TEAMWORK_WORKER")
	}
	return name
}
