// Package cmd implements the lyn CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lynassistant/lyn/internal/config"
	"github.com/lynassistant/lyn/internal/logging"
	"github.com/lynassistant/lyn/internal/shared/cmdutils"
)

const version = "0.1.0"

var cfgFile string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:           "lyn",
	Short:         cmdutils.Logo + " lyn, a personal assistant with tool discovery",
	Long:          cmdutils.Logo + " lyn answers prompts with a local LLM and discovers the right tool by meaning.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		config.LoadDotEnv()
	},
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $LYN_CONFIG or ~/.lyn/config.json)")

	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lyn version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s lyn v%s\n", cmdutils.Logo, version)
	},
}

// loadConfig reads the config file and applies LYN_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the configured logger. Interactive commands pass
// quiet=true to keep the terminal clean unless the user asked for logs.
func setupLogging(cfg *config.Config, quiet bool) error {
	level := cfg.Log.Level
	if quiet {
		level = "warn"
	}
	_, err := logging.Init(level, cfg.Log.Format)
	return err
}
