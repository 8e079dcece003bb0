package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lynassistant/lyn/internal/config"
	"github.com/lynassistant/lyn/internal/shared/cmdutils"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize configuration and workspace",
	RunE:  runOnboard,
}

func runOnboard(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(cfgPath)
	if err := config.Save(cfg, cfgPath); err != nil {
		return err
	}
	if statErr == nil {
		fmt.Fprintf(out, "✓ Config refreshed at %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "✓ Created config at %s\n", cfgPath)
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Fprintf(out, "✓ Workspace at %s\n", workspace)

	fmt.Fprintf(out, "\n%s lyn is ready!\n\n", cmdutils.Logo)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Start Ollama and pull the models: ollama pull %s && ollama pull %s\n", cfg.Agent.Model, cfg.Embeddings.Model)
	fmt.Fprintf(out, "  2. Chat: lyn agent -m \"What is 2+2?\"\n")
	return nil
}
