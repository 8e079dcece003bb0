package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lynassistant/lyn/internal/config"
	"github.com/lynassistant/lyn/internal/providers"
	"github.com/lynassistant/lyn/internal/shared/cmdutils"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lyn status",
	RunE:  runStatus,
}

func mark(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "✓"
	}
	return "✗"
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}

	fmt.Fprintf(out, "%s lyn Status\n\n", cmdutils.Logo)
	fmt.Fprintf(out, "Config:     %s %s\n", cfgPath, mark(cfgPath))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  (could not load config: %v)\n", err)
		return nil
	}
	ws := cfg.WorkspacePath()
	fmt.Fprintf(out, "Workspace:  %s %s\n", ws, mark(ws))

	chat := providers.NewChat(cfg.ChatParams())
	embed := providers.NewEmbedder(cfg.EmbeddingParams())
	fmt.Fprintf(out, "Model:      %s via %s (%s)\n", cfg.Agent.Model, label(chat.Spec()), chat.APIBase())
	fmt.Fprintf(out, "Embeddings: %s via %s (%s)\n", cfg.Embeddings.Model, label(embed.Spec()), embed.APIBase())
	fmt.Fprintf(out, "Threshold:  %.2f\n", cfg.Agent.SimilarityThreshold)
	fmt.Fprintf(out, "Memory:     %s\n", cfg.Memory.Backend)
	fmt.Fprintf(out, "Cache:      %s\n", cfg.Embeddings.Cache.Backend)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "\n✗ %v\n", err)
	}
	return nil
}

func label(spec *providers.ProviderSpec) string {
	if spec == nil {
		return "unknown"
	}
	return spec.Label()
}
