package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lynassistant/lyn/internal/dependency"
	"github.com/lynassistant/lyn/internal/shared/llmutils"
	"github.com/lynassistant/lyn/internal/tools"
)

var findThreshold float64

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect the tool registry",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in tools",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		schemas := []tools.Schema{tools.DiscoverySchema()}
		for _, t := range tools.Builtins() {
			schemas = append(schemas, tools.SchemaOf(t))
		}
		for _, s := range schemas {
			fmt.Fprintf(w, "%s\t%s\n", s.Name, llmutils.Truncate(s.Description, 80))
		}
		return w.Flush()
	},
}

var toolsFindCmd = &cobra.Command{
	Use:   "find <capability>",
	Short: "Rank tools by similarity to a capability description",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsFind,
}

func init() {
	toolsFindCmd.Flags().Float64Var(&findThreshold, "threshold", -2, "Similarity threshold (default from config)")
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsFindCmd)
}

func runToolsFind(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, true); err != nil {
		return err
	}
	threshold := cfg.Agent.SimilarityThreshold
	if findThreshold >= -1 {
		threshold = findThreshold
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := dependency.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Close(context.Background())

	vec, err := container.Embedder().Embed(ctx, args[0])
	if err != nil {
		return err
	}
	reg := container.Registry()
	match, found := reg.FindByCapability(vec, threshold)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tSIMILARITY\t")
	for _, m := range reg.Rank(vec) {
		mark := ""
		if found && m.Tool.Name() == match.Tool.Name() {
			mark = "✓ match"
		}
		fmt.Fprintf(w, "%s\t%.4f\t%s\n", m.Tool.Name(), m.Similarity, mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(cmd.OutOrStdout(), "\nNo tool reaches the threshold %.2f.\n", threshold)
	}
	return nil
}
