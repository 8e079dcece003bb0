package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lynassistant/lyn/internal/dependency"
)

var memoryLimit int

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect stored interaction summaries",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the summaries most related to a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemorySearch,
}

func init() {
	memorySearchCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 0, "Maximum results (default from config)")
	memoryCmd.AddCommand(memorySearchCmd)
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, true); err != nil {
		return err
	}
	limit := cfg.Memory.RecallLimit
	if memoryLimit > 0 {
		limit = memoryLimit
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := dependency.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Close(context.Background())

	results, err := container.Engine().Recall(ctx, args[0], limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No memories found.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "%.3f  %s  %s\n", r.Similarity, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Summary)
	}
	return nil
}
