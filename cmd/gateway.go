package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lynassistant/lyn/internal/dependency"
	"github.com/lynassistant/lyn/internal/gateway"
	"github.com/lynassistant/lyn/internal/shared/cmdutils"
)

var gatewayPort int

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the lyn HTTP gateway",
	RunE:  runGateway,
}

func init() {
	gatewayCmd.Flags().IntVarP(&gatewayPort, "port", "p", 0, "Gateway port (default from config)")
}

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if gatewayPort > 0 {
		cfg.Gateway.Port = gatewayPort
	}
	if err := setupLogging(cfg, false); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := dependency.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Close(cctx)
	}()

	srv := gateway.NewServer(container.Engine(), gateway.Options{
		Addr:        cfg.Gateway.Addr(),
		RecallLimit: cfg.Memory.RecallLimit,
		Version:     version,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Gateway running on http://%s. Press Ctrl+C to stop.\n", cmdutils.Logo, cfg.Gateway.Addr())
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	fmt.Fprintln(out, "\nShutdown complete.")
	return nil
}
