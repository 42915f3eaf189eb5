package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "switchbackup",
		Short: "Back up network switch configurations over SSH",
		Long: `switchbackup connects to every switch in the device list, pages the
running configuration out of an interactive shell and stores it as a
timestamped snapshot when it differs from what is already stored.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), configPath)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to switchbackup.yaml")
	rootCmd.AddCommand(serveCmd(&configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting backup process", zap.String("backup_root", a.store.Root()))
	summary, err := a.runOnce(ctx)
	if err != nil {
		return err
	}

	a.logger.Info("backup process complete",
		zap.String("run_id", summary.RunID.String()),
		zap.Int("devices", len(summary.Records)),
		zap.Int("failed", summary.Failed()),
	)
	return nil
}
