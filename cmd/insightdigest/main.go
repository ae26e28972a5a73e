package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"InsightDigest/internal/app"
	"InsightDigest/internal/config"
	"InsightDigest/internal/domain"
	"InsightDigest/internal/logging"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(domain.ExitCode(err))
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		loop       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "insightdigest",
		Short: "Send the periodic media and analytics digest when it is due",
		Long: `Checks the reply mailbox for cadence commands, then sends the digest if the
schedule is due. Exit codes: 0 sent or correctly skipped, 1 aborted run,
2 another run holds the lock.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(cmd.Context(), configPath, loop)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config (default $INSIGHT_DIGEST_CONFIG)")
	cmd.Flags().DurationVar(&loop, "loop", 0, "Run in-process every interval instead of once (e.g. 1h)")

	cmd.AddCommand(statusCmd(&configPath))
	return cmd
}

func runDigest(ctx context.Context, configPath string, loop time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close adapters", "error", err)
		}
	}()

	if loop <= 0 {
		loop = cfg.Scheduler.LoopInterval
	}
	if loop > 0 {
		return application.Loop(ctx, loop)
	}

	outcome, err := application.Run(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			logger.Info("another run is in progress")
		}
		return err
	}
	logger.Info("done", "outcome", outcome)
	return nil
}
