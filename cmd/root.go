package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-finetune/config"
	"github.com/dhcgn/mbox-finetune/mbox"
	"github.com/dhcgn/mbox-finetune/pipeline"
	"github.com/dhcgn/mbox-finetune/progress"
	"github.com/dhcgn/mbox-finetune/runner"
	"github.com/dhcgn/mbox-finetune/stats"
)

// NewRootCommand builds the command tree. Running it without a subcommand
// builds the corpus.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "mbox-finetune",
		Short: "Build an email engagement finetune corpus from a Gmail Takeout mbox",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(cmd)
		},
		RunE:          runBuild,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterLoggingFlags(rootCmd)
	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, err
	}

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Extract, aggregate, reorder and emit the finetune corpus",
		Args:  cobra.NoArgs,
		RunE:  runBuild,
	}
	if err := config.RegisterFlags(buildCmd); err != nil {
		return nil, err
	}

	rootCmd.AddCommand(buildCmd, newMboxStatsCommand(), newPredictCommand())
	return rootCmd, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	rootCmd, err := NewRootCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogger(cfg.Logging, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup()
	}()

	slog.SetDefault(logger)
	logger.Info("starting mbox-finetune",
		"mbox", cfg.MboxPath,
		"output", cfg.OutputPath,
		"format", cfg.Format,
		"recipients", cfg.Rules.Recipients,
		"strict", cfg.Strict)

	return build(cmd.Context(), cfg, logger)
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	r := runner.New(logger)
	stats.NewReporter(r, logger)

	total := 0
	if cfg.LogLevel == "info" {
		n, err := mbox.CountMessages(cfg.MboxPath)
		if err != nil {
			logger.Warn("could not count messages, progress bar disabled", "err", err)
		}
		total = n
	}
	progress.NewReporter(r, progress.New(total, cfg.LogLevel))

	opts := pipeline.Options{
		MboxPath:       cfg.MboxPath,
		OutputPath:     cfg.OutputPath,
		Format:         cfg.Format,
		DatasetCSV:     cfg.DatasetCSV,
		QuarantinePath: cfg.QuarantinePath,
		Strict:         cfg.Strict,
		Rules:          cfg.Rules,
	}
	if _, err := pipeline.NewBuilder(opts, r, logger); err != nil {
		return fmt.Errorf("pipeline.NewBuilder: %w", err)
	}

	return r.Start(ctx)
}
