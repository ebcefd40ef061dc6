package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/app"
	"github.com/scope3-agent/backend/internal/evaluation"
	"github.com/scope3-agent/backend/pkg/config"
	"github.com/scope3-agent/backend/pkg/logger"
)

var (
	datasetPath string
	configPath  string
	concurrency int
	outputPath  string
	minPassRate float64
)

func main() {
	root := &cobra.Command{
		Use:          "eval",
		Short:        "Replay a dataset of conversations through the agent and score the answers",
		SilenceUsage: true,
		RunE:         runEval,
	}

	root.Flags().StringVar(&datasetPath, "dataset", "", "path to the JSON dataset")
	root.Flags().StringVar(&configPath, "config", "", "config file (defaults to the API server lookup)")
	root.Flags().IntVar(&concurrency, "concurrency", 4, "cases evaluated at once")
	root.Flags().StringVar(&outputPath, "output", "", "write the JSON report to this file")
	root.Flags().Float64Var(&minPassRate, "min-pass-rate", 0, "exit non-zero below this pass rate (percent)")
	_ = root.MarkFlagRequired("dataset")

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runEval(cmd *cobra.Command, _ []string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ds, err := evaluation.LoadDataset(datasetPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	ev := evaluation.NewEvaluator(stack.Engine, stack.History, stack.Embedder, stack.SQLite, evaluation.Config{
		Concurrency: concurrency,
	})

	report, err := ev.Run(ctx, ds)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), report.String())

	if outputPath != "" {
		if err := writeReport(outputPath, report); err != nil {
			return err
		}
		logger.Info("Report written", zap.String("path", outputPath))
	}

	if report.PassRate() < minPassRate {
		return fmt.Errorf("pass rate %.1f%% is below %.1f%%", report.PassRate(), minPassRate)
	}
	return nil
}

func writeReport(path string, report *evaluation.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

