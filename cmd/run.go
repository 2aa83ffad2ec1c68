// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
	"github.com/stitchqa/stitch/internal/browser"
	"github.com/stitchqa/stitch/internal/engine"
	"github.com/stitchqa/stitch/internal/history"
	"github.com/stitchqa/stitch/internal/loader"
	"github.com/stitchqa/stitch/internal/observability"
	"github.com/stitchqa/stitch/internal/results"
)

var runCmd = &cobra.Command{
	Use:   "run <test.yaml> [more-tests.yaml...]",
	Short: "Execute one or more test specifications",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTests,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runTests(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	specs := make([]*loader.TestSpec, 0, len(args))
	for _, path := range args {
		spec, err := loader.LoadFile(path)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	store, err := openHistoryStore(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("Failed to close healing history store", zap.Error(err))
		}
	}()

	sink, err := results.NewFileSink(cfg.Engine.ArtifactsDir, logger)
	if err != nil {
		return err
	}

	newBrowser := func(ctx context.Context) (browser.Capability, error) {
		return browser.NewSession(ctx, cfg.Browser, logger)
	}

	eng, err := engine.New(cfg, logger, store, newBrowser, sink)
	if err != nil {
		return err
	}

	queueSize := cfg.Engine.QueueSize
	if queueSize <= 0 {
		queueSize = len(specs)
	}
	runChan := make(chan engine.RunRequest, queueSize)
	eng.Start(ctx, runChan)

	done := make(chan *schemas.TestRunResult, len(specs))
	for _, spec := range specs {
		runChan <- engine.RunRequest{
			Name:  spec.Name,
			Steps: spec.Steps,
			Vars:  spec.Vars,
			Done:  done,
		}
	}
	close(runChan)
	eng.Stop()

	failed := 0
	for i := 0; i < len(specs); i++ {
		select {
		case result := <-done:
			printSummary(result)
			if result != nil && result.Status != schemas.RunPassed {
				failed++
			}
		default:
			// A worker was cancelled before picking up the run.
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d runs did not pass", failed, len(specs))
	}
	return nil
}

func openHistoryStore(ctx context.Context, logger *zap.Logger) (history.Store, error) {
	if cfg.History.Backend == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to history database: %w", err)
		}
		if err := history.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		store, err := history.NewPostgresStore(ctx, pool, cfg.History.MaxAge, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	}

	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	return history.OpenFileStore(path, cfg.History.MaxAge, logger)
}

func printSummary(result *schemas.TestRunResult) {
	if result == nil {
		fmt.Println("run aborted before execution")
		return
	}
	fmt.Printf("%s: %s (%d passed, %d failed, %d healed, %d skipped) in %s\n",
		result.Name, result.Status,
		result.PassedSteps, result.FailedSteps, result.HealedSteps, result.SkippedSteps,
		result.Duration.Round(time.Millisecond))
	for _, sr := range result.StepResults {
		if sr.Status == schemas.StepFailed {
			fmt.Printf("  step %d (%s) failed: %s\n", sr.Index, sr.Action, sr.Error)
			if sr.Healing != nil {
				fmt.Printf("    healing: best confidence %.2f (strategy %s)\n",
					sr.Healing.Confidence, sr.Healing.StrategyUsed)
			}
		}
		if sr.Status == schemas.StepHealed && sr.Healing != nil {
			fmt.Printf("  step %d (%s) healed: %q -> %q (%s, %.2f)\n",
				sr.Index, sr.Action,
				sr.Healing.OriginalSelector, sr.Healing.HealedSelector,
				sr.Healing.StrategyUsed, sr.Healing.Confidence)
		}
	}
}
