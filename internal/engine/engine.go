// File: internal/engine/engine.go
//
// Package engine manages the in-process distribution of test runs to a pool
// of workers. Runs are independent: each gets its own browser session and
// execution context; only the healing history store is shared, and it
// serializes its own writes.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/stitchqa/stitch/api/schemas"
	"github.com/stitchqa/stitch/internal/browser"
	"github.com/stitchqa/stitch/internal/config"
	"github.com/stitchqa/stitch/internal/healing"
	"github.com/stitchqa/stitch/internal/history"
	"github.com/stitchqa/stitch/internal/recovery"
	"github.com/stitchqa/stitch/internal/runner"
)

// RunRequest is one test run to execute.
type RunRequest struct {
	Name  string
	Steps []schemas.TestStep
	Vars  map[string]string
	// Done, when non-nil, receives the finished result exactly once.
	Done chan<- *schemas.TestRunResult
}

// BrowserFactory creates the browser session for one run. The engine closes
// the session when the run ends.
type BrowserFactory func(ctx context.Context) (browser.Capability, error)

// Sink persists finished run results.
type Sink interface {
	Persist(ctx context.Context, result *schemas.TestRunResult) error
}

// Engine is the run pool.
type Engine struct {
	cfg        config.Config
	logger     *zap.Logger
	store      history.Store
	resolver   *healing.Resolver
	newBrowser BrowserFactory
	sink       Sink

	// browserSlots bounds live browser sessions; Chrome instances are far
	// heavier than worker goroutines.
	browserSlots *semaphore.Weighted

	wg        sync.WaitGroup
	stateLock sync.Mutex
	isRunning bool
}

// New validates dependencies and builds an engine.
func New(cfg config.Config, logger *zap.Logger, store history.Store, newBrowser BrowserFactory, sink Sink) (*Engine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if store == nil {
		return nil, errors.New("history store cannot be nil")
	}
	if newBrowser == nil {
		return nil, errors.New("browser factory cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("result sink cannot be nil")
	}

	concurrency := cfg.Engine.RunConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	return &Engine{
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "engine")),
		store:        store,
		resolver:     healing.NewResolver(store, cfg.Healing, logger),
		newBrowser:   newBrowser,
		sink:         sink,
		browserSlots: semaphore.NewWeighted(int64(concurrency)),
	}, nil
}

// Start launches the worker pool consuming runs from runChan. Close the
// channel to drain and shut down.
func (e *Engine) Start(ctx context.Context, runChan <-chan RunRequest) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("Engine.Start called, but engine is already running")
		return
	}
	e.isRunning = true
	e.stateLock.Unlock()

	concurrency := e.cfg.Engine.RunConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	e.logger.Info("Starting run engine worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, runChan)
	}
}

// Stop waits for all workers to finish.
func (e *Engine) Stop() {
	e.logger.Info("Stopping run engine, waiting for workers")
	e.wg.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()
	e.logger.Info("Run engine stopped")
}

func (e *Engine) runWorker(ctx context.Context, workerID int, runChan <-chan RunRequest) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down", zap.Error(ctx.Err()))
			return
		case req, ok := <-runChan:
			if !ok {
				logger.Debug("Run queue closed and drained, worker shutting down")
				return
			}
			e.process(ctx, req, logger)
		}
	}
}

// process executes one run end to end.
func (e *Engine) process(ctx context.Context, req RunRequest, logger *zap.Logger) {
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID), zap.String("name", req.Name))

	result := e.execute(ctx, runID, req, logger)

	if req.Done != nil {
		req.Done <- result
	}
	if result == nil {
		return
	}

	// Persist with a background context so results survive shutdown
	// cancellation of the run context.
	persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.sink.Persist(persistCtx, result); err != nil {
		logger.Error("Failed to persist run result", zap.Error(err))
	}
}

func (e *Engine) execute(ctx context.Context, runID string, req RunRequest, logger *zap.Logger) *schemas.TestRunResult {
	if err := e.browserSlots.Acquire(ctx, 1); err != nil {
		logger.Warn("Cancelled while waiting for a browser slot", zap.Error(err))
		return nil
	}
	defer e.browserSlots.Release(1)

	runTimeout := e.cfg.Engine.DefaultRunTimeout
	if runTimeout <= 0 {
		runTimeout = 15 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	session, err := e.newBrowser(runCtx)
	if err != nil {
		logger.Error("Failed to create browser session", zap.Error(err))
		return failedResult(runID, req.Name, err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := session.Close(closeCtx); err != nil {
			logger.Warn("Failed to close browser session", zap.Error(err))
		}
	}()

	coordinator := recovery.NewCoordinator(session, e.resolver, e.cfg.Healing.Enabled, logger)
	exec := runner.NewStepExecutor(e.cfg.Runner, coordinator, e.resolver, logger)
	ec := runner.NewExecutionContext(runID, session, e.store, req.Vars)

	return exec.Run(runCtx, req.Name, req.Steps, ec)
}

// failedResult synthesizes a run result for failures before the first step.
func failedResult(runID, name string, err error) *schemas.TestRunResult {
	now := time.Now().UTC()
	return &schemas.TestRunResult{
		RunID:      runID,
		Name:       name,
		Status:     schemas.RunFailed,
		StartedAt:  now,
		FinishedAt: now,
		StepResults: []schemas.StepResult{{
			Status: schemas.StepFailed,
			Error:  "browser session unavailable: " + err.Error(),
		}},
		FailedSteps: 1,
	}
}
