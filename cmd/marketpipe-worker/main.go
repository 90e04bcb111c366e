package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketpipe/internal/amqp"
	"marketpipe/internal/cli"
	"marketpipe/internal/core"
	"marketpipe/internal/log"
	"marketpipe/internal/reader"
	"marketpipe/internal/services"
	"marketpipe/internal/sheets"
	"marketpipe/internal/store"
)

// worker owns one long-lived pipeline and runs it on a schedule and on
// demand via the control queue. The mutex serializes the two triggers so
// a scheduled run never overlaps a commanded one.
type worker struct {
	mu       sync.Mutex
	logger   *log.Logger
	agg      *services.Aggregator
	ingestor *services.Ingestor
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger().WithComponent(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting marketpipe-worker",
		"interval", cfg.WorkerInterval,
		"backend", cfg.DataBackend,
		"amqp_enabled", cfg.AMQPURL != "")

	ledger := cli.InitLedger(logger, cfg.LedgerDBPath)
	defer ledger.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), time.Minute)
	result := cli.InitBackend(startupCtx, logger, cfg)
	startupCancel()
	if result.Cleanup != nil {
		defer result.Cleanup()
	}
	be := result.Backend

	var controlClient *amqp.Client
	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect AMQP", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		controlClient = client
		events = client
	}

	cache := store.New(be.Workbook, cfg.IngestBatchSize)
	dests := map[string]sheets.Sheet{
		core.DestinationPrimary:   be.Primary,
		core.DestinationSecondary: be.Secondary,
	}
	w := &worker{
		logger: logger,
		agg: services.NewAggregator(ledger, cache, dests, core.RouteByYear(cfg.SplitYear), events, services.AggregatorConfig{
			BatchSize:     cfg.AggBatchSize,
			Budget:        cfg.TimeBudget,
			MaxIterations: cfg.ResumeMaxIter,
			ResumeSleep:   cfg.ResumeSleep,
		}),
	}
	if be.Tree != nil {
		r, err := reader.New(reader.DefaultSchema(), cfg.CategoryAllowlist)
		if err != nil {
			logger.Error("Failed to build reader", "error", err)
			os.Exit(1)
		}
		w.ingestor = services.NewIngestor(be.Tree, r, cache, ledger)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.runOnSchedule(ctx, cfg.WorkerInterval) })
	if controlClient != nil {
		g.Go(func() error {
			return controlClient.ConsumeControl(ctx, func(msg *amqp.ControlMessage) error {
				return w.handleCommand(ctx, msg)
			})
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("Worker stopped with error", "error", err)
		return
	}
	cli.WaitForShutdown(ctx, done)
}

// runOnSchedule runs the full pipeline immediately and then on every
// tick. A tick that fires while work is suspended simply resumes it.
func (w *worker) runOnSchedule(ctx context.Context, interval time.Duration) error {
	if err := w.runPipeline(ctx); err != nil {
		w.logger.Error("Scheduled run failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.runPipeline(ctx); err != nil {
				w.logger.Error("Scheduled run failed", "error", err)
			}
		}
	}
}

func (w *worker) handleCommand(ctx context.Context, msg *amqp.ControlMessage) error {
	switch msg.Command {
	case amqp.CommandIngest:
		return w.runIngest(ctx)
	case amqp.CommandRun:
		return w.runPipeline(ctx)
	case amqp.CommandReset:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.agg.Reset(ctx)
	default:
		return fmt.Errorf("unknown pipeline command %q", msg.Command)
	}
}

func (w *worker) runIngest(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ingestor == nil {
		return fmt.Errorf("no source tree configured")
	}
	_, err := w.ingestor.ProcessSources(ctx)
	return err
}

func (w *worker) runPipeline(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ingestor != nil {
		if _, err := w.ingestor.ProcessSources(ctx); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	}
	if err := w.agg.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}
	complete, err := w.agg.RunUntilComplete(ctx)
	if err != nil {
		return err
	}
	if !complete {
		w.logger.Warn("Pipeline left work remaining, next tick resumes it")
	}
	return nil
}
