package main

import (
	"context"
	"fmt"

	"marketpipe/internal/cli"
	"marketpipe/internal/config"
	"marketpipe/internal/core"
	"marketpipe/internal/log"
	"marketpipe/internal/reader"
	"marketpipe/internal/services"
	"marketpipe/internal/sheets"
	"marketpipe/internal/storage"
	"marketpipe/internal/store"
)

// pipeline holds everything one command invocation needs, built from the
// environment. Close releases the ledger, backend and broker resources.
type pipeline struct {
	cfg      *config.Config
	logger   *log.Logger
	ledger   *storage.Repository
	cache    *store.Store
	agg      *services.Aggregator
	ingestor *services.Ingestor

	cleanups []func() error
}

func newPipeline(ctx context.Context) (*pipeline, error) {
	cli.LoadEnvFile()
	logger := cli.SetupLogger().WithComponent(log.ComponentCLI)
	cfg := cli.LoadAndValidateConfig(logger)

	ledger := cli.InitLedger(logger, cfg.LedgerDBPath)
	p := &pipeline{cfg: cfg, logger: logger, ledger: ledger}
	p.cleanups = append(p.cleanups, ledger.Close)

	result := cli.InitBackend(ctx, logger, cfg)
	if result.Cleanup != nil {
		p.cleanups = append(p.cleanups, result.Cleanup)
	}
	be := result.Backend

	events, closeEvents := cli.InitEventPublisher(logger, cfg)
	if closeEvents != nil {
		p.cleanups = append(p.cleanups, closeEvents)
	}

	p.cache = store.New(be.Workbook, cfg.IngestBatchSize)
	dests := map[string]sheets.Sheet{
		core.DestinationPrimary:   be.Primary,
		core.DestinationSecondary: be.Secondary,
	}
	p.agg = services.NewAggregator(ledger, p.cache, dests, core.RouteByYear(cfg.SplitYear), events, services.AggregatorConfig{
		BatchSize:     cfg.AggBatchSize,
		Budget:        cfg.TimeBudget,
		MaxIterations: cfg.ResumeMaxIter,
		ResumeSleep:   cfg.ResumeSleep,
	})

	if be.Tree != nil {
		r, err := reader.New(reader.DefaultSchema(), cfg.CategoryAllowlist)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("build reader: %w", err)
		}
		p.ingestor = services.NewIngestor(be.Tree, r, p.cache, ledger)
	}

	return p, nil
}

func (p *pipeline) ingest(ctx context.Context) error {
	if p.ingestor == nil {
		return fmt.Errorf("no source tree configured, set SOURCE_ROOT or SOURCE_FOLDER_ID")
	}
	summary, err := p.ingestor.ProcessSources(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %d of %d units (%d rows, %d skipped, %d already in)\n",
		summary.Ingested, summary.Units, summary.Rows, summary.Skipped, summary.AlreadyIn)
	return nil
}

func (p *pipeline) printStats(ctx context.Context) error {
	stats, err := p.agg.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pending:     %d\n", stats.Pending)
	fmt.Printf("in progress: %d\n", stats.InProgress)
	fmt.Printf("completed:   %d\n", stats.Completed)
	fmt.Printf("errored:     %d\n", stats.Errored)
	if stats.Remaining() {
		fmt.Println("work remains; run `continue` to resume")
	}
	return nil
}

func (p *pipeline) Close() {
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		if err := p.cleanups[i](); err != nil {
			p.logger.Warn("Cleanup failed", "error", err)
		}
	}
}
