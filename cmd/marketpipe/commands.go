package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// execute builds the pipeline from the environment, runs fn and tears it
// down again. Every subcommand funnels through here.
func execute(ctx context.Context, fn func(context.Context, *pipeline) error) subcommands.ExitStatus {
	p, err := newPipeline(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer p.Close()

	if err := fn(ctx, p); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type ingestCmd struct{}

func (*ingestCmd) Name() string     { return "ingest" }
func (*ingestCmd) Synopsis() string { return "scan the source tree and fill monthly partitions" }
func (*ingestCmd) Usage() string {
	return `marketpipe ingest

  Walks the configured source tree, parses every unprocessed export and
  appends its rows to the month partition named by the export's own
  metadata. Already-processed units and malformed units are skipped.
`
}
func (*ingestCmd) SetFlags(*flag.FlagSet) {}

func (c *ingestCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, func(ctx context.Context, p *pipeline) error {
		return p.ingest(ctx)
	})
}

type startCmd struct{}

func (*startCmd) Name() string     { return "start" }
func (*startCmd) Synopsis() string { return "initialize the ledger and aggregate from scratch" }
func (*startCmd) Usage() string {
	return `marketpipe start

  Rebuilds the progress ledger from the current cache partitions, routing
  each month to its destination by year, then aggregates until done or
  until the time budget expires. Use continue to resume a suspended run.
`
}
func (*startCmd) SetFlags(*flag.FlagSet) {}

func (c *startCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, func(ctx context.Context, p *pipeline) error {
		if err := p.agg.Initialize(ctx); err != nil {
			return err
		}
		complete, err := p.agg.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !complete {
			fmt.Println("time budget reached; run `continue` to resume")
		}
		return nil
	})
}

type continueCmd struct{}

func (*continueCmd) Name() string     { return "continue" }
func (*continueCmd) Synopsis() string { return "resume a suspended aggregation run" }
func (*continueCmd) Usage() string {
	return `marketpipe continue

  Picks up aggregation from the ledger checkpoint without touching
  completed work. Safe to invoke repeatedly.
`
}
func (*continueCmd) SetFlags(*flag.FlagSet) {}

func (c *continueCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, func(ctx context.Context, p *pipeline) error {
		complete, err := p.agg.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !complete {
			fmt.Println("time budget reached; run `continue` again to resume")
		}
		return nil
	})
}

type runCmd struct{}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "ingest, initialize and aggregate to completion" }
func (*runCmd) Usage() string {
	return `marketpipe run

  The full pipeline: ingest new source units, then aggregate with
  automatic resumption until every partition is merged or the iteration
  cap is reached. An existing ledger is resumed from its checkpoints;
  use start or reset to rebuild it.
`
}
func (*runCmd) SetFlags(*flag.FlagSet) {}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, func(ctx context.Context, p *pipeline) error {
		if err := p.ingest(ctx); err != nil {
			return err
		}
		if err := p.agg.EnsureInitialized(ctx); err != nil {
			return err
		}
		complete, err := p.agg.RunUntilComplete(ctx)
		if err != nil {
			return err
		}
		if !complete {
			fmt.Println("iteration cap reached with work remaining; run `continue`")
		}
		return nil
	})
}

type resetCmd struct {
	yes bool
}

func (*resetCmd) Name() string     { return "reset" }
func (*resetCmd) Synopsis() string { return "clear both destinations and rebuild the ledger" }
func (*resetCmd) Usage() string {
	return `marketpipe reset -yes

  Deletes every row from both destination datasets and re-creates the
  ledger with all partitions pending. Source files and cache partitions
  are untouched.
`
}

func (c *resetCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "confirm destructive reset")
}

func (c *resetCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.yes {
		fmt.Fprintln(os.Stderr, "reset clears both destination datasets; re-run with -yes to confirm")
		return subcommands.ExitUsageError
	}
	return execute(ctx, func(ctx context.Context, p *pipeline) error {
		return p.agg.Reset(ctx)
	})
}

type statusCmd struct{}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show ledger progress" }
func (*statusCmd) Usage() string {
	return `marketpipe status

  Prints the number of pending, in-progress, completed and errored
  partitions from the progress ledger.
`
}
func (*statusCmd) SetFlags(*flag.FlagSet) {}

func (c *statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, func(ctx context.Context, p *pipeline) error {
		return p.printStats(ctx)
	})
}
