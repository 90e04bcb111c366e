package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	commander.Register(&ingestCmd{}, "pipeline")
	commander.Register(&startCmd{}, "pipeline")
	commander.Register(&continueCmd{}, "pipeline")
	commander.Register(&runCmd{}, "pipeline")
	commander.Register(&resetCmd{}, "pipeline")
	commander.Register(&statusCmd{}, "inspection")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
