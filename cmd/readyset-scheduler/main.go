// Command readyset-scheduler runs one tick of the Readyset/ProxySQL
// reconciliation loop.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/perconalab/readyset-scheduler/internal/config"
	"github.com/perconalab/readyset-scheduler/internal/errs"
	"github.com/perconalab/readyset-scheduler/internal/logging"
	"github.com/perconalab/readyset-scheduler/internal/tick"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the scheduler config file (required)")
	debug := flag.Bool("debug", false, "enable human-readable development logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "readyset-scheduler: --config is required")
		return exitConfigError
	}

	logger, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "readyset-scheduler: build logger: %v\n", err)
		return exitRuntimeError
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Sugar().Errorf("load config: %v", err)
		return exitConfigError
	}

	kind, errors := tick.Run(cfg, logger)
	for _, e := range errors {
		logger.Sugar().Warnf("tick error: %v", e)
	}

	if errs.Fatal(kind) {
		return exitRuntimeError
	}
	return exitOK
}
