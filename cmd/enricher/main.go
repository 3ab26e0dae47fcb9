// Command enricher fills pending company records with Companies House
// registry data.
//
// Usage:
//
//	enricher run        [-config file] [-job-id id]
//	enricher reprocess  [-config file] [-job-id id]
//	enricher sic-import [-config file] -file codes.csv
//	enricher migrate    [-config file]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/epireve/uk-gateway/internal/config"
	"github.com/epireve/uk-gateway/pkg/logging"
)

const usage = `usage: enricher <command> [flags]

commands:
  run         enrich every pending company
  reprocess   enrich pending companies that have unresolved failures
  sic-import  load the SIC reference list from a CSV file
  migrate     apply the database schema
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "enricher: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// options are the flags shared by every command.
type options struct {
	configPath string
	jobID      string
	file       string
}

func execute(ctx context.Context, args []string, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	name, rest := args[0], args[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return errUsage
	}

	opts, err := parseFlags(name, rest, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromEnv(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.Setup(cfg.LoggingConfig()).With().
		Str("component", logging.ComponentCLI).
		Str("command", name).
		Logger()

	return cmd(ctx, cfg, opts, logger)
}

func parseFlags(name string, args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", os.Getenv("ENRICHER_CONFIG"), "path to a YAML config file")

	switch name {
	case "run", "reprocess":
		fs.StringVar(&opts.jobID, "job-id", "", "job id for progress reporting (generated when empty)")
	case "sic-import":
		fs.StringVar(&opts.file, "file", "", "CSV file with sic_code,description columns")
	}

	if err := fs.Parse(args); err != nil {
		return opts, errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return opts, errUsage
	}
	if name == "sic-import" && opts.file == "" {
		fmt.Fprintln(stderr, "sic-import: -file is required")
		return opts, errUsage
	}
	return opts, nil
}

type command func(ctx context.Context, cfg *config.Config, opts options, logger zerolog.Logger) error

var commands = map[string]command{
	"run":        runEnrichment,
	"reprocess":  runReprocess,
	"sic-import": runSICImport,
	"migrate":    runMigrate,
}
