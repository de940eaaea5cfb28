// Command cleanup runs one reconciliation pass against the admission
// database and prints the report as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	cleanupdb "ms-admission/internal/cleanup/db"
	cleanup "ms-admission/internal/cleanup/service"
	"ms-admission/internal/config"
	"ms-admission/internal/database"
	"ms-admission/internal/logger"
)

type flags struct {
	dryRun        bool
	maxAge        time.Duration
	batchSize     int
	includeFailed bool
	statsOnly     bool
	orphans       bool
	timeout       time.Duration
}

func parseFlags(args []string, defaults config.CleanupConfig) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("cleanup", pflag.ContinueOnError)
	fs.BoolVar(&f.dryRun, "dry-run", false, "count candidates without deleting")
	fs.DurationVar(&f.maxAge, "max-age", defaults.MaxAge, "delete PENDING tickets older than this")
	fs.IntVar(&f.batchSize, "batch-size", defaults.BatchSize, "maximum tickets deleted in one run")
	fs.BoolVar(&f.includeFailed, "include-failed-payments", defaults.IncludeFailedPayments, "also delete tickets of failed or expired payments")
	fs.BoolVar(&f.statsOnly, "stats-only", false, "print statistics and exit")
	fs.BoolVar(&f.orphans, "orphans", false, "purge orphaned failed transactions after the ticket pass")
	fs.DurationVar(&f.timeout, "timeout", defaults.Timeout, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func (f flags) options() cleanup.Options {
	return cleanup.Options{
		DryRun:                f.dryRun,
		MaxAge:                f.maxAge,
		BatchSize:             f.batchSize,
		IncludeFailedPayments: f.includeFailed,
		StatsOnly:             f.statsOnly,
	}
}

func run(ctx context.Context, svc *cleanup.Service, f flags) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	report, err := svc.Cleanup(ctx, f.options())
	if err != nil {
		return nil, err
	}
	out["cleanup"] = report

	if f.orphans && !f.statsOnly {
		orphans, err := svc.CleanupOrphanedTransactions(ctx, f.dryRun)
		if err != nil {
			return nil, err
		}
		out["orphans"] = orphans
	}
	return out, nil
}

func main() {
	log := logger.NewLogger("cleanup")
	defer log.Close()

	_ = godotenv.Load()
	cfg := config.Load()

	f, err := parseFlags(os.Args[1:], cfg.Cleanup)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal("CONFIG", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	bunDB, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	out, err := run(ctx, cleanup.NewService(&cleanupdb.DB{Bun: bunDB}, log), f)
	if err != nil {
		log.Error("CLEANUP", err.Error())
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
