// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/ingest"
	"github.com/noldarim/rankledger/internal/logger"
	"github.com/noldarim/rankledger/internal/orchestrator"
)

func loadConfig(path string) (*config.AppConfig, error) {
	cfg, err := config.NewConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Initialize(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// openLocal starts an engine over the configured database. Reorgs stay in
// process; a Temporal worker belongs to the server.
func openLocal(ctx context.Context, cfg *config.AppConfig) (*orchestrator.Orchestrator, error) {
	orch, err := orchestrator.New(ctx, cfg, nil, orchestrator.Options{NoWorker: true, SyncReorgs: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return orch, nil
}

type ingestOptions struct {
	configPath string
	workers    int
	rate       float64
}

func ingestCommand(args []string, out io.Writer) error {
	opts := &ingestOptions{}
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to config file")
	fs.IntVar(&opts.workers, "workers", 0, "Cascade workers (default from config)")
	fs.Float64Var(&opts.rate, "rate", -1, "Records per second, 0 for unlimited (default from config)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one input file required\n\nUsage:\n  rankctl ingest [--config file] <file.jsonl|->")
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()
	if opts.workers > 0 {
		cfg.Ingest.Workers = opts.workers
	}
	if opts.rate >= 0 {
		cfg.Ingest.RatePerSec = opts.rate
	}

	var src io.Reader = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		src = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := openLocal(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	summary, err := ingest.NewPipeline(orch.Engine(), cfg.Ingest).Run(ctx, src)
	if summary != nil {
		printSummary(out, summary)
	}
	if err != nil {
		return fmt.Errorf("ingest stopped: %w", err)
	}
	return nil
}

func printSummary(out io.Writer, s *ingest.Summary) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Lines:       %d\n", s.Lines)
	fmt.Fprintf(out, "Accepted:    %d\n", s.Accepted)
	fmt.Fprintf(out, "Duplicates:  %d\n", s.Duplicates)
	printCounts(out, "Buffered", s.Buffered)
	printCounts(out, "Rejected", s.Rejected)
	fmt.Fprintf(out, "Elapsed:     %s\n", s.Elapsed)

	if len(s.Errors) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%-8s  %-28s  %-20s  %s\n", "LINE", "REF", "REASON", "DETAIL")
		fmt.Fprintln(out, "────────  ────────────────────────────  ────────────────────  ────────────────────────────────")
		for _, e := range s.Errors {
			fmt.Fprintf(out, "%-8d  %-28s  %-20s  %s\n", e.Line, e.Ref, e.Reason, e.Detail)
		}
	}
	fmt.Fprintln(out)
}

func printCounts(out io.Writer, label string, counts map[string]int) {
	total := 0
	reasons := make([]string, 0, len(counts))
	for r, n := range counts {
		total += n
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	fmt.Fprintf(out, "%-12s %d\n", label+":", total)
	for _, r := range reasons {
		fmt.Fprintf(out, "  %-22s %d\n", r, counts[r])
	}
}

type verifyOptions struct {
	configPath string
}

func verifyCommand(args []string, out io.Writer) error {
	opts := &verifyOptions{}
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := openLocal(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	report, err := orch.Engine().Verify(ctx)
	if err != nil {
		return fmt.Errorf("verification failed to run: %w", err)
	}

	fmt.Fprintf(out, "Actions:        %d\n", report.Actions)
	fmt.Fprintf(out, "Grants:         %d\n", report.Grants)
	fmt.Fprintf(out, "Replay digest:  %s\n", report.ReplayDigest)
	fmt.Fprintf(out, "Live digest:    %s\n", report.LiveDigest)
	for _, m := range report.Mismatches {
		fmt.Fprintf(out, "Mismatch:       %s replayed=%d persisted=%d\n", m.Actor, m.Replayed, m.Persisted)
	}
	if !report.OK() {
		return fmt.Errorf("verification failed: replay does not match the stored state")
	}
	fmt.Fprintln(out, "OK")
	return nil
}
