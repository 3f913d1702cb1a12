// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements rankctl, the operator command line.
package cli

import (
	"fmt"
	"io"
	"os"
)

const (
	appName    = "rankctl"
	appVersion = "0.1.0"
)

// Execute runs the CLI application
func Execute() error {
	return run(os.Args[1:], os.Stdout)
}

func run(argv []string, out io.Writer) error {
	if len(argv) < 1 {
		return printUsage(out)
	}

	command := argv[0]
	args := argv[1:]

	switch command {
	case "ingest":
		return ingestCommand(args, out)
	case "verify":
		return verifyCommand(args, out)
	case "stats":
		return statsCommand(args, out)
	case "leaderboard":
		return leaderboardCommand(args, out)
	case "reorg":
		return reorgCommand(args, out)
	case "status":
		return statusCommand(args, out)
	case "resume":
		return resumeCommand(args, out)
	case "version":
		fmt.Fprintf(out, "%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage(out)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage(out)
	}
}

func printUsage(out io.Writer) error {
	fmt.Fprintf(out, `%s - gamification ledger operator tool

Usage:
  %s <command> [arguments]

Local commands (open the database from the config file):
  ingest <file|->        Ingest a JSONL file of actions
  verify                 Replay the log from empty and compare

Remote commands (talk to a running server, see --api):
  stats <actor>          Show an actor's stats and badges
  leaderboard [window]   Show a leaderboard page (all, month, week)
  reorg start            Start a reorg from a canonical JSONL file
  reorg status <id>      Show a reorg job
  reorg retry <id>       Retry a failed reorg job
  status                 Show the engine's seq, digest and halted partitions
  resume                 Resume halted partitions

  version                Print version information
  help                   Show this help message

Examples:
  %s ingest --config config.yaml actions.jsonl
  %s verify
  %s stats 0x00000000000000000000000000000000000000aa
  %s leaderboard --limit 20 week
  %s reorg start --fork 1200 canonical.jsonl

`, appName, appName, appName, appName, appName, appName, appName)
	return nil
}
