// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/ingest"
	"github.com/noldarim/rankledger/internal/query"
	"github.com/noldarim/rankledger/internal/server"
)

const requestTimeout = 2 * time.Minute

func statsCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	remote := bindRemote(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("actor address required\n\nUsage:\n  rankctl stats <actor>")
	}
	actor := url.PathEscape(fs.Arg(0))

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	c := remote.client()

	var stats query.UserStats
	if err := c.get(ctx, "/api/v1/users/"+actor+"/stats", &stats); err != nil {
		return err
	}
	var held struct {
		Badges []query.UserBadge `json:"badges"`
	}
	if err := c.get(ctx, "/api/v1/users/"+actor+"/badges", &held); err != nil {
		return err
	}
	var rank struct {
		Rank *int `json:"rank"`
	}
	if err := c.get(ctx, "/api/v1/users/"+actor+"/rank?window=all", &rank); err != nil {
		return err
	}

	fmt.Fprintf(out, "Actor:               %s\n", stats.Actor)
	fmt.Fprintf(out, "Points:              %d\n", stats.Points)
	if rank.Rank != nil {
		fmt.Fprintf(out, "Rank (all time):     %d\n", *rank.Rank)
	} else {
		fmt.Fprintf(out, "Rank (all time):     -\n")
	}
	fmt.Fprintf(out, "Actions:             %d\n", stats.ActionsCount)
	fmt.Fprintf(out, "Signatures given:    %d\n", stats.SignaturesGiven)
	fmt.Fprintf(out, "Signatures received: %d\n", stats.SignaturesReceived)
	fmt.Fprintf(out, "Reactions given:     %d\n", stats.ReactionsGiven)
	fmt.Fprintf(out, "Reactions received:  %d\n", stats.ReactionsReceived)
	fmt.Fprintf(out, "Referrals:           %d\n", stats.Referrals)
	fmt.Fprintf(out, "Tips sent:           %d\n", stats.TipsSent)
	fmt.Fprintf(out, "Tips received (wei): %s\n", stats.TipsReceivedWei)
	fmt.Fprintf(out, "Streak:              %d (longest %d)\n", stats.CurrentStreak, stats.LongestStreak)
	fmt.Fprintf(out, "First seen:          %s\n", stats.FirstSeen.Format(time.RFC3339))

	if len(held.Badges) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%-20s  %-10s  %s\n", "BADGE", "RARITY", "AWARDED")
		fmt.Fprintln(out, "────────────────────  ──────────  ────────────────────")
		for _, b := range held.Badges {
			fmt.Fprintf(out, "%-20s  %-10s  %s\n", b.BadgeType, b.Rarity, b.AwardedAt.Format(time.RFC3339))
		}
	}
	return nil
}

func leaderboardCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("leaderboard", flag.ContinueOnError)
	remote := bindRemote(fs)
	offset := fs.Int("offset", 0, "Rows to skip")
	limit := fs.Int("limit", 20, "Rows to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	window := "all"
	if fs.NArg() > 0 {
		window = fs.Arg(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("offset", strconv.Itoa(*offset))
	q.Set("limit", strconv.Itoa(*limit))
	var page query.LeaderboardPage
	if err := remote.client().get(ctx, "/api/v1/leaderboard/"+url.PathEscape(window)+"?"+q.Encode(), &page); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s leaderboard, bucket %s, %d ranked\n\n", page.Window, page.Bucket, page.Total)
	if len(page.Entries) == 0 {
		fmt.Fprintln(out, "No entries.")
		return nil
	}
	fmt.Fprintf(out, "%-6s  %-42s  %10s  %8s  %6s\n", "RANK", "ACTOR", "POINTS", "ACTIONS", "BADGES")
	fmt.Fprintln(out, "──────  ──────────────────────────────────────────  ──────────  ────────  ──────")
	for _, e := range page.Entries {
		fmt.Fprintf(out, "%-6d  %-42s  %10d  %8d  %6d\n", e.Rank, e.Actor, e.Points, e.ActionsCount, e.BadgeCount)
	}
	return nil
}

func reorgCommand(args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("reorg subcommand required: start, status, retry")
	}
	switch args[0] {
	case "start":
		return reorgStart(args[1:], out)
	case "status":
		return reorgJob(args[1:], out, false)
	case "retry":
		return reorgJob(args[1:], out, true)
	default:
		return fmt.Errorf("unknown reorg subcommand: %s", args[0])
	}
}

func reorgStart(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reorg start", flag.ContinueOnError)
	remote := bindRemote(fs)
	fork := fs.Uint64("fork", 0, "First block of the reorganized range")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fork == 0 || fs.NArg() != 1 {
		return fmt.Errorf("--fork and a canonical file are required\n\nUsage:\n  rankctl reorg start --fork <block> <canonical.jsonl|->")
	}

	var src io.Reader = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("failed to open canonical file: %w", err)
		}
		defer f.Close()
		src = f
	}
	canonical, err := readCanonical(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var job models.ReorgJob
	req := server.ReorgRequest{ForkBlock: *fork, Canonical: canonical}
	if err := remote.client().post(ctx, "/api/v1/reorgs", req, &job); err != nil {
		return err
	}
	printJob(out, &job)
	return nil
}

// readCanonical reads JSONL action records and validates each before
// anything is sent.
func readCanonical(r io.Reader) ([]json.RawMessage, error) {
	var records []json.RawMessage
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if _, err := ingest.Decode(raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, json.RawMessage(bytes.Clone(raw)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read canonical file: %w", err)
	}
	return records, nil
}

func reorgJob(args []string, out io.Writer, retry bool) error {
	name := "reorg status"
	if retry {
		name = "reorg retry"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	remote := bindRemote(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("job id required\n\nUsage:\n  rankctl %s <id>", name)
	}
	path := "/api/v1/reorgs/" + url.PathEscape(fs.Arg(0))

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var job models.ReorgJob
	var err error
	if retry {
		err = remote.client().post(ctx, path+"/retry", nil, &job)
	} else {
		err = remote.client().get(ctx, path, &job)
	}
	if err != nil {
		return err
	}
	printJob(out, &job)
	return nil
}

func printJob(out io.Writer, job *models.ReorgJob) {
	fmt.Fprintf(out, "Job:          %s\n", job.ID)
	fmt.Fprintf(out, "Status:       %s\n", job.Status)
	fmt.Fprintf(out, "Fork block:   %d\n", job.ForkBlock)
	fmt.Fprintf(out, "Lanes:        %v\n", []int(job.Lanes))
	fmt.Fprintf(out, "Invalidated:  %d\n", job.Invalidated)
	fmt.Fprintf(out, "Replayed:     %d/%d\n", job.ReplayedSeq, job.HeadSeq)
	fmt.Fprintf(out, "Corrections:  %d\n", job.Corrections)
	if job.Error != "" {
		fmt.Fprintf(out, "Error:        %s\n", job.Error)
	}
}

func statusCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	remote := bindRemote(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var status server.StatusResponse
	if err := remote.client().get(ctx, "/api/v1/admin/status", &status); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seq:          %d\n", status.Seq)
	fmt.Fprintf(out, "Digest:       %s\n", status.Digest)
	fmt.Fprintf(out, "Buffered:     %d\n", status.Buffered)
	if status.ActiveReorg != "" {
		fmt.Fprintf(out, "Active reorg: %s\n", status.ActiveReorg)
	}
	lanes := make([]int, 0, len(status.Halted))
	for l := range status.Halted {
		lanes = append(lanes, l)
	}
	sort.Ints(lanes)
	for _, l := range lanes {
		fmt.Fprintf(out, "Halted lane %d: %s\n", l, status.Halted[l])
	}
	return nil
}

func resumeCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	remote := bindRemote(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var resp struct {
		Resumed []int `json:"resumed"`
	}
	if err := remote.client().post(ctx, "/api/v1/admin/partitions/resume", nil, &resp); err != nil {
		return err
	}
	if len(resp.Resumed) == 0 {
		fmt.Fprintln(out, "No halted partitions.")
		return nil
	}
	fmt.Fprintf(out, "Resumed lanes: %v\n", resp.Resumed)
	return nil
}
