// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/checkpoint"
	"github.com/noldarim/rankledger/internal/engine/leaderboard"
	"github.com/noldarim/rankledger/internal/engine/ledger"
	"github.com/noldarim/rankledger/internal/engine/models"
)

const defaultSegment = 5000

// replayer folds canonical log entries into a projection it owns, running
// rank epochs at the same log positions the live recorder does.
type replayer struct {
	f           *folder
	p           *Projection
	reg         *registry
	epochBlocks uint64
}

func (e *Engine) newReplayer(p *Projection) *replayer {
	return &replayer{
		f:           &e.folder,
		p:           p,
		reg:         newRegistry(p),
		epochBlocks: e.cfg.Engine.RankEpochBlocks,
	}
}

func (r *replayer) apply(a chain.Action, seq uint64) error {
	if r.epochBlocks > 0 {
		if ep := a.Ref.Block / r.epochBlocks; ep > r.p.Epoch {
			if err := r.p.apply(r.f.epochEffects(r.p)); err != nil {
				return fmt.Errorf("rank epoch %d: %w", ep, err)
			}
			r.p.Epoch = ep
		}
	}
	fx, err := r.f.compute(r.p, r.reg.admit(a, seq))
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", seq, err)
	}
	return r.p.apply(fx)
}

func (r *replayer) applyFlags(flags []models.ActorFlag) error {
	for _, f := range flags {
		fx := r.f.flagEffects(r.p, chain.Address(f.Actor), f.Flag, f.SetAt.UTC())
		if err := r.p.apply(fx); err != nil {
			return fmt.Errorf("flag %s on %s: %w", f.Flag, f.Actor, err)
		}
	}
	return nil
}

func (e *Engine) segmentSize() int {
	if n := e.cfg.Reorg.SegmentSize; n > 0 {
		return n
	}
	return defaultSegment
}

// replayLog applies canonical actions after r's projection seq. upTo bounds
// the seqs applied (zero means none); limit bounds the number applied (zero
// means all). done reports that nothing is left below the bound.
func (e *Engine) replayLog(ctx context.Context, r *replayer, upTo uint64, limit int) (applied int, done bool, err error) {
	segment := e.segmentSize()
	for limit <= 0 || applied < limit {
		n := segment
		if limit > 0 && limit-applied < n {
			n = limit - applied
		}
		rows, err := e.store.LoadCanonicalActions(ctx, r.p.Seq, n)
		if err != nil {
			return applied, false, fmt.Errorf("load actions after seq %d: %w", r.p.Seq, err)
		}
		for _, row := range rows {
			if upTo > 0 && row.Seq > upTo {
				return applied, true, nil
			}
			a, err := actionFromRow(row)
			if err != nil {
				return applied, false, err
			}
			if err := r.apply(a, row.Seq); err != nil {
				return applied, false, err
			}
			applied++
		}
		if len(rows) < n || (upTo > 0 && r.p.Seq >= upTo) {
			return applied, true, nil
		}
	}
	return applied, false, nil
}

// decodeCheckpoint returns the projection stored in cp, or nil when cp is
// missing or unreadable.
func decodeCheckpoint(cp *checkpoint.Checkpoint, err error) *Projection {
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			getLog().Warn().Err(err).Msg("Failed to read checkpoint, replaying from an earlier point")
		}
		return nil
	}
	p := NewProjection()
	if err := json.Unmarshal(cp.State, p); err != nil {
		getLog().Warn().Err(err).Uint64("seq", cp.Seq).Msg("Failed to decode checkpoint, replaying from an earlier point")
		return nil
	}
	return p
}

func (e *Engine) latestCheckpoint() *Projection {
	if e.checkpoints == nil {
		return nil
	}
	return decodeCheckpoint(e.checkpoints.Latest())
}

func persistedLedger(rows []models.Grant) (*ledger.Ledger, error) {
	grants := make([]ledger.Grant, 0, len(rows))
	for _, row := range rows {
		g, err := grantFromRow(row)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	l, err := ledger.FromEntries(grants)
	if err != nil {
		return nil, fmt.Errorf("%w: persisted grants: %v", ErrLedgerCorruption, err)
	}
	return l, nil
}

// BalanceMismatch is an actor whose replayed balance differs from the
// persisted grants.
type BalanceMismatch struct {
	Actor     chain.Address `json:"actor"`
	Replayed  int64         `json:"replayed"`
	Persisted int64         `json:"persisted"`
}

func compareBalances(replayed, persisted *ledger.Ledger) []BalanceMismatch {
	a, b := replayed.Balances(), persisted.Balances()
	seen := make(map[chain.Address]bool, len(a)+len(b))
	for addr := range a {
		seen[addr] = true
	}
	for addr := range b {
		seen[addr] = true
	}
	var out []BalanceMismatch
	for _, addr := range sortedAddrs(seen) {
		if a[addr] != b[addr] {
			out = append(out, BalanceMismatch{Actor: addr, Replayed: a[addr], Persisted: b[addr]})
		}
	}
	return out
}

// restoreLocked rebuilds the live projection and all admission state from
// the log, the flags and the persisted grants. Actors whose replayed
// balance disagrees with the persisted grants have their lanes halted,
// except lanes paused by an active reorg, which are corrected on commit.
// It returns the reorg jobs that are still active.
func (e *Engine) restoreLocked(ctx context.Context, startup bool) ([]models.ReorgJob, error) {
	e.drainLocked()

	p := e.latestCheckpoint()
	if p == nil {
		p = NewProjection()
	}
	from := p.Seq
	r := e.newReplayer(p)
	applied, _, err := e.replayLog(ctx, r, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("replay log: %w", err)
	}
	flags, err := e.store.LoadFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	if err := r.applyFlags(flags); err != nil {
		return nil, err
	}

	grants, err := e.store.LoadGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	persisted, err := persistedLedger(grants)
	if err != nil {
		return nil, err
	}
	jobs, err := e.store.ActiveReorgJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reorg jobs: %w", err)
	}
	paused := make(map[int]bool)
	for _, j := range jobs {
		for _, l := range j.Lanes {
			paused[l] = true
		}
	}
	for _, m := range compareBalances(p.Ledger, persisted) {
		lane := e.lanes.of(m.Actor)
		if paused[lane] {
			continue
		}
		reason := fmt.Sprintf("%v: balance of %s replays to %d, persisted %d",
			ErrLedgerCorruption, m.Actor, m.Replayed, m.Persisted)
		e.halt([]int{lane}, reason)
		getLog().Error().
			Str("actor", string(m.Actor)).
			Int64("replayed", m.Replayed).
			Int64("persisted", m.Persisted).
			Int("lane", lane).
			Msg("Ledger mismatch on restore, partition halted")
	}
	p.Ledger = persisted

	keys, err := e.store.CanonicalRefKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load canonical refs: %w", err)
	}
	maxSeq, err := e.store.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("load max seq: %w", err)
	}

	e.projMu.Lock()
	e.proj = p
	e.board.Swap(leaderboard.Build(p.Ledger.Entries(), p.Ledger.Len(), p.FirstAt()))
	e.projMu.Unlock()

	e.resetAdmission(p, keys)
	e.nextSeq = maxSeq + 1
	e.tails = make(map[int]*ticket)
	e.reorg = nil
	for _, j := range jobs {
		if e.reorg == nil {
			e.reorg = resumedReorg(j)
		}
	}

	getLog().Info().
		Bool("startup", startup).
		Uint64("from_seq", from).
		Int("replayed", applied).
		Int("actors", len(p.Actors)).
		Int("grants", p.Ledger.Len()).
		Int("active_reorgs", len(jobs)).
		Msg("Projection restored")
	return jobs, nil
}

// resetAdmission derives admission state from p. keys replaces the
// canonical ref set when non-nil.
func (e *Engine) resetAdmission(p *Projection, keys []string) {
	e.reg = newRegistry(p)
	e.positions = make(map[chain.Address]chain.ChainRef, len(p.Actors))
	e.pending = make(map[chain.Address][]chain.Address)
	e.signed = make(map[chain.Address]bool)
	for addr, s := range p.Actors {
		if s.Acted {
			e.positions[addr] = s.LastRef
		}
		if s.BaseGranted {
			e.signed[addr] = true
		}
		if s.BonusDue {
			if edge, ok := p.Graph.Referrer(addr); ok {
				e.pending[addr] = []chain.Address{edge.Referrer}
			}
		}
	}
	e.epoch = p.Epoch
	if keys != nil || e.refs == nil {
		e.refs = newRefSet(keys)
	}
}

// ResumePartitions clears halted lanes after rebuilding the projection
// from the log. It refuses while a reorg is active.
func (e *Engine) ResumePartitions(ctx context.Context) ([]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()
	if e.reorg != nil {
		return nil, fmt.Errorf("%w: job %s", ErrReorgInProgress, e.reorg.job)
	}

	e.haltMu.Lock()
	resumed := make([]int, 0, len(e.halted))
	for l := range e.halted {
		resumed = append(resumed, l)
	}
	e.halted = make(map[int]string)
	e.haltMu.Unlock()
	sort.Ints(resumed)

	if _, err := e.restoreLocked(ctx, false); err != nil {
		return nil, err
	}
	e.metrics.SetHaltedPartitions(len(e.Halted()))
	getLog().Info().Ints("lanes", resumed).Msg("Partitions resumed")
	return resumed, nil
}

// VerifyReport compares a replay of the whole log from empty against the
// persisted grants and the live projection.
type VerifyReport struct {
	Actions         int               `json:"actions"`
	Grants          int               `json:"grants"`
	ReplayDigest    string            `json:"replay_digest"`
	LiveDigest      string            `json:"live_digest"`
	DigestMatch     bool              `json:"digest_match"`
	Mismatches      []BalanceMismatch `json:"balance_mismatches,omitempty"`
	HaltedLanes     map[int]string    `json:"halted_lanes,omitempty"`
	ReorgInProgress bool              `json:"reorg_in_progress"`
}

// OK reports whether the replay agrees with everything it was compared to.
func (v *VerifyReport) OK() bool {
	return v.DigestMatch && len(v.Mismatches) == 0
}

// Verify replays the log from empty and compares. It waits for in-flight
// cascades so the live digest covers the same log prefix.
func (e *Engine) Verify(ctx context.Context) (*VerifyReport, error) {
	ctx, span := e.tracer.Start(ctx, "engine.verify")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()

	r := e.newReplayer(NewProjection())
	applied, _, err := e.replayLog(ctx, r, 0, 0)
	if err != nil {
		return nil, err
	}
	flags, err := e.store.LoadFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	if err := r.applyFlags(flags); err != nil {
		return nil, err
	}
	grants, err := e.store.LoadGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	persisted, err := persistedLedger(grants)
	if err != nil {
		return nil, err
	}

	replayDigest, err := r.p.Digest()
	if err != nil {
		return nil, err
	}
	liveDigest, err := e.Digest()
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{
		Actions:         applied,
		Grants:          persisted.Len(),
		ReplayDigest:    replayDigest,
		LiveDigest:      liveDigest,
		DigestMatch:     replayDigest == liveDigest,
		Mismatches:      compareBalances(r.p.Ledger, persisted),
		HaltedLanes:     e.Halted(),
		ReorgInProgress: e.reorg != nil,
	}
	ev := getLog().Info()
	if !report.OK() {
		ev = getLog().Error()
	}
	ev.Int("actions", report.Actions).
		Bool("digest_match", report.DigestMatch).
		Int("mismatches", len(report.Mismatches)).
		Msg("Verify finished")
	return report, nil
}
