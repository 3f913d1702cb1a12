// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/badges"
	"github.com/noldarim/rankledger/internal/engine/checkpoint"
	"github.com/noldarim/rankledger/internal/engine/leaderboard"
	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/engine/referral"
	"github.com/noldarim/rankledger/internal/logger"
	"github.com/noldarim/rankledger/internal/protocol"
)

var (
	rlog     *zerolog.Logger
	rlogOnce sync.Once
)

func reorgLog() *zerolog.Logger {
	rlogOnce.Do(func() {
		l := logger.GetReorgLogger()
		rlog = &l
	})
	return rlog
}

// ReorgRunner drives a started reorg job through begin, replay and commit.
type ReorgRunner interface {
	Submit(ctx context.Context, jobID string) error
}

// activeReorg is the admission view of the reorg in progress.
type activeReorg struct {
	job   string
	fork  uint64
	begun bool
	// lanes are paused until commit. Sorted.
	lanes    []int
	held     []chain.Action
	heldKeys map[string]bool
}

func newActiveReorg(job string, fork uint64) *activeReorg {
	return &activeReorg{job: job, fork: fork, heldKeys: make(map[string]bool)}
}

func resumedReorg(j models.ReorgJob) *activeReorg {
	r := newActiveReorg(j.ID, j.ForkBlock)
	r.begun = j.Status == models.ReorgReplaying
	r.lanes = append([]int(nil), j.Lanes...)
	sort.Ints(r.lanes)
	return r
}

func (r *activeReorg) holding(key string) bool {
	return r != nil && r.heldKeys[key]
}

// holds reports whether a must wait for the commit: it touches a paused
// lane, it would cross the next rank epoch, or it lies past the fork of a
// reorg that has not begun.
func (r *activeReorg) holds(a chain.Action, laneSet []int, nextEpoch uint64) bool {
	if !r.begun && a.Ref.Block >= r.fork {
		return true
	}
	if nextEpoch > 0 && a.Ref.Block >= nextEpoch {
		return true
	}
	for _, l := range laneSet {
		if contains(r.lanes, l) {
			return true
		}
	}
	return false
}

func (r *activeReorg) hold(a chain.Action) {
	r.held = append(r.held, a)
	r.heldKeys[a.Ref.Key()] = true
}

// ActiveReorg returns the id of the reorg in progress, if any.
func (e *Engine) ActiveReorg() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reorg == nil {
		return "", false
	}
	return e.reorg.job, true
}

// StartReorg records a reorg at fork whose canonical chain from fork on is
// canonical, and hands it to the runner.
func (e *Engine) StartReorg(ctx context.Context, fork uint64, canonical []chain.Action) (*models.ReorgJob, error) {
	replacements := make([]chain.Action, 0, len(canonical))
	seen := make(map[string]bool, len(canonical))
	for _, a := range canonical {
		n, err := a.Normalize()
		if err != nil {
			return nil, fmt.Errorf("replacement %s: %w", a.Ref, err)
		}
		if n.Ref.Block < fork {
			return nil, fmt.Errorf("%w: replacement %s is below fork block %d", ErrInvalidAction, n.Ref, fork)
		}
		if seen[n.Ref.Key()] {
			return nil, fmt.Errorf("%w: replacement %s listed twice", ErrInvalidAction, n.Ref)
		}
		seen[n.Ref.Key()] = true
		replacements = append(replacements, n)
	}
	sort.Slice(replacements, func(i, j int) bool { return replacements[i].Ref.Less(replacements[j].Ref) })
	payload, err := json.Marshal(replacements)
	if err != nil {
		return nil, fmt.Errorf("encode replacements: %w", err)
	}

	e.mu.Lock()
	if e.reorg != nil {
		active := e.reorg.job
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s", ErrReorgInProgress, active)
	}
	job := &models.ReorgJob{
		ID:        uuid.NewString(),
		ForkBlock: fork,
		Status:    models.ReorgPending,
		Canonical: string(payload),
		StartedAt: e.now().UTC(),
	}
	if err := e.store.SaveReorgJob(ctx, job); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("save reorg job: %w", err)
	}
	e.reorg = newActiveReorg(job.ID, fork)
	e.mu.Unlock()

	l := reorgLog()
	l.Info().
		Str("job", job.ID).
		Uint64("fork_block", fork).
		Int("replacements", len(replacements)).
		Msg("Reorg started")

	if err := e.reorgRunner().Submit(ctx, job.ID); err != nil {
		if ferr := e.FailReorg(ctx, job.ID, err); ferr != nil {
			l.Error().Err(ferr).Str("job", job.ID).Msg("Failed to mark reorg failed")
		}
		return job, fmt.Errorf("submit reorg %s: %w", job.ID, err)
	}
	return job, nil
}

// BeginReorg invalidates the log from the fork on, appends the
// replacements and pauses the affected lanes. It does nothing for a job
// that has already begun.
func (e *Engine) BeginReorg(ctx context.Context, jobID string) error {
	job, err := e.store.GetReorgJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.ReorgPending {
		return nil
	}
	var replacements []chain.Action
	if job.Canonical != "" {
		if err := json.Unmarshal([]byte(job.Canonical), &replacements); err != nil {
			return fmt.Errorf("decode replacements of %s: %w", jobID, err)
		}
	}

	ctx, span := e.tracer.Start(ctx, "reorg.begin")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()
	if e.reorg != nil && e.reorg.job != jobID {
		return fmt.Errorf("%w: job %s", ErrReorgInProgress, e.reorg.job)
	}

	victimRows, err := e.store.CanonicalActionsFrom(ctx, job.ForkBlock)
	if err != nil {
		return fmt.Errorf("load actions from fork: %w", err)
	}
	victims := make([]chain.Action, 0, len(victimRows))
	for _, row := range victimRows {
		a, err := actionFromRow(row)
		if err != nil {
			return err
		}
		victims = append(victims, a)
	}

	paused := e.reorgLanes(victims, replacements)
	rows := make([]models.Action, 0, len(replacements))
	for i, a := range replacements {
		row, err := actionRow(a, e.nextSeq+uint64(i))
		if err != nil {
			return err
		}
		rows = append(rows, *row)
	}
	job.Status = models.ReorgReplaying
	job.Lanes = models.IntList(paused)
	job.HeadSeq = e.nextSeq + uint64(len(replacements)) - 1
	invalidated, err := e.store.BeginReorg(ctx, job, rows)
	if err != nil {
		return fmt.Errorf("begin reorg %s: %w", jobID, err)
	}
	e.nextSeq += uint64(len(replacements))

	for _, a := range victims {
		e.refs.remove(a.Ref.Key())
		delete(e.positions, a.Actor)
	}
	for _, a := range replacements {
		e.refs.add(a.Ref.Key())
		if pos, ok := e.positions[a.Actor]; !ok || pos.Less(a.Ref) {
			e.positions[a.Actor] = a.Ref
		}
	}
	for _, a := range e.buffer.dropFrom(job.ForkBlock) {
		e.observe(a, Outcome{Ref: a.Ref, Status: Rejected, Reason: ReasonReorgInvalidated,
			Detail: fmt.Sprintf("at or past fork block %d", job.ForkBlock)})
	}
	e.metrics.SetBufferSize(e.buffer.len())
	if e.checkpoints != nil {
		if n, err := e.checkpoints.DropFrom(job.ForkBlock); err != nil {
			reorgLog().Warn().Err(err).Str("job", jobID).Msg("Failed to drop checkpoints past fork")
		} else if n > 0 {
			reorgLog().Debug().Int("dropped", n).Str("job", jobID).Msg("Dropped checkpoints past fork")
		}
	}

	if e.reorg == nil {
		e.reorg = newActiveReorg(jobID, job.ForkBlock)
	}
	e.reorg.begun = true
	e.reorg.lanes = paused
	e.dropShadow(jobID)

	e.metrics.ObserveReorg("started")
	e.emit(protocol.ReorgStartedEvent{
		Metadata:    protocol.NewMetadata(jobID + "/started"),
		JobID:       jobID,
		ForkBlock:   job.ForkBlock,
		Invalidated: int(invalidated),
		Paused:      len(paused),
	})
	reorgLog().Info().
		Str("job", jobID).
		Int64("invalidated", invalidated).
		Int("replacements", len(replacements)).
		Ints("paused_lanes", paused).
		Uint64("head_seq", job.HeadSeq).
		Msg("Reorg begun")

	for _, a := range replacements {
		e.releaseLocked(ctx, a.Ref.Key(), nil)
	}
	return nil
}

// reorgLanes is the set of lanes whose state the reorg can change.
func (e *Engine) reorgLanes(victims, replacements []chain.Action) []int {
	var addrs []chain.Address
	var extra []int
	e.projMu.RLock()
	for _, list := range [][]chain.Action{victims, replacements} {
		for _, a := range list {
			addrs = append(addrs, a.Actor, a.Target)
			switch a.Type {
			case chain.ActionSign:
				if edge, ok := e.proj.Graph.Referrer(a.Actor); ok {
					addrs = append(addrs, edge.Referrer)
				}
				addrs = append(addrs, e.pending[a.Actor]...)
			case chain.ActionRefer:
				extra = []int{e.lanes.graph()}
			}
		}
	}
	e.projMu.RUnlock()
	return e.lanes.set(addrs, extra...)
}

// shadowFor returns the job's shadow projection: the one in memory, else
// the job's latest shadow checkpoint, else the newest live checkpoint
// before the fork, else an empty projection.
func (e *Engine) shadowFor(job *models.ReorgJob) *Projection {
	e.shadowMu.Lock()
	defer e.shadowMu.Unlock()
	if s := e.shadows[job.ID]; s != nil {
		return s
	}
	var s *Projection
	if e.checkpoints != nil {
		s = decodeCheckpoint(e.checkpoints.LatestShadow(job.ID))
		if s == nil {
			s = decodeCheckpoint(e.checkpoints.LatestBefore(job.ForkBlock))
		}
	}
	if s == nil {
		s = NewProjection()
	}
	e.shadows[job.ID] = s
	return s
}

func (e *Engine) dropShadow(jobID string) {
	e.shadowMu.Lock()
	delete(e.shadows, jobID)
	e.shadowMu.Unlock()
	if e.checkpoints != nil {
		if err := e.checkpoints.DropShadows(jobID); err != nil {
			reorgLog().Warn().Err(err).Str("job", jobID).Msg("Failed to drop shadow checkpoints")
		}
	}
}

// ReplayReorgSegment replays one segment of the log into the job's shadow
// projection and checkpoints it. done is true once the shadow has reached
// the log head recorded at begin.
func (e *Engine) ReplayReorgSegment(ctx context.Context, jobID string) (bool, error) {
	job, err := e.store.GetReorgJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	switch job.Status {
	case models.ReorgCompleted, models.ReorgFailed:
		return true, nil
	case models.ReorgPending:
		return false, fmt.Errorf("reorg %s has not begun", jobID)
	}

	ctx, span := e.tracer.Start(ctx, "reorg.replay_segment")
	defer span.End()

	s := e.shadowFor(job)
	r := e.newReplayer(s)
	applied, done, err := e.replayLog(ctx, r, job.HeadSeq, e.segmentSize())
	if err != nil {
		e.dropShadowMemory(jobID)
		return false, err
	}
	if s.Seq >= job.HeadSeq {
		done = true
	}

	if e.checkpoints != nil {
		state, err := json.Marshal(s)
		if err != nil {
			return false, fmt.Errorf("encode shadow: %w", err)
		}
		err = e.checkpoints.Save(checkpoint.Checkpoint{
			Seq:      s.Seq,
			MaxBlock: s.MaxBlock,
			Job:      jobID,
			TakenAt:  e.now().UTC(),
			State:    state,
		})
		if err != nil {
			return false, fmt.Errorf("save shadow checkpoint: %w", err)
		}
	}
	job.ReplayedSeq = s.Seq
	job.CheckpointSeq = s.Seq
	if err := e.store.SaveReorgJob(ctx, job); err != nil {
		return false, fmt.Errorf("save reorg progress: %w", err)
	}
	reorgLog().Debug().
		Str("job", jobID).
		Int("applied", applied).
		Uint64("replayed_seq", s.Seq).
		Uint64("head_seq", job.HeadSeq).
		Bool("done", done).
		Msg("Reorg segment replayed")
	return done, nil
}

func (e *Engine) dropShadowMemory(jobID string) {
	e.shadowMu.Lock()
	delete(e.shadows, jobID)
	e.shadowMu.Unlock()
}

// CommitReorg catches the shadow up to the log head, persists the
// corrections that bring the live state in line with it, swaps it in and
// resumes the paused lanes. It does nothing for a completed job.
func (e *Engine) CommitReorg(ctx context.Context, jobID string) error {
	job, err := e.store.GetReorgJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.ReorgCompleted:
		return nil
	case models.ReorgFailed:
		return fmt.Errorf("reorg %s failed: %s", jobID, job.Error)
	case models.ReorgPending:
		return fmt.Errorf("reorg %s has not begun", jobID)
	}

	ctx, span := e.tracer.Start(ctx, "reorg.commit")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()

	s := e.shadowFor(job)
	r := e.newReplayer(s)
	if _, _, err := e.replayLog(ctx, r, 0, 0); err != nil {
		e.dropShadowMemory(jobID)
		return fmt.Errorf("catch up shadow: %w", err)
	}
	flags, err := e.store.LoadFlags(ctx)
	if err != nil {
		return fmt.Errorf("load flags: %w", err)
	}
	if err := r.applyFlags(flags); err != nil {
		e.dropShadowMemory(jobID)
		return err
	}

	e.projMu.RLock()
	live := e.proj
	corrections := live.Ledger.Corrections(s.Ledger, jobID)
	revoke, award := diffAwards(live, s)
	invalidEdges, newEdges := diffEdges(live.Graph, s.Graph)
	streaks := diffStreaks(live, s)
	next := live.Ledger.Clone()
	e.projMu.RUnlock()
	if err := next.Append(corrections...); err != nil {
		return fmt.Errorf("%w: apply corrections: %v", ErrLedgerCorruption, err)
	}

	now := e.now().UTC()
	job.Status = models.ReorgCompleted
	job.Corrections = len(corrections)
	job.ReplayedSeq = s.Seq
	job.FinishedAt = &now
	batch := &models.ReorgBatch{
		Job:          job,
		Corrections:  grantRows(corrections),
		Streaks:      streaks,
		InvalidEdges: invalidEdges,
		NewEdges:     newEdges,
		Revoke:       awardRows(revoke),
		Award:        awardRows(award),
	}
	if err := e.store.CommitReorg(ctx, batch); err != nil {
		return fmt.Errorf("commit reorg %s: %w", jobID, err)
	}

	s.Ledger = next
	e.projMu.Lock()
	e.proj = s
	e.board.Swap(leaderboard.Build(s.Ledger.Entries(), s.Ledger.Len(), s.FirstAt()))
	balances := make(map[chain.Address]int64, len(corrections))
	for _, g := range corrections {
		balances[g.Actor] = s.Ledger.Balance(g.Actor)
	}
	e.projMu.Unlock()

	e.resetAdmission(s, nil)
	held := e.reorg.held
	e.reorg = nil
	e.dropShadow(jobID)

	e.metrics.ObserveReorg(string(models.ReorgCompleted))
	for _, a := range revoke {
		e.emit(protocol.BadgeRevokedEvent{
			Metadata:  protocol.NewMetadata(string(a.Actor) + "/" + a.Type + "/revoked/" + jobID),
			Actor:     string(a.Actor),
			BadgeType: a.Type,
			JobID:     jobID,
		})
	}
	e.report(&effects{grants: corrections, awards: award}, balances)
	e.emit(protocol.ReorgCompletedEvent{
		Metadata:    protocol.NewMetadata(jobID + "/completed"),
		JobID:       jobID,
		ForkBlock:   job.ForkBlock,
		Corrections: len(corrections),
		Status:      string(models.ReorgCompleted),
	})
	reorgLog().Info().
		Str("job", jobID).
		Int("corrections", len(corrections)).
		Int("revoked", len(revoke)).
		Int("awarded", len(award)).
		Int("held", len(held)).
		Msg("Reorg committed")

	for _, a := range held {
		if _, t, err := e.admitLocked(ctx, a, nil); err != nil {
			reorgLog().Warn().Err(err).Str("ref", a.Ref.String()).Msg("Held action not admitted")
		} else if t != nil {
			e.start(t)
		}
	}
	return nil
}

// FailReorg marks the job failed. Its paused lanes are halted, since the
// live state there no longer matches the log, and its held actions are
// rejected for redelivery. RetryReorg picks the job up again.
func (e *Engine) FailReorg(ctx context.Context, jobID string, cause error) error {
	job, err := e.store.GetReorgJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	now := e.now().UTC()
	job.Status = models.ReorgFailed
	job.Error = cause.Error()
	job.FinishedAt = &now
	if err := e.store.SaveReorgJob(ctx, job); err != nil {
		return fmt.Errorf("save failed reorg %s: %w", jobID, err)
	}

	e.mu.Lock()
	if r := e.reorg; r != nil && r.job == jobID {
		if len(r.lanes) > 0 {
			reason := fmt.Sprintf("reorg %s failed: %v", jobID, cause)
			if fresh := e.halt(r.lanes, reason); len(fresh) > 0 {
				e.emit(protocol.PartitionHaltedEvent{
					Metadata: protocol.NewMetadata(jobID + "/halted"),
					Lanes:    fresh,
					Reason:   reason,
				})
			}
		}
		for _, a := range r.held {
			e.observe(a, Outcome{Ref: a.Ref, Status: Rejected, Reason: ReasonPartitionHalted, Detail: "reorg failed"})
		}
		e.reorg = nil
	}
	e.mu.Unlock()
	e.dropShadowMemory(jobID)

	e.metrics.ObserveReorg(string(models.ReorgFailed))
	e.emit(protocol.ReorgCompletedEvent{
		Metadata:  protocol.NewMetadata(jobID + "/failed"),
		JobID:     jobID,
		ForkBlock: job.ForkBlock,
		Status:    string(models.ReorgFailed),
		Error:     job.Error,
	})
	reorgLog().Error().Err(cause).Str("job", jobID).Msg("Reorg failed")
	return nil
}

// RetryReorg reactivates a failed job from where it stopped and
// resubmits it.
func (e *Engine) RetryReorg(ctx context.Context, jobID string) (*models.ReorgJob, error) {
	job, err := e.store.GetReorgJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ReorgFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrReorgNotFailed, jobID, job.Status)
	}

	e.mu.Lock()
	if e.reorg != nil {
		active := e.reorg.job
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s", ErrReorgInProgress, active)
	}
	job.Status = models.ReorgPending
	if len(job.Lanes) > 0 {
		job.Status = models.ReorgReplaying
	}
	job.Error = ""
	job.FinishedAt = nil
	if err := e.store.SaveReorgJob(ctx, job); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.reorg = resumedReorg(*job)
	e.haltMu.Lock()
	for _, l := range job.Lanes {
		delete(e.halted, l)
	}
	e.metrics.SetHaltedPartitions(len(e.halted))
	e.haltMu.Unlock()
	e.mu.Unlock()

	reorgLog().Info().Str("job", jobID).Str("status", string(job.Status)).Msg("Retrying reorg")
	if err := e.reorgRunner().Submit(ctx, jobID); err != nil {
		return job, err
	}
	return job, nil
}

// RunReorg drives a job through every phase in process. A phase error
// fails the job.
func (e *Engine) RunReorg(ctx context.Context, jobID string) error {
	err := e.runReorgPhases(ctx, jobID)
	if err != nil {
		if ferr := e.FailReorg(ctx, jobID, err); ferr != nil {
			reorgLog().Error().Err(ferr).Str("job", jobID).Msg("Failed to mark reorg failed")
		}
	}
	return err
}

func (e *Engine) runReorgPhases(ctx context.Context, jobID string) error {
	if err := e.BeginReorg(ctx, jobID); err != nil {
		return err
	}
	for {
		done, err := e.ReplayReorgSegment(ctx, jobID)
		if err != nil {
			return err
		}
		if done {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return e.CommitReorg(ctx, jobID)
}

// LocalRunner runs reorg jobs in process, in the background unless it
// was created synchronous.
type LocalRunner struct {
	engine      *Engine
	synchronous bool
	wg          sync.WaitGroup
}

func NewLocalRunner(e *Engine, synchronous bool) *LocalRunner {
	return &LocalRunner{engine: e, synchronous: synchronous}
}

func (r *LocalRunner) Submit(ctx context.Context, jobID string) error {
	if r.synchronous {
		return r.engine.RunReorg(ctx, jobID)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.engine.RunReorg(context.WithoutCancel(ctx), jobID); err != nil {
			reorgLog().Error().Err(err).Str("job", jobID).Msg("Reorg run failed")
		}
	}()
	return nil
}

// Wait blocks until background runs have finished.
func (r *LocalRunner) Wait() { r.wg.Wait() }

func diffAwards(live, shadow *Projection) (revoke, award []badges.Award) {
	for addr, s := range live.Actors {
		for typ, aw := range s.Badges {
			var want badges.Award
			found := false
			if sh, ok := shadow.Actors[addr]; ok {
				want, found = sh.Badges[typ]
			}
			if found && sameAward(aw, want) {
				continue
			}
			revoke = append(revoke, aw)
			if found {
				award = append(award, want)
			}
		}
	}
	for addr, sh := range shadow.Actors {
		for typ, aw := range sh.Badges {
			if s, ok := live.Actors[addr]; ok && s.HasBadge(typ) {
				continue
			}
			award = append(award, aw)
		}
	}
	sortAwards(revoke)
	sortAwards(award)
	return revoke, award
}

func sameAward(a, b badges.Award) bool {
	return a.Rarity == b.Rarity && a.AwardedAt.Equal(b.AwardedAt) && a.SourceGrantRef == b.SourceGrantRef
}

func sortAwards(list []badges.Award) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Actor != list[j].Actor {
			return list[i].Actor < list[j].Actor
		}
		return list[i].Type < list[j].Type
	})
}

func diffEdges(live, shadow *referral.Graph) (invalid []string, fresh []models.ReferralEdge) {
	have := make(map[chain.Address]referral.Edge, live.Len())
	for _, e := range live.Edges() {
		have[e.Referee] = e
	}
	want := make(map[chain.Address]referral.Edge, shadow.Len())
	for _, e := range shadow.Edges() {
		want[e.Referee] = e
	}
	for _, e := range live.Edges() {
		if w, ok := want[e.Referee]; !ok || w != e {
			invalid = append(invalid, string(e.Referee))
		}
	}
	for _, e := range shadow.Edges() {
		if h, ok := have[e.Referee]; !ok || h != e {
			fresh = append(fresh, edgeRow(e))
		}
	}
	return invalid, fresh
}

func diffStreaks(live, shadow *Projection) []models.StreakState {
	addrs := make(map[chain.Address]bool, len(live.Actors)+len(shadow.Actors))
	for a := range live.Actors {
		addrs[a] = true
	}
	for a := range shadow.Actors {
		addrs[a] = true
	}
	var out []models.StreakState
	for _, addr := range sortedAddrs(addrs) {
		var have, want ActorState
		if s, ok := live.Actors[addr]; ok {
			have = *s
		}
		if s, ok := shadow.Actors[addr]; ok {
			want = *s
		}
		if have.Streak.Current == want.Streak.Current &&
			have.Streak.Longest == want.Streak.Longest &&
			have.Streak.LastDay == want.Streak.LastDay &&
			slices.Equal(have.Streak.Milestones, want.Streak.Milestones) {
			continue
		}
		out = append(out, streakRow(addr, want.Streak))
	}
	return out
}
