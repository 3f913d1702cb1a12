// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/checkpoint"
	"github.com/noldarim/rankledger/internal/protocol"
)

// Admission is an admitted action whose cascade may not have run yet.
type Admission struct {
	Outcome Outcome

	e *Engine
	t *ticket
}

// Wait runs the cascade, if there is one, and blocks until it has
// finished or ctx is done. The cascade keeps running after ctx ends.
func (ad *Admission) Wait(ctx context.Context) error {
	if ad == nil || ad.t == nil {
		return nil
	}
	ad.e.start(ad.t)
	return ad.t.wait(ctx)
}

// Append records one action and runs its cascade before returning.
func (e *Engine) Append(ctx context.Context, a chain.Action) (Outcome, error) {
	ad, err := e.Admit(ctx, a)
	if err != nil {
		return ad.Outcome, err
	}
	if err := ad.Wait(ctx); err != nil {
		out := ad.Outcome
		if errors.Is(err, ErrPartitionHalted) || errors.Is(err, ErrLedgerCorruption) {
			out.Status = Rejected
			out.Reason = ReasonPartitionHalted
			out.Detail = err.Error()
		}
		return out, err
	}
	return ad.Outcome, nil
}

// Admit runs admission for a and assigns its seq, without waiting for the
// cascade. Cascades of admitted actions run in seq order per lane; callers
// that admit in order may Wait on admissions concurrently.
func (e *Engine) Admit(ctx context.Context, a chain.Action) (*Admission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return &Admission{Outcome: Outcome{Ref: a.Ref}}, errors.New("engine not started")
	}
	out, t, err := e.admitLocked(ctx, a, nil)
	return &Admission{Outcome: out, e: e, t: t}, err
}

// admitLocked runs the admission steps. dep is the ticket of the action a
// was waiting on, when a is being released from the buffer.
func (e *Engine) admitLocked(ctx context.Context, a chain.Action, dep *ticket) (Outcome, *ticket, error) {
	norm, err := a.Normalize()
	if err != nil {
		out := Outcome{Ref: a.Ref, Status: Rejected, Reason: ReasonInvalid, Detail: err.Error()}
		e.observe(a, out)
		return out, nil, nil
	}
	a = norm

	if a.Ref.Block > e.head {
		e.head = a.Ref.Block
	}
	e.expireLocked()

	key := a.Ref.Key()
	if e.refs.has(key) || e.buffer.has(key) || e.reorg.holding(key) {
		out := Outcome{Ref: a.Ref, Status: DuplicateIgnored}
		e.observe(a, out)
		return out, nil, nil
	}

	laneSet := e.lanesFor(a)
	if reason := e.haltedReason(laneSet); reason != "" {
		out := Outcome{Ref: a.Ref, Status: Rejected, Reason: ReasonPartitionHalted, Detail: reason}
		e.observe(a, out)
		return out, nil, fmt.Errorf("%w: %s", ErrPartitionHalted, reason)
	}

	if e.reorg != nil && e.reorg.holds(a, laneSet, e.nextEpochBlock()) {
		e.reorg.hold(a)
		out := Outcome{Ref: a.Ref, Status: Buffered, Reason: ReasonReorgPause}
		e.observe(a, out)
		return out, nil, nil
	}

	// a released action was ordered when it was buffered; enqueueLocked never
	// moves the position back
	if pos, ok := e.positions[a.Actor]; ok && dep == nil && a.Ref.Less(pos) {
		out := Outcome{Ref: a.Ref, Status: Rejected, Reason: ReasonOutOfOrder,
			Detail: fmt.Sprintf("actor position is %s", pos)}
		e.observe(a, out)
		return out, nil, nil
	}

	if d := a.Payload.DependsOn; d != nil && !e.refs.has(d.Key()) {
		if err := e.buffer.add(a); err != nil {
			out := Outcome{Ref: a.Ref, Status: Rejected, Reason: ReasonBufferFull}
			e.observe(a, out)
			return out, nil, nil
		}
		e.metrics.SetBufferSize(e.buffer.len())
		out := Outcome{Ref: a.Ref, Status: Buffered, Reason: ReasonAwaitingDependency}
		e.observe(a, out)
		return out, nil, nil
	}

	t := e.enqueueLocked(ctx, a, dep)
	out := Outcome{Ref: a.Ref, Status: Accepted, Seq: t.step.seq}
	e.metrics.ObserveAction(out.Label())

	e.releaseLocked(ctx, key, t)
	return out, t, nil
}

// enqueueLocked assigns the next seq and chains a ticket behind the lanes
// it touches. A rank epoch boundary crossed by a is evaluated first.
func (e *Engine) enqueueLocked(ctx context.Context, a chain.Action, dep *ticket) *ticket {
	if size := e.cfg.Engine.RankEpochBlocks; size > 0 {
		if ep := a.Ref.Block / size; ep > e.epoch {
			e.runEpochLocked(ctx, ep)
		}
	}

	// lanes are read before the pending referral state below changes
	laneSet := e.lanesFor(a)

	seq := e.nextSeq
	e.nextSeq++
	st := e.reg.admit(a, seq)
	if pos, ok := e.positions[a.Actor]; !ok || pos.Less(a.Ref) {
		e.positions[a.Actor] = a.Ref
	}
	e.refs.add(a.Ref.Key())

	switch a.Type {
	case chain.ActionSign:
		if !e.signed[a.Actor] {
			e.signed[a.Actor] = true
			delete(e.pending, a.Actor)
		}
	case chain.ActionRefer:
		if !e.signed[a.Actor] {
			e.pending[a.Actor] = append(e.pending[a.Actor], a.Target)
		}
	}

	t := newTicket(ctx, st, laneSet)
	seen := make(map[*ticket]bool, len(laneSet)+1)
	for _, l := range laneSet {
		if prev := e.tails[l]; prev != nil && !seen[prev] {
			seen[prev] = true
			t.after = append(t.after, prev)
		}
		e.tails[l] = t
	}
	if dep != nil {
		t.dep = dep
		if !seen[dep] {
			t.after = append(t.after, dep)
		}
	}
	e.inflight.Add(1)
	return t
}

// releaseLocked admits the buffered dependents of key in arrival order.
func (e *Engine) releaseLocked(ctx context.Context, key string, parent *ticket) {
	released := e.buffer.release(key)
	if len(released) == 0 {
		return
	}
	e.metrics.SetBufferSize(e.buffer.len())
	for _, b := range released {
		out, t, err := e.admitLocked(ctx, b, parent)
		if err != nil {
			getLog().Warn().Err(err).Str("ref", b.Ref.String()).Msg("Released action not admitted")
			continue
		}
		if t != nil {
			// nobody waits on released actions; run them now
			e.start(t)
		}
		getLog().Debug().
			Str("ref", b.Ref.String()).
			Str("outcome", out.Label()).
			Msg("Released buffered action")
	}
}

// lanesFor is the lane set of a: actor and target, the referrers that may
// be paid by a pending referral bonus, and the graph lane for Refer.
func (e *Engine) lanesFor(a chain.Action) []int {
	addrs := []chain.Address{a.Actor, a.Target}
	if a.Type == chain.ActionSign && !e.signed[a.Actor] {
		addrs = append(addrs, e.pending[a.Actor]...)
	}
	if a.Type == chain.ActionRefer {
		return e.lanes.set(addrs, e.lanes.graph())
	}
	return e.lanes.set(addrs)
}

func (e *Engine) nextEpochBlock() uint64 {
	size := e.cfg.Engine.RankEpochBlocks
	if size == 0 {
		return 0
	}
	return (e.epoch + 1) * size
}

// start launches t's cascade once.
func (e *Engine) start(t *ticket) {
	t.once.Do(func() { go e.execute(t) })
}

// drainLocked waits for every admitted cascade to finish.
func (e *Engine) drainLocked() {
	for _, t := range e.tails {
		e.start(t)
	}
	e.inflight.Wait()
}

// expireLocked rejects buffered actions the head has left behind.
func (e *Engine) expireLocked() {
	expired := e.buffer.expire(e.head)
	if len(expired) == 0 {
		return
	}
	e.metrics.SetBufferSize(e.buffer.len())
	for _, a := range expired {
		e.observe(a, Outcome{
			Ref:    a.Ref,
			Status: Rejected,
			Reason: ReasonBufferExpired,
			Detail: fmt.Sprintf("dependency %s not seen by block %d", a.Payload.DependsOn, e.head),
		})
	}
}

// observe counts and reports an outcome that did not produce a cascade.
func (e *Engine) observe(a chain.Action, out Outcome) {
	e.metrics.ObserveAction(out.Label())
	if out.Status != Rejected {
		return
	}
	ev := getLog().Debug()
	if out.Reason == ReasonBufferExpired || out.Reason == ReasonPartitionHalted {
		ev = getLog().Warn()
	}
	ev.Str("ref", out.Ref.String()).
		Str("actor", string(a.Actor)).
		Str("reason", out.Reason).
		Str("detail", out.Detail).
		Msg("Action rejected")
	e.emit(protocol.ActionRejectedEvent{
		Metadata: protocol.NewMetadata(out.Ref.Key() + "/rejected"),
		Ref:      out.Ref.String(),
		Actor:    string(a.Actor),
		Reason:   out.Reason,
	})
}

// runEpochLocked evaluates rank badges at the boundary of epoch ep once
// every earlier cascade has been published.
func (e *Engine) runEpochLocked(ctx context.Context, ep uint64) {
	e.drainLocked()

	ctx, span := e.tracer.Start(ctx, "engine.rank_epoch")
	defer span.End()

	e.projMu.RLock()
	fx := e.folder.epochEffects(e.proj)
	e.projMu.RUnlock()

	if len(fx.awards) > 0 {
		if err := e.store.CommitAwards(ctx, awardRows(fx.awards)); err != nil {
			getLog().Error().Err(err).Uint64("epoch", ep).Msg("Failed to persist rank awards")
		}
	}

	e.projMu.Lock()
	err := e.proj.apply(fx)
	e.proj.Epoch = ep
	e.projMu.Unlock()
	if err != nil {
		getLog().Error().Err(err).Uint64("epoch", ep).Msg("Failed to publish rank awards")
	}
	e.epoch = ep
	e.report(fx, nil)

	getLog().Debug().Uint64("epoch", ep).Int("awards", len(fx.awards)).Msg("Rank epoch evaluated")

	e.sinceCkpt++
	if every := e.cfg.Checkpoint.EveryEpochs; every > 0 && e.sinceCkpt >= every {
		e.sinceCkpt = 0
		if err := e.checkpointLocked(); err != nil {
			getLog().Error().Err(err).Uint64("epoch", ep).Msg("Failed to take checkpoint")
		}
	}
}

// checkpointLocked snapshots the live projection. It is skipped while any
// lane is halted, since the projection may then be missing admitted seqs.
func (e *Engine) checkpointLocked() error {
	if e.checkpoints == nil || len(e.Halted()) > 0 || e.reorg != nil {
		return nil
	}
	e.projMu.RLock()
	state, err := json.Marshal(e.proj)
	seq, maxBlock := e.proj.Seq, e.proj.MaxBlock
	e.projMu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode projection: %w", err)
	}
	return e.checkpoints.Save(checkpoint.Checkpoint{
		Seq:      seq,
		MaxBlock: maxBlock,
		TakenAt:  e.now().UTC(),
		State:    state,
	})
}
