// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/protocol"
)

// execute runs t's cascade once its predecessors have finished.
func (e *Engine) execute(t *ticket) {
	defer e.inflight.Done()
	defer close(t.done)

	for _, prev := range t.after {
		e.start(prev)
		<-prev.done
	}
	dep := t.dep
	t.after, t.dep = nil, nil

	if dep != nil && dep.err != nil {
		t.err = fmt.Errorf("%w: dependency %s failed: %v", ErrPartitionHalted, dep.step.action.Ref, dep.err)
		e.failTicket(t, t.err)
		return
	}
	if reason := e.haltedReason(t.lanes); reason != "" {
		t.err = fmt.Errorf("%w: %s", ErrPartitionHalted, reason)
		e.failTicket(t, t.err)
		return
	}
	if err := e.cascade(t); err != nil {
		t.err = fmt.Errorf("%w: %v", ErrPartitionHalted, err)
		e.failTicket(t, err)
	}
}

func (e *Engine) cascade(t *ticket) error {
	a := t.step.action
	ctx, span := e.tracer.Start(t.ctx, "engine.cascade", trace.WithAttributes(
		attribute.String("ref", a.Ref.String()),
		attribute.String("type", string(a.Type)),
		attribute.Int64("seq", int64(t.step.seq)),
	))
	defer span.End()

	held := e.lockLanes(t)
	defer e.lanes.unlock(held)

	started := time.Now()
	fx, err := backoff.Retry(ctx, func() (*effects, error) {
		e.projMu.RLock()
		fx, err := e.folder.compute(e.proj, t.step)
		e.projMu.RUnlock()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		batch, err := fx.batch()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		cctx, cancel := e.opContext(ctx)
		defer cancel()
		if err := e.store.CommitCascade(cctx, batch); err != nil {
			return nil, err
		}
		return fx, nil
	}, e.retryOptions(a.Ref)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cascade failed")
		return err
	}

	balances, err := e.publish(fx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}
	e.metrics.ObserveCascade(time.Since(started))

	e.emit(protocol.ActionRecordedEvent{
		Metadata: protocol.NewMetadata(a.Ref.Key()),
		Ref:      a.Ref.String(),
		Seq:      t.step.seq,
		Actor:    string(a.Actor),
		Target:   string(a.Target),
		Type:     string(a.Type),
	})
	e.report(fx, balances)
	return nil
}

// lockLanes locks t's lanes. A Sign whose referral bonus became due after
// admission also needs the referrer's lane; when the required set grows
// under lock, the locks are dropped and the larger set taken in order.
func (e *Engine) lockLanes(t *ticket) []int {
	set := t.lanes
	for {
		e.lanes.lock(set)
		need := e.requiredLanes(t.step.action)
		missing := false
		for _, l := range need {
			if !contains(set, l) {
				missing = true
				break
			}
		}
		if !missing {
			return set
		}
		e.lanes.unlock(set)
		set = union(set, need)
	}
}

func (e *Engine) requiredLanes(a chain.Action) []int {
	addrs := []chain.Address{a.Actor, a.Target}
	if a.Type == chain.ActionSign {
		e.projMu.RLock()
		if s, ok := e.proj.Actor(a.Actor); ok && s.BonusDue {
			if edge, ok := e.proj.Graph.Referrer(a.Actor); ok {
				addrs = append(addrs, edge.Referrer)
			}
		}
		e.projMu.RUnlock()
	}
	if a.Type == chain.ActionRefer {
		return e.lanes.set(addrs, e.lanes.graph())
	}
	return e.lanes.set(addrs)
}

func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := e.cfg.Engine.CascadeTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) retryOptions(ref chain.ChainRef) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.cfg.Engine.CascadeRetries + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			getLog().Warn().Err(err).
				Str("ref", ref.String()).
				Dur("retry_in", next).
				Msg("Cascade attempt failed")
		}),
	}
}

// publish installs committed effects into the live projection and the
// leaderboard in one step, and returns the new balances of the actors that
// received grants.
func (e *Engine) publish(fx *effects) (map[chain.Address]int64, error) {
	e.projMu.Lock()
	defer e.projMu.Unlock()
	if err := e.proj.apply(fx); err != nil {
		return nil, err
	}
	e.board.Apply(fx.grants, e.proj.Ledger.Len(), firstAtOf(fx))
	balances := make(map[chain.Address]int64, len(fx.grants))
	for _, g := range fx.grants {
		balances[g.Actor] = e.proj.Ledger.Balance(g.Actor)
	}
	return balances, nil
}

// report emits the events and metrics of published effects.
func (e *Engine) report(fx *effects, balances map[chain.Address]int64) {
	for _, g := range fx.grants {
		e.metrics.ObserveGrant(g.Reason, g.Amount)
		e.emit(protocol.PointsGrantedEvent{
			Metadata:  protocol.NewMetadata(g.ID),
			GrantID:   g.ID,
			Actor:     string(g.Actor),
			Amount:    g.Amount,
			Reason:    g.Reason,
			SourceRef: g.SourceRef.String(),
			Balance:   balances[g.Actor],
			CreatedAt: g.CreatedAt,
		})
	}
	for _, m := range fx.milestones {
		e.emit(protocol.StreakMilestoneEvent{
			Metadata:  protocol.NewMetadata(fmt.Sprintf("%s/streak/%d", m.Actor, m.N)),
			Actor:     string(m.Actor),
			Milestone: m.N,
		})
	}
	if fx.referral != "" {
		e.metrics.ObserveReferral(fx.referral)
	}
	if fx.edge != nil {
		e.emit(protocol.ReferralAttributedEvent{
			Metadata: protocol.NewMetadata(string(fx.edge.Referee) + "/referral"),
			Referee:  string(fx.edge.Referee),
			Referrer: string(fx.edge.Referrer),
			Ref:      fx.edge.Ref.String(),
		})
	}
	for _, aw := range fx.awards {
		e.metrics.ObserveBadgeAwarded(aw.Type)
		getLog().Info().
			Str("actor", string(aw.Actor)).
			Str("badge", aw.Type).
			Msg("Badge awarded")
		e.emit(protocol.BadgeAwardedEvent{
			Metadata:  protocol.NewMetadata(string(aw.Actor) + "/" + aw.Type),
			Actor:     string(aw.Actor),
			BadgeType: aw.Type,
			Rarity:    string(aw.Rarity),
			AwardedAt: aw.AwardedAt,
		})
	}
	for _, f := range fx.failures {
		e.metrics.ObserveBadgeEvalFailure(f.Type)
		getLog().Warn().Err(f.Err).
			Str("actor", string(f.Actor)).
			Str("badge", f.Type).
			Msg("Badge rule evaluation failed")
	}
}

// failTicket halts the lanes of a cascade that could not be applied. The
// ref leaves the canonical set so upstream redelivery is admitted after
// the lanes are resumed.
func (e *Engine) failTicket(t *ticket, err error) {
	a := t.step.action
	e.refs.remove(a.Ref.Key())
	e.metrics.IncCascadeFailure()
	fresh := e.halt(t.lanes, fmt.Sprintf("cascade of %s failed: %v", a.Ref, err))

	getLog().Error().Err(err).
		Str("ref", a.Ref.String()).
		Uint64("seq", t.step.seq).
		Ints("lanes", t.lanes).
		Msg("Cascade failed, partitions halted")

	if len(fresh) > 0 {
		e.emit(protocol.PartitionHaltedEvent{
			Metadata: protocol.NewMetadata(""),
			Lanes:    fresh,
			Reason:   err.Error(),
		})
	}
	e.observe(a, Outcome{Ref: a.Ref, Status: Rejected, Reason: ReasonPartitionHalted, Seq: t.step.seq, Detail: err.Error()})
}
