// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/badges"
	"github.com/noldarim/rankledger/internal/engine/ledger"
	"github.com/noldarim/rankledger/internal/engine/referral"
)

const referralAttributed = "attributed"

// regEntry is what admission knows about an address.
type regEntry struct {
	Acted   bool
	Ordinal uint64
	FirstAt time.Time
}

// registry assigns admission ordinals and first-seen times in seq order.
type registry struct {
	entries map[chain.Address]regEntry
	next    uint64
}

func newRegistry(p *Projection) *registry {
	r := &registry{entries: make(map[chain.Address]regEntry, len(p.Actors)), next: p.NextOrdinal}
	for a, s := range p.Actors {
		r.entries[a] = regEntry{Acted: s.Acted, Ordinal: s.Ordinal, FirstAt: s.FirstAt}
	}
	return r
}

// step is one admitted action together with the registry facts fixed at
// admission time.
type step struct {
	action        chain.Action
	seq           uint64
	actor         regEntry
	target        regEntry
	referrerKnown bool
}

func (r *registry) admit(a chain.Action, seq uint64) step {
	st := step{action: a, seq: seq, referrerKnown: r.entries[a.Target].Acted}

	// flag-only addresses are known but have never been seen on chain
	act := r.entries[a.Actor]
	if act.FirstAt.IsZero() {
		act.FirstAt = a.BlockTime
	}
	if !act.Acted {
		act.Acted = true
		act.Ordinal = r.next
		r.next++
	}
	r.entries[a.Actor] = act
	st.actor = act

	tgt := r.entries[a.Target]
	if tgt.FirstAt.IsZero() {
		tgt.FirstAt = a.BlockTime
		r.entries[a.Target] = tgt
	}
	st.target = tgt
	return st
}

type milestoneHit struct {
	Actor chain.Address
	N     int
}

type evalFailure struct {
	Actor chain.Address
	badges.Failure
}

// effects is the outcome of folding one input into a projection. States are
// private clones until apply installs them.
type effects struct {
	step       *step
	states     map[chain.Address]*ActorState
	order      []chain.Address
	grants     []ledger.Grant
	lastGrant  map[chain.Address]string
	edge       *referral.Edge
	referral   string
	awards     []badges.Award
	milestones []milestoneHit
	failures   []evalFailure
}

func newEffects(st *step) *effects {
	return &effects{
		step:      st,
		states:    make(map[chain.Address]*ActorState),
		lastGrant: make(map[chain.Address]string),
	}
}

// state returns the clone of addr owned by fx.
func (fx *effects) state(p *Projection, addr chain.Address) *ActorState {
	if s, ok := fx.states[addr]; ok {
		return s
	}
	var s *ActorState
	if cur, ok := p.Actors[addr]; ok {
		s = cur.Clone()
	} else {
		s = newActorState(addr)
	}
	fx.states[addr] = s
	fx.order = append(fx.order, addr)
	return s
}

func (fx *effects) grant(actor chain.Address, reason string, amount int64) {
	if amount == 0 {
		return
	}
	g := ledger.NewGrant(fx.step.action, fx.step.seq, actor, reason, amount)
	fx.grants = append(fx.grants, g)
	fx.lastGrant[actor] = g.ID
}

// touched lists the actors whose state fx replaces, in address order.
func (fx *effects) touched() []chain.Address {
	out := append([]chain.Address(nil), fx.order...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// folder holds the rule tables a fold runs against.
type folder struct {
	rules        ledger.Rules
	table        *badges.Table
	requireKnown bool
}

// compute folds one admitted action into clones of the states it touches.
// p is only read.
func (f *folder) compute(p *Projection, st step) (*effects, error) {
	a := st.action
	fx := newEffects(&st)
	day := chain.DayIndex(a.BlockTime)

	actor := fx.state(p, a.Actor)
	actor.Acted = true
	actor.Ordinal = st.actor.Ordinal
	actor.FirstAt = st.actor.FirstAt
	if actor.LastRef.Less(a.Ref) {
		actor.LastRef = a.Ref
	}
	actor.Actions++

	target := fx.state(p, a.Target)
	if target != actor && target.FirstAt.IsZero() {
		target.FirstAt = st.target.FirstAt
	}

	switch a.Type {
	case chain.ActionSign:
		firstToday := actor.Signs == 0 || day > actor.LastSignDay
		actor.Signs++
		if firstToday {
			actor.LastSignDay = day
		}
		fx.grant(actor.Address, ledger.ReasonSign, f.rules.Sign)
		if firstToday {
			fx.grant(actor.Address, ledger.ReasonDailyFirstSign, f.rules.DailyFirstSign)
		}
		if target != actor {
			if actor.Guestbooks == nil {
				actor.Guestbooks = make(map[chain.Address]bool)
			}
			actor.Guestbooks[target.Address] = true
			target.SignaturesReceived++
			fx.grant(target.Address, ledger.ReasonSignatureReceived, f.rules.SignatureReceived)
		}
		if actor.BonusDue {
			if e, ok := p.Graph.Referrer(actor.Address); ok {
				referrer := fx.state(p, e.Referrer)
				fx.grant(referrer.Address, ledger.ReasonReferralBonus, f.rules.ReferralBonus(f.rules.Sign))
			}
			actor.BonusDue = false
		}
		actor.BaseGranted = true

	case chain.ActionReact:
		actor.ReactionsGiven++
		if target != actor {
			target.ReactionsReceived++
			fx.grant(target.Address, ledger.ReasonReactionReceived, f.rules.ReactionReceived)
		}

	case chain.ActionRefer:
		var known func(chain.Address) bool
		if f.requireKnown {
			known = func(chain.Address) bool { return st.referrerKnown }
		}
		if err := p.Graph.Check(actor.Address, target.Address, known); err != nil {
			fx.referral = referral.RejectReason(err)
		} else {
			fx.edge = &referral.Edge{Referee: actor.Address, Referrer: target.Address, Ref: a.Ref}
			fx.referral = referralAttributed
			target.Referrals++
			actor.BonusDue = !actor.BaseGranted
		}

	case chain.ActionTip:
		amount, err := chain.TipAmount(a.Payload.Amount)
		if err != nil {
			return nil, err
		}
		actor.TipsSent++
		actor.TipsSentWei = addWei(actor.TipsSentWei, amount)
		target.TipsReceivedWei = addWei(target.TipsReceivedWei, amount)

	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.Type)
	}

	if a.Type.Qualifies() {
		next, crossed := actor.Streak.Apply(day, f.rules.Milestones)
		actor.Streak = next
		for _, n := range crossed {
			fx.milestones = append(fx.milestones, milestoneHit{Actor: actor.Address, N: n})
			fx.grant(actor.Address, ledger.MilestoneReason(n), f.rules.Milestone(n))
		}
	}

	for i, g := range fx.grants {
		if _, exists := p.Ledger.Get(g.ID); !exists {
			continue
		}
		if p.Ledger.NetOf(g.ID) != 0 {
			return nil, fmt.Errorf("%w: grant %s already recorded", ErrLedgerCorruption, g.ID)
		}
		// a ref re-included after a reorg reversed its grants nets into the
		// original id again; badges keep citing the original id
		fx.grants[i].ID = fmt.Sprintf("%s/readmit/%d", g.ID, st.seq)
		fx.grants[i].Reverses = g.ID
	}

	for _, addr := range fx.order {
		f.evaluate(fx, fx.states[addr], badges.PhaseAction, a.BlockTime, nil)
	}
	return fx, nil
}

// evaluate runs one phase of the badge table for s and records new awards.
func (f *folder) evaluate(fx *effects, s *ActorState, phase badges.Phase, at time.Time, ranks map[string]int) {
	earned, failures := f.table.Evaluate(phase, s.Facts(ranks), s.HasBadge)
	for _, fail := range failures {
		fx.failures = append(fx.failures, evalFailure{Actor: s.Address, Failure: fail})
	}
	for _, d := range earned {
		awardedAt := at
		if d.Rule.Kind == badges.KindFlag {
			if setAt, ok := s.Flags[d.Rule.Flag]; ok {
				awardedAt = setAt
			}
		}
		award := badges.Award{
			Actor:          s.Address,
			Type:           d.Type,
			Rarity:         d.Rarity,
			AwardedAt:      awardedAt,
			SourceGrantRef: fx.lastGrant[s.Address],
		}
		s.award(award)
		fx.awards = append(fx.awards, award)
	}
}

// epochEffects evaluates rank rules against the projection as it stands.
// Only actors that earn something are included.
func (f *folder) epochEffects(p *Projection) *effects {
	fx := newEffects(nil)
	at := p.MaxBlockTime
	ranks := make(map[chain.Address]map[string]int)

	for _, w := range f.table.RankWindows() {
		entries, err := p.Ranks(w, at, f.table.MaxRank(w))
		if err != nil {
			for _, d := range f.table.Definitions() {
				if d.Rule.Kind == badges.KindRank && d.Rule.Window == w {
					fx.failures = append(fx.failures, evalFailure{Failure: badges.Failure{
						Type: d.Type,
						Err:  fmt.Errorf("%w: %s: %v", badges.ErrRuleEvaluation, d.Type, err),
					}})
				}
			}
			continue
		}
		for i, e := range entries {
			if ranks[e.Actor] == nil {
				ranks[e.Actor] = make(map[string]int)
			}
			ranks[e.Actor][w] = i + 1
		}
	}

	candidates := make([]chain.Address, 0, len(ranks))
	for a := range ranks {
		candidates = append(candidates, a)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	for _, addr := range candidates {
		cur, ok := p.Actors[addr]
		if !ok {
			cur = newActorState(addr)
		}
		earned, failures := f.table.Evaluate(badges.PhaseEpoch, cur.Facts(ranks[addr]), cur.HasBadge)
		for _, fail := range failures {
			fx.failures = append(fx.failures, evalFailure{Actor: addr, Failure: fail})
		}
		if len(earned) == 0 {
			continue
		}
		s := fx.state(p, addr)
		for _, d := range earned {
			award := badges.Award{Actor: addr, Type: d.Type, Rarity: d.Rarity, AwardedAt: at}
			s.award(award)
			fx.awards = append(fx.awards, award)
		}
	}
	return fx
}

// flagEffects records a flag on the actor and evaluates flag rules.
func (f *folder) flagEffects(p *Projection, actor chain.Address, flag string, setAt time.Time) *effects {
	fx := newEffects(nil)
	s := fx.state(p, actor)
	if _, ok := s.Flags[flag]; !ok {
		if s.Flags == nil {
			s.Flags = make(map[string]time.Time)
		}
		s.Flags[flag] = setAt
	}
	f.evaluate(fx, s, badges.PhaseFlag, setAt, nil)
	return fx
}

// apply installs fx into p. The ledger append is checked first, so a failed
// apply leaves p untouched.
func (p *Projection) apply(fx *effects) error {
	if err := p.Ledger.Append(fx.grants...); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerCorruption, err)
	}
	for addr, s := range fx.states {
		p.Actors[addr] = s
		if s.Acted && s.Ordinal >= p.NextOrdinal {
			p.NextOrdinal = s.Ordinal + 1
		}
	}
	if fx.edge != nil {
		p.Graph.Add(*fx.edge)
	}
	if st := fx.step; st != nil {
		if st.seq > p.Seq {
			p.Seq = st.seq
		}
		if st.action.Ref.Block > p.MaxBlock {
			p.MaxBlock = st.action.Ref.Block
		}
		if st.action.BlockTime.After(p.MaxBlockTime) {
			p.MaxBlockTime = st.action.BlockTime
		}
	}
	return nil
}
