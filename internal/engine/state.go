// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/json"
	"maps"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/badges"
	"github.com/noldarim/rankledger/internal/engine/leaderboard"
	"github.com/noldarim/rankledger/internal/engine/ledger"
	"github.com/noldarim/rankledger/internal/engine/referral"
	"github.com/noldarim/rankledger/internal/engine/streak"
)

// ActorState is everything the engine knows about one address apart from
// its grants.
type ActorState struct {
	Address chain.Address  `json:"address"`
	Acted   bool           `json:"acted"`
	Ordinal uint64         `json:"ordinal"`
	FirstAt time.Time      `json:"first_at"`
	LastRef chain.ChainRef `json:"last_ref"`

	Actions            int64  `json:"actions"`
	Signs              int64  `json:"signs"`
	SignaturesReceived int64  `json:"signatures_received"`
	ReactionsGiven     int64  `json:"reactions_given"`
	ReactionsReceived  int64  `json:"reactions_received"`
	Referrals          int64  `json:"referrals"`
	TipsSent           int64  `json:"tips_sent"`
	TipsSentWei        string `json:"tips_sent_wei,omitempty"`
	TipsReceivedWei    string `json:"tips_received_wei,omitempty"`
	// LastSignDay is meaningful once Signs > 0.
	LastSignDay int64                  `json:"last_sign_day"`
	Guestbooks  map[chain.Address]bool `json:"guestbooks,omitempty"`

	Streak streak.State `json:"streak"`

	// BaseGranted is set by the actor's first sign grant. BonusDue marks a
	// referral edge whose bonus is paid on that grant.
	BaseGranted bool `json:"base_granted"`
	BonusDue    bool `json:"bonus_due"`

	Badges map[string]badges.Award `json:"badges,omitempty"`
	Flags  map[string]time.Time    `json:"flags,omitempty"`
}

func newActorState(addr chain.Address) *ActorState {
	return &ActorState{Address: addr}
}

// Clone returns a deep copy.
func (s *ActorState) Clone() *ActorState {
	c := *s
	c.Guestbooks = maps.Clone(s.Guestbooks)
	c.Streak = s.Streak.Clone()
	c.Badges = maps.Clone(s.Badges)
	c.Flags = maps.Clone(s.Flags)
	return &c
}

// HasBadge reports whether the actor holds badgeType.
func (s *ActorState) HasBadge(badgeType string) bool {
	_, ok := s.Badges[badgeType]
	return ok
}

func (s *ActorState) award(a badges.Award) {
	if s.Badges == nil {
		s.Badges = make(map[string]badges.Award)
	}
	s.Badges[a.Type] = a
}

// Metrics are the count metrics badge rules can reference.
func (s *ActorState) Metrics() map[string]int64 {
	return map[string]int64{
		badges.MetricSigns:              s.Signs,
		badges.MetricDistinctGuestbooks: int64(len(s.Guestbooks)),
		badges.MetricReactionsGiven:     s.ReactionsGiven,
		badges.MetricReactionsReceived:  s.ReactionsReceived,
		badges.MetricSignaturesReceived: s.SignaturesReceived,
		badges.MetricReferrals:          s.Referrals,
		badges.MetricTipsSent:           s.TipsSent,
		badges.MetricActions:            s.Actions,
	}
}

// Facts is the badge evaluator's view of the actor.
func (s *ActorState) Facts(ranks map[string]int) badges.Facts {
	flags := make(map[string]bool, len(s.Flags))
	for f := range s.Flags {
		flags[f] = true
	}
	return badges.Facts{
		Metrics:       s.Metrics(),
		LongestStreak: s.Streak.Longest,
		Acted:         s.Acted,
		Ordinal:       s.Ordinal,
		Flags:         flags,
		Ranks:         ranks,
	}
}

func addWei(total string, amount *uint256.Int) string {
	sum := new(uint256.Int)
	if total != "" {
		if v, err := uint256.FromDecimal(total); err == nil {
			sum = v
		}
	}
	sum.Add(sum, amount)
	return sum.Dec()
}

// Projection is the materialized state folded from the canonical log. The
// live projection is guarded by the engine; shadow projections built by
// replay are owned by their builder.
type Projection struct {
	Actors       map[chain.Address]*ActorState
	Ledger       *ledger.Ledger
	Graph        *referral.Graph
	Seq          uint64
	MaxBlock     uint64
	MaxBlockTime time.Time
	NextOrdinal  uint64
	Epoch        uint64
}

func NewProjection() *Projection {
	return &Projection{
		Actors: make(map[chain.Address]*ActorState),
		Ledger: ledger.New(),
		Graph:  referral.NewGraph(),
	}
}

// Actor returns the live state of addr. Callers must not mutate it.
func (p *Projection) Actor(addr chain.Address) (*ActorState, bool) {
	s, ok := p.Actors[addr]
	return s, ok
}

// Addresses lists every known actor in address order.
func (p *Projection) Addresses() []chain.Address {
	out := make([]chain.Address, 0, len(p.Actors))
	for a := range p.Actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FirstAt maps every actor to its tie-break timestamp.
func (p *Projection) FirstAt() map[chain.Address]time.Time {
	out := make(map[chain.Address]time.Time, len(p.Actors))
	for a, s := range p.Actors {
		out[a] = s.FirstAt
	}
	return out
}

// Clone returns an independent copy.
func (p *Projection) Clone() *Projection {
	c := *p
	c.Actors = make(map[chain.Address]*ActorState, len(p.Actors))
	for a, s := range p.Actors {
		c.Actors[a] = s.Clone()
	}
	c.Ledger = p.Ledger.Clone()
	c.Graph = p.Graph.Clone()
	return &c
}

// Ranks ranks actors with positive points in the bucket of window that
// contains at, best first, truncated to limit.
func (p *Projection) Ranks(window string, at time.Time, limit int) ([]leaderboard.Entry, error) {
	w, err := leaderboard.ParseWindow(window)
	if err != nil {
		return nil, err
	}
	sums := make(map[chain.Address]int64)
	if w == leaderboard.All {
		for a, bal := range p.Ledger.Balances() {
			sums[a] = bal
		}
	} else {
		key := leaderboard.BucketKey(w, at)
		for _, g := range p.Ledger.Entries() {
			if leaderboard.BucketKey(w, g.CreatedAt) == key {
				sums[g.Actor] += g.Amount
			}
		}
	}
	entries := make([]leaderboard.Entry, 0, len(sums))
	for a, pts := range sums {
		if pts <= 0 {
			continue
		}
		e := leaderboard.Entry{Actor: a, Points: pts}
		if s, ok := p.Actors[a]; ok {
			e.FirstAt = s.FirstAt
		}
		entries = append(entries, e)
	}
	leaderboard.Sort(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

type projectionJSON struct {
	Actors       []*ActorState   `json:"actors"`
	Grants       []ledger.Grant  `json:"grants"`
	Edges        []referral.Edge `json:"edges"`
	Seq          uint64          `json:"seq"`
	MaxBlock     uint64          `json:"max_block"`
	MaxBlockTime time.Time       `json:"max_block_time"`
	NextOrdinal  uint64          `json:"next_ordinal"`
	Epoch        uint64          `json:"epoch"`
}

func (p *Projection) MarshalJSON() ([]byte, error) {
	out := projectionJSON{
		Actors:       make([]*ActorState, 0, len(p.Actors)),
		Grants:       p.Ledger.Entries(),
		Edges:        p.Graph.Edges(),
		Seq:          p.Seq,
		MaxBlock:     p.MaxBlock,
		MaxBlockTime: p.MaxBlockTime,
		NextOrdinal:  p.NextOrdinal,
		Epoch:        p.Epoch,
	}
	for _, a := range p.Addresses() {
		out.Actors = append(out.Actors, p.Actors[a])
	}
	return json.Marshal(out)
}

func (p *Projection) UnmarshalJSON(data []byte) error {
	var in projectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	l, err := ledger.FromEntries(in.Grants)
	if err != nil {
		return err
	}
	*p = Projection{
		Actors:       make(map[chain.Address]*ActorState, len(in.Actors)),
		Ledger:       l,
		Graph:        referral.FromEdges(in.Edges),
		Seq:          in.Seq,
		MaxBlock:     in.MaxBlock,
		MaxBlockTime: in.MaxBlockTime,
		NextOrdinal:  in.NextOrdinal,
		Epoch:        in.Epoch,
	}
	for _, s := range in.Actors {
		p.Actors[s.Address] = s
	}
	return nil
}
