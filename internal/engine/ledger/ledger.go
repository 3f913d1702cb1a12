// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger holds the append-only points ledger. Every balance in the
// system is a fold over its grants.
package ledger

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/noldarim/rankledger/internal/chain"
)

var (
	// ErrDuplicateGrant is returned when a grant id is appended twice.
	ErrDuplicateGrant = errors.New("duplicate grant")
	// ErrBadCursor is returned for history cursors this ledger did not issue.
	ErrBadCursor = errors.New("invalid history cursor")
)

// Grant is one immutable ledger entry.
type Grant struct {
	ID        string         `json:"id"`
	Actor     chain.Address  `json:"actor"`
	Amount    int64          `json:"amount"`
	Reason    string         `json:"reason"`
	SourceRef chain.ChainRef `json:"source_ref"`
	ActionSeq uint64         `json:"action_seq"`
	// Reverses names the grant this entry corrects. Empty for original grants.
	Reverses  string    `json:"reverses,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GrantID is the deterministic id of an original grant.
func GrantID(ref chain.ChainRef, reason string, actor chain.Address) string {
	return fmt.Sprintf("%s/%s/%s", ref, reason, actor)
}

// NewGrant builds an original grant sourced from action.
func NewGrant(action chain.Action, seq uint64, actor chain.Address, reason string, amount int64) Grant {
	return Grant{
		ID:        GrantID(action.Ref, reason, actor),
		Actor:     actor,
		Amount:    amount,
		Reason:    reason,
		SourceRef: action.Ref,
		ActionSeq: seq,
		CreatedAt: action.BlockTime,
	}
}

// Key is the original grant id this entry nets into.
func (g Grant) Key() string {
	if g.Reverses != "" {
		return g.Reverses
	}
	return g.ID
}

// Page is one page of an actor's history.
type Page struct {
	Grants     []Grant `json:"grants"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Ledger is an in-memory grant log. It is not safe for concurrent writers;
// the engine guards it with the projection lock.
type Ledger struct {
	entries  []Grant
	byID     map[string]int
	byActor  map[chain.Address][]int
	balances map[chain.Address]int64
	net      map[string]int64
	firstOf  map[string]int
}

func New() *Ledger {
	return &Ledger{
		byID:     make(map[string]int),
		byActor:  make(map[chain.Address][]int),
		balances: make(map[chain.Address]int64),
		net:      make(map[string]int64),
		firstOf:  make(map[string]int),
	}
}

// FromEntries rebuilds a ledger from entries in append order.
func FromEntries(entries []Grant) (*Ledger, error) {
	l := New()
	if err := l.Append(entries...); err != nil {
		return nil, err
	}
	return l, nil
}

// Append adds grants in order. It fails without side effects if any id is
// already present.
func (l *Ledger) Append(grants ...Grant) error {
	seen := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if _, ok := l.byID[g.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateGrant, g.ID)
		}
		if _, ok := seen[g.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateGrant, g.ID)
		}
		seen[g.ID] = struct{}{}
	}
	for _, g := range grants {
		idx := len(l.entries)
		l.entries = append(l.entries, g)
		l.byID[g.ID] = idx
		l.byActor[g.Actor] = append(l.byActor[g.Actor], idx)
		l.balances[g.Actor] += g.Amount
		key := g.Key()
		l.net[key] += g.Amount
		if _, ok := l.firstOf[key]; !ok {
			l.firstOf[key] = idx
		}
	}
	return nil
}

// Balance is the fold of the actor's grants.
func (l *Ledger) Balance(actor chain.Address) int64 {
	return l.balances[actor]
}

// Balances returns a copy of every actor's balance.
func (l *Ledger) Balances() map[chain.Address]int64 {
	return lo.Assign(l.balances)
}

// Len is the append cursor: the number of entries so far.
func (l *Ledger) Len() int { return len(l.entries) }

// Get returns the grant with the given id.
func (l *Ledger) Get(id string) (Grant, bool) {
	idx, ok := l.byID[id]
	if !ok {
		return Grant{}, false
	}
	return l.entries[idx], true
}

// Range copies entries [from, to).
func (l *Ledger) Range(from, to int) []Grant {
	if from < 0 {
		from = 0
	}
	if to > len(l.entries) {
		to = len(l.entries)
	}
	if from >= to {
		return nil
	}
	return append([]Grant(nil), l.entries[from:to]...)
}

// Entries copies the whole log.
func (l *Ledger) Entries() []Grant { return l.Range(0, len(l.entries)) }

// ActorGrants returns the actor's grants in append order.
func (l *Ledger) ActorGrants(actor chain.Address) []Grant {
	return lo.Map(l.byActor[actor], func(idx int, _ int) Grant { return l.entries[idx] })
}

// Net returns the net amount per original grant id, omitting ids that net
// to zero.
func (l *Ledger) Net() map[string]int64 {
	return lo.PickBy(l.net, func(_ string, v int64) bool { return v != 0 })
}

// NetOf is the net amount recorded under one original grant id.
func (l *Ledger) NetOf(key string) int64 { return l.net[key] }

// History pages through the actor's grants ordered by (createdAt, append
// order). The cursor is opaque; pass "" for the first page.
func (l *Ledger) History(actor chain.Address, cursor string, limit int) (Page, error) {
	offset, err := decodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	idx := append([]int(nil), l.byActor[actor]...)
	sort.SliceStable(idx, func(i, j int) bool {
		return l.entries[idx[i]].CreatedAt.Before(l.entries[idx[j]].CreatedAt)
	})
	if offset > len(idx) {
		return Page{}, fmt.Errorf("%w: offset %d past end", ErrBadCursor, offset)
	}
	end := len(idx)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := Page{Grants: make([]Grant, 0, end-offset)}
	for _, i := range idx[offset:end] {
		page.Grants = append(page.Grants, l.entries[i])
	}
	if end < len(idx) {
		page.NextCursor = encodeCursor(end)
	}
	return page, nil
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	c, _ := FromEntries(l.entries)
	return c
}

// Corrections returns the entries that bring this ledger's net grants in
// line with expected. Negative differences become reversals, positive ones
// re-grant under the original reason. Correction ids embed jobID.
func (l *Ledger) Corrections(expected *Ledger, jobID string) []Grant {
	keys := lo.Uniq(append(lo.Keys(l.net), lo.Keys(expected.net)...))
	sort.Strings(keys)

	var out []Grant
	for _, key := range keys {
		delta := expected.net[key] - l.net[key]
		if delta == 0 {
			continue
		}
		tmpl, live := l.template(key)
		if !live {
			tmpl, _ = expected.template(key)
		}
		g := Grant{
			Actor:     tmpl.Actor,
			Amount:    delta,
			SourceRef: tmpl.SourceRef,
			ActionSeq: tmpl.ActionSeq,
			CreatedAt: tmpl.CreatedAt,
		}
		switch {
		case delta < 0:
			g.ID = fmt.Sprintf("%s/%s/%s", key, ReasonReversal, jobID)
			g.Reason = ReasonReversal
			g.Reverses = key
		case !live:
			// never recorded here: append the original grant itself
			g.ID = key
			g.Reason = tmpl.Reason
		default:
			g.ID = fmt.Sprintf("%s/regrant/%s", key, jobID)
			g.Reason = originalReason(tmpl)
			g.Reverses = key
		}
		out = append(out, g)
	}
	return out
}

func (l *Ledger) template(key string) (Grant, bool) {
	idx, ok := l.firstOf[key]
	if !ok {
		return Grant{}, false
	}
	return l.entries[idx], true
}

func originalReason(g Grant) string {
	if g.Reason == ReasonReversal {
		// the first entry for a key is normally the original; fall back to
		// the reason encoded in the id
		if _, reason, ok := splitID(g.Reverses); ok {
			return reason
		}
	}
	return g.Reason
}

// splitID splits "<ref>/<reason>/<actor>".
func splitID(id string) (ref, reason string, ok bool) {
	first := -1
	last := -1
	for i := 0; i < len(id); i++ {
		if id[i] == '/' {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 || first == last {
		return "", "", false
	}
	return id[:first], id[first+1 : last], true
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) < 3 || string(raw[:2]) != "o:" {
		return 0, ErrBadCursor
	}
	n, err := strconv.Atoi(string(raw[2:]))
	if err != nil || n < 0 {
		return 0, ErrBadCursor
	}
	return n, nil
}
