// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package leaderboard keeps ranked per-bucket point sums for the all-time,
// monthly and weekly windows.
package leaderboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/btree"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/ledger"
)

type Window string

const (
	All   Window = "all"
	Month Window = "month"
	Week  Window = "week"
)

// Windows lists every window in a stable order.
var Windows = []Window{All, Month, Week}

func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case All, Month, Week:
		return w, nil
	}
	return "", fmt.Errorf("unknown leaderboard window %q", s)
}

// BucketKey is the bucket of window containing t.
func BucketKey(w Window, t time.Time) string {
	switch w {
	case Month:
		return chain.MonthKey(t)
	case Week:
		return chain.WeekKey(t)
	}
	return string(All)
}

// Entry is one actor's position in a bucket.
type Entry struct {
	Actor   chain.Address `json:"actor"`
	Points  int64         `json:"points"`
	FirstAt time.Time     `json:"first_at"`
}

// Less orders by points descending, then earliest first action, then address.
func Less(a, b Entry) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if !a.FirstAt.Equal(b.FirstAt) {
		return a.FirstAt.Before(b.FirstAt)
	}
	return a.Actor < b.Actor
}

// Sort orders entries in place by Less.
func Sort(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

const degree = 32

type bucket struct {
	tree    *btree.BTreeG[Entry]
	entries map[chain.Address]Entry
	version uint64
}

func newBucket() *bucket {
	return &bucket{
		tree:    btree.NewG(degree, Less),
		entries: make(map[chain.Address]Entry),
	}
}

func (b *bucket) put(e Entry) {
	if old, ok := b.entries[e.Actor]; ok {
		if old == e {
			return
		}
		b.tree.Delete(old)
	}
	b.entries[e.Actor] = e
	b.tree.ReplaceOrInsert(e)
	b.version++
}

// Index is the full set of buckets folded from a ledger prefix.
type Index struct {
	buckets map[Window]map[string]*bucket
	firstAt map[chain.Address]time.Time
	cursor  int
}

func NewIndex() *Index {
	ix := &Index{
		buckets: make(map[Window]map[string]*bucket, len(Windows)),
		firstAt: make(map[chain.Address]time.Time),
	}
	for _, w := range Windows {
		ix.buckets[w] = make(map[string]*bucket)
	}
	return ix
}

// Build folds grants into a fresh index whose cursor is cursor.
func Build(grants []ledger.Grant, cursor int, firstAt map[chain.Address]time.Time) *Index {
	ix := NewIndex()
	ix.Apply(grants, cursor, firstAt)
	return ix
}

// Cursor is the number of ledger entries folded so far.
func (ix *Index) Cursor() int { return ix.cursor }

// Apply folds grants and moves the cursor. firstAt carries first-action
// times for actors that may be new or whose time changed.
func (ix *Index) Apply(grants []ledger.Grant, cursor int, firstAt map[chain.Address]time.Time) {
	for actor, at := range firstAt {
		if prev, ok := ix.firstAt[actor]; ok && prev.Equal(at) {
			continue
		}
		ix.firstAt[actor] = at
		for _, byKey := range ix.buckets {
			for _, b := range byKey {
				if e, ok := b.entries[actor]; ok {
					e.FirstAt = at
					b.put(e)
				}
			}
		}
	}
	for _, g := range grants {
		for _, w := range Windows {
			key := BucketKey(w, g.CreatedAt)
			b, ok := ix.buckets[w][key]
			if !ok {
				b = newBucket()
				ix.buckets[w][key] = b
			}
			e, ok := b.entries[g.Actor]
			if !ok {
				e = Entry{Actor: g.Actor, FirstAt: ix.firstAt[g.Actor]}
			}
			e.Points += g.Amount
			b.put(e)
		}
	}
	if cursor > ix.cursor {
		ix.cursor = cursor
	}
}

// Evict drops all but the newest retain buckets of the month and week
// windows. Buckets for keep are never dropped.
func (ix *Index) Evict(retain int, keep time.Time) []string {
	if retain <= 0 {
		return nil
	}
	var dropped []string
	for _, w := range []Window{Month, Week} {
		keys := make([]string, 0, len(ix.buckets[w]))
		for k := range ix.buckets[w] {
			keys = append(keys, k)
		}
		if len(keys) <= retain {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
		current := BucketKey(w, keep)
		for _, k := range keys[retain:] {
			if k == current {
				continue
			}
			delete(ix.buckets[w], k)
			dropped = append(dropped, string(w)+"/"+k)
		}
	}
	return dropped
}

// Points returns the actor's sum in a bucket.
func (ix *Index) Points(w Window, key string, actor chain.Address) (int64, bool) {
	b, ok := ix.buckets[w][key]
	if !ok {
		return 0, false
	}
	e, ok := b.entries[actor]
	return e.Points, ok
}

// Keys lists the window's bucket keys, newest first.
func (ix *Index) Keys(w Window) []string {
	keys := make([]string, 0, len(ix.buckets[w]))
	for k := range ix.buckets[w] {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys
}

// diff lists actors whose sum differs between ix and other in any bucket
// present in both.
func (ix *Index) diff(other *Index) []chain.Address {
	drifted := map[chain.Address]struct{}{}
	for _, w := range Windows {
		for key, b := range ix.buckets[w] {
			ob, ok := other.buckets[w][key]
			if !ok {
				for actor := range b.entries {
					drifted[actor] = struct{}{}
				}
				continue
			}
			for actor, e := range b.entries {
				if oe, ok := ob.entries[actor]; !ok || oe.Points != e.Points {
					drifted[actor] = struct{}{}
				}
			}
			for actor := range ob.entries {
				if _, ok := b.entries[actor]; !ok {
					drifted[actor] = struct{}{}
				}
			}
		}
		for key, ob := range other.buckets[w] {
			if _, ok := ix.buckets[w][key]; ok {
				continue
			}
			for actor := range ob.entries {
				drifted[actor] = struct{}{}
			}
		}
	}
	out := make([]chain.Address, 0, len(drifted))
	for a := range drifted {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
