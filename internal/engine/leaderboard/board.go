// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package leaderboard

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/ledger"
)

// Ranked is an entry with its 1-based rank.
type Ranked struct {
	Rank int `json:"rank"`
	Entry
}

// Snapshot is an immutable view of one bucket.
type Snapshot struct {
	Window  Window
	Bucket  string
	AsOf    time.Time
	Cursor  int
	version uint64
	tree    *btree.BTreeG[Entry]
}

// Len is the number of ranked actors.
func (s *Snapshot) Len() int {
	if s.tree == nil {
		return 0
	}
	return s.tree.Len()
}

// Page returns ranks offset+1 .. offset+limit.
func (s *Snapshot) Page(offset, limit int) []Ranked {
	if s.tree == nil || limit <= 0 || offset < 0 {
		return nil
	}
	out := make([]Ranked, 0, limit)
	i := 0
	s.tree.Ascend(func(e Entry) bool {
		if i >= offset {
			out = append(out, Ranked{Rank: i + 1, Entry: e})
		}
		i++
		return len(out) < limit
	})
	return out
}

// Top is Page(0, n).
func (s *Snapshot) Top(n int) []Ranked { return s.Page(0, n) }

// RankOf returns the actor's rank, walking the index in order.
func (s *Snapshot) RankOf(actor chain.Address) (int, bool) {
	if s.tree == nil {
		return 0, false
	}
	rank, found := 0, false
	s.tree.Ascend(func(e Entry) bool {
		rank++
		if e.Actor == actor {
			found = true
			return false
		}
		return true
	})
	return rank, found
}

// Board is the live leaderboard. Writers apply grants incrementally;
// readers take copy-on-write snapshots.
type Board struct {
	mu     sync.RWMutex
	ix     *Index
	snaps  map[string]*Snapshot
	retain int
	now    func() time.Time
}

// NewBoard creates an empty board. retain bounds the month and week
// buckets kept in memory; zero keeps all.
func NewBoard(retain int) *Board {
	return &Board{
		ix:     NewIndex(),
		snaps:  make(map[string]*Snapshot),
		retain: retain,
		now:    time.Now,
	}
}

// Apply folds newly published grants.
func (b *Board) Apply(grants []ledger.Grant, cursor int, firstAt map[chain.Address]time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ix.Apply(grants, cursor, firstAt)
}

// Cursor is the number of ledger entries reflected in the board.
func (b *Board) Cursor() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ix.Cursor()
}

// Snapshot returns the current view of a bucket. Snapshots are cached per
// bucket version, so repeated reads between writes share one clone.
func (b *Board) Snapshot(w Window, key string) *Snapshot {
	cacheKey := string(w) + "/" + key

	b.mu.RLock()
	bk, ok := b.ix.buckets[w][key]
	var version uint64
	if ok {
		version = bk.version
	}
	snap := b.snaps[cacheKey]
	b.mu.RUnlock()
	if !ok {
		return &Snapshot{Window: w, Bucket: key, AsOf: b.now().UTC()}
	}
	if snap != nil && snap.version == version {
		return snap
	}

	// Clone mutates the source tree's copy-on-write state.
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok = b.ix.buckets[w][key]
	if !ok {
		return &Snapshot{Window: w, Bucket: key, AsOf: b.now().UTC()}
	}
	if snap = b.snaps[cacheKey]; snap != nil && snap.version == bk.version {
		return snap
	}
	snap = &Snapshot{
		Window:  w,
		Bucket:  key,
		AsOf:    b.now().UTC(),
		Cursor:  b.ix.Cursor(),
		version: bk.version,
		tree:    bk.tree.Clone(),
	}
	b.snaps[cacheKey] = snap
	return snap
}

// Current returns the snapshot of the window's bucket containing now.
func (b *Board) Current(w Window, now time.Time) *Snapshot {
	return b.Snapshot(w, BucketKey(w, now))
}

// Swap installs a freshly built index and returns the actors whose sums the
// incremental index had wrong.
func (b *Board) Swap(fresh *Index) []chain.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retain > 0 {
		fresh.Evict(b.retain, b.now())
		b.ix.Evict(b.retain, b.now())
	}
	drifted := b.ix.diff(fresh)
	b.ix = fresh
	b.snaps = make(map[string]*Snapshot)
	return drifted
}

// Evict applies the retention policy to the live index.
func (b *Board) Evict() []string {
	if b.retain <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := b.ix.Evict(b.retain, b.now())
	for _, k := range dropped {
		delete(b.snaps, k)
	}
	return dropped
}

// Keys lists the window's buckets, newest first.
func (b *Board) Keys(w Window) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ix.Keys(w)
}
