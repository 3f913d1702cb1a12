// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/noldarim/rankledger/internal/chain"
)

// lanes is the set of single-writer partitions. Addresses hash onto
// lanes [0, n); lane n serializes referral graph writes.
type lanes struct {
	n     int
	locks []sync.Mutex
}

func newLanes(n int) *lanes {
	if n <= 0 {
		n = 1
	}
	return &lanes{n: n, locks: make([]sync.Mutex, n+1)}
}

func (l *lanes) graph() int { return l.n }

func (l *lanes) of(addr chain.Address) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr))
	return int(h.Sum32() % uint32(l.n))
}

// set returns the sorted, deduplicated lanes of addrs plus extra.
func (l *lanes) set(addrs []chain.Address, extra ...int) []int {
	seen := make(map[int]bool, len(addrs)+len(extra))
	out := make([]int, 0, len(addrs)+len(extra))
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for _, a := range addrs {
		if a != "" {
			add(l.of(a))
		}
	}
	for _, i := range extra {
		add(i)
	}
	sort.Ints(out)
	return out
}

// lock acquires set in ascending order. set must be sorted.
func (l *lanes) lock(set []int) {
	for _, i := range set {
		l.locks[i].Lock()
	}
}

func (l *lanes) unlock(set []int) {
	for i := len(set) - 1; i >= 0; i-- {
		l.locks[set[i]].Unlock()
	}
}

func union(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, s := range [][]int{a, b} {
		for _, i := range s {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	sort.Ints(out)
	return out
}

func contains(set []int, lane int) bool {
	i := sort.SearchInts(set, lane)
	return i < len(set) && set[i] == lane
}

// ticket is one admitted action waiting for, or running, its cascade.
type ticket struct {
	ctx   context.Context
	step  step
	lanes []int

	// after holds the previous tickets on each of our lanes, plus the
	// released dependency. Cleared once they have finished.
	after []*ticket
	dep   *ticket

	once sync.Once
	done chan struct{}
	err  error
}

func newTicket(ctx context.Context, st step, laneSet []int) *ticket {
	return &ticket{
		ctx:   context.WithoutCancel(ctx),
		step:  st,
		lanes: laneSet,
		done:  make(chan struct{}),
	}
}

// wait blocks until the cascade has finished or ctx is done.
func (t *ticket) wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
