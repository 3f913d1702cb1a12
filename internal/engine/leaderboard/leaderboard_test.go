// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/ledger"
)

const (
	alice = chain.Address("0x00000000000000000000000000000000000000A1")
	bob   = chain.Address("0x00000000000000000000000000000000000000B2")
	carol = chain.Address("0x00000000000000000000000000000000000000C3")
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // Monday of 2026-W10

func grant(actor chain.Address, amount int64, at time.Time, n uint64) ledger.Grant {
	a := chain.Action{Ref: chain.ChainRef{Block: n}, BlockTime: at}
	return ledger.NewGrant(a, n, actor, ledger.ReasonSign, amount)
}

func TestTieBreakIsOrderIndependent(t *testing.T) {
	first := map[chain.Address]time.Time{alice: base, bob: base.Add(time.Hour)}
	gs := []ledger.Grant{grant(bob, 10, base, 1), grant(alice, 10, base, 2)}

	forward := NewBoard(0)
	forward.Apply(gs, 2, first)
	backward := NewBoard(0)
	backward.Apply([]ledger.Grant{gs[1], gs[0]}, 2, first)

	for _, b := range []*Board{forward, backward} {
		top := b.Current(All, base).Top(2)
		require.Len(t, top, 2)
		assert.Equal(t, alice, top[0].Actor)
		assert.Equal(t, 1, top[0].Rank)
		assert.Equal(t, bob, top[1].Actor)
	}
}

func TestAddressBreaksRemainingTies(t *testing.T) {
	entries := []Entry{
		{Actor: bob, Points: 5, FirstAt: base},
		{Actor: alice, Points: 5, FirstAt: base},
		{Actor: carol, Points: 9, FirstAt: base.Add(time.Hour)},
	}
	Sort(entries)
	assert.Equal(t, []chain.Address{carol, alice, bob}, []chain.Address{entries[0].Actor, entries[1].Actor, entries[2].Actor})
}

func TestWeekWindowExcludesPreviousWeek(t *testing.T) {
	lastWeek := base.AddDate(0, 0, -3) // 2026-W09
	b := NewBoard(0)
	b.Apply([]ledger.Grant{
		grant(alice, 100, lastWeek, 1),
		grant(bob, 10, base, 2),
	}, 2, map[chain.Address]time.Time{alice: lastWeek, bob: base})

	week := b.Current(Week, base)
	assert.Equal(t, "2026-W10", week.Bucket)
	top := week.Top(10)
	require.Len(t, top, 1)
	assert.Equal(t, bob, top[0].Actor)

	all := b.Current(All, base).Top(10)
	require.Len(t, all, 2)
	assert.Equal(t, alice, all[0].Actor)
	assert.Equal(t, int64(100), all[0].Points)
}

func TestIncrementalUpdateRepositions(t *testing.T) {
	b := NewBoard(0)
	first := map[chain.Address]time.Time{alice: base, bob: base}
	b.Apply([]ledger.Grant{grant(alice, 10, base, 1), grant(bob, 5, base, 2)}, 2, first)
	before := b.Current(All, base)

	b.Apply([]ledger.Grant{grant(bob, 20, base, 3)}, 3, nil)
	after := b.Current(All, base)

	rank, ok := after.RankOf(bob)
	require.True(t, ok)
	assert.Equal(t, 1, rank)

	// the earlier snapshot is unaffected
	rank, _ = before.RankOf(bob)
	assert.Equal(t, 2, rank)
	assert.Equal(t, 2, before.Cursor)
	assert.Equal(t, 3, after.Cursor)
}

func TestSnapshotCachedPerVersion(t *testing.T) {
	b := NewBoard(0)
	b.Apply([]ledger.Grant{grant(alice, 10, base, 1)}, 1, nil)
	s1 := b.Current(All, base)
	s2 := b.Current(All, base)
	assert.Same(t, s1, s2)

	b.Apply([]ledger.Grant{grant(alice, 1, base, 2)}, 2, nil)
	assert.NotSame(t, s1, b.Current(All, base))
}

func TestPage(t *testing.T) {
	b := NewBoard(0)
	var gs []ledger.Grant
	for i, a := range []chain.Address{alice, bob, carol} {
		gs = append(gs, grant(a, int64(30-i*10), base, uint64(i+1)))
	}
	b.Apply(gs, 3, nil)

	page := b.Current(All, base).Page(1, 5)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].Rank)
	assert.Equal(t, bob, page[0].Actor)
	assert.Empty(t, b.Current(All, base).Page(5, 5))

	_, ok := b.Current(Month, base.AddDate(1, 0, 0)).RankOf(alice)
	assert.False(t, ok)
}

func TestSwapReportsDrift(t *testing.T) {
	gs := []ledger.Grant{grant(alice, 10, base, 1), grant(bob, 5, base, 2)}
	b := NewBoard(0)
	b.Apply(gs[:1], 1, nil)
	// bob's grant never reached the incremental index
	b.Apply(nil, 2, nil)

	drifted := b.Swap(Build(gs, 2, nil))
	assert.Equal(t, []chain.Address{bob}, drifted)
	assert.Equal(t, 2, b.Current(All, base).Len())

	assert.Empty(t, b.Swap(Build(gs, 2, nil)))
}

func TestEvictKeepsNewestBuckets(t *testing.T) {
	b := NewBoard(2)
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	var gs []ledger.Grant
	for m := 1; m <= 6; m++ {
		gs = append(gs, grant(alice, 1, time.Date(2026, time.Month(m), 10, 0, 0, 0, 0, time.UTC), uint64(m)))
	}
	b.Apply(gs, len(gs), nil)

	b.Evict()
	assert.Equal(t, []string{"2026-06", "2026-05"}, b.Keys(Month))
	assert.Len(t, b.Keys(Week), 2)

	points, ok := b.ix.Points(All, "all", alice)
	require.True(t, ok)
	assert.Equal(t, int64(6), points)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("week")
	require.NoError(t, err)
	assert.Equal(t, Week, w)
	_, err = ParseWindow("year")
	assert.Error(t, err)
}
