// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine/badges"
	"github.com/noldarim/rankledger/internal/engine/checkpoint"
	"github.com/noldarim/rankledger/internal/engine/database"
	"github.com/noldarim/rankledger/internal/engine/leaderboard"
	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/protocol"
	"github.com/noldarim/rankledger/test/testutil"
)

// flakyStore fails cascade commits on demand.
type flakyStore struct {
	Store
	failCascades atomic.Bool
}

func (s *flakyStore) CommitCascade(ctx context.Context, batch *models.CascadeBatch) error {
	if s.failCascades.Load() {
		return errors.New("disk unavailable")
	}
	return s.Store.CommitCascade(ctx, batch)
}

// recordingRunner accepts reorg jobs without running them.
type recordingRunner struct {
	mu   sync.Mutex
	jobs []string
}

func (r *recordingRunner) Submit(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, jobID)
	return nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	cfg    *config.AppConfig
	store  *flakyStore
	cps    *checkpoint.Store
	events *testutil.EventCapture
	runner ReorgRunner
	e      *Engine
}

func newHarness(t *testing.T, opts ...func(*config.AppConfig)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Lanes = 8
	cfg.Engine.BufferSweep = 0
	cfg.Engine.RankEpochBlocks = 0
	cfg.Engine.CascadeRetries = 0
	cfg.Leaderboard.RebuildInterval = 0
	cfg.Checkpoint.EveryEpochs = 1
	for _, o := range opts {
		o(cfg)
	}

	fx := database.UseFreshInMemoryDatabase(t)
	t.Cleanup(fx.Cleanup)
	cps, err := checkpoint.OpenMemory(cfg.Checkpoint.Keep)
	require.NoError(t, err)
	t.Cleanup(func() { cps.Close() })

	h := &harness{
		t:      t,
		ctx:    testutil.Context(t, 30*time.Second),
		cfg:    cfg,
		store:  &flakyStore{Store: fx.DB},
		cps:    cps,
		events: testutil.NewEventCapture(),
	}
	h.start()
	return h
}

func (h *harness) start() {
	h.t.Helper()
	e, err := New(h.cfg, h.store, h.cps, h.events.Channel())
	require.NoError(h.t, err)
	if h.runner != nil {
		e.SetReorgRunner(h.runner)
	} else {
		e.SetReorgRunner(NewLocalRunner(e, true))
	}
	require.NoError(h.t, e.Start(h.ctx))
	h.e = e
	h.t.Cleanup(func() { e.Close() })
}

// restart replaces the engine with a fresh one over the same stores.
func (h *harness) restart() {
	h.t.Helper()
	require.NoError(h.t, h.e.Close())
	h.start()
}

func (h *harness) append(b *testutil.ActionBuilder) Outcome {
	h.t.Helper()
	out, err := h.e.Append(h.ctx, b.Build())
	require.NoError(h.t, err)
	return out
}

func (h *harness) accept(b *testutil.ActionBuilder) Outcome {
	h.t.Helper()
	out := h.append(b)
	require.Equal(h.t, Accepted, out.Status, "%s: %s", out.Reason, out.Detail)
	return out
}

func (h *harness) drain() {
	h.e.mu.Lock()
	h.e.drainLocked()
	h.e.mu.Unlock()
}

func (h *harness) balance(addr chain.Address) int64 {
	h.t.Helper()
	v, ok := h.e.Actor(addr)
	if !ok {
		return 0
	}
	return v.Balance
}

func (h *harness) hasBadge(addr chain.Address, badgeType string) bool {
	v, ok := h.e.Actor(addr)
	return ok && v.State.HasBadge(badgeType)
}

func (h *harness) verify() *VerifyReport {
	h.t.Helper()
	report, err := h.e.Verify(h.ctx)
	require.NoError(h.t, err)
	assert.True(h.t, report.DigestMatch, "replay %s live %s", report.ReplayDigest, report.LiveDigest)
	assert.Empty(h.t, report.Mismatches)
	return report
}

// offLanes returns an address from n on whose lane is not in avoid.
func (h *harness) offLanes(n int64, avoid []int) chain.Address {
	for ; ; n++ {
		a := testutil.Addr(n)
		if !slices.Contains(avoid, h.e.LaneOf(a)) {
			return a
		}
	}
}

var (
	alice = testutil.Addr(1)
	bob   = testutil.Addr(2)
	carol = testutil.Addr(3)
	dave  = testutil.Addr(4)
	erin  = testutil.Addr(5)
	frank = testutil.Addr(6)
)

func TestAppendSignGrantsPointsAndBadges(t *testing.T) {
	h := newHarness(t)

	out := h.accept(testutil.Sign(1, alice, bob))
	assert.Equal(t, uint64(1), out.Seq)

	assert.Equal(t, int64(15), h.balance(alice))
	assert.Equal(t, int64(2), h.balance(bob))
	assert.True(t, h.hasBadge(alice, badges.FirstSign))
	assert.True(t, h.hasBadge(alice, badges.EarlyAdopter))
	assert.False(t, h.hasBadge(bob, badges.EarlyAdopter), "receiving a signature is not acting")

	testutil.AssertEventEmitted(t, h.events, func(ev protocol.ActionRecordedEvent) bool {
		return ev.Actor == string(alice) && ev.Seq == 1
	})
	testutil.AssertEventCount[protocol.PointsGrantedEvent](t, h.events, 3)
}

func TestAppendIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, alice, bob))
	digest, err := h.e.Digest()
	require.NoError(t, err)

	out := h.append(testutil.Sign(1, alice, bob))
	assert.Equal(t, DuplicateIgnored, out.Status)

	again, err := h.e.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, again)
	assert.Equal(t, int64(15), h.balance(alice))
}

func TestDailyFirstSignOncePerDay(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, alice, bob).OnDay(0))
	h.accept(testutil.Sign(2, alice, carol).OnDay(0))
	h.accept(testutil.Sign(3, alice, bob).OnDay(1))

	assert.Equal(t, int64(15+10+15), h.balance(alice))
	assert.Equal(t, int64(4), h.balance(bob))
	h.verify()
}

func TestReactAndTip(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.React(1, alice, bob))
	h.accept(testutil.Tip(2, alice, bob, "1000000000000000000"))
	h.accept(testutil.Tip(3, alice, bob, "500"))

	assert.Equal(t, int64(0), h.balance(alice))
	assert.Equal(t, int64(1), h.balance(bob))

	a, ok := h.e.Actor(alice)
	require.True(t, ok)
	assert.Equal(t, int64(1), a.State.ReactionsGiven)
	assert.Equal(t, int64(2), a.State.TipsSent)
	assert.Equal(t, "1000000000000000500", a.State.TipsSentWei)
	assert.Equal(t, 1, a.State.Streak.Current, "tips do not extend streaks")
	h.verify()
}

func TestInvalidActionRejected(t *testing.T) {
	h := newHarness(t)
	bad := testutil.Sign(1, alice, bob).Build()
	bad.Actor = "not-an-address"

	out, err := h.e.Append(h.ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, Rejected, out.Status)
	assert.Equal(t, ReasonInvalid, out.Reason)
	assert.ErrorIs(t, out.Err(), ErrInvalidAction)

	testutil.AssertEventEmitted(t, h.events, func(ev protocol.ActionRejectedEvent) bool {
		return ev.Reason == ReasonInvalid
	})
}

func TestOutOfOrderPerActor(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(10, alice, bob))

	out := h.append(testutil.Sign(5, alice, carol))
	assert.Equal(t, Rejected, out.Status)
	assert.Equal(t, ReasonOutOfOrder, out.Reason)

	// other actors are unaffected
	h.accept(testutil.Sign(5, carol, alice))
}

func TestStreakMilestones(t *testing.T) {
	h := newHarness(t)
	for d := 0; d < 7; d++ {
		h.accept(testutil.Sign(uint64(d+1), alice, bob).OnDay(d))
	}
	a, _ := h.e.Actor(alice)
	assert.Equal(t, 7, a.State.Streak.Current)
	assert.Equal(t, []int{3, 7}, a.State.Streak.Milestones)
	assert.Equal(t, int64(7*15+50), a.Balance)
	assert.True(t, h.hasBadge(alice, badges.StreakStarter))
	assert.True(t, h.hasBadge(alice, badges.StreakMaster))

	testutil.AssertEventEmitted(t, h.events, func(ev protocol.StreakMilestoneEvent) bool { return ev.Milestone == 3 })
	testutil.AssertEventEmitted(t, h.events, func(ev protocol.StreakMilestoneEvent) bool { return ev.Milestone == 7 })

	// a missed day resets the current streak and keeps the longest
	h.accept(testutil.Sign(8, alice, bob).OnDay(8))
	a, _ = h.e.Actor(alice)
	assert.Equal(t, 1, a.State.Streak.Current)
	assert.Equal(t, 7, a.State.Streak.Longest)
	assert.Equal(t, int64(7*15+50+15), a.Balance)
	h.verify()
}

func TestReferralAttributionAndBonus(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, alice, carol))
	h.accept(testutil.Refer(2, bob, alice))
	// the first referral wins
	h.accept(testutil.Refer(3, bob, carol))
	// self and unknown referrers are refused
	h.accept(testutil.Refer(4, carol, carol))
	h.accept(testutil.Refer(5, dave, erin))

	a, _ := h.e.Actor(alice)
	assert.Equal(t, int64(1), a.State.Referrals)
	c, _ := h.e.Actor(carol)
	assert.Equal(t, int64(0), c.State.Referrals)
	testutil.AssertEventCount[protocol.ReferralAttributedEvent](t, h.events, 1)

	// the referee's first sign pays the referrer once
	h.accept(testutil.Sign(6, bob, carol))
	h.accept(testutil.Sign(7, bob, carol))
	assert.Equal(t, int64(15+2), h.balance(alice))
	assert.Equal(t, int64(15+10), h.balance(bob))
	assert.Equal(t, int64(2+2+2), h.balance(carol))
	h.verify()
}

func TestReferralAfterFirstSignPaysNothing(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, alice, carol))
	h.accept(testutil.Sign(2, bob, carol))
	h.accept(testutil.Refer(3, bob, alice))
	h.accept(testutil.Sign(4, bob, carol))

	assert.Equal(t, int64(15), h.balance(alice))
	h.verify()
}

func TestBadgesAwardedOnce(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, alice, bob))
	h.accept(testutil.Sign(2, alice, carol))

	assert.Equal(t, 1, h.e.BadgeHolders(badges.FirstSign))
	testutil.AssertEventCount[protocol.BadgeAwardedEvent](t, h.events, 2)
}

func TestLeaderboardTieBreakOnFirstSeen(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, bob, carol))
	h.accept(testutil.Sign(2, alice, dave))

	top := h.e.Board().Snapshot(leaderboard.All, string(leaderboard.All)).Top(4)
	require.Len(t, top, 4)
	assert.Equal(t, bob, top[0].Actor, "equal points rank by first appearance")
	assert.Equal(t, alice, top[1].Actor)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, int64(15), top[1].Points)
}

func TestDependencyBufferReleasesInOrder(t *testing.T) {
	h := newHarness(t)
	out := h.append(testutil.Sign(5, alice, bob).DependsOn(testutil.Ref(3, 0, 0)))
	assert.Equal(t, Buffered, out.Status)
	assert.Equal(t, ReasonAwaitingDependency, out.Reason)
	assert.Equal(t, 1, h.e.BufferLen())

	// redelivery while buffered is a duplicate
	out = h.append(testutil.Sign(5, alice, bob).DependsOn(testutil.Ref(3, 0, 0)))
	assert.Equal(t, DuplicateIgnored, out.Status)

	h.accept(testutil.Sign(3, bob, alice))
	h.drain()
	assert.Equal(t, 0, h.e.BufferLen())
	assert.Equal(t, int64(15+2), h.balance(alice))
	h.verify()
}

func TestReleasedActionSkipsPositionCheck(t *testing.T) {
	h := newHarness(t)
	out := h.append(testutil.Sign(5, alice, bob).DependsOn(testutil.Ref(3, 0, 0)))
	require.Equal(t, Buffered, out.Status)

	// alice moves past block 5 while the buffered sign waits
	h.accept(testutil.Sign(6, alice, carol))
	h.accept(testutil.Sign(3, bob, alice))
	h.drain()

	assert.Equal(t, 0, h.e.BufferLen())
	v, ok := h.e.Actor(alice)
	require.True(t, ok)
	assert.Equal(t, int64(2), v.State.Signs)
	assert.Equal(t, testutil.Ref(6, 0, 0), v.State.LastRef)
	// sign@6 10+5, released sign@5 10, signature from bob 2
	assert.Equal(t, int64(27), v.Balance)

	out = h.append(testutil.Sign(4, alice, dave))
	assert.Equal(t, Rejected, out.Status)
	assert.Equal(t, ReasonOutOfOrder, out.Reason)
	h.verify()
}

func TestDependencyBufferExpires(t *testing.T) {
	h := newHarness(t)
	h.append(testutil.Sign(20, alice, bob).DependsOn(testutil.Ref(19, 0, 0)))
	require.Equal(t, 1, h.e.BufferLen())

	h.accept(testutil.Sign(20+h.cfg.Engine.BufferWindowBlocks+1, carol, dave))
	assert.Equal(t, 0, h.e.BufferLen())
	testutil.AssertEventEmitted(t, h.events, func(ev protocol.ActionRejectedEvent) bool {
		return ev.Reason == ReasonBufferExpired && ev.Actor == string(alice)
	})
}

func TestDependencyBufferFull(t *testing.T) {
	h := newHarness(t, func(c *config.AppConfig) { c.Engine.BufferCapacity = 1 })
	h.append(testutil.Sign(5, alice, bob).DependsOn(testutil.Ref(3, 0, 0)))
	out := h.append(testutil.Sign(6, carol, bob).DependsOn(testutil.Ref(3, 0, 0)))
	assert.Equal(t, Rejected, out.Status)
	assert.Equal(t, ReasonBufferFull, out.Reason)
}

func TestCascadeFailureHaltsLanesUntilResume(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, alice, bob))

	h.store.failCascades.Store(true)
	out, err := h.e.Append(h.ctx, testutil.Sign(2, alice, bob).Build())
	require.ErrorIs(t, err, ErrPartitionHalted)
	assert.Equal(t, Rejected, out.Status)
	assert.Equal(t, ReasonPartitionHalted, out.Reason)
	h.store.failCascades.Store(false)

	halted := h.e.Halted()
	require.NotEmpty(t, halted)
	assert.Contains(t, halted, h.e.LaneOf(alice))
	testutil.AssertEventEmitted[protocol.PartitionHaltedEvent](t, h.events, nil)

	// the halted lanes refuse new work, others keep going
	_, err = h.e.Append(h.ctx, testutil.Sign(3, alice, carol).Build())
	assert.ErrorIs(t, err, ErrPartitionHalted)
	var lanes []int
	for l := range halted {
		lanes = append(lanes, l)
	}
	x := h.offLanes(100, lanes)
	y := h.offLanes(200, lanes)
	h.accept(testutil.Sign(3, x, y))

	resumed, err := h.e.ResumePartitions(h.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, lanes, resumed)
	assert.Empty(t, h.e.Halted())

	// the failed action was never recorded, so redelivery is accepted
	h.accept(testutil.Sign(2, alice, bob))
	assert.Equal(t, int64(25), h.balance(alice))
	h.verify()
}

func TestSetFlagAwardsOnce(t *testing.T) {
	h := newHarness(t)
	setAt := testutil.Day(3)

	f, err := h.e.SetFlag(h.ctx, alice, "Beta", setAt)
	require.NoError(t, err)
	assert.Equal(t, "beta", f.Flag)
	assert.True(t, h.hasBadge(alice, badges.BetaTester))

	again, err := h.e.SetFlag(h.ctx, alice, "beta", setAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, setAt.Equal(again.SetAt), "first setAt wins")

	v, _ := h.e.Actor(alice)
	assert.True(t, setAt.Equal(v.State.Badges[badges.BetaTester].AwardedAt))
	assert.Equal(t, 1, h.e.BadgeHolders(badges.BetaTester))

	_, err = h.e.SetFlag(h.ctx, "nope", "vip", setAt)
	assert.ErrorIs(t, err, ErrInvalidAction)

	// a flagged address that acts later is still early
	h.accept(testutil.Sign(1, alice, bob))
	assert.True(t, h.hasBadge(alice, badges.EarlyAdopter))
	h.verify()
}

func TestRankEpochAwardsTopTen(t *testing.T) {
	h := newHarness(t, func(c *config.AppConfig) { c.Engine.RankEpochBlocks = 100 })
	h.accept(testutil.Sign(10, alice, bob))
	h.accept(testutil.Sign(20, carol, dave))
	assert.Equal(t, 0, h.e.BadgeHolders(badges.TopTen), "ranks are evaluated at epoch boundaries")

	h.accept(testutil.Sign(150, erin, frank))
	assert.Equal(t, 4, h.e.BadgeHolders(badges.TopTen))
	assert.False(t, h.hasBadge(erin, badges.TopTen))

	cps, err := h.e.Checkpoints()
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, uint64(2), cps[0].Seq)
	h.verify()

	digest, err := h.e.Digest()
	require.NoError(t, err)
	h.restart()
	restored, err := h.e.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, restored)
}

func TestRestartRestoresState(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, alice, bob))
	h.accept(testutil.Refer(2, carol, alice))
	h.accept(testutil.Sign(3, carol, bob))
	h.accept(testutil.React(4, bob, carol))
	digest, err := h.e.Digest()
	require.NoError(t, err)

	h.restart()

	restored, err := h.e.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, restored)
	assert.Equal(t, int64(17), h.balance(alice))

	out := h.append(testutil.Sign(3, carol, bob))
	assert.Equal(t, DuplicateIgnored, out.Status)

	// seqs continue after the persisted log
	out = h.accept(testutil.Sign(5, dave, bob))
	assert.Equal(t, uint64(5), out.Seq)
	h.verify()
}

func TestReorgReplacesInvalidatedActions(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(90, alice, bob))
	h.accept(testutil.Sign(100, carol, bob))
	h.accept(testutil.Sign(101, dave, erin))

	job, err := h.e.StartReorg(h.ctx, 100, []chain.Action{
		testutil.Sign(102, carol, erin).Build(),
	})
	require.NoError(t, err)

	stored, err := h.e.ReorgJob(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReorgCompleted, stored.Status)
	assert.Equal(t, 9, stored.Corrections)

	assert.Equal(t, int64(15), h.balance(alice))
	assert.Equal(t, int64(2), h.balance(bob))
	assert.Equal(t, int64(15), h.balance(carol))
	assert.Equal(t, int64(2), h.balance(erin))
	_, known := h.e.Actor(dave)
	assert.False(t, known, "dave only existed on the dropped fork")
	assert.Equal(t, 2, h.e.BadgeHolders(badges.FirstSign))

	testutil.AssertEventEmitted(t, h.events, func(ev protocol.BadgeRevokedEvent) bool {
		return ev.Actor == string(dave) && ev.BadgeType == badges.FirstSign && ev.JobID == job.ID
	})
	testutil.AssertEventEmitted(t, h.events, func(ev protocol.ReorgCompletedEvent) bool {
		return ev.JobID == job.ID && ev.Status == string(models.ReorgCompleted)
	})
	_, active := h.e.ActiveReorg()
	assert.False(t, active)

	report := h.verify()
	assert.False(t, report.ReorgInProgress)

	digest, err := h.e.Digest()
	require.NoError(t, err)
	h.restart()
	restored, err := h.e.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, restored)
	assert.Empty(t, h.e.Halted())
}

func TestReorgReplacesActorsSignsInRange(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(95, alice, carol))
	h.accept(testutil.Sign(100, alice, bob))
	h.accept(testutil.Sign(104, alice, dave))

	job, err := h.e.StartReorg(h.ctx, 100, []chain.Action{
		testutil.Sign(102, alice, erin).Build(),
	})
	require.NoError(t, err)
	stored, err := h.e.ReorgJob(h.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReorgCompleted, stored.Status)
	h.verify()

	// an engine that only ever saw the canonical chain
	fresh := newHarness(t)
	fresh.accept(testutil.Sign(95, alice, carol))
	fresh.accept(testutil.Sign(102, alice, erin))

	for _, addr := range []chain.Address{alice, bob, carol, dave, erin} {
		assert.Equal(t, fresh.balance(addr), h.balance(addr), "balance of %s", addr)
	}
	assert.Equal(t, int64(15+10), h.balance(alice))

	got, ok := h.e.Actor(alice)
	require.True(t, ok)
	want, _ := fresh.e.Actor(alice)
	assert.Equal(t, want.State.Signs, got.State.Signs)
	assert.Equal(t, want.State.Streak.Current, got.State.Streak.Current)
	assert.Equal(t, want.State.Streak.LastDay, got.State.Streak.LastDay)
	assert.Equal(t, want.State.LastRef, got.State.LastRef)
}

func TestReorgReadmitsRedeliveredRef(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(100, carol, bob))

	_, err := h.e.StartReorg(h.ctx, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.balance(carol))

	// the dropped ref is delivered again by the source
	h.accept(testutil.Sign(100, carol, bob))
	assert.Equal(t, int64(15), h.balance(carol))
	page, err := h.e.History(carol, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Grants, 6)
	assert.Contains(t, page.Grants[4].ID, "/readmit/")
	h.verify()

	digest, err := h.e.Digest()
	require.NoError(t, err)
	h.restart()
	restored, err := h.e.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, restored)
	assert.Empty(t, h.e.Halted())
}

func TestReorgRegrantsRestoredRef(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(100, carol, bob))

	_, err := h.e.StartReorg(h.ctx, 100, nil)
	require.NoError(t, err)

	// a later reorg puts the same ref back on the canonical chain
	_, err = h.e.StartReorg(h.ctx, 100, []chain.Action{testutil.Sign(100, carol, bob).Build()})
	require.NoError(t, err)
	assert.Equal(t, int64(15), h.balance(carol))
	assert.Equal(t, int64(2), h.balance(bob))
	h.verify()
}

func TestReorgHoldsActionsUntilCommit(t *testing.T) {
	h := newHarness(t)
	runner := &recordingRunner{}
	h.e.SetReorgRunner(runner)
	h.accept(testutil.Sign(90, alice, bob))
	h.accept(testutil.Sign(100, carol, bob))

	job, err := h.e.StartReorg(h.ctx, 100, []chain.Action{testutil.Sign(101, carol, dave).Build()})
	require.NoError(t, err)
	require.Equal(t, []string{job.ID}, runner.jobs)

	_, err = h.e.StartReorg(h.ctx, 50, nil)
	assert.ErrorIs(t, err, ErrReorgInProgress)
	_, err = h.e.ResumePartitions(h.ctx)
	assert.ErrorIs(t, err, ErrReorgInProgress)

	// past the fork of a reorg that has not begun
	out := h.append(testutil.Sign(105, erin, frank))
	assert.Equal(t, Buffered, out.Status)
	assert.Equal(t, ReasonReorgPause, out.Reason)
	out = h.append(testutil.Sign(105, erin, frank))
	assert.Equal(t, DuplicateIgnored, out.Status)

	require.NoError(t, h.e.RunReorg(h.ctx, job.ID))
	h.drain()

	assert.Equal(t, int64(15), h.balance(erin))
	assert.Equal(t, int64(15), h.balance(carol))
	assert.Equal(t, int64(2), h.balance(bob))
	assert.Equal(t, int64(2), h.balance(dave))
	h.verify()
}

func TestFailedReorgHaltsThenRetries(t *testing.T) {
	h := newHarness(t)
	runner := &recordingRunner{}
	h.e.SetReorgRunner(runner)
	h.accept(testutil.Sign(100, carol, bob))

	job, err := h.e.StartReorg(h.ctx, 100, []chain.Action{testutil.Sign(101, carol, dave).Build()})
	require.NoError(t, err)
	require.NoError(t, h.e.BeginReorg(h.ctx, job.ID))
	require.NoError(t, h.e.FailReorg(h.ctx, job.ID, errors.New("worker lost")))

	stored, err := h.e.ReorgJob(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReorgFailed, stored.Status)
	assert.Contains(t, h.e.Halted(), h.e.LaneOf(carol))

	_, err = h.e.RetryReorg(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, h.e.Halted())
	require.NoError(t, h.e.RunReorg(h.ctx, job.ID))

	stored, err = h.e.ReorgJob(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReorgCompleted, stored.Status)
	assert.Equal(t, int64(15), h.balance(carol))
	assert.Equal(t, int64(0), h.balance(bob))
	assert.Equal(t, int64(2), h.balance(dave))
	h.verify()
}

func TestStartReorgValidatesReplacements(t *testing.T) {
	h := newHarness(t)
	_, err := h.e.StartReorg(h.ctx, 100, []chain.Action{testutil.Sign(99, alice, bob).Build()})
	assert.ErrorIs(t, err, ErrInvalidAction)

	dup := testutil.Sign(101, alice, bob).Build()
	_, err = h.e.StartReorg(h.ctx, 100, []chain.Action{dup, dup})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestRebuildLeaderboardPersistsSnapshots(t *testing.T) {
	h := newHarness(t)
	h.accept(testutil.Sign(1, alice, bob))
	h.accept(testutil.Sign(2, carol, bob))

	res, err := h.e.RebuildLeaderboard(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Drifted)
	assert.Equal(t, len(leaderboard.Windows), res.Snapshots)

	snap, err := h.store.LatestLeaderboardSnapshot(h.ctx, string(leaderboard.All), string(leaderboard.All))
	require.NoError(t, err)
	assert.Contains(t, snap.Entries, string(alice))
	testutil.AssertEventEmitted[protocol.LeaderboardRebuiltEvent](t, h.events, nil)
}

func TestConcurrentAdmissionsMatchReplay(t *testing.T) {
	h := newHarness(t)
	var admissions []*Admission
	for i := int64(0); i < 40; i++ {
		actor := testutil.Addr(10 + i%7)
		target := testutil.Addr(20 + i%5)
		ad, err := h.e.Admit(h.ctx, testutil.Sign(uint64(i+1), actor, target).OnDay(int(i/10)).Build())
		require.NoError(t, err)
		admissions = append(admissions, ad)
	}
	var wg sync.WaitGroup
	for _, ad := range admissions {
		wg.Add(1)
		go func(ad *Admission) {
			defer wg.Done()
			assert.NoError(t, ad.Wait(h.ctx))
		}(ad)
	}
	wg.Wait()
	h.verify()
}
