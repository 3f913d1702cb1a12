// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine is the ledger and ranking write path. It admits chain
// actions in a single total order, runs each action's cascade under the
// lanes it touches, and publishes the results to an in-memory projection
// that the query layer reads.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine/badges"
	"github.com/noldarim/rankledger/internal/engine/checkpoint"
	"github.com/noldarim/rankledger/internal/engine/leaderboard"
	"github.com/noldarim/rankledger/internal/engine/ledger"
	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/logger"
	"github.com/noldarim/rankledger/internal/metrics"
	"github.com/noldarim/rankledger/internal/protocol"
	"github.com/noldarim/rankledger/internal/telemetry"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetEngineLogger()
		log = &l
	})
	return log
}

// Store is the persistence the engine needs. *database.GormDB implements it.
type Store interface {
	CommitCascade(ctx context.Context, batch *models.CascadeBatch) error
	CommitAwards(ctx context.Context, awards []models.BadgeAward) error

	LoadCanonicalActions(ctx context.Context, afterSeq uint64, limit int) ([]models.Action, error)
	CanonicalRefKeys(ctx context.Context) ([]string, error)
	CanonicalActionsFrom(ctx context.Context, fork uint64) ([]models.Action, error)
	InvalidatedBy(ctx context.Context, jobID string) ([]models.Action, error)
	MaxSeq(ctx context.Context) (uint64, error)
	BeginReorg(ctx context.Context, job *models.ReorgJob, replacements []models.Action) (int64, error)

	LoadGrants(ctx context.Context) ([]models.Grant, error)
	LoadStreaks(ctx context.Context) ([]models.StreakState, error)
	LoadEdges(ctx context.Context) ([]models.ReferralEdge, error)
	LoadAwards(ctx context.Context) ([]models.BadgeAward, error)

	SaveFlag(ctx context.Context, flag *models.ActorFlag) (*models.ActorFlag, bool, error)
	LoadFlags(ctx context.Context) ([]models.ActorFlag, error)

	SaveReorgJob(ctx context.Context, job *models.ReorgJob) error
	GetReorgJob(ctx context.Context, id string) (*models.ReorgJob, error)
	ActiveReorgJobs(ctx context.Context) ([]models.ReorgJob, error)
	CommitReorg(ctx context.Context, batch *models.ReorgBatch) error

	SaveLeaderboardSnapshots(ctx context.Context, snaps []models.LeaderboardSnapshot) error
	LatestLeaderboardSnapshot(ctx context.Context, window, bucket string) (*models.LeaderboardSnapshot, error)
}

// refSet is the set of canonical ref keys. Failed cascades remove their
// ref without the admission lock, so it carries its own.
type refSet struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func newRefSet(keys []string) *refSet {
	s := &refSet{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	return s
}

func (s *refSet) has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

func (s *refSet) add(key string) {
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()
}

func (s *refSet) remove(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

func (s *refSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Engine owns the canonical log, the live projection and the leaderboard.
type Engine struct {
	cfg         *config.AppConfig
	store       Store
	checkpoints *checkpoint.Store
	events      chan<- protocol.Event
	folder      folder
	lanes       *lanes
	metrics     *metrics.EngineMetrics
	tracer      trace.Tracer
	now         func() time.Time

	runnerMu sync.Mutex
	runner   ReorgRunner

	// Admission state. mu serializes admission, epoch barriers and the
	// begin and commit phases of a reorg.
	mu          sync.Mutex
	refs        *refSet
	reg         *registry
	positions   map[chain.Address]chain.ChainRef
	pending     map[chain.Address][]chain.Address
	signed      map[chain.Address]bool
	nextSeq     uint64
	head        uint64
	epoch       uint64
	sinceCkpt   int
	tails       map[int]*ticket
	buffer      *depBuffer
	reorg       *activeReorg
	inflight    sync.WaitGroup
	initialized bool

	haltMu sync.Mutex
	halted map[int]string

	projMu sync.RWMutex
	proj   *Projection
	board  *leaderboard.Board

	shadowMu sync.Mutex
	shadows  map[string]*Projection

	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// New creates an engine over store. checkpoints may be nil, in which case
// every replay starts from an empty projection. events may be nil; when set,
// the engine never blocks on it and drops events the consumer cannot keep
// up with.
func New(cfg *config.AppConfig, store Store, checkpoints *checkpoint.Store, events chan<- protocol.Event) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	table := badges.DefaultTable()
	if path := cfg.Badges.DefinitionsPath; path != "" {
		t, err := badges.LoadTable(path)
		if err != nil {
			return nil, fmt.Errorf("load badge definitions: %w", err)
		}
		table = t
	}

	e := &Engine{
		cfg:         cfg,
		store:       store,
		checkpoints: checkpoints,
		events:      events,
		folder: folder{
			rules:        ledger.RulesFromConfig(cfg),
			table:        table,
			requireKnown: cfg.Referral.RequireKnownReferrer,
		},
		lanes:   newLanes(cfg.Engine.Lanes),
		metrics: metrics.Engine(),
		tracer:  telemetry.Tracer("engine"),
		now:     time.Now,
		tails:   make(map[int]*ticket),
		buffer:  newDepBuffer(cfg.Engine.BufferCapacity, cfg.Engine.BufferWindowBlocks),
		halted:  make(map[int]string),
		proj:    NewProjection(),
		board:   leaderboard.NewBoard(cfg.Leaderboard.RetainBuckets),
		shadows: make(map[string]*Projection),
	}
	e.resetAdmission(e.proj, nil)
	e.runner = NewLocalRunner(e, false)
	return e, nil
}

// SetReorgRunner replaces the in-process reorg runner.
func (e *Engine) SetReorgRunner(r ReorgRunner) {
	e.runnerMu.Lock()
	defer e.runnerMu.Unlock()
	e.runner = r
}

func (e *Engine) reorgRunner() ReorgRunner {
	e.runnerMu.Lock()
	defer e.runnerMu.Unlock()
	return e.runner
}

// Start restores the projection from the log and starts the background
// loops: the buffer sweeper and the leaderboard reconciler. Reorg jobs left
// active by a previous process are resubmitted.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	jobs, err := e.restoreLocked(ctx, true)
	e.initialized = true
	e.mu.Unlock()
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	if every := e.cfg.Engine.BufferSweep; every > 0 {
		e.bg.Add(1)
		go e.sweepLoop(loopCtx, every)
	}
	if every := e.cfg.Leaderboard.RebuildInterval; every > 0 {
		e.bg.Add(1)
		go e.reconcileLoop(loopCtx, every)
	}

	for _, job := range jobs {
		getLog().Info().Str("job", job.ID).Str("status", string(job.Status)).Msg("Resuming reorg job")
		if err := e.reorgRunner().Submit(ctx, job.ID); err != nil {
			getLog().Error().Err(err).Str("job", job.ID).Msg("Failed to resubmit reorg job")
		}
	}
	return nil
}

// Close stops the background loops and waits for in-flight cascades.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.bg.Wait()
	if r, ok := e.reorgRunner().(*LocalRunner); ok {
		r.Wait()
	}
	e.mu.Lock()
	e.drainLocked()
	e.mu.Unlock()
	return nil
}

func (e *Engine) sweepLoop(ctx context.Context, every time.Duration) {
	defer e.bg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			e.expireLocked()
			e.mu.Unlock()
		}
	}
}

func (e *Engine) emit(ev protocol.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
		getLog().Debug().Str("event_id", ev.GetMetadata().EventID).Msg("Event channel full, dropping event")
	}
}

// halt marks lanes as halted until ResumePartitions or restart.
func (e *Engine) halt(laneSet []int, reason string) []int {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	var fresh []int
	for _, l := range laneSet {
		if _, ok := e.halted[l]; !ok {
			e.halted[l] = reason
			fresh = append(fresh, l)
		}
	}
	e.metrics.SetHaltedPartitions(len(e.halted))
	return fresh
}

func (e *Engine) haltedReason(laneSet []int) string {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	for _, l := range laneSet {
		if r, ok := e.halted[l]; ok {
			return r
		}
	}
	return ""
}

// Halted returns the halted lanes and why each was halted.
func (e *Engine) Halted() map[int]string {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	out := make(map[int]string, len(e.halted))
	for l, r := range e.halted {
		out[l] = r
	}
	return out
}

// LaneOf is the lane an address hashes onto.
func (e *Engine) LaneOf(addr chain.Address) int { return e.lanes.of(addr) }

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// ActorView is a consistent read of one actor.
type ActorView struct {
	State   *ActorState
	Balance int64
}

// Actor returns a copy of the actor's state and balance.
func (e *Engine) Actor(addr chain.Address) (ActorView, bool) {
	e.projMu.RLock()
	defer e.projMu.RUnlock()
	s, ok := e.proj.Actor(addr)
	if !ok {
		return ActorView{}, false
	}
	return ActorView{State: s.Clone(), Balance: e.proj.Ledger.Balance(addr)}, true
}

// ActorsOf returns copies for every address that is known.
func (e *Engine) ActorsOf(addrs []chain.Address) map[chain.Address]ActorView {
	e.projMu.RLock()
	defer e.projMu.RUnlock()
	out := make(map[chain.Address]ActorView, len(addrs))
	for _, a := range addrs {
		if s, ok := e.proj.Actor(a); ok {
			out[a] = ActorView{State: s.Clone(), Balance: e.proj.Ledger.Balance(a)}
		}
	}
	return out
}

// History pages through an actor's grants.
func (e *Engine) History(addr chain.Address, cursor string, limit int) (ledger.Page, error) {
	e.projMu.RLock()
	defer e.projMu.RUnlock()
	return e.proj.Ledger.History(addr, cursor, limit)
}

// BadgeHolders counts the actors holding badgeType.
func (e *Engine) BadgeHolders(badgeType string) int {
	e.projMu.RLock()
	defer e.projMu.RUnlock()
	n := 0
	for _, s := range e.proj.Actors {
		if s.HasBadge(badgeType) {
			n++
		}
	}
	return n
}

// Board is the live leaderboard. Its snapshots are safe to read at any time.
func (e *Engine) Board() *leaderboard.Board { return e.board }

// Table is the badge rule table in use.
func (e *Engine) Table() *badges.Table { return e.folder.table }

// Now is the engine clock.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// Digest fingerprints the live projection.
func (e *Engine) Digest() (string, error) {
	e.projMu.RLock()
	defer e.projMu.RUnlock()
	return e.proj.Digest()
}

// Seq is the highest seq published to the projection.
func (e *Engine) Seq() uint64 {
	e.projMu.RLock()
	defer e.projMu.RUnlock()
	return e.proj.Seq
}

// Checkpoints lists stored checkpoints, or nil without a store.
func (e *Engine) Checkpoints() ([]checkpoint.Info, error) {
	if e.checkpoints == nil {
		return nil, nil
	}
	return e.checkpoints.List()
}

// ReorgJob fetches a job.
func (e *Engine) ReorgJob(ctx context.Context, id string) (*models.ReorgJob, error) {
	return e.store.GetReorgJob(ctx, id)
}

// BufferLen is the number of actions awaiting a dependency.
func (e *Engine) BufferLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer.len()
}

// firstAtOf collects tie-break times of the states fx replaces.
func firstAtOf(fx *effects) map[chain.Address]time.Time {
	out := make(map[chain.Address]time.Time, len(fx.states))
	for a, s := range fx.states {
		out[a] = s.FirstAt
	}
	return out
}

func sortedAddrs(m map[chain.Address]bool) []chain.Address {
	out := make([]chain.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
