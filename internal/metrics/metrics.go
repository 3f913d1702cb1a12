// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes the engine's Prometheus collectors. All methods are
// safe on a nil receiver so components can run without metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EngineMetrics struct {
	actions           *prometheus.CounterVec
	grants            *prometheus.CounterVec
	pointsGranted     *prometheus.CounterVec
	badgesAwarded     *prometheus.CounterVec
	badgeEvalFailures *prometheus.CounterVec
	referrals         *prometheus.CounterVec
	cascadeDuration   prometheus.Histogram
	cascadeFailures   prometheus.Counter
	bufferSize        prometheus.Gauge
	reorgs            *prometheus.CounterVec
	leaderboardDrift  prometheus.Counter
	haltedPartitions  prometheus.Gauge
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the process-wide collectors, registering them on first use.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = newEngineMetrics()
		prometheus.MustRegister(engineRegistry.collectors()...)
	})
	return engineRegistry
}

func newEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankledger_actions_total",
			Help: "Actions seen by the recorder by outcome.",
		}, []string{"outcome"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankledger_grants_total",
			Help: "Ledger grants appended by reason.",
		}, []string{"reason"}),
		pointsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankledger_points_granted_total",
			Help: "Net points appended to the ledger by reason. Reversals are counted under their own reason.",
		}, []string{"reason"}),
		badgesAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankledger_badges_awarded_total",
			Help: "Badge awards by badge type.",
		}, []string{"badge"}),
		badgeEvalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankledger_badge_eval_failures_total",
			Help: "Badge rule evaluations that failed and were skipped.",
		}, []string{"badge"}),
		referrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankledger_referrals_total",
			Help: "Referral attribution attempts by result.",
		}, []string{"result"}),
		cascadeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rankledger_cascade_duration_seconds",
			Help:    "Wall time of a committed action cascade.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		cascadeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankledger_cascade_failures_total",
			Help: "Cascades that exhausted their retries.",
		}),
		bufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankledger_buffer_size",
			Help: "Actions currently held awaiting a dependency or a reorg.",
		}),
		reorgs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankledger_reorgs_total",
			Help: "Reorg jobs by terminal status.",
		}, []string{"status"}),
		leaderboardDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankledger_leaderboard_drift_total",
			Help: "Leaderboard entries repaired by a full rebuild.",
		}),
		haltedPartitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankledger_halted_partitions",
			Help: "Lanes currently refusing writes.",
		}),
	}
}

func (m *EngineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.actions, m.grants, m.pointsGranted, m.badgesAwarded, m.badgeEvalFailures,
		m.referrals, m.cascadeDuration, m.cascadeFailures, m.bufferSize, m.reorgs,
		m.leaderboardDrift, m.haltedPartitions,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (m *EngineMetrics) ObserveAction(outcome string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(orUnknown(outcome)).Inc()
}

func (m *EngineMetrics) ObserveGrant(reason string, amount int64) {
	if m == nil {
		return
	}
	reason = orUnknown(reason)
	m.grants.WithLabelValues(reason).Inc()
	if amount > 0 {
		m.pointsGranted.WithLabelValues(reason).Add(float64(amount))
	}
}

func (m *EngineMetrics) ObserveBadgeAwarded(badge string) {
	if m == nil {
		return
	}
	m.badgesAwarded.WithLabelValues(orUnknown(badge)).Inc()
}

func (m *EngineMetrics) ObserveBadgeEvalFailure(badge string) {
	if m == nil {
		return
	}
	m.badgeEvalFailures.WithLabelValues(orUnknown(badge)).Inc()
}

func (m *EngineMetrics) ObserveReferral(result string) {
	if m == nil {
		return
	}
	m.referrals.WithLabelValues(orUnknown(result)).Inc()
}

func (m *EngineMetrics) ObserveCascade(d time.Duration) {
	if m == nil {
		return
	}
	m.cascadeDuration.Observe(d.Seconds())
}

func (m *EngineMetrics) IncCascadeFailure() {
	if m == nil {
		return
	}
	m.cascadeFailures.Inc()
}

func (m *EngineMetrics) SetBufferSize(n int) {
	if m == nil {
		return
	}
	m.bufferSize.Set(float64(n))
}

func (m *EngineMetrics) ObserveReorg(status string) {
	if m == nil {
		return
	}
	m.reorgs.WithLabelValues(orUnknown(status)).Inc()
}

func (m *EngineMetrics) AddLeaderboardDrift(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.leaderboardDrift.Add(float64(n))
}

func (m *EngineMetrics) SetHaltedPartitions(n int) {
	if m == nil {
		return
	}
	m.haltedPartitions.Set(float64(n))
}
