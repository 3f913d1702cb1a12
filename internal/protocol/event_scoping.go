// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

// Actors lets the WebSocket filter match events without a type switch.

func (e ActionRecordedEvent) Actors() []string     { return []string{e.Actor, e.Target} }
func (e ActionRejectedEvent) Actors() []string     { return []string{e.Actor} }
func (e PointsGrantedEvent) Actors() []string      { return []string{e.Actor} }
func (e BadgeAwardedEvent) Actors() []string       { return []string{e.Actor} }
func (e BadgeRevokedEvent) Actors() []string       { return []string{e.Actor} }
func (e StreakMilestoneEvent) Actors() []string    { return []string{e.Actor} }
func (e ReferralAttributedEvent) Actors() []string { return []string{e.Referee, e.Referrer} }

// Kind names events on the wire.

func (ActionRecordedEvent) Kind() string     { return "action_recorded" }
func (ActionRejectedEvent) Kind() string     { return "action_rejected" }
func (PointsGrantedEvent) Kind() string      { return "points_granted" }
func (BadgeAwardedEvent) Kind() string       { return "badge_awarded" }
func (BadgeRevokedEvent) Kind() string       { return "badge_revoked" }
func (StreakMilestoneEvent) Kind() string    { return "streak_milestone" }
func (ReferralAttributedEvent) Kind() string { return "referral_attributed" }
func (ReorgStartedEvent) Kind() string       { return "reorg_started" }
func (ReorgCompletedEvent) Kind() string     { return "reorg_completed" }
func (LeaderboardRebuiltEvent) Kind() string { return "leaderboard_rebuilt" }
func (PartitionHaltedEvent) Kind() string    { return "partition_halted" }
