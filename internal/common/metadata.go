// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package common provides shared types used across multiple packages.
package common

// Metadata is carried by every event the engine publishes.
type Metadata struct {
	// EventID is unique per published event.
	EventID string `json:"event_id,omitempty"`

	// IdempotencyKey is stable across re-publication of the same fact
	// (for example a grant id), so subscribers can deduplicate.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Version indicates the protocol version for backward compatibility.
	// Format: "v{major}.{minor}.{patch}" (e.g., "v1.0.0")
	Version string `json:"version"`
}

// CurrentProtocolVersion defines the current version of the protocol.
// This should be updated when making breaking changes to the protocol.
const CurrentProtocolVersion = "v1.0.0"

// Event represents anything the engine publishes to subscribers.
type Event interface {
	GetMetadata() Metadata
}
