// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/protocol"
)

// AssertEventEmitted waits briefly for an event of type T matching match.
func AssertEventEmitted[T protocol.Event](t *testing.T, c *EventCapture, match func(T) bool) T {
	t.Helper()
	var found T
	require.Eventually(t, func() bool {
		for _, ev := range EventsOf[T](c) {
			if match == nil || match(ev) {
				found = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "expected %T event", found)
	return found
}

// AssertNoEvent checks that no captured event of type T matches match.
func AssertNoEvent[T protocol.Event](t *testing.T, c *EventCapture, match func(T) bool) {
	t.Helper()
	require.True(t, c.Flush(2*time.Second), "event capture did not catch up")
	for _, ev := range EventsOf[T](c) {
		if match == nil || match(ev) {
			assert.Failf(t, "unexpected event", "%T: %+v", ev, ev)
		}
	}
}

// AssertEventCount checks the number of captured events of type T once the
// capture has caught up with the events already published.
func AssertEventCount[T protocol.Event](t *testing.T, c *EventCapture, expected int) {
	t.Helper()
	require.True(t, c.Flush(2*time.Second), "event capture did not catch up")
	assert.Eventually(t, func() bool {
		return len(EventsOf[T](c)) == expected
	}, 2*time.Second, 5*time.Millisecond, "expected %d %T events", expected, *new(T))
}
