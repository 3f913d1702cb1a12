// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"sync"
	"time"

	"github.com/noldarim/rankledger/internal/protocol"
)

// EventCapture collects the events an engine publishes.
type EventCapture struct {
	mu     sync.RWMutex
	events []protocol.Event
	ch     chan protocol.Event
	done   chan struct{}
}

// NewEventCapture starts draining a buffered event channel in the background.
func NewEventCapture() *EventCapture {
	c := &EventCapture{
		ch:   make(chan protocol.Event, 4096),
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		for ev := range c.ch {
			if f, ok := ev.(flushMarker); ok {
				close(f.done)
				continue
			}
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		}
	}()
	return c
}

// flushMarker is queued behind published events; the capture closes done
// when it reaches it.
type flushMarker struct {
	done chan struct{}
}

func (flushMarker) GetMetadata() protocol.Metadata { return protocol.Metadata{} }

// Flush waits until every event sent before the call has been captured, or
// timeout passes.
func (c *EventCapture) Flush(timeout time.Duration) bool {
	f := flushMarker{done: make(chan struct{})}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.ch <- f:
	case <-timer.C:
		return false
	}
	select {
	case <-f.done:
		return true
	case <-timer.C:
		return false
	}
}

// Channel is the send side handed to the engine.
func (c *EventCapture) Channel() chan<- protocol.Event { return c.ch }

// Count returns the number of events captured so far.
func (c *EventCapture) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// All returns a copy of every captured event.
func (c *EventCapture) All() []protocol.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.Event(nil), c.events...)
}

// Clear forgets the events captured so far.
func (c *EventCapture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}

// Close stops the capture once the channel is drained.
func (c *EventCapture) Close() {
	close(c.ch)
	<-c.done
}

// EventsOf returns the captured events of type T in publish order.
func EventsOf[T protocol.Event](c *EventCapture) []T {
	var out []T
	for _, ev := range c.All() {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
