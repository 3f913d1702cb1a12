// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the REST + WebSocket API. Reads go through the
// query service, writes go to the engine, and engine events are fanned out
// to connected WebSocket clients.
package server

import (
	"context"
	"sync"

	"github.com/noldarim/rankledger/internal/logger"
	"github.com/noldarim/rankledger/internal/protocol"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// EventBroadcaster reads every event the engine emits and fans them out to
// all connected WebSocket clients.
type EventBroadcaster struct {
	eventChan <-chan protocol.Event
	clients   *ClientRegistry
}

// NewEventBroadcaster creates a broadcaster over the engine's event channel.
func NewEventBroadcaster(eventChan <-chan protocol.Event, clients *ClientRegistry) *EventBroadcaster {
	return &EventBroadcaster{
		eventChan: eventChan,
		clients:   clients,
	}
}

// Run reads events until the channel is closed or context is cancelled.
func (b *EventBroadcaster) Run(ctx context.Context) {
	if b.eventChan == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case event, ok := <-b.eventChan:
			if !ok {
				getLog().Info().Msg("Event broadcaster stopped (channel closed)")
				return
			}
			b.dispatch(event)
		case <-ctx.Done():
			getLog().Info().Msg("Event broadcaster stopped (context cancelled)")
			return
		}
	}
}

func (b *EventBroadcaster) dispatch(event protocol.Event) {
	if b.clients != nil {
		b.clients.Broadcast(event)
	}
}
