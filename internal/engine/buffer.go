// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"sort"

	"github.com/noldarim/rankledger/internal/chain"
)

type pendingAction struct {
	action  chain.Action
	dep     string
	arrival uint64
}

// depBuffer holds actions whose depends_on ref is not canonical yet.
// It is guarded by the engine admission lock.
type depBuffer struct {
	capacity int
	window   uint64
	arrivals uint64
	byRef    map[string]*pendingAction
	byDep    map[string][]*pendingAction
}

func newDepBuffer(capacity int, window uint64) *depBuffer {
	return &depBuffer{
		capacity: capacity,
		window:   window,
		byRef:    make(map[string]*pendingAction),
		byDep:    make(map[string][]*pendingAction),
	}
}

func (b *depBuffer) len() int { return len(b.byRef) }

func (b *depBuffer) has(key string) bool {
	_, ok := b.byRef[key]
	return ok
}

func (b *depBuffer) add(a chain.Action) error {
	if b.capacity > 0 && len(b.byRef) >= b.capacity {
		return ErrBufferFull
	}
	b.arrivals++
	p := &pendingAction{action: a, dep: a.Payload.DependsOn.Key(), arrival: b.arrivals}
	b.byRef[a.Ref.Key()] = p
	b.byDep[p.dep] = append(b.byDep[p.dep], p)
	return nil
}

// release removes and returns the actions waiting on dep in arrival order.
func (b *depBuffer) release(dep string) []chain.Action {
	waiting := b.byDep[dep]
	if len(waiting) == 0 {
		return nil
	}
	delete(b.byDep, dep)
	out := make([]chain.Action, 0, len(waiting))
	for _, p := range waiting {
		delete(b.byRef, p.action.Ref.Key())
		out = append(out, p.action)
	}
	return out
}

// expire removes actions the head has moved more than window blocks past.
func (b *depBuffer) expire(head uint64) []chain.Action {
	return b.removeIf(func(a chain.Action) bool {
		return head > a.Ref.Block+b.window
	})
}

// dropFrom removes actions at or past fork.
func (b *depBuffer) dropFrom(fork uint64) []chain.Action {
	return b.removeIf(func(a chain.Action) bool {
		return a.Ref.Block >= fork
	})
}

func (b *depBuffer) removeIf(match func(chain.Action) bool) []chain.Action {
	var hit []*pendingAction
	for _, p := range b.byRef {
		if match(p.action) {
			hit = append(hit, p)
		}
	}
	if len(hit) == 0 {
		return nil
	}
	sort.Slice(hit, func(i, j int) bool { return hit[i].arrival < hit[j].arrival })
	out := make([]chain.Action, 0, len(hit))
	for _, p := range hit {
		delete(b.byRef, p.action.Ref.Key())
		waiting := b.byDep[p.dep]
		for i, w := range waiting {
			if w == p {
				waiting = append(waiting[:i], waiting[i+1:]...)
				break
			}
		}
		if len(waiting) == 0 {
			delete(b.byDep, p.dep)
		} else {
			b.byDep[p.dep] = waiting
		}
		out = append(out, p.action)
	}
	return out
}
