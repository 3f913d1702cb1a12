// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package referral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/chain"
)

const (
	a = chain.Address("0x000000000000000000000000000000000000000A")
	b = chain.Address("0x000000000000000000000000000000000000000B")
	c = chain.Address("0x000000000000000000000000000000000000000C")
)

func everyone(chain.Address) bool { return true }

func TestAttribute(t *testing.T) {
	g := NewGraph()
	ref := chain.ChainRef{Block: 5}

	e, err := g.Attribute(b, a, ref, everyone)
	require.NoError(t, err)
	assert.Equal(t, Edge{Referee: b, Referrer: a, Ref: ref}, e)

	got, ok := g.Referrer(b)
	require.True(t, ok)
	assert.Equal(t, a, got.Referrer)
}

func TestSecondAttributionIsRejectedAndEdgeUnchanged(t *testing.T) {
	g := NewGraph()
	_, err := g.Attribute(b, a, chain.ChainRef{Block: 5}, everyone)
	require.NoError(t, err)

	_, err = g.Attribute(b, c, chain.ChainRef{Block: 6}, everyone)
	assert.ErrorIs(t, err, ErrInvalidReferral)
	assert.Equal(t, ReasonDuplicate, RejectReason(err))

	got, _ := g.Referrer(b)
	assert.Equal(t, a, got.Referrer)
	assert.Equal(t, uint64(5), got.Ref.Block)
}

func TestRejections(t *testing.T) {
	g := NewGraph()
	// a referred b, b referred c
	g.Add(Edge{Referee: b, Referrer: a})
	g.Add(Edge{Referee: c, Referrer: b})

	tests := []struct {
		name     string
		referee  chain.Address
		referrer chain.Address
		known    func(chain.Address) bool
		reason   string
	}{
		{"self", a, a, everyone, ReasonSelf},
		{"duplicate", b, c, everyone, ReasonDuplicate},
		{"cycle", a, c, everyone, ReasonCycle},
		{"unknown referrer", a, c, func(chain.Address) bool { return false }, ReasonUnknownReferrer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Check(tt.referee, tt.referrer, tt.known)
			assert.ErrorIs(t, err, ErrInvalidReferral)
			assert.Equal(t, tt.reason, RejectReason(err))
		})
	}

	assert.Equal(t, ReasonCycle, RejectReason(g.Check(a, c, nil)))
	assert.NoError(t, g.Check(a, chain.Address("0x00000000000000000000000000000000000000DD"), nil))
}

func TestCloneIsIndependent(t *testing.T) {
	g := NewGraph()
	g.Add(Edge{Referee: b, Referrer: a})
	cl := g.Clone()
	cl.Add(Edge{Referee: c, Referrer: a})

	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 2, cl.Len())
	assert.Equal(t, []Edge{{Referee: b, Referrer: a}, {Referee: c, Referrer: a}}, cl.Edges())
}
