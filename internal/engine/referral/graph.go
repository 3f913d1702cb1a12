// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package referral resolves one-time referral attribution.
package referral

import (
	"errors"
	"fmt"
	"sort"

	"github.com/noldarim/rankledger/internal/chain"
)

// ErrInvalidReferral is wrapped by every Rejection.
var ErrInvalidReferral = errors.New("invalid referral")

// Rejection reasons.
const (
	ReasonSelf            = "self_referral"
	ReasonDuplicate       = "duplicate_edge"
	ReasonCycle           = "cycle"
	ReasonUnknownReferrer = "unknown_referrer"
)

// Rejection explains why an attribution was refused.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidReferral, r.Reason)
}

func (r *Rejection) Unwrap() error { return ErrInvalidReferral }

// RejectReason extracts the reason from err, or "".
func RejectReason(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

// Edge links a referee to the referrer that brought them in.
type Edge struct {
	Referee  chain.Address  `json:"referee"`
	Referrer chain.Address  `json:"referrer"`
	Ref      chain.ChainRef `json:"ref"`
}

// Graph is the referral forest keyed by referee.
type Graph struct {
	edges map[chain.Address]Edge
}

func NewGraph() *Graph {
	return &Graph{edges: make(map[chain.Address]Edge)}
}

// FromEdges rebuilds a graph. Later duplicates are ignored.
func FromEdges(edges []Edge) *Graph {
	g := NewGraph()
	for _, e := range edges {
		if _, ok := g.edges[e.Referee]; !ok {
			g.edges[e.Referee] = e
		}
	}
	return g
}

// Check validates an attribution without recording it. known reports
// whether an address has ever acted; pass nil to skip that check.
func (g *Graph) Check(referee, referrer chain.Address, known func(chain.Address) bool) error {
	switch {
	case referee == referrer:
		return &Rejection{Reason: ReasonSelf}
	case g.has(referee):
		return &Rejection{Reason: ReasonDuplicate}
	case known != nil && !known(referrer):
		return &Rejection{Reason: ReasonUnknownReferrer}
	case g.reaches(referrer, referee):
		return &Rejection{Reason: ReasonCycle}
	}
	return nil
}

// Attribute records the edge if Check passes.
func (g *Graph) Attribute(referee, referrer chain.Address, ref chain.ChainRef, known func(chain.Address) bool) (Edge, error) {
	if err := g.Check(referee, referrer, known); err != nil {
		return Edge{}, err
	}
	e := Edge{Referee: referee, Referrer: referrer, Ref: ref}
	g.edges[referee] = e
	return e, nil
}

// Referrer returns the referee's edge.
func (g *Graph) Referrer(referee chain.Address) (Edge, bool) {
	e, ok := g.edges[referee]
	return e, ok
}

func (g *Graph) has(referee chain.Address) bool {
	_, ok := g.edges[referee]
	return ok
}

// reaches walks from's ancestor chain looking for to.
func (g *Graph) reaches(from, to chain.Address) bool {
	seen := map[chain.Address]bool{}
	for cur := from; !seen[cur]; {
		seen[cur] = true
		e, ok := g.edges[cur]
		if !ok {
			return false
		}
		if e.Referrer == to {
			return true
		}
		cur = e.Referrer
	}
	return false
}

// Add inserts an already-validated edge.
func (g *Graph) Add(e Edge) { g.edges[e.Referee] = e }

// Len is the number of edges.
func (g *Graph) Len() int { return len(g.edges) }

// Edges returns every edge sorted by referee.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Referee < out[j].Referee })
	return out
}

func (g *Graph) Clone() *Graph {
	c := &Graph{edges: make(map[chain.Address]Edge, len(g.edges))}
	for k, v := range g.edges {
		c.edges[k] = v
	}
	return c
}
