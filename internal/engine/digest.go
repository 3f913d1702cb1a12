// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"lukechampine.com/blake3"
)

// Digest hashes the canonical encoding of the projection: actor states in
// address order, net grants per original grant id and referral edges. Raw
// ledger entries are excluded, so a ledger carrying reorg corrections hashes
// the same as a clean replay of the corrected log.
func (p *Projection) Digest() (string, error) {
	h := blake3.New(32, nil)
	if err := p.writeCanonical(h); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Projection) writeCanonical(w io.Writer) error {
	enc := json.NewEncoder(w)

	fmt.Fprintln(w, "actors")
	for _, addr := range p.Addresses() {
		if err := enc.Encode(p.Actors[addr]); err != nil {
			return fmt.Errorf("encode actor %s: %w", addr, err)
		}
	}

	fmt.Fprintln(w, "grants")
	net := p.Ledger.Net()
	keys := make([]string, 0, len(net))
	for k := range net {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%d\n", k, net[k])
	}

	fmt.Fprintln(w, "edges")
	for _, e := range p.Graph.Edges() {
		fmt.Fprintf(w, "%s<-%s@%s\n", e.Referee, e.Referrer, e.Ref)
	}
	return nil
}
