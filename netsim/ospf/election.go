// SPDX-License-Identifier: GPL-3.0-or-later

package ospf

import "net/netip"

// candidate is one router participating in DR election.
type candidate struct {
	id       netip.Addr
	priority uint8
	dr       netip.Addr
	bdr      netip.Addr
}

// better tells whether a outranks b: higher priority wins, ties
// break on the higher router ID.
func (a candidate) better(b candidate) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.id.Compare(b.id) > 0
}

// runElectionLocked elects the DR and BDR on a broadcast or NBMA
// network. Routers with priority zero never participate. When the
// calculation makes the local router gain or lose DR or BDR
// standing, it repeats once with the updated self-declaration, as
// the algorithm prescribes.
func (e *Engine) runElectionLocked(iface *Interface) []outgoing {
	self := candidate{
		id:       e.routerID,
		priority: iface.Priority,
		dr:       iface.DR,
		bdr:      iface.BDR,
	}

	dr, bdr := electOnce(e.electorateLocked(iface, self))

	// repeat when our own standing changed, declaring the
	// first round's outcome
	wasDRorBDR := iface.DR == e.routerID || iface.BDR == e.routerID
	isDRorBDR := dr == e.routerID || bdr == e.routerID
	if wasDRorBDR != isDRorBDR {
		self.dr, self.bdr = dr, bdr
		dr, bdr = electOnce(e.electorateLocked(iface, self))
	}

	changed := iface.DR != dr || iface.BDR != bdr
	iface.DR, iface.BDR = dr, bdr
	if !changed {
		return nil
	}

	// NeighborChange: adjacencies may now be wanted with the
	// new DR/BDR
	var out []outgoing
	for _, n := range iface.neighbors {
		if n.State == TwoWay && e.adjacencyWantedLocked(iface, n) {
			out = append(out, e.enterExStartLocked(iface, n)...)
		}
	}
	return out
}

// electorateLocked collects the eligible candidates: the local
// router plus every neighbor in state TwoWay or beyond, excluding
// priority-zero routers.
func (e *Engine) electorateLocked(iface *Interface, self candidate) []candidate {
	var cands []candidate
	if self.priority > 0 {
		cands = append(cands, self)
	}
	for _, n := range iface.neighbors {
		if n.State >= TwoWay && n.Priority > 0 {
			cands = append(cands, candidate{
				id:       n.RouterID,
				priority: n.Priority,
				dr:       n.DR,
				bdr:      n.BDR,
			})
		}
	}
	return cands
}

// electOnce runs a single pass of the election calculation.
func electOnce(cands []candidate) (dr, bdr netip.Addr) {
	// backup first: among routers not declaring themselves DR,
	// prefer those declaring themselves BDR
	var bdrBest, bdrAny *candidate
	for i := range cands {
		c := &cands[i]
		if c.dr == c.id {
			continue
		}
		if c.bdr == c.id && (bdrBest == nil || c.better(*bdrBest)) {
			bdrBest = c
		}
		if bdrAny == nil || c.better(*bdrAny) {
			bdrAny = c
		}
	}
	switch {
	case bdrBest != nil:
		bdr = bdrBest.id
	case bdrAny != nil:
		bdr = bdrAny.id
	}

	// then the DR: among routers declaring themselves DR
	var drBest *candidate
	for i := range cands {
		c := &cands[i]
		if c.dr == c.id && (drBest == nil || c.better(*drBest)) {
			drBest = c
		}
	}
	if drBest != nil {
		dr = drBest.id
		return dr, bdr
	}

	// nobody claims DR: the new BDR is promoted and the backup
	// is recalculated without it
	dr = bdr
	bdr = netip.Addr{}
	bdrBest, bdrAny = nil, nil
	for i := range cands {
		c := &cands[i]
		if c.id == dr || c.dr == c.id {
			continue
		}
		if c.bdr == c.id && (bdrBest == nil || c.better(*bdrBest)) {
			bdrBest = c
		}
		if bdrAny == nil || c.better(*bdrAny) {
			bdrAny = c
		}
	}
	switch {
	case bdrBest != nil:
		bdr = bdrBest.id
	case bdrAny != nil:
		bdr = bdrAny.id
	}
	return dr, bdr
}
