// SPDX-License-Identifier: GPL-3.0-or-later

//
// Database exchange: DD negotiation, link state request and
// update handling, retransmission, and route recomputation.
//

package ospf

import (
	"net/netip"

	"github.com/rbmk-project/netlab/netsim/routing"
)

// hdrLocked builds the common message header for an interface.
func (e *Engine) hdrLocked(iface *Interface) header {
	return header{Src: iface.Addr, RouterID: e.routerID, AreaID: iface.Area}
}

// newDDLocked assembles a Database Description message.
func (e *Engine) newDDLocked(iface *Interface, flags DDFlags,
	seq uint32, headers []LSAHeader) *DatabaseDescription {
	return &DatabaseDescription{
		header:    e.hdrLocked(iface),
		Flags:     flags,
		SeqNumber: seq,
		Headers:   headers,
	}
}

// enterExStartLocked begins or restarts DD negotiation: this
// router claims mastership with a fresh sequence number and an
// Init|More|MS packet.
func (e *Engine) enterExStartLocked(iface *Interface, n *Neighbor) []outgoing {
	n.clearLists()
	n.IsMaster = true
	n.DDSeq = e.ddSeq
	e.ddSeq++
	e.logTransitionLocked(n, ExStart)
	dd := e.newDDLocked(iface, FlagInit|FlagMore|FlagMS, n.DDSeq, nil)
	n.lastDD = dd
	e.armRxmtLocked(iface, n)
	return []outgoing{{iface.Name, n.Addr, dd}}
}

// ProcessDD handles a received Database Description message.
func (e *Engine) ProcessDD(ifname string, dd *DatabaseDescription) {
	e.mu.Lock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		e.mu.Unlock()
		return
	}
	n := iface.neighbors[dd.Router()]
	if n == nil || n.State < Init {
		// a DD packet never creates a neighbor
		e.mu.Unlock()
		return
	}

	var out []outgoing
	if n.State == Init {
		// receiving a DD implies the neighbor sees us
		if e.adjacencyWantedLocked(iface, n) {
			out = append(out, e.enterExStartLocked(iface, n)...)
		} else {
			e.logTransitionLocked(n, TwoWay)
		}
	}

	switch n.State {
	case ExStart:
		out = append(out, e.ddExStartLocked(iface, n, dd)...)
	case Exchange:
		out = append(out, e.ddExchangeLocked(iface, n, dd)...)
	case Loading, Full:
		out = append(out, e.ddPostExchangeLocked(iface, n, dd)...)
	}
	e.mu.Unlock()
	e.transmit(out)
}

// ddExStartLocked runs master/slave negotiation. The higher
// router ID becomes master; the slave adopts the master's
// sequence number.
func (e *Engine) ddExStartLocked(iface *Interface, n *Neighbor, dd *DatabaseDescription) []outgoing {
	negotiating := dd.Flags&(FlagInit|FlagMore|FlagMS) ==
		FlagInit|FlagMore|FlagMS && len(dd.Headers) == 0

	switch {
	case negotiating && dd.Router().Compare(e.routerID) > 0:
		// the neighbor outranks us: we are slave
		n.IsMaster = false
		n.DDSeq = dd.SeqNumber
		return e.negotiationDoneLocked(iface, n, dd)

	case dd.Flags&(FlagInit|FlagMS) == 0 &&
		dd.SeqNumber == n.DDSeq &&
		dd.Router().Compare(e.routerID) < 0:
		// the neighbor submitted as slave, echoing our sequence
		n.IsMaster = true
		return e.negotiationDoneLocked(iface, n, dd)

	default:
		// either our own claim outranks theirs, in which case
		// they will submit once our Init packet arrives, or the
		// packet is stale
		return nil
	}
}

// negotiationDoneLocked moves the neighbor to Exchange and sends
// the first real summary packet.
func (e *Engine) negotiationDoneLocked(iface *Interface, n *Neighbor, dd *DatabaseDescription) []outgoing {
	e.logTransitionLocked(n, Exchange)
	n.Summary = e.summaryLocked()
	e.absorbHeadersLocked(n, dd.Headers)
	if dd.Flags&FlagInit == 0 && dd.Flags&FlagMore == 0 {
		n.peerDone = true
	}

	// the whole summary fits in one packet, so More stays clear
	var reply *DatabaseDescription
	if n.IsMaster {
		n.DDSeq++
		reply = e.newDDLocked(iface, FlagMS, n.DDSeq, n.Summary)
	} else {
		reply = e.newDDLocked(iface, 0, n.DDSeq, n.Summary)
	}
	n.summarySent = true
	n.Summary = nil
	n.lastDD = reply
	e.armRxmtLocked(iface, n)
	return []outgoing{{iface.Name, n.Addr, reply}}
}

// ddExchangeLocked advances an in-progress database exchange.
func (e *Engine) ddExchangeLocked(iface *Interface, n *Neighbor, dd *DatabaseDescription) []outgoing {
	if n.IsMaster {
		switch {
		case dd.Flags&FlagMS != 0:
			// two masters: renegotiate
			return e.enterExStartLocked(iface, n)
		case dd.SeqNumber == n.DDSeq-1:
			// duplicate of an already processed packet
			return nil
		case dd.SeqNumber != n.DDSeq:
			return e.enterExStartLocked(iface, n)
		}
		e.absorbHeadersLocked(n, dd.Headers)
		if dd.Flags&FlagMore == 0 {
			n.peerDone = true
		}
		n.lastDD = nil // the echo acknowledges our packet
		if n.summarySent && n.peerDone {
			return e.exchangeDoneLocked(iface, n)
		}
		return nil
	}

	// slave side
	if dd.Flags&FlagMS == 0 {
		return e.enterExStartLocked(iface, n)
	}
	switch dd.SeqNumber {
	case n.DDSeq:
		// duplicate: repeat the previous answer
		if n.lastDD != nil {
			return []outgoing{{iface.Name, n.Addr, n.lastDD}}
		}
		return nil

	case n.DDSeq + 1:
		n.DDSeq = dd.SeqNumber
		e.absorbHeadersLocked(n, dd.Headers)
		if dd.Flags&FlagMore == 0 {
			n.peerDone = true
		}
		reply := e.newDDLocked(iface, 0, n.DDSeq, nil)
		n.lastDD = reply
		out := []outgoing{{iface.Name, n.Addr, reply}}
		if n.summarySent && n.peerDone {
			out = append(out, e.exchangeDoneLocked(iface, n)...)
		}
		return out

	default:
		return e.enterExStartLocked(iface, n)
	}
}

// ddPostExchangeLocked handles DD packets arriving in Loading or
// Full: duplicates are tolerated, anything else means the peer
// lost synchronization.
func (e *Engine) ddPostExchangeLocked(iface *Interface, n *Neighbor, dd *DatabaseDescription) []outgoing {
	switch {
	case !n.IsMaster && dd.Flags&FlagMS != 0 && dd.SeqNumber == n.DDSeq:
		// duplicate from the master: repeat the last answer
		if n.lastDD != nil {
			return []outgoing{{iface.Name, n.Addr, n.lastDD}}
		}
		return nil
	case n.IsMaster && dd.Flags&FlagMS == 0 && dd.SeqNumber == n.DDSeq:
		// duplicate slave echo
		return nil
	default:
		// SeqNumberMismatch
		return e.enterExStartLocked(iface, n)
	}
}

// absorbHeadersLocked compares advertised headers against the
// database and queues requests for newer or unknown LSAs.
func (e *Engine) absorbHeadersLocked(n *Neighbor, headers []LSAHeader) {
	for i := range headers {
		h := &headers[i]
		ours, have := e.lsdb[h.key()]
		if have && !h.newerThan(&ours.Header) {
			continue
		}
		item := LSRequestItem{
			Type:        h.Type,
			LinkStateID: h.LinkStateID,
			AdvRouter:   h.AdvRouter,
		}
		dup := false
		for _, existing := range n.Requests {
			if existing == item {
				dup = true
				break
			}
		}
		if !dup {
			n.Requests = append(n.Requests, item)
		}
	}
}

// exchangeDoneLocked decides between Loading and Full once both
// summaries have flowed.
func (e *Engine) exchangeDoneLocked(iface *Interface, n *Neighbor) []outgoing {
	if len(n.Requests) > 0 {
		e.logTransitionLocked(n, Loading)
		req := e.buildLSRLocked(iface, n)
		e.armRxmtLocked(iface, n)
		return []outgoing{{iface.Name, n.Addr, req}}
	}
	return e.enterFullLocked(iface, n)
}

// enterFullLocked completes the adjacency: retransmission stops,
// the router LSA gains the new link, and routes are recomputed.
func (e *Engine) enterFullLocked(iface *Interface, n *Neighbor) []outgoing {
	e.logTransitionLocked(n, Full)
	n.stopRxmt()
	n.lastDD = nil
	n.Retransmit = nil
	e.originateRouterLSALocked()
	e.recomputeRoutesLocked()
	return nil
}

// buildLSRLocked assembles a request for everything still on the
// neighbor's request list.
func (e *Engine) buildLSRLocked(iface *Interface, n *Neighbor) *LSRequest {
	return &LSRequest{
		header: e.hdrLocked(iface),
		Items:  append([]LSRequestItem(nil), n.Requests...),
	}
}

// ProcessLSR handles a received Link State Request message.
func (e *Engine) ProcessLSR(ifname string, req *LSRequest) {
	e.mu.Lock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		e.mu.Unlock()
		return
	}
	n := iface.neighbors[req.Router()]
	if n == nil || n.State < Exchange {
		e.mu.Unlock()
		return
	}

	var lsas []*RouterLSA
	bad := false
	for _, item := range req.Items {
		lsa := e.lsdb[item.key()]
		if lsa == nil {
			bad = true
			break
		}
		lsas = append(lsas, lsa.clone())
	}

	var out []outgoing
	if bad {
		// BadLSReq: a request for something we never advertised
		out = e.enterExStartLocked(iface, n)
	} else {
		for _, lsa := range lsas {
			n.Retransmit = appendHeaderUnique(n.Retransmit, lsa.Header)
		}
		if n.State != Full && n.rxmt == nil {
			e.armRxmtLocked(iface, n)
		}
		out = []outgoing{{ifname, n.Addr, &LSUpdate{header: e.hdrLocked(iface), LSAs: lsas}}}
	}
	e.mu.Unlock()
	e.transmit(out)
}

// appendHeaderUnique adds h unless an instance with the same key
// is already listed.
func appendHeaderUnique(headers []LSAHeader, h LSAHeader) []LSAHeader {
	for i := range headers {
		if headers[i].key() == h.key() {
			headers[i] = h
			return headers
		}
	}
	return append(headers, h)
}

// ProcessLSUpdate handles a received Link State Update message.
func (e *Engine) ProcessLSUpdate(ifname string, upd *LSUpdate) {
	e.mu.Lock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		e.mu.Unlock()
		return
	}
	n := iface.neighbors[upd.Router()]
	if n == nil || n.State < Exchange {
		e.mu.Unlock()
		return
	}

	var acked []LSAHeader
	for _, lsa := range upd.LSAs {
		key := lsa.Header.key()
		ours, have := e.lsdb[key]
		if !have || lsa.Header.newerThan(&ours.Header) {
			e.lsdb[key] = lsa.clone()
		}
		acked = append(acked, lsa.Header)
		n.Requests = removeRequest(n.Requests, key)
	}

	out := []outgoing{{ifname, n.Addr, &LSAck{header: e.hdrLocked(iface), Headers: acked}}}
	if n.State == Loading && len(n.Requests) <= 0 {
		// LoadingDone
		out = append(out, e.enterFullLocked(iface, n)...)
	} else {
		e.recomputeRoutesLocked()
	}
	e.mu.Unlock()
	e.transmit(out)
}

// removeRequest drops the request matching key.
func removeRequest(items []LSRequestItem, key lsKey) []LSRequestItem {
	kept := items[:0]
	for _, item := range items {
		if item.key() != key {
			kept = append(kept, item)
		}
	}
	return kept
}

// ProcessLSAck handles a received Link State Acknowledgment.
func (e *Engine) ProcessLSAck(ifname string, ack *LSAck) {
	e.mu.Lock()
	defer e.mu.Unlock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		return
	}
	n := iface.neighbors[ack.Router()]
	if n == nil {
		return
	}
	for i := range ack.Headers {
		key := ack.Headers[i].key()
		kept := n.Retransmit[:0]
		for _, h := range n.Retransmit {
			if h.key() != key {
				kept = append(kept, h)
			}
		}
		n.Retransmit = kept
	}
	if len(n.Retransmit) <= 0 && n.State == Full {
		n.stopRxmt()
	}
}

// armRxmtLocked starts the per-neighbor retransmission timer.
func (e *Engine) armRxmtLocked(iface *Interface, n *Neighbor) {
	n.stopRxmt()
	ifname, id := iface.Name, n.RouterID
	n.rxmt = e.clk.AfterFunc(iface.RxmtInterval, func() {
		e.retransmitTick(ifname, id)
	})
}

// retransmitTick resends whatever the neighbor has not yet
// acknowledged, then rearms. A removed neighbor has had its timer
// stopped, and the map lookup below keeps a stale firing from
// recreating any state.
func (e *Engine) retransmitTick(ifname string, id netip.Addr) {
	e.mu.Lock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		e.mu.Unlock()
		return
	}
	n, ok := iface.neighbors[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	if n.State == Full {
		n.stopRxmt()
		e.mu.Unlock()
		return
	}

	var out []outgoing
	switch {
	case n.State == Loading && len(n.Requests) > 0:
		out = append(out, outgoing{ifname, n.Addr, e.buildLSRLocked(iface, n)})
	case len(n.Retransmit) > 0:
		var lsas []*RouterLSA
		for _, h := range n.Retransmit {
			if lsa := e.lsdb[h.key()]; lsa != nil {
				lsas = append(lsas, lsa.clone())
			}
		}
		if len(lsas) > 0 {
			out = append(out, outgoing{ifname, n.Addr, &LSUpdate{header: e.hdrLocked(iface), LSAs: lsas}})
		}
	case n.lastDD != nil && (n.State == ExStart || (n.State == Exchange && n.IsMaster)):
		out = append(out, outgoing{ifname, n.Addr, n.lastDD})
	}
	n.rxmt = e.clk.AfterFunc(iface.RxmtInterval, func() {
		e.retransmitTick(ifname, id)
	})
	e.mu.Unlock()
	e.transmit(out)
}

// recomputeRoutesLocked rebuilds the OSPF-sourced routes from
// the LSAs of fully adjacent neighbors.
func (e *Engine) recomputeRoutesLocked() {
	if e.table == nil {
		return
	}
	e.table.RemoveBySource(routing.OSPF)
	for _, iface := range e.ifaces {
		local := iface.Mask.Prefix(iface.Addr)
		for id, n := range iface.neighbors {
			if n.State != Full {
				continue
			}
			lsa := e.lsdb[lsKey{Type: LSTypeRouter, LinkStateID: id, AdvRouter: id}]
			if lsa == nil {
				continue
			}
			for _, link := range lsa.Links {
				if link.Type != LinkStub {
					continue
				}
				prefix := link.Data.Prefix(link.ID)
				if prefix == local {
					continue
				}
				e.table.Add(routing.Route{
					Prefix:    prefix,
					NextHop:   n.Addr,
					Interface: iface.Name,
					Source:    routing.OSPF,
					Metric:    int(iface.Cost) + int(link.Metric),
				})
			}
		}
	}
}
