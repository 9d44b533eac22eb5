// SPDX-License-Identifier: GPL-3.0-or-later

package ospf

import (
	"net/netip"
)

// ProcessHello handles a received Hello message.
func (e *Engine) ProcessHello(ifname string, hello *Hello) {
	e.mu.Lock()
	iface, ok := e.ifaces[ifname]
	if !ok || hello.AreaID != iface.Area {
		e.mu.Unlock()
		return
	}

	id := hello.Router()
	n := iface.neighbors[id]
	if n == nil {
		state := Down
		if iface.Network == NBMA && iface.solicited(hello.Source()) {
			state = Attempt
		}
		n = &Neighbor{RouterID: id, Addr: hello.Source(), State: state}
		iface.neighbors[id] = n
	}
	n.Addr = hello.Source()
	n.Priority = hello.Priority
	n.DR = hello.DR
	n.BDR = hello.BDR

	// HelloReceived: the inactivity timer restarts on every
	// valid Hello.
	n.deadline = e.clk.Now().Add(iface.DeadInterval)
	if n.inactivity == nil {
		n.inactivity = e.clk.AfterFunc(iface.DeadInterval, func() {
			e.neighborTimeout(ifname, id)
		})
	} else {
		n.inactivity.Reset(iface.DeadInterval)
	}
	if n.State < Init {
		e.logTransitionLocked(n, Init)
	}

	var out []outgoing
	listed := containsAddr(hello.Neighbors, e.routerID)
	switch {
	case listed && n.State == Init:
		// TwoWayReceived
		if e.adjacencyWantedLocked(iface, n) {
			out = append(out, e.enterExStartLocked(iface, n)...)
		} else {
			e.logTransitionLocked(n, TwoWay)
		}

	case !listed && n.State >= TwoWay:
		// OneWay: the neighbor no longer lists us
		n.clearLists()
		n.stopRxmt()
		e.logTransitionLocked(n, Init)
		e.recomputeRoutesLocked()
	}

	if iface.Network == Broadcast && n.State >= TwoWay {
		out = append(out, e.runElectionLocked(iface)...)
	}
	e.mu.Unlock()
	e.transmit(out)
}

// solicited tells whether addr is a statically configured NBMA
// neighbor of this interface.
func (iface *Interface) solicited(addr netip.Addr) bool {
	for _, cand := range iface.solicit {
		if cand == addr {
			return true
		}
	}
	return false
}

// containsAddr tells whether addrs contains addr.
func containsAddr(addrs []netip.Addr, addr netip.Addr) bool {
	for _, cand := range addrs {
		if cand == addr {
			return true
		}
	}
	return false
}

// adjacencyWantedLocked decides whether an adjacency should form
// with the neighbor. On point-to-point and NBMA networks it
// always does; on broadcast networks only with or as the DR/BDR.
func (e *Engine) adjacencyWantedLocked(iface *Interface, n *Neighbor) bool {
	if iface.Network != Broadcast {
		return true
	}
	switch {
	case iface.DR == e.routerID || iface.BDR == e.routerID:
		return true
	case iface.DR == n.RouterID || iface.BDR == n.RouterID:
		return true
	default:
		return false
	}
}

// neighborTimeout fires when the dead interval elapses with no
// Hello from the neighbor: the neighbor is removed and its timers
// disposed, so no later retransmission can resurrect it.
func (e *Engine) neighborTimeout(ifname string, id netip.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		return
	}
	if _, ok := iface.neighbors[id]; !ok {
		return
	}
	e.killNeighborLocked(iface, id)
	e.originateRouterLSALocked()
	e.recomputeRoutesLocked()
}
