// SPDX-License-Identifier: GPL-3.0-or-later

// Package ospf implements the OSPF v2 neighbor state machine:
// Hello processing, database description master/slave
// negotiation, link state request/update exchange with
// retransmission, DR/BDR election, and route installation on
// reaching the Full state.
//
// Engines exchange [Message] values through an injectable sender,
// which the simulator binds to protocol 89 IPv4 packets riding the
// regular cables. Delivery follows the simulator's synchronous
// model, so no engine method holds the engine mutex across a send.
package ospf

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/packet"
	"github.com/rbmk-project/netlab/netsim/routing"
)

// NetworkType is the OSPF network type of an interface.
type NetworkType int

const (
	// PointToPoint joins exactly two routers; adjacency always
	// forms and no DR election happens.
	PointToPoint NetworkType = iota

	// Broadcast is a multi-access network with DR/BDR election.
	Broadcast

	// NBMA is a non-broadcast multi-access network with
	// statically configured neighbors.
	NBMA
)

// Default protocol intervals.
const (
	// DefaultHelloInterval is the default hello interval.
	DefaultHelloInterval = 10 * time.Second

	// DefaultRxmtInterval is the default retransmit interval.
	DefaultRxmtInterval = 5 * time.Second

	// DefaultPriority is the default router priority.
	DefaultPriority = 1

	// DefaultCost is the default interface output cost.
	DefaultCost = 10

	// deadMultiplier scales the hello interval into the dead
	// interval.
	deadMultiplier = 4
)

// initialSeqNumber is the sequence number of the first instance
// of an LSA.
const initialSeqNumber = 0x80000001

// InterfaceOptions tune an activated interface. The zero value
// selects a point-to-point network with default intervals.
type InterfaceOptions struct {
	// Network is the OSPF network type.
	Network NetworkType

	// HelloInterval overrides [DefaultHelloInterval] when
	// positive. The dead interval is always four times the
	// hello interval.
	HelloInterval time.Duration

	// RxmtInterval overrides [DefaultRxmtInterval] when
	// positive.
	RxmtInterval time.Duration

	// Priority is the router priority for DR election. Zero
	// makes this router ineligible; use [DefaultPriority] for
	// the conventional default.
	Priority uint8

	// Cost overrides [DefaultCost] when positive.
	Cost uint16

	// Neighbors statically configures NBMA neighbor addresses
	// to solicit.
	Neighbors []netip.Addr
}

// Interface is an OSPF-activated interface.
type Interface struct {
	// Name is the interface name.
	Name string

	// Addr is the interface address.
	Addr netip.Addr

	// Mask is the interface subnet mask.
	Mask packet.Mask

	// Area is the area this interface belongs to.
	Area netip.Addr

	// Network is the OSPF network type.
	Network NetworkType

	// HelloInterval is the hello interval.
	HelloInterval time.Duration

	// DeadInterval is the router-dead interval.
	DeadInterval time.Duration

	// RxmtInterval is the retransmit interval.
	RxmtInterval time.Duration

	// Priority is the local router priority on this network.
	Priority uint8

	// Cost is the output cost of this interface.
	Cost uint16

	// DR is the elected designated router's ID.
	DR netip.Addr

	// BDR is the elected backup designated router's ID.
	BDR netip.Addr

	// neighbors maps router IDs to neighbor records.
	neighbors map[netip.Addr]*Neighbor

	// solicit lists statically configured NBMA neighbor
	// addresses; their records start in Attempt on the first
	// solicitation instead of Down.
	solicit []netip.Addr

	// hello is the periodic hello timer.
	hello clock.Timer
}

// outgoing is a message scheduled for transmission after the
// engine mutex is released.
type outgoing struct {
	ifname string
	dst    netip.Addr
	msg    Message
}

// Sender transmits an OSPF message out of the named interface to
// the given destination address. Hellos go to [AllSPFRouters];
// adjacency traffic is addressed to the neighbor itself.
type Sender func(ifname string, dst netip.Addr, msg Message)

// Engine is one router's OSPF instance.
//
// The zero value is not ready to use; construct using [New].
//
// An [*Engine] is safe for concurrent use by multiple goroutines.
type Engine struct {
	// Logger optionally emits structured events.
	Logger *slog.Logger

	// routerID is the local router ID.
	routerID netip.Addr

	// table receives OSPF-derived routes.
	table *routing.Table

	// clk tells the time and schedules timers.
	clk clock.Clock

	// mu protects the fields below. Never held across a send.
	mu sync.Mutex

	// send transmits messages; injected via [Engine.SetSender].
	send Sender

	// ifaces maps interface names to activated interfaces.
	ifaces map[string]*Interface

	// lsdb is the link state database.
	lsdb map[lsKey]*RouterLSA

	// lsaSeq is the sequence number of the next self-originated
	// LSA instance.
	lsaSeq uint32

	// ddSeq seeds DD sequence numbers for new negotiations.
	ddSeq uint32

	// events records neighbor state transitions in order.
	events []string
}

// New creates an [*Engine] with the given router ID installing
// routes into the given table using the given clock.
func New(routerID netip.Addr, table *routing.Table, clk clock.Clock) *Engine {
	return &Engine{
		routerID: routerID,
		table:    table,
		clk:      clk,
		ifaces:   make(map[string]*Interface),
		lsdb:     make(map[lsKey]*RouterLSA),
		lsaSeq:   initialSeqNumber,
		ddSeq:    0x0800,
	}
}

// RouterID returns the local router ID.
func (e *Engine) RouterID() netip.Addr {
	return e.routerID
}

// SetSender installs the message transmission hook.
func (e *Engine) SetSender(send Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send = send
}

// Events returns the chronological neighbor transition log. Each
// entry reads "<routerID>: <state> -> <state>".
func (e *Engine) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// GetInterface returns the named activated interface.
func (e *Engine) GetInterface(name string) (*Interface, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	iface, ok := e.ifaces[name]
	return iface, ok
}

// Neighbor returns a snapshot of the neighbor record for the
// given router ID on the named interface.
func (e *Engine) Neighbor(ifname string, id netip.Addr) (Neighbor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		return Neighbor{}, false
	}
	n, ok := iface.neighbors[id]
	if !ok {
		return Neighbor{}, false
	}
	return *n, true
}

// ActivateInterface enables OSPF on an interface with the given
// address, mask and area, originates the corresponding router
// LSA, and starts the periodic hello.
func (e *Engine) ActivateInterface(name string, addr netip.Addr,
	mask packet.Mask, area netip.Addr, opts *InterfaceOptions) *Interface {
	if opts == nil {
		opts = &InterfaceOptions{Priority: DefaultPriority}
	}
	hello := opts.HelloInterval
	if hello <= 0 {
		hello = DefaultHelloInterval
	}
	rxmt := opts.RxmtInterval
	if rxmt <= 0 {
		rxmt = DefaultRxmtInterval
	}
	cost := opts.Cost
	if cost <= 0 {
		cost = DefaultCost
	}

	e.mu.Lock()
	iface := &Interface{
		Name:          name,
		Addr:          addr,
		Mask:          mask,
		Area:          area,
		Network:       opts.Network,
		HelloInterval: hello,
		DeadInterval:  deadMultiplier * hello,
		RxmtInterval:  rxmt,
		Priority:      opts.Priority,
		Cost:          cost,
		neighbors:     make(map[netip.Addr]*Neighbor),
	}
	e.ifaces[name] = iface
	iface.solicit = append(iface.solicit, opts.Neighbors...)
	e.originateRouterLSALocked()
	iface.hello = e.clk.AfterFunc(hello, func() { e.helloTick(name) })
	out := e.helloOutLocked(iface)
	e.mu.Unlock()

	e.transmit(out)
	return iface
}

// Close implements io.Closer: it deactivates every remaining
// interface so that no hello, inactivity or retransmission timer
// can fire again.
func (e *Engine) Close() error {
	e.mu.Lock()
	names := make([]string, 0, len(e.ifaces))
	for name := range e.ifaces {
		names = append(names, name)
	}
	e.mu.Unlock()
	for _, name := range names {
		e.DeactivateInterface(name)
	}
	return nil
}

// DeactivateInterface withdraws OSPF from the named interface,
// tearing down every neighbor on it.
func (e *Engine) DeactivateInterface(name string) {
	e.mu.Lock()
	iface, ok := e.ifaces[name]
	if !ok {
		e.mu.Unlock()
		return
	}
	if iface.hello != nil {
		iface.hello.Stop()
		iface.hello = nil
	}
	for id := range iface.neighbors {
		e.killNeighborLocked(iface, id)
	}
	delete(e.ifaces, name)
	e.originateRouterLSALocked()
	e.recomputeRoutesLocked()
	e.mu.Unlock()
}

// KillNeighbor forces the given neighbor back to Down and
// removes it, disposing its timers.
func (e *Engine) KillNeighbor(ifname string, id netip.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		return
	}
	e.killNeighborLocked(iface, id)
	e.recomputeRoutesLocked()
}

// killNeighborLocked tears a neighbor down and removes it.
func (e *Engine) killNeighborLocked(iface *Interface, id netip.Addr) {
	n, ok := iface.neighbors[id]
	if !ok {
		return
	}
	e.logTransitionLocked(n, Down)
	n.clearLists()
	n.stopTimers()
	delete(iface.neighbors, id)
}

// logTransitionLocked records a neighbor state change.
func (e *Engine) logTransitionLocked(n *Neighbor, next State) {
	if n.State == next {
		return
	}
	e.events = append(e.events,
		fmt.Sprintf("%s: %s -> %s", n.RouterID, n.State, next))
	if e.Logger != nil {
		e.Logger.Debug("ospf neighbor transition",
			slog.String("routerID", e.routerID.String()),
			slog.String("neighbor", n.RouterID.String()),
			slog.String("from", n.State.String()),
			slog.String("to", next.String()))
	}
	n.State = next
}

// transmit sends the collected messages. Callers must not hold
// the engine mutex: delivery is synchronous and the peer may call
// back into this engine.
func (e *Engine) transmit(out []outgoing) {
	e.mu.Lock()
	send := e.send
	e.mu.Unlock()
	if send == nil {
		return
	}
	for _, o := range out {
		send(o.ifname, o.dst, o.msg)
	}
}

// Deliver dispatches a received message to the matching handler.
func (e *Engine) Deliver(ifname string, msg Message) {
	switch m := msg.(type) {
	case *Hello:
		e.ProcessHello(ifname, m)
	case *DatabaseDescription:
		e.ProcessDD(ifname, m)
	case *LSRequest:
		e.ProcessLSR(ifname, m)
	case *LSUpdate:
		e.ProcessLSUpdate(ifname, m)
	case *LSAck:
		e.ProcessLSAck(ifname, m)
	}
}

// helloTick sends the periodic hello and rearms the timer.
func (e *Engine) helloTick(ifname string) {
	e.mu.Lock()
	iface, ok := e.ifaces[ifname]
	if !ok {
		e.mu.Unlock()
		return
	}
	out := e.helloOutLocked(iface)
	iface.hello = e.clk.AfterFunc(iface.HelloInterval, func() { e.helloTick(ifname) })
	e.mu.Unlock()
	e.transmit(out)
}

// helloOutLocked schedules one hello round for an interface:
// multicast to [AllSPFRouters], except on NBMA networks where
// every configured or known neighbor is solicited unicast.
func (e *Engine) helloOutLocked(iface *Interface) []outgoing {
	hello := e.buildHelloLocked(iface)
	if iface.Network != NBMA {
		return []outgoing{{iface.Name, AllSPFRouters, hello}}
	}
	var out []outgoing
	seen := make(map[netip.Addr]bool)
	for _, addr := range iface.solicit {
		if !seen[addr] {
			seen[addr] = true
			out = append(out, outgoing{iface.Name, addr, hello})
		}
	}
	for _, n := range iface.neighbors {
		if n.Addr.IsValid() && !seen[n.Addr] {
			seen[n.Addr] = true
			out = append(out, outgoing{iface.Name, n.Addr, hello})
		}
	}
	return out
}

// buildHelloLocked assembles the hello for an interface, listing
// every neighbor heard from recently.
func (e *Engine) buildHelloLocked(iface *Interface) *Hello {
	hello := &Hello{
		header: header{
			Src:      iface.Addr,
			RouterID: e.routerID,
			AreaID:   iface.Area,
		},
		Mask:          iface.Mask,
		HelloInterval: iface.HelloInterval,
		DeadInterval:  iface.DeadInterval,
		Priority:      iface.Priority,
		DR:            iface.DR,
		BDR:           iface.BDR,
	}
	for id, n := range iface.neighbors {
		if n.State >= Init && id.IsValid() {
			hello.Neighbors = append(hello.Neighbors, id)
		}
	}
	return hello
}

// originateRouterLSALocked rebuilds this router's LSA from its
// active interfaces and installs it in the database.
func (e *Engine) originateRouterLSALocked() {
	lsa := &RouterLSA{
		Header: LSAHeader{
			Type:        LSTypeRouter,
			LinkStateID: e.routerID,
			AdvRouter:   e.routerID,
			SeqNumber:   e.lsaSeq,
		},
	}
	e.lsaSeq++
	for _, iface := range e.ifaces {
		network := iface.Mask.Prefix(iface.Addr).Addr()
		lsa.Links = append(lsa.Links, Link{
			Type:   LinkStub,
			ID:     network,
			Data:   iface.Mask,
			Metric: iface.Cost,
		})
		for id, n := range iface.neighbors {
			if n.State == Full && id.IsValid() {
				lsa.Links = append(lsa.Links, Link{
					Type:   LinkPointToPoint,
					ID:     id,
					Data:   iface.Mask,
					Metric: iface.Cost,
				})
			}
		}
	}
	lsa.Header.Checksum = lsaFingerprint(lsa)
	e.lsdb[lsa.Header.key()] = lsa
}

// lsaFingerprint derives a cheap content checksum standing in
// for the fletcher checksum of the wire encoding.
func lsaFingerprint(lsa *RouterLSA) uint16 {
	var sum uint32
	sum += uint32(lsa.Header.SeqNumber & 0xffff)
	for _, link := range lsa.Links {
		sum += uint32(link.Metric) + uint32(link.Type)
		if link.ID.Is4() {
			a4 := link.ID.As4()
			sum += uint32(a4[2])<<8 + uint32(a4[3])
		}
	}
	return uint16(sum&0xffff) | 1
}

// summaryLocked snapshots the database headers for a DD exchange.
func (e *Engine) summaryLocked() []LSAHeader {
	var headers []LSAHeader
	for _, lsa := range e.lsdb {
		headers = append(headers, lsa.Header)
	}
	return headers
}
