// SPDX-License-Identifier: GPL-3.0-or-later

// Package router implements an IP forwarding device: routing
// table lookup, TTL handling, ICMP error synthesis, and ACL/NAT
// integration on the forwarding path.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/rbmk-project/netlab/netsim/acl"
	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/nat"
	"github.com/rbmk-project/netlab/netsim/packet"
	"github.com/rbmk-project/netlab/netsim/routing"
)

// DefaultTTL is the TTL of packets the router originates.
const DefaultTTL = 64

var (
	// errNoSuchInterface is returned for unknown interface names.
	errNoSuchInterface = errors.New("router: no such interface")

	// errNoNeighbor is returned when the next hop's MAC address
	// is unknown.
	errNoNeighbor = errors.New("router: no neighbor entry for next hop")
)

// InterfaceCounters are per-interface packet counters.
type InterfaceCounters struct {
	// In counts packets received.
	In uint64

	// Out counts packets transmitted.
	Out uint64

	// Drops counts packets dropped on this interface.
	Drops uint64
}

// Interface is one router interface.
type Interface struct {
	// Name is the interface name.
	Name string

	// Index is the port number links deliver on.
	Index int

	// Addr is the interface address.
	Addr netip.Addr

	// Mask is the interface subnet mask.
	Mask packet.Mask

	// MAC is the interface hardware address.
	MAC packet.MACAddr

	// Up tells whether the interface is administratively up.
	Up bool

	// Counters are the per-interface counters.
	Counters InterfaceCounters

	// tx transmits frames out of this interface.
	tx packet.FrameTransmitter
}

// Router is an IP forwarding device.
//
// The zero value is not ready to use; construct using [New].
//
// A [*Router] is safe for concurrent use by multiple goroutines.
type Router struct {
	// Logger optionally emits structured events.
	Logger *slog.Logger

	// name is the device name.
	name string

	// clk tells the time.
	clk clock.Clock

	// mu protects the fields below.
	mu sync.Mutex

	// ifaces maps interface names to interfaces.
	ifaces map[string]*Interface

	// byIndex maps port numbers to interfaces.
	byIndex map[int]*Interface

	// table is the routing table.
	table *routing.Table

	// acls filters the forwarding path.
	acls *acl.Engine

	// nat translates across inside/outside interfaces.
	nat *nat.Engine

	// neighbors maps next-hop addresses to MAC addresses; ARP
	// resolution proper is outside this device.
	neighbors map[netip.Addr]packet.MACAddr

	// localInput optionally receives packets addressed to the
	// router itself that the router does not answer by itself,
	// such as OSPF protocol packets.
	localInput func(ifname string, pkt *packet.IPv4)
}

// New creates a [*Router] with the given name using the given clock.
func New(name string, clk clock.Clock) *Router {
	acls := acl.NewEngine()
	return &Router{
		name:      name,
		clk:       clk,
		ifaces:    make(map[string]*Interface),
		byIndex:   make(map[int]*Interface),
		table:     routing.NewTable(),
		acls:      acls,
		nat:       nat.NewEngine(acls, clk),
		neighbors: make(map[netip.Addr]packet.MACAddr),
	}
}

// Name returns the device name.
func (r *Router) Name() string {
	return r.name
}

// ACL returns the router's ACL engine.
func (r *Router) ACL() *acl.Engine {
	return r.acls
}

// NAT returns the router's NAT engine.
func (r *Router) NAT() *nat.Engine {
	return r.nat
}

// RoutingTable returns the router's routing table.
func (r *Router) RoutingTable() *routing.Table {
	return r.table
}

// ConfigureInterface creates or reconfigures the named interface
// with the given address and mask, bringing it up and installing
// the connected route.
func (r *Router) ConfigureInterface(name string, addr netip.Addr, mask packet.Mask) *Interface {
	r.mu.Lock()
	defer r.mu.Unlock()

	iface := r.ifaces[name]
	if iface == nil {
		iface = &Interface{
			Name:  name,
			Index: len(r.ifaces),
			MAC:   deriveMAC(r.name, len(r.ifaces)),
		}
		r.ifaces[name] = iface
		r.byIndex[iface.Index] = iface
	}
	iface.Addr = addr
	iface.Mask = mask
	iface.Up = true

	r.table.Add(routing.Route{
		Prefix:    mask.Prefix(addr),
		Interface: name,
		Source:    routing.Connected,
	})
	return iface
}

// deriveMAC generates a stable locally-administered MAC address
// from the device name and interface index.
func deriveMAC(name string, index int) packet.MACAddr {
	mac := packet.MACAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(index)}
	for _, c := range name {
		mac[2] ^= byte(c)
		mac[3] += byte(c)
	}
	mac[4] = byte(len(name))
	return mac
}

// AttachLink attaches the transmitting end of a cable to the
// named interface.
func (r *Router) AttachLink(name string, tx packet.FrameTransmitter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface := r.ifaces[name]
	if iface == nil {
		return fmt.Errorf("%w: %s", errNoSuchInterface, name)
	}
	iface.tx = tx
	return nil
}

// SetInterfaceUp raises or lowers the named interface.
func (r *Router) SetInterfaceUp(name string, up bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface := r.ifaces[name]
	if iface == nil {
		return fmt.Errorf("%w: %s", errNoSuchInterface, name)
	}
	iface.Up = up
	return nil
}

// Interface returns the named interface.
func (r *Router) Interface(name string) (*Interface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface, ok := r.ifaces[name]
	return iface, ok
}

// AddStaticRoute installs a static route.
func (r *Router) AddStaticRoute(prefix netip.Prefix, nextHop netip.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface := r.egressForLocked(nextHop)
	if iface == nil {
		return fmt.Errorf("router: next hop %s is not on a connected network", nextHop)
	}
	r.table.Add(routing.Route{
		Prefix:    prefix,
		NextHop:   nextHop,
		Interface: iface.Name,
		Source:    routing.Static,
		Metric:    1,
	})
	return nil
}

// egressForLocked finds the connected interface covering addr.
func (r *Router) egressForLocked(addr netip.Addr) *Interface {
	for _, iface := range r.ifaces {
		if iface.Addr.IsValid() && iface.Mask.Contains(iface.Addr, addr) {
			return iface
		}
	}
	return nil
}

// AddNeighbor maps a next-hop address to its MAC address.
func (r *Router) AddNeighbor(addr netip.Addr, mac packet.MACAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.neighbors[addr] = mac
}

// SetLocalInput installs the consumer of locally-delivered
// packets the router does not answer itself.
func (r *Router) SetLocalInput(fn func(ifname string, pkt *packet.IPv4)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localInput = fn
}
