// SPDX-License-Identifier: GPL-3.0-or-later

// Package acl implements Cisco-style access control lists:
// standard and extended, numbered and named, with ordered-entry
// evaluation, wildcard-mask matching, and per-entry hit counters.
package acl

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"sync"

	"github.com/rbmk-project/netlab/netsim/packet"
)

// Action is the verdict of an access list entry.
type Action int

const (
	// Deny drops the packet.
	Deny Action = iota

	// Permit lets the packet through.
	Permit
)

// String returns the string representation of the action.
func (a Action) String() string {
	if a == Permit {
		return "permit"
	}
	return "deny"
}

// Direction is the direction an ACL is bound in.
type Direction int

const (
	// In filters packets entering an interface.
	In Direction = iota

	// Out filters packets leaving an interface.
	Out
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Proto selects the protocols an extended entry matches.
type Proto int

const (
	// ProtoIP matches every protocol.
	ProtoIP Proto = iota

	// ProtoICMP matches ICMP only.
	ProtoICMP

	// ProtoTCP matches TCP only.
	ProtoTCP

	// ProtoUDP matches UDP only.
	ProtoUDP
)

// String returns the string representation of the protocol match.
func (p Proto) String() string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return "ip"
	}
}

// matches reports whether the protocol match covers proto.
func (p Proto) matches(proto packet.IPProtocol) bool {
	switch p {
	case ProtoICMP:
		return proto == packet.IPProtocolICMP
	case ProtoTCP:
		return proto == packet.IPProtocolTCP
	case ProtoUDP:
		return proto == packet.IPProtocolUDP
	default:
		return true
	}
}

// AddrMatch matches an address against network plus wildcard mask.
type AddrMatch struct {
	// Network is the network address as a 32-bit value.
	Network uint32

	// Wildcard is the wildcard mask: bits set to one are
	// ignored during matching.
	Wildcard uint32
}

// MatchAny matches every address.
func MatchAny() AddrMatch {
	return AddrMatch{Wildcard: ^uint32(0)}
}

// MatchHost matches exactly the given address.
func MatchHost(addr netip.Addr) AddrMatch {
	return AddrMatch{Network: packet.AddrToUint32(addr)}
}

// MatchNet matches the given network with the given wildcard.
func MatchNet(network netip.Addr, wildcard packet.Mask) AddrMatch {
	return AddrMatch{
		Network:  packet.AddrToUint32(network),
		Wildcard: uint32(wildcard),
	}
}

// matches applies the wildcard test to addr.
func (m AddrMatch) matches(addr netip.Addr) bool {
	return (packet.AddrToUint32(addr)^m.Network)&^m.Wildcard == 0
}

// String returns the IOS-like rendering of the address match.
func (m AddrMatch) String() string {
	switch m.Wildcard {
	case ^uint32(0):
		return "any"
	case 0:
		return fmt.Sprintf("host %s", packet.Uint32ToAddr(m.Network))
	default:
		return fmt.Sprintf("%s %s",
			packet.Uint32ToAddr(m.Network), packet.Uint32ToAddr(m.Wildcard))
	}
}

// PortOp is a port match operator.
type PortOp int

const (
	// OpEq matches a single port.
	OpEq PortOp = iota

	// OpNeq matches every port but one.
	OpNeq

	// OpLt matches ports below the bound.
	OpLt

	// OpGt matches ports above the bound.
	OpGt

	// OpRange matches an inclusive port range.
	OpRange
)

// PortMatch matches a layer-4 port per operator.
type PortMatch struct {
	// Op is the match operator.
	Op PortOp

	// Low is the port, or the low end for [OpRange].
	Low uint16

	// High is the high end for [OpRange], unused otherwise.
	High uint16
}

// matches applies the operator to port.
func (m *PortMatch) matches(port uint16) bool {
	switch m.Op {
	case OpEq:
		return port == m.Low
	case OpNeq:
		return port != m.Low
	case OpLt:
		return port < m.Low
	case OpGt:
		return port > m.Low
	case OpRange:
		return port >= m.Low && port <= m.High
	default:
		return false
	}
}

// String returns the IOS-like rendering of the port match.
func (m *PortMatch) String() string {
	switch m.Op {
	case OpEq:
		return fmt.Sprintf("eq %d", m.Low)
	case OpNeq:
		return fmt.Sprintf("neq %d", m.Low)
	case OpLt:
		return fmt.Sprintf("lt %d", m.Low)
	case OpGt:
		return fmt.Sprintf("gt %d", m.Low)
	default:
		return fmt.Sprintf("range %d %d", m.Low, m.High)
	}
}

// Entry is a single access list entry.
type Entry struct {
	// Seq is the sequence number controlling evaluation order.
	// Zero means auto-assign the next multiple of ten.
	Seq int

	// Action is the entry verdict.
	Action Action

	// Protocol is the protocol match (extended lists only).
	Protocol Proto

	// Src matches the source address.
	Src AddrMatch

	// Dst matches the destination address (extended lists only).
	Dst AddrMatch

	// SrcPort optionally matches the source port.
	SrcPort *PortMatch

	// DstPort optionally matches the destination port.
	DstPort *PortMatch

	// Established restricts the entry to established TCP traffic.
	Established bool

	// Hits counts packets matched by this entry.
	Hits uint64
}

// String returns the IOS-like rendering of the entry.
func (e *Entry) String() string {
	out := fmt.Sprintf("%d %s %s %s", e.Seq, e.Action, e.Protocol, e.Src)
	if e.SrcPort != nil {
		out += " " + e.SrcPort.String()
	}
	out += " " + e.Dst.String()
	if e.DstPort != nil {
		out += " " + e.DstPort.String()
	}
	if e.Established {
		out += " established"
	}
	return out
}

// List is an access list: an ordered set of entries.
type List struct {
	// ID is the list identifier: a number rendered in decimal,
	// or a name.
	ID string

	// Extended tells whether this is an extended list.
	Extended bool

	// Entries are the entries in ascending sequence order.
	Entries []*Entry
}

// bindKey identifies an (interface, direction) binding slot.
type bindKey struct {
	iface string
	dir   Direction
}

// Engine owns access lists and their interface bindings.
//
// The zero value is not ready to use; construct using [NewEngine].
//
// An [*Engine] is safe for concurrent use by multiple goroutines.
type Engine struct {
	// Logger optionally emits structured events.
	Logger *slog.Logger

	// mu protects the fields below.
	mu sync.Mutex

	// lists maps identifiers to access lists.
	lists map[string]*List

	// bindings maps (interface, direction) to a list identifier.
	bindings map[bindKey]string
}

// NewEngine creates a new [*Engine].
func NewEngine() *Engine {
	return &Engine{
		lists:    make(map[string]*List),
		bindings: make(map[bindKey]string),
	}
}

// standardNumber tells whether number is in a standard ACL range.
func standardNumber(number int) bool {
	return (number >= 1 && number <= 99) || (number >= 1300 && number <= 1999)
}

// extendedNumber tells whether number is in an extended ACL range.
func extendedNumber(number int) bool {
	return (number >= 100 && number <= 199) || (number >= 2000 && number <= 2699)
}

// AddNumberedEntry appends an entry to the numbered list,
// creating the list on first use. The number decides whether the
// list is standard (1-99, 1300-1999) or extended (100-199,
// 2000-2699).
func (eng *Engine) AddNumberedEntry(number int, entry Entry) error {
	var extended bool
	switch {
	case standardNumber(number):
		extended = false
	case extendedNumber(number):
		extended = true
	default:
		return fmt.Errorf("acl: access list number out of range: %d", number)
	}
	return eng.addEntry(strconv.Itoa(number), extended, entry)
}

// AddNamedEntry appends an entry to the named list, creating the
// list on first use with the given kind.
func (eng *Engine) AddNamedEntry(name string, extended bool, entry Entry) error {
	return eng.addEntry(name, extended, entry)
}

// addEntry inserts the entry keeping ascending sequence order.
func (eng *Engine) addEntry(id string, extended bool, entry Entry) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	list := eng.lists[id]
	if list == nil {
		list = &List{ID: id, Extended: extended}
		eng.lists[id] = list
	}
	if list.Extended != extended {
		return fmt.Errorf("acl: list %s kind mismatch", id)
	}
	if !list.Extended {
		// a standard list matches the source address only
		entry.Dst = MatchAny()
		entry.Protocol = ProtoIP
		entry.SrcPort, entry.DstPort = nil, nil
		entry.Established = false
	}
	if entry.Seq == 0 {
		entry.Seq = 10
		if n := len(list.Entries); n > 0 {
			entry.Seq = list.Entries[n-1].Seq + 10
		}
	}

	inserted := &entry
	pos := len(list.Entries)
	for idx, existing := range list.Entries {
		if existing.Seq == inserted.Seq {
			return fmt.Errorf("acl: list %s already has sequence %d", id, inserted.Seq)
		}
		if existing.Seq > inserted.Seq {
			pos = idx
			break
		}
	}
	list.Entries = append(list.Entries, nil)
	copy(list.Entries[pos+1:], list.Entries[pos:])
	list.Entries[pos] = inserted
	return nil
}

// GetACL returns a snapshot of the list with the given identifier.
func (eng *Engine) GetACL(id string) (List, bool) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	list := eng.lists[id]
	if list == nil {
		return List{}, false
	}
	out := List{ID: list.ID, Extended: list.Extended}
	for _, entry := range list.Entries {
		cp := *entry
		out.Entries = append(out.Entries, &cp)
	}
	return out, true
}

// ResetCounters zeroes the hit counters of the given list.
func (eng *Engine) ResetCounters(id string) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if list := eng.lists[id]; list != nil {
		for _, entry := range list.Entries {
			entry.Hits = 0
		}
	}
}

// BindToInterface binds the list to (iface, dir). Binding is
// last-write-wins per (interface, direction) slot.
func (eng *Engine) BindToInterface(iface, id string, dir Direction) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.bindings[bindKey{iface: iface, dir: dir}] = id
}

// UnbindFromInterface removes the (iface, dir) binding, if any.
func (eng *Engine) UnbindFromInterface(iface string, dir Direction) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	delete(eng.bindings, bindKey{iface: iface, dir: dir})
}

// Binding returns the list bound to (iface, dir), if any.
func (eng *Engine) Binding(iface string, dir Direction) (string, bool) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	id, ok := eng.bindings[bindKey{iface: iface, dir: dir}]
	return id, ok
}

// Query is an evaluation request against one access list.
type Query struct {
	// SrcAddr is the packet source address.
	SrcAddr netip.Addr

	// DstAddr is the packet destination address.
	DstAddr netip.Addr

	// Protocol is the packet protocol.
	Protocol packet.IPProtocol

	// SrcPort is the layer-4 source port, when HasPorts.
	SrcPort uint16

	// DstPort is the layer-4 destination port, when HasPorts.
	DstPort uint16

	// HasPorts tells whether the ports are meaningful.
	HasPorts bool

	// Established tells whether the packet belongs to an
	// established TCP connection.
	Established bool
}

// Evaluate runs the query against the list with the given
// identifier. Entries are tried in ascending sequence order and
// the first match wins, incrementing its hit counter. No matching
// entry means the implicit deny. An identifier naming no list at
// all permits: it is the absence of the ACL, not an empty ACL,
// that permits.
func (eng *Engine) Evaluate(id string, q *Query) Action {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	list := eng.lists[id]
	if list == nil {
		return Permit
	}
	for _, entry := range list.Entries {
		if !entry.matchesLocked(q) {
			continue
		}
		entry.Hits++
		if eng.Logger != nil {
			eng.Logger.Debug("acl match",
				slog.String("list", id),
				slog.Int("seq", entry.Seq),
				slog.String("action", entry.Action.String()))
		}
		return entry.Action
	}
	return Deny
}

// CheckPacket evaluates the list bound to (iface, dir) against
// the packet. An unbound slot permits.
func (eng *Engine) CheckPacket(iface string, dir Direction, pkt *packet.IPv4) Action {
	id, ok := eng.Binding(iface, dir)
	if !ok {
		return Permit
	}
	q := &Query{
		SrcAddr:  pkt.SrcAddr,
		DstAddr:  pkt.DstAddr,
		Protocol: pkt.Protocol,
	}
	if srcPort, ok := pkt.SrcPort(); ok {
		dstPort, _ := pkt.DstPort()
		q.SrcPort, q.DstPort, q.HasPorts = srcPort, dstPort, true
	}
	if seg, ok := pkt.Payload.(*packet.TCPSegment); ok {
		q.Established = seg.Established()
	}
	return eng.Evaluate(id, q)
}

// matchesLocked applies the entry predicate to the query.
func (e *Entry) matchesLocked(q *Query) bool {
	if !e.Src.matches(q.SrcAddr) {
		return false
	}
	if !e.Protocol.matches(q.Protocol) {
		return false
	}
	if !e.Dst.matches(q.DstAddr) {
		return false
	}
	if e.SrcPort != nil && (!q.HasPorts || !e.SrcPort.matches(q.SrcPort)) {
		return false
	}
	if e.DstPort != nil && (!q.HasPorts || !e.DstPort.matches(q.DstPort)) {
		return false
	}
	if e.Established && !q.Established {
		return false
	}
	return true
}
