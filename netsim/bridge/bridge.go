// SPDX-License-Identifier: GPL-3.0-or-later

// Package bridge implements a MAC-learning Ethernet switch with
// per-port VLAN membership.
package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/packet"
)

// DefaultAgeTimeout is how long a learned MAC entry survives
// without being refreshed.
const DefaultAgeTimeout = 300 * time.Second

// TableEntry is a learned MAC table entry.
type TableEntry struct {
	// MAC is the learned hardware address.
	MAC packet.MACAddr

	// VLAN is the VLAN the address was learned in.
	VLAN uint16

	// Port is the port the address was learned on.
	Port int

	// LastSeen is when the entry was last refreshed.
	LastSeen time.Time
}

// tableKey identifies a MAC table entry.
type tableKey struct {
	mac  packet.MACAddr
	vlan uint16
}

// port is the per-port switch state.
type port struct {
	tx      packet.FrameTransmitter
	vlan    uint16
	enabled bool
}

// Switch is a learning Ethernet switch.
//
// The zero value is not ready to use; construct using [New].
//
// A [*Switch] is safe for concurrent use by multiple goroutines.
type Switch struct {
	// Logger optionally emits structured events.
	Logger *slog.Logger

	// name is the device name.
	name string

	// clk tells the time for entry aging.
	clk clock.Clock

	// ageTimeout is the MAC entry lifetime.
	ageTimeout time.Duration

	// mu protects the fields below.
	mu sync.Mutex

	// ports maps port numbers to per-port state.
	ports map[int]*port

	// table is the learned MAC table.
	table map[tableKey]*TableEntry

	// onForward optionally observes forwarded frames.
	onForward func(egress int, frm *packet.Frame)
}

// New creates a [*Switch] with the given name using the given clock.
func New(name string, clk clock.Clock) *Switch {
	return &Switch{
		name:       name,
		clk:        clk,
		ageTimeout: DefaultAgeTimeout,
		ports:      make(map[int]*port),
		table:      make(map[tableKey]*TableEntry),
	}
}

// Name returns the device name.
func (sw *Switch) Name() string {
	return sw.name
}

// AttachLink attaches the transmitting end of a cable to the given
// port, which joins VLAN 1 and is enabled by default.
func (sw *Switch) AttachLink(portnum int, tx packet.FrameTransmitter) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.ports[portnum] = &port{tx: tx, vlan: 1, enabled: true}
}

// SetPortVLAN assigns the port to the given VLAN.
func (sw *Switch) SetPortVLAN(portnum int, vlan uint16) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if p := sw.ports[portnum]; p != nil {
		p.vlan = vlan
	}
}

// SetPortEnabled enables or disables the port. Disabling a port
// purges the MAC entries learned on it.
func (sw *Switch) SetPortEnabled(portnum int, enabled bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	p := sw.ports[portnum]
	if p == nil {
		return
	}
	p.enabled = enabled
	if !enabled {
		for key, entry := range sw.table {
			if entry.Port == portnum {
				delete(sw.table, key)
			}
		}
	}
}

// OnFrameForward installs a callback observing every frame the
// switch forwards or floods, with the egress port.
func (sw *Switch) OnFrameForward(cb func(egress int, frm *packet.Frame)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.onForward = cb
}

// MACTable returns a snapshot of the learned MAC table. Entries
// that outlived the age timeout are purged, never reported.
func (sw *Switch) MACTable() []TableEntry {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := sw.clk.Now()
	out := make([]TableEntry, 0, len(sw.table))
	for key, entry := range sw.table {
		if now.Sub(entry.LastSeen) > sw.ageTimeout {
			delete(sw.table, key)
			continue
		}
		out = append(out, *entry)
	}
	return out
}

// ClearMACTable forgets every learned entry.
func (sw *Switch) ClearMACTable() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.table = make(map[tableKey]*TableEntry)
}

var _ packet.FrameSink = &Switch{}

// ReceiveFrame implements [packet.FrameSink]. It learns the source
// address and then forwards, floods, or drops the frame.
func (sw *Switch) ReceiveFrame(ingress int, frm *packet.Frame) {
	sw.mu.Lock()

	in := sw.ports[ingress]
	if in == nil || !in.enabled {
		sw.mu.Unlock()
		return
	}
	now := sw.clk.Now()

	// Learn or refresh the sender, unicast sources only.
	if frm.SrcMAC.IsUnicast() {
		key := tableKey{mac: frm.SrcMAC, vlan: in.vlan}
		sw.table[key] = &TableEntry{
			MAC:      frm.SrcMAC,
			VLAN:     in.vlan,
			Port:     ingress,
			LastSeen: now,
		}
	}

	// Decide where the frame goes.
	var egress []int
	if entry, ok := sw.lookupLocked(frm.DstMAC, in.vlan, now); ok && frm.DstMAC.IsUnicast() {
		out := sw.ports[entry.Port]
		if entry.Port != ingress && out != nil && out.enabled && out.vlan == in.vlan {
			egress = append(egress, entry.Port)
		}
	} else {
		// Broadcast, multicast, or unknown unicast: flood the
		// ingress VLAN except the ingress port.
		for num, out := range sw.ports {
			if num != ingress && out.enabled && out.vlan == in.vlan {
				egress = append(egress, num)
			}
		}
	}

	onForward := sw.onForward
	targets := make([]packet.FrameTransmitter, 0, len(egress))
	for _, num := range egress {
		targets = append(targets, sw.ports[num].tx)
	}
	sw.mu.Unlock()

	for idx, tx := range targets {
		if onForward != nil {
			onForward(egress[idx], frm)
		}
		if err := tx.Transmit(frm); err != nil && sw.Logger != nil {
			sw.Logger.Warn("frame not forwarded",
				slog.String("device", sw.name),
				slog.Int("port", egress[idx]),
				slog.Any("err", err))
		}
	}
}

// lookupLocked finds a live MAC table entry, expiring it when it
// has outlived the age timeout.
func (sw *Switch) lookupLocked(mac packet.MACAddr, vlan uint16, now time.Time) (*TableEntry, bool) {
	key := tableKey{mac: mac, vlan: vlan}
	entry, ok := sw.table[key]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.LastSeen) > sw.ageTimeout {
		delete(sw.table, key)
		return nil, false
	}
	return entry, true
}

// SetAgeTimeout overrides the MAC table age timeout.
func (sw *Switch) SetAgeTimeout(d time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.ageTimeout = d
}
