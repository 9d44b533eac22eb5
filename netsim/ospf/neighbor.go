// SPDX-License-Identifier: GPL-3.0-or-later

package ospf

import (
	"net/netip"
	"time"

	"github.com/rbmk-project/netlab/netsim/clock"
)

// State is an OSPF neighbor state.
type State int

const (
	// Down means no Hello has been heard recently.
	Down State = iota

	// Attempt means we are soliciting a statically configured
	// NBMA neighbor that has not answered yet.
	Attempt

	// Init means we heard the neighbor but it has not listed us
	// in its Hello yet.
	Init

	// TwoWay means communication is bidirectional but no
	// adjacency forms over this neighbor relationship.
	TwoWay

	// ExStart means the master/slave relationship and initial
	// DD sequence number are being negotiated.
	ExStart

	// Exchange means database description packets are flowing.
	Exchange

	// Loading means link state requests are outstanding.
	Loading

	// Full means the adjacency is complete.
	Full
)

// String returns the conventional state name.
func (s State) String() string {
	switch s {
	case Down:
		return "Down"
	case Attempt:
		return "Attempt"
	case Init:
		return "Init"
	case TwoWay:
		return "TwoWay"
	case ExStart:
		return "ExStart"
	case Exchange:
		return "Exchange"
	case Loading:
		return "Loading"
	case Full:
		return "Full"
	default:
		return "Unknown"
	}
}

// Neighbor is the conversation state with one neighboring router
// on one interface.
type Neighbor struct {
	// RouterID is the neighbor's router ID.
	RouterID netip.Addr

	// Addr is the neighbor's interface address.
	Addr netip.Addr

	// Priority is the neighbor's router priority.
	Priority uint8

	// State is the current neighbor state.
	State State

	// IsMaster tells whether the local router is the master of
	// this adjacency's database exchange.
	IsMaster bool

	// DDSeq is the current DD sequence number. The master owns
	// it; the slave mirrors the master's.
	DDSeq uint32

	// DR is the neighbor's idea of the designated router.
	DR netip.Addr

	// BDR is the neighbor's idea of the backup designated
	// router.
	BDR netip.Addr

	// Requests is the link state request list: LSAs the
	// neighbor has that we still need.
	Requests []LSRequestItem

	// Summary is the database summary list still to be
	// advertised to this neighbor in DD packets.
	Summary []LSAHeader

	// Retransmit is the link state retransmission list: LSAs
	// sent to the neighbor and not yet acknowledged.
	Retransmit []LSAHeader

	// summarySent tells whether we already advertised our
	// database summary to this neighbor.
	summarySent bool

	// peerDone tells whether the neighbor sent a DD packet with
	// the More bit clear.
	peerDone bool

	// lastDD is the last DD packet we sent, kept for slave-side
	// duplicate handling and master-side retransmission.
	lastDD *DatabaseDescription

	// deadline is when the inactivity timer fires.
	deadline time.Time

	// inactivity is the inactivity timer.
	inactivity clock.Timer

	// rxmt is the retransmission timer, armed while DD packets
	// or LS requests await acknowledgment.
	rxmt clock.Timer
}

// InactivityDeadline returns when the neighbor will be declared
// dead unless another Hello arrives.
func (n *Neighbor) InactivityDeadline() time.Time {
	return n.deadline
}

// clearLists empties the request, summary and retransmission
// lists, as prescribed on adjacency teardown and renegotiation.
func (n *Neighbor) clearLists() {
	n.Requests = nil
	n.Summary = nil
	n.Retransmit = nil
	n.summarySent = false
	n.peerDone = false
	n.lastDD = nil
}

// stopTimers disposes both per-neighbor timers.
func (n *Neighbor) stopTimers() {
	if n.inactivity != nil {
		n.inactivity.Stop()
		n.inactivity = nil
	}
	n.stopRxmt()
}

// stopRxmt disposes the retransmission timer.
func (n *Neighbor) stopRxmt() {
	if n.rxmt != nil {
		n.rxmt.Stop()
		n.rxmt = nil
	}
}
