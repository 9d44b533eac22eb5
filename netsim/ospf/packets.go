// SPDX-License-Identifier: GPL-3.0-or-later

package ospf

import (
	"net/netip"
	"strings"
	"time"

	"github.com/rbmk-project/netlab/netsim/packet"
)

// AllSPFRouters is the IPv4 multicast group every OSPF router
// listens on. Hellos are addressed to it.
var AllSPFRouters = netip.MustParseAddr("224.0.0.5")

// Packet adapts a [Message] to [packet.Payload] so that engines
// can exchange messages as the payload of protocol 89 IPv4
// packets. Messages are in-memory values without a wire rendering
// and contribute no payload bytes.
type Packet struct {
	// Msg is the carried message.
	Msg Message
}

var _ packet.Payload = &Packet{}

// Len implements [packet.Payload].
func (p *Packet) Len() int {
	return 0
}

// Message is an OSPF protocol message exchanged between engines.
type Message interface {
	// Source returns the address of the sending interface.
	Source() netip.Addr

	// Router returns the sender's router ID.
	Router() netip.Addr
}

// header is the part every message carries.
type header struct {
	// Src is the address of the sending interface.
	Src netip.Addr

	// RouterID is the sender's router ID.
	RouterID netip.Addr

	// AreaID is the area the sending interface belongs to.
	AreaID netip.Addr
}

// Source implements [Message].
func (h *header) Source() netip.Addr {
	return h.Src
}

// Router implements [Message].
func (h *header) Router() netip.Addr {
	return h.RouterID
}

// NewHello creates a [*Hello] with the given source address,
// router ID and area. The caller fills in the remaining fields.
func NewHello(src, routerID, areaID netip.Addr) *Hello {
	return &Hello{header: header{Src: src, RouterID: routerID, AreaID: areaID}}
}

// Hello is the OSPF Hello message.
type Hello struct {
	header

	// Mask is the sending interface's subnet mask.
	Mask packet.Mask

	// HelloInterval is the sender's hello interval.
	HelloInterval time.Duration

	// DeadInterval is the sender's dead interval.
	DeadInterval time.Duration

	// Priority is the sender's router priority.
	Priority uint8

	// DR is the sender's idea of the designated router.
	DR netip.Addr

	// BDR is the sender's idea of the backup designated router.
	BDR netip.Addr

	// Neighbors lists the router IDs the sender has recently
	// heard a Hello from on this network.
	Neighbors []netip.Addr
}

// DDFlags are the Database Description flag bits.
type DDFlags uint8

const (
	// FlagMS is set when the sender claims to be master.
	FlagMS DDFlags = 1 << 0

	// FlagMore is set when more Database Description packets
	// follow.
	FlagMore DDFlags = 1 << 1

	// FlagInit is set on the first Database Description packet
	// of a negotiation.
	FlagInit DDFlags = 1 << 2
)

// String returns the flags in the conventional I/M/MS notation.
func (f DDFlags) String() string {
	var parts []string
	if f&FlagInit != 0 {
		parts = append(parts, "I")
	}
	if f&FlagMore != 0 {
		parts = append(parts, "M")
	}
	if f&FlagMS != 0 {
		parts = append(parts, "MS")
	}
	if len(parts) <= 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// LSType identifies an LSA type.
type LSType uint8

const (
	// LSTypeRouter is a router LSA.
	LSTypeRouter LSType = 1

	// LSTypeNetwork is a network LSA.
	LSTypeNetwork LSType = 2
)

// LSAHeader is the sparse LSA summary advertised during database
// exchange.
type LSAHeader struct {
	// Age is the LSA age in seconds.
	Age uint16

	// Type is the LSA type.
	Type LSType

	// LinkStateID identifies the piece of the routing domain
	// the LSA describes.
	LinkStateID netip.Addr

	// AdvRouter is the router that originated the LSA.
	AdvRouter netip.Addr

	// SeqNumber is the LSA sequence number.
	SeqNumber uint32

	// Checksum is the LSA fletcher checksum.
	Checksum uint16
}

// key identifies the LSA instance independently of its freshness.
func (h *LSAHeader) key() lsKey {
	return lsKey{Type: h.Type, LinkStateID: h.LinkStateID, AdvRouter: h.AdvRouter}
}

// newerThan tells whether h describes a more recent LSA instance
// than other. Sequence number comparison decides; ties fall back
// to the checksum and then to the smaller age.
func (h *LSAHeader) newerThan(other *LSAHeader) bool {
	if h.SeqNumber != other.SeqNumber {
		return h.SeqNumber > other.SeqNumber
	}
	if h.Checksum != other.Checksum {
		return h.Checksum > other.Checksum
	}
	return h.Age < other.Age
}

// lsKey identifies an LSA in the link state database.
type lsKey struct {
	Type        LSType
	LinkStateID netip.Addr
	AdvRouter   netip.Addr
}

// NewDatabaseDescription creates a [*DatabaseDescription] with
// the given identity, flags and sequence number.
func NewDatabaseDescription(src, routerID, areaID netip.Addr,
	flags DDFlags, seq uint32) *DatabaseDescription {
	return &DatabaseDescription{
		header:    header{Src: src, RouterID: routerID, AreaID: areaID},
		Flags:     flags,
		SeqNumber: seq,
	}
}

// DatabaseDescription is the OSPF Database Description message.
type DatabaseDescription struct {
	header

	// Flags are the I/M/MS bits.
	Flags DDFlags

	// SeqNumber is the DD sequence number.
	SeqNumber uint32

	// Headers summarize a portion of the sender's link state
	// database.
	Headers []LSAHeader
}

// LSRequestItem identifies one requested LSA.
type LSRequestItem struct {
	// Type is the LSA type.
	Type LSType

	// LinkStateID identifies the LSA.
	LinkStateID netip.Addr

	// AdvRouter is the router that originated the LSA.
	AdvRouter netip.Addr
}

// key returns the database key for the requested LSA.
func (it LSRequestItem) key() lsKey {
	return lsKey{Type: it.Type, LinkStateID: it.LinkStateID, AdvRouter: it.AdvRouter}
}

// LSRequest is the OSPF Link State Request message.
type LSRequest struct {
	header

	// Items are the requested LSAs.
	Items []LSRequestItem
}

// LinkType identifies what a router LSA link describes.
type LinkType uint8

const (
	// LinkPointToPoint is a point-to-point connection to
	// another router.
	LinkPointToPoint LinkType = 1

	// LinkTransit is a connection to a transit network.
	LinkTransit LinkType = 2

	// LinkStub is a connection to a stub network.
	LinkStub LinkType = 3
)

// Link is one link inside a router LSA.
type Link struct {
	// Type tells what the link describes.
	Type LinkType

	// ID is the link identifier: the neighbor's router ID for
	// point-to-point links, the network address for stub links.
	ID netip.Addr

	// Data is the link data: the interface address for
	// point-to-point links, the network mask for stub links.
	Data packet.Mask

	// Metric is the cost of using this link.
	Metric uint16
}

// RouterLSA describes a router's active links within an area.
type RouterLSA struct {
	// Header is the LSA header.
	Header LSAHeader

	// Links are the router's links.
	Links []Link
}

// clone returns a deep copy so that installed LSAs never alias
// the sender's instance.
func (lsa *RouterLSA) clone() *RouterLSA {
	cp := &RouterLSA{Header: lsa.Header}
	cp.Links = append([]Link(nil), lsa.Links...)
	return cp
}

// LSUpdate is the OSPF Link State Update message.
type LSUpdate struct {
	header

	// LSAs are the advertised LSAs.
	LSAs []*RouterLSA
}

// LSAck is the OSPF Link State Acknowledgment message.
type LSAck struct {
	header

	// Headers acknowledge the received LSAs.
	Headers []LSAHeader
}
