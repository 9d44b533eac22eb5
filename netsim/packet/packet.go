// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet contains the typed frame, packet, and segment
// structures exchanged by simulated devices, along with checksum
// computation and encapsulation builders.
//
// Values in this package are immutable by construction: header
// rewrites (NAT, TTL decrement) never mutate a packet in place but
// produce a transformed copy via the With* methods.
package packet

import "fmt"

// EtherType identifies the protocol carried by a [*Frame].
type EtherType uint16

const (
	// EtherTypeIPv4 is the IPv4 ether-type.
	EtherTypeIPv4 EtherType = 0x0800

	// EtherTypeARP is the ARP ether-type.
	EtherTypeARP EtherType = 0x0806
)

// String returns the string representation of the ether-type.
func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "ipv4"
	case EtherTypeARP:
		return "arp"
	default:
		return fmt.Sprintf("0x%04x", uint16(et))
	}
}

// IPProtocol is the protocol number of an IP packet.
type IPProtocol uint8

const (
	// IPProtocolICMP is the ICMP protocol number.
	IPProtocolICMP IPProtocol = 1

	// IPProtocolTCP is the TCP protocol number.
	IPProtocolTCP IPProtocol = 6

	// IPProtocolUDP is the UDP protocol number.
	IPProtocolUDP IPProtocol = 17

	// IPProtocolOSPF is the OSPF protocol number.
	IPProtocolOSPF IPProtocol = 89
)

// String returns the string representation of the IP protocol.
func (p IPProtocol) String() string {
	switch p {
	case IPProtocolICMP:
		return "icmp"
	case IPProtocolTCP:
		return "tcp"
	case IPProtocolUDP:
		return "udp"
	case IPProtocolOSPF:
		return "ospf"
	default:
		return fmt.Sprintf("proto-%d", uint8(p))
	}
}

// Frame is an Ethernet frame.
//
// A frame is created at the transmitting interface and consumed at
// the receiving interface; it is never rewritten in place.
type Frame struct {
	// SrcMAC is the source hardware address.
	SrcMAC MACAddr

	// DstMAC is the destination hardware address.
	DstMAC MACAddr

	// EtherType identifies the payload protocol.
	EtherType EtherType

	// VLAN is the 802.1Q VLAN tag, zero when untagged.
	VLAN uint16

	// Payload is the encapsulated packet: a [*IPv4] for
	// [EtherTypeIPv4], raw bytes otherwise.
	Payload any
}

// IPv4Payload returns the encapsulated [*IPv4] packet, if any.
func (frm *Frame) IPv4Payload() (*IPv4, bool) {
	pkt, ok := frm.Payload.(*IPv4)
	return pkt, ok
}

// String returns a short human-readable frame summary.
func (frm *Frame) String() string {
	return fmt.Sprintf("%s -> %s %s vlan=%d",
		frm.SrcMAC, frm.DstMAC, frm.EtherType, frm.VLAN)
}

// FrameSink consumes frames delivered by a link. Every simulated
// device (switch, router, host) implements this interface; the
// concrete device kind is resolved at construction time, never
// per-frame.
type FrameSink interface {
	// ReceiveFrame delivers frm on the given local port.
	ReceiveFrame(port int, frm *Frame)
}

// FrameTransmitter transmits frames towards the other end of a link.
type FrameTransmitter interface {
	// Transmit sends frm to the attached peer.
	Transmit(frm *Frame) error
}
