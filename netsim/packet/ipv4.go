// SPDX-License-Identifier: GPL-3.0-or-later

//
// IPv4 packet model.
//

package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

const (
	// IPv4Version is the only IP version this model carries.
	IPv4Version = 4

	// IPv4HeaderWords is the header length in 32-bit words
	// (no options supported).
	IPv4HeaderWords = 5

	// IPv4HeaderBytes is the header length in bytes.
	IPv4HeaderBytes = IPv4HeaderWords * 4
)

// Payload is a layer-4 payload carried by an [*IPv4] packet.
type Payload interface {
	// Len returns the payload length in bytes.
	Len() int
}

// Raw is an opaque layer-4 payload.
type Raw []byte

// Len implements [Payload].
func (r Raw) Len() int {
	return len(r)
}

// IPv4 is an IPv4 packet.
//
// Treat an [*IPv4] as an immutable value: transforms such as
// [IPv4.WithTTL] return a new packet rather than mutating the
// receiver. The Checksum field is only valid if it was computed
// over the current header bytes; use [IPv4.VerifyChecksum] to
// detect stale checksums after a header rewrite.
type IPv4 struct {
	// Identification is the fragment identification field.
	Identification uint16

	// TTL is the remaining time to live.
	TTL uint8

	// Protocol is the layer-4 protocol number.
	Protocol IPProtocol

	// Checksum is the 16-bit one's-complement header checksum.
	Checksum uint16

	// SrcAddr is the source address.
	SrcAddr netip.Addr

	// DstAddr is the destination address.
	DstAddr netip.Addr

	// Payload is the layer-4 payload.
	Payload Payload
}

// TotalLength returns the total packet length in bytes.
func (pkt *IPv4) TotalLength() int {
	length := IPv4HeaderBytes
	if pkt.Payload != nil {
		length += pkt.Payload.Len()
	}
	return length
}

// headerBytes marshals the 20-byte header with the checksum
// field set to the given value.
func (pkt *IPv4) headerBytes(checksum uint16) [IPv4HeaderBytes]byte {
	var hdr [IPv4HeaderBytes]byte
	hdr[0] = IPv4Version<<4 | IPv4HeaderWords
	binary.BigEndian.PutUint16(hdr[2:4], uint16(pkt.TotalLength()))
	binary.BigEndian.PutUint16(hdr[4:6], pkt.Identification)
	hdr[8] = pkt.TTL
	hdr[9] = uint8(pkt.Protocol)
	binary.BigEndian.PutUint16(hdr[10:12], checksum)
	src, dst := pkt.SrcAddr.As4(), pkt.DstAddr.As4()
	copy(hdr[12:16], src[:])
	copy(hdr[16:20], dst[:])
	return hdr
}

// ComputeChecksum returns the Internet checksum of the header
// with the checksum field treated as zero. It does not modify
// the packet.
func (pkt *IPv4) ComputeChecksum() uint16 {
	hdr := pkt.headerBytes(0)
	return InternetChecksum(hdr[:])
}

// VerifyChecksum recomputes the header checksum and compares it
// with the stored one. It returns false on any mismatch, which
// includes every header rewrite not followed by [IPv4.WithChecksum].
func (pkt *IPv4) VerifyChecksum() bool {
	return pkt.Checksum == pkt.ComputeChecksum()
}

// WithChecksum returns a copy with a freshly computed checksum.
func (pkt *IPv4) WithChecksum() *IPv4 {
	next := *pkt
	next.Checksum = next.ComputeChecksum()
	return &next
}

// WithTTL returns a copy with the given TTL and a recomputed
// checksum.
func (pkt *IPv4) WithTTL(ttl uint8) *IPv4 {
	next := *pkt
	next.TTL = ttl
	return next.WithChecksum()
}

// WithSrcAddr returns a copy with the given source address and
// a recomputed checksum.
func (pkt *IPv4) WithSrcAddr(addr netip.Addr) *IPv4 {
	next := *pkt
	next.SrcAddr = addr
	return next.WithChecksum()
}

// WithDstAddr returns a copy with the given destination address
// and a recomputed checksum.
func (pkt *IPv4) WithDstAddr(addr netip.Addr) *IPv4 {
	next := *pkt
	next.DstAddr = addr
	return next.WithChecksum()
}

// WithSrcPort returns a copy whose TCP/UDP payload carries the
// given source port. Packets carrying other payloads are returned
// unchanged.
func (pkt *IPv4) WithSrcPort(port uint16) *IPv4 {
	next := *pkt
	switch seg := pkt.Payload.(type) {
	case *TCPSegment:
		cp := *seg
		cp.SrcPort = port
		next.Payload = &cp
	case *UDPDatagram:
		cp := *seg
		cp.SrcPort = port
		next.Payload = &cp
	}
	return next.WithChecksum()
}

// WithDstPort returns a copy whose TCP/UDP payload carries the
// given destination port. Packets carrying other payloads are
// returned unchanged.
func (pkt *IPv4) WithDstPort(port uint16) *IPv4 {
	next := *pkt
	switch seg := pkt.Payload.(type) {
	case *TCPSegment:
		cp := *seg
		cp.DstPort = port
		next.Payload = &cp
	case *UDPDatagram:
		cp := *seg
		cp.DstPort = port
		next.Payload = &cp
	}
	return next.WithChecksum()
}

// SrcPort returns the layer-4 source port, if the payload has one.
func (pkt *IPv4) SrcPort() (uint16, bool) {
	switch seg := pkt.Payload.(type) {
	case *TCPSegment:
		return seg.SrcPort, true
	case *UDPDatagram:
		return seg.SrcPort, true
	default:
		return 0, false
	}
}

// DstPort returns the layer-4 destination port, if the payload has one.
func (pkt *IPv4) DstPort() (uint16, bool) {
	switch seg := pkt.Payload.(type) {
	case *TCPSegment:
		return seg.DstPort, true
	case *UDPDatagram:
		return seg.DstPort, true
	default:
		return 0, false
	}
}

// String returns a short human-readable packet summary.
func (pkt *IPv4) String() string {
	return fmt.Sprintf("%s -> %s %s ttl=%d length=%d",
		pkt.SrcAddr, pkt.DstAddr, pkt.Protocol, pkt.TTL, pkt.TotalLength())
}

// NewIPv4Packet builds an [*IPv4] packet from the given layer-4
// payload, automatically computing the header checksum.
func NewIPv4Packet(src, dst netip.Addr, proto IPProtocol, ttl uint8, payload Payload) *IPv4 {
	pkt := &IPv4{
		TTL:      ttl,
		Protocol: proto,
		SrcAddr:  src,
		DstAddr:  dst,
		Payload:  payload,
	}
	return pkt.WithChecksum()
}

// NewFrame wraps an [*IPv4] packet in a fresh Ethernet frame.
func NewFrame(srcMAC, dstMAC MACAddr, pkt *IPv4) *Frame {
	return &Frame{
		SrcMAC:    srcMAC,
		DstMAC:    dstMAC,
		EtherType: EtherTypeIPv4,
		Payload:   pkt,
	}
}
