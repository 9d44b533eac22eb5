// SPDX-License-Identifier: GPL-3.0-or-later

//
// Address value types: MAC addresses and subnet/wildcard masks.
//

package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// MACAddr is a 48-bit Ethernet hardware address.
type MACAddr [6]byte

// BroadcastMAC is the all-ones broadcast address.
var BroadcastMAC = MACAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMACAddr parses a colon-separated hex MAC address.
func ParseMACAddr(s string) (MACAddr, error) {
	var mac MACAddr
	fields := strings.Split(s, ":")
	if len(fields) != 6 {
		return MACAddr{}, fmt.Errorf("packet: invalid MAC address: %s", s)
	}
	for idx, field := range fields {
		var b byte
		if _, err := fmt.Sscanf(field, "%02x", &b); err != nil {
			return MACAddr{}, fmt.Errorf("packet: invalid MAC address: %s", s)
		}
		mac[idx] = b
	}
	return mac, nil
}

// MustParseMACAddr is like [ParseMACAddr] but panics on error.
func MustParseMACAddr(s string) MACAddr {
	mac, err := ParseMACAddr(s)
	if err != nil {
		panic(err)
	}
	return mac
}

// String returns the colon-separated hex representation.
func (mac MACAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// IsBroadcast returns whether this is the broadcast address.
func (mac MACAddr) IsBroadcast() bool {
	return mac == BroadcastMAC
}

// IsMulticast returns whether the group bit is set.
func (mac MACAddr) IsMulticast() bool {
	return mac[0]&0x01 != 0
}

// IsUnicast returns whether this is a unicast address.
func (mac MACAddr) IsUnicast() bool {
	return !mac.IsMulticast()
}

// MulticastMAC maps an IPv4 multicast address to the group MAC
// address carrying it: the 01:00:5e prefix followed by the low 23
// bits of the group address, per RFC 1112.
func MulticastMAC(addr netip.Addr) MACAddr {
	a4 := addr.As4()
	return MACAddr{0x01, 0x00, 0x5e, a4[1] & 0x7f, a4[2], a4[3]}
}

// Mask is a 32-bit IPv4 subnet mask.
type Mask uint32

// ParseMask parses a dotted-quad subnet mask.
func ParseMask(s string) (Mask, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("packet: invalid mask: %s", s)
	}
	return Mask(AddrToUint32(addr)), nil
}

// MustParseMask is like [ParseMask] but panics on error.
func MustParseMask(s string) Mask {
	mask, err := ParseMask(s)
	if err != nil {
		panic(err)
	}
	return mask
}

// MaskFromBits returns the mask with the given prefix length.
func MaskFromBits(bits int) Mask {
	if bits <= 0 {
		return 0
	}
	if bits >= 32 {
		return Mask(^uint32(0))
	}
	return Mask(^uint32(0) << (32 - bits))
}

// String returns the dotted-quad representation.
func (m Mask) String() string {
	return Uint32ToAddr(uint32(m)).String()
}

// Wildcard returns the wildcard mask, the bitwise complement
// of the subnet mask.
func (m Mask) Wildcard() Mask {
	return Mask(^uint32(m))
}

// Bits returns the prefix length of a contiguous mask.
func (m Mask) Bits() int {
	bits := 0
	for probe := uint32(1) << 31; probe != 0 && uint32(m)&probe != 0; probe >>= 1 {
		bits++
	}
	return bits
}

// Contains returns whether addr falls inside network/mask.
func (m Mask) Contains(network, addr netip.Addr) bool {
	return (AddrToUint32(network)^AddrToUint32(addr))&uint32(m) == 0
}

// Prefix returns the [netip.Prefix] for the given address and mask.
func (m Mask) Prefix(addr netip.Addr) netip.Prefix {
	network := Uint32ToAddr(AddrToUint32(addr) & uint32(m))
	return netip.PrefixFrom(network, m.Bits())
}

// AddrToUint32 converts an IPv4 [netip.Addr] to its 32-bit value.
func AddrToUint32(addr netip.Addr) uint32 {
	raw := addr.As4()
	return binary.BigEndian.Uint32(raw[:])
}

// Uint32ToAddr converts a 32-bit value to an IPv4 [netip.Addr].
func Uint32ToAddr(value uint32) netip.Addr {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], value)
	return netip.AddrFrom4(raw)
}
