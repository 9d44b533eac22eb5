// SPDX-License-Identifier: GPL-3.0-or-later

//
// TCP segment and UDP datagram models.
//

package packet

import "strings"

// TCPFlags is a set of TCP flags.
type TCPFlags uint8

const (
	// TCPFlagFIN is the FIN flag.
	TCPFlagFIN TCPFlags = 1

	// TCPFlagSYN is the SYN flag.
	TCPFlagSYN TCPFlags = 2

	// TCPFlagRST is the RST flag.
	TCPFlagRST TCPFlags = 4

	// TCPFlagPSH is the PSH flag.
	TCPFlagPSH TCPFlags = 8

	// TCPFlagACK is the ACK flag.
	TCPFlagACK TCPFlags = 16
)

// String returns the string representation of the TCP flags.
func (flags TCPFlags) String() string {
	var builder strings.Builder
	for _, entry := range []struct {
		flag TCPFlags
		char string
	}{
		{TCPFlagFIN, "F"},
		{TCPFlagSYN, "S"},
		{TCPFlagRST, "R"},
		{TCPFlagPSH, "P"},
		{TCPFlagACK, "A"},
	} {
		if flags&entry.flag != 0 {
			builder.WriteString(entry.char)
		} else {
			builder.WriteString(".")
		}
	}
	return builder.String()
}

// TCPSegment is a TCP segment.
type TCPSegment struct {
	// SrcPort is the source port.
	SrcPort uint16

	// DstPort is the destination port.
	DstPort uint16

	// Flags is the TCP flags.
	Flags TCPFlags

	// Data is the segment data.
	Data []byte
}

const tcpHeaderBytes = 20

// Len implements [Payload].
func (seg *TCPSegment) Len() int {
	return tcpHeaderBytes + len(seg.Data)
}

// Established returns whether the segment belongs to an already
// established connection, which is how extended access lists
// interpret the ACK and RST bits.
func (seg *TCPSegment) Established() bool {
	return seg.Flags&(TCPFlagACK|TCPFlagRST) != 0
}

// UDPDatagram is a UDP datagram.
type UDPDatagram struct {
	// SrcPort is the source port.
	SrcPort uint16

	// DstPort is the destination port.
	DstPort uint16

	// Data is the datagram data.
	Data []byte
}

const udpHeaderBytes = 8

// Len implements [Payload].
func (dgram *UDPDatagram) Len() int {
	return udpHeaderBytes + len(dgram.Data)
}
