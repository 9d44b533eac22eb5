// SPDX-License-Identifier: GPL-3.0-or-later

//
// ICMP message model.
//

package packet

import (
	"encoding/binary"
	"fmt"
)

// ICMPType is the ICMP message type.
type ICMPType uint8

const (
	// ICMPTypeEchoReply is the echo reply type.
	ICMPTypeEchoReply ICMPType = 0

	// ICMPTypeDestUnreachable is the destination unreachable type.
	ICMPTypeDestUnreachable ICMPType = 3

	// ICMPTypeEchoRequest is the echo request type.
	ICMPTypeEchoRequest ICMPType = 8

	// ICMPTypeTimeExceeded is the time exceeded type.
	ICMPTypeTimeExceeded ICMPType = 11
)

// String returns the string representation of the ICMP type.
func (t ICMPType) String() string {
	switch t {
	case ICMPTypeEchoReply:
		return "echo-reply"
	case ICMPTypeDestUnreachable:
		return "dest-unreachable"
	case ICMPTypeEchoRequest:
		return "echo-request"
	case ICMPTypeTimeExceeded:
		return "time-exceeded"
	default:
		return fmt.Sprintf("icmp-%d", uint8(t))
	}
}

// ICMP destination-unreachable codes.
const (
	// ICMPCodeNetUnreachable means no route matched.
	ICMPCodeNetUnreachable uint8 = 0

	// ICMPCodeHostUnreachable means the host did not answer.
	ICMPCodeHostUnreachable uint8 = 1
)

// ICMP is an ICMP message. It carries no addresses or TTL of its
// own; those live only on the enclosing [*IPv4] header.
type ICMP struct {
	// Type is the message type.
	Type ICMPType

	// Code qualifies the message type.
	Code uint8

	// Checksum is the checksum over the whole message.
	Checksum uint16

	// ID is the echo identifier (echo messages only).
	ID uint16

	// Seq is the echo sequence number (echo messages only).
	Seq uint16

	// Data is the message data: echo payload, or the leading
	// bytes of the offending packet for error messages.
	Data []byte
}

const icmpHeaderBytes = 8

// Len implements [Payload].
func (msg *ICMP) Len() int {
	return icmpHeaderBytes + len(msg.Data)
}

// marshal serializes the message with the checksum field set to
// the given value.
func (msg *ICMP) marshal(checksum uint16) []byte {
	buf := make([]byte, icmpHeaderBytes+len(msg.Data))
	buf[0] = uint8(msg.Type)
	buf[1] = msg.Code
	binary.BigEndian.PutUint16(buf[2:4], checksum)
	binary.BigEndian.PutUint16(buf[4:6], msg.ID)
	binary.BigEndian.PutUint16(buf[6:8], msg.Seq)
	copy(buf[icmpHeaderBytes:], msg.Data)
	return buf
}

// ComputeChecksum returns the Internet checksum over the whole
// message with the checksum field treated as zero.
func (msg *ICMP) ComputeChecksum() uint16 {
	return InternetChecksum(msg.marshal(0))
}

// VerifyChecksum recomputes the message checksum and compares it
// with the stored one.
func (msg *ICMP) VerifyChecksum() bool {
	return msg.Checksum == msg.ComputeChecksum()
}

// NewEchoRequest builds an echo request with a valid checksum.
func NewEchoRequest(id, seq uint16, data []byte) *ICMP {
	msg := &ICMP{Type: ICMPTypeEchoRequest, ID: id, Seq: seq, Data: data}
	msg.Checksum = msg.ComputeChecksum()
	return msg
}

// NewEchoReply builds the echo reply matching the given request.
func NewEchoReply(req *ICMP) *ICMP {
	msg := &ICMP{Type: ICMPTypeEchoReply, ID: req.ID, Seq: req.Seq, Data: req.Data}
	msg.Checksum = msg.ComputeChecksum()
	return msg
}

// NewTimeExceeded builds a time-exceeded message quoting the
// header of the offending packet.
func NewTimeExceeded(offending *IPv4) *ICMP {
	msg := &ICMP{Type: ICMPTypeTimeExceeded, Data: quoteHeader(offending)}
	msg.Checksum = msg.ComputeChecksum()
	return msg
}

// NewDestUnreachable builds a destination-unreachable message
// quoting the header of the offending packet.
func NewDestUnreachable(code uint8, offending *IPv4) *ICMP {
	msg := &ICMP{Type: ICMPTypeDestUnreachable, Code: code, Data: quoteHeader(offending)}
	msg.Checksum = msg.ComputeChecksum()
	return msg
}

// quoteHeader returns the offending packet's header bytes, which
// ICMP error messages carry so the source can match the error to
// the original flow.
func quoteHeader(offending *IPv4) []byte {
	hdr := offending.headerBytes(offending.Checksum)
	return hdr[:]
}
