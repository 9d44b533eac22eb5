// SPDX-License-Identifier: GPL-3.0-or-later

// Package host implements an endpoint device: a single interface
// with an address, a default gateway, an echo responder, and a
// Ping operation.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/rbmk-project/netlab/netsim/packet"
)

// DefaultTTL is the TTL of packets the host originates.
const DefaultTTL = 64

// ErrTTLExceeded is returned when a ping dies in transit.
var ErrTTLExceeded = errors.New("host: time to live exceeded in transit")

// ICMPError is the error returned by [Host.Ping] when an
// intermediate device answered with an ICMP error message.
type ICMPError struct {
	// From is the device address that answered.
	From netip.Addr

	// Type is the ICMP message type.
	Type packet.ICMPType

	// Code is the ICMP message code.
	Code uint8
}

// Error implements error.
func (e *ICMPError) Error() string {
	return fmt.Sprintf("host: icmp type %d code %d from %s", e.Type, e.Code, e.From)
}

// Unwrap maps the ICMP message to the corresponding errno.
func (e *ICMPError) Unwrap() error {
	if e.Type == packet.ICMPTypeTimeExceeded {
		return ErrTTLExceeded
	}
	return EHOSTUNREACH
}

// PingResult is the outcome of a successful ping.
type PingResult struct {
	// From is the address that answered.
	From netip.Addr

	// TTL is the remaining TTL of the reply.
	TTL uint8

	// Seq is the echo sequence number.
	Seq uint16
}

// pingState tracks the ping in flight.
type pingState struct {
	id     uint16
	reply  *packet.IPv4
	icmpEr *packet.IPv4
}

// Host is an endpoint device.
//
// The zero value is not ready to use; construct using [New].
//
// A [*Host] is safe for concurrent use by multiple goroutines.
type Host struct {
	// Logger optionally emits structured events.
	Logger *slog.Logger

	// name is the device name.
	name string

	// addr is the host address.
	addr netip.Addr

	// mask is the host subnet mask.
	mask packet.Mask

	// mac is the host hardware address.
	mac packet.MACAddr

	// gateway is the default gateway address.
	gateway netip.Addr

	// mu protects the fields below.
	mu sync.Mutex

	// tx transmits frames towards the attached link.
	tx packet.FrameTransmitter

	// neighbors maps on-link addresses to MAC addresses.
	neighbors map[netip.Addr]packet.MACAddr

	// nextEchoID is the next echo identifier.
	nextEchoID uint16

	// pending is the ping in flight, if any.
	pending *pingState
}

// New creates a [*Host] with the given name, address and mask.
func New(name string, addr netip.Addr, mask packet.Mask) *Host {
	mac := packet.MACAddr{0x02, 0x00, 0x00, 0x00, 0x01, byte(len(name))}
	for _, c := range name {
		mac[3] ^= byte(c)
		mac[4] += byte(c)
	}
	return &Host{
		name:       name,
		addr:       addr,
		mask:       mask,
		mac:        mac,
		neighbors:  make(map[netip.Addr]packet.MACAddr),
		nextEchoID: 1,
	}
}

// Name returns the device name.
func (h *Host) Name() string {
	return h.name
}

// Addr returns the host address.
func (h *Host) Addr() netip.Addr {
	return h.addr
}

// MAC returns the host hardware address.
func (h *Host) MAC() packet.MACAddr {
	return h.mac
}

// SetGateway configures the default gateway.
func (h *Host) SetGateway(gw netip.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gateway = gw
}

// AttachLink attaches the transmitting end of a cable.
func (h *Host) AttachLink(tx packet.FrameTransmitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tx = tx
}

// AddNeighbor maps an on-link address to its MAC address.
func (h *Host) AddNeighbor(addr netip.Addr, mac packet.MACAddr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.neighbors[addr] = mac
}

// nextHopMAC resolves the MAC address for dst: the destination
// itself when on-link, the default gateway otherwise.
func (h *Host) nextHopMAC(dst netip.Addr) (packet.MACAddr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	nextHop := dst
	if !h.mask.Contains(h.addr, dst) {
		if !h.gateway.IsValid() {
			return packet.MACAddr{}, ENETUNREACH
		}
		nextHop = h.gateway
	}
	mac, ok := h.neighbors[nextHop]
	if !ok {
		return packet.MACAddr{}, EHOSTUNREACH
	}
	return mac, nil
}

// SendPacket transmits a packet originated by this host.
func (h *Host) SendPacket(pkt *packet.IPv4) error {
	mac, err := h.nextHopMAC(pkt.DstAddr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	tx := h.tx
	h.mu.Unlock()
	if tx == nil {
		return ENETDOWN
	}
	return tx.Transmit(packet.NewFrame(h.mac, mac, pkt))
}

// Ping sends an ICMP echo request with the given TTL and waits
// for the outcome. Delivery through the simulated topology is
// synchronous, so the reply, if any, has already arrived when the
// transmit call returns; there is nothing to sleep on.
func (h *Host) Ping(dst netip.Addr, ttl uint8) (*PingResult, error) {
	h.mu.Lock()
	id := h.nextEchoID
	h.nextEchoID++
	state := &pingState{id: id}
	h.pending = state
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.pending = nil
		h.mu.Unlock()
	}()

	req := packet.NewIPv4Packet(
		h.addr, dst, packet.IPProtocolICMP, ttl,
		packet.NewEchoRequest(id, 1, nil))
	if err := h.SendPacket(req); err != nil {
		return nil, err
	}

	h.mu.Lock()
	reply, icmpErr := state.reply, state.icmpEr
	h.mu.Unlock()

	switch {
	case reply != nil:
		msg := reply.Payload.(*packet.ICMP)
		return &PingResult{From: reply.SrcAddr, TTL: reply.TTL, Seq: msg.Seq}, nil
	case icmpErr != nil:
		msg := icmpErr.Payload.(*packet.ICMP)
		return nil, &ICMPError{From: icmpErr.SrcAddr, Type: msg.Type, Code: msg.Code}
	default:
		return nil, ETIMEDOUT
	}
}

var _ packet.FrameSink = &Host{}

// ReceiveFrame implements [packet.FrameSink].
func (h *Host) ReceiveFrame(port int, frm *packet.Frame) {
	if frm.DstMAC != h.mac && !frm.DstMAC.IsBroadcast() {
		return
	}
	pkt, ok := frm.IPv4Payload()
	if !ok {
		return
	}
	if !pkt.VerifyChecksum() {
		// corrupt, drop silently
		return
	}

	msg, ok := pkt.Payload.(*packet.ICMP)
	if !ok {
		return
	}

	switch msg.Type {
	case packet.ICMPTypeEchoRequest:
		if pkt.DstAddr == h.addr {
			h.answerEcho(pkt, msg)
		}

	case packet.ICMPTypeEchoReply:
		h.mu.Lock()
		if h.pending != nil && msg.ID == h.pending.id {
			h.pending.reply = pkt
		}
		h.mu.Unlock()

	case packet.ICMPTypeTimeExceeded, packet.ICMPTypeDestUnreachable:
		h.mu.Lock()
		if h.pending != nil {
			h.pending.icmpEr = pkt
		}
		h.mu.Unlock()
	}
}

// answerEcho replies to a ping addressed to this host.
func (h *Host) answerEcho(pkt *packet.IPv4, req *packet.ICMP) {
	reply := packet.NewIPv4Packet(
		h.addr, pkt.SrcAddr, packet.IPProtocolICMP,
		DefaultTTL, packet.NewEchoReply(req))
	if err := h.SendPacket(reply); err != nil && h.Logger != nil {
		h.Logger.Debug("echo reply not sent",
			slog.String("device", h.name),
			slog.Any("err", err))
	}
}
