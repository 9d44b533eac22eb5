// SPDX-License-Identifier: GPL-3.0-or-later

//
// The forwarding path.
//
// Delivery is synchronous all the way through the topology, so
// nothing here holds the router mutex across a Transmit call: a
// transmitted packet may come back to this router within the
// same call chain.
//

package router

import (
	"log/slog"
	"net/netip"

	"github.com/rbmk-project/netlab/netsim/acl"
	"github.com/rbmk-project/netlab/netsim/packet"
)

var _ packet.FrameSink = &Router{}

// ReceiveFrame implements [packet.FrameSink].
func (r *Router) ReceiveFrame(port int, frm *packet.Frame) {
	r.mu.Lock()
	in := r.byIndex[port]
	if in == nil || !in.Up {
		r.mu.Unlock()
		return
	}
	in.Counters.In++
	r.mu.Unlock()

	pkt, ok := frm.IPv4Payload()
	if !ok {
		return
	}

	// A checksum mismatch means the packet is corrupt: drop it
	// silently, never raise.
	if !pkt.VerifyChecksum() {
		r.dropLocked(in, "checksum mismatch", pkt)
		return
	}

	r.forward(in, pkt)
}

// dropLocked counts and logs a dropped packet.
func (r *Router) dropLocked(in *Interface, reason string, pkt *packet.IPv4) {
	r.mu.Lock()
	in.Counters.Drops++
	r.mu.Unlock()
	if r.Logger != nil {
		r.Logger.Debug("packet dropped",
			slog.String("device", r.name),
			slog.String("iface", in.Name),
			slog.String("reason", reason),
			slog.String("packet", pkt.String()))
	}
}

// isLocalAddr tells whether addr belongs to one of the router's
// interfaces.
func (r *Router) isLocalAddr(addr netip.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, iface := range r.ifaces {
		if iface.Addr == addr {
			return true
		}
	}
	return false
}

// forward runs the forwarding path for a packet received on in.
func (r *Router) forward(in *Interface, pkt *packet.IPv4) {
	// 1. Packets addressed to the router itself or to a multicast
	// group go to the local control plane; forwarding ACLs never
	// filter them, and multicast is never forwarded.
	if pkt.DstAddr.IsMulticast() || r.isLocalAddr(pkt.DstAddr) {
		r.deliverLocal(in, pkt)
		return
	}

	// 2. Ingress ACL sees the packet before any translation.
	// Deny is a silent drop: a hit counter, no ICMP.
	if r.acls.CheckPacket(in.Name, acl.In, pkt) == acl.Deny {
		r.dropLocked(in, "ingress acl deny", pkt)
		return
	}

	// Inbound NAT: a packet entering through an outside
	// interface has its global destination mapped back before
	// the routing decision.
	pkt, _ = r.nat.TranslateIncoming(in.Name, pkt)

	// After inbound translation the destination may be the
	// router itself.
	if r.isLocalAddr(pkt.DstAddr) {
		r.deliverLocal(in, pkt)
		return
	}

	// 3. TTL: each hop decrements exactly once; expiry answers
	// with time-exceeded from this hop's ingress address.
	if pkt.TTL <= 1 {
		r.dropLocked(in, "ttl exceeded", pkt)
		r.sendICMPError(in, pkt, packet.NewTimeExceeded(pkt))
		return
	}
	pkt = pkt.WithTTL(pkt.TTL - 1)

	// 4. Routing table lookup: longest prefix, then metric.
	route, ok := r.table.Lookup(pkt.DstAddr)
	if !ok {
		r.dropLocked(in, "no route", pkt)
		r.sendICMPError(in, pkt, packet.NewDestUnreachable(packet.ICMPCodeNetUnreachable, pkt))
		return
	}
	out, haveOut := r.Interface(route.Interface)
	if !haveOut || !out.Up {
		r.dropLocked(in, "egress down", pkt)
		return
	}

	// 5. Outbound NAT across an inside-to-outside crossing. A
	// matching rule without a free address or port is a miss
	// and the packet is dropped.
	if r.nat.IsOutside(out.Name) {
		translated, ok := r.nat.TranslateOutgoing(in.Name, pkt)
		if !ok {
			r.dropLocked(in, "nat exhausted", pkt)
			return
		}
		pkt = translated
	}

	// 6. Egress ACL: deny is a silent drop.
	if r.acls.CheckPacket(out.Name, acl.Out, pkt) == acl.Deny {
		r.dropLocked(out, "egress acl deny", pkt)
		return
	}

	// 7. Re-encapsulate towards the next hop and transmit.
	nextHop := route.NextHop
	if !nextHop.IsValid() {
		nextHop = pkt.DstAddr
	}
	if err := r.transmit(out, nextHop, pkt); err != nil {
		r.dropLocked(out, err.Error(), pkt)
	}
}

// transmit wraps the packet in a fresh frame addressed to the
// next hop's MAC and sends it out the given interface.
func (r *Router) transmit(out *Interface, nextHop netip.Addr, pkt *packet.IPv4) error {
	r.mu.Lock()
	mac, haveMAC := r.neighbors[nextHop]
	tx := out.tx
	r.mu.Unlock()
	if nextHop.IsMulticast() {
		// group addresses resolve algorithmically, never through
		// the neighbor table
		mac, haveMAC = packet.MulticastMAC(nextHop), true
	}
	if !haveMAC {
		return errNoNeighbor
	}
	if tx == nil {
		return errNoSuchInterface
	}
	frm := packet.NewFrame(out.MAC, mac, pkt)
	if err := tx.Transmit(frm); err != nil {
		return err
	}
	r.mu.Lock()
	out.Counters.Out++
	r.mu.Unlock()
	return nil
}

// sendICMPError sends an ICMP error for the offending packet
// back towards its source, out the receiving interface, with the
// receiving interface's address as source and the router's own
// default TTL.
func (r *Router) sendICMPError(in *Interface, offending *packet.IPv4, msg *packet.ICMP) {
	reply := packet.NewIPv4Packet(
		in.Addr, offending.SrcAddr, packet.IPProtocolICMP, DefaultTTL, msg)

	// The error goes out the interface the offending packet
	// came in on; the next hop is the source itself when
	// on-link, or the route towards it otherwise.
	nextHop := offending.SrcAddr
	if !in.Mask.Contains(in.Addr, nextHop) {
		route, ok := r.table.Lookup(nextHop)
		if !ok {
			return
		}
		if route.NextHop.IsValid() {
			nextHop = route.NextHop
		}
	}
	if err := r.transmit(in, nextHop, reply); err != nil && r.Logger != nil {
		r.Logger.Debug("icmp error not sent",
			slog.String("device", r.name),
			slog.Any("err", err))
	}
}

// deliverLocal handles packets addressed to the router itself.
func (r *Router) deliverLocal(in *Interface, pkt *packet.IPv4) {
	switch payload := pkt.Payload.(type) {
	case *packet.ICMP:
		// never answer a ping addressed to a multicast group
		if payload.Type == packet.ICMPTypeEchoRequest && !pkt.DstAddr.IsMulticast() {
			r.answerEcho(in, pkt, payload)
			return
		}
	default:
	}

	r.mu.Lock()
	local := r.localInput
	r.mu.Unlock()
	if local != nil {
		local(in.Name, pkt)
	}
}

// answerEcho replies to a ping addressed to the router.
func (r *Router) answerEcho(in *Interface, pkt *packet.IPv4, req *packet.ICMP) {
	reply := packet.NewIPv4Packet(
		pkt.DstAddr, pkt.SrcAddr, packet.IPProtocolICMP,
		DefaultTTL, packet.NewEchoReply(req))

	nextHop := pkt.SrcAddr
	if !in.Mask.Contains(in.Addr, nextHop) {
		route, ok := r.table.Lookup(nextHop)
		if !ok {
			return
		}
		if route.NextHop.IsValid() {
			nextHop = route.NextHop
		}
	}
	if err := r.transmit(in, nextHop, reply); err != nil && r.Logger != nil {
		r.Logger.Debug("echo reply not sent",
			slog.String("device", r.name),
			slog.Any("err", err))
	}
}

// SendPacket originates a packet from this router, routing it
// like transit traffic but skipping ACL and NAT, which never
// apply to control-plane traffic.
func (r *Router) SendPacket(pkt *packet.IPv4) error {
	route, ok := r.table.Lookup(pkt.DstAddr)
	if !ok {
		return errNoNeighbor
	}
	out, haveOut := r.Interface(route.Interface)
	if !haveOut || !out.Up {
		return errNoSuchInterface
	}
	nextHop := route.NextHop
	if !nextHop.IsValid() {
		nextHop = pkt.DstAddr
	}
	return r.transmit(out, nextHop, pkt)
}

// SendPacketVia originates a packet from this router out of the
// named interface towards the given next hop, bypassing the
// routing table. Multicast control-plane traffic is link-scoped
// and must pick its interface this way.
func (r *Router) SendPacketVia(ifname string, nextHop netip.Addr, pkt *packet.IPv4) error {
	out, ok := r.Interface(ifname)
	if !ok || !out.Up {
		return errNoSuchInterface
	}
	return r.transmit(out, nextHop, pkt)
}
