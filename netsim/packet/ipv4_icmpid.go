// SPDX-License-Identifier: GPL-3.0-or-later

//
// ICMP identifier rewrite, used by PAT.
//

package packet

// ICMPID returns the ICMP echo identifier, if the payload is ICMP.
func (pkt *IPv4) ICMPID() (uint16, bool) {
	msg, ok := pkt.Payload.(*ICMP)
	if !ok {
		return 0, false
	}
	return msg.ID, true
}

// WithICMPID returns a copy whose ICMP payload carries the given
// echo identifier, with both checksums recomputed. Packets
// carrying other payloads are returned unchanged.
func (pkt *IPv4) WithICMPID(id uint16) *IPv4 {
	msg, ok := pkt.Payload.(*ICMP)
	if !ok {
		return pkt
	}
	cp := *msg
	cp.ID = id
	cp.Checksum = cp.ComputeChecksum()
	next := *pkt
	next.Payload = &cp
	return next.WithChecksum()
}
