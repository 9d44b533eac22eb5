// SPDX-License-Identifier: GPL-3.0-or-later

//
// Outbound and inbound translation paths.
//

package nat

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/rbmk-project/netlab/netsim/acl"
	"github.com/rbmk-project/netlab/netsim/packet"
)

// localPort extracts the inside-local port: the layer-4 source
// port, or the ICMP echo identifier.
func localPort(pkt *packet.IPv4) (uint16, bool) {
	if port, ok := pkt.SrcPort(); ok {
		return port, true
	}
	return pkt.ICMPID()
}

// rewriteSource rewrites the source address and, when port is
// meaningful, the source port or ICMP identifier. The input
// packet is never mutated.
func rewriteSource(pkt *packet.IPv4, addr netip.Addr, port uint16, withPort bool) *packet.IPv4 {
	out := pkt.WithSrcAddr(addr)
	if !withPort {
		return out
	}
	if _, ok := out.SrcPort(); ok {
		return out.WithSrcPort(port)
	}
	return out.WithICMPID(port)
}

// rewriteDestination is the inbound counterpart of rewriteSource.
func rewriteDestination(pkt *packet.IPv4, addr netip.Addr, port uint16, withPort bool) *packet.IPv4 {
	out := pkt.WithDstAddr(addr)
	if !withPort {
		return out
	}
	if _, ok := out.DstPort(); ok {
		return out.WithDstPort(port)
	}
	return out.WithICMPID(port)
}

// TranslateOutgoing translates a packet leaving through an
// outside interface after having entered on ingressIface. It
// returns the translated packet, or the original packet when no
// rule applies, or ok == false when a matching rule exists but
// the pool or port space is exhausted; in that case the caller
// drops the packet.
func (eng *Engine) TranslateOutgoing(ingressIface string, pkt *packet.IPv4) (*packet.IPv4, bool) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if !eng.inside[ingressIface] {
		return pkt, true
	}
	now := eng.clk.Now()

	// Static translations always win and never expire.
	if global, ok := eng.static[pkt.SrcAddr]; ok {
		eng.stats.Hits++
		return rewriteSource(pkt, global, 0, false), true
	}

	// Pool rules are evaluated in binding order; the first rule
	// whose access list permits the source applies.
	for _, rule := range eng.bindings {
		verdict := eng.acls.Evaluate(rule.aclID, &acl.Query{
			SrcAddr:  pkt.SrcAddr,
			DstAddr:  pkt.DstAddr,
			Protocol: pkt.Protocol,
		})
		if verdict != acl.Permit {
			continue
		}
		if rule.overload {
			return eng.translatePATLocked(rule, pkt, now)
		}
		return eng.translateDynamicLocked(rule, pkt, now)
	}

	return pkt, true
}

// translatePATLocked reuses or allocates a PAT translation.
func (eng *Engine) translatePATLocked(rule binding, pkt *packet.IPv4, now time.Time) (*packet.IPv4, bool) {
	port, ok := localPort(pkt)
	if !ok {
		// no ports to multiplex on, drop
		eng.stats.Misses++
		return nil, false
	}
	key := patKey{local: pkt.SrcAddr, port: port, proto: pkt.Protocol}
	tr := eng.byPAT[key]
	if tr == nil {
		global := rule.pool.Start
		allocated, ok := eng.allocatePortLocked(global, pkt.Protocol)
		if !ok {
			eng.stats.Misses++
			if eng.Logger != nil {
				eng.Logger.Warn("pat port space exhausted",
					slog.String("global", global.String()))
			}
			return nil, false
		}
		tr = &Translation{
			Type:         PAT,
			Protocol:     pkt.Protocol,
			InsideLocal:  pkt.SrcAddr,
			InsideGlobal: global,
			LocalPort:    port,
			GlobalPort:   allocated,
		}
		eng.byPAT[key] = tr
		eng.byGlobal[globalKey{global: global, port: allocated, proto: pkt.Protocol}] = tr
		eng.stats.TotalAllocated++
	}
	tr.LastUsed = now
	tr.Hits++
	eng.stats.Hits++
	return rewriteSource(pkt, tr.InsideGlobal, tr.GlobalPort, true), true
}

// allocatePortLocked returns the next free PAT port on the given
// global address. The cursor advances monotonically and wraps at
// the top of the range; the scan is bounded by the range size.
func (eng *Engine) allocatePortLocked(global netip.Addr, proto packet.IPProtocol) (uint16, bool) {
	const span = lastPATPort - firstPATPort + 1
	for range span {
		candidate := eng.cursor
		if eng.cursor == lastPATPort {
			eng.cursor = firstPATPort
		} else {
			eng.cursor++
		}
		key := globalKey{global: global, port: candidate, proto: proto}
		if _, taken := eng.byGlobal[key]; !taken {
			return candidate, true
		}
	}
	return 0, false
}

// translateDynamicLocked reuses or allocates a dynamic pool
// translation.
func (eng *Engine) translateDynamicLocked(rule binding, pkt *packet.IPv4, now time.Time) (*packet.IPv4, bool) {
	tr := eng.byLocal[pkt.SrcAddr]
	if tr == nil {
		global, ok := eng.allocatePoolAddrLocked(rule.pool)
		if !ok {
			eng.stats.Misses++
			if eng.Logger != nil {
				eng.Logger.Warn("nat pool exhausted",
					slog.String("pool", rule.pool.Name))
			}
			return nil, false
		}
		tr = &Translation{
			Type:         Dynamic,
			InsideLocal:  pkt.SrcAddr,
			InsideGlobal: global,
		}
		eng.byLocal[pkt.SrcAddr] = tr
		eng.byGlobal[globalKey{global: global}] = tr
		eng.stats.TotalAllocated++
	}
	tr.LastUsed = now
	tr.Hits++
	eng.stats.Hits++
	return rewriteSource(pkt, tr.InsideGlobal, 0, false), true
}

// allocatePoolAddrLocked scans the pool range for the first
// address not currently assigned.
func (eng *Engine) allocatePoolAddrLocked(pool *Pool) (netip.Addr, bool) {
	start := packet.AddrToUint32(pool.Start)
	end := packet.AddrToUint32(pool.End)
	for value := start; value <= end; value++ {
		candidate := packet.Uint32ToAddr(value)
		if _, taken := eng.byGlobal[globalKey{global: candidate}]; !taken {
			return candidate, true
		}
	}
	return netip.Addr{}, false
}

// TranslateIncoming reverses the translation for a packet
// arriving on an outside interface: the global destination (and
// port, for PAT) maps back to the original inside-local pair. It
// returns the original packet unchanged when no translation
// matches.
func (eng *Engine) TranslateIncoming(iface string, pkt *packet.IPv4) (*packet.IPv4, bool) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if !eng.outside[iface] {
		return pkt, true
	}
	now := eng.clk.Now()

	// Static first, mirroring the outbound path.
	if local, ok := eng.staticReverse[pkt.DstAddr]; ok {
		eng.stats.Hits++
		return rewriteDestination(pkt, local, 0, false), true
	}

	// PAT: match global destination address and port.
	if port, ok := dstPort(pkt); ok {
		key := globalKey{global: pkt.DstAddr, port: port, proto: pkt.Protocol}
		if tr := eng.byGlobal[key]; tr != nil {
			tr.LastUsed = now
			tr.Hits++
			eng.stats.Hits++
			return rewriteDestination(pkt, tr.InsideLocal, tr.LocalPort, true), true
		}
	}

	// Dynamic: match global destination address alone.
	if tr := eng.byGlobal[globalKey{global: pkt.DstAddr}]; tr != nil {
		tr.LastUsed = now
		tr.Hits++
		eng.stats.Hits++
		return rewriteDestination(pkt, tr.InsideLocal, 0, false), true
	}

	return pkt, true
}

// dstPort extracts the global destination port: the layer-4
// destination port, or the ICMP echo identifier.
func dstPort(pkt *packet.IPv4) (uint16, bool) {
	if port, ok := pkt.DstPort(); ok {
		return port, true
	}
	return pkt.ICMPID()
}

// Reap reclaims dynamic and PAT translations idle for at least
// the engine timeout. Static translations are exempt.
func (eng *Engine) Reap() {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	now := eng.clk.Now()

	for key, tr := range eng.byPAT {
		if now.Sub(tr.LastUsed) >= eng.Timeout {
			delete(eng.byPAT, key)
			delete(eng.byGlobal, globalKey{
				global: tr.InsideGlobal,
				port:   tr.GlobalPort,
				proto:  tr.Protocol,
			})
			eng.stats.Expired++
		}
	}
	for key, tr := range eng.byLocal {
		if now.Sub(tr.LastUsed) >= eng.Timeout {
			delete(eng.byLocal, key)
			delete(eng.byGlobal, globalKey{global: tr.InsideGlobal})
			eng.stats.Expired++
		}
	}
}

// StartReaper schedules periodic [Engine.Reap] calls on the
// engine clock. Call StopReaper to cancel.
func (eng *Engine) StartReaper(interval time.Duration) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.reaper != nil {
		return
	}
	var rearm func()
	rearm = func() {
		eng.Reap()
		eng.mu.Lock()
		if eng.reaper != nil {
			eng.reaper = eng.clk.AfterFunc(interval, rearm)
		}
		eng.mu.Unlock()
	}
	eng.reaper = eng.clk.AfterFunc(interval, rearm)
}

// StopReaper cancels the periodic reaper, if running.
func (eng *Engine) StopReaper() {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.reaper != nil {
		eng.reaper.Stop()
		eng.reaper = nil
	}
}

// ClearDynamic removes every dynamic and PAT translation.
func (eng *Engine) ClearDynamic() {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.byPAT = make(map[patKey]*Translation)
	eng.byLocal = make(map[netip.Addr]*Translation)
	eng.byGlobal = make(map[globalKey]*Translation)
}

// Translations returns a snapshot of the live translation table,
// static entries excluded.
func (eng *Engine) Translations() []Translation {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	out := make([]Translation, 0, len(eng.byPAT)+len(eng.byLocal))
	for _, tr := range eng.byPAT {
		out = append(out, *tr)
	}
	for _, tr := range eng.byLocal {
		out = append(out, *tr)
	}
	return out
}

// GetStatistics returns the aggregate counters.
func (eng *Engine) GetStatistics() Statistics {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	stats := eng.stats
	stats.Active = len(eng.byPAT) + len(eng.byLocal)
	return stats
}
