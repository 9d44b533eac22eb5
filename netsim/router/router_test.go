// SPDX-License-Identifier: GPL-3.0-or-later

package router_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/rbmk-project/netlab/netsim/acl"
	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/host"
	"github.com/rbmk-project/netlab/netsim/link"
	"github.com/rbmk-project/netlab/netsim/packet"
	"github.com/rbmk-project/netlab/netsim/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topology is two LANs joined by two routers over a transit link:
//
//	alice -- r1 -- r2 -- bob
//
// alice is 10.0.1.10/24 behind r1 (10.0.1.1), bob is 10.0.2.10/24
// behind r2 (10.0.2.1), and the transit network is 192.168.0.0/30.
type topology struct {
	alice, bob *host.Host
	r1, r2     *router.Router
	transit    *link.Cable
}

func newTopology(t *testing.T) *topology {
	t.Helper()
	clk := clock.NewManual(time.Now())
	mask24 := packet.MustParseMask("255.255.255.0")
	mask30 := packet.MustParseMask("255.255.255.252")

	alice := host.New("alice", netip.MustParseAddr("10.0.1.10"), mask24)
	bob := host.New("bob", netip.MustParseAddr("10.0.2.10"), mask24)
	r1 := router.New("r1", clk)
	r2 := router.New("r2", clk)

	r1eth0 := r1.ConfigureInterface("eth0", netip.MustParseAddr("10.0.1.1"), mask24)
	r1eth1 := r1.ConfigureInterface("eth1", netip.MustParseAddr("192.168.0.1"), mask30)
	r2eth0 := r2.ConfigureInterface("eth0", netip.MustParseAddr("192.168.0.2"), mask30)
	r2eth1 := r2.ConfigureInterface("eth1", netip.MustParseAddr("10.0.2.1"), mask24)

	left := link.New(alice, 0, r1, r1eth0.Index)
	transit := link.New(r1, r1eth1.Index, r2, r2eth0.Index)
	right := link.New(r2, r2eth1.Index, bob, 0)

	alice.AttachLink(left.EndA())
	require.NoError(t, r1.AttachLink("eth0", left.EndB()))
	require.NoError(t, r1.AttachLink("eth1", transit.EndA()))
	require.NoError(t, r2.AttachLink("eth0", transit.EndB()))
	require.NoError(t, r2.AttachLink("eth1", right.EndA()))
	bob.AttachLink(right.EndB())

	alice.SetGateway(r1eth0.Addr)
	alice.AddNeighbor(r1eth0.Addr, r1eth0.MAC)
	bob.SetGateway(r2eth1.Addr)
	bob.AddNeighbor(r2eth1.Addr, r2eth1.MAC)

	r1.AddNeighbor(alice.Addr(), alice.MAC())
	r1.AddNeighbor(r2eth0.Addr, r2eth0.MAC)
	r2.AddNeighbor(r1eth1.Addr, r1eth1.MAC)
	r2.AddNeighbor(bob.Addr(), bob.MAC())

	require.NoError(t, r1.AddStaticRoute(
		netip.MustParsePrefix("10.0.2.0/24"), r2eth0.Addr))
	require.NoError(t, r2.AddStaticRoute(
		netip.MustParsePrefix("10.0.1.0/24"), r1eth1.Addr))

	return &topology{alice: alice, bob: bob, r1: r1, r2: r2, transit: transit}
}

func TestRouterForwardsAcrossTwoHops(t *testing.T) {
	topo := newTopology(t)

	res, err := topo.alice.Ping(topo.bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, topo.bob.Addr(), res.From)

	// the reply crossed two routers, each decrementing once
	assert.Equal(t, uint8(host.DefaultTTL-2), res.TTL)
}

func TestRouterTTLDecrementOnPath(t *testing.T) {
	topo := newTopology(t)

	var transitTTL uint8
	topo.transit.Snoop(func(dir link.Direction, frm *packet.Frame) {
		if dir != link.AToB {
			return
		}
		if pkt, ok := frm.IPv4Payload(); ok && pkt.DstAddr == topo.bob.Addr() {
			transitTTL = pkt.TTL
			assert.True(t, pkt.VerifyChecksum())
		}
	})

	_, err := topo.alice.Ping(topo.bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, uint8(host.DefaultTTL-1), transitTTL)
}

func TestRouterTTLExpiry(t *testing.T) {
	topo := newTopology(t)

	_, err := topo.alice.Ping(topo.bob.Addr(), 1)
	require.ErrorIs(t, err, host.ErrTTLExceeded)

	// the error comes from the first hop's ingress address
	var icmpErr *host.ICMPError
	require.ErrorAs(t, err, &icmpErr)
	assert.Equal(t, netip.MustParseAddr("10.0.1.1"), icmpErr.From)
	assert.Equal(t, packet.ICMPTypeTimeExceeded, icmpErr.Type)

	// a second hop would be the second router
	_, err = topo.alice.Ping(topo.bob.Addr(), 2)
	require.ErrorAs(t, err, &icmpErr)
	assert.Equal(t, netip.MustParseAddr("192.168.0.2"), icmpErr.From)
}

func TestRouterNoRoute(t *testing.T) {
	topo := newTopology(t)

	_, err := topo.alice.Ping(netip.MustParseAddr("203.0.113.5"), host.DefaultTTL)
	require.ErrorIs(t, err, host.EHOSTUNREACH)

	var icmpErr *host.ICMPError
	require.ErrorAs(t, err, &icmpErr)
	assert.Equal(t, netip.MustParseAddr("10.0.1.1"), icmpErr.From)
	assert.Equal(t, packet.ICMPTypeDestUnreachable, icmpErr.Type)
}

func TestRouterIngressACLSilentDrop(t *testing.T) {
	topo := newTopology(t)

	require.NoError(t, topo.r1.ACL().AddNumberedEntry(100, acl.Entry{
		Action:   acl.Deny,
		Protocol: acl.ProtoICMP,
		Src:      acl.MatchHost(topo.alice.Addr()),
		Dst:      acl.MatchAny(),
	}))
	topo.r1.ACL().BindToInterface("eth0", "100", acl.In)

	// a deny is silent: no ICMP error, the ping just times out
	_, err := topo.alice.Ping(topo.bob.Addr(), host.DefaultTTL)
	assert.ErrorIs(t, err, host.ETIMEDOUT)

	list, ok := topo.r1.ACL().GetACL("100")
	require.True(t, ok)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, uint64(1), list.Entries[0].Hits)
}

func TestRouterEgressACLSilentDrop(t *testing.T) {
	topo := newTopology(t)

	require.NoError(t, topo.r1.ACL().AddNumberedEntry(101, acl.Entry{
		Action:   acl.Deny,
		Protocol: acl.ProtoIP,
		Src:      acl.MatchAny(),
		Dst:      acl.MatchHost(topo.bob.Addr()),
	}))
	topo.r1.ACL().BindToInterface("eth1", "101", acl.Out)

	_, err := topo.alice.Ping(topo.bob.Addr(), host.DefaultTTL)
	assert.ErrorIs(t, err, host.ETIMEDOUT)
}

func TestRouterLocalDeliveryBypassesACL(t *testing.T) {
	topo := newTopology(t)

	// deny everything inbound on eth0
	require.NoError(t, topo.r1.ACL().AddNumberedEntry(100, acl.Entry{
		Action:   acl.Deny,
		Protocol: acl.ProtoIP,
		Src:      acl.MatchAny(),
		Dst:      acl.MatchAny(),
	}))
	topo.r1.ACL().BindToInterface("eth0", "100", acl.In)

	// transit traffic is dropped
	_, err := topo.alice.Ping(topo.bob.Addr(), host.DefaultTTL)
	assert.ErrorIs(t, err, host.ETIMEDOUT)

	// but the router itself still answers
	res, err := topo.alice.Ping(netip.MustParseAddr("10.0.1.1"), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.1.1"), res.From)
}

func TestRouterPingFarInterface(t *testing.T) {
	topo := newTopology(t)

	// the far router's transit address is reachable through r1
	res, err := topo.alice.Ping(netip.MustParseAddr("192.168.0.2"), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.0.2"), res.From)
}

func TestRouterStaticNATOnPath(t *testing.T) {
	topo := newTopology(t)

	topo.r1.NAT().SetInsideInterface("eth0")
	topo.r1.NAT().SetOutsideInterface("eth1")
	global := netip.MustParseAddr("192.168.100.10")
	require.NoError(t, topo.r1.NAT().AddStaticNAT(topo.alice.Addr(), global))

	// the far side must route the global address back towards r1
	require.NoError(t, topo.r2.AddStaticRoute(
		netip.MustParsePrefix("192.168.100.0/24"),
		netip.MustParseAddr("192.168.0.1")))

	var transitSrc netip.Addr
	topo.transit.Snoop(func(dir link.Direction, frm *packet.Frame) {
		if dir != link.AToB {
			return
		}
		if pkt, ok := frm.IPv4Payload(); ok && pkt.DstAddr == topo.bob.Addr() {
			transitSrc = pkt.SrcAddr
			assert.True(t, pkt.VerifyChecksum())
		}
	})

	res, err := topo.alice.Ping(topo.bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, topo.bob.Addr(), res.From)

	// on the outside wire the source is the inside global address
	assert.Equal(t, global, transitSrc)

	stats := topo.r1.NAT().GetStatistics()
	assert.NotZero(t, stats.Hits)
}

func TestRouterPATOnPath(t *testing.T) {
	topo := newTopology(t)

	eng := topo.r1.NAT()
	eng.SetInsideInterface("eth0")
	eng.SetOutsideInterface("eth1")
	require.NoError(t, topo.r1.ACL().AddNumberedEntry(1, acl.Entry{
		Action: acl.Permit,
		Src: acl.MatchNet(
			netip.MustParseAddr("10.0.1.0"),
			packet.MustParseMask("255.255.255.0").Wildcard()),
	}))
	require.NoError(t, eng.AddPool("edge",
		netip.MustParseAddr("203.0.113.1"), netip.MustParseAddr("203.0.113.1")))
	require.NoError(t, eng.BindAccessList("1", "edge", true))

	// the far side must route the pool back towards r1
	require.NoError(t, topo.r2.AddStaticRoute(
		netip.MustParsePrefix("203.0.113.0/24"),
		netip.MustParseAddr("192.168.0.1")))

	res, err := topo.alice.Ping(topo.bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, topo.bob.Addr(), res.From)

	trs := eng.Translations()
	require.Len(t, trs, 1)
	assert.Equal(t, netip.MustParseAddr("203.0.113.1"), trs[0].InsideGlobal)
}

func TestRouterDropsCorruptTransit(t *testing.T) {
	topo := newTopology(t)

	pkt := packet.NewIPv4Packet(
		topo.alice.Addr(), topo.bob.Addr(), packet.IPProtocolICMP,
		host.DefaultTTL, packet.NewEchoRequest(1, 1, nil))
	pkt.TTL = 3 // checksum is stale now

	iface, ok := topo.r1.Interface("eth0")
	require.True(t, ok)
	topo.r1.ReceiveFrame(iface.Index, packet.NewFrame(
		topo.alice.MAC(), iface.MAC, pkt))

	iface, ok = topo.r1.Interface("eth0")
	require.True(t, ok)
	assert.Equal(t, uint64(1), iface.Counters.Drops)
	assert.Equal(t, uint64(1), iface.Counters.In)
}

func TestRouterInterfaceDown(t *testing.T) {
	topo := newTopology(t)

	require.NoError(t, topo.r1.SetInterfaceUp("eth0", false))
	_, err := topo.alice.Ping(topo.bob.Addr(), host.DefaultTTL)
	assert.ErrorIs(t, err, host.ETIMEDOUT)
}

func TestRouterControlPlaneMulticast(t *testing.T) {
	topo := newTopology(t)
	group := netip.MustParseAddr("224.0.0.5")

	var seen []*packet.IPv4
	topo.r2.SetLocalInput(func(ifname string, pkt *packet.IPv4) {
		assert.Equal(t, "eth0", ifname)
		seen = append(seen, pkt)
	})

	var dstMAC packet.MACAddr
	topo.transit.Snoop(func(dir link.Direction, frm *packet.Frame) {
		if dir == link.AToB {
			dstMAC = frm.DstMAC
		}
	})

	// originate out a chosen interface; the group address never
	// touches the neighbor table and maps to the group MAC
	pkt := packet.NewIPv4Packet(netip.MustParseAddr("192.168.0.1"),
		group, packet.IPProtocolOSPF, 1, packet.Raw("adjacency"))
	require.NoError(t, topo.r1.SendPacketVia("eth1", group, pkt))

	require.Len(t, seen, 1)
	assert.Equal(t, group, seen[0].DstAddr)
	assert.Equal(t,
		packet.MACAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0x05}, dstMAC)

	// unknown egress is an error, not a panic
	assert.Error(t, topo.r1.SendPacketVia("eth9", group, pkt))
}

func TestRouterDoesNotAnswerMulticastPing(t *testing.T) {
	topo := newTopology(t)
	group := netip.MustParseAddr("224.0.0.5")

	var replies int
	topo.transit.Snoop(func(dir link.Direction, frm *packet.Frame) {
		if dir == link.BToA {
			replies++
		}
	})

	pkt := packet.NewIPv4Packet(netip.MustParseAddr("192.168.0.1"),
		group, packet.IPProtocolICMP, 1, packet.NewEchoRequest(7, 1, nil))
	require.NoError(t, topo.r1.SendPacketVia("eth1", group, pkt))
	assert.Zero(t, replies)
}
