// SPDX-License-Identifier: GPL-3.0-or-later

package ospf_test

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/ospf"
	"github.com/rbmk-project/netlab/netsim/packet"
	"github.com/rbmk-project/netlab/netsim/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	backbone = netip.MustParseAddr("0.0.0.0")
	idA      = netip.MustParseAddr("1.1.1.1")
	idB      = netip.MustParseAddr("2.2.2.2")
	addrA    = netip.MustParseAddr("192.168.1.1")
	addrB    = netip.MustParseAddr("192.168.1.2")
	mask30   = packet.MustParseMask("255.255.255.252")
	mask24   = packet.MustParseMask("255.255.255.0")
)

// wire joins two engines and can be cut to simulate link loss.
type wire struct {
	down bool
}

func (w *wire) connect(a, b *ospf.Engine, aIf, bIf string) {
	a.SetSender(func(ifname string, _ netip.Addr, msg ospf.Message) {
		if w.down || ifname != aIf {
			return
		}
		b.Deliver(bIf, msg)
	})
	b.SetSender(func(ifname string, _ netip.Addr, msg ospf.Message) {
		if w.down || ifname != bIf {
			return
		}
		a.Deliver(aIf, msg)
	})
}

// lab is a two-router point-to-point setup. Router B advertises
// an extra stub network behind it.
type lab struct {
	clk      *clock.Manual
	a, b     *ospf.Engine
	ta, tb   *routing.Table
	w        *wire
	stubNet  netip.Prefix
	stubAddr netip.Addr
}

func newLab(t *testing.T) *lab {
	t.Helper()
	l := &lab{
		clk:      clock.NewManual(time.Now()),
		ta:       routing.NewTable(),
		tb:       routing.NewTable(),
		w:        &wire{},
		stubNet:  netip.MustParsePrefix("10.0.2.0/24"),
		stubAddr: netip.MustParseAddr("10.0.2.1"),
	}
	l.a = ospf.New(idA, l.ta, l.clk)
	l.b = ospf.New(idB, l.tb, l.clk)
	l.w.connect(l.a, l.b, "eth0", "eth0")
	l.b.ActivateInterface("eth1", l.stubAddr, mask24, backbone, nil)
	l.a.ActivateInterface("eth0", addrA, mask30, backbone, nil)
	l.b.ActivateInterface("eth0", addrB, mask30, backbone, nil)

	// the first hello exchange drives the adjacency all the
	// way to Full because delivery is synchronous
	l.clk.Advance(ospf.DefaultHelloInterval)
	return l
}

// assertOrderedEvents checks that the wanted substrings appear in
// the event log in order.
func assertOrderedEvents(t *testing.T, events []string, wanted ...string) {
	t.Helper()
	idx := 0
	for _, want := range wanted {
		found := false
		for ; idx < len(events); idx++ {
			if strings.Contains(events[idx], want) {
				found = true
				idx++
				break
			}
		}
		require.True(t, found, "missing %q after position in %v", want, events)
	}
}

func TestAdjacencyReachesFull(t *testing.T) {
	l := newLab(t)

	na, ok := l.a.Neighbor("eth0", idB)
	require.True(t, ok)
	nb, ok := l.b.Neighbor("eth0", idA)
	require.True(t, ok)

	assert.Equal(t, ospf.Full, na.State)
	assert.Equal(t, ospf.Full, nb.State)

	// the higher router ID drives the exchange: 1.1.1.1 is
	// slave, 2.2.2.2 is master
	assert.False(t, na.IsMaster)
	assert.True(t, nb.IsMaster)
}

func TestAdjacencyEventLog(t *testing.T) {
	l := newLab(t)

	for _, events := range [][]string{l.a.Events(), l.b.Events()} {
		assertOrderedEvents(t, events,
			"Down -> Init",
			"Init -> ExStart",
			"ExStart -> Exchange",
			"-> Full")
	}
}

func TestRoutesInstalledOnFull(t *testing.T) {
	l := newLab(t)

	route, ok := l.ta.Lookup(netip.MustParseAddr("10.0.2.55"))
	require.True(t, ok)
	assert.Equal(t, l.stubNet, route.Prefix)
	assert.Equal(t, routing.OSPF, route.Source)
	assert.Equal(t, addrB, route.NextHop)
	assert.Equal(t, "eth0", route.Interface)
}

func TestInactivityTimeoutRemovesNeighbor(t *testing.T) {
	l := newLab(t)

	// cut the link; hellos stop flowing and the dead interval
	// runs out
	l.w.down = true
	l.clk.Advance(4*ospf.DefaultHelloInterval + time.Second)

	_, ok := l.a.Neighbor("eth0", idB)
	assert.False(t, ok)
	_, ok = l.b.Neighbor("eth0", idA)
	assert.False(t, ok)
	assertOrderedEvents(t, l.a.Events(), "Full -> Down")

	// the learned routes are withdrawn with the adjacency
	_, ok = l.ta.Lookup(netip.MustParseAddr("10.0.2.55"))
	assert.False(t, ok)

	// later timer fires must not resurrect the neighbor
	l.clk.Advance(4 * ospf.DefaultHelloInterval)
	_, ok = l.a.Neighbor("eth0", idB)
	assert.False(t, ok)
}

func TestNeighborPurgedOnlyAfterDeadInterval(t *testing.T) {
	l := newLab(t)

	l.w.down = true
	l.clk.Advance(4*ospf.DefaultHelloInterval - 2*time.Second)

	// one second short of the dead interval: still there
	n, ok := l.a.Neighbor("eth0", idB)
	require.True(t, ok)
	assert.Equal(t, ospf.Full, n.State)

	l.clk.Advance(3 * time.Second)
	_, ok = l.a.Neighbor("eth0", idB)
	assert.False(t, ok)
}

func TestSeqNumberMismatchRestartsExchange(t *testing.T) {
	l := newLab(t)

	// a DD packet with a sequence number the master never used
	// desynchronizes the adjacency
	bogus := ospf.NewDatabaseDescription(addrA, idA, backbone, 0, 0xdead)
	l.b.ProcessDD("eth0", bogus)

	assertOrderedEvents(t, l.b.Events(), "Full -> ExStart")

	// retransmission of the negotiation packet repairs the
	// adjacency without outside help
	l.clk.Advance(ospf.DefaultRxmtInterval)
	na, ok := l.a.Neighbor("eth0", idB)
	require.True(t, ok)
	nb, ok := l.b.Neighbor("eth0", idA)
	require.True(t, ok)
	assert.Equal(t, ospf.Full, na.State)
	assert.Equal(t, ospf.Full, nb.State)
}

func TestRetransmissionUntilDelivered(t *testing.T) {
	clk := clock.NewManual(time.Now())
	eng := ospf.New(idB, routing.NewTable(), clk)

	// count DD transmissions while delivering nothing
	var ddSent int
	eng.SetSender(func(ifname string, _ netip.Addr, msg ospf.Message) {
		if _, ok := msg.(*ospf.DatabaseDescription); ok {
			ddSent++
		}
	})
	eng.ActivateInterface("eth0", addrB, mask30, backbone, nil)

	// a hello listing us drives the neighbor into ExStart
	hello := ospf.NewHello(addrA, idA, backbone)
	hello.Mask = mask30
	hello.Priority = ospf.DefaultPriority
	hello.Neighbors = []netip.Addr{idB}
	eng.ProcessHello("eth0", hello)

	n, ok := eng.Neighbor("eth0", idA)
	require.True(t, ok)
	require.Equal(t, ospf.ExStart, n.State)
	require.Equal(t, 1, ddSent)

	// the unanswered negotiation packet is retransmitted every
	// interval
	clk.Advance(2 * ospf.DefaultRxmtInterval)
	assert.Equal(t, 3, ddSent)

	// teardown stops the timers for good
	eng.KillNeighbor("eth0", idA)
	clk.Advance(4 * ospf.DefaultRxmtInterval)
	assert.Equal(t, 3, ddSent)
	_, ok = eng.Neighbor("eth0", idA)
	assert.False(t, ok)
}

func TestBroadcastAdjacencyWithDR(t *testing.T) {
	clk := clock.NewManual(time.Now())
	eng := ospf.New(idA, routing.NewTable(), clk)
	eng.SetSender(func(string, netip.Addr, ospf.Message) {})
	eng.ActivateInterface("eth0", addrA, mask24, backbone, &ospf.InterfaceOptions{
		Network:  ospf.Broadcast,
		Priority: ospf.DefaultPriority,
	})

	// the neighbor already declares itself DR; we become BDR
	// and the adjacency starts forming
	hello := ospf.NewHello(addrB, idB, backbone)
	hello.Mask = mask24
	hello.Priority = ospf.DefaultPriority
	hello.DR = idB
	hello.Neighbors = []netip.Addr{idA}
	eng.ProcessHello("eth0", hello)

	iface, ok := eng.GetInterface("eth0")
	require.True(t, ok)
	assert.Equal(t, idB, iface.DR)
	assert.Equal(t, idA, iface.BDR)

	n, ok := eng.Neighbor("eth0", idB)
	require.True(t, ok)
	assert.Equal(t, ospf.ExStart, n.State)
}

func TestDRElection(t *testing.T) {
	clk := clock.NewManual(time.Now())
	eng := ospf.New(idA, routing.NewTable(), clk)
	eng.SetSender(func(string, netip.Addr, ospf.Message) {})
	eng.ActivateInterface("eth0", addrA, mask24, backbone, &ospf.InterfaceOptions{
		Network:  ospf.Broadcast,
		Priority: ospf.DefaultPriority,
	})

	// a high-priority router declaring itself DR wins
	strong := ospf.NewHello(netip.MustParseAddr("192.168.1.3"),
		netip.MustParseAddr("3.3.3.3"), backbone)
	strong.Mask = mask24
	strong.Priority = 10
	strong.DR = netip.MustParseAddr("3.3.3.3")
	strong.Neighbors = []netip.Addr{idA}
	eng.ProcessHello("eth0", strong)

	iface, ok := eng.GetInterface("eth0")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("3.3.3.3"), iface.DR)
	assert.Equal(t, idA, iface.BDR)

	// priority zero is never eligible, whatever it declares
	zero := ospf.NewHello(netip.MustParseAddr("192.168.1.4"),
		netip.MustParseAddr("4.4.4.4"), backbone)
	zero.Mask = mask24
	zero.Priority = 0
	zero.DR = netip.MustParseAddr("4.4.4.4")
	zero.Neighbors = []netip.Addr{idA}
	eng.ProcessHello("eth0", zero)

	iface, ok = eng.GetInterface("eth0")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("3.3.3.3"), iface.DR)
	assert.Equal(t, idA, iface.BDR)
}

func TestHellosAddressedToAllSPFRouters(t *testing.T) {
	clk := clock.NewManual(time.Now())
	eng := ospf.New(idA, routing.NewTable(), clk)
	var dsts []netip.Addr
	eng.SetSender(func(_ string, dst netip.Addr, msg ospf.Message) {
		if _, ok := msg.(*ospf.Hello); ok {
			dsts = append(dsts, dst)
		}
	})
	eng.ActivateInterface("eth0", addrA, mask30, backbone, nil)
	clk.Advance(ospf.DefaultHelloInterval)

	// one hello at activation, one from the periodic timer
	require.Len(t, dsts, 2)
	for _, dst := range dsts {
		assert.Equal(t, ospf.AllSPFRouters, dst)
	}
}

func TestNBMAHellosSolicitConfiguredNeighbors(t *testing.T) {
	clk := clock.NewManual(time.Now())
	eng := ospf.New(idA, routing.NewTable(), clk)
	var dsts []netip.Addr
	eng.SetSender(func(_ string, dst netip.Addr, msg ospf.Message) {
		if _, ok := msg.(*ospf.Hello); ok {
			dsts = append(dsts, dst)
		}
	})
	eng.ActivateInterface("eth0", addrA, mask24, backbone, &ospf.InterfaceOptions{
		Network:   ospf.NBMA,
		Priority:  ospf.DefaultPriority,
		Neighbors: []netip.Addr{addrB},
	})

	// non-broadcast networks get unicast solicitations instead
	assert.Equal(t, []netip.Addr{addrB}, dsts)
}

func TestCloseStopsTimers(t *testing.T) {
	clk := clock.NewManual(time.Now())
	eng := ospf.New(idA, routing.NewTable(), clk)
	var sent int
	eng.SetSender(func(string, netip.Addr, ospf.Message) { sent++ })
	eng.ActivateInterface("eth0", addrA, mask30, backbone, nil)
	require.Equal(t, 1, sent)

	require.NoError(t, eng.Close())
	_, ok := eng.GetInterface("eth0")
	assert.False(t, ok)

	// the hello timer is disposed with the interface
	clk.Advance(10 * ospf.DefaultHelloInterval)
	assert.Equal(t, 1, sent)
}

func TestOneWayFallsBackToInit(t *testing.T) {
	l := newLab(t)

	// a hello no longer listing us means the neighbor restarted
	oneway := ospf.NewHello(addrB, idB, backbone)
	oneway.Mask = mask30
	oneway.Priority = ospf.DefaultPriority
	l.w.down = true // keep the fallout contained
	l.a.ProcessHello("eth0", oneway)

	n, ok := l.a.Neighbor("eth0", idB)
	require.True(t, ok)
	assert.Equal(t, ospf.Init, n.State)
	assertOrderedEvents(t, l.a.Events(), "Full -> Init")
}
