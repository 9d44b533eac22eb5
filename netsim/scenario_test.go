// SPDX-License-Identifier: GPL-3.0-or-later

package netsim_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/rbmk-project/netlab/netsim"
	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/host"
	"github.com/rbmk-project/netlab/netsim/ospf"
	"github.com/rbmk-project/netlab/netsim/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mask24 = packet.MustParseMask("255.255.255.0")

var mask30 = packet.MustParseMask("255.255.255.252")

// newBackbone builds alice -- r1 -- r2 -- bob with static
// routes so alice and bob can exchange pings.
func newBackbone(t *testing.T) (*netsim.Scenario, *netsim.Host, *netsim.Host) {
	t.Helper()
	sc := netsim.NewScenario(clock.NewManual(time.Now()))

	alice := sc.MustNewHost("alice", "10.0.1.10", "255.255.255.0")
	bob := sc.MustNewHost("bob", "10.0.2.10", "255.255.255.0")

	r1 := sc.MustNewRouter("r1")
	r1.ConfigureInterface("eth0", netip.MustParseAddr("10.0.1.1"), mask24)
	r1.ConfigureInterface("eth1", netip.MustParseAddr("192.168.0.1"), mask30)

	r2 := sc.MustNewRouter("r2")
	r2.ConfigureInterface("eth0", netip.MustParseAddr("192.168.0.2"), mask30)
	r2.ConfigureInterface("eth1", netip.MustParseAddr("10.0.2.1"), mask24)

	sc.MustLinkHostRouter(alice, r1, "eth0")
	sc.MustLinkRouters(r1, "eth1", r2, "eth0")
	sc.MustLinkHostRouter(bob, r2, "eth1")

	require.NoError(t, r1.AddStaticRoute(
		netip.MustParsePrefix("10.0.2.0/24"), netip.MustParseAddr("192.168.0.2")))
	require.NoError(t, r2.AddStaticRoute(
		netip.MustParsePrefix("10.0.1.0/24"), netip.MustParseAddr("192.168.0.1")))

	return sc, alice, bob
}

func TestScenarioEndToEndPing(t *testing.T) {
	sc, alice, bob := newBackbone(t)
	defer sc.Close()

	res, err := alice.Ping(bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, bob.Addr(), res.From)

	res, err = bob.Ping(alice.Addr(), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, alice.Addr(), res.From)
}

func TestScenarioRecordsTrace(t *testing.T) {
	sc, alice, bob := newBackbone(t)
	defer sc.Close()

	_, err := alice.Ping(bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)

	trace := sc.Trace()
	require.NotEmpty(t, trace)
	for _, raw := range trace {
		frm, err := packet.UnmarshalFrame(raw)
		require.NoError(t, err)
		pkt, ok := frm.IPv4Payload()
		require.True(t, ok)
		assert.True(t, pkt.VerifyChecksum())
	}
}

func TestScenarioCloseBringsCablesDown(t *testing.T) {
	sc, alice, bob := newBackbone(t)

	_, err := alice.Ping(bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)

	require.NoError(t, sc.Close())

	_, err = alice.Ping(bob.Addr(), host.DefaultTTL)
	assert.Error(t, err)
}

func TestScenarioDeviceRegistry(t *testing.T) {
	sc, _, _ := newBackbone(t)
	defer sc.Close()

	dev, ok := sc.Device("r1")
	require.True(t, ok)
	assert.Equal(t, "r1", dev.Name())

	_, ok = sc.Device("nosuch")
	assert.False(t, ok)
}

func TestScenarioDuplicateNamePanics(t *testing.T) {
	sc := netsim.NewScenario(clock.NewManual(time.Now()))
	defer sc.Close()

	sc.MustNewHost("dup", "10.0.0.1", "255.255.255.0")
	assert.Panics(t, func() {
		sc.MustNewHost("dup", "10.0.0.2", "255.255.255.0")
	})
}

func TestScenarioLinkUnknownInterfacePanics(t *testing.T) {
	sc := netsim.NewScenario(clock.NewManual(time.Now()))
	defer sc.Close()

	h := sc.MustNewHost("h", "10.0.0.1", "255.255.255.0")
	r := sc.MustNewRouter("r")
	assert.Panics(t, func() {
		sc.MustLinkHostRouter(h, r, "eth7")
	})
}

func TestScenarioSwitchedSegment(t *testing.T) {
	sc := netsim.NewScenario(clock.NewManual(time.Now()))
	defer sc.Close()

	alice := sc.MustNewHost("alice", "10.0.0.10", "255.255.255.0")
	bob := sc.MustNewHost("bob", "10.0.0.20", "255.255.255.0")
	sw := sc.MustNewSwitch("sw1")

	sc.MustLinkHostSwitch(alice, sw, 1)
	sc.MustLinkHostSwitch(bob, sw, 2)
	alice.AddNeighbor(bob.Addr(), bob.MAC())
	bob.AddNeighbor(alice.Addr(), alice.MAC())

	res, err := alice.Ping(bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, bob.Addr(), res.From)
	assert.NotEmpty(t, sw.MACTable())
}

// ospfBackbone is alice -- r1 -- r2 -- bob with every route
// learned through OSPF; core is the r1 -- r2 cable.
type ospfBackbone struct {
	sc         *netsim.Scenario
	clk        *clock.Manual
	alice, bob *netsim.Host
	r1, r2     *netsim.Router
	e1, e2     *ospf.Engine
	core       *netsim.Cable
}

func newOSPFBackbone(t *testing.T) *ospfBackbone {
	t.Helper()
	clk := clock.NewManual(time.Now())
	sc := netsim.NewScenario(clk)
	b := &ospfBackbone{sc: sc, clk: clk}

	b.alice = sc.MustNewHost("alice", "10.0.1.10", "255.255.255.0")
	b.bob = sc.MustNewHost("bob", "10.0.2.10", "255.255.255.0")

	b.r1 = sc.MustNewRouter("r1")
	b.r1.ConfigureInterface("eth0", netip.MustParseAddr("10.0.1.1"), mask24)
	b.r1.ConfigureInterface("eth1", netip.MustParseAddr("192.168.0.1"), mask30)

	b.r2 = sc.MustNewRouter("r2")
	b.r2.ConfigureInterface("eth0", netip.MustParseAddr("192.168.0.2"), mask30)
	b.r2.ConfigureInterface("eth1", netip.MustParseAddr("10.0.2.1"), mask24)

	sc.MustLinkHostRouter(b.alice, b.r1, "eth0")
	b.core = sc.MustLinkRouters(b.r1, "eth1", b.r2, "eth0")
	sc.MustLinkHostRouter(b.bob, b.r2, "eth1")

	area := netip.MustParseAddr("0.0.0.0")
	b.e1 = sc.MustNewOSPF(b.r1, "1.1.1.1")
	b.e2 = sc.MustNewOSPF(b.r2, "2.2.2.2")

	b.e1.ActivateInterface("eth0", netip.MustParseAddr("10.0.1.1"),
		mask24, area, &ospf.InterfaceOptions{
			Network: ospf.PointToPoint,
		})
	b.e1.ActivateInterface("eth1", netip.MustParseAddr("192.168.0.1"),
		mask30, area, &ospf.InterfaceOptions{
			Network: ospf.PointToPoint,
		})
	b.e2.ActivateInterface("eth0", netip.MustParseAddr("192.168.0.2"),
		mask30, area, &ospf.InterfaceOptions{
			Network: ospf.PointToPoint,
		})
	b.e2.ActivateInterface("eth1", netip.MustParseAddr("10.0.2.1"),
		mask24, area, &ospf.InterfaceOptions{
			Network: ospf.PointToPoint,
		})

	clk.Advance(ospf.DefaultHelloInterval)
	return b
}

func TestScenarioOSPFConvergesAndForwards(t *testing.T) {
	b := newOSPFBackbone(t)
	defer b.sc.Close()

	n, ok := b.e1.Neighbor("eth1", netip.MustParseAddr("2.2.2.2"))
	require.True(t, ok)
	require.Equal(t, ospf.Full, n.State)

	// OSPF must have installed the cross routes; no statics here.
	res, err := b.alice.Ping(b.bob.Addr(), host.DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, b.bob.Addr(), res.From)
}

func TestScenarioOSPFTrafficCrossesCables(t *testing.T) {
	b := newOSPFBackbone(t)
	defer b.sc.Close()

	// protocol 89 packets must appear in the capture like any
	// other traffic
	var seen int
	for _, raw := range b.sc.Trace() {
		frm, err := packet.UnmarshalFrame(raw)
		require.NoError(t, err)
		pkt, ok := frm.IPv4Payload()
		require.True(t, ok)
		if pkt.Protocol == packet.IPProtocolOSPF {
			seen++
			assert.True(t, pkt.VerifyChecksum())
		}
	}
	assert.NotZero(t, seen)
}

func TestScenarioOSPFLinkDownWithdrawsRoutes(t *testing.T) {
	b := newOSPFBackbone(t)
	defer b.sc.Close()

	n, ok := b.e1.Neighbor("eth1", netip.MustParseAddr("2.2.2.2"))
	require.True(t, ok)
	require.Equal(t, ospf.Full, n.State)

	// cut the core cable: hellos stop crossing, the dead
	// interval runs out, and the learned routes disappear
	b.core.SetDown(true)
	b.clk.Advance(10 * ospf.DefaultHelloInterval)

	_, ok = b.e1.Neighbor("eth1", netip.MustParseAddr("2.2.2.2"))
	assert.False(t, ok)
	_, ok = b.e2.Neighbor("eth0", netip.MustParseAddr("1.1.1.1"))
	assert.False(t, ok)

	_, ok = b.r1.RoutingTable().Lookup(b.bob.Addr())
	assert.False(t, ok)
	_, err := b.alice.Ping(b.bob.Addr(), host.DefaultTTL)
	assert.Error(t, err)
}

func TestScenarioCloseStopsOSPF(t *testing.T) {
	b := newOSPFBackbone(t)

	require.NoError(t, b.sc.Close())

	// every engine interface is deactivated, so no hello or
	// retransmission timer can rearm
	for _, ifname := range []string{"eth0", "eth1"} {
		_, ok := b.e1.GetInterface(ifname)
		assert.False(t, ok)
		_, ok = b.e2.GetInterface(ifname)
		assert.False(t, ok)
	}
}
