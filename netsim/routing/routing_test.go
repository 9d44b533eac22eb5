// SPDX-License-Identifier: GPL-3.0-or-later

package routing_test

import (
	"net/netip"
	"testing"

	"github.com/rbmk-project/netlab/netsim/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongestPrefixWins(t *testing.T) {
	table := routing.NewTable()
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/8"),
		NextHop:   netip.MustParseAddr("192.0.2.1"),
		Interface: "eth0",
		Source:    routing.Static,
	})
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.1.0.0/16"),
		NextHop:   netip.MustParseAddr("192.0.2.2"),
		Interface: "eth1",
		Source:    routing.Static,
	})

	route, ok := table.Lookup(netip.MustParseAddr("10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, "eth1", route.Interface)

	route, ok = table.Lookup(netip.MustParseAddr("10.2.0.1"))
	require.True(t, ok)
	assert.Equal(t, "eth0", route.Interface)

	_, ok = table.Lookup(netip.MustParseAddr("172.16.0.1"))
	assert.False(t, ok)
}

func TestMetricBreaksTies(t *testing.T) {
	table := routing.NewTable()
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/24"),
		NextHop:   netip.MustParseAddr("192.0.2.1"),
		Interface: "eth0",
		Source:    routing.OSPF,
		Metric:    20,
	})
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/24"),
		NextHop:   netip.MustParseAddr("192.0.2.2"),
		Interface: "eth1",
		Source:    routing.OSPF,
		Metric:    10,
	})
	// same prefix+source replaces, so use a distinct source for
	// the higher-metric alternative
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/24"),
		NextHop:   netip.MustParseAddr("192.0.2.3"),
		Interface: "eth2",
		Source:    routing.Static,
		Metric:    30,
	})

	route, ok := table.Lookup(netip.MustParseAddr("10.0.0.9"))
	require.True(t, ok)
	assert.Equal(t, "eth1", route.Interface)
}

func TestSourcePriorityBreaksTies(t *testing.T) {
	table := routing.NewTable()
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/24"),
		NextHop:   netip.MustParseAddr("192.0.2.1"),
		Interface: "ospf0",
		Source:    routing.OSPF,
		Metric:    5,
	})
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/24"),
		Interface: "eth0",
		Source:    routing.Connected,
		Metric:    5,
	})
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/24"),
		NextHop:   netip.MustParseAddr("192.0.2.2"),
		Interface: "st0",
		Source:    routing.Static,
		Metric:    5,
	})

	route, ok := table.Lookup(netip.MustParseAddr("10.0.0.9"))
	require.True(t, ok)
	assert.Equal(t, routing.Connected, route.Source)
}

func TestAddReplacesSamePrefixAndSource(t *testing.T) {
	table := routing.NewTable()
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/24"),
		NextHop:   netip.MustParseAddr("192.0.2.1"),
		Interface: "eth0",
		Source:    routing.Static,
	})
	table.Add(routing.Route{
		Prefix:    netip.MustParsePrefix("10.0.0.0/24"),
		NextHop:   netip.MustParseAddr("192.0.2.9"),
		Interface: "eth1",
		Source:    routing.Static,
	})
	assert.Len(t, table.Routes(), 1)
	route, _ := table.Lookup(netip.MustParseAddr("10.0.0.1"))
	assert.Equal(t, "eth1", route.Interface)
}

func TestRemoveBySource(t *testing.T) {
	table := routing.NewTable()
	table.Add(routing.Route{
		Prefix: netip.MustParsePrefix("10.0.0.0/24"),
		Source: routing.OSPF,
	})
	table.Add(routing.Route{
		Prefix: netip.MustParsePrefix("10.0.1.0/24"),
		Source: routing.OSPF,
	})
	table.Add(routing.Route{
		Prefix: netip.MustParsePrefix("10.0.2.0/24"),
		Source: routing.Static,
	})
	table.RemoveBySource(routing.OSPF)
	routes := table.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, routing.Static, routes[0].Source)
}
