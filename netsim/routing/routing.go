// SPDX-License-Identifier: GPL-3.0-or-later

// Package routing implements the routing table consulted by IP
// forwarding: longest-prefix match with metric and source-priority
// tie-breaking.
package routing

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
)

// Source tells how a route was learned.
type Source int

const (
	// Connected is a directly connected network.
	Connected Source = iota

	// Static is an operator-configured route.
	Static

	// OSPF is a route installed by the OSPF process.
	OSPF
)

// String returns the string representation of the route source.
func (s Source) String() string {
	switch s {
	case Connected:
		return "connected"
	case Static:
		return "static"
	default:
		return "ospf"
	}
}

// distance returns the administrative-distance-like priority of
// the source: lower wins.
func (s Source) distance() int {
	switch s {
	case Connected:
		return 0
	case Static:
		return 1
	default:
		return 110
	}
}

// Route is a single routing table entry.
type Route struct {
	// Prefix is the destination network.
	Prefix netip.Prefix

	// NextHop is the next-hop address; the zero value means
	// the network is directly connected.
	NextHop netip.Addr

	// Interface is the egress interface name.
	Interface string

	// Source tells how the route was learned.
	Source Source

	// Metric is the route metric: lower wins among routes to
	// the same prefix.
	Metric int
}

// String returns a show-ip-route-like rendering.
func (r Route) String() string {
	via := "directly connected"
	if r.NextHop.IsValid() {
		via = "via " + r.NextHop.String()
	}
	return fmt.Sprintf("%s %s, %s, %s, metric %d",
		r.Source, r.Prefix, via, r.Interface, r.Metric)
}

// Table is a routing table.
//
// The zero value is not ready to use; construct using [NewTable].
//
// A [*Table] is safe for concurrent use by multiple goroutines.
type Table struct {
	// mu protects routes.
	mu sync.Mutex

	// routes contains the installed routes.
	routes []Route
}

// NewTable creates an empty [*Table].
func NewTable() *Table {
	return &Table{}
}

// Add installs a route. An existing route to the same prefix from
// the same source is replaced; routes from different sources to
// the same prefix coexist and selection happens at lookup time.
func (t *Table) Add(route Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx, existing := range t.routes {
		if existing.Prefix == route.Prefix && existing.Source == route.Source {
			t.routes[idx] = route
			return
		}
	}
	t.routes = append(t.routes, route)
}

// Remove deletes the route to prefix from the given source.
func (t *Table) Remove(prefix netip.Prefix, source Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx, existing := range t.routes {
		if existing.Prefix == prefix && existing.Source == source {
			t.routes = append(t.routes[:idx], t.routes[idx+1:]...)
			return
		}
	}
}

// RemoveBySource deletes every route learned from the given source.
func (t *Table) RemoveBySource(source Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.routes[:0]
	for _, existing := range t.routes {
		if existing.Source != source {
			kept = append(kept, existing)
		}
	}
	t.routes = kept
}

// Lookup selects the best route for dst: the longest matching
// prefix, ties broken by lowest metric, then by source priority
// (connected beats static beats ospf).
func (t *Table) Lookup(dst netip.Addr) (Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		best  Route
		found bool
	)
	for _, route := range t.routes {
		if !route.Prefix.Contains(dst) {
			continue
		}
		if !found || betterRoute(route, best) {
			best, found = route, true
		}
	}
	return best, found
}

// betterRoute tells whether a beats b for the same destination.
func betterRoute(a, b Route) bool {
	if a.Prefix.Bits() != b.Prefix.Bits() {
		return a.Prefix.Bits() > b.Prefix.Bits()
	}
	if a.Metric != b.Metric {
		return a.Metric < b.Metric
	}
	return a.Source.distance() < b.Source.distance()
}

// Routes returns a snapshot of the table sorted by prefix then
// source, suitable for display.
func (t *Table) Routes() []Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]Route{}, t.routes...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Prefix.Addr() != out[j].Prefix.Addr() {
			return out[i].Prefix.Addr().Less(out[j].Prefix.Addr())
		}
		if out[i].Prefix.Bits() != out[j].Prefix.Bits() {
			return out[i].Prefix.Bits() < out[j].Prefix.Bits()
		}
		return out[i].Source.distance() < out[j].Source.distance()
	})
	return out
}
