// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package netsim provides a deterministic network simulation
framework that developers can use to study internetworking and
to write integration tests for routed topologies.

# Usage and Features

The [NewScenario] function creates a new simulation owning the
devices, the cables, and the shared clock. You create devices
through the scenario, for example:

- MustNewHost
- MustNewRouter
- MustNewSwitch

and wire them together with the MustLink family of methods,
which build a [*link.Cable] between two devices, fill in the
static neighbor tables, and register the cable for teardown.

Every frame crossing a cable is byte serialized and recorded;
use [*Scenario.Trace] to inspect the wire traffic after the
fact. Time never flows on its own: devices share the scenario
[clock.Clock], and with a [*clock.Manual] clock tests advance
time explicitly and deterministically.

Subpackages of this package contain the device models. The
[netsim/packet] package models Ethernet frames, IPv4 packets,
and ICMP messages with real header checksums. The
[netsim/bridge] package is a learning switch, [netsim/router]
an IPv4 router with ACL and NAT support, [netsim/host] a
minimal ping-capable endpoint, and [netsim/ospf] a link state
routing protocol implementation feeding [netsim/routing]
tables.

Frame delivery is synchronous: transmitting on a cable invokes
the far device's receive path before returning, so a ping and
its reply complete within a single call.

The errors returned by [*host.Host.Ping] are the same
[syscall.Errno] the standard library and the kernel would
generate in similar cases (we use the [x/sys] repository to
pull system-dependent error values).

# Design Documents

This package is experimental and has no design documents for now.
*/
package netsim
