// SPDX-License-Identifier: GPL-3.0-or-later

package netsim

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/netlab/closepool"
	"github.com/rbmk-project/netlab/netsim/bridge"
	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/host"
	"github.com/rbmk-project/netlab/netsim/link"
	"github.com/rbmk-project/netlab/netsim/ospf"
	"github.com/rbmk-project/netlab/netsim/packet"
	"github.com/rbmk-project/netlab/netsim/router"
)

// errNoSuchInterface is returned when linking to an interface
// that was never configured.
var errNoSuchInterface = errors.New("netsim: no such interface")

// Device is any simulated device attachable to a cable.
type Device interface {
	packet.FrameSink

	// Name returns the device name, unique in a scenario.
	Name() string
}

// closerFunc adapts a teardown function to [io.Closer].
type closerFunc func() error

// Close implements io.Closer.
func (fn closerFunc) Close() error {
	return fn()
}

// Scenario owns the devices, cables and clock of one simulated
// internetwork and tears everything down together.
//
// The zero value is not ready to use; construct using
// [NewScenario].
type Scenario struct {
	// Logger optionally receives structured events from every
	// device created through this scenario.
	Logger *slog.Logger

	// clk is the clock shared by every device.
	clk clock.Clock

	// pool collects everything to close, in reverse order.
	pool *closepool.Pool

	// mu protects the fields below.
	mu sync.Mutex

	// devices maps device names to devices.
	devices map[string]Device

	// traces collects the wire encoding of every frame that
	// crossed a cable, in order.
	traces [][]byte
}

// NewScenario creates a [*Scenario] whose devices share the
// given clock.
func NewScenario(clk clock.Clock) *Scenario {
	return &Scenario{
		clk:     clk,
		pool:    &closepool.Pool{},
		devices: make(map[string]Device),
	}
}

// Clock returns the scenario clock.
func (s *Scenario) Clock() clock.Clock {
	return s.clk
}

// Device returns the named device.
func (s *Scenario) Device(name string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[name]
	return dev, ok
}

// Close tears the scenario down: cables go down and device
// timers stop, in reverse creation order.
func (s *Scenario) Close() error {
	return s.pool.Close()
}

// register adds a device to the registry.
func (s *Scenario) register(dev Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.devices[dev.Name()]; found {
		return fmt.Errorf("netsim: duplicate device name: %s", dev.Name())
	}
	s.devices[dev.Name()] = dev
	return nil
}

// MustNewHost creates a host with the given name, address and
// dotted-quad mask. This method panics on error and IS NOT
// goroutine safe.
func (s *Scenario) MustNewHost(name, addr, mask string) *host.Host {
	h := host.New(name,
		runtimex.Try1(netip.ParseAddr(addr)),
		runtimex.Try1(packet.ParseMask(mask)))
	h.Logger = s.Logger
	runtimex.Try0(s.register(h))
	return h
}

// MustNewRouter creates a router using the scenario clock. This
// method panics on error and IS NOT goroutine safe.
func (s *Scenario) MustNewRouter(name string) *router.Router {
	r := router.New(name, s.clk)
	r.Logger = s.Logger
	runtimex.Try0(s.register(r))
	s.pool.Add(closerFunc(func() error {
		r.NAT().StopReaper()
		return nil
	}))
	return r
}

// MustNewSwitch creates a switch using the scenario clock. This
// method panics on error and IS NOT goroutine safe.
func (s *Scenario) MustNewSwitch(name string) *bridge.Switch {
	sw := bridge.New(name, s.clk)
	sw.Logger = s.Logger
	runtimex.Try0(s.register(sw))
	return sw
}

// connect wires a cable between two sinks, recording traffic
// and registering the cable for teardown.
func (s *Scenario) connect(aSink packet.FrameSink, aPort int,
	bSink packet.FrameSink, bPort int) *link.Cable {
	cable := link.New(aSink, aPort, bSink, bPort)
	cable.Snoop(s.snoop)
	s.pool.Add(closerFunc(func() error {
		cable.SetDown(true)
		return nil
	}))
	return cable
}

// snoop records each crossing frame's wire encoding.
func (s *Scenario) snoop(dir link.Direction, frm *packet.Frame) {
	raw, err := packet.MarshalFrame(frm)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.traces = append(s.traces, raw)
	s.mu.Unlock()
	if s.Logger != nil {
		s.Logger.Debug("frame on cable",
			slog.Int("direction", int(dir)),
			slog.String("srcMAC", frm.SrcMAC.String()),
			slog.String("dstMAC", frm.DstMAC.String()),
			slog.Int("size", len(raw)))
	}
}

// Trace returns the wire encoding of every frame that crossed
// any cable so far, in order.
func (s *Scenario) Trace() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.traces...)
}

// MustLinkHostRouter cables a host to a router interface, fills
// both neighbor tables, and makes the router the host's default
// gateway. This method panics on error.
func (s *Scenario) MustLinkHostRouter(h *host.Host, r *router.Router, ifname string) *link.Cable {
	iface, ok := r.Interface(ifname)
	if !ok {
		runtimex.Try0(fmt.Errorf("%w: %s %s", errNoSuchInterface, r.Name(), ifname))
	}
	cable := s.connect(h, 0, r, iface.Index)
	h.AttachLink(cable.EndA())
	runtimex.Try0(r.AttachLink(ifname, cable.EndB()))
	h.AddNeighbor(iface.Addr, iface.MAC)
	h.SetGateway(iface.Addr)
	r.AddNeighbor(h.Addr(), h.MAC())
	return cable
}

// MustLinkRouters cables two router interfaces together and
// fills both neighbor tables. This method panics on error.
func (s *Scenario) MustLinkRouters(left *router.Router, leftIf string,
	right *router.Router, rightIf string) *link.Cable {
	a, ok := left.Interface(leftIf)
	if !ok {
		runtimex.Try0(fmt.Errorf("%w: %s %s", errNoSuchInterface, left.Name(), leftIf))
	}
	b, ok := right.Interface(rightIf)
	if !ok {
		runtimex.Try0(fmt.Errorf("%w: %s %s", errNoSuchInterface, right.Name(), rightIf))
	}
	cable := s.connect(left, a.Index, right, b.Index)
	runtimex.Try0(left.AttachLink(leftIf, cable.EndA()))
	runtimex.Try0(right.AttachLink(rightIf, cable.EndB()))
	left.AddNeighbor(b.Addr, b.MAC)
	right.AddNeighbor(a.Addr, a.MAC)
	return cable
}

// MustLinkHostSwitch cables a host to a switch port. Layer-2
// only: neighbor tables are the caller's business.
func (s *Scenario) MustLinkHostSwitch(h *host.Host, sw *bridge.Switch, port int) *link.Cable {
	cable := s.connect(h, 0, sw, port)
	h.AttachLink(cable.EndA())
	sw.AttachLink(port, cable.EndB())
	return cable
}

// MustLinkSwitchRouter cables a switch port to a router
// interface. This method panics on error.
func (s *Scenario) MustLinkSwitchRouter(sw *bridge.Switch, port int,
	r *router.Router, ifname string) *link.Cable {
	iface, ok := r.Interface(ifname)
	if !ok {
		runtimex.Try0(fmt.Errorf("%w: %s %s", errNoSuchInterface, r.Name(), ifname))
	}
	cable := s.connect(sw, port, r, iface.Index)
	sw.AttachLink(port, cable.EndA())
	runtimex.Try0(r.AttachLink(ifname, cable.EndB()))
	return cable
}

// MustNewOSPF creates an OSPF engine feeding the router's own
// routing table and binds it to the router: outgoing messages
// ride protocol 89 packets over the router's cables, and received
// protocol 89 packets are dispatched back into the engine. The
// engine's timers stop when the scenario closes. This method
// panics on error and IS NOT goroutine safe.
func (s *Scenario) MustNewOSPF(r *router.Router, routerID string) *ospf.Engine {
	eng := ospf.New(
		runtimex.Try1(netip.ParseAddr(routerID)),
		r.RoutingTable(), s.clk)
	eng.Logger = s.Logger
	eng.SetSender(func(ifname string, dst netip.Addr, msg ospf.Message) {
		pkt := packet.NewIPv4Packet(msg.Source(), dst,
			packet.IPProtocolOSPF, 1, &ospf.Packet{Msg: msg})
		var err error
		if dst.IsMulticast() {
			err = r.SendPacketVia(ifname, dst, pkt)
		} else {
			err = r.SendPacket(pkt)
		}
		if err != nil && s.Logger != nil {
			s.Logger.Debug("ospf message not sent",
				slog.String("device", r.Name()),
				slog.String("iface", ifname),
				slog.Any("err", err))
		}
	})
	r.SetLocalInput(func(ifname string, pkt *packet.IPv4) {
		if pkt.Protocol != packet.IPProtocolOSPF {
			return
		}
		if p, ok := pkt.Payload.(*ospf.Packet); ok {
			eng.Deliver(ifname, p.Msg)
		}
	})
	s.pool.Add(eng)
	return eng
}
