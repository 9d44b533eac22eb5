// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rbmk-project/netlab/netsim"
	"github.com/rbmk-project/netlab/netsim/bridge"
	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/host"
	"github.com/rbmk-project/netlab/netsim/ospf"
	"github.com/rbmk-project/netlab/netsim/packet"
	"github.com/rbmk-project/netlab/netsim/router"
)

// lab is a scenario built from a topology document.
type lab struct {
	scenario *netsim.Scenario
	clk      *clock.Manual
	hosts    map[string]*host.Host
	routers  map[string]*router.Router
	switches map[string]*bridge.Switch
	ospf     map[string]*ospf.Engine
}

// buildLab instantiates the devices, cables, and control plane
// declared by cfg.
func buildLab(cfg *topologyConfig, logger *slog.Logger) (*lab, error) {
	clk := clock.NewManual(time.Now())
	sc := netsim.NewScenario(clk)
	sc.Logger = logger
	lb := &lab{
		scenario: sc,
		clk:      clk,
		hosts:    make(map[string]*host.Host),
		routers:  make(map[string]*router.Router),
		switches: make(map[string]*bridge.Switch),
		ospf:     make(map[string]*ospf.Engine),
	}

	for _, h := range cfg.Hosts {
		lb.hosts[h.Name] = sc.MustNewHost(h.Name, h.Addr, h.Mask)
	}
	for _, sw := range cfg.Switches {
		lb.switches[sw.Name] = sc.MustNewSwitch(sw.Name)
	}
	for _, rc := range cfg.Routers {
		if err := lb.buildRouter(rc); err != nil {
			return nil, errors.Wrapf(err, "router %s", rc.Name)
		}
	}
	for idx, lc := range cfg.Links {
		if err := lb.buildLink(lc); err != nil {
			return nil, errors.Wrapf(err, "link #%d", idx)
		}
	}
	for _, rc := range cfg.Routers {
		if rc.OSPF != nil {
			if err := lb.buildOSPF(rc); err != nil {
				return nil, errors.Wrapf(err, "router %s", rc.Name)
			}
		}
	}

	// Let hellos flow and adjacencies form.
	clk.Advance(2 * ospf.DefaultHelloInterval)
	return lb, nil
}

// buildRouter creates one router with its interfaces, routes,
// access lists, and NAT configuration.
func (lb *lab) buildRouter(rc routerConfig) error {
	r := lb.scenario.MustNewRouter(rc.Name)
	lb.routers[rc.Name] = r

	for _, ic := range rc.Interfaces {
		addr, err := netip.ParseAddr(ic.Addr)
		if err != nil {
			return err
		}
		mask, err := packet.ParseMask(ic.Mask)
		if err != nil {
			return err
		}
		r.ConfigureInterface(ic.Name, addr, mask)
	}
	for _, route := range rc.StaticRoutes {
		prefix, err := netip.ParsePrefix(route.Prefix)
		if err != nil {
			return err
		}
		nextHop, err := netip.ParseAddr(route.NextHop)
		if err != nil {
			return err
		}
		if err := r.AddStaticRoute(prefix, nextHop); err != nil {
			return err
		}
	}
	for _, list := range rc.ACLs {
		for _, ec := range list.Entries {
			entry, err := parseACLEntry(ec)
			if err != nil {
				return err
			}
			if err := r.ACL().AddNumberedEntry(list.Number, entry); err != nil {
				return err
			}
		}
	}
	for _, bind := range rc.ACLBindings {
		dir, err := parseDirection(bind.Direction)
		if err != nil {
			return err
		}
		r.ACL().BindToInterface(bind.Interface, bind.ACL, dir)
	}
	if rc.NAT != nil {
		if err := lb.buildNAT(r, rc.NAT); err != nil {
			return err
		}
	}
	return nil
}

// buildNAT applies a router's NAT declaration.
func (lb *lab) buildNAT(r *router.Router, nc *natConfig) error {
	for _, iface := range nc.Inside {
		r.NAT().SetInsideInterface(iface)
	}
	for _, iface := range nc.Outside {
		r.NAT().SetOutsideInterface(iface)
	}
	for _, sn := range nc.Static {
		local, err := netip.ParseAddr(sn.InsideLocal)
		if err != nil {
			return err
		}
		global, err := netip.ParseAddr(sn.InsideGlobal)
		if err != nil {
			return err
		}
		if err := r.NAT().AddStaticNAT(local, global); err != nil {
			return err
		}
	}
	for _, pool := range nc.Pools {
		start, err := netip.ParseAddr(pool.Start)
		if err != nil {
			return err
		}
		end, err := netip.ParseAddr(pool.End)
		if err != nil {
			return err
		}
		if err := r.NAT().AddPool(pool.Name, start, end); err != nil {
			return err
		}
	}
	for _, bind := range nc.Bindings {
		if err := r.NAT().BindAccessList(bind.ACL, bind.Pool, bind.Overload); err != nil {
			return err
		}
	}
	return nil
}

// endpoint is a parsed link endpoint.
type endpoint struct {
	host   *host.Host
	rtr    *router.Router
	ifname string
	sw     *bridge.Switch
	port   int
}

// parseEndpoint resolves "host", "router.iface", "switch.port".
func (lb *lab) parseEndpoint(s string) (endpoint, error) {
	dev, rest, dotted := strings.Cut(s, ".")
	if h, ok := lb.hosts[dev]; ok {
		if dotted {
			return endpoint{}, errors.Errorf("host endpoint must be bare: %s", s)
		}
		return endpoint{host: h}, nil
	}
	if r, ok := lb.routers[dev]; ok {
		if !dotted {
			return endpoint{}, errors.Errorf("router endpoint needs an interface: %s", s)
		}
		return endpoint{rtr: r, ifname: rest}, nil
	}
	if sw, ok := lb.switches[dev]; ok {
		if !dotted {
			return endpoint{}, errors.Errorf("switch endpoint needs a port: %s", s)
		}
		port, err := strconv.Atoi(rest)
		if err != nil {
			return endpoint{}, errors.Wrapf(err, "switch port %s", s)
		}
		return endpoint{sw: sw, port: port}, nil
	}
	return endpoint{}, errors.Errorf("unknown device: %s", dev)
}

// buildLink cables two endpoints together.
func (lb *lab) buildLink(lc linkConfig) error {
	a, err := lb.parseEndpoint(lc.A)
	if err != nil {
		return err
	}
	b, err := lb.parseEndpoint(lc.B)
	if err != nil {
		return err
	}
	sc := lb.scenario
	switch {
	case a.host != nil && b.rtr != nil:
		sc.MustLinkHostRouter(a.host, b.rtr, b.ifname)
	case a.rtr != nil && b.host != nil:
		sc.MustLinkHostRouter(b.host, a.rtr, a.ifname)
	case a.rtr != nil && b.rtr != nil:
		sc.MustLinkRouters(a.rtr, a.ifname, b.rtr, b.ifname)
	case a.host != nil && b.sw != nil:
		sc.MustLinkHostSwitch(a.host, b.sw, b.port)
	case a.sw != nil && b.host != nil:
		sc.MustLinkHostSwitch(b.host, a.sw, a.port)
	case a.sw != nil && b.rtr != nil:
		sc.MustLinkSwitchRouter(a.sw, a.port, b.rtr, b.ifname)
	case a.rtr != nil && b.sw != nil:
		sc.MustLinkSwitchRouter(b.sw, b.port, a.rtr, a.ifname)
	default:
		return errors.Errorf("unsupported link: %s -- %s", lc.A, lc.B)
	}
	return nil
}

// buildOSPF creates a router's OSPF engine and activates the
// declared interfaces.
func (lb *lab) buildOSPF(rc routerConfig) error {
	r := lb.routers[rc.Name]
	eng := lb.scenario.MustNewOSPF(r, rc.OSPF.RouterID)
	lb.ospf[rc.Name] = eng

	area := netip.MustParseAddr("0.0.0.0")
	if rc.OSPF.Area != "" {
		parsed, err := netip.ParseAddr(rc.OSPF.Area)
		if err != nil {
			return errors.Wrap(err, "ospf area")
		}
		area = parsed
	}
	for _, ifname := range rc.OSPF.Interfaces {
		iface, ok := r.Interface(ifname)
		if !ok {
			return errors.Errorf("ospf: unknown interface %s", ifname)
		}
		eng.ActivateInterface(ifname, iface.Addr, iface.Mask, area,
			&ospf.InterfaceOptions{Network: ospf.PointToPoint})
	}
	return nil
}
