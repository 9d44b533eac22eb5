// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"net/netip"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rbmk-project/netlab/netsim/acl"
	"github.com/rbmk-project/netlab/netsim/packet"
	"gopkg.in/yaml.v3"
)

// topologyConfig is the YAML topology document.
type topologyConfig struct {
	Hosts    []hostConfig   `yaml:"hosts"`
	Switches []switchConfig `yaml:"switches"`
	Routers  []routerConfig `yaml:"routers"`
	Links    []linkConfig   `yaml:"links"`
	Pings    []pingConfig   `yaml:"pings"`
}

// hostConfig declares a host endpoint.
type hostConfig struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
	Mask string `yaml:"mask"`
}

// switchConfig declares a learning switch.
type switchConfig struct {
	Name string `yaml:"name"`
}

// routerConfig declares a router with its interfaces and
// control-plane configuration.
type routerConfig struct {
	Name         string              `yaml:"name"`
	Interfaces   []interfaceConfig   `yaml:"interfaces"`
	StaticRoutes []staticRouteConfig `yaml:"static_routes"`
	ACLs         []aclConfig         `yaml:"acls"`
	ACLBindings  []aclBindingConfig  `yaml:"acl_bindings"`
	NAT          *natConfig          `yaml:"nat"`
	OSPF         *ospfConfig         `yaml:"ospf"`
}

// interfaceConfig declares a router interface.
type interfaceConfig struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
	Mask string `yaml:"mask"`
}

// staticRouteConfig declares a static route.
type staticRouteConfig struct {
	Prefix  string `yaml:"prefix"`
	NextHop string `yaml:"next_hop"`
}

// aclConfig declares a numbered access list.
type aclConfig struct {
	Number  int              `yaml:"number"`
	Entries []aclEntryConfig `yaml:"entries"`
}

// aclEntryConfig declares a single access list entry. Address
// matches use the IOS syntax: "any", "host 10.0.0.1", or
// "10.0.0.0 0.0.0.255" (network plus wildcard).
type aclEntryConfig struct {
	Action      string `yaml:"action"`
	Protocol    string `yaml:"protocol"`
	Src         string `yaml:"src"`
	Dst         string `yaml:"dst"`
	Established bool   `yaml:"established"`
}

// aclBindingConfig binds an access list to an interface.
type aclBindingConfig struct {
	Interface string `yaml:"interface"`
	ACL       string `yaml:"acl"`
	Direction string `yaml:"direction"`
}

// natConfig declares the NAT configuration of a router.
type natConfig struct {
	Inside   []string           `yaml:"inside"`
	Outside  []string           `yaml:"outside"`
	Static   []staticNATConfig  `yaml:"static"`
	Pools    []natPoolConfig    `yaml:"pools"`
	Bindings []natBindingConfig `yaml:"bindings"`
}

// staticNATConfig declares a one-to-one NAT entry.
type staticNATConfig struct {
	InsideLocal  string `yaml:"inside_local"`
	InsideGlobal string `yaml:"inside_global"`
}

// natPoolConfig declares a global address pool.
type natPoolConfig struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// natBindingConfig binds an access list to a pool.
type natBindingConfig struct {
	ACL      string `yaml:"acl"`
	Pool     string `yaml:"pool"`
	Overload bool   `yaml:"overload"`
}

// ospfConfig enables OSPF on a router.
type ospfConfig struct {
	RouterID   string   `yaml:"router_id"`
	Area       string   `yaml:"area"`
	Interfaces []string `yaml:"interfaces"`
}

// linkConfig cables two endpoints together. An endpoint is a
// host name, "router.iface", or "switch.port".
type linkConfig struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// pingConfig declares a ping to run after the topology is up.
type pingConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	TTL  uint8  `yaml:"ttl"`
}

// loadTopology reads and validates a YAML topology file.
func loadTopology(path string) (*topologyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading topology %s", path)
	}
	var cfg topologyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing topology %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid topology %s", path)
	}
	return &cfg, nil
}

// validate checks the whole document for consistency.
func (cfg *topologyConfig) validate() error {
	names := make(map[string]bool)
	claim := func(name, kind string) error {
		if name == "" {
			return errors.Errorf("%s with empty name", kind)
		}
		if names[name] {
			return errors.Errorf("duplicate device name: %s", name)
		}
		names[name] = true
		return nil
	}

	for _, h := range cfg.Hosts {
		if err := claim(h.Name, "host"); err != nil {
			return err
		}
		if _, err := netip.ParseAddr(h.Addr); err != nil {
			return errors.Wrapf(err, "host %s", h.Name)
		}
		if _, err := packet.ParseMask(h.Mask); err != nil {
			return errors.Wrapf(err, "host %s", h.Name)
		}
	}
	for _, sw := range cfg.Switches {
		if err := claim(sw.Name, "switch"); err != nil {
			return err
		}
	}
	for _, r := range cfg.Routers {
		if err := claim(r.Name, "router"); err != nil {
			return err
		}
		if err := r.validate(); err != nil {
			return errors.Wrapf(err, "router %s", r.Name)
		}
	}
	for idx, l := range cfg.Links {
		if l.A == "" || l.B == "" {
			return errors.Errorf("link #%d: missing endpoint", idx)
		}
		if !names[deviceOf(l.A)] || !names[deviceOf(l.B)] {
			return errors.Errorf("link #%d: unknown device", idx)
		}
	}
	for idx, p := range cfg.Pings {
		if !names[p.From] {
			return errors.Errorf("ping #%d: unknown source %s", idx, p.From)
		}
		if _, err := netip.ParseAddr(p.To); err != nil {
			return errors.Wrapf(err, "ping #%d", idx)
		}
	}
	return nil
}

// validate checks a single router declaration.
func (r *routerConfig) validate() error {
	if len(r.Interfaces) == 0 {
		return errors.New("no interfaces")
	}
	ifnames := make(map[string]bool)
	for _, iface := range r.Interfaces {
		if ifnames[iface.Name] {
			return errors.Errorf("duplicate interface %s", iface.Name)
		}
		ifnames[iface.Name] = true
		if _, err := netip.ParseAddr(iface.Addr); err != nil {
			return errors.Wrapf(err, "interface %s", iface.Name)
		}
		if _, err := packet.ParseMask(iface.Mask); err != nil {
			return errors.Wrapf(err, "interface %s", iface.Name)
		}
	}
	for _, route := range r.StaticRoutes {
		if _, err := netip.ParsePrefix(route.Prefix); err != nil {
			return errors.Wrap(err, "static route")
		}
		if _, err := netip.ParseAddr(route.NextHop); err != nil {
			return errors.Wrap(err, "static route")
		}
	}
	for _, list := range r.ACLs {
		for _, entry := range list.Entries {
			if _, err := parseACLEntry(entry); err != nil {
				return errors.Wrapf(err, "acl %d", list.Number)
			}
		}
	}
	for _, bind := range r.ACLBindings {
		if !ifnames[bind.Interface] {
			return errors.Errorf("acl binding: unknown interface %s", bind.Interface)
		}
		if _, err := parseDirection(bind.Direction); err != nil {
			return err
		}
	}
	if r.NAT != nil {
		for _, iface := range append(append([]string{}, r.NAT.Inside...), r.NAT.Outside...) {
			if !ifnames[iface] {
				return errors.Errorf("nat: unknown interface %s", iface)
			}
		}
	}
	if r.OSPF != nil {
		if _, err := netip.ParseAddr(r.OSPF.RouterID); err != nil {
			return errors.Wrap(err, "ospf router_id")
		}
		for _, iface := range r.OSPF.Interfaces {
			if !ifnames[iface] {
				return errors.Errorf("ospf: unknown interface %s", iface)
			}
		}
	}
	return nil
}

// deviceOf returns the device part of a link endpoint.
func deviceOf(endpoint string) string {
	dev, _, _ := strings.Cut(endpoint, ".")
	return dev
}

// parseDirection maps "in"/"out" to an [acl.Direction].
func parseDirection(s string) (acl.Direction, error) {
	switch s {
	case "in":
		return acl.In, nil
	case "out":
		return acl.Out, nil
	default:
		return acl.In, errors.Errorf("invalid direction: %s", s)
	}
}

// parseProto maps a protocol keyword to an [acl.Proto].
func parseProto(s string) (acl.Proto, error) {
	switch s {
	case "", "ip":
		return acl.ProtoIP, nil
	case "icmp":
		return acl.ProtoICMP, nil
	case "tcp":
		return acl.ProtoTCP, nil
	case "udp":
		return acl.ProtoUDP, nil
	default:
		return acl.ProtoIP, errors.Errorf("invalid protocol: %s", s)
	}
}

// parseAddrMatch parses the IOS-like address match syntax.
func parseAddrMatch(s string) (acl.AddrMatch, error) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1 && fields[0] == "any":
		return acl.MatchAny(), nil

	case len(fields) == 2 && fields[0] == "host":
		addr, err := netip.ParseAddr(fields[1])
		if err != nil {
			return acl.AddrMatch{}, errors.Wrapf(err, "address match %q", s)
		}
		return acl.MatchHost(addr), nil

	case len(fields) == 2:
		network, err := netip.ParseAddr(fields[0])
		if err != nil {
			return acl.AddrMatch{}, errors.Wrapf(err, "address match %q", s)
		}
		wildcard, err := packet.ParseMask(fields[1])
		if err != nil {
			return acl.AddrMatch{}, errors.Wrapf(err, "address match %q", s)
		}
		return acl.MatchNet(network, wildcard), nil

	default:
		return acl.AddrMatch{}, errors.Errorf("invalid address match: %q", s)
	}
}

// parseACLEntry converts a YAML entry into an [acl.Entry].
func parseACLEntry(cfg aclEntryConfig) (acl.Entry, error) {
	var entry acl.Entry
	switch cfg.Action {
	case "permit":
		entry.Action = acl.Permit
	case "deny":
		entry.Action = acl.Deny
	default:
		return entry, errors.Errorf("invalid action: %s", cfg.Action)
	}
	proto, err := parseProto(cfg.Protocol)
	if err != nil {
		return entry, err
	}
	entry.Protocol = proto
	src, err := parseAddrMatch(cfg.Src)
	if err != nil {
		return entry, err
	}
	entry.Src = src
	dst := acl.MatchAny()
	if cfg.Dst != "" {
		if dst, err = parseAddrMatch(cfg.Dst); err != nil {
			return entry, err
		}
	}
	entry.Dst = dst
	entry.Established = cfg.Established
	return entry, nil
}
