// SPDX-License-Identifier: GPL-3.0-or-later

// Package nat implements static, dynamic, and overload (PAT)
// network address translation with a translation table subject to
// idle-timeout reclamation.
package nat

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/rbmk-project/netlab/netsim/acl"
	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/packet"
)

// Type is the translation type.
type Type int

const (
	// Static is an operator-configured one-to-one translation.
	Static Type = iota

	// Dynamic is a pool-allocated one-to-one translation.
	Dynamic

	// PAT is a port-multiplexed overload translation.
	PAT
)

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return "pat"
	}
}

const (
	// DefaultTimeout is the default idle timeout for dynamic
	// and PAT translations.
	DefaultTimeout = 300 * time.Second

	// firstPATPort is the lowest port PAT allocates.
	firstPATPort = 1024

	// lastPATPort is the highest port PAT allocates.
	lastPATPort = 65535
)

// Translation is one translation table entry.
type Translation struct {
	// Type is the translation type.
	Type Type

	// Protocol is the layer-4 protocol (PAT only).
	Protocol packet.IPProtocol

	// InsideLocal is the untranslated inside address.
	InsideLocal netip.Addr

	// InsideGlobal is the translated outside-visible address.
	InsideGlobal netip.Addr

	// LocalPort is the untranslated port (PAT only).
	LocalPort uint16

	// GlobalPort is the translated port (PAT only).
	GlobalPort uint16

	// LastUsed is when the translation last carried a packet.
	LastUsed time.Time

	// Hits counts packets carried by the translation.
	Hits uint64
}

// String returns a show-ip-nat-translations-like rendering.
func (tr *Translation) String() string {
	if tr.Type == PAT {
		return fmt.Sprintf("%s %s %s:%d -> %s:%d", tr.Type, tr.Protocol,
			tr.InsideLocal, tr.LocalPort, tr.InsideGlobal, tr.GlobalPort)
	}
	return fmt.Sprintf("%s %s -> %s", tr.Type, tr.InsideLocal, tr.InsideGlobal)
}

// Pool is a range of global addresses for dynamic translation.
type Pool struct {
	// Name identifies the pool.
	Name string

	// Start is the first address of the range.
	Start netip.Addr

	// End is the last address of the range, inclusive.
	End netip.Addr
}

// binding gates a pool behind an access list.
type binding struct {
	aclID    string
	pool     *Pool
	overload bool
}

// patKey identifies a PAT translation from the inside.
type patKey struct {
	local netip.Addr
	port  uint16
	proto packet.IPProtocol
}

// globalKey identifies a translation from the outside. The port
// is zero for non-PAT translations.
type globalKey struct {
	global netip.Addr
	port   uint16
	proto  packet.IPProtocol
}

// Statistics are aggregate translation counters.
type Statistics struct {
	// Active is the number of live translations.
	Active int

	// TotalAllocated counts translations ever created.
	TotalAllocated uint64

	// Hits counts packets translated.
	Hits uint64

	// Misses counts translation failures (pool or port
	// space exhausted).
	Misses uint64

	// Expired counts translations reclaimed by idle timeout.
	Expired uint64
}

// Engine is a per-router NAT instance.
//
// The zero value is not ready to use; construct using [NewEngine].
//
// An [*Engine] is safe for concurrent use by multiple goroutines.
type Engine struct {
	// Logger optionally emits structured events.
	Logger *slog.Logger

	// Timeout is the idle timeout for dynamic and PAT entries.
	Timeout time.Duration

	// clk tells the time.
	clk clock.Clock

	// acls evaluates pool-gating access lists.
	acls *acl.Engine

	// mu protects the fields below.
	mu sync.Mutex

	// inside and outside track interface roles.
	inside, outside map[string]bool

	// static maps inside-local to inside-global and back.
	static, staticReverse map[netip.Addr]netip.Addr

	// pools maps pool names to pools.
	pools map[string]*Pool

	// bindings are the ACL-to-pool rules in binding order.
	bindings []binding

	// byPAT indexes PAT translations from the inside.
	byPAT map[patKey]*Translation

	// byLocal indexes dynamic translations from the inside.
	byLocal map[netip.Addr]*Translation

	// byGlobal indexes dynamic and PAT translations from
	// the outside.
	byGlobal map[globalKey]*Translation

	// cursor is the next PAT port candidate.
	cursor uint16

	// stats are the aggregate counters.
	stats Statistics

	// reaper periodically reclaims idle translations.
	reaper clock.Timer
}

// NewEngine creates a [*Engine] evaluating pool-gating lists
// against the given ACL engine and timing out idle translations
// against the given clock.
func NewEngine(acls *acl.Engine, clk clock.Clock) *Engine {
	return &Engine{
		Timeout:       DefaultTimeout,
		clk:           clk,
		acls:          acls,
		inside:        make(map[string]bool),
		outside:       make(map[string]bool),
		static:        make(map[netip.Addr]netip.Addr),
		staticReverse: make(map[netip.Addr]netip.Addr),
		pools:         make(map[string]*Pool),
		byPAT:         make(map[patKey]*Translation),
		byLocal:       make(map[netip.Addr]*Translation),
		byGlobal:      make(map[globalKey]*Translation),
		cursor:        firstPATPort,
	}
}

// SetInsideInterface marks the interface as NAT inside.
func (eng *Engine) SetInsideInterface(iface string) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.inside[iface] = true
}

// SetOutsideInterface marks the interface as NAT outside.
func (eng *Engine) SetOutsideInterface(iface string) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.outside[iface] = true
}

// IsInside tells whether the interface is NAT inside.
func (eng *Engine) IsInside(iface string) bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.inside[iface]
}

// IsOutside tells whether the interface is NAT outside.
func (eng *Engine) IsOutside(iface string) bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.outside[iface]
}

// AddStaticNAT installs a static one-to-one translation. Within
// one engine an inside-local address maps to exactly one
// inside-global address.
func (eng *Engine) AddStaticNAT(insideLocal, insideGlobal netip.Addr) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if _, dup := eng.static[insideLocal]; dup {
		return fmt.Errorf("nat: %s already has a static translation", insideLocal)
	}
	if _, dup := eng.staticReverse[insideGlobal]; dup {
		return fmt.Errorf("nat: %s already backs a static translation", insideGlobal)
	}
	eng.static[insideLocal] = insideGlobal
	eng.staticReverse[insideGlobal] = insideLocal
	return nil
}

// AddPool defines a global address pool.
func (eng *Engine) AddPool(name string, start, end netip.Addr) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if packet.AddrToUint32(end) < packet.AddrToUint32(start) {
		return fmt.Errorf("nat: pool %s range is inverted", name)
	}
	eng.pools[name] = &Pool{Name: name, Start: start, End: end}
	return nil
}

// BindAccessList gates the named pool behind the given access
// list, appending to the rule list evaluated in binding order.
// With overload the pool's first address is shared through PAT.
func (eng *Engine) BindAccessList(aclID, poolName string, overload bool) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	pool := eng.pools[poolName]
	if pool == nil {
		return fmt.Errorf("nat: no such pool: %s", poolName)
	}
	eng.bindings = append(eng.bindings, binding{
		aclID:    aclID,
		pool:     pool,
		overload: overload,
	})
	return nil
}
