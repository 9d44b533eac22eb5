// SPDX-License-Identifier: GPL-3.0-or-later

// Package link models a point-to-point cable between two device
// interfaces. Delivery is synchronous: transmitting on one end
// invokes the peer's ReceiveFrame before Transmit returns, which
// keeps single-device logic deterministic.
package link

import (
	"errors"
	"sync"

	"github.com/rbmk-project/netlab/netsim/packet"
)

// Direction tells a [Snooper] which way a frame is going.
type Direction int

const (
	// AToB is a frame moving from end A to end B.
	AToB Direction = iota

	// BToA is a frame moving from end B to end A.
	BToA
)

// Snooper observes frames crossing a [*Cable] in either direction.
type Snooper func(dir Direction, frm *packet.Frame)

// errLinkDown is returned when transmitting on a down cable.
var errLinkDown = errors.New("link: cable is down")

// attachment is one cable end: the attached device and the port
// number the device knows this cable by.
type attachment struct {
	sink packet.FrameSink
	port int
}

// Cable connects two device interfaces.
//
// The zero value is not ready to use; construct using [New].
type Cable struct {
	// mu protects down and snoop.
	mu sync.Mutex

	// a and b are the two cable ends.
	a, b attachment

	// down tells whether the cable drops all frames.
	down bool

	// snoop optionally observes crossing frames.
	snoop Snooper
}

// New creates a [*Cable] between two devices. Each end records the
// local port number the attached device uses for this cable.
func New(aSink packet.FrameSink, aPort int, bSink packet.FrameSink, bPort int) *Cable {
	return &Cable{
		a: attachment{sink: aSink, port: aPort},
		b: attachment{sink: bSink, port: bPort},
	}
}

// Snoop installs the [Snooper] observing this cable.
func (c *Cable) Snoop(snoop Snooper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snoop = snoop
}

// SetDown administratively raises or lowers the cable. A down
// cable silently drops every frame.
func (c *Cable) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// EndA returns the [*Endpoint] transmitting from end A to end B.
func (c *Cable) EndA() *Endpoint {
	return &Endpoint{cable: c, dir: AToB}
}

// EndB returns the [*Endpoint] transmitting from end B to end A.
func (c *Cable) EndB() *Endpoint {
	return &Endpoint{cable: c, dir: BToA}
}

// deliver moves a frame towards the given direction.
func (c *Cable) deliver(dir Direction, frm *packet.Frame) error {
	c.mu.Lock()
	down, snoop := c.down, c.snoop
	c.mu.Unlock()
	if down {
		return errLinkDown
	}
	if snoop != nil {
		snoop(dir, frm)
	}
	dest := c.b
	if dir == BToA {
		dest = c.a
	}
	dest.sink.ReceiveFrame(dest.port, frm)
	return nil
}

// Endpoint is one transmitting end of a [*Cable]. It implements
// [packet.FrameTransmitter].
type Endpoint struct {
	cable *Cable
	dir   Direction
}

var _ packet.FrameTransmitter = &Endpoint{}

// Transmit implements [packet.FrameTransmitter].
func (ep *Endpoint) Transmit(frm *packet.Frame) error {
	return ep.cable.deliver(ep.dir, frm)
}
