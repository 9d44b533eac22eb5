//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Aliases
//

package netsim

import (
	"github.com/rbmk-project/netlab/netsim/bridge"
	"github.com/rbmk-project/netlab/netsim/clock"
	"github.com/rbmk-project/netlab/netsim/host"
	"github.com/rbmk-project/netlab/netsim/link"
	"github.com/rbmk-project/netlab/netsim/router"
)

// Host is an alias for [host.Host].
type Host = host.Host

// Router is an alias for [router.Router].
type Router = router.Router

// Switch is an alias for [bridge.Switch].
type Switch = bridge.Switch

// Cable is an alias for [link.Cable].
type Cable = link.Cable

// NewManualClock is an alias for [clock.NewManual].
var NewManualClock = clock.NewManual
