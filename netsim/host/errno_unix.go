//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

//
// UNIX errno definitions.
//

package host

import "golang.org/x/sys/unix"

const (
	// EHOSTUNREACH is the host unreachable error.
	EHOSTUNREACH = unix.EHOSTUNREACH

	// ENETUNREACH is the network unreachable error.
	ENETUNREACH = unix.ENETUNREACH

	// ENETDOWN is the network is down error.
	ENETDOWN = unix.ENETDOWN

	// ETIMEDOUT is the operation timed out error.
	ETIMEDOUT = unix.ETIMEDOUT
)
