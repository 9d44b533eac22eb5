//go:build windows

// SPDX-License-Identifier: GPL-3.0-or-later

//
// Windows errno definitions.
//

package host

import "golang.org/x/sys/windows"

const (
	// EHOSTUNREACH is the host unreachable error.
	EHOSTUNREACH = windows.WSAEHOSTUNREACH

	// ENETUNREACH is the network unreachable error.
	ENETUNREACH = windows.WSAENETUNREACH

	// ENETDOWN is the network is down error.
	ENETDOWN = windows.WSAENETDOWN

	// ETIMEDOUT is the operation timed out error.
	ETIMEDOUT = windows.WSAETIMEDOUT
)
