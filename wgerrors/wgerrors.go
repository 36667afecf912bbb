// Package wgerrors defines the error taxonomy shared across the tunnel
// adapter's packages, following the nabbar/golib liberr CodeError idiom:
// a package-owned code range, collision-checked at init, with messages
// registered once and looked up through getMessage.
package wgerrors

import (
	"fmt"

	liberr "github.com/nabbar/golib/errors"
)

// MinPkgWgTunnel reserves this module's error codes above
// liberr.MinAvailable, the first code nabbar/golib itself leaves free for
// downstream packages.
const MinPkgWgTunnel = liberr.MinAvailable + 9000

const (
	// ErrorInitializationFailed covers engine handle creation failures and
	// malformed TunnelConfig passed to Start.
	ErrorInitializationFailed liberr.CodeError = iota + MinPkgWgTunnel
	// ErrorNoPeers is returned when Start/Update is called with zero peers.
	ErrorNoPeers
	// ErrorNetworkSettings covers failures applying settings through the
	// platform packet-tunnel provider.
	ErrorNetworkSettings
	// ErrorNetworkSettingsTimeout is returned when the provider does not
	// acknowledge settings within the bounded wait.
	ErrorNetworkSettingsTimeout
	// ErrorNoOpenSocket is returned when every peer session fails to dial
	// within the bounded wait.
	ErrorNoOpenSocket
)

func init() {
	if liberr.ExistInMapMessage(ErrorInitializationFailed) {
		panic(fmt.Errorf("error code collision with package wgtunnel/wgerrors"))
	}
	liberr.RegisterIdFctMessage(ErrorInitializationFailed, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorInitializationFailed:
		return "tunnel engine initialization failed"
	case ErrorNoPeers:
		return "tunnel config has no peers"
	case ErrorNetworkSettings:
		return "applying network settings failed"
	case ErrorNetworkSettingsTimeout:
		return "applying network settings timed out"
	case ErrorNoOpenSocket:
		return "no peer session could be opened"
	}

	return liberr.NullMessage
}
