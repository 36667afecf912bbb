// Package provider defines the external collaborators this module expects
// the host application to supply: the platform packet-tunnel provider that
// owns the real virtual interface and per-peer sockets, and the network
// settings it is handed once a tunnel comes up. Everything here is an
// interface — no implementation lives in this module.
package provider

import (
	"context"
	"net/netip"

	"github.com/sabouaram/wgtunnel/netsettings"
	"github.com/sabouaram/wgtunnel/tunconfig"
)

// Tun is the virtual network interface: batches of IP packets in, batches
// of IP packets out, each tagged with the address family it belongs to.
type Tun interface {
	// ReadPackets blocks until at least one packet is available, or ctx is
	// done. The returned slices are parallel: packets[i] belongs to
	// families[i].
	ReadPackets(ctx context.Context) (packets [][]byte, families []tunconfig.AddressFamily, err error)
	// WritePackets writes a batch of IP packets to the interface.
	WritePackets(ctx context.Context, packets [][]byte, families []tunconfig.AddressFamily) error
}

// ConnState mirrors the state machine a platform UDP session reports
// through its connection callback.
type ConnState uint8

const (
	ConnStateWaiting ConnState = iota
	ConnStatePreparing
	ConnStateReady
	ConnStateFailed
	ConnStateCancelled
)

// UDPSession is one platform-owned UDP socket to a peer.
type UDPSession interface {
	State() ConnState
	WriteDatagram(p []byte) error
	// SetReadHandler installs the callback invoked with up to maxDatagrams
	// datagrams per call.
	SetReadHandler(h func(datagrams [][]byte), maxDatagrams int)
	// Close releases the underlying transport. Safe to call on a session
	// that never reached Ready.
	Close() error
}

// PacketTunnelProvider is the full platform collaborator: the virtual
// interface plus the ability to open per-peer UDP sessions and apply
// network settings.
type PacketTunnelProvider interface {
	Tun

	CreateUDPSession(ctx context.Context, to netip.AddrPort) (UDPSession, error)

	// SetTunnelNetworkSettings applies settings and blocks until the
	// platform acknowledges them or ctx is done.
	SetTunnelNetworkSettings(ctx context.Context, s netsettings.Settings) error
}
