// Package tunconfig defines the tunnel configuration data model: the
// wg-quick-shaped interface/peer set the adapter is started, updated or
// blocked with.
package tunconfig

import (
	"encoding/base64"
	"fmt"
	"net/netip"

	"github.com/nabbar/golib/duration"

	"github.com/sabouaram/wgtunnel/wgerrors"
)

// AddressFamily mirrors the literal C-ABI family tags the injected engine
// and the platform packet-tunnel provider exchange; values are fixed, not
// iota-assigned, so they remain stable across the FFI boundary.
type AddressFamily uint8

const (
	AFInet  AddressFamily = 2
	AFInet6 AddressFamily = 30
)

func (f AddressFamily) String() string {
	switch f {
	case AFInet:
		return "inet"
	case AFInet6:
		return "inet6"
	default:
		return fmt.Sprintf("AddressFamily(%d)", uint8(f))
	}
}

// Key is a raw 32-byte Curve25519 key, base64-encoded in YAML the way
// wg-quick config files encode it.
type Key [32]byte

func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func (k Key) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

func (k *Key) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("tunconfig: invalid base64 key: %w", err)
	}
	if len(raw) != len(k) {
		return fmt.Errorf("tunconfig: key must decode to %d bytes, got %d", len(k), len(raw))
	}
	copy(k[:], raw)
	return nil
}

// Endpoint is a peer's remote address, carrying the address family
// explicitly since a hostname can resolve to either.
type Endpoint struct {
	Family AddressFamily
	Addr   netip.Addr
	Port   uint16
}

func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

// Peer is one WireGuard peer: its static key material, optional preshared
// key, last-known endpoint, allowed-IPs set and keepalive interval.
type Peer struct {
	PublicKey           Key
	PresharedKey        *Key
	Endpoint            *Endpoint
	AllowedIPs          []netip.Prefix
	PersistentKeepalive duration.Duration
}

// Interface is the local tunnel interface configuration.
type Interface struct {
	PrivateKey Key
	Addresses  []netip.Prefix
	DNSServers []netip.Addr
	DNSSearch  []string
	MTU        int
	// Mobile selects the reduced-MTU, battery-friendly route policy in
	// netsettings when true.
	Mobile bool
}

// TunnelConfig is the complete input to adapter.Start/Update: one local
// interface plus the peer set.
type TunnelConfig struct {
	Interface Interface
	Peers     []Peer
}

// Validate checks the invariants the adapter relies on before it touches
// the engine or any socket: at least one peer, and every peer carrying a
// usable endpoint address. A peer with no endpoint at all (or no peers at
// all) is the NoPeers condition: there is nothing dialable to bring up.
func (c TunnelConfig) Validate() error {
	if len(c.Peers) == 0 {
		return wgerrors.ErrorNoPeers.Error(nil)
	}
	for i := range c.Peers {
		p := &c.Peers[i]
		if p.Endpoint == nil {
			return wgerrors.ErrorNoPeers.Error(fmt.Errorf("tunconfig: peer %d has no endpoint", i))
		}
		if !p.Endpoint.Addr.IsValid() {
			return fmt.Errorf("tunconfig: peer %d has an endpoint with no address", i)
		}
	}
	return nil
}
