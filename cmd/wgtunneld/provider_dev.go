package main

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/sabouaram/wgtunnel/netsettings"
	"github.com/sabouaram/wgtunnel/provider"
	"github.com/sabouaram/wgtunnel/tunconfig"
)

// devProvider is a stand-in packet-tunnel provider for exercising the
// adapter from the command line: it never produces host packets of its
// own, and it prints the network settings it's handed instead of
// installing them into a real interface.
type devProvider struct{}

func (devProvider) ReadPackets(ctx context.Context) ([][]byte, []tunconfig.AddressFamily, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (devProvider) WritePackets(ctx context.Context, pkts [][]byte, fams []tunconfig.AddressFamily) error {
	return nil
}

func (devProvider) CreateUDPSession(ctx context.Context, to netip.AddrPort) (provider.UDPSession, error) {
	return nil, fmt.Errorf("wgtunneld: dev provider does not open platform UDP sessions")
}

func (devProvider) SetTunnelNetworkSettings(ctx context.Context, s netsettings.Settings) error {
	fmt.Printf("network settings applied: mtu=%d remote=%s\n", s.MTU, s.RemoteAddress)
	return nil
}
