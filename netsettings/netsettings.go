// Package netsettings translates a tunconfig.TunnelConfig into the
// platform-neutral network settings value the adapter hands to the
// packet-tunnel provider once a tunnel is up. The translation is a pure
// function: no I/O, no engine or session state.
package netsettings

import (
	"net/netip"

	"github.com/sabouaram/wgtunnel/tunconfig"
)

// placeholderRemote is the fixed loopback address settings carry as the
// "remote" endpoint of the virtual tunnel interface; the real remote
// varies per peer and per packet, so the interface-level settings use this
// fixed placeholder rather than any one peer's address.
var placeholderRemote = netip.MustParseAddr("127.0.0.1")

// mobileMTU is applied whenever Interface.Mobile is set, regardless of any
// configured MTU value, to keep mobile radios off path-MTU discovery.
const mobileMTU = 1280

// tunnelOverhead is added on top of the path MTU when no explicit MTU was
// configured and Mobile is false: WireGuard's own header overhead.
const tunnelOverhead = 80

// v6PrefixClamp is the maximum IPv6 prefix length accepted in route/address
// settings; longer prefixes are clamped down to this value.
const v6PrefixClamp = 120

// Route is one included route: a destination prefix plus an optional
// gateway override. Gateway is the zero netip.Addr ("no override") for
// every peer allowed-IP route; interface-address routes carry the
// interface address itself as the gateway.
type Route struct {
	Prefix  netip.Prefix
	Gateway netip.Addr
}

// IPv4Settings and IPv6Settings mirror the platform's address/route
// settings shape for each family.
type IPv4Settings struct {
	Addresses      []netip.Addr
	SubnetMasks    []netip.Addr
	IncludedRoutes []Route
}

type IPv6Settings struct {
	Addresses      []netip.Addr
	PrefixLengths  []int
	IncludedRoutes []Route
}

// DNSSettings mirrors the platform's DNS settings shape; a nil/empty
// Servers and MatchDomains pair means "no DNS settings block at all" per
// the Build rule below, not "apply empty settings."
type DNSSettings struct {
	Servers       []netip.Addr
	SearchDomains []string
	MatchDomains  []string
}

// Settings is the complete network-settings value handed to the platform
// provider.
type Settings struct {
	RemoteAddress  netip.Addr
	MTU            int // 0 means "let the platform pick a default"
	TunnelOverhead int // set only when MTU is left unset on a desktop profile
	IPv4           IPv4Settings
	IPv6           IPv6Settings
	DNS            *DNSSettings
}

// Build translates a TunnelConfig into Settings following these rules:
//
//   - RemoteAddress is always the fixed loopback placeholder: the settings
//     object describes the local interface, not any one peer.
//   - MTU is mobileMTU when Interface.Mobile is set; otherwise the
//     configured MTU if non-zero; otherwise MTU is left at 0 and
//     TunnelOverhead is set to tunnelOverhead so the platform can derive
//     its own MTU from path MTU minus that overhead.
//   - IPv6 prefixes longer than v6PrefixClamp are clamped to it.
//   - Included routes: every interface address contributes a route to its
//     network-masked prefix with the interface address itself as gateway;
//     every peer allowed-IP range contributes a route with no gateway
//     override.
//   - A DNS block is only emitted when servers or search domains were
//     configured; when servers are present, MatchDomains is forced to
//     [""] so every lookup is routed through the tunnel resolver.
func Build(cfg tunconfig.TunnelConfig) (Settings, error) {
	s := Settings{RemoteAddress: placeholderRemote}

	switch {
	case cfg.Interface.Mobile:
		s.MTU = mobileMTU
	case cfg.Interface.MTU != 0:
		s.MTU = cfg.Interface.MTU
	default:
		s.TunnelOverhead = tunnelOverhead
	}

	for _, p := range cfg.Interface.Addresses {
		addr := p.Addr()
		if addr.Is4() {
			s.IPv4.Addresses = append(s.IPv4.Addresses, addr)
			s.IPv4.SubnetMasks = append(s.IPv4.SubnetMasks, subnetMaskV4(p.Bits()))
			s.IPv4.IncludedRoutes = append(s.IPv4.IncludedRoutes, interfaceRoute(p))
		} else {
			s.IPv6.Addresses = append(s.IPv6.Addresses, addr)
			s.IPv6.PrefixLengths = append(s.IPv6.PrefixLengths, clampV6(p.Bits()))
			s.IPv6.IncludedRoutes = append(s.IPv6.IncludedRoutes, interfaceRoute(p))
		}
	}

	for _, peer := range cfg.Peers {
		for _, allowed := range peer.AllowedIPs {
			if allowed.Addr().Is4() {
				s.IPv4.IncludedRoutes = append(s.IPv4.IncludedRoutes, Route{Prefix: allowed})
			} else {
				clamped := netip.PrefixFrom(allowed.Addr(), clampV6(allowed.Bits()))
				s.IPv6.IncludedRoutes = append(s.IPv6.IncludedRoutes, Route{Prefix: clamped})
			}
		}
	}

	if len(cfg.Interface.DNSServers) > 0 || len(cfg.Interface.DNSSearch) > 0 {
		d := &DNSSettings{
			Servers:       append([]netip.Addr(nil), cfg.Interface.DNSServers...),
			SearchDomains: append([]string(nil), cfg.Interface.DNSSearch...),
		}
		if len(d.Servers) > 0 {
			d.MatchDomains = []string{""}
		}
		s.DNS = d
	}

	return s, nil
}

// interfaceRoute builds the network-masked route a local interface address
// contributes, gatewayed through that same address. v6 bit counts are
// clamped the same way the address's own PrefixLengths entry is.
func interfaceRoute(p netip.Prefix) Route {
	addr := p.Addr()
	bits := p.Bits()
	if addr.Is6() {
		bits = clampV6(bits)
	}
	return Route{Prefix: netip.PrefixFrom(addr, bits).Masked(), Gateway: addr}
}

func clampV6(bits int) int {
	if bits > v6PrefixClamp {
		return v6PrefixClamp
	}
	return bits
}

// subnetMaskV4 renders a v4 prefix length as a dotted-quad subnet mask, the
// shape the platform's IPv4Settings expects instead of a bit count.
func subnetMaskV4(bits int) netip.Addr {
	var mask [4]byte
	for i := 0; i < bits && i < 32; i++ {
		mask[i/8] |= 1 << (7 - uint(i%8))
	}
	return netip.AddrFrom4(mask)
}
