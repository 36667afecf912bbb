package tunconfig

import (
	"fmt"
	"net/netip"

	"github.com/nabbar/golib/duration"
	"gopkg.in/yaml.v3"
)

// parseKeepalive accepts both plain Go durations ("25s") and the
// day-notation nabbar/golib duration format ("1d2h"), matching the
// flexibility wg-quick users expect from a keepalive value.
func parseKeepalive(s string) (duration.Duration, error) {
	return duration.Parse(s)
}

// yamlDoc mirrors TunnelConfig with string-based address/prefix fields,
// since netip types don't round-trip through yaml.v3 without a shim.
type yamlDoc struct {
	Interface struct {
		PrivateKey Key      `yaml:"privateKey"`
		Addresses  []string `yaml:"addresses"`
		DNSServers []string `yaml:"dnsServers"`
		DNSSearch  []string `yaml:"dnsSearch"`
		MTU        int      `yaml:"mtu"`
		Mobile     bool     `yaml:"mobile"`
	} `yaml:"interface"`
	Peers []struct {
		PublicKey           Key      `yaml:"publicKey"`
		PresharedKey        *Key     `yaml:"presharedKey,omitempty"`
		Endpoint            string   `yaml:"endpoint,omitempty"`
		AllowedIPs          []string `yaml:"allowedIPs"`
		PersistentKeepalive string   `yaml:"persistentKeepalive,omitempty"`
	} `yaml:"peers"`
}

// Decode parses a TunnelConfig from YAML bytes in the layout documented in
// cmd/wgtunneld's sample config.
func Decode(b []byte) (TunnelConfig, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return TunnelConfig{}, fmt.Errorf("tunconfig: decode: %w", err)
	}

	var cfg TunnelConfig
	cfg.Interface.PrivateKey = doc.Interface.PrivateKey
	cfg.Interface.MTU = doc.Interface.MTU
	cfg.Interface.Mobile = doc.Interface.Mobile
	cfg.Interface.DNSSearch = doc.Interface.DNSSearch

	for _, a := range doc.Interface.Addresses {
		p, err := netip.ParsePrefix(a)
		if err != nil {
			return TunnelConfig{}, fmt.Errorf("tunconfig: interface address %q: %w", a, err)
		}
		cfg.Interface.Addresses = append(cfg.Interface.Addresses, p)
	}
	for _, d := range doc.Interface.DNSServers {
		a, err := netip.ParseAddr(d)
		if err != nil {
			return TunnelConfig{}, fmt.Errorf("tunconfig: dns server %q: %w", d, err)
		}
		cfg.Interface.DNSServers = append(cfg.Interface.DNSServers, a)
	}

	for i, pd := range doc.Peers {
		peer := Peer{
			PublicKey:    pd.PublicKey,
			PresharedKey: pd.PresharedKey,
		}

		if pd.Endpoint != "" {
			ap, err := netip.ParseAddrPort(pd.Endpoint)
			if err != nil {
				return TunnelConfig{}, fmt.Errorf("tunconfig: peer %d endpoint %q: %w", i, pd.Endpoint, err)
			}
			fam := AFInet
			if ap.Addr().Is6() && !ap.Addr().Is4In6() {
				fam = AFInet6
			}
			peer.Endpoint = &Endpoint{Family: fam, Addr: ap.Addr(), Port: ap.Port()}
		}

		for _, cidr := range pd.AllowedIPs {
			p, err := netip.ParsePrefix(cidr)
			if err != nil {
				return TunnelConfig{}, fmt.Errorf("tunconfig: peer %d allowedIP %q: %w", i, cidr, err)
			}
			peer.AllowedIPs = append(peer.AllowedIPs, p)
		}

		if pd.PersistentKeepalive != "" {
			d, err := parseKeepalive(pd.PersistentKeepalive)
			if err != nil {
				return TunnelConfig{}, fmt.Errorf("tunconfig: peer %d persistentKeepalive: %w", i, err)
			}
			peer.PersistentKeepalive = d
		}

		cfg.Peers = append(cfg.Peers, peer)
	}

	return cfg, cfg.Validate()
}
