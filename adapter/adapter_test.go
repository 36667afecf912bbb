package adapter_test

import (
	"context"
	"net/netip"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/wgtunnel/adapter"
	"github.com/sabouaram/wgtunnel/engine/loopback"
	"github.com/sabouaram/wgtunnel/netsettings"
	"github.com/sabouaram/wgtunnel/provider"
	"github.com/sabouaram/wgtunnel/tunconfig"
)

// fakeUDPSession is a ready-immediately session double: it never receives
// real datagrams in these tests, only exercises the Ready/Close paths
// DialAll and teardown depend on.
type fakeUDPSession struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeUDPSession) State() provider.ConnState    { return provider.ConnStateReady }
func (f *fakeUDPSession) WriteDatagram(p []byte) error { return nil }
func (f *fakeUDPSession) SetReadHandler(h func([][]byte), maxDatagrams int) {}
func (f *fakeUDPSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeProvider is a packet-tunnel provider double that opens a fresh
// fakeUDPSession per call and records the last settings it was handed, so
// Block's "settings actually installed" contract has something to assert
// against.
type fakeProvider struct {
	mu             sync.Mutex
	lastSettings   netsettings.Settings
	settingsCalls  int
	failSettings   bool
	settingsStalls bool
}

func (p *fakeProvider) ReadPackets(ctx context.Context) ([][]byte, []tunconfig.AddressFamily, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (p *fakeProvider) WritePackets(ctx context.Context, pkts [][]byte, fams []tunconfig.AddressFamily) error {
	return nil
}

func (p *fakeProvider) CreateUDPSession(ctx context.Context, to netip.AddrPort) (provider.UDPSession, error) {
	return &fakeUDPSession{}, nil
}

func (p *fakeProvider) SetTunnelNetworkSettings(ctx context.Context, s netsettings.Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settingsCalls++
	p.lastSettings = s
	if p.settingsStalls {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.failSettings {
		return context.Canceled
	}
	return nil
}

func (p *fakeProvider) calls() (int, netsettings.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settingsCalls, p.lastSettings
}

func validConfig() tunconfig.TunnelConfig {
	return tunconfig.TunnelConfig{
		Interface: tunconfig.Interface{
			Addresses: []netip.Prefix{netip.MustParsePrefix("10.0.0.2/32")},
		},
		Peers: []tunconfig.Peer{
			{
				Endpoint: &tunconfig.Endpoint{
					Family: tunconfig.AFInet,
					Addr:   netip.MustParseAddr("127.0.0.1"),
					Port:   51999,
				},
				AllowedIPs: []netip.Prefix{netip.MustParsePrefix("0.0.0.0/0")},
			},
		},
	}
}

var _ = Describe("Adapter", func() {
	var (
		a    *adapter.Adapter
		prov *fakeProvider
		ctx  context.Context
	)

	BeforeEach(func() {
		prov = &fakeProvider{}
		a = adapter.New(context.Background(), loopback.New(), prov)
		ctx = context.Background()
	})

	// S1: start/stop cycle is idempotent and resets counters.
	Context("start/stop cycle", func() {
		It("reaches Running on Start and Idle on Stop, idempotently", func() {
			Expect(a.Start(ctx, validConfig())).To(Succeed())
			Expect(a.State()).To(Equal(adapter.Running))

			Expect(a.Stop(ctx)).To(Succeed())
			Expect(a.State()).To(Equal(adapter.Idle))

			// Stop is idempotent.
			Expect(a.Stop(ctx)).To(Succeed())

			stats := a.Stats()
			Expect(stats.BytesReceived).To(BeZero())
			Expect(stats.BytesSent).To(BeZero())
		})
	})

	// S2: a peer with no endpoint is the NoPeers condition.
	Context("starting with no dialable peer", func() {
		It("rejects a config with no peers at all", func() {
			err := a.Start(ctx, tunconfig.TunnelConfig{})
			Expect(err).To(HaveOccurred())
			Expect(a.State()).To(Equal(adapter.Idle))
			stats := a.Stats()
			Expect(stats.BytesReceived).To(BeZero())
			Expect(stats.BytesSent).To(BeZero())
		})

		It("rejects a config whose only peer has a nil endpoint", func() {
			cfg := tunconfig.TunnelConfig{Peers: []tunconfig.Peer{{}}}
			err := a.Start(ctx, cfg)
			Expect(err).To(HaveOccurred())
			Expect(a.State()).To(Equal(adapter.Idle))
		})
	})

	// S3: Update resets counters and restarts cleanly.
	Context("Update", func() {
		It("resets counters and returns to Running", func() {
			Expect(a.Start(ctx, validConfig())).To(Succeed())
			defer func() { _ = a.Stop(ctx) }()

			Expect(a.Update(ctx, validConfig())).To(Succeed())
			Expect(a.State()).To(Equal(adapter.Running))
			stats := a.Stats()
			Expect(stats.BytesReceived).To(BeZero())
			Expect(stats.BytesSent).To(BeZero())
		})
	})

	// S4: a SetTunnelNetworkSettings timeout aborts Start and reverts to Idle.
	Context("network settings timeout during Start", func() {
		It("reverts to Idle without leaving an engine running", func() {
			prov.settingsStalls = true
			startCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			err := a.Start(startCtx, validConfig())
			Expect(err).To(HaveOccurred())
			Expect(a.State()).To(Equal(adapter.Idle))
		})
	})

	Context("Block", func() {
		It("installs network settings and transitions out of Running with no engine", func() {
			Expect(a.Start(ctx, validConfig())).To(Succeed())

			cfg := validConfig()
			Expect(a.Block(ctx, cfg)).To(Succeed())
			Expect(a.State()).To(Equal(adapter.Blocked))

			calls, settings := prov.calls()
			Expect(calls).To(BeNumerically(">=", 2)) // once from Start, once from Block
			Expect(settings.IPv4.Addresses).NotTo(BeEmpty())

			a.Unblock()
			Expect(a.State()).To(Equal(adapter.Idle))
		})

		It("propagates a provider failure instead of transitioning to Blocked", func() {
			prov.failSettings = true
			err := a.Block(ctx, validConfig())
			Expect(err).To(HaveOccurred())
			Expect(a.State()).NotTo(Equal(adapter.Blocked))
		})
	})

	Context("StopOnQueue", func() {
		It("waits for the command queue to drain before stopping", func() {
			Expect(a.Start(ctx, validConfig())).To(Succeed())
			Expect(a.StopOnQueue(ctx)).To(Succeed())
			Expect(a.State()).To(Equal(adapter.Idle))
		})

		It("is safe to call on an already-idle adapter", func() {
			Expect(a.StopOnQueue(ctx)).To(Succeed())
			Expect(a.State()).To(Equal(adapter.Idle))
		})
	})

	Context("timer kick", func() {
		It("reaches the engine shortly after Start without panicking", func() {
			Expect(a.Start(ctx, validConfig())).To(Succeed())
			defer func() { _ = a.Stop(ctx) }()

			// The initial tick kick fires ~10ms after Start; give it room.
			time.Sleep(200 * time.Millisecond)
		})
	})
})
