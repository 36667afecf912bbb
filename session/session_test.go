package session_test

import (
	"context"
	"net/netip"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/wgtunnel/netsettings"
	"github.com/sabouaram/wgtunnel/provider"
	"github.com/sabouaram/wgtunnel/session"
	"github.com/sabouaram/wgtunnel/tunconfig"
)

// fakeUDPSession is a trivially-ready session double; these specs exercise
// Table bookkeeping, not real datagram delivery.
type fakeUDPSession struct{ closed bool }

func (f *fakeUDPSession) State() provider.ConnState                        { return provider.ConnStateReady }
func (f *fakeUDPSession) WriteDatagram(p []byte) error                     { return nil }
func (f *fakeUDPSession) SetReadHandler(h func([][]byte), maxDatagrams int) {}
func (f *fakeUDPSession) Close() error {
	f.closed = true
	return nil
}

// fakeProvider dials according to a per-address outcome table so specs can
// drive every DialAll branch (succeed, fail, hang past the deadline)
// without a real network.
type fakeProvider struct {
	fail map[string]bool
	hang map[string]bool
}

func (p *fakeProvider) ReadPackets(ctx context.Context) ([][]byte, []tunconfig.AddressFamily, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (p *fakeProvider) WritePackets(ctx context.Context, pkts [][]byte, fams []tunconfig.AddressFamily) error {
	return nil
}

func (p *fakeProvider) CreateUDPSession(ctx context.Context, to netip.AddrPort) (provider.UDPSession, error) {
	addr := to.Addr().String()
	if p.hang != nil && p.hang[addr] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.fail != nil && p.fail[addr] {
		return nil, context.Canceled
	}
	return &fakeUDPSession{}, nil
}

func (p *fakeProvider) SetTunnelNetworkSettings(ctx context.Context, s netsettings.Settings) error {
	return nil
}

func peerAt(addr string, port uint16) tunconfig.Peer {
	return tunconfig.Peer{
		Endpoint: &tunconfig.Endpoint{
			Family: tunconfig.AFInet,
			Addr:   netip.MustParseAddr(addr),
			Port:   port,
		},
	}
}

var _ = Describe("Key", func() {
	It("distinguishes address families on an otherwise identical endpoint", func() {
		addr := netip.MustParseAddr("203.0.113.5")
		v4 := session.KeyFromEndpoint(tunconfig.Endpoint{Family: tunconfig.AFInet, Addr: addr, Port: 51820})
		v6 := session.KeyFromEndpoint(tunconfig.Endpoint{Family: tunconfig.AFInet6, Addr: addr, Port: 51820})
		Expect(v4).NotTo(Equal(v6))
	})
})

var _ = Describe("Table", func() {
	var (
		tbl  *session.Table
		prov *fakeProvider
		ctx  context.Context
		cncl context.CancelFunc
	)

	BeforeEach(func() {
		tbl = session.NewTable()
		prov = &fakeProvider{fail: map[string]bool{}, hang: map[string]bool{}}
		ctx, cncl = context.WithTimeout(context.Background(), 2*time.Second)
	})

	AfterEach(func() {
		cncl()
	})

	It("reports no session for a key never dialed", func() {
		_, ok := tbl.Get(session.Key{})
		Expect(ok).To(BeFalse())
		Expect(tbl.Len()).To(Equal(0))
	})

	It("is a no-op when dialed with no peers", func() {
		Expect(tbl.DialAll(ctx, prov, nil)).To(Succeed())
		Expect(tbl.Len()).To(Equal(0))
	})

	It("brings up exactly one Ready session per distinct peer endpoint", func() {
		peers := []tunconfig.Peer{
			peerAt("203.0.113.1", 51820),
			peerAt("203.0.113.2", 51820),
		}
		Expect(tbl.DialAll(ctx, prov, peers)).To(Succeed())
		Expect(tbl.Len()).To(Equal(2))
		for _, s := range tbl.All() {
			Expect(s.State()).To(Equal(session.Ready))
		}
	})

	// property 5: at most one session per family/address/port, even if the
	// same endpoint is offered twice in one DialAll call.
	It("keeps at most one session per family/address/port", func() {
		peers := []tunconfig.Peer{
			peerAt("203.0.113.1", 51820),
			peerAt("203.0.113.1", 51820),
		}
		Expect(tbl.DialAll(ctx, prov, peers)).To(Succeed())
		Expect(tbl.Len()).To(Equal(1))
	})

	It("skips peers with no endpoint rather than dialing them", func() {
		peers := []tunconfig.Peer{{}, peerAt("203.0.113.1", 51820)}
		Expect(tbl.DialAll(ctx, prov, peers)).To(Succeed())
		Expect(tbl.Len()).To(Equal(1))
	})

	It("drops a session whose dial failed and reports ErrorNoOpenSocket if none survive", func() {
		prov.fail["203.0.113.1"] = true
		peers := []tunconfig.Peer{peerAt("203.0.113.1", 51820)}
		err := tbl.DialAll(ctx, prov, peers)
		Expect(err).To(HaveOccurred())
		Expect(tbl.Len()).To(Equal(0))
	})

	It("abandons a straggler still pending at the dial deadline without blocking past it", func() {
		prov.hang["203.0.113.9"] = true
		peers := []tunconfig.Peer{peerAt("203.0.113.9", 51820), peerAt("203.0.113.1", 51820)}

		start := time.Now()
		err := tbl.DialAll(ctx, prov, peers)
		Expect(time.Since(start)).To(BeNumerically("<", session.DialTimeout+time.Second))
		Expect(err).NotTo(HaveOccurred()) // one peer still reached Ready
		Expect(tbl.Len()).To(Equal(1))
	})

	It("closes every session on CloseAll and empties the table", func() {
		peers := []tunconfig.Peer{peerAt("203.0.113.1", 51820)}
		Expect(tbl.DialAll(ctx, prov, peers)).To(Succeed())
		Expect(tbl.Len()).To(Equal(1))
		tbl.CloseAll()
		Expect(tbl.Len()).To(Equal(0))
	})
})
