// Package pump feeds the engine from its two live sources: a pull-based
// read loop draining IP packets off the virtual interface, and a
// push-based handler draining UDP datagrams off each peer session. Both
// only ever enqueue work onto the adapter's serial command channel — they
// never touch engine or session state directly, keeping every mutation on
// the single-writer executor.
package pump

import (
	"context"

	"github.com/sabouaram/wgtunnel/provider"
	"github.com/sabouaram/wgtunnel/session"
	"github.com/sabouaram/wgtunnel/tunconfig"
)

// HostPacket is one IP packet read from the virtual interface, tagged with
// its address family.
type HostPacket struct {
	Data   []byte
	Family tunconfig.AddressFamily
}

// TunnelDatagram is one UDP datagram read from a peer session.
type TunnelDatagram struct {
	Key  session.Key
	Data []byte
}

// RunInterface reads batches of packets off tun until ctx is done, copying
// each one (the provider may reuse its read buffer across calls) before
// handing it to enqueue.
func RunInterface(ctx context.Context, tun provider.Tun, enqueue func(HostPacket)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkts, fams, err := tun.ReadPackets(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A transient read error ends only this batch; the loop
			// re-arms immediately rather than tearing down the pump.
			continue
		}

		for i, p := range pkts {
			cp := make([]byte, len(p))
			copy(cp, p)
			fam := tunconfig.AFInet
			if i < len(fams) {
				fam = fams[i]
			}
			enqueue(HostPacket{Data: cp, Family: fam})
		}
	}
}

// maxDatagramsPerRead bounds how many datagrams the provider may batch
// into one session read-handler invocation.
const maxDatagramsPerRead = 1024

// WireSession installs enqueue as the read handler for one session's
// transport. Unlike RunInterface, this isn't a loop to run in a
// goroutine: the platform provider owns the read loop and pushes
// datagrams to the handler as they arrive, one of the suspension points
// that deliver back onto the adapter's serial executor.
func WireSession(s *session.Session, enqueue func(TunnelDatagram)) {
	key := s.Key()
	s.SetReadHandler(maxDatagramsPerRead, func(datagrams [][]byte) {
		for _, d := range datagrams {
			cp := make([]byte, len(d))
			copy(cp, d)
			enqueue(TunnelDatagram{Key: key, Data: cp})
		}
	})
}
