// Package session manages the per-peer UDP transport sessions the packet
// pump reads from and the engine callbacks write to: at most one session
// per (address family, address, port), opened concurrently through the
// platform packet-tunnel provider with a bounded wait, exposed through an
// explicit readiness signal instead of the KVO-style observation an
// Objective-C/Swift port would reach for.
package session

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	libsem "github.com/nabbar/golib/semaphore/sem"

	"github.com/sabouaram/wgtunnel/provider"
	"github.com/sabouaram/wgtunnel/tunconfig"
	"github.com/sabouaram/wgtunnel/wgerrors"
)

// DialTimeout bounds how long Table.DialAll waits for every peer session
// to finish connecting before giving up on the stragglers.
const DialTimeout = 5 * time.Second

// State is a session's connection lifecycle stage.
type State uint8

const (
	Pending State = iota
	Ready
	Failed
	Cancelled
)

// Key identifies a session slot: address family plus remote address and
// port. Both v4 and v6 peers are stored the same way — the original
// implementation this module replaces only ever populated the v4 table;
// here the two are symmetric.
type Key struct {
	Family tunconfig.AddressFamily
	Addr   netip.Addr
	Port   uint16
}

func KeyFromEndpoint(e tunconfig.Endpoint) Key {
	return Key{Family: e.Family, Addr: e.Addr, Port: e.Port}
}

// Session wraps one platform-owned UDP transport to a single peer
// endpoint. The transport itself is supplied by the host's
// provider.PacketTunnelProvider — this type only tracks the session's
// dial-time readiness and forwards reads/writes to it.
type Session struct {
	key Key

	mu    sync.Mutex
	state State
	ready chan struct{}
	ups   provider.UDPSession
}

// Key reports the (family, addr, port) this session was dialed for.
func (s *Session) Key() Key { return s.key }

// State reports the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready is closed once the session transitions to Ready, Failed or
// Cancelled; callers select on it alongside a deadline rather than polling
// State().
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) resolve(st State, ups provider.UDPSession) {
	s.mu.Lock()
	if s.state != Pending {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.ups = ups
	s.mu.Unlock()
	close(s.ready)
}

// Write sends one already-encrypted datagram to the peer.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	ups := s.ups
	s.mu.Unlock()
	if ups == nil {
		return 0, fmt.Errorf("session: not dialed")
	}
	if err := ups.WriteDatagram(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadHandler installs fn as the callback for datagram batches the
// platform delivers off this session's transport, bounded to at most
// maxDatagrams per invocation. This is the push-based counterpart to a
// blocking read loop: the provider, not this session, owns the read loop.
func (s *Session) SetReadHandler(maxDatagrams int, fn func(datagrams [][]byte)) {
	s.mu.Lock()
	ups := s.ups
	s.mu.Unlock()
	if ups != nil {
		ups.SetReadHandler(fn, maxDatagrams)
	}
}

// Close tears down the underlying transport, if one was ever established.
func (s *Session) Close() error {
	s.mu.Lock()
	ups := s.ups
	s.mu.Unlock()
	if ups == nil {
		return nil
	}
	return ups.Close()
}

// Table is the Session Table: every active per-peer UDP session, keyed by
// address family/address/port, with at most one entry per key.
type Table struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[Key]*Session)}
}

// Get returns the session for the given key, if any.
func (t *Table) Get(k Key) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[k]
	return s, ok
}

// All returns a snapshot of every live session, for the pump's read-loop
// wiring and for Close.
func (t *Table) All() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// DialAll opens one UDP session per peer endpoint concurrently through
// prov.CreateUDPSession, bounded by a semaphore (so a pathological peer
// list can't fork unbounded goroutines) and by an overall deadline:
// stragglers still Pending when the deadline hits are abandoned rather
// than awaited forever. A peer with no endpoint has nothing to dial and
// is skipped — tunconfig.TunnelConfig.Validate rejects that case before
// Start ever reaches here. Returns wgerrors.ErrorNoOpenSocket if not a
// single session reached Ready.
func (t *Table) DialAll(ctx context.Context, prov provider.PacketTunnelProvider, peers []tunconfig.Peer) error {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	sem := libsem.New(dialCtx, int64(len(peers)))
	defer sem.DeferMain()

	type attempt struct {
		sess *Session
		to   netip.AddrPort
	}
	attempts := make([]attempt, 0, len(peers))

	t.mu.Lock()
	for _, p := range peers {
		if p.Endpoint == nil {
			continue
		}
		k := KeyFromEndpoint(*p.Endpoint)
		if _, exists := t.sessions[k]; exists {
			continue
		}
		s := &Session{key: k, ready: make(chan struct{})}
		t.sessions[k] = s
		attempts = append(attempts, attempt{sess: s, to: p.Endpoint.AddrPort()})
	}
	t.mu.Unlock()

	for _, a := range attempts {
		a := a
		if err := sem.NewWorker(); err != nil {
			a.sess.resolve(Cancelled, nil)
			continue
		}
		go func() {
			defer sem.DeferWorker()
			ups, err := prov.CreateUDPSession(dialCtx, a.to)
			if err != nil || ups == nil {
				a.sess.resolve(Failed, nil)
				return
			}
			switch ups.State() {
			case provider.ConnStateFailed, provider.ConnStateCancelled:
				_ = ups.Close()
				a.sess.resolve(Failed, nil)
			default:
				a.sess.resolve(Ready, ups)
			}
		}()
	}

	// WaitAll blocks until every dialing worker has deferred, or until
	// dialCtx's 5s deadline fires; stragglers left Pending past that point
	// are abandoned below rather than awaited forever.
	_ = sem.WaitAll()

	ready := t.RemoveNotReady()
	if ready == 0 && len(attempts) > 0 {
		return wgerrors.ErrorNoOpenSocket.Error(dialCtx.Err())
	}
	return nil
}

// RemoveNotReady drops every session that never reached Ready (Pending at
// the time of the call is treated as abandoned, Failed/Cancelled sessions
// are always dropped) and returns the count of sessions still in the
// table.
func (t *Table) RemoveNotReady() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, s := range t.sessions {
		switch s.State() {
		case Ready:
			continue
		default:
			_ = s.Close()
			delete(t.sessions, k)
		}
	}
	return len(t.sessions)
}

// CloseAll tears down every session and empties the table.
func (t *Table) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, s := range t.sessions {
		_ = s.Close()
		delete(t.sessions, k)
	}
}

// Len reports the number of live sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
