// Package loopback provides a pure-Go engine.Core stub used by tests and by
// the wgtunneld demo command: it performs no cryptography at all, simply
// wrapping IP packets into UDP datagrams (and back) so the rest of the
// adapter's plumbing can be exercised without a real WireGuard core.
package loopback

import (
	"errors"
	"sync"

	"github.com/sabouaram/wgtunnel/engine"
	"github.com/sabouaram/wgtunnel/tunconfig"
)

// Core is a loopback engine.Core: it delivers every host packet straight
// back out as a tunnel packet for the first configured peer, and vice
// versa. It never touches the network itself.
type Core struct {
	mu       sync.Mutex
	handles  map[*handleState]struct{}
	initErr  error // set by tests to force Init to fail
	tickFunc func()
}

// New returns a ready-to-use loopback core.
func New() *Core {
	return &Core{handles: make(map[*handleState]struct{})}
}

// FailInit makes every subsequent Init call return err.
func (c *Core) FailInit(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initErr = err
}

// OnTick installs a hook invoked synchronously from every Tick call, for
// tests that want to assert tick delivery without a real timer.
func (c *Core) OnTick(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickFunc = fn
}

type handleState struct {
	cb     engine.CallbackContext
	params engine.Params
	ticks  int
}

// TickCount reports how many Tick calls the given handle has received;
// intended for tests holding onto the *handleState returned by Init.
func TickCount(h engine.CoreHandle) int {
	hs, _ := h.(*handleState)
	if hs == nil {
		return 0
	}
	return hs.ticks
}

func (c *Core) Init(p engine.Params) (engine.CoreHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initErr != nil {
		return nil, c.initErr
	}
	hs := &handleState{params: p, cb: p.Callbacks}
	c.handles[hs] = struct{}{}
	return hs, nil
}

func (c *Core) FeedHost(h engine.CoreHandle, pkt []byte) {
	hs, ok := h.(*handleState)
	if !ok || len(hs.params.Peers) == 0 {
		return
	}
	peer := hs.params.Peers[0]
	if peer.Endpoint == nil {
		return
	}
	out := make([]byte, len(pkt))
	copy(out, pkt)

	switch peer.Endpoint.Family {
	case tunconfig.AFInet:
		if hs.cb.SendV4 == nil {
			return
		}
		var a [4]byte
		if b4 := peer.Endpoint.Addr.As4(); true {
			a = b4
		}
		hs.cb.SendV4(a, peer.Endpoint.Port, out)
	case tunconfig.AFInet6:
		if hs.cb.SendV6 == nil {
			return
		}
		a := peer.Endpoint.Addr.As16()
		hs.cb.SendV6(a, peer.Endpoint.Port, out)
	}
}

func (c *Core) FeedTunnel(h engine.CoreHandle, dgram []byte) {
	hs, ok := h.(*handleState)
	if !ok {
		return
	}
	out := make([]byte, len(dgram))
	copy(out, dgram)
	if hs.cb.DeliverV4 != nil {
		hs.cb.DeliverV4(out)
	}
}

func (c *Core) Tick(h engine.CoreHandle) {
	hs, ok := h.(*handleState)
	if !ok {
		return
	}
	c.mu.Lock()
	hs.ticks++
	fn := c.tickFunc
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Core) Drop(h engine.CoreHandle) {
	hs, ok := h.(*handleState)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, hs)
}

// ErrForcedInit is a ready-made error for FailInit in tests.
var ErrForcedInit = errors.New("loopback: forced init failure")
