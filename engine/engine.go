// Package engine wraps the opaque WireGuard cryptographic core (Noise
// handshake, transport encryption, cookie handling) behind a small Core
// interface, and owns the non-null/drop-once invariants of the handle the
// rest of the adapter is built around.
package engine

import (
	"sync"

	"github.com/sabouaram/wgtunnel/tunconfig"
)

// CoreHandle is an opaque reference into the injected cryptographic core,
// analogous to the raw pointer the real C-ABI engine hands back from its
// init call. It is never interpreted by this package.
type CoreHandle interface{}

// Params is everything the core needs to bring a tunnel up: private key,
// peer set, and the callback context the core uses to push data back out.
// It is derived once from a tunconfig.TunnelConfig and handed to Core.Init
// unchanged for the life of the handle — the callbacks must be wired
// before Init returns, since a packet can arrive the instant Start's
// pumps begin reading.
type Params struct {
	PrivateKey tunconfig.Key
	Peers      []tunconfig.Peer
	Callbacks  CallbackContext
}

// Core is the cryptographic engine collaborator: handshake and transport
// crypto, keyed off the handle Init returns. FeedHost/FeedTunnel/Tick never
// block on I/O; they are called from the adapter's serial command loop.
type Core interface {
	// Init brings up the engine for the given parameters and returns a
	// handle for subsequent calls.
	Init(p Params) (CoreHandle, error)
	// FeedHost hands the core one IP packet read from the local interface;
	// the core arranges for the encrypted datagram to reach the right peer
	// through the CallbackContext's send functions.
	FeedHost(h CoreHandle, pkt []byte)
	// FeedTunnel hands the core one UDP datagram read from a peer session;
	// the core arranges for the decrypted IP packet to reach the local
	// interface through the CallbackContext's deliver functions.
	FeedTunnel(h CoreHandle, dgram []byte)
	// Tick drives timer-based engine state: handshake retries, rekey,
	// keepalive emission.
	Tick(h CoreHandle)
	// Drop releases every resource associated with the handle. Idempotent
	// from the core's point of view is not required; Handle.Drop ensures
	// it is called at most once.
	Drop(h CoreHandle)
}

// CallbackContext carries the function pointers the core uses to push data
// back out, plus a non-owning reference to whatever object resolves peer
// addressing for the adapter. The adapter that owns a CallbackContext is
// guaranteed to outlive every call the core makes through it: Handle.Drop
// is always invoked, and returns, before the adapter itself is torn down.
type CallbackContext struct {
	// SendV4/SendV6 hand an encrypted UDP datagram to the session for the
	// given peer address; called from within FeedHost.
	SendV4 func(addr [4]byte, port uint16, datagram []byte)
	SendV6 func(addr [16]byte, port uint16, datagram []byte)
	// DeliverV4/DeliverV6 hand a decrypted IP packet to the local
	// interface; called from within FeedTunnel.
	DeliverV4 func(pkt []byte)
	DeliverV6 func(pkt []byte)
}

// Handle owns one CoreHandle for the lifetime of a running tunnel. It is
// the only thing allowed to call Core.Drop, and it does so at most once.
type Handle struct {
	core Core

	mu      sync.Mutex
	handle  CoreHandle
	dropped bool
}

// New initializes the core with the given parameters and returns a Handle
// wrapping the resulting CoreHandle.
func New(core Core, p Params) (*Handle, error) {
	h, err := core.Init(p)
	if err != nil {
		return nil, err
	}
	return &Handle{core: core, handle: h}, nil
}

// FeedHost forwards one local IP packet into the core. A no-op once Drop
// has completed.
func (h *Handle) FeedHost(pkt []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped {
		return
	}
	h.core.FeedHost(h.handle, pkt)
}

// FeedTunnel forwards one received UDP datagram into the core. A no-op
// once Drop has completed.
func (h *Handle) FeedTunnel(dgram []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped {
		return
	}
	h.core.FeedTunnel(h.handle, dgram)
}

// Tick drives one timer-based engine step. A no-op once Drop has completed.
func (h *Handle) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped {
		return
	}
	h.core.Tick(h.handle)
}

// Drop releases the underlying CoreHandle exactly once; subsequent calls
// are no-ops. Safe to call concurrently with FeedHost/FeedTunnel/Tick,
// which will observe the dropped state and stop touching the handle.
func (h *Handle) Drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped {
		return
	}
	h.dropped = true
	h.core.Drop(h.handle)
}

// Dropped reports whether Drop has already run.
func (h *Handle) Dropped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
