// Package adapter implements the tunnel adapter: the single-writer
// orchestrator that owns the engine handle, the session table, the packet
// pump and the timer driver, and exposes the start/stop/update/block/stats
// lifecycle to the host application.
package adapter

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/nabbar/golib/atomic"
	"github.com/nabbar/golib/logger"
	startstop "github.com/nabbar/golib/runner/startStop"

	"github.com/sabouaram/wgtunnel/engine"
	"github.com/sabouaram/wgtunnel/netsettings"
	"github.com/sabouaram/wgtunnel/provider"
	"github.com/sabouaram/wgtunnel/pump"
	"github.com/sabouaram/wgtunnel/session"
	"github.com/sabouaram/wgtunnel/timer"
	"github.com/sabouaram/wgtunnel/tunconfig"
	"github.com/sabouaram/wgtunnel/wgerrors"
)

// NetworkSettingsTimeout bounds how long Start/Update wait for the
// platform provider to acknowledge SetTunnelNetworkSettings.
const NetworkSettingsTimeout = 5 * time.Second

// State is the adapter's lifecycle state.
type State uint8

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Blocked
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Counters is a point-in-time snapshot of byte counters.
type Counters struct {
	BytesReceived int64
	BytesSent     int64
}

// command is one unit of work processed serially by the adapter's command
// loop; only one of the fields is populated for a given command.
type command struct {
	hostPacket  *pump.HostPacket
	tunnelDgram *pump.TunnelDatagram
	tick        bool
	// barrier, when set, is closed by process and carries no other work:
	// it lets StopOnQueue confirm every command enqueued ahead of it has
	// been processed before tearing the tunnel down.
	barrier chan struct{}
}

// Adapter is the WireGuard tunnel adapter.
type Adapter struct {
	log  logger.Logger
	core engine.Core
	prov provider.PacketTunnelProvider

	mu    sync.Mutex
	state State

	handle  *engine.Handle
	sess    *session.Table
	cmdCh   chan command
	loop    startstop.StartStop
	runCtx  context.Context
	runCncl context.CancelFunc
	tmr     *timer.Driver

	bytesReceived atomic.Value[int64]
	bytesSent     atomic.Value[int64]

	metrics *metricsCollector
}

// New builds an idle Adapter wired to the given engine core and platform
// provider. ctx is used only to construct the logger; it is not retained.
func New(ctx context.Context, core engine.Core, prov provider.PacketTunnelProvider) *Adapter {
	a := &Adapter{
		log:           logger.New(ctx),
		core:          core,
		prov:          prov,
		bytesReceived: atomic.NewValue[int64](),
		bytesSent:     atomic.NewValue[int64](),
	}
	a.metrics = newMetricsCollector(a)
	return a
}

// Metrics returns the Prometheus collector exposing this adapter's byte
// counters; register it once with a prometheus.Registry.
func (a *Adapter) Metrics() *metricsCollector {
	return a.metrics
}

// State reports the adapter's current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Stats returns a wait-free snapshot of the byte counters. Safe to call
// from any goroutine, at any adapter state.
func (a *Adapter) Stats() Counters {
	return Counters{
		BytesReceived: a.bytesReceived.Load(),
		BytesSent:     a.bytesSent.Load(),
	}
}

// addCounter increments v by delta. Value[int64]'s CompareAndSwap treats a
// zero old/new argument as "use the configured default" rather than the
// literal zero, but since no default is ever configured here the default
// is itself the type's zero value, so the special case is a no-op and
// this behaves like a plain CAS-based counter.
func addCounter(v atomic.Value[int64], delta int64) {
	if delta == 0 {
		return
	}
	for {
		old := v.Load()
		if v.CompareAndSwap(old, old+delta) {
			return
		}
	}
}

// buildCallbacks wires the engine's CallbackContext to this adapter's
// session table (outbound datagrams) and platform provider (inbound IP
// packets), counting bytesSent on every successful session write and
// bytesReceived on every packet delivered to the local interface — and
// only there, so a datagram is never counted on both its raw UDP arrival
// and its decrypted delivery.
func (a *Adapter) buildCallbacks(sess *session.Table) engine.CallbackContext {
	send := func(fam tunconfig.AddressFamily, addr netip.Addr, port uint16, datagram []byte) {
		s, ok := sess.Get(session.Key{Family: fam, Addr: addr, Port: port})
		if !ok {
			return
		}
		n, err := s.Write(datagram)
		if err != nil {
			a.log.Warning("session write failed", nil, "error", err)
			return
		}
		addCounter(a.bytesSent, int64(n))
	}

	deliver := func(fam tunconfig.AddressFamily, pkt []byte) {
		ctx := a.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := a.prov.WritePackets(ctx, [][]byte{pkt}, []tunconfig.AddressFamily{fam}); err != nil {
			a.log.Warning("delivering packet to interface failed", nil, "error", err)
			return
		}
		addCounter(a.bytesReceived, int64(len(pkt)))
	}

	return engine.CallbackContext{
		SendV4: func(addr [4]byte, port uint16, datagram []byte) {
			send(tunconfig.AFInet, netip.AddrFrom4(addr), port, datagram)
		},
		SendV6: func(addr [16]byte, port uint16, datagram []byte) {
			send(tunconfig.AFInet6, netip.AddrFrom16(addr), port, datagram)
		},
		DeliverV4: func(pkt []byte) { deliver(tunconfig.AFInet, pkt) },
		DeliverV6: func(pkt []byte) { deliver(tunconfig.AFInet6, pkt) },
	}
}

// Start brings the tunnel up: validates cfg, dials every peer session,
// initializes the engine with callbacks bound to those sessions, applies
// network settings through the provider, then starts the packet pump and
// timer driver. On any failure the adapter is left Idle with no engine,
// sessions, or timer running.
func (a *Adapter) Start(ctx context.Context, cfg tunconfig.TunnelConfig) error {
	a.mu.Lock()
	if a.state != Idle {
		a.mu.Unlock()
		return fmt.Errorf("adapter: start called in state %s", a.state)
	}
	a.state = Starting
	a.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		a.revertToIdle()
		return wgerrors.ErrorNoPeers.Error(err)
	}

	sess := session.NewTable()
	if err := sess.DialAll(ctx, a.prov, cfg.Peers); err != nil {
		a.revertToIdle()
		return err
	}

	handle, err := engine.New(a.core, engine.Params{
		PrivateKey: cfg.Interface.PrivateKey,
		Peers:      cfg.Peers,
		Callbacks:  a.buildCallbacks(sess),
	})
	if err != nil {
		sess.CloseAll()
		a.revertToIdle()
		return wgerrors.ErrorInitializationFailed.Error(err)
	}

	settings, err := netsettings.Build(cfg)
	if err != nil {
		sess.CloseAll()
		handle.Drop()
		a.revertToIdle()
		return wgerrors.ErrorNetworkSettings.Error(err)
	}

	settingsCtx, cancel := context.WithTimeout(ctx, NetworkSettingsTimeout)
	err = a.prov.SetTunnelNetworkSettings(settingsCtx, settings)
	timedOut := settingsCtx.Err() != nil
	cancel()
	if err != nil {
		sess.CloseAll()
		handle.Drop()
		a.revertToIdle()
		if timedOut {
			return wgerrors.ErrorNetworkSettingsTimeout.Error(err)
		}
		return wgerrors.ErrorNetworkSettings.Error(err)
	}

	a.mu.Lock()
	a.handle = handle
	a.sess = sess
	a.bytesReceived.Store(0)
	a.bytesSent.Store(0)
	a.cmdCh = make(chan command, 256)
	a.runCtx, a.runCncl = context.WithCancel(context.Background())
	a.loop = startstop.New(a.runLoop, a.runStop)
	a.tmr = timer.New(func() { a.enqueueTick() })
	a.mu.Unlock()

	if err := a.loop.Start(a.runCtx); err != nil {
		a.teardownAfterFailedStart()
		return wgerrors.ErrorInitializationFailed.Error(err)
	}
	if err := a.tmr.Start(a.runCtx); err != nil {
		_ = a.loop.Stop(a.runCtx)
		a.teardownAfterFailedStart()
		return wgerrors.ErrorInitializationFailed.Error(err)
	}

	go func() { _ = pump.RunInterface(a.runCtx, a.prov, a.enqueueHostPacket) }()
	for _, s := range sess.All() {
		pump.WireSession(s, a.enqueueTunnelDatagram)
	}

	a.mu.Lock()
	a.state = Running
	a.mu.Unlock()

	a.log.Info("tunnel started", nil, "peers", len(cfg.Peers))
	return nil
}

func (a *Adapter) revertToIdle() {
	a.mu.Lock()
	a.state = Idle
	a.mu.Unlock()
}

func (a *Adapter) teardownAfterFailedStart() {
	a.mu.Lock()
	if a.sess != nil {
		a.sess.CloseAll()
	}
	if a.handle != nil {
		a.handle.Drop()
	}
	a.handle = nil
	a.sess = nil
	a.state = Idle
	a.mu.Unlock()
}

// Stop tears the tunnel down: stops the pump and timer, drops the engine
// handle, closes every session. Idempotent — calling Stop while already
// Idle is a no-op. Stop cannot fail; any cleanup error is logged and
// absorbed.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state == Idle {
		a.mu.Unlock()
		return nil
	}
	a.state = Stopping
	cncl := a.runCncl
	tmr := a.tmr
	loop := a.loop
	a.mu.Unlock()

	if cncl != nil {
		cncl()
	}
	if tmr != nil {
		_ = tmr.Stop(ctx)
	}
	if loop != nil {
		if err := loop.Stop(ctx); err != nil {
			a.log.Warning("command loop stop reported an error", nil, "error", err)
		}
	}

	a.mu.Lock()
	a.state = Idle
	a.mu.Unlock()
	return nil
}

// StopOnQueue hops onto the serial executor and waits for every command
// already enqueued ahead of it — in-flight packets, datagrams and ticks —
// to finish processing, then stops the tunnel exactly as Stop does. Use
// this instead of a plain Stop when the caller must guarantee no mutation
// already in flight races with teardown.
func (a *Adapter) StopOnQueue(ctx context.Context) error {
	a.mu.Lock()
	cmdCh := a.cmdCh
	runCtx := a.runCtx
	a.mu.Unlock()

	if cmdCh != nil && runCtx != nil {
		done := make(chan struct{})
		select {
		case cmdCh <- command{barrier: done}:
			select {
			case <-done:
			case <-runCtx.Done():
			case <-ctx.Done():
			}
		case <-runCtx.Done():
		case <-ctx.Done():
		}
	}

	return a.Stop(ctx)
}

// runLoop is the serial command-processing loop: every packet, datagram
// and tick flows through here, one at a time.
func (a *Adapter) runLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-a.cmdCh:
			a.process(c)
		}
	}
}

// runStop drops the engine handle and closes every session. Invoked once
// runLoop has returned, so no further command can race with it.
func (a *Adapter) runStop(ctx context.Context) error {
	a.mu.Lock()
	h := a.handle
	s := a.sess
	a.handle = nil
	a.sess = nil
	a.mu.Unlock()

	if h != nil {
		h.Drop()
	}
	if s != nil {
		s.CloseAll()
	}
	return nil
}

func (a *Adapter) process(c command) {
	if c.barrier != nil {
		close(c.barrier)
		return
	}

	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		return
	}

	switch {
	case c.hostPacket != nil:
		h.FeedHost(c.hostPacket.Data)
	case c.tunnelDgram != nil:
		h.FeedTunnel(c.tunnelDgram.Data)
	case c.tick:
		h.Tick()
	}
}

func (a *Adapter) enqueueHostPacket(p pump.HostPacket) {
	select {
	case a.cmdCh <- command{hostPacket: &p}:
	case <-a.runCtx.Done():
	}
}

func (a *Adapter) enqueueTunnelDatagram(d pump.TunnelDatagram) {
	select {
	case a.cmdCh <- command{tunnelDgram: &d}:
	case <-a.runCtx.Done():
	}
}

func (a *Adapter) enqueueTick() {
	select {
	case a.cmdCh <- command{tick: true}:
	case <-a.runCtx.Done():
	default:
		// A tick arriving while the command channel is saturated is
		// dropped rather than blocking the timer goroutine.
	}
}

// Update reconfigures the tunnel: stop, reset counters, start again with
// the new config. There is no in-place reconfiguration path.
func (a *Adapter) Update(ctx context.Context, cfg tunconfig.TunnelConfig) error {
	if err := a.Stop(ctx); err != nil {
		return err
	}
	a.bytesReceived.Store(0)
	a.bytesSent.Store(0)
	return a.Start(ctx, cfg)
}

// Block tears down any running engine and sessions like Stop, then
// installs cfg's network settings with no engine running at all — a
// firewall-only state where the platform's routing/DNS rules are in
// place but no traffic is decrypted or forwarded. On any failure the
// adapter reverts to Idle, matching Start/Update's error-propagation
// policy.
func (a *Adapter) Block(ctx context.Context, cfg tunconfig.TunnelConfig) error {
	if err := a.Stop(ctx); err != nil {
		return err
	}

	settings, err := netsettings.Build(cfg)
	if err != nil {
		return wgerrors.ErrorNetworkSettings.Error(err)
	}

	settingsCtx, cancel := context.WithTimeout(ctx, NetworkSettingsTimeout)
	err = a.prov.SetTunnelNetworkSettings(settingsCtx, settings)
	timedOut := settingsCtx.Err() != nil
	cancel()
	if err != nil {
		if timedOut {
			return wgerrors.ErrorNetworkSettingsTimeout.Error(err)
		}
		return wgerrors.ErrorNetworkSettings.Error(err)
	}

	a.mu.Lock()
	a.state = Blocked
	a.mu.Unlock()
	return nil
}

// Unblock returns the adapter from Blocked to Idle, clearing the way for a
// subsequent Start.
func (a *Adapter) Unblock() {
	a.mu.Lock()
	if a.state == Blocked {
		a.state = Idle
	}
	a.mu.Unlock()
}
