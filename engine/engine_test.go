package engine_test

import (
	"net/netip"
	"testing"

	"github.com/sabouaram/wgtunnel/engine"
	"github.com/sabouaram/wgtunnel/engine/loopback"
	"github.com/sabouaram/wgtunnel/tunconfig"
)

func testParams() engine.Params {
	ep := &tunconfig.Endpoint{
		Family: tunconfig.AFInet,
		Addr:   netip.MustParseAddr("203.0.113.9"),
		Port:   51820,
	}
	return engine.Params{
		Peers: []tunconfig.Peer{{Endpoint: ep}},
	}
}

func TestRoundTripThroughLoopback(t *testing.T) {
	core := loopback.New()

	var sent []byte
	var delivered []byte

	params := testParams()
	params.Callbacks = engine.CallbackContext{
		SendV4: func(addr [4]byte, port uint16, datagram []byte) {
			sent = append([]byte(nil), datagram...)
		},
		DeliverV4: func(pkt []byte) {
			delivered = append([]byte(nil), pkt...)
		},
	}
	hs, err := core.Init(params)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	pkt := []byte{0x45, 0x00, 0x00, 0x1c, 0xde, 0xad}
	core.FeedHost(hs, pkt)
	if string(sent) != string(pkt) {
		t.Fatalf("round trip host->send mismatch: got %v want %v", sent, pkt)
	}

	core.FeedTunnel(hs, sent)
	if string(delivered) != string(pkt) {
		t.Fatalf("round trip tunnel->deliver mismatch: got %v want %v", delivered, pkt)
	}
}

func TestDropIsIdempotentAndDisablesFeeds(t *testing.T) {
	core := loopback.New()
	h, err := engine.New(core, testParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h.Drop()
	h.Drop() // must not panic or double-release

	if !h.Dropped() {
		t.Fatal("expected Dropped() true after Drop")
	}

	// Feeds after drop are no-ops, not panics.
	h.FeedHost([]byte{1, 2, 3})
	h.FeedTunnel([]byte{1, 2, 3})
	h.Tick()
}

func TestInitFailurePropagates(t *testing.T) {
	core := loopback.New()
	core.FailInit(loopback.ErrForcedInit)

	_, err := engine.New(core, testParams())
	if err == nil {
		t.Fatal("expected Init failure to propagate")
	}
}
