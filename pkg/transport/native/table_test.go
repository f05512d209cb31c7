package native

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

type nopWire struct{ closed bool }

func (w *nopWire) writeFrame([]byte) error { return nil }
func (w *nopWire) close() error            { w.closed = true; return nil }

func testLink(uuid uint32, port uint16, mode netid.ConnMode) *link {
	id := netid.NativeConn{UUID: uuid, Addr: netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port), Mode: mode}
	return newLink(id, &nopWire{}, 1)
}

func TestTableRouting(t *testing.T) {
	tb := newTable()
	tcp := testLink(1, 5000, netid.ModeTCP)
	udp := testLink(1, 5001, netid.ModeUDP)
	tb.add(tcp)
	tb.add(udp)

	l, err := tb.route(udp.id, channel.Reliable)
	if err != nil || l != tcp {
		t.Fatalf("reliable via udp identity: %v %v", l, err)
	}
	l, err = tb.route(tcp.id, channel.Unreliable)
	if err != nil || l != udp {
		t.Fatalf("unreliable via tcp identity: %v %v", l, err)
	}

	tb.remove(udp.id, nil)
	if l, _ := tb.route(tcp.id, channel.Unreliable); l != tcp {
		t.Fatalf("unreliable must fall back to tcp")
	}

	onlyUDP := testLink(2, 6001, netid.ModeUDP)
	tb.add(onlyUDP)
	if _, err := tb.route(onlyUDP.id, channel.Reliable); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("reliable without tcp link: %v", err)
	}
	if _, err := tb.route(netid.NativeConn{UUID: 9}, channel.Reliable); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("unknown destination: %v", err)
	}
}

func TestTableReplaceAndRemove(t *testing.T) {
	tb := newTable()
	first := testLink(1, 5000, netid.ModeTCP)
	second := testLink(1, 5002, netid.ModeTCP)
	if old := tb.add(first); old != nil {
		t.Fatalf("unexpected replacement")
	}
	if old := tb.add(second); old != first {
		t.Fatalf("newer link must replace the older one")
	}
	if tb.get(first.id) != nil || tb.len() != 1 {
		t.Fatalf("replaced link still registered")
	}
	if tb.remove(second.id, first) != nil {
		t.Fatalf("remove with stale link must be a no-op")
	}
	if tb.remove(second.id, second) != second || tb.len() != 0 {
		t.Fatalf("remove failed")
	}
	if len(tb.lanes(channel.Reliable)) != 0 {
		t.Fatalf("peer not cleaned up")
	}
}

func TestLinkEnqueue(t *testing.T) {
	l := testLink(1, 5000, netid.ModeTCP)
	if err := l.enqueue([]byte{1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := l.enqueue([]byte{2}); !errors.Is(err, transport.ErrChannelFull) {
		t.Fatalf("full queue: %v", err)
	}
	_ = l.close()
	if err := l.enqueue([]byte{3}); !errors.Is(err, transport.ErrQueueClosed) {
		t.Fatalf("closed queue: %v", err)
	}
}

func TestHello(t *testing.T) {
	id, err := decodeHello(encodeHello(0xdeadbeef))
	if err != nil || id != 0xdeadbeef {
		t.Fatalf("hello roundtrip: %x %v", id, err)
	}
	if _, err := decodeHello([]byte{3, 'x'}); err == nil {
		t.Fatalf("data frame accepted as hello")
	}
}
