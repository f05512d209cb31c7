package native

import (
	"sort"
	"sync"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

// table keeps every live link and groups links of one remote process by UUID.
// A peer holds at most one link per mode; a newer link replaces the older one.
type table struct {
	mu    sync.RWMutex
	links map[netid.NativeConn]*link
	peers map[uint32]*peer
}

type peer struct {
	uuid uint32
	tcp  *link
	udp  *link
}

func newTable() *table {
	return &table{links: make(map[netid.NativeConn]*link), peers: make(map[uint32]*peer)}
}

// add registers l and returns the link it replaced, if any.
func (t *table) add(l *link) (old *link) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.peers[l.id.UUID]
	if p == nil {
		p = &peer{uuid: l.id.UUID}
		t.peers[l.id.UUID] = p
	}
	slot := &p.tcp
	if l.id.Mode == netid.ModeUDP {
		slot = &p.udp
	}
	if *slot != nil && *slot != l {
		old = *slot
		delete(t.links, old.id)
	}
	*slot = l
	t.links[l.id] = l
	return old
}

// remove drops the link with the given id. When cur is non-nil the link is
// only removed if it is still the one registered under id.
func (t *table) remove(id netid.NativeConn, cur *link) *link {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.links[id]
	if l == nil || (cur != nil && l != cur) {
		return nil
	}
	delete(t.links, id)
	if p := t.peers[id.UUID]; p != nil {
		if p.tcp == l {
			p.tcp = nil
		}
		if p.udp == l {
			p.udp = nil
		}
		if p.tcp == nil && p.udp == nil {
			delete(t.peers, id.UUID)
		}
	}
	return l
}

func (t *table) clear() []*link {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		out = append(out, l)
	}
	t.links = make(map[netid.NativeConn]*link)
	t.peers = make(map[uint32]*peer)
	return out
}

func (t *table) get(id netid.NativeConn) *link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.links[id]
}

func (t *table) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.links)
}

// route picks the link that carries a message on a channel of the given
// reliability to the process behind dst. Reliable traffic needs the TCP link;
// unreliable traffic prefers UDP and falls back to TCP.
func (t *table) route(dst netid.NativeConn, rel channel.Reliability) (*link, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.links[dst] == nil {
		return nil, transport.ErrNotConnected
	}
	p := t.peers[dst.UUID]
	if l := p.lane(rel); l != nil {
		return l, nil
	}
	return nil, transport.ErrNotConnected
}

func (p *peer) lane(rel channel.Reliability) *link {
	if p == nil {
		return nil
	}
	if rel == channel.Unreliable && p.udp != nil {
		return p.udp
	}
	return p.tcp
}

// lanes returns, for every peer, the link a broadcast on rel travels on.
// Peers without a suitable link are skipped.
func (t *table) lanes(rel channel.Reliability) []*link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*link, 0, len(t.peers))
	for _, p := range t.peers {
		if l := p.lane(rel); l != nil {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.UUID < out[j].id.UUID })
	return out
}

// ids lists live links ordered by UUID then mode.
func (t *table) ids() []netid.NativeConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]netid.NativeConn, 0, len(t.links))
	for id := range t.links {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UUID != out[j].UUID {
			return out[i].UUID < out[j].UUID
		}
		return out[i].Mode < out[j].Mode
	})
	return out
}
