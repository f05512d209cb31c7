// Package mem is an in-process remote backend. Listeners are registered by
// name on a Hub; dialing a name hands the listener one end of a linked pair.
package mem

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/maximusretard/bootleg-networking/pkg/transport"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote"
)

var (
	ErrListenerExists = errors.New("mem: listener already exists")
	ErrNoListener     = errors.New("mem: no such listener")
	ErrPeerFull       = errors.New("mem: peer buffer full")
)

// Hub is the shared namespace. Backends created from the same hub can reach
// each other.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]func(remote.Link)
	buffer    int
}

// NewHub returns a hub whose links buffer up to buffer inbound packets
// (remote.DefaultPacketBuffer when buffer <= 0).
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = remote.DefaultPacketBuffer
	}
	return &Hub{listeners: make(map[string]func(remote.Link)), buffer: buffer}
}

// Backend returns a backend bound to h. Closing it releases only what it
// created.
func (h *Hub) Backend() *Backend { return &Backend{hub: h} }

type Backend struct {
	hub *Hub

	mu    sync.Mutex
	names []string
	links []*Link
}

var _ remote.Backend = (*Backend)(nil)

// Listen registers ep.Signalling as a listener name.
func (b *Backend) Listen(ctx context.Context, ep transport.RemoteEndpoints, accept func(remote.Link)) error {
	name := ep.Signalling
	h := b.hub
	h.mu.Lock()
	if _, ok := h.listeners[name]; ok {
		h.mu.Unlock()
		return ErrListenerExists
	}
	h.listeners[name] = accept
	h.mu.Unlock()

	b.mu.Lock()
	b.names = append(b.names, name)
	b.mu.Unlock()
	go func() { <-ctx.Done(); h.unlisten(name) }()
	return nil
}

func (h *Hub) unlisten(name string) {
	h.mu.Lock()
	delete(h.listeners, name)
	h.mu.Unlock()
}

func (b *Backend) Dial(ctx context.Context, name string) (remote.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := b.hub
	h.mu.Lock()
	accept := h.listeners[name]
	h.mu.Unlock()
	if accept == nil {
		return nil, ErrNoListener
	}
	cli, srv := Pipe(name, h.buffer)
	b.track(cli)
	accept(srv)
	return cli, nil
}

func (b *Backend) track(l *Link) {
	b.mu.Lock()
	b.links = append(b.links, l)
	b.mu.Unlock()
}

func (b *Backend) Close() error {
	b.mu.Lock()
	names, links := b.names, b.links
	b.names, b.links = nil, nil
	b.mu.Unlock()
	for _, n := range names {
		b.hub.unlisten(n)
	}
	for _, l := range links {
		_ = l.Close()
	}
	return nil
}

type addr string

func (a addr) Network() string { return "mem" }
func (a addr) String() string  { return string(a) }

// pipe is the state shared by both ends; closing either end closes both.
type pipe struct {
	mu     sync.Mutex
	closed bool
}

// Link is one end of a Pipe.
type Link struct {
	p     *pipe
	peer  *Link
	in    chan remote.Packet
	raddr addr
}

// Pipe returns two connected links. The first is the dialer's end.
func Pipe(name string, buffer int) (*Link, *Link) {
	p := &pipe{}
	a := &Link{p: p, in: make(chan remote.Packet, buffer), raddr: addr(name)}
	b := &Link{p: p, in: make(chan remote.Packet, buffer), raddr: addr(name + "/client")}
	a.peer, b.peer = b, a
	return a, b
}

// Send copies frame into the peer's inbound buffer without blocking.
func (l *Link) Send(frame []byte, _ bool) error {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	if l.p.closed {
		return net.ErrClosed
	}
	pkt := remote.Packet{Data: append([]byte(nil), frame...)}
	select {
	case l.peer.in <- pkt:
		return nil
	default:
		return ErrPeerFull
	}
}

// Fail delivers err to the peer as an error packet.
func (l *Link) Fail(err error) {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	if l.p.closed {
		return
	}
	select {
	case l.peer.in <- remote.Packet{Err: err}:
	default:
	}
}

func (l *Link) Packets() <-chan remote.Packet { return l.in }

func (l *Link) RemoteAddr() net.Addr { return l.raddr }

func (l *Link) Close() error {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	if l.p.closed {
		return nil
	}
	l.p.closed = true
	close(l.in)
	close(l.peer.in)
	return nil
}
