package remote

import (
	"context"
	"net"

	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

// Packet is one inbound frame, or the error that broke the link.
type Packet struct {
	Data []byte
	Err  error
}

// Link is one browser-style connection as seen by the adapter.
type Link interface {
	// Send writes one frame. reliable selects the ordered lane where the
	// backend has one.
	Send(frame []byte, reliable bool) error
	// Packets yields inbound frames. It is closed once the link is dead.
	Packets() <-chan Packet
	RemoteAddr() net.Addr
	Close() error
}

// Backend produces links. Listen must return once the listener is bound and
// call accept from its own goroutines for every new link.
type Backend interface {
	Listen(ctx context.Context, ep transport.RemoteEndpoints, accept func(Link)) error
	Dial(ctx context.Context, addr string) (Link, error)
	Close() error
}

// DefaultPacketBuffer is the Packets() capacity backends use unless told otherwise.
const DefaultPacketBuffer = 256
