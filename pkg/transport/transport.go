package transport

import (
	"context"
	"net"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
)

// Role fixes whether an adapter accepts peers or dials one.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// RemoteEndpoints carries the addresses the remote backend needs: where
// signalling is served, where the datagram transport binds and the address
// advertised to browsers. Clients only use Signalling as the target.
type RemoteEndpoints struct {
	Signalling string
	Listen     string
	Public     string
}

// Endpoints are resolved addresses passed to Adapter.Setup. Servers bind them,
// clients dial them.
type Endpoints struct {
	TCP           *net.TCPAddr
	UDP           *net.UDPAddr
	Remote        *RemoteEndpoints
	MaxPacketSize int
}

// Inbound is one raw message drained from a channel.
type Inbound struct {
	From    netid.Identity
	Payload []byte
}

// Adapter is implemented once per backend. Every method except Setup is
// non-blocking.
type Adapter interface {
	// Setup binds listening endpoints (server) or connects to the target
	// (client). A second call fails with ErrAlreadySetup.
	Setup(ctx context.Context, ep Endpoints) error
	Register(id channel.ID, s channel.Settings) error
	// Send enqueues one message for one peer on one channel.
	Send(payload []byte, ch channel.ID, dst netid.Identity) error
	// Broadcast sends to every connected peer. A client without peers gets
	// ErrNotConnected; a server without peers succeeds.
	Broadcast(payload []byte, ch channel.ID) error
	// ReceiveAll drains buffered inbound messages of one channel across all peers.
	ReceiveAll(ch channel.ID) ([]Inbound, error)
	Connections() []netid.Identity
	IsConnected() bool
	Disconnect(id netid.Identity) error
	DisconnectAll()
	Close() error
}
