// Package netid names peer connections independently of the transport that
// carries them.
//
// An Identity is either a native connection (a TCP or UDP link identified by
// the peer's UUID, address and mode) or a remote connection (an opaque handle
// handed out by the packet pump). Identities are comparable and can be used as
// map keys.
package netid

import (
	"fmt"
	"net/netip"
)

// ConnMode is the socket type of a native connection.
type ConnMode uint8

const (
	ModeTCP ConnMode = iota
	ModeUDP
)

func (m ConnMode) String() string {
	switch m {
	case ModeTCP:
		return "tcp"
	case ModeUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// NativeConn identifies one native link. Two links opened by the same remote
// process share a UUID and differ in Mode.
type NativeConn struct {
	UUID uint32
	Addr netip.AddrPort
	Mode ConnMode
}

func (c NativeConn) String() string {
	return fmt.Sprintf("%s:%08x@%s", c.Mode, c.UUID, c.Addr)
}

// RemoteHandle is the pump-assigned handle of a remote connection.
type RemoteHandle uint32

type kind uint8

const (
	kindInvalid kind = iota
	kindNative
	kindRemote
)

// Identity is a tagged union over NativeConn and RemoteHandle. The zero value
// is invalid and names no connection.
type Identity struct {
	kind   kind
	native NativeConn
	remote RemoteHandle
}

// FromNative wraps a native connection id.
func FromNative(c NativeConn) Identity { return Identity{kind: kindNative, native: c} }

// FromRemote wraps a remote connection handle.
func FromRemote(h RemoteHandle) Identity { return Identity{kind: kindRemote, remote: h} }

func (id Identity) IsNative() bool { return id.kind == kindNative }
func (id Identity) IsRemote() bool { return id.kind == kindRemote }
func (id Identity) IsValid() bool  { return id.kind != kindInvalid }

// Native returns the native payload; ok is false for any other kind.
func (id Identity) Native() (NativeConn, bool) {
	if id.kind != kindNative {
		return NativeConn{}, false
	}
	return id.native, true
}

// Remote returns the remote payload; ok is false for any other kind.
func (id Identity) Remote() (RemoteHandle, bool) {
	if id.kind != kindRemote {
		return 0, false
	}
	return id.remote, true
}

// Match calls exactly one of the callbacks according to the identity kind and
// reports whether one was called. Nil callbacks are skipped.
func (id Identity) Match(onNative func(NativeConn), onRemote func(RemoteHandle)) bool {
	switch id.kind {
	case kindNative:
		if onNative != nil {
			onNative(id.native)
		}
		return true
	case kindRemote:
		if onRemote != nil {
			onRemote(id.remote)
		}
		return true
	default:
		return false
	}
}

func (id Identity) String() string {
	switch id.kind {
	case kindNative:
		return "native:" + id.native.String()
	case kindRemote:
		return fmt.Sprintf("remote:%d", id.remote)
	default:
		return "invalid"
	}
}
