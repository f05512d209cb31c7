// Package network is the facade host code talks to. A Resource carries a
// native adapter, a remote adapter or both, and routes every operation to the
// adapter that owns the target connection.
//
// A Resource is not safe for concurrent use; the host drives it from one
// goroutine, the same one that runs the pump.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/protocol/codec"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
	"github.com/maximusretard/bootleg-networking/pkg/transport/native"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote"
)

var (
	ErrNotServer             = errors.New("network: listen called on a client")
	ErrNotClient             = errors.New("network: connect called on a server")
	ErrMissingListenInfo     = errors.New("network: missing listen address")
	ErrMissingConnectInfo    = errors.New("network: missing connect address")
	ErrMissingBackend        = errors.New("network: remote capability without backend")
	ErrNoCapabilities        = errors.New("network: no capabilities")
	ErrMaxPacketSizeRequired = errors.New("network: max packet size is required for native")
)

type Options struct {
	Capabilities  Capabilities
	Codec         codec.Codec
	Logger        *zap.Logger
	Native        native.Options
	RemoteBackend remote.Backend
}

type Resource struct {
	role     transport.Role
	caps     Capabilities
	codec    codec.Codec
	log      *zap.Logger
	registry *channel.Registry

	native *native.Adapter
	remote *remote.Adapter
	setup  bool
}

func NewServer(opts Options) (*Resource, error) { return newResource(transport.RoleServer, opts) }

func NewClient(opts Options) (*Resource, error) { return newResource(transport.RoleClient, opts) }

func newResource(role transport.Role, opts Options) (*Resource, error) {
	if opts.Capabilities == 0 {
		return nil, ErrNoCapabilities
	}
	withNative, withRemote := effective(opts.Capabilities, role == transport.RoleServer)
	if withRemote && opts.RemoteBackend == nil {
		return nil, ErrMissingBackend
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	c := opts.Codec
	if c == nil {
		var err error
		if c, err = codec.CBOR(); err != nil {
			return nil, fmt.Errorf("network: codec: %w", err)
		}
	}

	r := &Resource{role: role, codec: c, log: log.Named("network"), registry: channel.NewRegistry()}
	if withNative {
		no := opts.Native
		no.Role = role
		if no.Logger == nil {
			no.Logger = log
		}
		r.native = native.New(no)
		r.caps |= CapNative
	}
	if withRemote {
		r.remote = remote.New(remote.Options{Role: role, Backend: opts.RemoteBackend, Logger: log})
		r.caps |= CapRemote
	}
	r.log.Debug("resource created", zap.Stringer("role", role), zap.Stringer("capabilities", r.caps), zap.String("codec", c.Name()))
	return r, nil
}

func (r *Resource) IsServer() bool { return r.role == transport.RoleServer }
func (r *Resource) IsClient() bool { return r.role == transport.RoleClient }
func (r *Resource) IsSetup() bool  { return r.setup }

// Capabilities reports the adapters actually present.
func (r *Resource) Capabilities() Capabilities { return r.caps }

func (r *Resource) Codec() codec.Codec { return r.codec }

// Native returns the native adapter, nil when absent.
func (r *Resource) Native() *native.Adapter { return r.native }

// Remote returns the remote adapter, nil when absent.
func (r *Resource) Remote() *remote.Adapter { return r.remote }

// RemoteListen are the remote backend's server addresses. Listen defaults to
// Signalling and Public to Listen.
type RemoteListen struct {
	Signalling string
	Listen     string
	Public     string
}

type ListenConfig struct {
	TCP           string
	UDP           string
	Remote        *RemoteListen
	MaxPacketSize int
}

// Listen binds every present adapter. Inputs for an absent adapter are
// ignored. When binding fails nothing stays bound and Listen can be retried.
func (r *Resource) Listen(ctx context.Context, cfg ListenConfig) error {
	if !r.IsServer() {
		return ErrNotServer
	}
	if r.setup {
		return transport.ErrAlreadySetup
	}
	ep := transport.Endpoints{MaxPacketSize: cfg.MaxPacketSize}
	if r.native != nil {
		if cfg.TCP == "" || cfg.UDP == "" {
			return fmt.Errorf("%w: native needs tcp and udp", ErrMissingListenInfo)
		}
		if cfg.MaxPacketSize <= 0 {
			return ErrMaxPacketSizeRequired
		}
		var err error
		if ep.TCP, err = net.ResolveTCPAddr("tcp", cfg.TCP); err != nil {
			return fmt.Errorf("network: resolve tcp %q: %w", cfg.TCP, err)
		}
		if ep.UDP, err = net.ResolveUDPAddr("udp", cfg.UDP); err != nil {
			return fmt.Errorf("network: resolve udp %q: %w", cfg.UDP, err)
		}
	}
	if r.remote != nil {
		if cfg.Remote == nil || cfg.Remote.Signalling == "" {
			return fmt.Errorf("%w: remote needs a signalling address", ErrMissingListenInfo)
		}
		re, err := normaliseRemote(*cfg.Remote)
		if err != nil {
			return err
		}
		ep.Remote = &re
	}

	if r.native != nil {
		if err := r.native.Setup(ctx, ep); err != nil {
			return err
		}
	}
	if r.remote != nil {
		if err := r.remote.Setup(ctx, ep); err != nil {
			if r.native != nil {
				r.native.Reset()
			}
			return err
		}
	}
	r.setup = true
	return nil
}

func normaliseRemote(rl RemoteListen) (transport.RemoteEndpoints, error) {
	if rl.Listen == "" {
		rl.Listen = rl.Signalling
	}
	if rl.Public == "" {
		rl.Public = rl.Listen
	}
	for _, a := range []string{rl.Signalling, rl.Listen, rl.Public} {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return transport.RemoteEndpoints{}, fmt.Errorf("network: remote address %q: %w", a, err)
		}
	}
	return transport.RemoteEndpoints{Signalling: rl.Signalling, Listen: rl.Listen, Public: rl.Public}, nil
}

// ConnectConfig names the server. For native, Addr is the TCP address and
// UDPAddr plus MaxPacketSize are required. For remote, Addr is whatever the
// backend dials.
type ConnectConfig struct {
	Addr          string
	UDPAddr       string
	MaxPacketSize int
}

func (r *Resource) Connect(ctx context.Context, cfg ConnectConfig) error {
	if !r.IsClient() {
		return ErrNotClient
	}
	if r.setup {
		return transport.ErrAlreadySetup
	}
	if cfg.Addr == "" {
		return ErrMissingConnectInfo
	}
	ep := transport.Endpoints{MaxPacketSize: cfg.MaxPacketSize}
	switch {
	case r.native != nil:
		if cfg.UDPAddr == "" {
			return fmt.Errorf("%w: native needs a udp address", ErrMissingConnectInfo)
		}
		if cfg.MaxPacketSize <= 0 {
			return ErrMaxPacketSizeRequired
		}
		var err error
		if ep.TCP, err = net.ResolveTCPAddr("tcp", cfg.Addr); err != nil {
			return fmt.Errorf("network: resolve tcp %q: %w", cfg.Addr, err)
		}
		if ep.UDP, err = net.ResolveUDPAddr("udp", cfg.UDPAddr); err != nil {
			return fmt.Errorf("network: resolve udp %q: %w", cfg.UDPAddr, err)
		}
		if err := r.native.Setup(ctx, ep); err != nil {
			return err
		}
	case r.remote != nil:
		ep.Remote = &transport.RemoteEndpoints{Signalling: cfg.Addr}
		if err := r.remote.Setup(ctx, ep); err != nil {
			return err
		}
	}
	r.setup = true
	return nil
}

// RegisterMessageChannelNative registers ch on the native adapter. The id is
// also recorded in the resource registry, so duplicates fail even when the
// native adapter is absent. A rejected registration leaves no record.
func (r *Resource) RegisterMessageChannelNative(s channel.Settings, ch channel.ID) error {
	if _, dup := r.registry.Lookup(ch); dup {
		return fmt.Errorf("channel %d: %w", ch, channel.ErrChannelAlreadyRegistered)
	}
	if r.native != nil {
		if err := r.native.Register(ch, s); err != nil {
			return err
		}
	}
	return r.registry.Register(ch, s)
}

// RegisterMessageChannel registers ch on every present adapter: the native
// registry and the remote base set. Native registration closes once the
// native adapter is set up while the remote base set stays open, so a late
// registration on a resource with both adapters lands on the remote side
// only. The id is recorded only if some adapter took it.
func (r *Resource) RegisterMessageChannel(ch channel.ID, s channel.Settings) error {
	if _, dup := r.registry.Lookup(ch); dup {
		return fmt.Errorf("channel %d: %w", ch, channel.ErrChannelAlreadyRegistered)
	}
	if r.native != nil {
		err := r.native.Register(ch, s)
		switch {
		case err == nil:
		case errors.Is(err, channel.ErrRegistrationClosed) && r.remote != nil:
			r.log.Warn("native registration closed, channel is remote only", zap.Uint8("channel", uint8(ch)))
		default:
			return err
		}
	}
	if r.remote != nil {
		if err := r.remote.Register(ch, s); err != nil {
			return err
		}
	}
	return r.registry.Register(ch, s)
}

// SetChannelsBuilder installs the remote per-connection channel callback.
// Without a remote adapter it does nothing.
func (r *Resource) SetChannelsBuilder(fn func(*remote.ChannelsBuilder)) {
	if r.remote != nil {
		r.remote.SetChannelsBuilder(fn)
	}
}

// Channels lists the ids registered on the resource.
func (r *Resource) Channels() []channel.ID { return r.registry.IDs() }

func (r *Resource) IsConnected() bool {
	return (r.native != nil && r.native.IsConnected()) || (r.remote != nil && r.remote.IsConnected())
}

// Connections lists native connections first, then remote ones.
func (r *Resource) Connections() []netid.Identity {
	var out []netid.Identity
	if r.native != nil {
		out = append(out, r.native.Connections()...)
	}
	if r.remote != nil {
		out = append(out, r.remote.Connections()...)
	}
	return out
}

func (r *Resource) DisconnectFrom(id netid.Identity) error {
	if a := r.adapterFor(id); a != nil {
		return a.Disconnect(id)
	}
	return &transport.DisconnectError{Conn: id}
}

func (r *Resource) DisconnectFromAll() {
	if r.native != nil {
		r.native.DisconnectAll()
	}
	if r.remote != nil {
		r.remote.DisconnectAll()
	}
}

// Close shuts both adapters down.
func (r *Resource) Close() error {
	var errs []error
	if r.native != nil {
		errs = append(errs, r.native.Close())
	}
	if r.remote != nil {
		errs = append(errs, r.remote.Close())
	}
	return errors.Join(errs...)
}

func (r *Resource) adapterFor(id netid.Identity) transport.Adapter {
	switch {
	case id.IsNative() && r.native != nil:
		return r.native
	case id.IsRemote() && r.remote != nil:
		return r.remote
	}
	return nil
}

func (r *Resource) adapters() []transport.Adapter {
	var out []transport.Adapter
	if r.native != nil {
		out = append(out, r.native)
	}
	if r.remote != nil {
		out = append(out, r.remote)
	}
	return out
}

// send routes raw bytes to the adapter owning to.
func (r *Resource) send(payload []byte, ch channel.ID, to netid.Identity) error {
	a := r.adapterFor(to)
	if a == nil {
		return transport.NewSendError(ch, transport.ErrNotConnected)
	}
	return a.Send(payload, ch, to)
}

// broadcast goes through the native adapter, then the remote one. Like
// receive, an adapter that does not know ch is skipped unless none does.
func (r *Resource) broadcast(payload []byte, ch channel.ID) error {
	var (
		errs    []error
		unknown error
		known   bool
	)
	for _, a := range r.adapters() {
		err := a.Broadcast(payload, ch)
		if isUnregistered(err) {
			unknown = err
			continue
		}
		known = true
		if err != nil {
			errs = append(errs, err)
		}
	}
	if !known {
		return unknown
	}
	return errors.Join(errs...)
}

// isUnregistered reports whether err is the adapter rejecting an unknown
// channel outright. Joined per-peer failures do not count.
func isUnregistered(err error) bool {
	se, ok := err.(*transport.SendMessageError)
	return ok && se.Kind == transport.SendChannelUnregistered
}

// receive drains ch from both adapters, native first. An adapter that does
// not know ch is skipped unless no adapter knows it.
func (r *Resource) receive(ch channel.ID) ([]transport.Inbound, error) {
	var (
		out     []transport.Inbound
		unknown error
		known   bool
	)
	for _, a := range r.adapters() {
		in, err := a.ReceiveAll(ch)
		if errors.Is(err, transport.ErrChannelUnregistered) {
			unknown = err
			continue
		}
		if err != nil {
			return out, err
		}
		known = true
		out = append(out, in...)
	}
	if !known && unknown != nil {
		return nil, unknown
	}
	return out, nil
}
