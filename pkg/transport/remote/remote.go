// Package remote implements the transport adapter for browser-style peers.
//
// Links come from a Backend and wait in a pending queue until the pump admits
// them. Admission assigns the next handle and attaches a Channels multiplexer
// built from the base channel set and the channels-builder callback.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

var (
	ErrNoBackend       = errors.New("remote: backend is required")
	ErrMissingEndpoint = errors.New("remote: remote endpoints are required")
)

type Options struct {
	Role    transport.Role
	Backend Backend
	Logger  *zap.Logger
}

// Conn is an admitted connection. Channels is nil when neither a base set nor
// a builder was configured at admission time.
type Conn struct {
	Handle   netid.RemoteHandle
	Link     Link
	Channels *Channels
}

func (c *Conn) Identity() netid.Identity { return netid.FromRemote(c.Handle) }

type Adapter struct {
	opts Options
	log  *zap.Logger

	base    *channel.Registry
	builder func(*ChannelsBuilder)

	pendMu  sync.Mutex
	pending []Link

	seq atomic.Uint32

	mu    sync.RWMutex
	conns map[netid.RemoteHandle]*Conn

	setup  atomic.Bool
	cancel context.CancelFunc
}

var _ transport.Adapter = (*Adapter)(nil)

func New(opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	return &Adapter{
		opts:  opts,
		log:   log.Named("remote"),
		base:  channel.NewRegistry(),
		conns: make(map[netid.RemoteHandle]*Conn),
	}
}

// Register adds ch to the base set applied to connections admitted later.
func (a *Adapter) Register(id channel.ID, s channel.Settings) error {
	return a.base.Register(id, s)
}

// SetChannelsBuilder installs the callback that completes each new
// connection's channel set.
func (a *Adapter) SetChannelsBuilder(fn func(*ChannelsBuilder)) { a.builder = fn }

func (a *Adapter) Setup(ctx context.Context, ep transport.Endpoints) error {
	if a.opts.Backend == nil {
		return ErrNoBackend
	}
	if ep.Remote == nil {
		return ErrMissingEndpoint
	}
	if !a.setup.CompareAndSwap(false, true) {
		return transport.ErrAlreadySetup
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.opts.Role == transport.RoleServer {
		if err := a.opts.Backend.Listen(ctx, *ep.Remote, a.enqueue); err != nil {
			a.abortSetup()
			return fmt.Errorf("remote: listen: %w", err)
		}
		a.log.Info("listening", zap.String("signalling", ep.Remote.Signalling), zap.String("listen", ep.Remote.Listen), zap.String("public", ep.Remote.Public))
		return nil
	}
	l, err := a.opts.Backend.Dial(ctx, ep.Remote.Signalling)
	if err != nil {
		a.abortSetup()
		return fmt.Errorf("remote: dial %s: %w", ep.Remote.Signalling, err)
	}
	a.enqueue(l)
	a.log.Info("connected", zap.Stringer("raddr", l.RemoteAddr()))
	return nil
}

// abortSetup undoes a failed Setup so it can be retried.
func (a *Adapter) abortSetup() {
	a.cancel()
	a.cancel = nil
	a.setup.Store(false)
}

// enqueue is called from backend goroutines.
func (a *Adapter) enqueue(l Link) {
	a.pendMu.Lock()
	a.pending = append(a.pending, l)
	a.pendMu.Unlock()
}

// TakePending removes and returns every link waiting for admission.
func (a *Adapter) TakePending() []Link {
	a.pendMu.Lock()
	defer a.pendMu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}

// Admit assigns the next handle to l and inserts it into the connection table.
func (a *Adapter) Admit(l Link) *Conn {
	c := &Conn{Handle: netid.RemoteHandle(a.seq.Add(1) - 1), Link: l}
	if a.base.Len() > 0 || a.builder != nil {
		b := newChannelsBuilder()
		for _, id := range a.base.IDs() {
			s, _ := a.base.Lookup(id)
			_ = b.Register(id, s)
		}
		if a.builder != nil {
			a.builder(b)
		}
		if b.Len() > 0 {
			c.Channels = b.build(l)
		}
	}
	a.mu.Lock()
	a.conns[c.Handle] = c
	a.mu.Unlock()
	a.log.Debug("connection admitted", zap.Uint32("handle", uint32(c.Handle)), zap.Stringer("raddr", l.RemoteAddr()))
	return c
}

// Conns lists admitted connections in ascending handle order.
func (a *Adapter) Conns() []*Conn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Conn, 0, len(a.conns))
	for _, c := range a.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (a *Adapter) conn(h netid.RemoteHandle) *Conn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conns[h]
}

// Remove closes and forgets the connection with handle h.
func (a *Adapter) Remove(h netid.RemoteHandle) {
	a.mu.Lock()
	c := a.conns[h]
	delete(a.conns, h)
	a.mu.Unlock()
	if c != nil {
		_ = c.Link.Close()
	}
}

func (a *Adapter) Send(payload []byte, ch channel.ID, dst netid.Identity) error {
	h, ok := dst.Remote()
	if !ok {
		return transport.NewSendError(ch, transport.ErrNotConnected)
	}
	c := a.conn(h)
	if c == nil {
		return transport.NewSendError(ch, transport.ErrNotConnected)
	}
	return transport.NewSendError(ch, sendOn(c, ch, payload))
}

func sendOn(c *Conn, ch channel.ID, payload []byte) error {
	if c.Channels == nil {
		return transport.ErrChannelUnregistered
	}
	if err := c.Channels.TrySend(ch, payload); err != nil {
		return err
	}
	return c.Channels.Flush(ch)
}

// Broadcast sends to every connection in handle order. Every connection is
// attempted; failures are joined.
func (a *Adapter) Broadcast(payload []byte, ch channel.ID) error {
	conns := a.Conns()
	if len(conns) == 0 {
		if a.opts.Role == transport.RoleClient {
			return transport.NewSendError(ch, transport.ErrNotConnected)
		}
		return nil
	}
	var errs []error
	for _, c := range conns {
		if err := sendOn(c, ch, payload); err != nil {
			errs = append(errs, transport.NewSendError(ch, fmt.Errorf("remote:%d: %w", c.Handle, err)))
		}
	}
	return errors.Join(errs...)
}

// ReceiveAll drains ch on every connection in handle order. Connections that
// do not carry ch are skipped. The call fails only when ch is unknown to the
// base set and no builder could have added it.
func (a *Adapter) ReceiveAll(ch channel.ID) ([]transport.Inbound, error) {
	if _, ok := a.base.Lookup(ch); !ok && a.builder == nil {
		return nil, &transport.ChannelProcessingError{Kind: transport.ProcessChannelUnregistered, Channel: ch, Err: transport.ErrChannelUnregistered}
	}
	var out []transport.Inbound
	for _, c := range a.Conns() {
		if c.Channels == nil || !c.Channels.Has(ch) {
			continue
		}
		for {
			p, ok, _ := c.Channels.TryRecv(ch)
			if !ok {
				break
			}
			out = append(out, transport.Inbound{From: c.Identity(), Payload: p})
		}
	}
	return out, nil
}

func (a *Adapter) Connections() []netid.Identity {
	conns := a.Conns()
	out := make([]netid.Identity, len(conns))
	for i, c := range conns {
		out[i] = c.Identity()
	}
	return out
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.conns) > 0
}

func (a *Adapter) Disconnect(id netid.Identity) error {
	h, ok := id.Remote()
	if !ok || a.conn(h) == nil {
		return &transport.DisconnectError{Conn: id}
	}
	a.Remove(h)
	a.log.Debug("disconnected", zap.Uint32("handle", uint32(h)))
	return nil
}

func (a *Adapter) DisconnectAll() {
	a.mu.Lock()
	conns := a.conns
	a.conns = make(map[netid.RemoteHandle]*Conn)
	a.mu.Unlock()
	for _, c := range conns {
		_ = c.Link.Close()
	}
}

// Close stops the backend and closes admitted and pending links.
func (a *Adapter) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.DisconnectAll()
	for _, l := range a.TakePending() {
		_ = l.Close()
	}
	if a.opts.Backend == nil {
		return nil
	}
	return a.opts.Backend.Close()
}
