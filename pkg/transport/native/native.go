// Package native implements the transport adapter for native sockets: a TCP
// link for reliable channels and a UDP link for unreliable ones.
//
// Every link starts with a hello frame carrying the dialer's UUID, so the
// server can pair the TCP and UDP links of one client. Frames on TCP are u32 LE
// length-prefixed; on UDP each datagram is one frame.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

const (
	DefaultMaxPacketSize    = 65507
	DefaultSendQueueSize    = 256
	DefaultInboxLimit       = 4096
	DefaultHandshakeTimeout = 5 * time.Second
)

var ErrMissingEndpoint = errors.New("native: tcp and udp endpoints are required")

// Options configures an Adapter. Zero values select defaults.
type Options struct {
	Role   transport.Role
	Logger *zap.Logger
	// SendQueueSize bounds each link's outbound queue.
	SendQueueSize int
	// InboxLimit bounds buffered inbound messages per channel.
	InboxLimit int
	// HeartbeatInterval makes every link send an empty frame periodically.
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
}

// Adapter owns native links, per-channel inboxes and the channel registry.
type Adapter struct {
	opts     Options
	log      *zap.Logger
	uuid     uint32
	registry *channel.Registry
	links    *table
	inbox    *inbox

	setup     atomic.Bool
	maxPacket int

	acceptMu sync.Mutex
	accepted []netid.NativeConn

	// lifeMu orders admit against Close; no link is admitted once closed.
	lifeMu sync.Mutex
	closed bool

	cancel    context.CancelFunc
	tcpLn     net.Listener
	udpConn   *net.UDPConn
	udpMu     sync.Mutex
	udpByAddr map[netip.AddrPort]*link
	wg        sync.WaitGroup
}

var _ transport.Adapter = (*Adapter)(nil)

func New(opts Options) *Adapter {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultSendQueueSize
	}
	if opts.InboxLimit <= 0 {
		opts.InboxLimit = DefaultInboxLimit
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	return &Adapter{
		opts:      opts,
		log:       log.Named("native"),
		uuid:      uuid.New().ID(),
		registry:  channel.NewRegistry(),
		links:     newTable(),
		inbox:     newInbox(opts.InboxLimit),
		maxPacket: DefaultMaxPacketSize,
		udpByAddr: make(map[netip.AddrPort]*link),
	}
}

// UUID is the id this process announces in its hello frames.
func (a *Adapter) UUID() uint32 { return a.uuid }

// TCPAddr returns the bound TCP listener address (servers only).
func (a *Adapter) TCPAddr() net.Addr {
	if a.tcpLn == nil {
		return nil
	}
	return a.tcpLn.Addr()
}

// UDPAddr returns the local UDP address: the listening socket on servers.
func (a *Adapter) UDPAddr() net.Addr {
	if a.udpConn == nil {
		return nil
	}
	return a.udpConn.LocalAddr()
}

func (a *Adapter) Register(id channel.ID, s channel.Settings) error {
	return a.registry.Register(id, s)
}

// Setup listens (server) or dials (client) on ep.TCP and ep.UDP. Channel
// registration is closed once it succeeds. A failed Setup leaves the adapter
// as it was, so it can be retried.
func (a *Adapter) Setup(ctx context.Context, ep transport.Endpoints) error {
	if ep.TCP == nil || ep.UDP == nil {
		return ErrMissingEndpoint
	}
	if !a.setup.CompareAndSwap(false, true) {
		return transport.ErrAlreadySetup
	}
	a.lifeMu.Lock()
	closed := a.closed
	a.lifeMu.Unlock()
	if closed {
		a.setup.Store(false)
		return net.ErrClosed
	}
	if ep.MaxPacketSize > 0 {
		a.maxPacket = ep.MaxPacketSize
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	var err error
	if a.opts.Role == transport.RoleServer {
		err = a.listen(ctx, ep)
	} else {
		err = a.dial(ctx, ep)
	}
	if err != nil {
		cancel()
		a.closeSockets()
		a.tcpLn, a.udpConn, a.cancel = nil, nil, nil
		a.setup.Store(false)
		return err
	}
	a.registry.Close()
	a.wg.Add(1)
	go func() { defer a.wg.Done(); <-ctx.Done(); a.closeSockets() }()
	return nil
}

// Reset undoes a successful Setup: listeners and links are closed, I/O
// goroutines are waited for and channel registration reopens. The adapter
// can then be set up again. A caller that composes several adapters uses it
// to roll back when a later one fails.
func (a *Adapter) Reset() {
	if !a.setup.Load() {
		return
	}
	a.lifeMu.Lock()
	if a.closed {
		a.lifeMu.Unlock()
		return
	}
	a.closed = true
	a.lifeMu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	a.closeSockets()
	a.DisconnectAll()
	a.wg.Wait()
	a.TakeAccepted()
	a.tcpLn, a.udpConn, a.cancel = nil, nil, nil
	a.registry.Reopen()

	a.lifeMu.Lock()
	a.closed = false
	a.lifeMu.Unlock()
	a.setup.Store(false)
}

func (a *Adapter) listen(ctx context.Context, ep transport.Endpoints) error {
	ln, err := net.Listen("tcp", ep.TCP.String())
	if err != nil {
		return fmt.Errorf("native: listen tcp: %w", err)
	}
	a.tcpLn = ln
	uc, err := net.ListenUDP("udp", ep.UDP)
	if err != nil {
		return fmt.Errorf("native: listen udp: %w", err)
	}
	a.udpConn = uc
	a.log.Info("listening", zap.String("tcp", ln.Addr().String()), zap.String("udp", uc.LocalAddr().String()), zap.Int("max_packet", a.maxPacket))

	a.wg.Add(2)
	go func() { defer a.wg.Done(); a.acceptLoop(ctx) }()
	go func() { defer a.wg.Done(); a.udpServe() }()
	return nil
}

func (a *Adapter) acceptLoop(ctx context.Context) {
	for {
		c, err := a.tcpLn.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				a.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		a.wg.Add(1)
		go func() { defer a.wg.Done(); a.handshakeTCP(c) }()
	}
}

// handshakeTCP waits for the hello frame of an inbound TCP connection.
func (a *Adapter) handshakeTCP(c net.Conn) {
	w := newTCPWire(c, a.maxPacket)
	_ = c.SetReadDeadline(time.Now().Add(a.opts.HandshakeTimeout))
	f, err := w.readFrame()
	if err == nil {
		var id uint32
		id, err = decodeHello(f)
		if err == nil {
			_ = c.SetReadDeadline(time.Time{})
			a.startTCP(netid.NativeConn{UUID: id, Addr: addrPortOf(c.RemoteAddr()), Mode: netid.ModeTCP}, w)
			return
		}
	}
	a.log.Debug("tcp handshake failed", zap.String("raddr", c.RemoteAddr().String()), zap.Error(err))
	_ = c.Close()
}

func (a *Adapter) startTCP(id netid.NativeConn, w *tcpWire) {
	l := newLink(id, w, a.opts.SendQueueSize)
	if !a.admit(l) {
		return
	}
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		l.writeLoop(a.opts.HeartbeatInterval, func(err error) { a.drop(l, err) })
	}()
	go func() {
		defer a.wg.Done()
		for {
			f, err := w.readFrame()
			if errors.Is(err, transport.ErrFrameTooLarge) {
				a.log.Warn("dropped oversized frame", zap.Stringer("conn", id))
				continue
			}
			if err != nil {
				a.drop(l, err)
				return
			}
			l.touch()
			a.deliver(id, f)
		}
	}()
}

func (a *Adapter) udpServe() {
	err := readDatagrams(a.udpConn, func(from netip.AddrPort, pkt []byte) {
		from = unmap(from)
		a.udpMu.Lock()
		l := a.udpByAddr[from]
		a.udpMu.Unlock()
		if l != nil && !l.closed() {
			if _, herr := decodeHello(pkt); herr == nil {
				return
			}
			a.receiveDatagram(l, pkt)
			return
		}
		id, herr := decodeHello(pkt)
		if herr != nil {
			a.log.Debug("datagram from unknown address", zap.String("from", from.String()))
			return
		}
		nl := newLink(netid.NativeConn{UUID: id, Addr: from, Mode: netid.ModeUDP}, &udpPeerWire{conn: a.udpConn, raddr: from}, a.opts.SendQueueSize)
		if !a.admit(nl) {
			return
		}
		a.udpMu.Lock()
		a.udpByAddr[from] = nl
		a.udpMu.Unlock()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			nl.writeLoop(a.opts.HeartbeatInterval, func(err error) { a.drop(nl, err) })
		}()
	})
	if !errors.Is(err, net.ErrClosed) {
		a.log.Warn("udp read failed", zap.Error(err))
	}
}

func (a *Adapter) receiveDatagram(l *link, pkt []byte) {
	if len(pkt) > a.maxPacket {
		a.log.Warn("dropped oversized datagram", zap.Stringer("conn", l.id), zap.Int("size", len(pkt)))
		return
	}
	l.touch()
	a.deliver(l.id, pkt)
}

func (a *Adapter) dial(ctx context.Context, ep transport.Endpoints) error {
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", ep.TCP.String())
	if err != nil {
		return fmt.Errorf("native: dial tcp: %w", err)
	}
	w := newTCPWire(c, a.maxPacket)
	if err := w.writeFrame(encodeHello(a.uuid)); err != nil {
		_ = c.Close()
		return fmt.Errorf("native: tcp hello: %w", err)
	}

	uc, err := net.DialUDP("udp", nil, ep.UDP)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("native: dial udp: %w", err)
	}
	if _, err := uc.Write(encodeHello(a.uuid)); err != nil {
		_ = c.Close()
		_ = uc.Close()
		return fmt.Errorf("native: udp hello: %w", err)
	}

	a.startTCP(netid.NativeConn{UUID: a.uuid, Addr: addrPortOf(c.RemoteAddr()), Mode: netid.ModeTCP}, w)

	ul := newLink(netid.NativeConn{UUID: a.uuid, Addr: addrPortOf(uc.RemoteAddr()), Mode: netid.ModeUDP}, &udpDialWire{conn: uc}, a.opts.SendQueueSize)
	if !a.admit(ul) {
		return net.ErrClosed
	}
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		ul.writeLoop(a.opts.HeartbeatInterval, func(err error) { a.drop(ul, err) })
	}()
	go func() {
		defer a.wg.Done()
		err := readDatagrams(uc, func(_ netip.AddrPort, pkt []byte) { a.receiveDatagram(ul, pkt) })
		a.drop(ul, err)
	}()

	a.log.Info("connected", zap.String("tcp", c.RemoteAddr().String()), zap.String("udp", uc.RemoteAddr().String()), zap.Uint32("uuid", a.uuid))
	return nil
}

// admit adds l to the link table. After Close it closes l instead and
// reports false.
func (a *Adapter) admit(l *link) bool {
	a.lifeMu.Lock()
	if a.closed {
		a.lifeMu.Unlock()
		_ = l.close()
		a.log.Debug("link refused after close", zap.Stringer("conn", l.id))
		return false
	}
	old := a.links.add(l)
	a.lifeMu.Unlock()
	if old != nil {
		a.log.Info("link replaced", zap.Stringer("old", old.id), zap.Stringer("new", l.id))
		a.forget(old)
		_ = old.close()
	}
	a.acceptMu.Lock()
	a.accepted = append(a.accepted, l.id)
	a.acceptMu.Unlock()
	a.log.Debug("link up", zap.Stringer("conn", l.id))
	return true
}

// drop removes a failed link. Errors caused by our own close are not logged.
func (a *Adapter) drop(l *link, err error) {
	if a.links.remove(l.id, l) == nil {
		_ = l.close()
		return
	}
	a.forget(l)
	_ = l.close()
	switch {
	case errors.Is(err, io.EOF):
		a.log.Info("link closed by peer", zap.Stringer("conn", l.id))
	case errors.Is(err, net.ErrClosed):
	default:
		a.log.Warn("link failed", zap.Stringer("conn", l.id), zap.Error(err))
	}
}

func (a *Adapter) forget(l *link) {
	if l.id.Mode != netid.ModeUDP || a.opts.Role != transport.RoleServer {
		return
	}
	a.udpMu.Lock()
	if a.udpByAddr[l.id.Addr] == l {
		delete(a.udpByAddr, l.id.Addr)
	}
	a.udpMu.Unlock()
}

func (a *Adapter) deliver(from netid.NativeConn, f []byte) {
	if transport.IsHeartbeat(f) {
		return
	}
	ch, payload, err := transport.DecodeFrame(f)
	if err != nil {
		return
	}
	if _, ok := a.registry.Lookup(ch); !ok {
		a.log.Debug("frame on unregistered channel", zap.Uint8("channel", uint8(ch)), zap.Stringer("conn", from))
		return
	}
	if !a.inbox.push(ch, transport.Inbound{From: netid.FromNative(from), Payload: payload}) {
		a.log.Warn("inbox full, message dropped", zap.Uint8("channel", uint8(ch)), zap.Stringer("conn", from))
	}
}

// TakeAccepted returns the links admitted since the previous call.
func (a *Adapter) TakeAccepted() []netid.NativeConn {
	a.acceptMu.Lock()
	defer a.acceptMu.Unlock()
	out := a.accepted
	a.accepted = nil
	return out
}

func (a *Adapter) Send(payload []byte, ch channel.ID, dst netid.Identity) error {
	nc, ok := dst.Native()
	if !ok || a.links.get(nc) == nil {
		return transport.NewSendError(ch, transport.ErrNotConnected)
	}
	s, ok := a.registry.Lookup(ch)
	if !ok {
		return transport.NewSendError(ch, transport.ErrChannelUnregistered)
	}
	frame := transport.EncodeFrame(ch, payload)
	if len(frame) > a.maxPacket {
		return transport.NewSendError(ch, transport.ErrPacketTooLarge)
	}
	l, err := a.links.route(nc, s.Reliability)
	if err != nil {
		return transport.NewSendError(ch, err)
	}
	return transport.NewSendError(ch, l.enqueue(frame))
}

// Broadcast enqueues payload on every peer's lane for ch. All peers are
// attempted; failures are joined.
func (a *Adapter) Broadcast(payload []byte, ch channel.ID) error {
	s, ok := a.registry.Lookup(ch)
	if !ok {
		return transport.NewSendError(ch, transport.ErrChannelUnregistered)
	}
	lanes := a.links.lanes(s.Reliability)
	if len(lanes) == 0 {
		if a.opts.Role == transport.RoleClient {
			return transport.NewSendError(ch, transport.ErrNotConnected)
		}
		return nil
	}
	frame := transport.EncodeFrame(ch, payload)
	if len(frame) > a.maxPacket {
		return transport.NewSendError(ch, transport.ErrPacketTooLarge)
	}
	var errs []error
	for _, l := range lanes {
		if err := l.enqueue(frame); err != nil {
			errs = append(errs, transport.NewSendError(ch, fmt.Errorf("%s: %w", l.id, err)))
		}
	}
	return errors.Join(errs...)
}

func (a *Adapter) ReceiveAll(ch channel.ID) ([]transport.Inbound, error) {
	if _, ok := a.registry.Lookup(ch); !ok {
		return nil, &transport.ChannelProcessingError{Kind: transport.ProcessChannelUnregistered, Channel: ch, Err: transport.ErrChannelUnregistered}
	}
	return a.inbox.drain(ch), nil
}

func (a *Adapter) Connections() []netid.Identity {
	ids := a.links.ids()
	out := make([]netid.Identity, len(ids))
	for i, id := range ids {
		out[i] = netid.FromNative(id)
	}
	return out
}

func (a *Adapter) IsConnected() bool { return a.links.len() > 0 }

// Disconnect closes one link. The peer's other link, if any, stays up.
func (a *Adapter) Disconnect(id netid.Identity) error {
	nc, ok := id.Native()
	if !ok {
		return &transport.DisconnectError{Conn: id}
	}
	l := a.links.remove(nc, nil)
	if l == nil {
		return &transport.DisconnectError{Conn: id}
	}
	a.forget(l)
	_ = l.close()
	a.log.Debug("disconnected", zap.Stringer("conn", nc))
	return nil
}

func (a *Adapter) DisconnectAll() {
	for _, l := range a.links.clear() {
		a.forget(l)
		_ = l.close()
	}
}

// Close stops listeners, closes every link and waits for I/O goroutines.
func (a *Adapter) Close() error {
	a.lifeMu.Lock()
	a.closed = true
	a.lifeMu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	a.closeSockets()
	a.DisconnectAll()
	a.wg.Wait()
	return nil
}

func (a *Adapter) closeSockets() {
	if a.tcpLn != nil {
		_ = a.tcpLn.Close()
	}
	if a.udpConn != nil {
		_ = a.udpConn.Close()
	}
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	switch v := addr.(type) {
	case *net.TCPAddr:
		return unmap(v.AddrPort())
	case *net.UDPAddr:
		return unmap(v.AddrPort())
	default:
		ap, _ := netip.ParseAddrPort(addr.String())
		return ap
	}
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
