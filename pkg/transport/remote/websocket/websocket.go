// Package websocket is a remote backend over gorilla/websocket. Every binary
// message is one frame; both lanes share the underlying TCP stream.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/transport"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote"
)

const (
	DefaultPath         = "/ws"
	DefaultWriteTimeout = 5 * time.Second
)

type Options struct {
	Path         string
	Logger       *zap.Logger
	Buffer       int
	WriteTimeout time.Duration
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

type Backend struct {
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	mu    sync.Mutex
	srv   *http.Server
	ln    net.Listener
	links map[*link]struct{}
}

var _ remote.Backend = (*Backend)(nil)

func New(opts Options) *Backend {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Buffer <= 0 {
		opts.Buffer = remote.DefaultPacketBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	return &Backend{
		opts:     opts,
		log:      log.Named("websocket"),
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		links:    make(map[*link]struct{}),
	}
}

// Handler upgrades requests and hands each new link to accept.
func (b *Backend) Handler(accept func(remote.Link)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.Debug("upgrade failed", zap.String("raddr", r.RemoteAddr), zap.Error(err))
			return
		}
		accept(b.start(conn))
	})
}

// Listen serves Options.Path on ep.Signalling.
func (b *Backend) Listen(ctx context.Context, ep transport.RemoteEndpoints, accept func(remote.Link)) error {
	ln, err := net.Listen("tcp", ep.Signalling)
	if err != nil {
		return fmt.Errorf("websocket: listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(b.opts.Path, b.Handler(accept))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	b.mu.Lock()
	b.srv, b.ln = srv, ln
	b.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Warn("serve failed", zap.Error(err))
		}
	}()
	go func() { <-ctx.Done(); _ = srv.Close() }()
	b.log.Info("serving", zap.String("addr", ln.Addr().String()), zap.String("path", b.opts.Path))
	return nil
}

// Addr is the bound listener address, nil before Listen.
func (b *Backend) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Dial accepts host:port or a full ws:// / wss:// URL.
func (b *Backend) Dial(ctx context.Context, addr string) (remote.Link, error) {
	url := addr
	if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
		url = "ws://" + addr + b.opts.Path
	}
	conn, _, err := b.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", url, err)
	}
	return b.start(conn), nil
}

func (b *Backend) start(conn *websocket.Conn) *link {
	l := &link{
		b:       b,
		conn:    conn,
		packets: make(chan remote.Packet, b.opts.Buffer),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	b.links[l] = struct{}{}
	b.mu.Unlock()
	go l.readLoop()
	return l
}

func (b *Backend) forget(l *link) {
	b.mu.Lock()
	delete(b.links, l)
	b.mu.Unlock()
}

func (b *Backend) Close() error {
	b.mu.Lock()
	srv := b.srv
	links := make([]*link, 0, len(b.links))
	for l := range b.links {
		links = append(links, l)
	}
	b.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}

type link struct {
	b       *Backend
	conn    *websocket.Conn
	packets chan remote.Packet

	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (l *link) readLoop() {
	defer close(l.packets)
	for {
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.push(remote.Packet{Err: err})
			}
			l.b.forget(l)
			_ = l.conn.Close()
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if !l.push(remote.Packet{Data: data}) {
			return
		}
	}
}

// push blocks until the pump drains the buffer or the link is closed.
func (l *link) push(p remote.Packet) bool {
	select {
	case l.packets <- p:
		return true
	case <-l.done:
		return false
	}
}

func (l *link) Send(frame []byte, _ bool) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	select {
	case <-l.done:
		return net.ErrClosed
	default:
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.b.opts.WriteTimeout))
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (l *link) Packets() <-chan remote.Packet { return l.packets }

func (l *link) RemoteAddr() net.Addr { return l.conn.RemoteAddr() }

func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.b.forget(l)
		l.wmu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.wmu.Unlock()
		err = l.conn.Close()
	})
	return err
}
