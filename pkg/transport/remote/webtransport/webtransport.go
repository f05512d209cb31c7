// Package webtransport is a remote backend over WebTransport (HTTP/3).
//
// The server binds HTTP/3 on the listen address with an ephemeral
// certificate and answers GET /session on the signalling address with the
// session URL and the certificate hash a browser must pin. Each session
// carries one bidirectional stream of length-prefixed frames for reliable
// traffic; unreliable frames travel as datagrams.
package webtransport

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/transport"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote"
)

const (
	SessionPath = "/session"
	DefaultPath = "/wt"

	streamTimeout = 10 * time.Second
)

var ErrCertMismatch = errors.New("webtransport: certificate hash mismatch")

// Offer is the signalling response.
type Offer struct {
	URL      string `json:"url"`
	CertHash string `json:"cert_hash"`
}

type Options struct {
	Path   string
	Logger *zap.Logger
	Buffer int
	// TLSConfig replaces the ephemeral certificate on servers.
	TLSConfig *tls.Config
}

type Backend struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	server   *webtransport.Server
	sig      *http.Server
	sigLn    net.Listener
	udp      net.PacketConn
	offer    Offer
	links    map[*link]struct{}
	client   *http.Client
	dialers  []*webtransport.Dialer
	closeErr error
}

var _ remote.Backend = (*Backend)(nil)

func New(opts Options) *Backend {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Buffer <= 0 {
		opts.Buffer = remote.DefaultPacketBuffer
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	return &Backend{
		opts:   opts,
		log:    log.Named("webtransport"),
		links:  make(map[*link]struct{}),
		client: &http.Client{Timeout: streamTimeout},
	}
}

func (b *Backend) Listen(ctx context.Context, ep transport.RemoteEndpoints, accept func(remote.Link)) error {
	tlsConf := b.opts.TLSConfig
	var hash string
	if tlsConf == nil {
		cert, sum, err := ephemeralCert()
		if err != nil {
			return fmt.Errorf("webtransport: certificate: %w", err)
		}
		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
		hash = hex.EncodeToString(sum[:])
	}
	tlsConf = http3.ConfigureTLSConfig(tlsConf)

	udp, err := net.ListenPacket("udp", ep.Listen)
	if err != nil {
		return fmt.Errorf("webtransport: listen %s: %w", ep.Listen, err)
	}
	sigLn, err := net.Listen("tcp", ep.Signalling)
	if err != nil {
		_ = udp.Close()
		return fmt.Errorf("webtransport: signalling %s: %w", ep.Signalling, err)
	}

	public := ep.Public
	if public == "" {
		public = udp.LocalAddr().String()
	}
	offer := Offer{URL: "https://" + public + b.opts.Path, CertHash: hash}

	mux := http.NewServeMux()
	server := &webtransport.Server{
		H3: http3.Server{
			TLSConfig: tlsConf,
			Handler:   mux,
		},
		CheckOrigin: func(*http.Request) bool { return true },
	}
	mux.HandleFunc(b.opts.Path, func(w http.ResponseWriter, r *http.Request) {
		sess, err := server.Upgrade(w, r)
		if err != nil {
			b.log.Debug("upgrade failed", zap.String("raddr", r.RemoteAddr), zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		go b.serveSession(ctx, sess, accept)
	})

	sigMux := http.NewServeMux()
	sigMux.HandleFunc(SessionPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_ = json.NewEncoder(w).Encode(offer)
	})
	sig := &http.Server{Handler: sigMux, ReadHeaderTimeout: streamTimeout}

	b.mu.Lock()
	b.server, b.sig, b.sigLn, b.udp, b.offer = server, sig, sigLn, udp, offer
	b.mu.Unlock()

	go func() {
		if err := server.Serve(udp); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			b.log.Warn("http3 serve failed", zap.Error(err))
		}
	}()
	go func() {
		if err := sig.Serve(sigLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Warn("signalling serve failed", zap.Error(err))
		}
	}()
	go func() { <-ctx.Done(); _ = b.shutdown() }()

	b.log.Info("serving", zap.String("signalling", sigLn.Addr().String()), zap.String("listen", udp.LocalAddr().String()), zap.String("url", offer.URL))
	return nil
}

// Offer returns what the signalling endpoint serves.
func (b *Backend) Offer() Offer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offer
}

// SignallingAddr is the bound signalling address, nil before Listen.
func (b *Backend) SignallingAddr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sigLn == nil {
		return nil
	}
	return b.sigLn.Addr()
}

// serveSession waits for the client's stream and hands the link over.
func (b *Backend) serveSession(ctx context.Context, sess *webtransport.Session, accept func(remote.Link)) {
	sctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()
	str, err := sess.AcceptStream(sctx)
	if err != nil {
		b.log.Debug("no stream on session", zap.Stringer("raddr", sess.RemoteAddr()), zap.Error(err))
		_ = sess.CloseWithError(1, "no stream")
		return
	}
	accept(b.start(sess, str))
}

// Dial takes either the signalling host:port, whose offer is fetched first,
// or a session URL (https://...) whose certificate is then not verified.
func (b *Backend) Dial(ctx context.Context, addr string) (remote.Link, error) {
	offer := Offer{URL: addr}
	if !strings.HasPrefix(addr, "https://") {
		var err error
		if offer, err = b.fetchOffer(ctx, addr); err != nil {
			return nil, err
		}
	}

	tlsConf := &tls.Config{NextProtos: []string{http3.NextProtoH3}, InsecureSkipVerify: true}
	if offer.CertHash != "" {
		want := offer.CertHash
		tlsConf.VerifyPeerCertificate = func(raw [][]byte, _ [][]*x509.Certificate) error {
			if len(raw) == 0 {
				return ErrCertMismatch
			}
			sum := sha256.Sum256(raw[0])
			if hex.EncodeToString(sum[:]) != want {
				return ErrCertMismatch
			}
			return nil
		}
	}
	d := &webtransport.Dialer{
		TLSClientConfig: tlsConf,
		QUICConfig:      &quic.Config{EnableDatagrams: true},
	}
	b.mu.Lock()
	b.dialers = append(b.dialers, d)
	b.mu.Unlock()

	_, sess, err := d.Dial(ctx, offer.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("webtransport: dial %s: %w", offer.URL, err)
	}
	str, err := sess.OpenStreamSync(ctx)
	if err != nil {
		_ = sess.CloseWithError(1, "stream")
		return nil, fmt.Errorf("webtransport: open stream: %w", err)
	}
	l := b.start(sess, str)
	// The server only learns about the stream once bytes arrive on it.
	if err := l.fs.WriteFrame(nil); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("webtransport: open stream: %w", err)
	}
	return l, nil
}

func (b *Backend) fetchOffer(ctx context.Context, addr string) (Offer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+SessionPath, nil)
	if err != nil {
		return Offer{}, err
	}
	rsp, err := b.client.Do(req)
	if err != nil {
		return Offer{}, fmt.Errorf("webtransport: signalling: %w", err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return Offer{}, fmt.Errorf("webtransport: signalling: status %d", rsp.StatusCode)
	}
	var o Offer
	if err := json.NewDecoder(rsp.Body).Decode(&o); err != nil {
		return Offer{}, fmt.Errorf("webtransport: signalling: %w", err)
	}
	return o, nil
}

func (b *Backend) start(sess *webtransport.Session, str *webtransport.Stream) *link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		b:       b,
		sess:    sess,
		fs:      transport.NewFramedStream(str, 0),
		packets: make(chan remote.Packet, b.opts.Buffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	b.mu.Lock()
	b.links[l] = struct{}{}
	b.mu.Unlock()

	l.wg.Add(2)
	go l.readStream()
	go l.readDatagrams()
	go func() { l.wg.Wait(); close(l.packets) }()
	return l
}

func (b *Backend) forget(l *link) {
	b.mu.Lock()
	delete(b.links, l)
	b.mu.Unlock()
}

func (b *Backend) shutdown() error {
	b.mu.Lock()
	server, sig := b.server, b.sig
	b.server, b.sig = nil, nil
	b.mu.Unlock()
	var errs []error
	if sig != nil {
		errs = append(errs, sig.Close())
	}
	if server != nil {
		errs = append(errs, server.Close())
	}
	return errors.Join(errs...)
}

func (b *Backend) Close() error {
	b.mu.Lock()
	links := make([]*link, 0, len(b.links))
	for l := range b.links {
		links = append(links, l)
	}
	dialers := b.dialers
	b.dialers = nil
	b.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
	for _, d := range dialers {
		_ = d.Close()
	}
	return b.shutdown()
}

type link struct {
	b       *Backend
	sess    *webtransport.Session
	fs      *transport.FramedStream
	packets chan remote.Packet

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	failOnce  sync.Once
}

func (l *link) readStream() {
	defer l.wg.Done()
	for {
		f, err := l.fs.ReadFrame()
		if err != nil {
			l.fail(err)
			return
		}
		if !l.push(remote.Packet{Data: f}) {
			return
		}
	}
}

func (l *link) readDatagrams() {
	defer l.wg.Done()
	for {
		d, err := l.sess.ReceiveDatagram(l.ctx)
		if err != nil {
			l.fail(err)
			return
		}
		if !l.push(remote.Packet{Data: d}) {
			return
		}
	}
}

// fail reports the first read error unless the link is being closed, then
// tears the session down so the other reader stops too.
func (l *link) fail(err error) {
	l.failOnce.Do(func() {
		if l.ctx.Err() == nil && !isSessionClosed(err) {
			l.push(remote.Packet{Err: err})
		}
		_ = l.Close()
	})
}

func isSessionClosed(err error) bool {
	var se *webtransport.SessionError
	return errors.As(err, &se) || errors.Is(err, context.Canceled)
}

func (l *link) push(p remote.Packet) bool {
	select {
	case l.packets <- p:
		return true
	case <-l.ctx.Done():
		return false
	}
}

func (l *link) Send(frame []byte, reliable bool) error {
	if l.ctx.Err() != nil {
		return net.ErrClosed
	}
	if !reliable {
		err := l.sess.SendDatagram(frame)
		var tooLarge *quic.DatagramTooLargeError
		if !errors.As(err, &tooLarge) {
			return err
		}
	}
	return l.fs.WriteFrame(frame)
}

func (l *link) Packets() <-chan remote.Packet { return l.packets }

func (l *link) RemoteAddr() net.Addr { return l.sess.RemoteAddr() }

func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		l.b.forget(l)
		err = l.sess.CloseWithError(0, "")
	})
	return err
}
