package native

import (
	"net"

	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

// tcpWire carries length-prefixed frames over one TCP connection.
type tcpWire struct {
	c  net.Conn
	fs *transport.FramedStream
}

func newTCPWire(c net.Conn, max int) *tcpWire {
	return &tcpWire{c: c, fs: transport.NewFramedStream(c, max)}
}

func (w *tcpWire) writeFrame(b []byte) error { return w.fs.WriteFrame(b) }

func (w *tcpWire) readFrame() ([]byte, error) { return w.fs.ReadFrame() }

func (w *tcpWire) close() error { return w.fs.Close() }
