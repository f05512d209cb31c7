package native

import (
	"net"
	"net/netip"
)

// maxDatagram is the largest UDP payload the read loops accept.
const maxDatagram = 64 * 1024

// udpPeerWire writes datagrams to one remote address through the listener's
// shared socket. Closing it leaves the socket open.
type udpPeerWire struct {
	conn  *net.UDPConn
	raddr netip.AddrPort
}

func (w *udpPeerWire) writeFrame(b []byte) error {
	_, err := w.conn.WriteToUDPAddrPort(b, w.raddr)
	return err
}

func (w *udpPeerWire) close() error { return nil }

// udpDialWire owns a connected socket.
type udpDialWire struct {
	conn *net.UDPConn
}

func (w *udpDialWire) writeFrame(b []byte) error {
	_, err := w.conn.Write(b)
	return err
}

func (w *udpDialWire) close() error { return w.conn.Close() }

// readDatagrams reads from c until it fails, handing each datagram (copied)
// and its source to fn.
func readDatagrams(c *net.UDPConn, fn func(from netip.AddrPort, pkt []byte)) error {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := c.ReadFromUDPAddrPort(buf)
		if err != nil {
			return err
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		fn(from, pkt)
	}
}
