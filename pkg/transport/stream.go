package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxStreamFrame bounds a length prefix regardless of the configured max
// packet size.
const MaxStreamFrame = 1 << 24

var ErrFrameTooLarge = errors.New("frame exceeds max packet size")

// FramedStream carries u32 LE length-prefixed frames over a byte stream.
// Writes are serialised; reads must come from one goroutine.
type FramedStream struct {
	mu  sync.Mutex
	rw  io.ReadWriteCloser
	br  *bufio.Reader
	bw  *bufio.Writer
	max int
}

// NewFramedStream wraps rw. Inbound frames above max (when max > 0) are
// skipped with ErrFrameTooLarge.
func NewFramedStream(rw io.ReadWriteCloser, max int) *FramedStream {
	return &FramedStream{rw: rw, br: bufio.NewReader(rw), bw: bufio.NewWriter(rw), max: max}
}

func (s *FramedStream) WriteFrame(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := s.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := s.bw.Write(b); err != nil {
		return err
	}
	return s.bw.Flush()
}

// ReadFrame returns the next frame. An oversized frame is consumed and
// reported with ErrFrameTooLarge so the caller can keep reading.
func (s *FramedStream) ReadFrame() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(s.br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n > MaxStreamFrame {
		return nil, fmt.Errorf("invalid frame size %d", n)
	}
	if s.max > 0 && n > s.max {
		if _, err := io.CopyN(io.Discard, s.br, int64(n)); err != nil {
			return nil, err
		}
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *FramedStream) Close() error { return s.rw.Close() }
