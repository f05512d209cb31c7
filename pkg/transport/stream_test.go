package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"
)

func TestFramedStreamRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	w := NewFramedStream(a, 0)
	r := NewFramedStream(b, 4)

	go func() {
		_ = w.WriteFrame([]byte("ok"))
		_ = w.WriteFrame([]byte("too long"))
		_ = w.WriteFrame(nil)
	}()

	f, err := r.ReadFrame()
	if err != nil || !bytes.Equal(f, []byte("ok")) {
		t.Fatalf("first frame: %q %v", f, err)
	}
	if _, err := r.ReadFrame(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized frame: %v", err)
	}
	f, err = r.ReadFrame()
	if err != nil || len(f) != 0 {
		t.Fatalf("empty frame after skip: %q %v", f, err)
	}
}
