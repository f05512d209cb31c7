package transport

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/maximusretard/bootleg-networking/pkg/netid"
)

func TestFrameEncodeDecode(t *testing.T) {
	f := EncodeFrame(9, []byte("hello"))
	ch, payload, err := DecodeFrame(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ch != 9 || !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("got ch=%d payload=%q", ch, payload)
	}

	ch, payload, err = DecodeFrame(EncodeFrame(4, nil))
	if err != nil || ch != 4 || len(payload) != 0 {
		t.Fatalf("empty payload frame: ch=%d payload=%q err=%v", ch, payload, err)
	}

	if _, _, err := DecodeFrame(nil); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("heartbeat decoded as data: %v", err)
	}
	if !IsHeartbeat([]byte{}) || IsHeartbeat(f) {
		t.Fatalf("heartbeat detection broken")
	}
}

func TestSendErrorClassification(t *testing.T) {
	cases := []struct {
		cause error
		kind  SendErrorKind
	}{
		{ErrNotConnected, SendNotConnected},
		{fmt.Errorf("peer 3: %w", ErrChannelFull), SendChannelFull},
		{ErrChannelUnregistered, SendChannelUnregistered},
		{ErrQueueClosed, SendQueueClosed},
		{ErrPacketTooLarge, SendTooLarge},
		{errors.New("broken pipe"), SendTransport},
	}
	for _, c := range cases {
		err := NewSendError(2, c.cause)
		var se *SendMessageError
		if !errors.As(err, &se) {
			t.Fatalf("%v: not a SendMessageError", c.cause)
		}
		if se.Kind != c.kind || se.Channel != 2 {
			t.Fatalf("%v: kind=%v channel=%d", c.cause, se.Kind, se.Channel)
		}
		if !errors.Is(err, c.kind.sentinel()) {
			t.Fatalf("%v: errors.Is against kind sentinel failed", c.cause)
		}
	}
	if NewSendError(1, nil) != nil {
		t.Fatalf("nil cause must stay nil")
	}
}

func TestSendErrorIsNotRewrapped(t *testing.T) {
	inner := &SendMessageError{Kind: SendEncode, Channel: 1, Err: errors.New("bad value")}
	if err := NewSendError(5, inner); err != inner {
		t.Fatalf("existing SendMessageError rewrapped: %v", err)
	}
	if !errors.Is(inner, ErrEncode) || errors.Is(inner, ErrNotConnected) {
		t.Fatalf("kind matching broken")
	}
}

func TestProcessingAndDisconnectErrors(t *testing.T) {
	perr := &ChannelProcessingError{Kind: ProcessDecode, Channel: 3, Err: errors.New("eof")}
	if !errors.Is(perr, ErrDecode) || errors.Is(perr, ErrChannelUnregistered) {
		t.Fatalf("processing error matching broken")
	}
	derr := &DisconnectError{Conn: netid.FromRemote(4)}
	if !errors.Is(derr, ErrNotConnected) {
		t.Fatalf("disconnect error must match ErrNotConnected")
	}
}
