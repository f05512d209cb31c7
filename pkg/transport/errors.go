package transport

import (
	"errors"
	"fmt"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
)

var (
	ErrNotConnected        = errors.New("not connected")
	ErrChannelUnregistered = errors.New("channel unregistered")
	ErrChannelFull         = errors.New("channel buffer full")
	ErrQueueClosed         = errors.New("send queue closed")
	ErrPacketTooLarge      = errors.New("packet exceeds max packet size")
	ErrEncode              = errors.New("encode failed")
	ErrDecode              = errors.New("decode failed")
	ErrTransportFailure    = errors.New("transport failure")

	ErrAlreadySetup     = errors.New("adapter already set up")
	ErrConnectionClosed = errors.New("connection closed")
	ErrMalformedFrame   = errors.New("malformed frame")
)

// SendErrorKind discriminates SendMessageError.
type SendErrorKind uint8

const (
	SendEncode SendErrorKind = iota
	SendQueueClosed
	SendNotConnected
	SendChannelUnregistered
	SendChannelFull
	SendTooLarge
	SendTransport
)

func (k SendErrorKind) sentinel() error {
	switch k {
	case SendEncode:
		return ErrEncode
	case SendQueueClosed:
		return ErrQueueClosed
	case SendNotConnected:
		return ErrNotConnected
	case SendChannelUnregistered:
		return ErrChannelUnregistered
	case SendChannelFull:
		return ErrChannelFull
	case SendTooLarge:
		return ErrPacketTooLarge
	default:
		return ErrTransportFailure
	}
}

func (k SendErrorKind) String() string { return k.sentinel().Error() }

// SendMessageError is returned by every send and broadcast path. Match it with
// errors.Is against the kind sentinels or errors.As for the wrapped cause.
type SendMessageError struct {
	Kind    SendErrorKind
	Channel channel.ID
	Err     error
}

func (e *SendMessageError) Error() string {
	if e.Err == nil || e.Err == e.Kind.sentinel() {
		return fmt.Sprintf("send on channel %d: %s", e.Channel, e.Kind)
	}
	return fmt.Sprintf("send on channel %d: %s: %v", e.Channel, e.Kind, e.Err)
}

func (e *SendMessageError) Unwrap() error { return e.Err }

func (e *SendMessageError) Is(target error) bool { return target == e.Kind.sentinel() }

// NewSendError wraps err, classifying it by the sentinel it carries. Errors
// without a known sentinel are reported as SendTransport.
func NewSendError(ch channel.ID, err error) error {
	if err == nil {
		return nil
	}
	var se *SendMessageError
	if errors.As(err, &se) {
		return err
	}
	return &SendMessageError{Kind: classifySend(err), Channel: ch, Err: err}
}

func classifySend(err error) SendErrorKind {
	switch {
	case errors.Is(err, ErrNotConnected):
		return SendNotConnected
	case errors.Is(err, ErrChannelUnregistered):
		return SendChannelUnregistered
	case errors.Is(err, ErrChannelFull):
		return SendChannelFull
	case errors.Is(err, ErrQueueClosed):
		return SendQueueClosed
	case errors.Is(err, ErrPacketTooLarge):
		return SendTooLarge
	case errors.Is(err, ErrEncode):
		return SendEncode
	default:
		return SendTransport
	}
}

// ProcessErrorKind discriminates ChannelProcessingError.
type ProcessErrorKind uint8

const (
	ProcessDecode ProcessErrorKind = iota
	ProcessChannelUnregistered
)

func (k ProcessErrorKind) sentinel() error {
	if k == ProcessChannelUnregistered {
		return ErrChannelUnregistered
	}
	return ErrDecode
}

// ChannelProcessingError is returned when draining a channel fails.
type ChannelProcessingError struct {
	Kind    ProcessErrorKind
	Channel channel.ID
	Err     error
}

func (e *ChannelProcessingError) Error() string {
	if e.Err == nil || e.Err == e.Kind.sentinel() {
		return fmt.Sprintf("process channel %d: %s", e.Channel, e.Kind.sentinel())
	}
	return fmt.Sprintf("process channel %d: %s: %v", e.Channel, e.Kind.sentinel(), e.Err)
}

func (e *ChannelProcessingError) Unwrap() error { return e.Err }

func (e *ChannelProcessingError) Is(target error) bool { return target == e.Kind.sentinel() }

// DisconnectError reports a disconnect aimed at an unknown connection.
type DisconnectError struct {
	Conn netid.Identity
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnect %s: %s", e.Conn, ErrNotConnected)
}

func (e *DisconnectError) Unwrap() error { return ErrNotConnected }
