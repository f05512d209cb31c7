package network

import (
	"fmt"
	"reflect"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

// Message is one decoded inbound message.
type Message[M any] struct {
	From  netid.Identity
	Value M
}

// ViewMessages drains ch and decodes every payload as M. Native messages come
// first, then remote ones in ascending handle order. The first payload that
// fails to decode aborts the call; messages drained so far are lost.
func ViewMessages[M any](r *Resource, ch channel.ID) ([]Message[M], error) {
	raw, err := r.receive(ch)
	if err != nil {
		return nil, err
	}
	out := make([]Message[M], 0, len(raw))
	for _, in := range raw {
		v, err := decode[M](r, in.Payload)
		if err != nil {
			return nil, &transport.ChannelProcessingError{Kind: transport.ProcessDecode, Channel: ch, Err: err}
		}
		out = append(out, Message[M]{From: in.From, Value: v})
	}
	return out, nil
}

// SendMessage encodes msg and sends it to one connection.
func SendMessage[M any](r *Resource, msg M, ch channel.ID, to netid.Identity) error {
	b, err := r.codec.Marshal(msg)
	if err != nil {
		return transport.NewSendError(ch, fmt.Errorf("%w: %v", transport.ErrEncode, err))
	}
	return r.send(b, ch, to)
}

// BroadcastMessage encodes msg once and sends it to every connection of both
// adapters.
func BroadcastMessage[M any](r *Resource, msg M, ch channel.ID) error {
	b, err := r.codec.Marshal(msg)
	if err != nil {
		return transport.NewSendError(ch, fmt.Errorf("%w: %v", transport.ErrEncode, err))
	}
	return r.broadcast(b, ch)
}

// decode unmarshals into M. When M is a pointer type a fresh value is
// allocated so codecs that need the concrete message (protobuf) receive it.
func decode[M any](r *Resource, b []byte) (M, error) {
	var v M
	if t := reflect.TypeOf((*M)(nil)).Elem(); t.Kind() == reflect.Pointer {
		v = reflect.New(t.Elem()).Interface().(M)
		err := r.codec.Unmarshal(b, v)
		return v, err
	}
	err := r.codec.Unmarshal(b, &v)
	return v, err
}
