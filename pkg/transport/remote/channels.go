package remote

import (
	"errors"
	"sort"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

// ChannelsBuilder collects the channel set of one connection. The adapter
// seeds it with its base set before the user callback runs.
type ChannelsBuilder struct {
	settings map[channel.ID]channel.Settings
}

func newChannelsBuilder() *ChannelsBuilder {
	return &ChannelsBuilder{settings: make(map[channel.ID]channel.Settings)}
}

func (b *ChannelsBuilder) Register(id channel.ID, s channel.Settings) error {
	if _, ok := b.settings[id]; ok {
		return channel.ErrChannelAlreadyRegistered
	}
	b.settings[id] = s
	return nil
}

func (b *ChannelsBuilder) Len() int { return len(b.settings) }

func (b *ChannelsBuilder) build(l Link) *Channels {
	c := &Channels{link: l, lanes: make(map[channel.ID]*lane, len(b.settings))}
	for id, s := range b.settings {
		n := s.BufferSize()
		c.lanes[id] = &lane{settings: s, out: make(chan []byte, n), in: make(chan []byte, n)}
	}
	return c
}

type lane struct {
	settings channel.Settings
	out      chan []byte
	in       chan []byte
}

// Channels multiplexes the registered channels of one connection over its
// link. Outbound and inbound queues are bounded by MessageBufferSize.
type Channels struct {
	link  Link
	lanes map[channel.ID]*lane
}

func (c *Channels) IDs() []channel.ID {
	out := make([]channel.ID, 0, len(c.lanes))
	for id := range c.lanes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Channels) Has(ch channel.ID) bool { _, ok := c.lanes[ch]; return ok }

// TrySend buffers payload for ch without blocking.
func (c *Channels) TrySend(ch channel.ID, payload []byte) error {
	ln, ok := c.lanes[ch]
	if !ok {
		return transport.ErrChannelUnregistered
	}
	select {
	case ln.out <- payload:
		return nil
	default:
		return transport.ErrChannelFull
	}
}

// Flush writes every buffered message of ch to the link. Write failures are
// wrapped in ErrTransportFailure; the remaining messages are still attempted.
func (c *Channels) Flush(ch channel.ID) error {
	ln, ok := c.lanes[ch]
	if !ok {
		return transport.ErrChannelUnregistered
	}
	reliable := ln.settings.Reliability == channel.Reliable
	var errs []error
	for {
		select {
		case p := <-ln.out:
			if err := c.link.Send(transport.EncodeFrame(ch, p), reliable); err != nil {
				errs = append(errs, errors.Join(transport.ErrTransportFailure, err))
			}
		default:
			return errors.Join(errs...)
		}
	}
}

// Dispatch routes one inbound frame to its channel's receive queue.
func (c *Channels) Dispatch(frame []byte) error {
	ch, payload, err := transport.DecodeFrame(frame)
	if err != nil {
		return err
	}
	ln, ok := c.lanes[ch]
	if !ok {
		return &transport.ChannelProcessingError{Kind: transport.ProcessChannelUnregistered, Channel: ch, Err: transport.ErrChannelUnregistered}
	}
	select {
	case ln.in <- payload:
		return nil
	default:
		return transport.ErrChannelFull
	}
}

// TryRecv pops one inbound message of ch. ok is false when the queue is empty.
func (c *Channels) TryRecv(ch channel.ID) (payload []byte, ok bool, err error) {
	ln, found := c.lanes[ch]
	if !found {
		return nil, false, transport.ErrChannelUnregistered
	}
	select {
	case p := <-ln.in:
		return p, true, nil
	default:
		return nil, false, nil
	}
}
