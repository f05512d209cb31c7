// Package pump moves connection events and inbound frames of the remote
// adapter into the host's event queue, once per host tick.
package pump

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/network"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote"
)

var ErrPumpBusy = errors.New("pump: tick already running")

type EventKind uint8

const (
	EventConnected EventKind = iota
	EventPacket
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventPacket:
		return "packet"
	default:
		return "error"
	}
}

// Event is one thing that happened during a tick. Packet is set for
// EventPacket, Err for EventError.
type Event struct {
	Kind   EventKind
	Conn   netid.Identity
	Packet []byte
	Err    error
}

// Queue holds the events of the most recent tick.
type Queue struct {
	events []Event
}

func (q *Queue) Events() []Event { return q.events }

func (q *Queue) Len() int { return len(q.events) }

func (q *Queue) push(e Event) { q.events = append(q.events, e) }

func (q *Queue) reset() { q.events = q.events[:0] }

type Pump struct {
	log  *zap.Logger
	busy atomic.Bool
}

func New(log *zap.Logger) *Pump {
	if log == nil {
		log = zap.L()
	}
	return &Pump{log: log.Named("pump")}
}

// Tick clears q and fills it with this tick's events: native links admitted
// since the last tick, then pending remote links (handles assigned in order),
// then inbound remote frames per connection in handle order.
func (p *Pump) Tick(r *network.Resource, q *Queue) error {
	if !p.busy.CompareAndSwap(false, true) {
		p.log.Warn("tick skipped", zap.Error(ErrPumpBusy))
		return ErrPumpBusy
	}
	defer p.busy.Store(false)

	q.reset()
	if na := r.Native(); na != nil {
		for _, id := range na.TakeAccepted() {
			q.push(Event{Kind: EventConnected, Conn: netid.FromNative(id)})
		}
	}
	ra := r.Remote()
	if ra == nil {
		return nil
	}
	for _, l := range ra.TakePending() {
		c := ra.Admit(l)
		q.push(Event{Kind: EventConnected, Conn: c.Identity()})
	}
	for _, c := range ra.Conns() {
		if !p.drain(c, q) {
			q.push(Event{Kind: EventError, Conn: c.Identity(), Err: transport.ErrConnectionClosed})
			ra.Remove(c.Handle)
			p.log.Debug("connection closed", zap.Uint32("handle", uint32(c.Handle)))
		}
	}
	return nil
}

// drain reads what c has buffered right now. It returns false once the link
// is dead.
func (p *Pump) drain(c *remote.Conn, q *Queue) bool {
	pkts := c.Link.Packets()
	n := len(pkts)
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		var (
			pkt remote.Packet
			ok  bool
		)
		select {
		case pkt, ok = <-pkts:
		default:
			return true
		}
		if !ok {
			return false
		}
		id := c.Identity()
		switch {
		case pkt.Err != nil:
			q.push(Event{Kind: EventError, Conn: id, Err: pkt.Err})
		case transport.IsHeartbeat(pkt.Data):
		case c.Channels != nil:
			if err := c.Channels.Dispatch(pkt.Data); err != nil {
				q.push(Event{Kind: EventError, Conn: id, Err: err})
			}
		default:
			q.push(Event{Kind: EventPacket, Conn: id, Packet: pkt.Data})
		}
	}
	return true
}
