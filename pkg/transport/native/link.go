package native

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

// wire writes whole frames to one link.
type wire interface {
	writeFrame(b []byte) error
	close() error
}

// link is one native connection with a bounded send queue drained by its own
// writer goroutine.
type link struct {
	id    netid.NativeConn
	w     wire
	sendq chan []byte

	done      chan struct{}
	closeOnce sync.Once

	establishedAt time.Time
	lastSeen      atomic.Int64
}

func newLink(id netid.NativeConn, w wire, queue int) *link {
	l := &link{
		id:            id,
		w:             w,
		sendq:         make(chan []byte, queue),
		done:          make(chan struct{}),
		establishedAt: time.Now(),
	}
	l.touch()
	return l
}

func (l *link) touch() { l.lastSeen.Store(time.Now().UnixNano()) }

// enqueue never blocks: a full queue reports ErrChannelFull and a closed link
// ErrQueueClosed.
func (l *link) enqueue(frame []byte) error {
	select {
	case <-l.done:
		return transport.ErrQueueClosed
	default:
	}
	select {
	case l.sendq <- frame:
		return nil
	case <-l.done:
		return transport.ErrQueueClosed
	default:
		return transport.ErrChannelFull
	}
}

func (l *link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *link) close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.w.close()
	})
	return err
}

// writeLoop drains the send queue and emits heartbeats when heartbeat > 0.
// onErr is called once with the first write failure.
func (l *link) writeLoop(heartbeat time.Duration, onErr func(error)) {
	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-l.done:
			return
		case f := <-l.sendq:
			if err := l.w.writeFrame(f); err != nil {
				onErr(err)
				return
			}
		case <-tick:
			if err := l.w.writeFrame(nil); err != nil {
				onErr(err)
				return
			}
		}
	}
}
