package native

import (
	"sync"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

// inbox buffers decoded inbound messages per channel until ReceiveAll drains
// them. Each channel holds at most limit messages; later arrivals are dropped.
type inbox struct {
	mu    sync.Mutex
	limit int
	items map[channel.ID][]transport.Inbound
}

func newInbox(limit int) *inbox {
	return &inbox{limit: limit, items: make(map[channel.ID][]transport.Inbound)}
}

func (b *inbox) push(ch channel.ID, in transport.Inbound) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.items[ch]
	if b.limit > 0 && len(q) >= b.limit {
		return false
	}
	b.items[ch] = append(q, in)
	return true
}

func (b *inbox) drain(ch channel.ID) []transport.Inbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.items[ch]
	delete(b.items, ch)
	return q
}
