// Package channel declares logical message lanes multiplexed over one
// physical connection.
package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrChannelAlreadyRegistered = errors.New("channel already registered")
	ErrRegistrationClosed       = errors.New("channel registration closed")
)

// ID is a single-byte channel identifier.
type ID uint8

// Reliability selects the delivery lane of a channel.
type Reliability uint8

const (
	Reliable Reliability = iota
	Unreliable
)

func (r Reliability) String() string {
	switch r {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// ParseReliability accepts "reliable" and "unreliable". Any ordered or
// sequenced mode maps onto the reliable lane.
func ParseReliability(s string) (Reliability, error) {
	switch s {
	case "", "reliable", "ordered", "sequenced":
		return Reliable, nil
	case "unreliable":
		return Unreliable, nil
	default:
		return 0, fmt.Errorf("unknown reliability %q", s)
	}
}

// ReliableSettings are tuning knobs of the backend's reliability layer. They
// are carried through untouched.
type ReliableSettings struct {
	ResendInterval       time.Duration
	InitialRTT           time.Duration
	MaxRTT               time.Duration
	FragmentSize         int
	SendWindow           int
	RecvWindow           int
	BandwidthBytesPerSec int
}

const DefaultMessageBufferSize = 64

// Settings configures one channel.
type Settings struct {
	Reliability Reliability
	Reliable    ReliableSettings
	// MessageBufferSize bounds per-connection queues of this channel.
	MessageBufferSize int
	PacketBufferSize  int
}

// BufferSize returns MessageBufferSize or the default when unset.
func (s Settings) BufferSize() int {
	if s.MessageBufferSize <= 0 {
		return DefaultMessageBufferSize
	}
	return s.MessageBufferSize
}

// Registry records the channels declared on one resource or adapter.
type Registry struct {
	mu       sync.RWMutex
	channels map[ID]Settings
	closed   bool
}

func NewRegistry() *Registry { return &Registry{channels: make(map[ID]Settings)} }

// Register declares a channel. A second registration of the same id fails
// whatever the settings.
func (r *Registry) Register(id ID, s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("channel %d: %w", id, ErrRegistrationClosed)
	}
	if _, ok := r.channels[id]; ok {
		return fmt.Errorf("channel %d: %w", id, ErrChannelAlreadyRegistered)
	}
	r.channels[id] = s
	return nil
}

func (r *Registry) Lookup(id ID) (Settings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.channels[id]
	return s, ok
}

// IDs returns registered ids in ascending order.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ID, 0, len(r.channels))
	for id := range r.channels {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Close rejects further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Reopen accepts registrations again after Close.
func (r *Registry) Reopen() {
	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()
}

func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
