package network

import (
	"fmt"
	"strings"
)

// Capabilities selects the adapters a Resource may carry.
type Capabilities uint8

const (
	CapNative Capabilities = 1 << iota
	CapRemote
)

const (
	NativeOnly = CapNative
	RemoteOnly = CapRemote
	Both       = CapNative | CapRemote
)

func (c Capabilities) Has(x Capabilities) bool { return c&x == x }

func (c Capabilities) String() string {
	switch c {
	case NativeOnly:
		return "native"
	case RemoteOnly:
		return "remote"
	case Both:
		return "native,remote"
	default:
		return "none"
	}
}

// ParseCapabilities accepts "native", "remote", "both" or a comma separated
// list of the first two.
func ParseCapabilities(s string) (Capabilities, error) {
	var c Capabilities
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "native":
			c |= CapNative
		case "remote":
			c |= CapRemote
		case "both":
			c |= Both
		case "":
		default:
			return 0, fmt.Errorf("network: unknown capability %q", part)
		}
	}
	if c == 0 {
		return 0, ErrNoCapabilities
	}
	return c, nil
}

// effective applies the role rules: a client never carries the remote
// adapter next to the native one.
func effective(c Capabilities, server bool) (withNative, withRemote bool) {
	withNative = c.Has(CapNative)
	withRemote = c.Has(CapRemote)
	if !server && withNative {
		withRemote = false
	}
	return withNative, withRemote
}
