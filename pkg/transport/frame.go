package transport

import "github.com/maximusretard/bootleg-networking/pkg/channel"

// EncodeFrame builds a data frame: [channel id][payload].
func EncodeFrame(ch channel.ID, payload []byte) []byte {
	b := make([]byte, 1+len(payload))
	b[0] = byte(ch)
	copy(b[1:], payload)
	return b
}

// DecodeFrame splits a data frame. The payload aliases b.
func DecodeFrame(b []byte) (channel.ID, []byte, error) {
	if len(b) == 0 {
		return 0, nil, ErrMalformedFrame
	}
	return channel.ID(b[0]), b[1:], nil
}

// IsHeartbeat reports whether b is an empty liveness frame.
func IsHeartbeat(b []byte) bool { return len(b) == 0 }
