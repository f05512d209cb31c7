package native

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// helloMagic opens the first frame of every native link. The UUID that
// follows ties the TCP and UDP links of one process together.
var helloMagic = []byte("BNH1")

const helloLen = 8

var errBadHello = errors.New("native: invalid hello")

func encodeHello(uuid uint32) []byte {
	b := make([]byte, helloLen)
	copy(b, helloMagic)
	binary.LittleEndian.PutUint32(b[4:], uuid)
	return b
}

func decodeHello(b []byte) (uint32, error) {
	if len(b) != helloLen || !bytes.Equal(b[:4], helloMagic) {
		return 0, errBadHello
	}
	return binary.LittleEndian.Uint32(b[4:]), nil
}
