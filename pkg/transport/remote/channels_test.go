package remote

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

type sent struct {
	frame    []byte
	reliable bool
}

type recordLink struct {
	sent []sent
	fail error
}

func (l *recordLink) Send(frame []byte, reliable bool) error {
	if l.fail != nil {
		return l.fail
	}
	l.sent = append(l.sent, sent{frame, reliable})
	return nil
}
func (l *recordLink) Packets() <-chan Packet { return nil }
func (l *recordLink) RemoteAddr() net.Addr   { return &net.TCPAddr{} }
func (l *recordLink) Close() error           { return nil }

func buildChannels(t *testing.T, l Link) *Channels {
	t.Helper()
	b := newChannelsBuilder()
	require.NoError(t, b.Register(1, channel.Settings{Reliability: channel.Reliable, MessageBufferSize: 2}))
	require.NoError(t, b.Register(2, channel.Settings{Reliability: channel.Unreliable, MessageBufferSize: 1}))
	require.ErrorIs(t, b.Register(1, channel.Settings{}), channel.ErrChannelAlreadyRegistered)
	return b.build(l)
}

func TestChannelsFlushFramesByReliability(t *testing.T) {
	l := &recordLink{}
	c := buildChannels(t, l)
	require.Equal(t, []channel.ID{1, 2}, c.IDs())

	require.NoError(t, c.TrySend(1, []byte("a")))
	require.NoError(t, c.TrySend(1, []byte("b")))
	require.ErrorIs(t, c.TrySend(1, []byte("c")), transport.ErrChannelFull)
	require.NoError(t, c.TrySend(2, []byte("u")))

	require.NoError(t, c.Flush(1))
	require.NoError(t, c.Flush(2))
	require.Equal(t, []sent{
		{[]byte{1, 'a'}, true},
		{[]byte{1, 'b'}, true},
		{[]byte{2, 'u'}, false},
	}, l.sent)

	require.ErrorIs(t, c.TrySend(9, nil), transport.ErrChannelUnregistered)
	require.ErrorIs(t, c.Flush(9), transport.ErrChannelUnregistered)
}

func TestChannelsFlushReportsTransportFailure(t *testing.T) {
	boom := errors.New("boom")
	c := buildChannels(t, &recordLink{fail: boom})
	require.NoError(t, c.TrySend(1, []byte("a")))
	err := c.Flush(1)
	require.ErrorIs(t, err, transport.ErrTransportFailure)
	require.ErrorIs(t, err, boom)
}

func TestChannelsDispatch(t *testing.T) {
	c := buildChannels(t, &recordLink{})

	require.NoError(t, c.Dispatch([]byte{2, 'x'}))
	require.ErrorIs(t, c.Dispatch([]byte{2, 'y'}), transport.ErrChannelFull)
	require.ErrorIs(t, c.Dispatch([]byte{7, 'z'}), transport.ErrChannelUnregistered)
	require.ErrorIs(t, c.Dispatch(nil), transport.ErrMalformedFrame)

	p, ok, err := c.TryRecv(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("x"), p)

	_, ok, err = c.TryRecv(2)
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = c.TryRecv(7)
	require.ErrorIs(t, err, transport.ErrChannelUnregistered)
}
