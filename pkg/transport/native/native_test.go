package native

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/netid"
	"github.com/maximusretard/bootleg-networking/pkg/transport"
)

const (
	chReliable   channel.ID = 3
	chUnreliable channel.ID = 4
)

func loopback() transport.Endpoints {
	return transport.Endpoints{
		TCP:           &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)},
		UDP:           &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)},
		MaxPacketSize: 1024,
	}
}

func newPair(t *testing.T) (srv, cli *Adapter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv = New(Options{Role: transport.RoleServer, Logger: zap.NewNop()})
	cli = New(Options{Role: transport.RoleClient, Logger: zap.NewNop()})
	for _, a := range []*Adapter{srv, cli} {
		require.NoError(t, a.Register(chReliable, channel.Settings{Reliability: channel.Reliable}))
		require.NoError(t, a.Register(chUnreliable, channel.Settings{Reliability: channel.Unreliable}))
	}
	require.NoError(t, srv.Setup(ctx, loopback()))
	t.Cleanup(func() { _ = srv.Close() })

	ep := transport.Endpoints{
		TCP:           srv.TCPAddr().(*net.TCPAddr),
		UDP:           srv.UDPAddr().(*net.UDPAddr),
		MaxPacketSize: 1024,
	}
	require.NoError(t, cli.Setup(ctx, ep))
	t.Cleanup(func() { _ = cli.Close() })

	require.Eventually(t, func() bool { return len(srv.Connections()) == 2 }, 2*time.Second, 10*time.Millisecond)
	return srv, cli
}

func identityOf(t *testing.T, a *Adapter, mode netid.ConnMode) netid.Identity {
	t.Helper()
	for _, id := range a.Connections() {
		if nc, _ := id.Native(); nc.Mode == mode {
			return id
		}
	}
	t.Fatalf("no %s connection", mode)
	return netid.Identity{}
}

func receive(t *testing.T, a *Adapter, ch channel.ID) []transport.Inbound {
	t.Helper()
	var got []transport.Inbound
	require.Eventually(t, func() bool {
		in, err := a.ReceiveAll(ch)
		if err != nil {
			return false
		}
		got = append(got, in...)
		return len(got) > 0
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestServerPairsClientLinks(t *testing.T) {
	srv, cli := newPair(t)

	for _, id := range srv.Connections() {
		nc, ok := id.Native()
		require.True(t, ok)
		require.Equal(t, cli.UUID(), nc.UUID)
	}
	modes := map[netid.ConnMode]bool{}
	for _, id := range cli.Connections() {
		nc, _ := id.Native()
		modes[nc.Mode] = true
	}
	require.True(t, modes[netid.ModeTCP] && modes[netid.ModeUDP], "client links: %v", cli.Connections())

	accepted := srv.TakeAccepted()
	require.Len(t, accepted, 2)
	require.Empty(t, srv.TakeAccepted())
}

func TestReliableRoundTrip(t *testing.T) {
	srv, cli := newPair(t)

	toServer := identityOf(t, cli, netid.ModeTCP)
	require.NoError(t, cli.Send([]byte("ping"), chReliable, toServer))

	got := receive(t, srv, chReliable)
	require.Len(t, got, 1)
	require.Equal(t, []byte("ping"), got[0].Payload)
	from, _ := got[0].From.Native()
	require.Equal(t, netid.ModeTCP, from.Mode)

	require.NoError(t, srv.Send(got[0].Payload, chReliable, got[0].From))
	back := receive(t, cli, chReliable)
	require.Equal(t, []byte("ping"), back[0].Payload)
}

func TestUnreliableUsesUDPLane(t *testing.T) {
	srv, cli := newPair(t)

	// Addressed to the TCP identity; the unreliable channel moves it to UDP.
	require.NoError(t, cli.Send([]byte("pos"), chUnreliable, identityOf(t, cli, netid.ModeTCP)))
	got := receive(t, srv, chUnreliable)
	from, _ := got[0].From.Native()
	require.Equal(t, netid.ModeUDP, from.Mode)
}

func TestSendErrors(t *testing.T) {
	srv, cli := newPair(t)
	toServer := identityOf(t, cli, netid.ModeTCP)

	stranger := netid.FromNative(netid.NativeConn{UUID: 1, Mode: netid.ModeTCP})
	require.ErrorIs(t, cli.Send([]byte("x"), chReliable, stranger), transport.ErrNotConnected)
	require.ErrorIs(t, cli.Send([]byte("x"), chReliable, netid.FromRemote(0)), transport.ErrNotConnected)
	require.ErrorIs(t, cli.Send([]byte("x"), 99, toServer), transport.ErrChannelUnregistered)
	require.ErrorIs(t, cli.Send(make([]byte, 2048), chReliable, toServer), transport.ErrPacketTooLarge)

	_, err := srv.ReceiveAll(99)
	require.ErrorIs(t, err, transport.ErrChannelUnregistered)
	require.ErrorIs(t, srv.Register(7, channel.Settings{}), channel.ErrRegistrationClosed)
	require.ErrorIs(t, srv.Setup(context.Background(), loopback()), transport.ErrAlreadySetup)
}

func TestBroadcastWithoutPeers(t *testing.T) {
	cli := New(Options{Role: transport.RoleClient, Logger: zap.NewNop()})
	require.NoError(t, cli.Register(chReliable, channel.Settings{}))
	require.ErrorIs(t, cli.Broadcast([]byte("x"), chReliable), transport.ErrNotConnected)

	srv := New(Options{Role: transport.RoleServer, Logger: zap.NewNop()})
	require.NoError(t, srv.Register(chReliable, channel.Settings{}))
	require.NoError(t, srv.Broadcast([]byte("x"), chReliable))
}

func TestBroadcastReachesClient(t *testing.T) {
	srv, cli := newPair(t)
	require.NoError(t, srv.Broadcast([]byte("all"), chReliable))
	got := receive(t, cli, chReliable)
	require.Equal(t, []byte("all"), got[0].Payload)
}

func TestDisconnect(t *testing.T) {
	srv, cli := newPair(t)

	udp := identityOf(t, srv, netid.ModeUDP)
	require.NoError(t, srv.Disconnect(udp))
	var de *transport.DisconnectError
	err := srv.Disconnect(udp)
	require.ErrorAs(t, err, &de)
	require.ErrorIs(t, err, transport.ErrNotConnected)
	require.ErrorIs(t, srv.Send([]byte("x"), chReliable, udp), transport.ErrNotConnected)
	require.True(t, srv.IsConnected())

	srv.DisconnectAll()
	require.False(t, srv.IsConnected())
	require.Empty(t, srv.Connections())

	cli.DisconnectAll()
	require.False(t, cli.IsConnected())
}

func TestSetupRetryAfterBindFailure(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	a := New(Options{Role: transport.RoleServer, Logger: zap.NewNop()})
	t.Cleanup(func() { _ = a.Close() })

	ep := loopback()
	ep.TCP = held.Addr().(*net.TCPAddr)
	require.Error(t, a.Setup(context.Background(), ep))
	require.Nil(t, a.TCPAddr())

	require.NoError(t, a.Register(chReliable, channel.Settings{}), "registration stays open after a failed setup")
	require.NoError(t, a.Setup(context.Background(), loopback()))
	require.NotNil(t, a.TCPAddr())
	require.ErrorIs(t, a.Register(chUnreliable, channel.Settings{}), channel.ErrRegistrationClosed)
}

func TestResetAllowsSetupAgain(t *testing.T) {
	srv, _ := newPair(t)

	srv.Reset()
	require.False(t, srv.IsConnected())
	require.Nil(t, srv.TCPAddr())
	require.Empty(t, srv.TakeAccepted())
	require.NoError(t, srv.Register(9, channel.Settings{}))

	require.NoError(t, srv.Setup(context.Background(), loopback()))
	require.NotNil(t, srv.TCPAddr())
	require.ErrorIs(t, srv.Setup(context.Background(), loopback()), transport.ErrAlreadySetup)
}

func TestAdmitRefusedAfterClose(t *testing.T) {
	a := New(Options{Role: transport.RoleServer, Logger: zap.NewNop()})
	require.NoError(t, a.Close())

	l := testLink(7, 6000, netid.ModeTCP)
	require.False(t, a.admit(l))
	require.True(t, l.closed())
	require.False(t, a.IsConnected())
	require.Empty(t, a.TakeAccepted())
	require.ErrorIs(t, a.Setup(context.Background(), loopback()), net.ErrClosed)
}
