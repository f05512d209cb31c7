package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/transport"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote"
)

func next(t *testing.T, l remote.Link) (remote.Packet, bool) {
	t.Helper()
	select {
	case p, ok := <-l.Packets():
		return p, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return remote.Packet{}, false
	}
}

func TestHandlerRoundTrip(t *testing.T) {
	b := New(Options{Logger: zap.NewNop()})
	defer b.Close()
	accepted := make(chan remote.Link, 1)
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, b.Handler(func(l remote.Link) { accepted <- l }))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cli := New(Options{Logger: zap.NewNop()})
	defer cli.Close()
	url := "ws://" + strings.TrimPrefix(srv.URL, "http://") + DefaultPath
	cl, err := cli.Dial(context.Background(), url)
	require.NoError(t, err)

	var sl remote.Link
	select {
	case sl = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no link accepted")
	}

	require.NoError(t, cl.Send([]byte{3, 'h', 'i'}, true))
	p, ok := next(t, sl)
	require.True(t, ok)
	require.Equal(t, []byte{3, 'h', 'i'}, p.Data)

	require.NoError(t, sl.Send([]byte{4}, false))
	p, ok = next(t, cl)
	require.True(t, ok)
	require.Equal(t, []byte{4}, p.Data)

	require.NoError(t, sl.Close())
	for {
		p, ok = next(t, cl)
		if !ok {
			break
		}
		require.Nil(t, p.Data)
	}
	require.Error(t, sl.Send([]byte{1}, true))
}

func TestListenAndDial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(Options{Logger: zap.NewNop()})
	defer b.Close()
	accepted := make(chan remote.Link, 1)
	require.NoError(t, b.Listen(ctx, transport.RemoteEndpoints{Signalling: "127.0.0.1:0"}, func(l remote.Link) { accepted <- l }))
	require.NotNil(t, b.Addr())

	cli := New(Options{Logger: zap.NewNop()})
	defer cli.Close()
	cl, err := cli.Dial(ctx, b.Addr().String())
	require.NoError(t, err)
	require.NoError(t, cl.Send([]byte{1, 'x'}, true))

	sl := <-accepted
	p, ok := next(t, sl)
	require.True(t, ok)
	require.Equal(t, []byte{1, 'x'}, p.Data)
}
