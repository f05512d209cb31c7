package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/config"
	"github.com/maximusretard/bootleg-networking/pkg/network"
)

func memConfig(role, addr string) *config.Config {
	cfg := config.Default()
	cfg.Role = role
	cfg.Capabilities = "remote"
	cfg.Remote.Backend = "mem"
	cfg.Remote.Signalling = addr
	cfg.Connect.Addr = addr
	return cfg
}

type chatLog struct {
	mu   sync.Mutex
	msgs []Chat
}

func (l *chatLog) add(m network.Message[Chat]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m.Value)
}

func (l *chatLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

func TestResourceOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Capabilities = "both"
	cfg.Codec = "json"
	opts, err := resourceOptions(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, network.Both, opts.Capabilities)
	require.Equal(t, "json", opts.Codec.Name())
	require.NotNil(t, opts.RemoteBackend)
	require.Equal(t, 5*time.Second, opts.Native.HandshakeTimeout)

	cfg.Capabilities = "native"
	opts, err = resourceOptions(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, opts.RemoteBackend)

	cfg.Codec = "proto"
	_, err = resourceOptions(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewNodeNeedsChannels(t *testing.T) {
	cfg := memConfig("server", "empty:1")
	cfg.Channels = nil
	_, err := newNode(cfg, zap.NewNop(), "srv")
	require.ErrorIs(t, err, errNoChannels)
}

func TestChatEcho(t *testing.T) {
	ctx := context.Background()

	srv, err := newNode(memConfig("server", "chat:1"), zap.NewNop(), "srv")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.res.Close() })
	var heard chatLog
	srv.onChat = heard.add
	require.NoError(t, srv.start(ctx))

	cli, err := newNode(memConfig("client", "chat:1"), zap.NewNop(), "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.res.Close() })
	var echoed chatLog
	cli.onChat = echoed.add
	require.NoError(t, cli.start(ctx))

	require.Eventually(t, func() bool {
		now := time.Now()
		cli.step(now)
		srv.step(now)
		return heard.len() > 0 && echoed.len() > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, Chat{From: "alice", Text: "ping 1"}, heard.msgs[0])
	require.Equal(t, Chat{From: "alice", Text: "ping 1"}, echoed.msgs[0])
}
