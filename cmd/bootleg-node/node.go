package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
	"github.com/maximusretard/bootleg-networking/pkg/config"
	"github.com/maximusretard/bootleg-networking/pkg/network"
	"github.com/maximusretard/bootleg-networking/pkg/observability"
	"github.com/maximusretard/bootleg-networking/pkg/protocol/codec"
	"github.com/maximusretard/bootleg-networking/pkg/pump"
	"github.com/maximusretard/bootleg-networking/pkg/transport/native"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote/mem"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote/webtransport"
	"github.com/maximusretard/bootleg-networking/pkg/transport/remote/websocket"
)

// Chat is the message exchanged on the chat channel.
type Chat struct {
	From string `json:"from"`
	Text string `json:"text"`
}

const pingInterval = time.Second

// memHub backs the "mem" remote backend; servers and clients only meet
// inside one process.
var memHub = mem.NewHub(0)

var errNoChannels = errors.New("bootleg-node: no channels configured")

// run is the entry point of both subcommands.
func run(ctx context.Context, configPath, role, name string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Role = role

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("bootleg-node started", zap.String("app", cfg.AppName), zap.String("role", cfg.Role))
	zap.L().Debug("effective configuration", zap.Any("config", cfg))

	if name == "" {
		name = cfg.AppName
		if host, err := os.Hostname(); err == nil && role == "client" {
			name = cfg.AppName + "@" + host
		}
	}
	n, err := newNode(cfg, logger, name)
	if err != nil {
		return err
	}
	defer func() { _ = n.res.Close() }()

	if err := n.start(ctx); err != nil {
		return err
	}
	zap.L().Info("node is running; press Ctrl+C to exit")

	ticker := time.NewTicker(time.Duration(cfg.TickIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("shutting down")
			n.res.DisconnectFromAll()
			return nil
		case now := <-ticker.C:
			n.step(now)
		}
	}
}

type node struct {
	cfg   *config.Config
	log   *zap.Logger
	res   *network.Resource
	pump  *pump.Pump
	queue pump.Queue
	chat  channel.ID
	name  string

	lastPing time.Time
	pings    int
	onChat   func(network.Message[Chat])
}

func newNode(cfg *config.Config, log *zap.Logger, name string) (*node, error) {
	opts, err := resourceOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	var res *network.Resource
	if cfg.Role == "server" {
		res, err = network.NewServer(opts)
	} else {
		res, err = network.NewClient(opts)
	}
	if err != nil {
		return nil, err
	}

	chs, err := cfg.ChannelSettings()
	if err != nil {
		return nil, err
	}
	if len(chs) == 0 {
		return nil, errNoChannels
	}
	for _, ch := range chs {
		if err := res.RegisterMessageChannel(ch.ID, ch.Settings); err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("register channel %d: %w", ch.ID, err)
		}
	}

	n := &node{
		cfg:  cfg,
		log:  log.Named("node"),
		res:  res,
		pump: pump.New(log),
		chat: chs[0].ID,
		name: name,
	}
	n.onChat = n.logChat
	return n, nil
}

// resourceOptions maps the config onto network.Options. A remote backend is
// built whenever the remote capability is listed.
func resourceOptions(cfg *config.Config, log *zap.Logger) (network.Options, error) {
	caps, err := network.ParseCapabilities(cfg.Capabilities)
	if err != nil {
		return network.Options{}, err
	}
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return network.Options{}, err
	}
	if c.Name() == "proto" {
		return network.Options{}, fmt.Errorf("codec %q cannot carry chat messages", c.Name())
	}
	opts := network.Options{
		Capabilities: caps,
		Codec:        c,
		Logger:       log,
		Native: native.Options{
			SendQueueSize:     cfg.Native.SendQueueSize,
			HeartbeatInterval: time.Duration(cfg.Native.HeartbeatMS) * time.Millisecond,
			HandshakeTimeout:  time.Duration(cfg.Native.HandshakeTimeoutMS) * time.Millisecond,
		},
	}
	if caps.Has(network.CapRemote) {
		if opts.RemoteBackend, err = remoteBackend(cfg.Remote, log); err != nil {
			return network.Options{}, err
		}
	}
	return opts, nil
}

func remoteBackend(rc config.RemoteConfig, log *zap.Logger) (remote.Backend, error) {
	switch rc.Backend {
	case "websocket":
		return websocket.New(websocket.Options{Path: rc.Path, Logger: log}), nil
	case "webtransport":
		return webtransport.New(webtransport.Options{Path: rc.Path, Logger: log}), nil
	case "mem":
		return memHub.Backend(), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", rc.Backend)
	}
}

// start listens (server) or connects (client). For remote-only clients
// connect.addr names the signalling endpoint.
func (n *node) start(ctx context.Context) error {
	if n.res.IsServer() {
		lc := network.ListenConfig{
			TCP:           n.cfg.Native.TCP,
			UDP:           n.cfg.Native.UDP,
			MaxPacketSize: n.cfg.Native.MaxPacketSize,
		}
		if n.res.Capabilities().Has(network.CapRemote) {
			lc.Remote = &network.RemoteListen{
				Signalling: n.cfg.Remote.Signalling,
				Listen:     n.cfg.Remote.Listen,
				Public:     n.cfg.Remote.Public,
			}
		}
		if err := n.res.Listen(ctx, lc); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		n.log.Info("listening", zap.String("tcp", lc.TCP), zap.String("udp", lc.UDP), zap.String("remote", n.cfg.Remote.Signalling))
		return nil
	}
	err := n.res.Connect(ctx, network.ConnectConfig{
		Addr:          n.cfg.Connect.Addr,
		UDPAddr:       n.cfg.Connect.UDPAddr,
		MaxPacketSize: n.cfg.Native.MaxPacketSize,
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	n.log.Info("connected", zap.String("addr", n.cfg.Connect.Addr))
	return nil
}

// step runs one host tick: pump events, chat messages, then the client ping.
func (n *node) step(now time.Time) {
	if err := n.pump.Tick(n.res, &n.queue); err != nil {
		return
	}
	for _, ev := range n.queue.Events() {
		switch ev.Kind {
		case pump.EventConnected:
			n.log.Info("peer connected", zap.Stringer("conn", ev.Conn))
		case pump.EventError:
			n.log.Warn("peer error", zap.Stringer("conn", ev.Conn), zap.Error(ev.Err))
		case pump.EventPacket:
			n.log.Debug("raw packet", zap.Stringer("conn", ev.Conn), zap.Int("bytes", len(ev.Packet)))
		}
	}

	msgs, err := network.ViewMessages[Chat](n.res, n.chat)
	if err != nil {
		n.log.Warn("read chat", zap.Error(err))
	}
	for _, m := range msgs {
		n.onChat(m)
		if n.res.IsServer() {
			if err := network.BroadcastMessage(n.res, m.Value, n.chat); err != nil {
				n.log.Warn("echo chat", zap.Error(err))
			}
		}
	}

	if n.res.IsClient() && n.res.IsConnected() && now.Sub(n.lastPing) >= pingInterval {
		n.lastPing = now
		n.pings++
		msg := Chat{From: n.name, Text: fmt.Sprintf("ping %d", n.pings)}
		if err := network.BroadcastMessage(n.res, msg, n.chat); err != nil {
			n.log.Warn("send ping", zap.Error(err))
		}
	}
}

func (n *node) logChat(m network.Message[Chat]) {
	n.log.Info("chat", zap.Stringer("conn", m.From), zap.String("from", m.Value.From), zap.String("text", m.Value.Text))
}
