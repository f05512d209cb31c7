package config

// NativeConfig configures the native TCP/UDP adapter.
type NativeConfig struct {
	TCP                string `mapstructure:"tcp"`
	UDP                string `mapstructure:"udp"`
	MaxPacketSize      int    `mapstructure:"max_packet_size"`
	SendQueueSize      int    `mapstructure:"send_queue_size"`
	HeartbeatMS        int    `mapstructure:"heartbeat_ms"`
	HandshakeTimeoutMS int    `mapstructure:"handshake_timeout_ms"`
}

// RemoteConfig configures the remote adapter and its backend.
// Example YAML:
// remote:
//   backend: webtransport
//   signalling: "0.0.0.0:14191"
//   listen: "0.0.0.0:14192"
//   public: "203.0.113.7:14192"
type RemoteConfig struct {
	// Backend: websocket, webtransport or mem
	Backend    string `mapstructure:"backend"`
	Signalling string `mapstructure:"signalling"`
	Listen     string `mapstructure:"listen"`
	Public     string `mapstructure:"public"`
	// Path overrides the backend's URL path.
	Path string `mapstructure:"path"`
}

// ConnectConfig names the server a client dials.
type ConnectConfig struct {
	// Addr is the native TCP address or the remote backend address.
	Addr    string `mapstructure:"addr"`
	UDPAddr string `mapstructure:"udp_addr"`
}
