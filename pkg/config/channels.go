package config

import (
	"fmt"
	"time"

	"github.com/maximusretard/bootleg-networking/pkg/channel"
)

// ChannelConfig declares one message channel.
// Example YAML:
// channels:
//   - id: 3
//     reliability: reliable
//   - id: 4
//     reliability: unreliable
//     message_buffer_size: 128
type ChannelConfig struct {
	ID                uint8  `mapstructure:"id"`
	Reliability       string `mapstructure:"reliability"`
	MessageBufferSize int    `mapstructure:"message_buffer_size"`
	PacketBufferSize  int    `mapstructure:"packet_buffer_size"`

	ResendIntervalMS int `mapstructure:"resend_interval_ms"`
	InitialRTTMS     int `mapstructure:"initial_rtt_ms"`
	MaxRTTMS         int `mapstructure:"max_rtt_ms"`
	FragmentSize     int `mapstructure:"fragment_size"`
}

// Channel is a validated channel declaration.
type Channel struct {
	ID       channel.ID
	Settings channel.Settings
}

// ChannelSettings converts the channels section. Entries are returned in
// file order.
func (c *Config) ChannelSettings() ([]Channel, error) {
	out := make([]Channel, 0, len(c.Channels))
	seen := make(map[uint8]bool, len(c.Channels))
	for i, cc := range c.Channels {
		if seen[cc.ID] {
			return nil, fmt.Errorf("channels[%d]: duplicate id %d", i, cc.ID)
		}
		seen[cc.ID] = true
		rel, err := channel.ParseReliability(cc.Reliability)
		if err != nil {
			return nil, fmt.Errorf("channels[%d]: %w", i, err)
		}
		out = append(out, Channel{
			ID: channel.ID(cc.ID),
			Settings: channel.Settings{
				Reliability: rel,
				Reliable: channel.ReliableSettings{
					ResendInterval: ms(cc.ResendIntervalMS),
					InitialRTT:     ms(cc.InitialRTTMS),
					MaxRTT:         ms(cc.MaxRTTMS),
					FragmentSize:   cc.FragmentSize,
				},
				MessageBufferSize: cc.MessageBufferSize,
				PacketBufferSize:  cc.PacketBufferSize,
			},
		})
	}
	return out, nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
