package aggregator

import (
	"flag"
	"fmt"
	"time"

	"github.com/Numi2/solana-numistack/modules/aggregator/sink"
	"github.com/Numi2/solana-numistack/pkg/backpressure"
	"github.com/Numi2/solana-numistack/pkg/frame"
)

type Config struct {
	ListenPaths         []string      `yaml:"listen_paths"`
	MaxConnections      int           `yaml:"max_connections"`
	MaxFrameBytes       uint32        `yaml:"max_frame_bytes"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	OversizeLogInterval time.Duration `yaml:"oversize_log_interval"`
	SocketMode          uint32        `yaml:"socket_mode"`
	Backpressure        string        `yaml:"backpressure"`

	Sinks []sink.Config `yaml:"sinks"`
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.ListenPaths = []string{"/var/run/ultra/aggregator.sock"}
	c.MaxConnections = 64
	c.MaxFrameBytes = frame.DefaultMaxFrameBytes
	c.IdleTimeout = 60 * time.Second
	c.OversizeLogInterval = 10 * time.Second
	c.SocketMode = 0o600
	c.Backpressure = backpressure.DropNewest.String()

	f.IntVar(&c.MaxConnections, prefix+".max-connections", c.MaxConnections, "Max concurrent inbound connections across all listeners.")
	f.DurationVar(&c.IdleTimeout, prefix+".idle-timeout", c.IdleTimeout, "Close connections idle for longer than this.")
}

func (c *Config) Validate() error {
	if len(c.ListenPaths) == 0 {
		return fmt.Errorf("at least one listen path is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max connections must be >= 1")
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = frame.DefaultMaxFrameBytes
	}
	if _, err := backpressure.Parse(c.Backpressure); err != nil {
		return err
	}
	for i := range c.Sinks {
		if err := c.Sinks[i].Validate(); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}
