package exporter

import (
	"flag"
	"fmt"
	"time"

	"github.com/Numi2/solana-numistack/pkg/backpressure"
	"github.com/Numi2/solana-numistack/pkg/frame"
)

type Config struct {
	SocketPaths   []string      `yaml:"socket_paths"`
	QueueCapacity int           `yaml:"queue_capacity"`
	Backpressure  string        `yaml:"backpressure"`
	BatchMax      int           `yaml:"batch_max"`
	BatchTimeMax  time.Duration `yaml:"batch_time_max"`
	BatchFraming  bool          `yaml:"batch_framing"`
	MaxFrameBytes uint32        `yaml:"max_frame_bytes"`
	Compress      bool          `yaml:"compress"`
	Archive       bool          `yaml:"archive"`
	CPUAffinity   []int         `yaml:"cpu_affinity"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`

	// ValidatorSafe rejects the block policy at validation time. It is on
	// wherever producers run inside validator callbacks.
	ValidatorSafe bool `yaml:"validator_safe"`
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.QueueCapacity = 1 << 14
	c.Backpressure = backpressure.DropNewest.String()
	c.BatchMax = 128
	c.BatchTimeMax = time.Millisecond
	c.BatchFraming = true
	c.MaxFrameBytes = frame.DefaultMaxFrameBytes
	c.ConnectTimeout = 500 * time.Millisecond
	c.WriteTimeout = time.Second
	c.DrainTimeout = 2 * time.Second
	c.ValidatorSafe = true

	f.IntVar(&c.QueueCapacity, prefix+".queue-capacity", c.QueueCapacity, "Per-shard ring capacity. Must be a power of two.")
	f.StringVar(&c.Backpressure, prefix+".backpressure", c.Backpressure, "Backpressure policy: drop_newest, drop_oldest or block.")
	f.IntVar(&c.BatchMax, prefix+".batch-max", c.BatchMax, "Max records accumulated per write.")
	f.DurationVar(&c.BatchTimeMax, prefix+".batch-time-max", c.BatchTimeMax, "Max time to accumulate a batch after the first record.")
	f.BoolVar(&c.Compress, prefix+".compress", c.Compress, "LZ4-compress frame payloads.")
	f.BoolVar(&c.Archive, prefix+".archive", c.Archive, "Emit the archived zero-copy payload layout.")
}

func (c *Config) Validate() error {
	if len(c.SocketPaths) == 0 {
		return fmt.Errorf("at least one socket path is required")
	}
	if c.QueueCapacity < 2 || c.QueueCapacity&(c.QueueCapacity-1) != 0 {
		return fmt.Errorf("queue capacity must be a power of two >= 2, got %d", c.QueueCapacity)
	}
	if c.CPUAffinity != nil && len(c.CPUAffinity) != len(c.SocketPaths) {
		return fmt.Errorf("cpu affinity list has %d entries for %d shards", len(c.CPUAffinity), len(c.SocketPaths))
	}
	if c.BatchMax < 1 {
		return fmt.Errorf("batch max must be >= 1")
	}
	policy, err := backpressure.Parse(c.Backpressure)
	if err != nil {
		return err
	}
	if policy == backpressure.Block && c.ValidatorSafe {
		return fmt.Errorf("block backpressure cannot be used on validator ingress")
	}
	return nil
}

func (c *Config) policy() backpressure.Policy {
	p, err := backpressure.Parse(c.Backpressure)
	if err != nil {
		return backpressure.DropNewest
	}
	return p
}
