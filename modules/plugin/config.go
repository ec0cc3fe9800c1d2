package plugin

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/Numi2/solana-numistack/modules/exporter"
	"github.com/Numi2/solana-numistack/pkg/frame"
)

// Config is the plugin configuration the host loads from a JSON file.
type Config struct {
	SocketPaths    []string `json:"socket_paths"`
	QueueCapacity  int      `json:"queue_capacity"`
	Backpressure   string   `json:"backpressure"`
	BatchMax       int      `json:"batch_max"`
	BatchTimeMaxUS int      `json:"batch_time_max_us"`
	MaxFrameBytes  uint32   `json:"max_frame_bytes"`
	Compress       bool     `json:"compress"`
	Archive        bool     `json:"archive"`
	CPUAffinity    []int    `json:"cpu_affinity"`
	MetricsListen  string   `json:"metrics_listen"`
	LogLevel       string   `json:"log_level"`
}

// LoadConfig reads and validates a plugin config file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading plugin config: %w", err)
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	cfg := Config{
		QueueCapacity:  1 << 14,
		Backpressure:   "drop_newest",
		BatchMax:       128,
		BatchTimeMaxUS: 1000,
		MaxFrameBytes:  frame.DefaultMaxFrameBytes,
		LogLevel:       "info",
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing plugin config: %w", err)
	}
	ec := cfg.exporterConfig()
	if err := ec.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) exporterConfig() exporter.Config {
	ec := exporter.Config{
		SocketPaths:   c.SocketPaths,
		QueueCapacity: c.QueueCapacity,
		Backpressure:  c.Backpressure,
		BatchMax:      c.BatchMax,
		BatchTimeMax:  time.Duration(c.BatchTimeMaxUS) * time.Microsecond,
		BatchFraming:  true,
		MaxFrameBytes: c.MaxFrameBytes,
		Compress:      c.Compress,
		Archive:       c.Archive,
		CPUAffinity:   c.CPUAffinity,

		ConnectTimeout: 500 * time.Millisecond,
		WriteTimeout:   time.Second,
		DrainTimeout:   2 * time.Second,

		// callbacks run on validator threads, so blocking backpressure
		// stays rejected
		ValidatorSafe: true,
	}
	return ec
}
