package app

import (
	"flag"

	"github.com/Numi2/solana-numistack/modules/aggregator"
)

// Config is the root config for the aggregator daemon.
type Config struct {
	LogLevel      string `yaml:"log_level"`
	MetricsListen string `yaml:"metrics_listen"`

	Aggregator aggregator.Config `yaml:"aggregator"`
}

func NewDefaultConfig() *Config {
	defaultConfig := &Config{}
	defaultFS := flag.NewFlagSet("", flag.PanicOnError)
	defaultConfig.RegisterFlagsAndApplyDefaults("", defaultFS)
	return defaultConfig
}

// RegisterFlagsAndApplyDefaults registers flags and seeds defaults.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.LogLevel = "info"
	f.StringVar(&c.LogLevel, "log.level", c.LogLevel, "Log level: debug, info, warn, error.")
	f.StringVar(&c.MetricsListen, "metrics.listen", c.MetricsListen, "host:port for Prometheus exposition; empty disables.")

	c.Aggregator.RegisterFlagsAndApplyDefaults(prefixed(prefix, "aggregator"), f)
}

func (c *Config) Validate() error {
	return c.Aggregator.Validate()
}

func prefixed(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
