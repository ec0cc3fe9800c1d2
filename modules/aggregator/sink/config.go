package sink

import "fmt"

// Config describes one egress target. Kind selects the variant; the set is
// closed at build time.
type Config struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	QueueSize int    `yaml:"queue_size"`

	Kafka *KafkaConfig `yaml:"kafka,omitempty"`
}

// KafkaConfig configures the Kafka egress target.
type KafkaConfig struct {
	Addresses []string `yaml:"addresses"`
	Topic     string   `yaml:"topic"`
}

const (
	KindStdout = "stdout"
	KindKafka  = "kafka"

	defaultQueueSize = 1 << 10
)

func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = c.Kind
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.QueueSize < 2 || c.QueueSize&(c.QueueSize-1) != 0 {
		return fmt.Errorf("sink queue size must be a power of two >= 2, got %d", c.QueueSize)
	}
	switch c.Kind {
	case KindStdout:
		return nil
	case KindKafka:
		if c.Kafka == nil || len(c.Kafka.Addresses) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka sink needs addresses and a topic")
		}
		return nil
	}
	return fmt.Errorf("unknown sink kind %q", c.Kind)
}
