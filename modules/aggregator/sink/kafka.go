package sink

import (
	"context"
	"encoding/binary"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

// kafkaTarget produces records as JSON keyed by the record's shard key, so
// partitioning downstream preserves the same per-key ordering the shards
// provide.
type kafkaTarget struct {
	client *kgo.Client
	logger kitlog.Logger
}

func newKafkaTarget(cfg *KafkaConfig, logger kitlog.Logger) (*kafkaTarget, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Addresses...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
	)
	if err != nil {
		return nil, err
	}
	return &kafkaTarget{client: client, logger: logger}, nil
}

func (k *kafkaTarget) send(r frame.Record) error {
	value, err := Marshal(r)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, r.ShardKey())

	k.client.Produce(context.Background(), &kgo.Record{Key: key, Value: value}, func(_ *kgo.Record, err error) {
		if err != nil {
			level.Warn(k.logger).Log("msg", "kafka produce failed", "err", err)
		}
	})
	return nil
}

func (k *kafkaTarget) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := k.client.Flush(ctx)
	k.client.Close()
	return err
}
