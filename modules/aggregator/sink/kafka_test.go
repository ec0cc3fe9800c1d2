package sink

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

func TestKafkaTargetProduces(t *testing.T) {
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, "records"))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	addrs := cluster.ListenAddrs()
	require.Len(t, addrs, 1)

	tgt, err := newKafkaTarget(&KafkaConfig{Addresses: addrs, Topic: "records"}, log.NewNopLogger())
	require.NoError(t, err)

	rec := &frame.SlotUpdate{Slot: 9, Status: frame.SlotConfirmed}
	require.NoError(t, tgt.send(rec))
	require.NoError(t, tgt.close())

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(addrs[0]),
		kgo.ConsumeTopics("records"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &m))
	require.Equal(t, "slot", m["kind"])

	// the key is the record's shard key, fixed width
	require.Len(t, records[0].Key, 8)
}
