package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFramesEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_encoded_total",
		Help: "Records encoded into frames, by record kind.",
	}, []string{"kind"})

	metricBytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bytes_written_total",
		Help: "Bytes written to the aggregator socket, by shard.",
	}, []string{"shard"})

	metricQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current shard queue depth.",
	}, []string{"shard"})

	metricDropsNewest = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drops_newest_total",
		Help: "Records dropped on push into a full queue.",
	}, []string{"shard", "kind"})

	metricDropsOldest = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drops_oldest_total",
		Help: "Oldest records discarded to admit new ones.",
	}, []string{"shard", "kind"})

	metricReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconnects_total",
		Help: "Writer reconnections after a fatal socket error.",
	}, []string{"shard"})

	metricEncodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encode_failures_total",
		Help: "Records dropped because they could not be encoded.",
	}, []string{"shard"})

	metricBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_size",
		Help:    "Records per vectored write.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	metricWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "write_latency_us",
		Help:    "Vectored write latency in microseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 12),
	})
)
