package exporter

import (
	"runtime"
	"strconv"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/Numi2/solana-numistack/pkg/backpressure"
	"github.com/Numi2/solana-numistack/pkg/frame"
	"github.com/Numi2/solana-numistack/pkg/shardring"
)

const (
	// bounded spin before a Block-policy producer parks on the space event
	blockSpinRounds   = 64
	blockParkInterval = 100 * time.Microsecond
)

// Exporter owns the shard queues and writer workers on the producer side.
// Producers hand records to Push; one writer per shard drains its ring and
// writes frames to the shard's socket.
type Exporter struct {
	cfg    Config
	policy backpressure.Policy
	logger kitlog.Logger
	codec  frame.Codec

	shards  []*shard
	writers []*writer

	closed atomic.Bool
	wg     sync.WaitGroup
}

// shard pairs one ring with its metric bindings and the writer wake event.
// Counters are bound up front so the push path never touches a label map.
type shard struct {
	id    int
	label string
	ring  *shardring.Ring[frame.Record]

	// wake kicks the writer after a push; space is kicked by the writer
	// after pops so Block-policy producers can park.
	wake  chan struct{}
	space chan struct{}

	dropsNewest [5]prometheus.Counter
	dropsOldest [5]prometheus.Counter
	depth       prometheus.Gauge
	bytes       prometheus.Counter
	reconnects  prometheus.Counter
	encodeFails prometheus.Counter
}

func New(cfg Config, logger kitlog.Logger) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Exporter{
		cfg:    cfg,
		policy: cfg.policy(),
		logger: logger,
		codec:  frame.Codec{MaxFrameBytes: cfg.MaxFrameBytes},
	}

	kinds := []frame.Kind{frame.KindAccount, frame.KindTransaction, frame.KindBlock, frame.KindSlot}
	for i, path := range cfg.SocketPaths {
		sh := &shard{
			id:    i,
			label: strconv.Itoa(i),
			wake:  make(chan struct{}, 1),
			space: make(chan struct{}, 1),
		}
		var err error
		sh.ring, err = shardring.New[frame.Record](cfg.QueueCapacity)
		if err != nil {
			return nil, err
		}
		sh.dropsNewest[0] = metricDropsNewest.WithLabelValues(sh.label, "unknown")
		sh.dropsOldest[0] = metricDropsOldest.WithLabelValues(sh.label, "unknown")
		for _, k := range kinds {
			sh.dropsNewest[k] = metricDropsNewest.WithLabelValues(sh.label, k.String())
			sh.dropsOldest[k] = metricDropsOldest.WithLabelValues(sh.label, k.String())
		}
		sh.depth = metricQueueDepth.WithLabelValues(sh.label)
		sh.bytes = metricBytesWritten.WithLabelValues(sh.label)
		sh.reconnects = metricReconnects.WithLabelValues(sh.label)
		sh.encodeFails = metricEncodeFailures.WithLabelValues(sh.label)
		e.shards = append(e.shards, sh)

		cpu := -1
		if cfg.CPUAffinity != nil {
			cpu = cfg.CPUAffinity[i]
		}
		e.writers = append(e.writers, newWriter(e, sh, path, cpu))
	}

	for _, w := range e.writers {
		e.wg.Add(1)
		go w.run()
	}

	level.Info(logger).Log("msg", "exporter started", "shards", len(e.shards), "policy", e.policy, "batch_max", cfg.BatchMax)
	return e, nil
}

// NumShards reports the configured shard count.
func (e *Exporter) NumShards() int { return len(e.shards) }

// Push routes r to its shard and enqueues it under the configured policy.
// It reports whether the record was admitted. Under DropNewest and
// DropOldest Push never waits and never allocates; under Block it spins
// briefly, then parks until the writer frees space or the exporter stops.
func (e *Exporter) Push(r frame.Record) bool {
	if e.closed.Load() {
		return false
	}
	sh := e.shards[r.ShardKey()%uint64(len(e.shards))]
	return e.push(sh, r)
}

func (e *Exporter) push(sh *shard, r frame.Record) bool {
	switch e.policy {
	case backpressure.DropNewest:
		if !sh.ring.Push(r) {
			sh.dropsNewest[kindIndex(r)].Inc()
			return false
		}

	case backpressure.DropOldest:
		for !sh.ring.Push(r) {
			if _, ok := sh.ring.Pop(); ok {
				sh.dropsOldest[kindIndex(r)].Inc()
			}
		}

	case backpressure.Block:
		spins := 0
		for !sh.ring.Push(r) {
			if e.closed.Load() {
				sh.dropsNewest[kindIndex(r)].Inc()
				return false
			}
			if spins < blockSpinRounds {
				spins++
				runtime.Gosched()
				continue
			}
			select {
			case <-sh.space:
			case <-time.After(blockParkInterval):
			}
		}
	}

	sh.kickWriter()
	return true
}

func kindIndex(r frame.Record) int {
	k := int(r.Kind())
	if k < 1 || k > 4 {
		return 0
	}
	return k
}

func (s *shard) kickWriter() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *shard) kickProducers() {
	select {
	case s.space <- struct{}{}:
	default:
	}
}

// Stop prevents further pushes, drains each shard within the drain
// timeout and closes the sockets. Records still queued past the deadline
// are discarded and counted as drops.
func (e *Exporter) Stop() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	for _, w := range e.writers {
		w.stop()
	}
	e.wg.Wait()
	level.Info(e.logger).Log("msg", "exporter stopped")
}
