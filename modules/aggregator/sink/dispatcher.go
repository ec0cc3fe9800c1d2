// Package sink fans decoded records out to the configured egress targets.
// Every target gets a bounded queue and the shared backpressure policy
// decides what happens when it fills: the drop policies never block the
// reader, the block policy makes it wait for room.
package sink

import (
	"runtime"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Numi2/solana-numistack/pkg/backpressure"
	"github.com/Numi2/solana-numistack/pkg/frame"
	"github.com/Numi2/solana-numistack/pkg/shardring"
)

var (
	metricSinkDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_drops_total",
		Help: "Records dropped at a sink queue under backpressure.",
	}, []string{"sink"})

	metricSinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_errors_total",
		Help: "Records a sink failed to deliver.",
	}, []string{"sink"})

	metricSinkDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_delivered_total",
		Help: "Records handed to a sink target.",
	}, []string{"sink"})
)

// target is one egress implementation. The set of variants is closed:
// stdout and kafka.
type target interface {
	send(frame.Record) error
	close() error
}

type boundSink struct {
	name string
	tgt  target
	ring *shardring.Ring[frame.Record]
	wake chan struct{}

	drops     prometheus.Counter
	errs      prometheus.Counter
	delivered prometheus.Counter
}

type Dispatcher struct {
	policy backpressure.Policy
	logger kitlog.Logger
	sinks  []*boundSink

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDispatcher(cfgs []Config, policy backpressure.Policy, logger kitlog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		policy: policy,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for i := range cfgs {
		cfg := &cfgs[i]
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		tgt, err := newTarget(cfg, logger)
		if err != nil {
			d.closeTargets()
			return nil, err
		}
		ring, err := shardring.New[frame.Record](cfg.QueueSize)
		if err != nil {
			d.closeTargets()
			return nil, err
		}
		d.sinks = append(d.sinks, &boundSink{
			name:      cfg.Name,
			tgt:       tgt,
			ring:      ring,
			wake:      make(chan struct{}, 1),
			drops:     metricSinkDrops.WithLabelValues(cfg.Name),
			errs:      metricSinkErrors.WithLabelValues(cfg.Name),
			delivered: metricSinkDelivered.WithLabelValues(cfg.Name),
		})
	}

	for _, s := range d.sinks {
		d.wg.Add(1)
		go d.drain(s)
	}
	return d, nil
}

func newTarget(cfg *Config, logger kitlog.Logger) (target, error) {
	switch cfg.Kind {
	case KindStdout:
		return newStdoutTarget(), nil
	case KindKafka:
		return newKafkaTarget(cfg.Kafka, logger)
	}
	// Validate catches this first
	return nil, nil
}

// Offer hands a record to every sink queue under the backpressure policy.
// Under the drop policies it never waits; under Block it waits until the
// queue has room or the dispatcher stops.
func (d *Dispatcher) Offer(r frame.Record) {
	for _, s := range d.sinks {
		d.offer(s, r)
	}
}

func (d *Dispatcher) offer(s *boundSink, r frame.Record) {
	switch d.policy {
	case backpressure.DropNewest:
		if !s.ring.Push(r) {
			s.drops.Inc()
			return
		}

	case backpressure.DropOldest:
		for !s.ring.Push(r) {
			if _, ok := s.ring.Pop(); ok {
				s.drops.Inc()
			}
		}

	case backpressure.Block:
		spins := 0
		for !s.ring.Push(r) {
			select {
			case <-d.stopCh:
				s.drops.Inc()
				return
			default:
			}
			if spins < 64 {
				spins++
				runtime.Gosched()
				continue
			}
			time.Sleep(100 * time.Microsecond)
		}
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) drain(s *boundSink) {
	defer d.wg.Done()
	for {
		r, ok := s.ring.Pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-d.stopCh:
				// final sweep after stop
				for {
					r, ok := s.ring.Pop()
					if !ok {
						return
					}
					d.send(s, r)
				}
			}
		}
		d.send(s, r)
	}
}

func (d *Dispatcher) send(s *boundSink, r frame.Record) {
	if err := s.tgt.send(r); err != nil {
		s.errs.Inc()
		level.Warn(d.logger).Log("msg", "sink delivery failed", "sink", s.name, "err", err)
		return
	}
	s.delivered.Inc()
}

// Stop drains the queues and closes the targets.
func (d *Dispatcher) Stop() {
	select {
	case <-d.stopCh:
		return
	default:
	}
	close(d.stopCh)
	d.wg.Wait()
	d.closeTargets()
}

func (d *Dispatcher) closeTargets() {
	for _, s := range d.sinks {
		if err := s.tgt.close(); err != nil {
			level.Warn(d.logger).Log("msg", "sink close failed", "sink", s.name, "err", err)
		}
	}
}
