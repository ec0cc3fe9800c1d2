package exporter

import (
	"context"
	"net"
	"runtime"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

var reconnectBackoff = backoff.Config{
	MinBackoff: 10 * time.Millisecond,
	MaxBackoff: time.Second,
}

// writer is the single consumer of one shard's ring. It runs on a locked
// OS thread, optionally pinned to one CPU, batches records and performs
// vectored writes to the shard's socket.
type writer struct {
	exp   *Exporter
	shard *shard
	path  string
	cpu   int

	conn   *net.UnixConn
	stopCh chan struct{}
}

func newWriter(exp *Exporter, sh *shard, path string, cpu int) *writer {
	return &writer{
		exp:    exp,
		shard:  sh,
		path:   path,
		cpu:    cpu,
		stopCh: make(chan struct{}),
	}
}

func (w *writer) stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

func (w *writer) stopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *writer) run() {
	defer w.exp.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if w.cpu >= 0 {
		if err := setAffinity(w.cpu); err != nil {
			level.Warn(w.exp.logger).Log("msg", "cpu pinning failed", "shard", w.shard.id, "cpu", w.cpu, "err", err)
		}
	}

	batch := make([]frame.Record, w.exp.cfg.BatchMax)
	for {
		n := w.collect(batch)
		w.shard.depth.Set(float64(w.shard.ring.Len()))
		if n > 0 {
			w.shard.kickProducers()
			w.flush(batch[:n])
		}
		if w.stopped() && n == 0 {
			break
		}
	}

	w.drain(batch)
	w.closeConn()
}

// collect pops up to BatchMax records, waiting at most BatchTimeMax after
// the first one arrives. With no traffic it parks on the wake event.
func (w *writer) collect(batch []frame.Record) int {
	n := w.shard.ring.PopBatch(batch)
	for n == 0 {
		if w.stopped() {
			return 0
		}
		select {
		case <-w.shard.wake:
		case <-w.stopCh:
		case <-time.After(10 * time.Millisecond):
		}
		n = w.shard.ring.PopBatch(batch)
	}
	if n == len(batch) {
		return n
	}

	deadline := time.NewTimer(w.exp.cfg.BatchTimeMax)
	defer deadline.Stop()
	for n < len(batch) {
		got := w.shard.ring.PopBatch(batch[n:])
		n += got
		if n == len(batch) || w.stopped() {
			break
		}
		if got == 0 {
			select {
			case <-w.shard.wake:
				continue
			case <-deadline.C:
			case <-w.stopCh:
			}
			n += w.shard.ring.PopBatch(batch[n:])
			break
		}
		select {
		case <-deadline.C:
			return n
		default:
		}
	}
	return n
}

// drain empties the ring within the drain timeout; leftovers are
// discarded and counted as drops.
func (w *writer) drain(batch []frame.Record) {
	deadline := time.Now().Add(w.exp.cfg.DrainTimeout)
	for {
		n := w.shard.ring.PopBatch(batch)
		if n == 0 {
			w.shard.depth.Set(0)
			return
		}
		if time.Now().After(deadline) {
			for {
				for _, r := range batch[:n] {
					w.shard.dropsNewest[kindIndex(r)].Inc()
				}
				n = w.shard.ring.PopBatch(batch)
				if n == 0 {
					w.shard.depth.Set(0)
					return
				}
			}
		}
		if !w.flush(batch[:n]) {
			for _, r := range batch[:n] {
				w.shard.dropsNewest[kindIndex(r)].Inc()
			}
		}
	}
}

// flush encodes the batch and writes it out, reconnecting as needed. It
// reports false when the records could not be delivered before stop.
func (w *writer) flush(records []frame.Record) bool {
	frames := w.encode(records)
	if len(frames) == 0 {
		return true
	}
	metricBatchSize.Observe(float64(len(records)))
	return w.writeFrames(frames)
}

func (w *writer) encode(records []frame.Record) [][]byte {
	var flags frame.Flags
	if w.exp.cfg.Compress {
		flags |= frame.FlagLZ4
	}
	if w.exp.cfg.Archive {
		flags |= frame.FlagArchived
	}

	if w.exp.cfg.BatchFraming && len(records) > 1 {
		b, err := w.exp.codec.EncodeBatch(records, flags)
		if err == nil {
			for _, r := range records {
				metricFramesEncoded.WithLabelValues(r.Kind().String()).Inc()
			}
			return [][]byte{b}
		}
		// the combined frame exceeded the cap; fall through to
		// per-record frames
	}

	frames := make([][]byte, 0, len(records))
	for _, r := range records {
		b, err := w.exp.codec.Encode(r, flags)
		if err != nil {
			w.shard.encodeFails.Inc()
			level.Warn(w.exp.logger).Log("msg", "record not encodable", "shard", w.shard.id, "kind", r.Kind(), "err", err)
			continue
		}
		metricFramesEncoded.WithLabelValues(r.Kind().String()).Inc()
		frames = append(frames, b)
	}
	return frames
}

// writeFrames performs one vectored write, retrying whole frames on a
// fresh connection after an error. Frame boundaries are never split
// across connections: a partially written frame is resent in full because
// the old connection died with its partial bytes.
func (w *writer) writeFrames(frames [][]byte) bool {
	for len(frames) > 0 {
		if !w.ensureConnected() {
			return false
		}

		total := 0
		for _, f := range frames {
			total += len(f)
		}
		bufs := net.Buffers(append([][]byte(nil), frames...))

		_ = w.conn.SetWriteDeadline(time.Now().Add(w.exp.cfg.WriteTimeout))
		start := time.Now()
		n, err := bufs.WriteTo(w.conn)
		metricWriteLatency.Observe(float64(time.Since(start).Microseconds()))

		if err == nil {
			w.shard.bytes.Add(float64(total))
			return true
		}

		level.Warn(w.exp.logger).Log("msg", "socket write failed", "shard", w.shard.id, "err", err)
		w.closeConn()
		w.shard.reconnects.Inc()
		frames = remainingFrames(frames, n)
	}
	return true
}

func remainingFrames(frames [][]byte, written int64) [][]byte {
	for i, f := range frames {
		if written >= int64(len(f)) {
			written -= int64(len(f))
			continue
		}
		return frames[i:]
	}
	return nil
}

// ensureConnected dials the shard socket with backoff until connected or
// stopped.
func (w *writer) ensureConnected() bool {
	if w.conn != nil {
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := backoff.New(ctx, reconnectBackoff)
	for bo.Ongoing() {
		conn, err := net.DialTimeout("unix", w.path, w.exp.cfg.ConnectTimeout)
		if err == nil {
			w.conn = conn.(*net.UnixConn)
			level.Info(w.exp.logger).Log("msg", "connected", "shard", w.shard.id, "path", w.path)
			return true
		}
		if w.stopped() {
			return false
		}
		bo.Wait()
	}
	return false
}

func (w *writer) closeConn() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}
