package aggregator

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

const readBufferSize = 64 << 10

// lastOversizeLog gates oversize logging process-wide to one line per
// configured interval.
var lastOversizeLog atomic.Int64

// serve runs one connection's read loop until the peer closes, the idle
// timeout fires, or a protocol error kills the stream.
func (a *Aggregator) serve(conn net.Conn) {
	br := bufio.NewReaderSize(conn, readBufferSize)

	// cheap liveness gate before any parsing: the wire always starts with
	// the low byte of the frame magic
	_ = conn.SetReadDeadline(time.Now().Add(a.cfg.IdleTimeout))
	first, err := br.Peek(1)
	if err != nil {
		return
	}
	if first[0] != byte(frame.Magic&0xFF) {
		metricDecodeErrors.Inc()
		level.Warn(a.logger).Log("msg", "bad first byte, closing", "got", first[0])
		return
	}

	var (
		header  [frame.HeaderSize]byte
		payload []byte
	)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(a.cfg.IdleTimeout))

		if _, err := io.ReadFull(br, header[:]); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// clean close at a frame boundary
			case os.IsTimeout(err):
				level.Info(a.logger).Log("msg", "closing idle connection")
			case errors.Is(err, net.ErrClosed):
			default:
				metricDecodeErrors.Inc()
				level.Warn(a.logger).Log("msg", "truncated header, closing", "err", err)
			}
			return
		}

		h, err := frame.ParseHeader(header[:])
		if err != nil {
			metricDecodeErrors.Inc()
			level.Warn(a.logger).Log("msg", "protocol error, closing", "err", err)
			return
		}

		if h.PayloadLen > a.codec.MaxFrameBytes {
			a.skipOversize(br, h)
			continue
		}

		if cap(payload) < int(h.PayloadLen) {
			payload = make([]byte, h.PayloadLen)
		}
		payload = payload[:h.PayloadLen]
		if _, err := io.ReadFull(br, payload); err != nil {
			metricDecodeErrors.Inc()
			level.Warn(a.logger).Log("msg", "truncated payload, closing", "err", err)
			return
		}

		records, err := a.codec.DecodeFrame(h, payload)
		if err != nil {
			metricDecodeErrors.Inc()
			level.Warn(a.logger).Log("msg", "frame decode failed, closing", "err", err)
			return
		}

		for _, r := range records {
			metricFramesDecoded.WithLabelValues(r.Kind().String()).Inc()
			a.dispatcher.Offer(r)
		}
	}
}

// skipOversize consumes and discards exactly the declared payload so the
// stream stays aligned, counting and occasionally logging the event.
func (a *Aggregator) skipOversize(br *bufio.Reader, h frame.Header) {
	metricOversizeFrames.Inc()

	now := time.Now().UnixNano()
	last := lastOversizeLog.Load()
	if now-last >= a.cfg.OversizeLogInterval.Nanoseconds() && lastOversizeLog.CompareAndSwap(last, now) {
		level.Warn(a.logger).Log("msg", "skipping oversize frame", "payload_len", h.PayloadLen, "max", a.codec.MaxFrameBytes)
	}

	if _, err := io.CopyN(io.Discard, br, int64(h.PayloadLen)); err != nil {
		level.Warn(a.logger).Log("msg", "discarding oversize frame failed", "err", err)
	}
}
