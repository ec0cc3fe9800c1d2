// Package aggregator accepts producer connections on unix domain sockets,
// decodes frames and hands the records to the sink dispatcher. One reader
// goroutine serves each connection; a protocol error terminates only that
// connection.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"golang.org/x/sync/errgroup"

	"github.com/Numi2/solana-numistack/pkg/frame"
)

// ErrBind marks a listener bind failure so the binary can map it to its
// exit code.
var ErrBind = errors.New("socket bind failed")

// Dispatcher receives every decoded record. *sink.Dispatcher is the
// production implementation.
type Dispatcher interface {
	Offer(frame.Record)
}

type Aggregator struct {
	services.Service

	cfg        Config
	logger     kitlog.Logger
	codec      frame.Codec
	dispatcher Dispatcher

	listeners []*net.UnixListener
	connSem   chan struct{}

	mtx   sync.Mutex
	conns map[net.Conn]struct{}

	readers sync.WaitGroup
}

func New(cfg Config, dispatcher Dispatcher, logger kitlog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		cfg:        cfg,
		logger:     logger,
		codec:      frame.Codec{MaxFrameBytes: cfg.MaxFrameBytes},
		dispatcher: dispatcher,
		connSem:    make(chan struct{}, cfg.MaxConnections),
		conns:      make(map[net.Conn]struct{}),
	}
	a.Service = services.NewBasicService(a.starting, a.running, a.stopping)
	return a, nil
}

func (a *Aggregator) starting(_ context.Context) error {
	for _, path := range a.cfg.ListenPaths {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBind, path, err)
		}
		// a stale socket file from a previous run blocks the bind
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %s: %v", ErrBind, path, err)
		}
		l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBind, path, err)
		}
		if err := os.Chmod(path, os.FileMode(a.cfg.SocketMode)); err != nil {
			_ = l.Close()
			return fmt.Errorf("%w: %s: %v", ErrBind, path, err)
		}
		a.listeners = append(a.listeners, l)
		level.Info(a.logger).Log("msg", "listening", "path", path)
	}
	return nil
}

func (a *Aggregator) running(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range a.listeners {
		l := l
		g.Go(func() error {
			a.acceptLoop(gctx, l)
			return nil
		})
	}
	<-gctx.Done()
	for _, l := range a.listeners {
		_ = l.Close()
	}
	return g.Wait()
}

func (a *Aggregator) acceptLoop(ctx context.Context, l *net.UnixListener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			level.Warn(a.logger).Log("msg", "accept failed", "err", err)
			continue
		}

		select {
		case a.connSem <- struct{}{}:
		default:
			metricConnectionsRefused.Inc()
			level.Warn(a.logger).Log("msg", "connection refused over cap", "max", a.cfg.MaxConnections)
			_ = conn.Close()
			continue
		}

		a.track(conn)
		metricConnections.Inc()
		a.readers.Add(1)
		go func() {
			defer func() {
				a.untrack(conn)
				_ = conn.Close()
				<-a.connSem
				metricConnections.Dec()
				a.readers.Done()
			}()
			a.serve(conn)
		}()
	}
}

func (a *Aggregator) track(conn net.Conn) {
	a.mtx.Lock()
	a.conns[conn] = struct{}{}
	a.mtx.Unlock()
}

func (a *Aggregator) untrack(conn net.Conn) {
	a.mtx.Lock()
	delete(a.conns, conn)
	a.mtx.Unlock()
}

func (a *Aggregator) stopping(_ error) error {
	for _, l := range a.listeners {
		_ = l.Close()
	}
	a.mtx.Lock()
	for conn := range a.conns {
		_ = conn.Close()
	}
	a.mtx.Unlock()
	a.readers.Wait()
	return nil
}
