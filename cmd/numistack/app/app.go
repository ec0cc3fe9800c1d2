package app

import (
	"context"
	"fmt"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"

	"github.com/Numi2/solana-numistack/modules/aggregator"
	"github.com/Numi2/solana-numistack/modules/aggregator/sink"
	"github.com/Numi2/solana-numistack/pkg/backpressure"
	"github.com/Numi2/solana-numistack/pkg/server"
	util_log "github.com/Numi2/solana-numistack/pkg/util/log"
)

// App wires the aggregator, its sinks and the observability server.
type App struct {
	cfg    Config
	logger kitlog.Logger

	dispatcher *sink.Dispatcher
	aggregator *aggregator.Aggregator
	obs        *server.Server
}

func New(cfg Config) (*App, error) {
	logger := kitlog.With(util_log.Logger, "component", "aggregator")

	policy, err := backpressure.Parse(cfg.Aggregator.Backpressure)
	if err != nil {
		return nil, err
	}

	dispatcher, err := sink.NewDispatcher(cfg.Aggregator.Sinks, policy, logger)
	if err != nil {
		return nil, err
	}

	agg, err := aggregator.New(cfg.Aggregator, dispatcher, logger)
	if err != nil {
		dispatcher.Stop()
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		aggregator: agg,
	}
	if cfg.MetricsListen != "" {
		a.obs = server.New(cfg.MetricsListen, logger)
	}
	return a, nil
}

// Run starts everything and blocks until a shutdown signal or a fatal
// failure.
func (a *App) Run() error {
	if a.obs != nil {
		if err := a.obs.Start(); err != nil {
			return fmt.Errorf("%w: %v", aggregator.ErrBind, err)
		}
		defer a.obs.Stop()
	}
	defer a.dispatcher.Stop()

	ctx := context.Background()
	if err := services.StartAndAwaitRunning(ctx, a.aggregator); err != nil {
		return fmt.Errorf("starting aggregator: %w", err)
	}

	handler := signals.NewHandler(a.logger)
	go func() {
		handler.Loop()
		level.Info(a.logger).Log("msg", "shutdown signal received")
		a.aggregator.StopAsync()
	}()

	if err := a.aggregator.AwaitTerminated(ctx); err != nil {
		if failure := a.aggregator.FailureCase(); failure != nil {
			return failure
		}
		return err
	}
	return nil
}
