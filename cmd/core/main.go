package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/core"
	"main/internal/exchange"
	"main/internal/exchange/hyperliquid"
	"main/internal/gateway"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/order"
	"main/internal/position"
	"main/internal/reconcile"
	"main/internal/repository"
	"main/pkg/conn"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := ops.Load()
	if err != nil {
		logs.Errorf("load config, err: %+v", err)
		os.Exit(1)
	}

	if cfg.Pyroscope.Address != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Pyroscope.AppName,
			ServerAddress:   cfg.Pyroscope.Address,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("start pyroscope, err: %+v", err)
			os.Exit(1)
		}
		defer func() { _ = profiler.Stop() }()
	}

	db, err := conn.Postgres(ctx, cfg.PostgresOption())
	if err != nil {
		logs.Errorf("connect postgres, err: %+v", err)
		os.Exit(1)
	}
	defer func() { _ = conn.ClosePostgres(db) }()

	store := repository.New(db)
	if err := store.Migrate(); err != nil {
		logs.Errorf("migrate ledger tables, err: %+v", err)
		os.Exit(1)
	}

	stats := obs.NewStats()
	events := bus.New(cfg.Bus.Capacity, stats)

	transport := hyperliquid.NewTransport(ctx, hyperliquid.Config{
		BaseURL: cfg.Exchange.BaseURL,
		WsURL:   cfg.Exchange.WsURL,
		APIKey:  cfg.Exchange.APIKey,
	}, nil)
	defer transport.Close()

	client := exchange.NewClient(transport, exchange.ClientConfig{
		Retry:   cfg.RetryConfig(),
		Breaker: cfg.BreakerConfig(),
	}, stats)

	gw := gateway.New(ctx, client, cfg.GatewayConfig(), events, onFeedTerminal, stats)
	go gw.Run(ctx)

	orders := order.NewEngine(client, store, events, stats)
	positions := position.NewManager(client, store, orders, cfg.PositionConfig(), events, stats)
	reconciler := reconcile.NewEngine(client, orders, positions, store, cfg.ReconcileConfig(), events, stats)

	c := core.New(client, gw, orders, positions, reconciler, stats)
	defer c.Close()

	go events.Run(ctx, logSink{})
	defer events.Close()

	logs.Info("perp core started")
	<-ctx.Done()
	logs.Info("perp core shutting down")
}

func onFeedTerminal(feed exchange.Feed, err error) {
	logs.Errorf("feed %s is down for good, err: %+v", feed.Key(), err)
}

// logSink is the default external sink: it surfaces every domain event on
// the process log. Swap in a broker-backed sink for production fan-out.
type logSink struct{}

func (logSink) Publish(topic string, payload []byte) {
	logs.Infof("event %s: %s", topic, payload)
}
