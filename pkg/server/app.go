// Package server owns the application lifecycle: it starts every
// long-lived component in dependency order, blocks until a signal, and
// unwinds in reverse.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/internal/usecase"
	"SnipeFlow/pkg/bus"
	pkgch "SnipeFlow/pkg/clickhouse"
	"SnipeFlow/pkg/config"
	xhttp "SnipeFlow/pkg/http"
	pkgkafka "SnipeFlow/pkg/kafka"
	applogger "SnipeFlow/pkg/logger"
)

// Deps are the composed application components. Optional infrastructure
// (Kafka, ClickHouse) is nil when disabled in config.
type Deps struct {
	Config      *config.Config
	Log         *applogger.Logger
	Patterns    *bus.Bus[*models.PatternEvent]
	Signals     *bus.Bus[*models.BuySignal]
	Market      *usecase.MarketDataManager
	Collector   *usecase.StreamCollector
	Bridge      *usecase.Bridge
	Recorder    *usecase.EventRecorder
	Coordinator *usecase.EmergencyCoordinator
	Consumer    *pkgkafka.Consumer
	CmdHandler  pkgkafka.MessageHandler
	Notifier    domrepo.Notifier
	CHClient    *pkgch.Client
	HTTPHandler xhttp.Handler
}

// App encapsulates the application lifecycle.
type App struct {
	deps       Deps
	httpServer *xhttp.Server
}

// New creates an App over fully composed dependencies.
func New(deps Deps) *App {
	return &App{deps: deps}
}

// Run starts everything and blocks until an interrupt arrives.
func (a *App) Run() error {
	d := a.deps
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Patterns.Start(ctx)
	d.Signals.Start(ctx)

	d.Bridge.StartListening("system")
	if d.Recorder != nil {
		d.Recorder.Start(ctx, d.Patterns)
	}

	d.Collector.Start(ctx)
	d.Log.Info("stream collector started",
		applogger.Strings("symbols", d.Config.Exchange.Symbols))

	if d.Consumer != nil && d.CmdHandler != nil {
		d.Consumer.RegisterHandler(d.CmdHandler)
		go func() {
			if err := d.Consumer.Start(); err != nil {
				d.Log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		d.Log.Info("ops command consumer started",
			applogger.String("topic", d.CmdHandler.Topic()))
	}

	a.httpServer = xhttp.NewServer(d.HTTPHandler, d.Log,
		xhttp.WithPort(d.Config.Server.Port),
		xhttp.WithTimeouts(d.Config.Server.ReadTimeout, d.Config.Server.WriteTimeout, d.Config.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	d.Log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops components in reverse start order.
func (a *App) shutdown(ctx context.Context) error {
	d := a.deps

	d.Collector.Shutdown()
	d.Bridge.StopListening()

	if d.Recorder != nil {
		d.Recorder.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, d.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		d.Log.Error("http shutdown error", applogger.Error(err))
	}

	if d.Consumer != nil {
		if err := d.Consumer.Stop(shutdownCtx); err != nil {
			d.Log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if d.Notifier != nil {
		if err := d.Notifier.Close(); err != nil {
			d.Log.Warn("notifier close error", applogger.Error(err))
		}
	}
	if d.CHClient != nil {
		if err := d.CHClient.Close(); err != nil {
			d.Log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	d.Market.Close()

	d.Log.Info("shutdown complete")
	return nil
}
