package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"FinCast/pkg/config"
	xhttp "FinCast/pkg/http"
	pkgkafka "FinCast/pkg/kafka"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/queue"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	handler    xhttp.Handler
	queue      queue.Queue
	consumer   *pkgkafka.Consumer
	sink       pkgkafka.MessageHandler
	checks     map[string]xhttp.HealthCheck
	closers    []closer
	httpServer *xhttp.Server
}

// New creates a new App instance. The queue must already have its jobs
// registered.
func New(cfg *config.Config, l *applogger.Logger, handler xhttp.Handler, q queue.Queue) *App {
	return &App{
		cfg:     cfg,
		l:       l,
		handler: handler,
		queue:   q,
		checks:  make(map[string]xhttp.HealthCheck),
	}
}

// SetConsumer runs sink on consumer for the lifetime of the app.
func (a *App) SetConsumer(consumer *pkgkafka.Consumer, sink pkgkafka.MessageHandler) {
	a.consumer = consumer
	a.sink = sink
}

// AddHealthCheck exposes a dependency check on /healthz.
func (a *App) AddHealthCheck(name string, check xhttp.HealthCheck) {
	a.checks[name] = check
}

// AddCloser registers a resource released during shutdown. Closers run in
// reverse registration order after the HTTP server, queue and consumer stop.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Start brings up the queue, the consumer and the HTTP server.
func (a *App) Start() error {
	if err := a.queue.Start(); err != nil {
		return err
	}

	if a.consumer != nil && a.sink != nil {
		a.consumer.RegisterHandler(a.sink)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.l.Info("record consumer started", applogger.String("topic", a.sink.Topic()))
	}

	a.httpServer = xhttp.NewServer(a.l, []xhttp.Handler{a.handler},
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(a.cfg.Server.SlowRequest),
		xhttp.WithMetrics(a.cfg.Metrics.Enabled, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
	)
	for name, check := range a.checks {
		a.httpServer.AddHealthCheck(name, check)
	}
	return a.httpServer.Start()
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		a.l.Error("start failed", applogger.Error(err))
		_ = a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	a.l.Info("shutdown signal received", applogger.String("signal", sig.String()))
	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops all services. In-flight training runs get the
// server shutdown timeout to finish.
func (a *App) Shutdown(ctx context.Context) error {
	a.l.Info("shutting down")
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if err := a.queue.Stop(ctx); err != nil {
		a.l.Warn("queue stop error", applogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.l.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return nil
}
