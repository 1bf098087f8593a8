package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LinePulse/internal/handler/ws"
	xhttp "LinePulse/pkg/http"
	pkgkafka "LinePulse/pkg/kafka"
	"LinePulse/pkg/logger"
)

// App encapsulates the application lifecycle: HTTP server, verdict hub
// and the outcomes consumer.
type App struct {
	log             *logger.Logger
	httpServer      *xhttp.Server
	hub             *ws.Hub
	consumer        *pkgkafka.Consumer
	shutdownTimeout time.Duration
}

type Option func(*App)

// WithHub runs the verdict hub alongside the HTTP server.
func WithHub(h *ws.Hub) Option {
	return func(a *App) { a.hub = h }
}

// WithConsumer starts the outcomes consumer with the app.
func WithConsumer(c *pkgkafka.Consumer) Option {
	return func(a *App) { a.consumer = c }
}

func New(log *logger.Logger, srv *xhttp.Server, shutdownTimeout time.Duration, opts ...Option) *App {
	if log == nil {
		log = logger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	a := &App{log: log, httpServer: srv, shutdownTimeout: shutdownTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until SIGINT/SIGTERM or a fatal
// server error.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext is Run with caller-controlled cancellation.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.hub != nil {
		go a.hub.Run(runCtx)
		a.log.Info("verdict hub started")
	}

	if a.consumer != nil {
		if err := a.consumer.Start(runCtx); err != nil {
			return err
		}
		a.log.Info("outcome consumer started")
	}

	errCh := a.httpServer.Start()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.log.Error("http server failed", logger.Error(err))
			runErr = err
		}
	}

	return errors.Join(runErr, a.shutdown(cancel))
}

func (a *App) shutdown(cancel context.CancelFunc) error {
	ctx, done := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer done()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown", logger.Error(err))
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop", logger.Error(err))
			errs = append(errs, err)
		}
	}

	// stops the hub and anything else bound to the run context
	cancel()

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
