package nstat

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalHandler cancels the running test when the process is asked to stop.
type SignalHandler struct {
	logger     *slog.Logger
	signals    []os.Signal
	shutdownCh chan struct{}
}

// NewSignalHandler creates a handler for SIGINT and SIGTERM.
func NewSignalHandler(logger *slog.Logger) *SignalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalHandler{
		logger:     logger,
		signals:    []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		shutdownCh: make(chan struct{}),
	}
}

// Start begins listening for signals. The returned context is cancelled on
// the first shutdown signal or when parent is done; in-flight poll sessions
// then end as canceled.
func (h *SignalHandler) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, h.signals...)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			h.logger.Info("received shutdown signal, aborting test", "signal", sig)
			close(h.shutdownCh)
			cancel()
		case <-parent.Done():
			cancel()
		}
	}()

	return ctx
}

// Shutdown returns a channel that is closed on a shutdown signal.
func (h *SignalHandler) Shutdown() <-chan struct{} {
	return h.shutdownCh
}
