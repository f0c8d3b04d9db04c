package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// syncInterrupt stops a running sync on SIGINT or SIGTERM. The first signal
// cancels the delta walks, which then record their skip tokens. A second
// signal exits without waiting for the store writes.
type syncInterrupt struct {
	ctx    context.Context
	cancel context.CancelFunc
	sigCh  chan os.Signal
	caught atomic.Value // os.Signal

	logger *slog.Logger
	exit   func(code int)
}

// newSyncInterrupt starts listening for signals. Call Stop when the sync ends.
func newSyncInterrupt(parent context.Context, logger *slog.Logger) *syncInterrupt {
	si := newSyncInterruptWith(parent, logger, os.Exit)
	signal.Notify(si.sigCh, syscall.SIGINT, syscall.SIGTERM)

	go si.watch(parent)

	return si
}

// newSyncInterruptWith builds an interrupt whose signals arrive on sigCh
// only. Tests deliver signals directly instead of through the process.
func newSyncInterruptWith(parent context.Context, logger *slog.Logger, exit func(int)) *syncInterrupt {
	ctx, cancel := context.WithCancel(parent)

	return &syncInterrupt{
		ctx:    ctx,
		cancel: cancel,
		sigCh:  make(chan os.Signal, 1),
		logger: logger,
		exit:   exit,
	}
}

func (si *syncInterrupt) watch(parent context.Context) {
	defer signal.Stop(si.sigCh)

	select {
	case sig := <-si.sigCh:
		si.caught.Store(sig)
		si.logger.Info("received signal, saving resume points",
			slog.String("signal", sig.String()),
		)
		si.cancel()
	case <-si.ctx.Done():
		return
	}

	select {
	case sig := <-si.sigCh:
		si.logger.Warn("received second signal, exiting before resume points are saved",
			slog.String("signal", sig.String()),
		)
		si.exit(1)
	case <-parent.Done():
		return
	}
}

// Context is cancelled by the first signal or by the parent.
func (si *syncInterrupt) Context() context.Context {
	return si.ctx
}

// Signal returns the signal that interrupted the sync, or nil.
func (si *syncInterrupt) Signal() os.Signal {
	sig, _ := si.caught.Load().(os.Signal)

	return sig
}

// Stop releases the context. The watcher goroutine exits once the context
// is done and no interrupt is pending.
func (si *syncInterrupt) Stop() {
	si.cancel()
}
