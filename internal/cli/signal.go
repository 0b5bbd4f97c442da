package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// withSignal returns a child context cancelled on SIGINT, SIGTERM or parent
// cancel. Loops finish their current iteration after cancellation.
func withSignal(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(ch)
		select {
		case <-ctx.Done():
		case sig := <-ch:
			logger.Info("Shutting down, finishing in-flight jobs", "signal", sig.String())
			cancel()
		}
	}()

	return ctx, cancel
}
