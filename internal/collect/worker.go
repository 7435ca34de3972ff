package collect

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// deviceWorker runs the collection loop for one device: an initial splay
// sleep, a warm-up cycle, then a fixed-interval ticker. Every cycle
// decrements the reconnect countdown; at zero the session is rebuilt.
type deviceWorker struct {
	device         *Device
	sink           Sink
	interval       time.Duration
	splay          time.Duration
	reconnectEvery int
	reconnectLeft  int
	connect        func(context.Context) (InstanceSource, error)
	logger         *slog.Logger
}

// run executes the collection loop until context cancellation.
// Params: ctx controls lifecycle.
// Returns: nil on graceful stop.
func (w *deviceWorker) run(ctx context.Context) error {
	if w.splay > 0 {
		delay := rand.N(w.splay)
		w.logger.Debug(
			"splaying first collection",
			slog.String("device", w.device.Name()),
			slog.String("delay", delay.String()),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Warm-up cycle so rate counters have history by the second tick.
	w.collectOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.collectOnce(ctx)
		}
	}
}

// collectOnce handles the reconnect countdown and runs one cycle.
// Params: ctx bounds the cycle.
// Returns: none.
func (w *deviceWorker) collectOnce(ctx context.Context) {
	w.maybeReconnect(ctx)
	w.device.Collect(ctx, w.sink)
}

// maybeReconnect rebuilds the device session every reconnectEvery cycles.
// A failed reconnect keeps the existing session and retries next cycle.
// Params: ctx bounds the connect call.
// Returns: none.
func (w *deviceWorker) maybeReconnect(ctx context.Context) {
	if w.reconnectEvery <= 0 {
		return
	}
	if w.reconnectLeft > 0 {
		w.reconnectLeft--
		return
	}

	source, err := w.connect(ctx)
	if err != nil {
		w.logger.Error(
			"reconnect failed, keeping existing session",
			slog.String("device", w.device.Name()),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("session reconnected", slog.String("device", w.device.Name()))
	w.device.SetSource(source)
	w.reconnectLeft = w.reconnectEvery
}
