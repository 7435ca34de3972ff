package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Metric is one computed sample handed to a sink.
// Params: final path, derived value, formatting precision, owning device,
// and sample time in epoch seconds.
// Returns: one publishable metric.
type Metric struct {
	Path      string  `json:"path"`
	Value     float64 `json:"value"`
	Precision int     `json:"precision"`
	Host      string  `json:"host"`
	Time      int64   `json:"time"`
}

// Sink consumes published metrics.
// Params: context and one metric.
// Returns: error if sink cannot process the metric.
type Sink interface {
	Publish(ctx context.Context, metric Metric) error
}

// LogSink writes metrics into debug logs.
// Params: logger used for output.
// Returns: debug sink instance.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a debug sink.
// Params: logger instance.
// Returns: metric sink implementation.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs one metric as compact JSON.
// Params: ctx is unused; metric payload to log.
// Returns: marshal error when payload cannot be encoded.
func (s *LogSink) Publish(ctx context.Context, metric Metric) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	payload, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("marshal metric: %w", err)
	}

	s.logger.Debug(
		"metric published",
		slog.String("path", metric.Path),
		slog.String("payload", string(payload)),
	)

	return nil
}

// MultiSink fans one metric out to several sinks.
// Params: sink list in delivery order.
// Returns: combined sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
// Params: sinks delivery targets.
// Returns: combined sink implementation.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish delivers the metric to every sink.
// Params: ctx lifecycle context; metric payload.
// Returns: first sink error when present.
func (s *MultiSink) Publish(ctx context.Context, metric Metric) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, metric); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
