package collect

import (
	"log/slog"
)

// history keeps the previous raw inputs per rendered metric path for one
// device. Values stored are always the raw sampled inputs, never derived
// results; each cycle reads the prior entry and then overwrites it.
type history struct {
	lastValue map[string]float64
	lastTime  map[string]float64
}

// newHistory allocates empty history maps.
// Params: none.
// Returns: history store.
func newHistory() *history {
	return &history{
		lastValue: make(map[string]float64),
		lastTime:  make(map[string]float64),
	}
}

// deriveRate computes a time-normalized or plain delta against history.
// A missing prior value publishes 0.0 with a warning; a zero divisor
// publishes 0.0. Suspected rollover (value < prior) corrects the prior by
// the configured wrap bound before differencing.
// Params: hist device history; logger soft-error logger; path final metric
// path; value new raw sample; divisor time delta in seconds (1.0 for Delta
// kind); rolloverMax counter wrap bound (0 disables correction).
// Returns: derived value.
func deriveRate(hist *history, logger *slog.Logger, path string, value, divisor, rolloverMax float64) float64 {
	old, ok := hist.lastValue[path]
	if !ok {
		logger.Warn("no previous value, first sample?", slog.String("metric", path))
		return 0.0
	}

	if value < old {
		old -= rolloverMax
	}

	if divisor == 0 {
		logger.Debug("zero time delta", slog.String("metric", path))
		return 0.0
	}
	return (value - old) / divisor
}

// deriveRef computes a ratio of deltas against a base counter's delta.
// Numerator and denominator fall back independently to the raw sample when
// no prior value exists; a zero denominator publishes 0.0 at debug level.
// Params: hist device history; logger soft-error logger; path metric path;
// value new raw sample; refPath base counter path; refValue base counter
// new sample; mult result multiplier (1.0 average, 100.0 percent);
// rolloverMax counter wrap bound.
// Returns: derived value.
func deriveRef(hist *history, logger *slog.Logger, path string, value float64, refPath string, refValue, mult, rolloverMax float64) float64 {
	dx := value
	if old, ok := hist.lastValue[path]; ok {
		if value < old {
			old -= rolloverMax
		}
		dx = value - old
	} else {
		logger.Warn("no previous value, first sample?", slog.String("metric", path))
	}

	dy := refValue
	if old, ok := hist.lastValue[refPath]; ok {
		if refValue < old {
			old -= rolloverMax
		}
		dy = refValue - old
	} else {
		logger.Warn("no previous value, first sample?", slog.String("metric", refPath))
	}

	if dy == 0 {
		logger.Debug(
			"division by zero",
			slog.String("metric", path),
			slog.Float64("dx", dx),
			slog.String("base", refPath),
		)
		return 0.0
	}
	return mult * dx / dy
}
