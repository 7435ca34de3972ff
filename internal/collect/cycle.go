package collect

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"naperf/internal/catalog"
	"naperf/internal/config"
	"naperf/internal/zapi"
)

const (
	publishPrecision = 4

	// skewFactor flags cycles whose time delta exceeds the poll interval
	// by half again, pointing at clock or scheduling drift.
	skewFactor = 1.5
)

// Collect runs one full collection cycle for the device: every bound
// object is listed, fetched, derived, and published, and the history is
// updated with the new raw inputs. A cycle already in flight makes this
// call a logged no-op. All failures inside the cycle are soft: they skip
// the affected object, instance, or counter and the cycle continues.
// Params: ctx bounds network calls; sink receives published metrics.
// Returns: number of processed metrics.
func (d *Device) Collect(ctx context.Context, sink Sink) int {
	if !d.busy.CompareAndSwap(false, true) {
		d.logger.Error(
			"cannot start collection, previous cycle still running",
			slog.String("device", d.name),
		)
		return 0
	}
	defer d.busy.Store(false)

	d.logger.Info("starting collection", slog.String("device", d.name))

	total := 0
	for object, metrics := range d.binding {
		total += d.collectObject(ctx, sink, object, metrics)
	}

	d.logger.Info(
		"collection finished",
		slog.String("device", d.name),
		slog.Int("metrics", total),
	)
	return total
}

// collectObject lists, fetches, and processes one object's instances.
// Params: ctx bounds network calls; sink metric consumer; object config
// entry; metrics resolved counter bindings.
// Returns: processed metric count for the object.
func (d *Device) collectObject(ctx context.Context, sink Sink, object catalog.Object, metrics map[string]catalog.Metric) int {
	instances, err := d.source.ListInstances(ctx, object.Name, object.Filter)
	if err != nil {
		d.logger.Error(
			"cannot list instances",
			slog.String("device", d.name),
			slog.String("object", object.Name),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if len(instances) == 0 {
		d.logger.Error(
			"no instances for object",
			slog.String("device", d.name),
			slog.String("object", object.Name),
			slog.String("filter", object.Filter),
		)
		return 0
	}

	fetch, err := d.source.FetchValues(ctx, object.Name, instances, catalog.CounterNames(metrics))
	if err != nil {
		d.logger.Error(
			"cannot fetch counter values",
			slog.String("device", d.name),
			slog.String("object", object.Name),
			slog.String("error", err.Error()),
		)
		return 0
	}

	records := 0
	for instance, data := range fetch.Values {
		devicePath := renderInstancePath(object.PathTemplate, instance, data, d.name)
		timeDelta := d.timeDelta(devicePath, instance, fetch)
		d.hist.lastTime[devicePath] = fetch.CollectTime
		records += d.processInstance(ctx, sink, devicePath, data, timeDelta, metrics, fetch.CollectTime)
	}

	if records == 0 {
		d.logger.Error(
			"no metrics processed for object",
			slog.String("device", d.name),
			slog.String("object", object.Name),
		)
	}
	return records
}

// timeDelta computes the seconds since the path was last collected. A
// non-positive delta from the collection timestamp falls back to the
// per-instance fetch timestamp; a delta far above the poll interval is
// flagged as skew. A path with no history yields 0.
// Params: path rendered instance path; instance id for the fallback
// timestamp; fetch current fetch result.
// Returns: time delta in seconds.
func (d *Device) timeDelta(path, instance string, fetch zapi.FetchResult) float64 {
	old, ok := d.hist.lastTime[path]
	if !ok {
		return 0
	}

	delta := fetch.CollectTime - old
	if delta <= 0 {
		d.logger.Warn(
			"non-positive time delta from collection timestamp",
			slog.String("metric", path),
		)
		delta = fetch.Times[instance] - old
	}
	if maxDelta := d.interval.Seconds() * skewFactor; delta > maxDelta {
		d.logger.Warn(
			"too much time between collects",
			slog.String("metric", path),
			slog.Float64("delta", delta),
		)
	}
	return delta
}

// processInstance derives and publishes every bound counter for one
// instance, then merges the instance's raw inputs into history.
// Params: ctx for sink calls; sink metric consumer; devicePath rendered
// instance path; data raw counter values; timeDelta seconds since last
// cycle; metrics resolved bindings; collectTime snapshot epoch seconds.
// Returns: processed metric count for the instance.
func (d *Device) processInstance(
	ctx context.Context,
	sink Sink,
	devicePath string,
	data map[string]string,
	timeDelta float64,
	metrics map[string]catalog.Metric,
	collectTime float64,
) int {
	count := 0
	pending := make(map[string]float64)

	timestamp := int64(collectTime)
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	for counter, metric := range metrics {
		// Resolve-only bindings exist for path substitution and base
		// counter references; they are never expanded or published.
		if metric.PrettyNames == nil {
			continue
		}

		raw, ok := data[counter]
		if !ok {
			d.logger.Error(
				"metric was not collected",
				slog.String("device", d.name),
				slog.String("metric", joinPath(d.pathPrefix, devicePath, counter, d.pathSuffix)),
			)
			continue
		}

		for idx, field := range strings.Split(raw, ",") {
			value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				d.logger.Error(
					"metric value is not a number",
					slog.String("device", d.name),
					slog.String("metric", counter),
					slog.String("value", field),
				)
				break
			}

			name := counter + "_" + strconv.Itoa(idx)
			if idx < len(metric.PrettyNames) {
				name = metric.PrettyNames[idx]
			}
			path := joinPath(d.pathPrefix, devicePath, name, d.pathSuffix)

			result, publish, ok := d.deriveValue(metric, path, value, timeDelta, devicePath, data, metrics)
			if !ok {
				continue
			}

			pending[path] = value
			count++

			if publish {
				d.forward(ctx, sink, path, result, timestamp)
			}
		}
	}

	for path, value := range pending {
		d.hist.lastValue[path] = value
	}
	return count
}

// deriveValue dispatches one scalar sample to the derivation for its kind.
// Params: metric binding; path final metric path; value new scalar sample;
// timeDelta seconds since last cycle; devicePath rendered instance path;
// data raw instance values (for base counter lookup); metrics sibling
// bindings (for base counter naming).
// Returns: derived value, publish eligibility, and false when the sample
// must be skipped entirely (bad base counter reference).
func (d *Device) deriveValue(
	metric catalog.Metric,
	path string,
	value float64,
	timeDelta float64,
	devicePath string,
	data map[string]string,
	metrics map[string]catalog.Metric,
) (float64, bool, bool) {
	switch metric.Kind {
	case catalog.Raw:
		return value, metric.Publish, true
	case catalog.Rate:
		return deriveRate(d.hist, d.logger, path, value, timeDelta, d.rolloverMax), metric.Publish, true
	case catalog.Delta:
		return deriveRate(d.hist, d.logger, path, value, 1.0, d.rolloverMax), metric.Publish, true
	case catalog.Average, catalog.Percent:
		mult := 1.0
		if metric.Kind == catalog.Percent {
			mult = 100.0
		}
		refPath, refValue, ok := d.resolveBase(metric.BaseCounter, devicePath, data, metrics)
		if !ok {
			return 0, false, false
		}
		return deriveRef(d.hist, d.logger, path, value, refPath, refValue, mult, d.rolloverMax), metric.Publish, true
	default:
		// Unknown kinds still count and feed history, but never publish.
		return 0, false, true
	}
}

// resolveBase looks up the base counter's sample and final path.
// Params: base raw base counter name; devicePath rendered instance path;
// data raw instance values; metrics sibling bindings.
// Returns: base path, base sample, and false on a missing or non-numeric
// base counter (logged).
func (d *Device) resolveBase(base, devicePath string, data map[string]string, metrics map[string]catalog.Metric) (string, float64, bool) {
	raw, ok := data[base]
	if !ok {
		d.logger.Error(
			"base metric was not collected",
			slog.String("device", d.name),
			slog.String("metric", joinPath(d.pathPrefix, devicePath, base, d.pathSuffix)),
		)
		return "", 0, false
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		d.logger.Error(
			"base metric is not a number",
			slog.String("device", d.name),
			slog.String("metric", joinPath(d.pathPrefix, devicePath, base, d.pathSuffix)),
		)
		return "", 0, false
	}

	name := base
	if binding, bound := metrics[base]; bound && len(binding.PrettyNames) > 0 {
		name = binding.PrettyNames[0]
	}
	return joinPath(d.pathPrefix, devicePath, name, d.pathSuffix), value, true
}

// forward applies the device publish policy and drop masks, then hands the
// metric to the sink.
// Params: ctx for the sink call; sink metric consumer; path final metric
// path; value derived value; timestamp sample epoch seconds.
// Returns: none.
func (d *Device) forward(ctx context.Context, sink Sink, path string, value float64, timestamp int64) {
	if d.publishMode == config.PublishNone {
		return
	}
	if value == 0.0 && d.publishMode == config.PublishNonZero {
		d.logger.Debug("zero value not published", slog.String("metric", path))
		return
	}
	if d.dropped(path) {
		d.logger.Debug("metric matches drop mask", slog.String("metric", path))
		return
	}

	metric := Metric{
		Path:      path,
		Value:     value,
		Precision: publishPrecision,
		Host:      d.name,
		Time:      timestamp,
	}
	if err := sink.Publish(ctx, metric); err != nil {
		d.logger.Error(
			"sink publish failed",
			slog.String("metric", path),
			slog.String("error", err.Error()),
		)
	}
}
