// Package catalog resolves configured metric names against the counters a
// device actually exposes and classifies each counter by derivation kind.
package catalog

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"naperf/internal/zapi"
)

// Kind identifies how a counter value is derived before publishing.
// Params: none.
// Returns: enum value resolved from the device property string.
type Kind int

const (
	// Unknown marks counters with an unrecognized property string; they are
	// resolved but never published.
	Unknown Kind = iota
	// Raw counters publish the sampled value unchanged.
	Raw
	// Rate counters publish the value delta divided by the time delta.
	Rate
	// Delta counters publish the value delta without time normalization.
	Delta
	// Average counters publish the value delta divided by the base counter delta.
	Average
	// Percent counters publish the Average ratio scaled by 100.
	Percent
)

// String names the kind for logs.
// Params: none.
// Returns: lower-case kind name.
func (k Kind) String() string {
	switch k {
	case Raw:
		return "raw"
	case Rate:
		return "rate"
	case Delta:
		return "delta"
	case Average:
		return "average"
	case Percent:
		return "percent"
	default:
		return "unknown"
	}
}

// KindOf classifies a device-reported counter property string.
// Params: properties raw property text.
// Returns: derivation kind by prefix match.
func KindOf(properties string) Kind {
	switch {
	case strings.HasPrefix(properties, "raw"):
		return Raw
	case strings.HasPrefix(properties, "rate"):
		return Rate
	case strings.HasPrefix(properties, "delta"):
		return Delta
	case strings.HasPrefix(properties, "average"):
		return Average
	case strings.HasPrefix(properties, "percent"):
		return Percent
	default:
		return Unknown
	}
}

// Object identifies one configured countable object entry.
// Params: parsed from the config key "name=template|filter".
// Returns: object identity with naming template and instance filter.
type Object struct {
	Name         string
	PathTemplate string
	Filter       string
}

var templateVar = regexp.MustCompile(`\$\{?([\w-]+)\}?`)

// ParseObjectKey splits a configured object key into its descriptor.
// A bare "name" gets the default template "@" and an empty filter.
// Params: key config table key.
// Returns: object descriptor.
func ParseObjectKey(key string) Object {
	rest, filter, _ := strings.Cut(key, "|")
	name, template, hasTemplate := strings.Cut(rest, "=")
	if !hasTemplate {
		return Object{Name: rest, PathTemplate: "@", Filter: filter}
	}
	return Object{
		Name:         name,
		PathTemplate: strings.TrimSpace(template),
		Filter:       filter,
	}
}

// templateVars extracts $var and ${var} placeholder names from a template.
// Params: template path template text.
// Returns: placeholder names in order of appearance.
func templateVars(template string) []string {
	matches := templateVar.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	vars := make([]string, 0, len(matches))
	for _, match := range matches {
		vars = append(vars, match[1])
	}
	return vars
}

// Metric is one resolved counter binding.
// Params: resolved from device counter metadata plus config overrides.
// Returns: publishing metadata for one counter.
type Metric struct {
	// PrettyNames holds one published name per scalar the counter expands
	// to. Nil marks a resolve-only binding (fetched for path substitution,
	// never published).
	PrettyNames    []string
	Unit           string
	Kind           Kind
	BaseCounter    string
	PrivilegeLevel string
	Publish        bool
}

// Binding maps each configured object to its resolved counter metrics.
type Binding map[Object]map[string]Metric

// CounterSource describes counters of one object type.
// Implemented by zapi.Session.
type CounterSource interface {
	Counters(ctx context.Context, object string) (map[string]zapi.Counter, error)
}

// Resolver builds metric bindings for configured devices.
// Params: logger for soft-error reporting.
// Returns: reusable resolver.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver.
// Params: logger instance.
// Returns: resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve builds the metric binding for one device. Unknown objects and
// counters are logged and skipped; the resolve never aborts partway.
// Params: ctx for counter description calls; device name for logs; source
// counter metadata source; objects config object key -> counter -> override
// names (empty list keeps device labels).
// Returns: binding built so far and the resolved metric count.
func (r *Resolver) Resolve(
	ctx context.Context,
	device string,
	source CounterSource,
	objects map[string]map[string][]string,
) (Binding, int) {
	binding := make(Binding, len(objects))
	total := 0

	r.logger.Info("resolving metrics", slog.String("device", device))

	for objectKey, overrides := range objects {
		object := ParseObjectKey(objectKey)

		available, err := source.Counters(ctx, object.Name)
		if err != nil {
			r.logger.Error(
				"cannot describe object counters",
				slog.String("device", device),
				slog.String("object", object.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		metrics := make(map[string]Metric, len(overrides))
		var bases []string

		for counter, names := range overrides {
			info, ok := available[counter]
			if !ok {
				r.logger.Error(
					"metric not found",
					slog.String("device", device),
					slog.String("object", object.Name),
					slog.String("metric", counter),
				)
				continue
			}

			metric := r.buildMetric(device, counter, info, names, true)
			if metric.BaseCounter != "" {
				bases = append(bases, metric.BaseCounter)
			}
			metrics[counter] = metric
			total++
		}

		// Base counters referenced by Average/Percent metrics are fetched
		// and tracked even when not configured explicitly.
		for _, base := range bases {
			if _, bound := metrics[base]; bound {
				continue
			}
			info, ok := available[base]
			if !ok {
				r.logger.Error(
					"base metric not found",
					slog.String("device", device),
					slog.String("object", object.Name),
					slog.String("metric", base),
				)
				continue
			}
			metrics[base] = r.buildMetric(device, base, info, []string{base}, false)
			total++
		}

		// Placeholders in the path template resolve against fetched counter
		// values, so each one needs a resolve-only binding.
		for _, name := range templateVars(object.PathTemplate) {
			if _, bound := metrics[name]; bound {
				continue
			}
			info, ok := available[name]
			if !ok {
				r.logger.Error(
					"template metric not found",
					slog.String("device", device),
					slog.String("object", object.Name),
					slog.String("metric", name),
				)
				continue
			}
			metric := r.buildMetric(device, name, info, nil, false)
			metric.PrettyNames = nil
			metrics[name] = metric
			total++
		}

		binding[object] = metrics
	}

	r.logger.Info(
		"metrics resolved",
		slog.String("device", device),
		slog.Int("metrics", total),
	)
	return binding, total
}

// buildMetric resolves pretty names and derivation metadata for one counter.
// Params: device name for logs; counter raw name; info device counter
// metadata; names override list (nil/empty keeps device labels or the raw
// name); publish marks the metric for publishing.
// Returns: resolved metric.
func (r *Resolver) buildMetric(device, counter string, info zapi.Counter, names []string, publish bool) Metric {
	metric := Metric{
		Unit:           info.Unit,
		Kind:           KindOf(info.Properties),
		BaseCounter:    info.BaseCounter,
		PrivilegeLevel: info.PrivilegeLevel,
		Publish:        publish,
	}

	switch {
	case len(names) == 0:
		if len(info.Labels) > 0 {
			metric.PrettyNames = info.Labels
		} else {
			metric.PrettyNames = []string{counter}
		}
	case len(info.Labels) > 0:
		if len(names) != len(info.Labels) {
			r.logger.Warn(
				"override name count does not match array labels",
				slog.String("device", device),
				slog.String("metric", counter),
				slog.Int("names", len(names)),
				slog.Int("labels", len(info.Labels)),
			)
			metric.PrettyNames = info.Labels
		} else {
			metric.PrettyNames = names
		}
	default:
		metric.PrettyNames = names
	}

	return metric
}

// CounterNames lists every counter bound for one object, for fetch calls.
// Params: metrics resolved object metrics.
// Returns: raw counter name list.
func CounterNames(metrics map[string]Metric) []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	return names
}
