package collect

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"naperf/internal/catalog"
	"naperf/internal/config"
	"naperf/internal/zapi"
)

// Engine owns device worker lifecycle.
// Params: worker list, device registry, and logger.
// Returns: collection runtime engine.
type Engine struct {
	runners  []runner
	registry *Registry
	closer   func()
	logger   *slog.Logger
}

type runner interface {
	run(context.Context) error
}

// sortedDeviceNames returns lexicographically sorted names from map keys.
// Params: devices map keyed by device name.
// Returns: sorted device name list.
func sortedDeviceNames(devices map[string]config.DeviceConfig) []string {
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig connects every configured device, resolves its counter
// binding, and builds one worker per device. A device that cannot be
// connected or resolved is logged and skipped; it does not fail the
// engine, the remaining devices keep collecting.
// Params: ctx bounds connect and resolve calls; cfg validated runtime
// config; logger initialized logger.
// Returns: engine with active workers.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	sinks := []Sink{NewLogSink(logger)}
	var closer func()
	if cfg.Sinks.Graphite.Enabled {
		graphite := NewGraphiteSink(cfg.Sinks.Graphite.Addr, cfg.Sinks.Graphite.Timeout.Duration, logger)
		sinks = append(sinks, graphite)
		closer = func() { _ = graphite.Close() }
	}
	sink := NewMultiSink(sinks...)

	resolver := catalog.NewResolver(logger)
	registry := NewRegistry()
	runners := make([]runner, 0, len(cfg.Devices))

	for _, name := range sortedDeviceNames(cfg.Devices) {
		deviceCfg := cfg.Devices[name]
		connect := zapiConnector(deviceCfg, cfg.Global)

		source, err := connect(ctx)
		if err != nil {
			logger.Error(
				"cannot connect to device",
				slog.String("device", name),
				slog.String("address", deviceCfg.Address),
				slog.String("error", err.Error()),
			)
			continue
		}

		binding, resolved := resolver.Resolve(ctx, name, source, deviceCfg.Counters)
		logger.Info(
			"counter binding resolved",
			slog.String("device", name),
			slog.Int("counters", resolved),
		)

		device, err := NewDevice(DeviceConfig{
			Name:        name,
			Source:      source,
			Binding:     binding,
			PublishMode: deviceCfg.PublishMode(),
			RolloverMax: deviceCfg.RolloverMax,
			DropMetrics: deviceCfg.DropMetrics,
			Interval:    cfg.Global.Interval.Duration,
			PathPrefix:  cfg.Global.Prefix(),
			PathSuffix:  cfg.Global.PathSuffix,
		}, logger)
		if err != nil {
			logger.Error(
				"cannot build device",
				slog.String("device", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := registry.Add(device); err != nil {
			logger.Error(
				"cannot register device",
				slog.String("device", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		runners = append(runners, &deviceWorker{
			device:         device,
			sink:           sink,
			interval:       cfg.Global.Interval.Duration,
			splay:          cfg.Global.Splay.Duration,
			reconnectEvery: cfg.Global.Reconnect,
			reconnectLeft:  cfg.Global.Reconnect,
			connect: func(ctx context.Context) (InstanceSource, error) {
				return connect(ctx)
			},
			logger: logger,
		})
	}

	return &Engine{
		runners:  runners,
		registry: registry,
		closer:   closer,
		logger:   logger,
	}, nil
}

// zapiConnector builds a reusable session factory for one device, shared
// by the initial connect and the periodic worker reconnect.
// Params: deviceCfg device credentials; global shared timeouts.
// Returns: session factory bound to the device address.
func zapiConnector(deviceCfg config.DeviceConfig, global config.GlobalConfig) func(context.Context) (*zapi.Session, error) {
	cfg := zapi.Config{
		Address:  deviceCfg.Address,
		User:     deviceCfg.User,
		Password: deviceCfg.Password,
		Timeout:  global.HTTPTimeout.Duration,
	}
	return func(ctx context.Context) (*zapi.Session, error) {
		return zapi.Connect(ctx, cfg)
	}
}

// Registry returns the engine's device registry.
// Params: none.
// Returns: registry with every connected device.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run starts all device workers and blocks until context cancellation.
// Params: ctx controls engine lifecycle.
// Returns: nil on graceful stop.
func (e *Engine) Run(ctx context.Context) error {
	if e.closer != nil {
		defer e.closer()
	}
	if len(e.runners) == 0 {
		e.logger.Warn("no device workers configured")
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(e.runners))

	for _, r := range e.runners {
		go func(activeRunner runner) {
			defer wg.Done()
			if err := activeRunner.run(ctx); err != nil {
				e.logger.Error("runner stopped with error", slog.String("error", err.Error()))
			}
		}(r)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}
