package collect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"naperf/internal/catalog"
	"naperf/internal/match"
	"naperf/internal/zapi"
)

// InstanceSource lists instances and fetches counter snapshots for one
// device. Satisfied by *zapi.Session.
type InstanceSource interface {
	ListInstances(ctx context.Context, object, filter string) ([]string, error)
	FetchValues(ctx context.Context, object string, instances, counters []string) (zapi.FetchResult, error)
}

// DeviceConfig carries everything one device needs for collection cycles.
// Params: identity, source, resolved binding, and publish policy.
// Returns: device construction inputs.
type DeviceConfig struct {
	Name        string
	Source      InstanceSource
	Binding     catalog.Binding
	PublishMode int
	RolloverMax float64
	DropMetrics []string
	Interval    time.Duration
	PathPrefix  string
	PathSuffix  string
}

// Device owns all per-device collection state: the resolved binding, the
// value/time history, and the busy flag that keeps cycles from overlapping.
// Params: built by NewDevice.
// Returns: device handle.
type Device struct {
	name        string
	source      InstanceSource
	binding     catalog.Binding
	publishMode int
	rolloverMax float64
	drop        []match.WildcardPattern
	interval    time.Duration
	pathPrefix  string
	pathSuffix  string

	busy   atomic.Bool
	hist   *history
	logger *slog.Logger
}

// NewDevice builds a device handle with empty history.
// Params: cfg device inputs; logger root logger.
// Returns: device or error for missing identity/source.
func NewDevice(cfg DeviceConfig, logger *slog.Logger) (*Device, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("instance source is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}

	drop := make([]match.WildcardPattern, 0, len(cfg.DropMetrics))
	for _, pattern := range cfg.DropMetrics {
		compiled, ok := match.CompileWildcard(pattern)
		if !ok {
			continue
		}
		drop = append(drop, compiled)
	}

	return &Device{
		name:        cfg.Name,
		source:      cfg.Source,
		binding:     cfg.Binding,
		publishMode: cfg.PublishMode,
		rolloverMax: cfg.RolloverMax,
		drop:        drop,
		interval:    cfg.Interval,
		pathPrefix:  cfg.PathPrefix,
		pathSuffix:  cfg.PathSuffix,
		hist:        newHistory(),
		logger:      logger,
	}, nil
}

// Name returns the device name.
// Params: none.
// Returns: configured device name.
func (d *Device) Name() string {
	return d.name
}

// SetSource swaps the instance source after a reconnect. History and
// binding survive the swap so derivation stays continuous.
// Params: source new instance source.
// Returns: none.
func (d *Device) SetSource(source InstanceSource) {
	d.source = source
}

// dropped reports whether a final metric path matches a drop mask.
// Params: path final metric path.
// Returns: true when the metric must not be published.
func (d *Device) dropped(path string) bool {
	for _, pattern := range d.drop {
		if pattern.Match(path) {
			return true
		}
	}
	return false
}

// Registry tracks device handles by name. Devices are added explicitly on
// config load and removed (dropping their history) on config removal.
// Params: none.
// Returns: device registry.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewRegistry creates an empty registry.
// Params: none.
// Returns: registry instance.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Add registers one device handle.
// Params: device initialized device.
// Returns: error when the name is already registered.
func (r *Registry) Add(device *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[device.Name()]; exists {
		return fmt.Errorf("device %q already registered", device.Name())
	}
	r.devices[device.Name()] = device
	return nil
}

// Remove drops one device and its history.
// Params: name device name.
// Returns: none.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, name)
}

// Get returns one device handle.
// Params: name device name.
// Returns: device and presence flag.
func (r *Registry) Get(name string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[name]
	return device, ok
}
