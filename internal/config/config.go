package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel    = "info"
	defaultLogFormat   = "line"
	defaultPathPrefix  = "netapp"
	defaultInterval    = 45 * time.Second
	defaultHTTPTimeout = 40 * time.Second
	defaultReconnect   = 60
	defaultGraphiteTO  = 5 * time.Second
	defaultPprofListen = "127.0.0.1:6060"
	defaultPublishMode = PublishAll
)

// Publish mode values accepted by devices.<name>.publish.
const (
	// PublishNone disables publishing for the device while collection still runs.
	PublishNone = 0
	// PublishAll publishes every computed metric.
	PublishAll = 1
	// PublishNonZero suppresses metrics whose computed value is exactly 0.0.
	PublishNonZero = 2
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root agent configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Global  GlobalConfig            `toml:"global"`
	Log     LogConfig               `toml:"log"`
	Pprof   PprofConfig             `toml:"pprof"`
	Devices map[string]DeviceConfig `toml:"devices"`
	Sinks   SinksConfig             `toml:"sinks"`
}

// GlobalConfig contains shared collection settings.
// Params: path affixes and scheduling options.
// Returns: global collection settings for all devices.
type GlobalConfig struct {
	PathPrefix  *string  `toml:"path_prefix"`
	PathSuffix  string   `toml:"path_suffix"`
	Interval    Duration `toml:"interval"`
	HTTPTimeout Duration `toml:"http_timeout"`
	Reconnect   int      `toml:"reconnect"`
	Splay       Duration `toml:"splay"`
}

// Prefix returns the effective metric path prefix.
// Params: none.
// Returns: configured prefix, or the default when the field is absent.
func (g GlobalConfig) Prefix() string {
	if g.PathPrefix == nil {
		return defaultPathPrefix
	}
	return strings.TrimSpace(*g.PathPrefix)
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// DeviceConfig defines one storage controller endpoint and its metric set.
// Params: connection credentials, publish policy, and object counter tables.
// Returns: one device runtime config.
type DeviceConfig struct {
	Address     string                    `toml:"address"`
	User        string                    `toml:"user"`
	Password    string                    `toml:"password"`
	Publish     *int                      `toml:"publish"`
	RolloverMax float64                   `toml:"rollover_max"`
	DropMetrics []string                  `toml:"drop_metrics"`
	Objects     map[string]map[string]any `toml:"objects"`

	// Counters holds normalized objects: object key -> counter -> override
	// names. An empty list keeps the device-reported labels (or the raw
	// counter name). Filled during Load.
	Counters map[string]map[string][]string `toml:"-"`
}

// PublishMode returns the effective publish mode for the device.
// Params: none.
// Returns: one of PublishNone, PublishAll, PublishNonZero.
func (d DeviceConfig) PublishMode() int {
	if d.Publish == nil {
		return defaultPublishMode
	}
	return *d.Publish
}

// SinksConfig groups metric sink sections.
// Params: per-sink subsections.
// Returns: sink delivery settings.
type SinksConfig struct {
	Graphite GraphiteSinkConfig `toml:"graphite"`
}

// GraphiteSinkConfig defines the Graphite plaintext delivery endpoint.
// Params: enabled flag, addresses, and write timeout.
// Returns: graphite sink settings.
type GraphiteSinkConfig struct {
	Enabled bool     `toml:"enabled"`
	Addr    []string `toml:"addr"`
	Timeout Duration `toml:"timeout"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error when counter override tables hold unsupported value types.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if c.Global.Interval.Duration <= 0 {
		c.Global.Interval.Duration = defaultInterval
	}
	if c.Global.HTTPTimeout.Duration <= 0 {
		c.Global.HTTPTimeout.Duration = defaultHTTPTimeout
	}
	if c.Global.Reconnect <= 0 {
		c.Global.Reconnect = defaultReconnect
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	if c.Sinks.Graphite.Enabled && c.Sinks.Graphite.Timeout.Duration <= 0 {
		c.Sinks.Graphite.Timeout.Duration = defaultGraphiteTO
	}

	for name, device := range c.Devices {
		counters, err := normalizeDeviceObjects(name, device.Objects)
		if err != nil {
			return err
		}
		device.Counters = counters
		c.Devices[name] = device
	}

	return nil
}

// normalizeDeviceObjects converts raw TOML object tables into typed override lists.
// Params: device name for error paths; objects raw object key -> counter -> value tables.
// Returns: normalized counter overrides or error for unsupported value types.
func normalizeDeviceObjects(device string, objects map[string]map[string]any) (map[string]map[string][]string, error) {
	counters := make(map[string]map[string][]string, len(objects))
	for objectKey, table := range objects {
		normalized := make(map[string][]string, len(table))
		for counter, value := range table {
			names, err := normalizeOverride(value)
			if err != nil {
				return nil, fmt.Errorf("devices.%s.objects.%q.%s: %w", device, objectKey, counter, err)
			}
			normalized[counter] = names
		}
		counters[objectKey] = normalized
	}
	return counters, nil
}

// normalizeOverride converts one counter override value into a name list.
// Params: value raw TOML value (string, "-" placeholder, or string list).
// Returns: override names (empty keeps device labels) or type error.
func normalizeOverride(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		name := strings.TrimSpace(v)
		if name == "" || name == "-" {
			return nil, nil
		}
		return []string{name}, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("override list items must be strings, got %T", item)
			}
			names = append(names, strings.TrimSpace(name))
		}
		return names, nil
	default:
		return nil, fmt.Errorf("override must be a string or list of strings, got %T", value)
	}
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validatePprofConfig("pprof", c.Pprof); err != nil {
		return err
	}

	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one [devices.<name>] section is required")
	}

	for name, device := range c.Devices {
		if err := validateDevice(name, device); err != nil {
			return err
		}
	}

	if c.Sinks.Graphite.Enabled {
		if len(c.Sinks.Graphite.Addr) == 0 {
			return fmt.Errorf("sinks.graphite.addr must contain at least one host:port")
		}
		for idx, addr := range c.Sinks.Graphite.Addr {
			if _, _, err := net.SplitHostPort(strings.TrimSpace(addr)); err != nil {
				return fmt.Errorf("sinks.graphite.addr[%d] must be host:port: %w", idx, err)
			}
		}
		if c.Sinks.Graphite.Timeout.Duration <= 0 {
			return fmt.Errorf("sinks.graphite.timeout must be > 0")
		}
	}

	return nil
}

// validateDevice validates one device section.
// Params: name device name; device section values.
// Returns: validation error or nil.
func validateDevice(name string, device DeviceConfig) error {
	path := fmt.Sprintf("devices.%s", name)
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("devices contains an empty device name")
	}
	if strings.TrimSpace(device.Address) == "" {
		return fmt.Errorf("%s.address is required", path)
	}
	if strings.TrimSpace(device.User) == "" {
		return fmt.Errorf("%s.user is required", path)
	}
	if strings.TrimSpace(device.Password) == "" {
		return fmt.Errorf("%s.password is required", path)
	}
	if mode := device.PublishMode(); mode < PublishNone || mode > PublishNonZero {
		return fmt.Errorf("%s.publish must be 0, 1, or 2", path)
	}
	if device.RolloverMax < 0 {
		return fmt.Errorf("%s.rollover_max cannot be negative", path)
	}
	if len(device.Objects) == 0 {
		return fmt.Errorf("%s.objects must define at least one object table", path)
	}

	for objectKey := range device.Objects {
		objectName := objectKey
		if idx := strings.IndexAny(objectKey, "=|"); idx >= 0 {
			objectName = objectKey[:idx]
		}
		if strings.TrimSpace(objectName) == "" {
			return fmt.Errorf("%s.objects contains a key with empty object name", path)
		}
	}

	for idx, pattern := range device.DropMetrics {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%s.drop_metrics[%d] cannot be empty", path, idx)
		}
	}

	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "panic", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validatePprofConfig validates optional pprof endpoint settings.
// Params: path is config path prefix; cfg pprof section.
// Returns: validation error for invalid listen endpoint.
func validatePprofConfig(path string, cfg PprofConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("%s.listen cannot be empty when enabled", path)
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
