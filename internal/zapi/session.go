package zapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

var versionTriple = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// Version identifies the controller software generation.
// Params: decoded from system-get-version.
// Returns: version triple plus cluster-mode flag.
type Version struct {
	Generation  string
	Major       string
	Minor       string
	IsClustered bool
}

// String renders the version triple.
// Params: none.
// Returns: dotted version text.
func (v Version) String() string {
	return v.Generation + "." + v.Major + "." + v.Minor
}

// ObjectInfo describes one countable performance object type.
// Params: decoded from perf-object-list-info.
// Returns: object identity and metadata.
type ObjectInfo struct {
	Name           string
	Description    string
	PrivilegeLevel string
}

// Counter describes one performance counter exposed by an object.
// Params: decoded from perf-object-counter-list-info.
// Returns: counter metadata including array labels.
type Counter struct {
	Name           string
	Unit           string
	Properties     string
	BaseCounter    string
	PrivilegeLevel string
	Description    string
	Labels         []string
}

// InstanceSource lists object instances and fetches their counter values.
// Implemented by the cluster-mode cursor variant and the 7-mode
// start/next/end variant; selected once at connect time.
type InstanceSource interface {
	ListInstances(ctx context.Context, object, filter string) ([]string, error)
	FetchValues(ctx context.Context, object string, instances, counters []string) (FetchResult, error)
}

// FetchResult is one batch of instance counter snapshots.
// Params: filled by InstanceSource.FetchValues.
// Returns: raw values, per-instance fetch times, and collection timestamp.
type FetchResult struct {
	// Values maps instance id -> counter name -> raw string value.
	Values map[string]map[string]string
	// Times maps instance id -> local receive time in epoch seconds.
	Times map[string]float64
	// CollectTime is the controller-reported snapshot timestamp in epoch
	// seconds, 0 when the response carries none.
	CollectTime float64
}

// Session is an authenticated connection with a resolved API generation.
// Params: built by Connect.
// Returns: handle for all counter source operations on one device.
type Session struct {
	client  *Client
	version Version
	source  InstanceSource
}

// Connect builds a client, discovers the controller version, and selects
// the instance source variant for its API generation.
// Params: ctx for the version call; cfg connection settings.
// Returns: ready session or connect/version error.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	version, err := getVersion(ctx, client)
	if err != nil {
		return nil, err
	}

	session := &Session{client: client, version: version}
	if version.IsClustered {
		session.source = &clusterSource{client: client}
	} else {
		session.source = &sevenModeSource{client: client}
	}
	return session, nil
}

// Version returns the discovered controller version.
// Params: none.
// Returns: version value.
func (s *Session) Version() Version {
	return s.version
}

// ListInstances lists instance ids of one object through the generation-specific source.
// Params: ctx for cancellation; object name; filter device-side instance filter.
// Returns: instance id list or iteration error.
func (s *Session) ListInstances(ctx context.Context, object, filter string) ([]string, error) {
	return s.source.ListInstances(ctx, object, filter)
}

// FetchValues fetches current counter values for the given instances.
// Params: ctx for cancellation; object name; instances ids; counters names.
// Returns: fetch result or iteration error.
func (s *Session) FetchValues(ctx context.Context, object string, instances, counters []string) (FetchResult, error) {
	return s.source.FetchValues(ctx, object, instances, counters)
}

type versionRequest struct {
	XMLName xml.Name `xml:"system-get-version"`
}

type versionResults struct {
	XMLName      xml.Name `xml:"results"`
	IsClustered  string   `xml:"is-clustered"`
	Version      string   `xml:"version"`
	VersionTuple struct {
		SystemVersionTuple struct {
			Generation string `xml:"generation"`
			Major      string `xml:"major"`
			Minor      string `xml:"minor"`
		} `xml:"system-version-tuple"`
	} `xml:"version-tuple"`
}

// getVersion resolves the controller version and cluster mode.
// Params: ctx for cancellation; client transport.
// Returns: version value or call error.
func getVersion(ctx context.Context, client *Client) (Version, error) {
	var results versionResults
	if err := client.invoke(ctx, "system-get-version", versionRequest{}, &results); err != nil {
		return Version{}, err
	}

	version := Version{
		Generation:  "0",
		Major:       "0",
		Minor:       "0",
		IsClustered: results.IsClustered == "true",
	}

	tuple := results.VersionTuple.SystemVersionTuple
	if tuple.Generation != "" {
		version.Generation = tuple.Generation
		version.Major = tuple.Major
		version.Minor = tuple.Minor
		return version, nil
	}

	if match := versionTriple.FindStringSubmatch(results.Version); match != nil {
		version.Generation = match[1]
		version.Major = match[2]
		version.Minor = match[3]
	}
	return version, nil
}

type objectListRequest struct {
	XMLName xml.Name `xml:"perf-object-list-info"`
}

type objectListResults struct {
	XMLName xml.Name `xml:"results"`
	Objects []struct {
		Name           string `xml:"name"`
		Description    string `xml:"description"`
		PrivilegeLevel string `xml:"privilege-level"`
	} `xml:"objects>object-info"`
}

// Objects lists all performance object types available on the device.
// Params: ctx for cancellation.
// Returns: object descriptions or call error.
func (s *Session) Objects(ctx context.Context) ([]ObjectInfo, error) {
	var results objectListResults
	if err := s.client.invoke(ctx, "perf-object-list-info", objectListRequest{}, &results); err != nil {
		return nil, err
	}

	objects := make([]ObjectInfo, 0, len(results.Objects))
	for _, object := range results.Objects {
		objects = append(objects, ObjectInfo{
			Name:           object.Name,
			Description:    object.Description,
			PrivilegeLevel: object.PrivilegeLevel,
		})
	}
	return objects, nil
}

type counterListRequest struct {
	XMLName    xml.Name `xml:"perf-object-counter-list-info"`
	ObjectName string   `xml:"objectname"`
}

type counterListResults struct {
	XMLName  xml.Name `xml:"results"`
	Counters []struct {
		Name           string `xml:"name"`
		Desc           string `xml:"desc"`
		Unit           string `xml:"unit"`
		Properties     string `xml:"properties"`
		BaseCounter    string `xml:"base-counter"`
		PrivilegeLevel string `xml:"privilege-level"`
		Labels         struct {
			LabelInfo []string `xml:"label-info"`
		} `xml:"labels"`
	} `xml:"counters>counter-info"`
}

// Counters describes all counters of one object, keyed by counter name.
// Params: ctx for cancellation; object name.
// Returns: counter map or call error.
func (s *Session) Counters(ctx context.Context, object string) (map[string]Counter, error) {
	var results counterListResults
	request := counterListRequest{ObjectName: object}
	if err := s.client.invoke(ctx, "perf-object-counter-list-info", request, &results); err != nil {
		return nil, fmt.Errorf("counters for %q: %w", object, err)
	}

	counters := make(map[string]Counter, len(results.Counters))
	for _, counter := range results.Counters {
		labels := make([]string, 0)
		for _, info := range counter.Labels.LabelInfo {
			for _, label := range strings.Split(info, ",") {
				labels = append(labels, strings.TrimSpace(label))
			}
		}
		if len(labels) == 0 {
			labels = nil
		}
		counters[counter.Name] = Counter{
			Name:           counter.Name,
			Unit:           counter.Unit,
			Properties:     counter.Properties,
			BaseCounter:    counter.BaseCounter,
			PrivilegeLevel: counter.PrivilegeLevel,
			Description:    counter.Desc,
			Labels:         labels,
		}
	}
	return counters, nil
}
