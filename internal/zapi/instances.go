package zapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"
)

type counterNameList struct {
	Items []string `xml:"counter"`
}

type instancePayload struct {
	Name     string `xml:"name"`
	UUID     string `xml:"uuid"`
	Counters []struct {
		Name  string `xml:"name"`
		Value string `xml:"value"`
	} `xml:"counters>counter-data"`
}

// mergeInstances folds one response page into the accumulated fetch result.
// When a later page reports an instance already seen, its counter fields
// overwrite the earlier ones for that instance (known protocol ambiguity,
// preserved on purpose).
// Params: result accumulator; instances decoded page; now clock function.
// Returns: none.
func mergeInstances(result *FetchResult, instances []instancePayload, now func() time.Time) {
	for _, instance := range instances {
		id := instance.UUID
		if id == "" {
			id = instance.Name
		}
		if id == "" {
			continue
		}

		data := result.Values[id]
		if data == nil {
			data = make(map[string]string, len(instance.Counters))
			result.Values[id] = data
		}
		for _, counter := range instance.Counters {
			data[counter.Name] = counter.Value
		}
		result.Times[id] = float64(now().UnixNano()) / float64(time.Second)
	}
}

// newFetchResult allocates an empty accumulator.
// Params: none.
// Returns: fetch result with initialized maps.
func newFetchResult() FetchResult {
	return FetchResult{
		Values: make(map[string]map[string]string),
		Times:  make(map[string]float64),
	}
}

// parseTimestamp converts the controller snapshot timestamp.
// Params: raw timestamp text, possibly empty.
// Returns: epoch seconds or 0 when absent/invalid.
func parseTimestamp(raw string) float64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}

// clusterSource iterates cluster-mode devices with cursor/tag paging and
// UUID instance identifiers.
type clusterSource struct {
	client *Client
	now    func() time.Time
}

type clusterInstanceIterRequest struct {
	XMLName    xml.Name `xml:"perf-object-instance-list-info-iter"`
	ObjectName string   `xml:"objectname"`
	FilterData string   `xml:"filter-data,omitempty"`
	Tag        string   `xml:"tag,omitempty"`
	MaxRecords int      `xml:"max-records"`
}

type clusterInstanceIterResults struct {
	XMLName    xml.Name `xml:"results"`
	NextTag    string   `xml:"next-tag"`
	NumRecords int      `xml:"num-records"`
	Instances  []struct {
		Name string `xml:"name"`
		UUID string `xml:"uuid"`
	} `xml:"attributes-list>instance-info"`
}

// ListInstances pages through all instances of one object.
// Params: ctx for cancellation; object name; filter device-side filter-data.
// Returns: instance UUID list or page error.
func (s *clusterSource) ListInstances(ctx context.Context, object, filter string) ([]string, error) {
	var instances []string
	tag := ""
	records := perfMaxRecords

	for records == perfMaxRecords {
		request := clusterInstanceIterRequest{
			ObjectName: object,
			FilterData: filter,
			Tag:        tag,
			MaxRecords: perfMaxRecords,
		}
		var results clusterInstanceIterResults
		if err := s.client.invoke(ctx, "perf-object-instance-list-info-iter", request, &results); err != nil {
			return nil, fmt.Errorf("list instances of %q: %w", object, err)
		}

		tag = results.NextTag
		records = results.NumRecords
		for _, instance := range results.Instances {
			instances = append(instances, instance.UUID)
		}
	}

	return instances, nil
}

type clusterGetInstancesRequest struct {
	XMLName       xml.Name `xml:"perf-object-get-instances"`
	InstanceUUIDs struct {
		Items []string `xml:"instance-uuid"`
	} `xml:"instance-uuids"`
	ObjectName string          `xml:"objectname"`
	Counters   counterNameList `xml:"counters"`
}

type getInstancesResults struct {
	XMLName   xml.Name          `xml:"results"`
	Timestamp string            `xml:"timestamp"`
	Records   int               `xml:"records"`
	Tag       string            `xml:"tag"`
	Instances []instancePayload `xml:"instances>instance-data"`
}

// FetchValues fetches counter values for the given instances in one call.
// Params: ctx for cancellation; object name; instances UUIDs; counters names.
// Returns: fetch result or call error.
func (s *clusterSource) FetchValues(ctx context.Context, object string, instances, counters []string) (FetchResult, error) {
	request := clusterGetInstancesRequest{ObjectName: object}
	request.InstanceUUIDs.Items = instances
	request.Counters.Items = counters

	var results getInstancesResults
	if err := s.client.invoke(ctx, "perf-object-get-instances", request, &results); err != nil {
		return FetchResult{}, fmt.Errorf("fetch values of %q: %w", object, err)
	}

	result := newFetchResult()
	result.CollectTime = parseTimestamp(results.Timestamp)
	mergeInstances(&result, results.Instances, s.clock())
	return result, nil
}

// clock returns the source clock, defaulting to time.Now.
// Params: none.
// Returns: clock function.
func (s *clusterSource) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}

// sevenModeSource iterates 7-mode devices with the explicit
// start/next/end sub-protocol and name instance identifiers.
type sevenModeSource struct {
	client *Client
	now    func() time.Time
}

type sevenListIterStartRequest struct {
	XMLName    xml.Name `xml:"perf-object-instance-list-info-iter-start"`
	ObjectName string   `xml:"objectname"`
}

type iterStartResults struct {
	XMLName   xml.Name `xml:"results"`
	Tag       string   `xml:"tag"`
	Timestamp string   `xml:"timestamp"`
}

type sevenListIterNextRequest struct {
	XMLName xml.Name `xml:"perf-object-instance-list-info-iter-next"`
	Tag     string   `xml:"tag"`
	Maximum int      `xml:"maximum"`
}

type sevenListIterNextResults struct {
	XMLName   xml.Name `xml:"results"`
	Records   int      `xml:"records"`
	Instances []struct {
		Name string `xml:"name"`
	} `xml:"instances>instance-info"`
}

type sevenListIterEndRequest struct {
	XMLName xml.Name `xml:"perf-object-instance-list-info-iter-end"`
	Tag     string   `xml:"tag"`
}

// ListInstances runs the start/next/end protocol to list instance names.
// The 7-mode API has no server-side filter; filter is accepted for
// interface parity and ignored.
// Params: ctx for cancellation; object name; filter unused.
// Returns: instance name list or sub-call error.
func (s *sevenModeSource) ListInstances(ctx context.Context, object, _ string) ([]string, error) {
	var start iterStartResults
	startRequest := sevenListIterStartRequest{ObjectName: object}
	if err := s.client.invoke(ctx, "perf-object-instance-list-info-iter-start", startRequest, &start); err != nil {
		return nil, fmt.Errorf("list instances of %q: %w", object, err)
	}

	var instances []string
	records := perfMaxRecords
	for records == perfMaxRecords {
		var page sevenListIterNextResults
		nextRequest := sevenListIterNextRequest{Tag: start.Tag, Maximum: perfMaxRecords}
		if err := s.client.invoke(ctx, "perf-object-instance-list-info-iter-next", nextRequest, &page); err != nil {
			return nil, fmt.Errorf("list instances of %q: %w", object, err)
		}
		records = page.Records
		for _, instance := range page.Instances {
			instances = append(instances, instance.Name)
		}
	}

	endRequest := sevenListIterEndRequest{Tag: start.Tag}
	if err := s.client.invoke(ctx, "perf-object-instance-list-info-iter-end", endRequest, nil); err != nil {
		return nil, fmt.Errorf("list instances of %q: %w", object, err)
	}

	return instances, nil
}

type sevenGetIterStartRequest struct {
	XMLName    xml.Name `xml:"perf-object-get-instances-iter-start"`
	ObjectName string   `xml:"objectname"`
	Counters   counterNameList `xml:"counters"`
	Instances  struct {
		Items []string `xml:"instance"`
	} `xml:"instances"`
}

type sevenGetIterNextRequest struct {
	XMLName xml.Name `xml:"perf-object-get-instances-iter-next"`
	Tag     string   `xml:"tag"`
	Maximum int      `xml:"maximum"`
}

type sevenGetIterEndRequest struct {
	XMLName xml.Name `xml:"perf-object-get-instances-iter-end"`
	Tag     string   `xml:"tag"`
}

// FetchValues pages counter values through the get-instances iterator.
// Params: ctx for cancellation; object name; instances names; counters names.
// Returns: merged fetch result or sub-call error.
func (s *sevenModeSource) FetchValues(ctx context.Context, object string, instances, counters []string) (FetchResult, error) {
	startRequest := sevenGetIterStartRequest{ObjectName: object}
	startRequest.Counters.Items = counters
	startRequest.Instances.Items = instances

	var start iterStartResults
	if err := s.client.invoke(ctx, "perf-object-get-instances-iter-start", startRequest, &start); err != nil {
		return FetchResult{}, fmt.Errorf("fetch values of %q: %w", object, err)
	}

	result := newFetchResult()
	result.CollectTime = parseTimestamp(start.Timestamp)

	records := perfMaxRecords
	for records == perfMaxRecords {
		var page getInstancesResults
		nextRequest := sevenGetIterNextRequest{Tag: start.Tag, Maximum: perfMaxRecords}
		if err := s.client.invoke(ctx, "perf-object-get-instances-iter-next", nextRequest, &page); err != nil {
			return FetchResult{}, fmt.Errorf("fetch values of %q: %w", object, err)
		}
		records = page.Records
		mergeInstances(&result, page.Instances, s.clock())
	}

	endRequest := sevenGetIterEndRequest{Tag: start.Tag}
	if err := s.client.invoke(ctx, "perf-object-get-instances-iter-end", endRequest, nil); err != nil {
		return FetchResult{}, fmt.Errorf("fetch values of %q: %w", object, err)
	}

	return result, nil
}

// clock returns the source clock, defaulting to time.Now.
// Params: none.
// Returns: clock function.
func (s *sevenModeSource) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}
