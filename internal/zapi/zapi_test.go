package zapi_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"naperf/internal/zapi"
)

// fakeController serves canned ONTAPI responses keyed by call element name.
// Queued responses for one call are consumed in order; the last one repeats.
type fakeController struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     []string
}

// ServeHTTP matches the request body against known call names (longest
// match wins, iter-start must not match the bare iter call) and replies
// with the next queued response.
// Params: w response writer; r incoming API request.
// Returns: none.
func (f *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	match := ""
	for name := range f.responses {
		if bytes.Contains(body, []byte("<"+name+">")) || bytes.Contains(body, []byte("<"+name+" ")) {
			if len(name) > len(match) {
				match = name
			}
		}
	}
	if match == "" {
		http.Error(w, "unexpected call: "+string(body), http.StatusBadRequest)
		return
	}

	f.calls = append(f.calls, match)
	queue := f.responses[match]
	response := queue[0]
	if len(queue) > 1 {
		f.responses[match] = queue[1:]
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write([]byte(response))
}

// callCount returns how many times one call was served.
// Params: name call element name.
// Returns: served count.
func (f *fakeController) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, call := range f.calls {
		if call == name {
			count++
		}
	}
	return count
}

// passed wraps a results payload in a passed response envelope.
// Params: inner results payload XML.
// Returns: full response document.
func passed(inner string) string {
	return `<netapp version="1.12" xmlns="http://www.netapp.com/filer/admin"><results status="passed">` +
		inner + `</results></netapp>`
}

const clusterVersionResponse = `<is-clustered>true</is-clustered>` +
	`<version>NetApp Release 9.7P5</version>` +
	`<version-tuple><system-version-tuple>` +
	`<generation>9</generation><major>7</major><minor>0</minor>` +
	`</system-version-tuple></version-tuple>`

const sevenModeVersionResponse = `<is-clustered>false</is-clustered>` +
	`<version>NetApp Release 8.1.2 7-Mode</version>`

// connect dials the fake controller and fails the test on error.
// Params: t test handle; controller fake with queued responses.
// Returns: ready session and server cleanup via t.Cleanup.
func connect(t *testing.T, controller *fakeController) *zapi.Session {
	t.Helper()

	server := httptest.NewServer(controller)
	t.Cleanup(server.Close)

	session, err := zapi.Connect(context.Background(), zapi.Config{
		Address:  server.URL,
		User:     "monitor",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return session
}

// TestConnect_ResolvesClusterVersion verifies version tuple decoding.
// Params: testing.T for assertions.
// Returns: none.
func TestConnect_ResolvesClusterVersion(t *testing.T) {
	controller := &fakeController{responses: map[string][]string{
		"system-get-version": {passed(clusterVersionResponse)},
	}}

	session := connect(t, controller)

	version := session.Version()
	if !version.IsClustered {
		t.Fatalf("expected clustered version")
	}
	if got := version.String(); got != "9.7.0" {
		t.Fatalf("unexpected version: %q", got)
	}
}

// TestConnect_ResolvesSevenModeVersionFromText verifies the regex fallback.
// Params: testing.T for assertions.
// Returns: none.
func TestConnect_ResolvesSevenModeVersionFromText(t *testing.T) {
	controller := &fakeController{responses: map[string][]string{
		"system-get-version": {passed(sevenModeVersionResponse)},
	}}

	session := connect(t, controller)

	version := session.Version()
	if version.IsClustered {
		t.Fatalf("expected 7-mode version")
	}
	if got := version.String(); got != "8.1.2" {
		t.Fatalf("unexpected version: %q", got)
	}
}

// TestConnect_RequiresAddress verifies the empty address error.
// Params: testing.T for assertions.
// Returns: none.
func TestConnect_RequiresAddress(t *testing.T) {
	_, err := zapi.Connect(context.Background(), zapi.Config{})
	if err == nil {
		t.Fatalf("expected error for empty address")
	}
}

// TestConnect_SurfacesAPIError verifies failed results become APIError.
// Params: testing.T for assertions.
// Returns: none.
func TestConnect_SurfacesAPIError(t *testing.T) {
	controller := &fakeController{responses: map[string][]string{
		"system-get-version": {
			`<netapp version="1.12" xmlns="http://www.netapp.com/filer/admin">` +
				`<results status="failed" errno="13002" reason="insufficient privileges"/></netapp>`,
		},
	}}

	server := httptest.NewServer(controller)
	t.Cleanup(server.Close)

	_, err := zapi.Connect(context.Background(), zapi.Config{Address: server.URL})
	if err == nil {
		t.Fatalf("expected API error")
	}

	var apiErr *zapi.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *zapi.APIError, got %T: %v", err, err)
	}
	if apiErr.Errno != "13002" || apiErr.Reason != "insufficient privileges" {
		t.Fatalf("unexpected API error fields: %+v", apiErr)
	}
}

// TestClusterListInstances_PagesWithCursor verifies the tag cursor loop.
// A page reporting a full record count forces another page request.
// Params: testing.T for assertions.
// Returns: none.
func TestClusterListInstances_PagesWithCursor(t *testing.T) {
	controller := &fakeController{responses: map[string][]string{
		"system-get-version": {passed(clusterVersionResponse)},
		"perf-object-instance-list-info-iter": {
			passed(`<next-tag>cursor-1</next-tag><num-records>500</num-records>` +
				`<attributes-list>` +
				`<instance-info><name>vol0</name><uuid>uuid-0</uuid></instance-info>` +
				`<instance-info><name>vol1</name><uuid>uuid-1</uuid></instance-info>` +
				`</attributes-list>`),
			passed(`<num-records>1</num-records>` +
				`<attributes-list>` +
				`<instance-info><name>vol2</name><uuid>uuid-2</uuid></instance-info>` +
				`</attributes-list>`),
		},
	}}

	session := connect(t, controller)

	instances, err := session.ListInstances(context.Background(), "volume", "")
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}

	want := []string{"uuid-0", "uuid-1", "uuid-2"}
	if len(instances) != len(want) {
		t.Fatalf("unexpected instances: %v", instances)
	}
	for idx, id := range want {
		if instances[idx] != id {
			t.Fatalf("unexpected instance at %d: %q", idx, instances[idx])
		}
	}
	if got := controller.callCount("perf-object-instance-list-info-iter"); got != 2 {
		t.Fatalf("unexpected page count: %d", got)
	}
}

// TestClusterFetchValues_MergesDuplicateInstances verifies fetch decoding
// and the duplicate rule: a later record for a seen instance overwrites
// its counter fields.
// Params: testing.T for assertions.
// Returns: none.
func TestClusterFetchValues_MergesDuplicateInstances(t *testing.T) {
	controller := &fakeController{responses: map[string][]string{
		"system-get-version": {passed(clusterVersionResponse)},
		"perf-object-get-instances": {
			passed(`<timestamp>1700000100</timestamp><records>2</records>` +
				`<instances>` +
				`<instance-data><name>vol0</name><uuid>uuid-0</uuid>` +
				`<counters>` +
				`<counter-data><name>read_ops</name><value>100</value></counter-data>` +
				`<counter-data><name>write_ops</name><value>40</value></counter-data>` +
				`</counters></instance-data>` +
				`<instance-data><name>vol0</name><uuid>uuid-0</uuid>` +
				`<counters>` +
				`<counter-data><name>read_ops</name><value>160</value></counter-data>` +
				`</counters></instance-data>` +
				`</instances>`),
		},
	}}

	session := connect(t, controller)

	fetch, err := session.FetchValues(context.Background(), "volume", []string{"uuid-0"}, []string{"read_ops", "write_ops"})
	if err != nil {
		t.Fatalf("fetch values: %v", err)
	}

	if fetch.CollectTime != 1700000100 {
		t.Fatalf("unexpected collect time: %v", fetch.CollectTime)
	}
	data := fetch.Values["uuid-0"]
	if data == nil {
		t.Fatalf("expected values for uuid-0, got %v", fetch.Values)
	}
	if data["read_ops"] != "160" {
		t.Fatalf("expected later duplicate to overwrite read_ops, got %q", data["read_ops"])
	}
	if data["write_ops"] != "40" {
		t.Fatalf("expected earlier write_ops to survive, got %q", data["write_ops"])
	}
	if fetch.Times["uuid-0"] <= 0 {
		t.Fatalf("expected receive time for uuid-0")
	}
}

// TestSevenModeListInstances_RunsStartNextEnd verifies the explicit
// iterator protocol including the final end call.
// Params: testing.T for assertions.
// Returns: none.
func TestSevenModeListInstances_RunsStartNextEnd(t *testing.T) {
	controller := &fakeController{responses: map[string][]string{
		"system-get-version": {passed(sevenModeVersionResponse)},
		"perf-object-instance-list-info-iter-start": {
			passed(`<tag>list-tag</tag>`),
		},
		"perf-object-instance-list-info-iter-next": {
			passed(`<records>2</records>` +
				`<instances>` +
				`<instance-info><name>vol0</name></instance-info>` +
				`<instance-info><name>vol1</name></instance-info>` +
				`</instances>`),
		},
		"perf-object-instance-list-info-iter-end": {
			passed(``),
		},
	}}

	session := connect(t, controller)

	instances, err := session.ListInstances(context.Background(), "volume", "ignored-filter")
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}

	if len(instances) != 2 || instances[0] != "vol0" || instances[1] != "vol1" {
		t.Fatalf("unexpected instances: %v", instances)
	}
	if got := controller.callCount("perf-object-instance-list-info-iter-end"); got != 1 {
		t.Fatalf("expected one iter-end call, got %d", got)
	}
}

// TestSevenModeFetchValues_PagesAndEnds verifies value paging through the
// get-instances iterator and its terminating end call.
// Params: testing.T for assertions.
// Returns: none.
func TestSevenModeFetchValues_PagesAndEnds(t *testing.T) {
	controller := &fakeController{responses: map[string][]string{
		"system-get-version": {passed(sevenModeVersionResponse)},
		"perf-object-get-instances-iter-start": {
			passed(`<tag>fetch-tag</tag><timestamp>1700000100</timestamp>`),
		},
		"perf-object-get-instances-iter-next": {
			passed(`<records>500</records>` +
				`<instances>` +
				`<instance-data><name>vol0</name>` +
				`<counters><counter-data><name>read_ops</name><value>100</value></counter-data></counters>` +
				`</instance-data>` +
				`</instances>`),
			passed(`<records>1</records>` +
				`<instances>` +
				`<instance-data><name>vol1</name>` +
				`<counters><counter-data><name>read_ops</name><value>200</value></counter-data></counters>` +
				`</instance-data>` +
				`</instances>`),
		},
		"perf-object-get-instances-iter-end": {
			passed(``),
		},
	}}

	session := connect(t, controller)

	fetch, err := session.FetchValues(context.Background(), "volume", []string{"vol0", "vol1"}, []string{"read_ops"})
	if err != nil {
		t.Fatalf("fetch values: %v", err)
	}

	if fetch.CollectTime != 1700000100 {
		t.Fatalf("unexpected collect time: %v", fetch.CollectTime)
	}
	if fetch.Values["vol0"]["read_ops"] != "100" || fetch.Values["vol1"]["read_ops"] != "200" {
		t.Fatalf("unexpected values: %v", fetch.Values)
	}
	if got := controller.callCount("perf-object-get-instances-iter-next"); got != 2 {
		t.Fatalf("unexpected page count: %d", got)
	}
	if got := controller.callCount("perf-object-get-instances-iter-end"); got != 1 {
		t.Fatalf("expected one iter-end call, got %d", got)
	}
}

// TestSessionObjectsAndCounters verifies metadata decoding.
// Params: testing.T for assertions.
// Returns: none.
func TestSessionObjectsAndCounters(t *testing.T) {
	controller := &fakeController{responses: map[string][]string{
		"system-get-version": {passed(clusterVersionResponse)},
		"perf-object-list-info": {
			passed(`<objects>` +
				`<object-info><name>volume</name><description>Volume counters</description><privilege-level>basic</privilege-level></object-info>` +
				`<object-info><name>aggregate</name><description>Aggregate counters</description><privilege-level>admin</privilege-level></object-info>` +
				`</objects>`),
		},
		"perf-object-counter-list-info": {
			passed(`<counters>` +
				`<counter-info><name>read_ops</name><desc>Read operations</desc><unit>per_sec</unit><properties>rate</properties><privilege-level>basic</privilege-level></counter-info>` +
				`<counter-info><name>read_io_type</name><unit>percent</unit><properties>percent</properties><base-counter>read_io_total</base-counter>` +
				`<labels><label-info>cache,disk, bamboo_ssd</label-info></labels></counter-info>` +
				`</counters>`),
		},
	}}

	session := connect(t, controller)

	objects, err := session.Objects(context.Background())
	if err != nil {
		t.Fatalf("objects: %v", err)
	}
	if len(objects) != 2 || objects[0].Name != "volume" || objects[1].PrivilegeLevel != "admin" {
		t.Fatalf("unexpected objects: %+v", objects)
	}

	counters, err := session.Counters(context.Background(), "volume")
	if err != nil {
		t.Fatalf("counters: %v", err)
	}

	readOps := counters["read_ops"]
	if readOps.Properties != "rate" || readOps.Unit != "per_sec" || readOps.Labels != nil {
		t.Fatalf("unexpected read_ops counter: %+v", readOps)
	}

	ioType := counters["read_io_type"]
	if ioType.BaseCounter != "read_io_total" {
		t.Fatalf("unexpected base counter: %q", ioType.BaseCounter)
	}
	want := []string{"cache", "disk", "bamboo_ssd"}
	if len(ioType.Labels) != len(want) {
		t.Fatalf("unexpected labels: %v", ioType.Labels)
	}
	for idx, label := range want {
		if ioType.Labels[idx] != label {
			t.Fatalf("unexpected label at %d: %q", idx, ioType.Labels[idx])
		}
	}
}
