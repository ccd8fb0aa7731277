package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/miot-core/internal/device"
	"github.com/nerrad567/miot-core/internal/infrastructure/config"
	"github.com/nerrad567/miot-core/internal/infrastructure/logging"
	"github.com/nerrad567/miot-core/internal/miot/codec"
	"github.com/nerrad567/miot-core/internal/miot/engine"
	"github.com/nerrad567/miot-core/internal/miot/proto"
	"github.com/nerrad567/miot-core/internal/miot/spec"
)

// ─── Test Fixtures ───────────────────────────────────────────────────

type addrKey struct{ siid, piid int }

// fakeTransport answers device I/O from scripted tables.
type fakeTransport struct {
	mu       sync.Mutex
	values   map[addrKey]any
	setCalls [][]proto.SetRequest
	actions  []proto.ActionRequest
	setErr   error
}

func (f *fakeTransport) GetProperties(_ context.Context, reqs []proto.PropertyRequest) ([]proto.PropertyValue, error) {
	out := make([]proto.PropertyValue, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, proto.PropertyValue{
			DID: r.DID, SIID: r.SIID, PIID: r.PIID,
			Code: proto.CodeOK, Value: f.values[addrKey{r.SIID, r.PIID}],
		})
	}
	return out, nil
}

func (f *fakeTransport) SetProperties(_ context.Context, reqs []proto.SetRequest) ([]proto.PropertyValue, error) {
	f.mu.Lock()
	f.setCalls = append(f.setCalls, append([]proto.SetRequest(nil), reqs...))
	f.mu.Unlock()
	if f.setErr != nil {
		return nil, f.setErr
	}
	out := make([]proto.PropertyValue, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, proto.PropertyValue{DID: r.DID, SIID: r.SIID, PIID: r.PIID, Code: proto.CodeOK})
	}
	return out, nil
}

func (f *fakeTransport) InvokeAction(_ context.Context, req proto.ActionRequest) (proto.ActionResult, error) {
	f.mu.Lock()
	f.actions = append(f.actions, req)
	f.mu.Unlock()
	return proto.ActionResult{Code: proto.CodeOK, Out: []any{1}}, nil
}

func (f *fakeTransport) MaxBatch() int { return 16 }

// fanFixture builds a two-property fan mapping with a toggle action.
func fanFixture() (*spec.PropertyMapping, spec.ControlParams) {
	m := spec.NewPropertyMapping()
	m.Add("switch_status", spec.Address{SIID: 2, PIID: 1})
	m.Add("speed", spec.Address{SIID: 2, PIID: 2})
	m.Add("a_l_fan_toggle", spec.Address{SIID: 2, AIID: 1})

	params := spec.ControlParams{
		"fan": spec.ParamSet{
			"switch_status": &spec.Params{
				Kind:     spec.ParamPower,
				Power:    &codec.PowerValues{On: true, Off: false},
				Readable: true,
				Writable: true,
			},
			"speed": &spec.Params{
				Kind: spec.ParamValueList,
				List: codec.ValueList{
					{Value: 1, Description: "Low"},
					{Value: 2, Description: "High"},
				},
				Readable: true,
				Writable: true,
			},
		},
	}
	return m, params
}

func newFanSession(t *testing.T, did string, tr engine.Transport) *engine.Session {
	t.Helper()
	mapping, params := fanFixture()
	sess, err := engine.New(engine.Config{
		DID:          did,
		Mapping:      mapping,
		Params:       params,
		Transport:    tr,
		PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return sess
}

// sessionSet is an in-memory Sessions implementation.
type sessionSet struct {
	sessions map[string]*engine.Session
}

func (s *sessionSet) Session(did string) (*engine.Session, error) {
	sess, ok := s.sessions[did]
	if !ok {
		return nil, errors.New("unknown device")
	}
	return sess, nil
}

func (s *sessionSet) DIDs() []string {
	dids := make([]string, 0, len(s.sessions))
	for did := range s.sessions {
		dids = append(dids, did)
	}
	sort.Strings(dids)
	return dids
}

func (s *sessionSet) Snapshots() []engine.Snapshot {
	snaps := make([]engine.Snapshot, 0, len(s.sessions))
	for _, did := range s.DIDs() {
		snaps = append(snaps, s.sessions[did].Snapshot())
	}
	return snaps
}

// fakeRegistry is an in-memory device.Repository.
type fakeRegistry struct {
	mu      sync.Mutex
	records map[string]device.Record
}

func newFakeRegistry(recs ...device.Record) *fakeRegistry {
	r := &fakeRegistry{records: make(map[string]device.Record)}
	for _, rec := range recs {
		r.records[rec.DID] = rec
	}
	return r
}

func (r *fakeRegistry) Get(_ context.Context, did string) (*device.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[did]
	if !ok {
		return nil, device.ErrNotFound
	}
	return &rec, nil
}

func (r *fakeRegistry) List(_ context.Context) ([]device.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeRegistry) Upsert(_ context.Context, rec *device.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.DID] = *rec
	return nil
}

func (r *fakeRegistry) Delete(_ context.Context, did string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[did]; !ok {
		return device.ErrNotFound
	}
	delete(r.records, did)
	return nil
}

func (r *fakeRegistry) Prune(_ context.Context, keep []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keepSet := make(map[string]struct{}, len(keep))
	for _, did := range keep {
		keepSet[did] = struct{}{}
	}
	removed := 0
	for did := range r.records {
		if _, ok := keepSet[did]; !ok {
			delete(r.records, did)
			removed++
		}
	}
	return removed, nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func fanRecord(did, name string) device.Record {
	return device.Record{
		DID:      did,
		Name:     name,
		Model:    "zhimi.fan.za5",
		Category: "fan",
		Mode:     "local",
	}
}

// newTestServer builds a Server with the router wired but no listener.
func newTestServer(t *testing.T, sessions Sessions, registry device.Repository) (*Server, http.Handler) {
	t.Helper()
	srv, err := New(Deps{
		Config:   config.APIConfig{},
		WS:       config.WebSocketConfig{PingInterval: 30, PongTimeout: 10, MaxMessageSize: 4096},
		Logger:   testLogger(),
		Sessions: sessions,
		Registry: registry,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	return srv, srv.buildRouter()
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, parsed
}

var healthyFan = map[addrKey]any{
	{2, 1}: true,
	{2, 2}: float64(2),
}

// ─── Health and Metrics ──────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestServer(t, &sessionSet{}, nil)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestMetricsCountsSessions(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	online := newFanSession(t, "100", tr)
	if _, err := online.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	unpolled := newFanSession(t, "200", tr)

	sessions := &sessionSet{sessions: map[string]*engine.Session{
		"100": online,
		"200": unpolled,
	}}
	_, handler := newTestServer(t, sessions, nil)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := body["devices"]; got != float64(2) {
		t.Errorf("devices = %v, want 2", got)
	}
	if got := body["devices_online"]; got != float64(1) {
		t.Errorf("devices_online = %v, want 1", got)
	}
	if got := body["devices_offline"]; got != float64(0) {
		t.Errorf("devices_offline = %v, want 0", got)
	}
}

// ─── Device Listing ──────────────────────────────────────────────────

func TestListDevicesMergesRegistryAndSessions(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	if _, err := sess.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	registry := newFakeRegistry(
		fanRecord("100", "Bedroom Fan"),
		fanRecord("200", "Study Fan"),
	)
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, registry)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := body["count"]; got != float64(2) {
		t.Fatalf("count = %v, want 2", got)
	}

	devices, ok := body["devices"].([]any)
	if !ok || len(devices) != 2 {
		t.Fatalf("devices = %v, want slice of 2", body["devices"])
	}
	first := devices[0].(map[string]any)
	if first["did"] != "100" {
		t.Fatalf("first device = %v, want did 100", first["did"])
	}
	if first["availability"] != "online" {
		t.Errorf("availability = %v, want online", first["availability"])
	}
	values, _ := first["values"].(map[string]any)
	if values["speed"] != "High" {
		t.Errorf("speed = %v, want High", values["speed"])
	}
	second := devices[1].(map[string]any)
	if second["availability"] != "unknown" {
		t.Errorf("session-less device availability = %v, want unknown", second["availability"])
	}
}

func TestListDevicesWithoutRegistry(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	if _, err := sess.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, nil)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := body["count"]; got != float64(1) {
		t.Errorf("count = %v, want 1", got)
	}
}

func TestGetDevice(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	if _, err := sess.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	registry := newFakeRegistry(fanRecord("100", "Bedroom Fan"))
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, registry)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/devices/100", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["model"] != "zhimi.fan.za5" {
		t.Errorf("model = %v, want zhimi.fan.za5", body["model"])
	}
	if body["availability"] != "online" {
		t.Errorf("availability = %v, want online", body["availability"])
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	_, handler := newTestServer(t, &sessionSet{}, newFakeRegistry())

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/devices/999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body["code"] != ErrCodeNotFound {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeNotFound)
	}
}

// ─── State Read and Write ────────────────────────────────────────────

func TestGetDeviceState(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	if _, err := sess.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, nil)

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/devices/100/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	values, _ := body["values"].(map[string]any)
	if values["switch_status"] != true {
		t.Errorf("switch_status = %v, want true", values["switch_status"])
	}
	if values["speed"] != "High" {
		t.Errorf("speed = %v, want High", values["speed"])
	}
}

func TestSetDeviceState(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, nil)

	rec, _ := doJSON(t, handler, http.MethodPut, "/api/v1/devices/100/state",
		`{"switch_status": false, "speed": "Low"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.setCalls) != 1 {
		t.Fatalf("set batches = %d, want 1", len(tr.setCalls))
	}
	if len(tr.setCalls[0]) != 2 {
		t.Fatalf("set requests = %d, want 2", len(tr.setCalls[0]))
	}
	for _, req := range tr.setCalls[0] {
		switch (addrKey{req.SIID, req.PIID}) {
		case addrKey{2, 1}:
			if req.Value != false {
				t.Errorf("switch_status wire value = %v, want false", req.Value)
			}
		case addrKey{2, 2}:
			if req.Value != int64(1) {
				t.Errorf("speed wire value = %v (%T), want 1", req.Value, req.Value)
			}
		default:
			t.Errorf("unexpected write target siid=%d piid=%d", req.SIID, req.PIID)
		}
	}
}

func TestSetDeviceStateValidation(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed JSON", `{"switch_status":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty body", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown property", `{"brightness": 50}`, http.StatusBadRequest, ErrCodeValidation},
		{"invalid enum value", `{"speed": "Turbo"}`, http.StatusBadRequest, ErrCodeValidation},
		{"action name", `{"a_l_fan_toggle": true}`, http.StatusBadRequest, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, handler, http.MethodPut, "/api/v1/devices/100/state", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
		})
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.setCalls) != 0 {
		t.Errorf("transport received %d writes, want 0", len(tr.setCalls))
	}
}

func TestSetDeviceStateUnknownDevice(t *testing.T) {
	_, handler := newTestServer(t, &sessionSet{}, nil)

	rec, _ := doJSON(t, handler, http.MethodPut, "/api/v1/devices/999/state", `{"switch_status": true}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// ─── Actions ─────────────────────────────────────────────────────────

func TestInvokeAction(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, nil)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/v1/devices/100/actions/a_l_fan_toggle", `{"args": []}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if body["action"] != "a_l_fan_toggle" {
		t.Errorf("action = %v, want a_l_fan_toggle", body["action"])
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.actions) != 1 {
		t.Fatalf("actions invoked = %d, want 1", len(tr.actions))
	}
	if tr.actions[0].SIID != 2 || tr.actions[0].AIID != 1 {
		t.Errorf("action target = siid %d aiid %d, want 2/1", tr.actions[0].SIID, tr.actions[0].AIID)
	}
}

func TestInvokeActionWithoutBody(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, nil)

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/devices/100/actions/a_l_fan_toggle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestInvokeActionOnProperty(t *testing.T) {
	tr := &fakeTransport{values: healthyFan}
	sess := newFanSession(t, "100", tr)
	sessions := &sessionSet{sessions: map[string]*engine.Session{"100": sess}}
	_, handler := newTestServer(t, sessions, nil)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/v1/devices/100/actions/switch_status", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if body["code"] != ErrCodeValidation {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeValidation)
	}
}

// ─── Error Mapping ───────────────────────────────────────────────────

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown name", engine.ErrUnknownName, http.StatusBadRequest, ErrCodeValidation},
		{"not writable", engine.ErrNotWritable, http.StatusBadRequest, ErrCodeValidation},
		{"invalid value", engine.ErrInvalidValue, http.StatusBadRequest, ErrCodeValidation},
		{"device offline", engine.ErrDeviceOffline, http.StatusServiceUnavailable, ErrCodeDeviceOffline},
		{"session closed", engine.ErrSessionClosed, http.StatusConflict, ErrCodeConflict},
		{"write rejected", engine.ErrWriteRejected, http.StatusBadGateway, ErrCodeDeviceRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeWriteError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var apiErr Error
			if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
				t.Fatalf("body is not an Error: %v", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}
