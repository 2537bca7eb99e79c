package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dobiss/internal/auth"
	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

var (
	kitchen = dobiss.DeviceAddress{Module: 1, Output: 0}
	living  = dobiss.DeviceAddress{Module: 2, Output: 3}
)

// fakeFrames implements FrameLister.
type fakeFrames struct {
	mu        sync.Mutex
	frames    []dobiss.UnhandledFrame
	err       error
	lastLimit int
}

func (f *fakeFrames) List(_ context.Context, limit int) ([]dobiss.UnhandledFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.frames, f.err
}

// fakeMetrics implements MetricsProvider.
type fakeMetrics struct {
	metrics dobiss.BridgeMetrics
}

func (f *fakeMetrics) GetMetrics() dobiss.BridgeMetrics { return f.metrics }

type apiHarness struct {
	srv    *Server
	router http.Handler
	driver *dobiss.Driver
	bus    *dobiss.VirtualBus
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func testDeps(driver dobiss.Controller) Deps {
	return Deps{
		Config: config.APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         testSecret,
				AccessTokenTTL: 15,
			},
		},
		Logger:  testLogger(),
		Driver:  driver,
		Version: "test",
	}
}

// newHarness runs a real driver against a simulated installation with a
// relay at 1.0 and a dimmer at 2.3.
func newHarness(t *testing.T, mutate func(*Deps)) *apiHarness {
	t.Helper()

	table, err := dobiss.NewAddressTable([]dobiss.OutputConfig{
		{ID: "kitchen", Name: "Kitchen", Module: 1, Output: 0},
		{ID: "living", Name: "Living", Module: 2, Output: 3, Dimmable: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	bus := dobiss.NewVirtualBus(table.Entries(), 0)

	driver, err := dobiss.NewDriver(dobiss.DriverOptions{
		Table:          table,
		Bus:            bus,
		CommandTimeout: 50 * time.Millisecond,
		MaxAttempts:    2,
		TickInterval:   10 * time.Millisecond,
		PollTimeout:    50 * time.Millisecond,
		PollPacing:     time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := driver.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		driver.Stop()
		cancel()
	})

	deps := testDeps(driver)
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	go srv.hub.Run(ctx)
	if srv.auditCh != nil {
		go srv.drainAuditLog(ctx)
	}

	return &apiHarness{srv: srv, router: srv.buildRouter(), driver: driver, bus: bus}
}

func bearer(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.GenerateAccessToken("tester", role, testSecret, 5)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

// do sends a request through the router. An empty role sends no token.
func (h *apiHarness) do(t *testing.T, method, path, body string, role auth.Role) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if role != "" {
		req.Header.Set("Authorization", bearer(t, role))
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{Driver: &dobiss.Driver{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without driver should fail")
	}
	deps := testDeps(&dobiss.Driver{})
	deps.Security.JWT.Secret = ""
	if _, err := New(deps); err == nil {
		t.Error("New() without jwt secret should fail")
	}

	_, err := New(Deps{})
	if err == nil || err.Error() != "api: missing logger, driver, jwt secret" {
		t.Errorf("New(Deps{}) error = %v", err)
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp := decode(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	h := newHarness(t, nil)
	h.bus.SetConnected(false)
	waitFor(t, "link down", func() bool { return !h.driver.LinkUp() })

	resp := decode(t, h.do(t, http.MethodGet, "/api/v1/health", "", ""))
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestRequestID(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}

	// Malformed IDs are replaced rather than echoed.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "bad id\nforged=1")
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got == "" || strings.ContainsAny(got, " \n") {
		t.Errorf("X-Request-ID = %q, want a generated ID", got)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		wantOK bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer abc.def", "abc.def", true},
		{"Bearer   abc.def ", "abc.def", true},
		{"Bearer ", "", false},
		{"Basic YWRtaW4=", "", false},
		{"abc.def", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValidRequestID(t *testing.T) {
	tests := map[string]bool{
		"client-123":            true,
		"":                      false,
		"has space":             false,
		"tab\there":             false,
		strings.Repeat("x", 64): true,
		strings.Repeat("x", 65): false,
		"caf\u00e9":             false,
	}
	for id, want := range tests {
		if got := validRequestID(id); got != want {
			t.Errorf("validRequestID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestNotFound(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/nonexistent", "", auth.RoleAdmin)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAuth(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header string
		role   auth.Role
		want   int
	}{
		{name: "no token", method: http.MethodGet, path: "/api/v1/outputs", want: http.StatusUnauthorized},
		{name: "garbage token", method: http.MethodGet, path: "/api/v1/outputs", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "basic scheme", method: http.MethodGet, path: "/api/v1/outputs", header: "Basic YWRtaW46YWRtaW4=", want: http.StatusUnauthorized},
		{name: "viewer reads", method: http.MethodGet, path: "/api/v1/outputs", role: auth.RoleViewer, want: http.StatusOK},
		{name: "viewer cannot switch", method: http.MethodPut, path: "/api/v1/outputs/kitchen/state", body: `{"on":true}`, role: auth.RoleViewer, want: http.StatusForbidden},
		{name: "viewer cannot refresh", method: http.MethodPost, path: "/api/v1/outputs/refresh", role: auth.RoleViewer, want: http.StatusForbidden},
		{name: "operator cannot read frames", method: http.MethodGet, path: "/api/v1/diagnostics/frames", role: auth.RoleOperator, want: http.StatusForbidden},
		{name: "metrics are public", method: http.MethodGet, path: "/api/v1/metrics", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			switch {
			case tt.header != "":
				req.Header.Set("Authorization", tt.header)
			case tt.role != "":
				req.Header.Set("Authorization", bearer(t, tt.role))
			}
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_WrongSecret(t *testing.T) {
	h := newHarness(t, nil)

	token, err := auth.GenerateAccessToken("intruder", auth.RoleAdmin, "some-other-secret-that-is-long-enough", 5)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/outputs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ─── Outputs ───────────────────────────────────────────────────────

func TestListOutputs(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/outputs", "", auth.RoleViewer)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Outputs []outputResponse `json:"outputs"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || len(resp.Outputs) != 2 {
		t.Fatalf("count = %d, outputs = %d", resp.Count, len(resp.Outputs))
	}

	first, second := resp.Outputs[0], resp.Outputs[1]
	if first.ID != "kitchen" || first.Address != "1.0" || first.UniqueID != "dobiss.1.0" || first.Dimmable {
		t.Errorf("first = %+v", first)
	}
	if first.State.Level != nil {
		t.Error("relay output should not report a level")
	}
	if second.ID != "living" || !second.Dimmable || second.State.Level == nil {
		t.Errorf("second = %+v", second)
	}
}

func TestGetOutput(t *testing.T) {
	h := newHarness(t, nil)

	for _, ref := range []string{"living", "2.3", "dobiss.2.3"} {
		t.Run(ref, func(t *testing.T) {
			w := h.do(t, http.MethodGet, "/api/v1/outputs/"+ref, "", auth.RoleViewer)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var out outputResponse
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
				t.Fatal(err)
			}
			if out.ID != "living" || out.Module != 2 || out.Output != 3 {
				t.Errorf("output = %+v", out)
			}
		})
	}

	for _, ref := range []string{"garage", "9.9"} {
		t.Run("unknown "+ref, func(t *testing.T) {
			w := h.do(t, http.MethodGet, "/api/v1/outputs/"+ref, "", auth.RoleViewer)
			if w.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", w.Code)
			}
		})
	}
}

func TestGetOutput_ConfirmedAfterStartupPoll(t *testing.T) {
	h := newHarness(t, nil)

	waitFor(t, "startup poll", func() bool {
		st, err := h.driver.State(kitchen)
		return err == nil && st.Confidence == dobiss.ConfidenceConfirmed
	})

	var out outputResponse
	if err := json.Unmarshal(h.do(t, http.MethodGet, "/api/v1/outputs/kitchen", "", auth.RoleViewer).Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.State.Known || out.State.LastUpdated == nil || out.State.Confidence != "confirmed" {
		t.Errorf("state = %+v", out.State)
	}
}

func TestSetOutputState_Accepted(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodPut, "/api/v1/outputs/kitchen/state", `{"on":true}`, auth.RoleOperator)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["status"] != "accepted" || resp["command_id"] == "" || resp["address"] != "1.0" {
		t.Errorf("resp = %v", resp)
	}

	waitFor(t, "relay on", func() bool {
		v, _ := h.bus.Value(kitchen)
		return v.On()
	})
}

func TestSetOutputState_WaitConfirmed(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodPut, "/api/v1/outputs/living/state", `{"on":true,"level":40,"wait":true}`, auth.RoleOperator)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	var resp struct {
		Status   string        `json:"status"`
		Attempts int           `json:"attempts"`
		State    stateResponse `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "confirmed" || resp.Attempts != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.State.On || resp.State.Level == nil || *resp.State.Level != 40 || resp.State.Confidence != "confirmed" {
		t.Errorf("state = %+v", resp.State)
	}

	if v, _ := h.bus.Value(living); v.Level() != 40 {
		t.Errorf("bus level = %d, want 40", v.Level())
	}
}

func TestSetOutputState_Timeout(t *testing.T) {
	h := newHarness(t, nil)
	h.bus.SetMuted(kitchen, true)

	w := h.do(t, http.MethodPut, "/api/v1/outputs/kitchen/state", `{"on":true,"wait":true}`, auth.RoleOperator)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504 (%s)", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["code"] != ErrCodeTimeout {
		t.Errorf("code = %v", resp["code"])
	}

	// The optimistic state was reverted.
	st, err := h.driver.State(kitchen)
	if err != nil {
		t.Fatal(err)
	}
	if st.On {
		t.Error("state should be reverted to off after timeout")
	}
}

func TestSetOutputState_BusDown(t *testing.T) {
	h := newHarness(t, nil)
	h.bus.SetConnected(false)
	waitFor(t, "link down", func() bool { return !h.driver.LinkUp() })

	w := h.do(t, http.MethodPut, "/api/v1/outputs/kitchen/state", `{"on":true}`, auth.RoleOperator)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 (%s)", w.Code, w.Body.String())
	}
}

func TestSetOutputState_Validation(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"invalid json", "/api/v1/outputs/kitchen/state", `{`, http.StatusBadRequest},
		{"missing on", "/api/v1/outputs/kitchen/state", `{"level":10}`, http.StatusBadRequest},
		{"level too high", "/api/v1/outputs/living/state", `{"on":true,"level":101}`, http.StatusBadRequest},
		{"negative level", "/api/v1/outputs/living/state", `{"on":true,"level":-1}`, http.StatusBadRequest},
		{"unknown output", "/api/v1/outputs/garage/state", `{"on":true}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPut, tt.path, tt.body, auth.RoleOperator)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodPost, "/api/v1/outputs/living/refresh", "", auth.RoleOperator)
	if w.Code != http.StatusAccepted {
		t.Fatalf("refresh one status = %d", w.Code)
	}
	if resp := decode(t, w); resp["address"] != "2.3" {
		t.Errorf("resp = %v", resp)
	}

	w = h.do(t, http.MethodPost, "/api/v1/outputs/refresh", "", auth.RoleOperator)
	if w.Code != http.StatusAccepted {
		t.Fatalf("refresh all status = %d", w.Code)
	}
	if resp := decode(t, w); resp["count"] != float64(2) {
		t.Errorf("resp = %v", resp)
	}

	w = h.do(t, http.MethodPost, "/api/v1/outputs/garage/refresh", "", auth.RoleOperator)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown output status = %d", w.Code)
	}
}

// ─── Diagnostics & Metrics ─────────────────────────────────────────

func TestListFrames_Disabled(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/diagnostics/frames", "", auth.RoleAdmin)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestListFrames(t *testing.T) {
	frames := &fakeFrames{frames: []dobiss.UnhandledFrame{
		{Disposition: dobiss.DispositionUnknown, CANID: 0x123, Payload: "01", MessageCount: 3},
	}}
	h := newHarness(t, func(d *Deps) { d.Frames = frames })

	tests := []struct {
		query     string
		want      int
		wantLimit int
	}{
		{"", http.StatusOK, defaultFrameLimit},
		{"?limit=5", http.StatusOK, 5},
		{"?limit=5000", http.StatusOK, maxFrameLimit},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			frames.lastLimit = 0
			w := h.do(t, http.MethodGet, "/api/v1/diagnostics/frames"+tt.query, "", auth.RoleAdmin)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if frames.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", frames.lastLimit, tt.wantLimit)
			}
			if tt.want == http.StatusOK {
				if resp := decode(t, w); resp["count"] != float64(1) {
					t.Errorf("resp = %v", resp)
				}
			}
		})
	}
}

func TestListFrames_Error(t *testing.T) {
	frames := &fakeFrames{err: errors.New("disk I/O error")}
	h := newHarness(t, func(d *Deps) { d.Frames = frames })

	w := h.do(t, http.MethodGet, "/api/v1/diagnostics/frames", "", auth.RoleAdmin)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	provider := &fakeMetrics{metrics: dobiss.BridgeMetrics{Connected: true, Status: "healthy", FramesTx: 7, DevicesManaged: 2}}
	h := newHarness(t, func(d *Deps) { d.Bridge = provider })

	w := h.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Driver.Outputs != 2 {
		t.Errorf("driver outputs = %d", m.Driver.Outputs)
	}
	if m.Bridge == nil || m.Bridge.Status != "healthy" || m.Bridge.FramesTx != 7 {
		t.Errorf("bridge = %+v", m.Bridge)
	}
}

// ─── Server lifecycle ──────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Config.Host, d.Config.Port = "127.0.0.1", 0 })
	srv := h.srv

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q", srv.Addr())
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	addr := "http://" + srv.Addr() + "/api/v1/health"
	var resp *http.Response
	waitFor(t, "listener", func() bool {
		var err error
		resp, err = http.Get(addr) //nolint:noctx // test
		return err == nil
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := http.Get(addr); err == nil { //nolint:noctx // test
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	h := newHarness(t, func(d *Deps) { d.Config.Host, d.Config.Port = "127.0.0.1", port })
	err = h.srv.Start(context.Background())
	if err == nil {
		h.srv.Close()
		t.Fatal("Start() on a bound port should fail")
	}
	if !strings.Contains(err.Error(), "listening on") {
		t.Errorf("Start() error = %v", err)
	}
	if h.srv.HealthCheck(context.Background()) == nil {
		t.Error("HealthCheck() after a failed Start should fail")
	}
}
