package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-dobiss/internal/audit"
	"github.com/nerrad567/gray-logic-dobiss/internal/auth"
	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
)

// fakeAudit implements AuditLog in memory.
type fakeAudit struct {
	mu         sync.Mutex
	entries    []audit.Entry
	createErr  error
	listErr    error
	lastFilter audit.Filter
}

func (f *fakeAudit) Create(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &audit.ListResult{Entries: f.entries, Total: len(f.entries), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (f *fakeAudit) recorded() []audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Entry(nil), f.entries...)
}

// waitEntries waits for n entries to be written and returns them.
func (f *fakeAudit) waitEntries(t *testing.T, n int) []audit.Entry {
	t.Helper()
	waitFor(t, "audit entries", func() bool { return len(f.recorded()) >= n })
	entries := f.recorded()
	if len(entries) != n {
		t.Fatalf("recorded %d entries, want %d: %+v", len(entries), n, entries)
	}
	return entries
}

// only waits for the single recorded entry.
func (f *fakeAudit) only(t *testing.T) audit.Entry {
	t.Helper()
	return f.waitEntries(t, 1)[0]
}

func TestAudit_SetStateAccepted(t *testing.T) {
	log := &fakeAudit{}
	h := newHarness(t, func(d *Deps) { d.Audit = log })

	w := h.do(t, http.MethodPut, "/api/v1/outputs/kitchen/state", `{"on":true}`, auth.RoleOperator)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}

	e := log.only(t)
	if e.Action != audit.ActionSetState || e.Outcome != audit.OutcomeAccepted {
		t.Errorf("entry = %+v", e)
	}
	if e.Subject != "tester" || e.Source != "api" || e.DeviceID != "kitchen" || e.Address != "1.0" {
		t.Errorf("entry = %+v", e)
	}
	if e.Details["on"] != true || e.Details["command_id"] == "" || e.Details["request_id"] == nil {
		t.Errorf("details = %v", e.Details)
	}
}

func TestAudit_SetStateConfirmed(t *testing.T) {
	log := &fakeAudit{}
	h := newHarness(t, func(d *Deps) { d.Audit = log })

	w := h.do(t, http.MethodPut, "/api/v1/outputs/living/state", `{"on":true,"level":40,"wait":true}`, auth.RoleOperator)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}

	e := log.only(t)
	if e.Outcome != audit.OutcomeConfirmed || e.Address != "2.3" {
		t.Errorf("entry = %+v", e)
	}
	if e.Details["level"] != 40 || e.Details["attempts"] != 1 {
		t.Errorf("details = %v", e.Details)
	}
}

func TestAudit_SetStateFailed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *apiHarness)
		body  string
	}{
		{
			name:  "timeout",
			setup: func(_ *testing.T, h *apiHarness) { h.bus.SetMuted(kitchen, true) },
			body:  `{"on":true,"wait":true}`,
		},
		{
			name: "bus down",
			setup: func(t *testing.T, h *apiHarness) {
				h.bus.SetConnected(false)
				waitFor(t, "link down", func() bool { return !h.driver.LinkUp() })
			},
			body: `{"on":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &fakeAudit{}
			h := newHarness(t, func(d *Deps) { d.Audit = log })
			tt.setup(t, h)

			w := h.do(t, http.MethodPut, "/api/v1/outputs/kitchen/state", tt.body, auth.RoleOperator)
			if w.Code < http.StatusInternalServerError {
				t.Fatalf("status = %d, want an error", w.Code)
			}

			e := log.only(t)
			if e.Outcome != audit.OutcomeFailed || e.Details["error"] == nil {
				t.Errorf("entry = %+v", e)
			}
		})
	}
}

func TestAudit_ValidationNotRecorded(t *testing.T) {
	log := &fakeAudit{}
	h := newHarness(t, func(d *Deps) { d.Audit = log })

	h.do(t, http.MethodPut, "/api/v1/outputs/kitchen/state", `{"level":10}`, auth.RoleOperator)
	h.do(t, http.MethodPut, "/api/v1/outputs/garage/state", `{"on":true}`, auth.RoleOperator)
	h.do(t, http.MethodPost, "/api/v1/outputs/living/refresh", "", auth.RoleOperator)

	// Entries are written in order, so the refresh is the only one.
	if e := log.only(t); e.Action != audit.ActionRefresh {
		t.Errorf("entry = %+v, want the refresh only", e)
	}
}

func TestAudit_Refresh(t *testing.T) {
	log := &fakeAudit{}
	h := newHarness(t, func(d *Deps) { d.Audit = log })

	h.do(t, http.MethodPost, "/api/v1/outputs/living/refresh", "", auth.RoleOperator)
	h.do(t, http.MethodPost, "/api/v1/outputs/refresh", "", auth.RoleAdmin)

	entries := log.waitEntries(t, 2)
	one, all := entries[0], entries[1]
	if one.Action != audit.ActionRefresh || one.Outcome != audit.OutcomeQueued || one.DeviceID != "living" {
		t.Errorf("refresh entry = %+v", one)
	}
	if all.Action != audit.ActionRefreshAll || all.DeviceID != "" || all.Address != "" {
		t.Errorf("refresh all entry = %+v", all)
	}
}

func TestAudit_WriteFailureIgnored(t *testing.T) {
	log := &fakeAudit{createErr: errors.New("database is locked")}
	h := newHarness(t, func(d *Deps) { d.Audit = log })

	w := h.do(t, http.MethodPut, "/api/v1/outputs/kitchen/state", `{"on":true}`, auth.RoleOperator)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}

func TestAudit_ChannelFullDrops(t *testing.T) {
	log := &fakeAudit{}
	deps := testDeps(&dobiss.Driver{})
	deps.Audit = log
	srv, err := New(deps)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing drains the channel, so entries past its capacity are dropped
	// without blocking.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/outputs/refresh", nil)
	for range auditChanSize + 10 {
		srv.recordAudit(req, audit.ActionRefreshAll, audit.OutcomeQueued, nil, nil)
	}
	if len(srv.auditCh) != auditChanSize {
		t.Errorf("queued = %d, want %d", len(srv.auditCh), auditChanSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.drainAuditLog(ctx)
	if n := len(log.recorded()); n != auditChanSize {
		t.Errorf("flushed = %d, want %d", n, auditChanSize)
	}
}

func TestListAudit_Disabled(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/audit", "", auth.RoleAdmin)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestListAudit(t *testing.T) {
	log := &fakeAudit{entries: []audit.Entry{
		{ID: "aud-1", Action: audit.ActionRefreshAll, Source: "api", Outcome: audit.OutcomeQueued},
	}}
	h := newHarness(t, func(d *Deps) { d.Audit = log })

	tests := []struct {
		name       string
		query      string
		role       auth.Role
		want       int
		wantFilter audit.Filter
	}{
		{"no filter", "", auth.RoleAdmin, http.StatusOK, audit.Filter{}},
		{"filters", "?action=set_state&device_id=kitchen&subject=ha&limit=10&offset=20", auth.RoleAdmin, http.StatusOK,
			audit.Filter{Action: "set_state", DeviceID: "kitchen", Subject: "ha", Limit: 10, Offset: 20}},
		{"bad limit", "?limit=x", auth.RoleAdmin, http.StatusBadRequest, audit.Filter{}},
		{"negative offset", "?offset=-1", auth.RoleAdmin, http.StatusBadRequest, audit.Filter{}},
		{"operator forbidden", "", auth.RoleOperator, http.StatusForbidden, audit.Filter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log.lastFilter = audit.Filter{}
			w := h.do(t, http.MethodGet, "/api/v1/audit"+tt.query, "", tt.role)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if log.lastFilter != tt.wantFilter {
				t.Errorf("filter = %+v, want %+v", log.lastFilter, tt.wantFilter)
			}
			if tt.want == http.StatusOK {
				if resp := decode(t, w); resp["total"] != float64(1) {
					t.Errorf("resp = %v", resp)
				}
			}
		})
	}
}

func TestListAudit_Error(t *testing.T) {
	log := &fakeAudit{listErr: errors.New("disk I/O error")}
	h := newHarness(t, func(d *Deps) { d.Audit = log })

	w := h.do(t, http.MethodGet, "/api/v1/audit", "", auth.RoleAdmin)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
