package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"guest-gc/internal/guest"
	"guest-gc/internal/guestgc"
	"guest-gc/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

const testAdminKey = "admin-secret"

type fakeCollector struct {
	mu         sync.Mutex
	partitions []guest.PartitionID
	entities   map[guest.PartitionID][]guest.EntityID
	sweeps     int
	sweeping   bool
	err        error
}

func (f *fakeCollector) TriggerPartitionCleanup(p guest.PartitionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.partitions = append(f.partitions, p)
	return nil
}

func (f *fakeCollector) TriggerEntityCleanup(p guest.PartitionID, ids ...guest.EntityID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if id <= 0 {
			return guestgc.ErrInvalidGuest
		}
	}
	if f.entities == nil {
		f.entities = map[guest.PartitionID][]guest.EntityID{}
	}
	f.entities[p] = append(f.entities[p], ids...)
	return nil
}

func (f *fakeCollector) SweepNow(context.Context) (guest.SweepStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return guest.SweepStats{Schemas: 1}, nil
}

func (f *fakeCollector) Sweeping() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeping
}

func (f *fakeCollector) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeHistory struct {
	run store.SweepRun
	err error
}

func (h fakeHistory) LatestSweep(context.Context, string) (store.SweepRun, error) {
	return h.run, h.err
}

func newTestRouter(c Collector, h SweepHistory) http.Handler {
	return NewRouter(RouterDeps{
		DB:          fakePinger{},
		Collector:   c,
		History:     h,
		Gatherer:    prometheus.NewRegistry(),
		AdminAPIKey: testAdminKey,
	})
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAdminKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestHealthz(t *testing.T) {
	r := NewRouter(RouterDeps{DB: fakePinger{}, Collector: &fakeCollector{}, Gatherer: prometheus.NewRegistry()})
	if rec := doRequest(t, r, http.MethodGet, "/healthz", "", false); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}

	down := NewRouter(RouterDeps{DB: fakePinger{err: errors.New("refused")}, Collector: &fakeCollector{}, Gatherer: prometheus.NewRegistry()})
	if rec := doRequest(t, down, http.MethodGet, "/healthz", "", false); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz status with db down = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	guestgc.NewMetrics(reg).TasksSubmitted.Inc()
	r := NewRouter(RouterDeps{DB: fakePinger{}, Collector: &fakeCollector{}, Gatherer: reg})

	rec := doRequest(t, r, http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "guestgc_tasks_submitted_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestAdminRequiresKey(t *testing.T) {
	r := newTestRouter(&fakeCollector{}, nil)
	rec := doRequest(t, r, http.MethodPost, "/admin/partitions/1/cleanup", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminRoutesAbsentWithoutKey(t *testing.T) {
	r := NewRouter(RouterDeps{DB: fakePinger{}, Collector: &fakeCollector{}, Gatherer: prometheus.NewRegistry()})
	rec := doRequest(t, r, http.MethodPost, "/admin/sweep", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPartitionCleanup(t *testing.T) {
	c := &fakeCollector{}
	r := newTestRouter(c, nil)

	rec := doRequest(t, r, http.MethodPost, "/admin/partitions/12/cleanup", "", true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(c.partitions) != 1 || c.partitions[0] != 12 {
		t.Fatalf("triggered partitions = %v, want [12]", c.partitions)
	}

	for _, bad := range []string{"0", "-3", "abc"} {
		rec := doRequest(t, r, http.MethodPost, "/admin/partitions/"+bad+"/cleanup", "", true)
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_partition_id" {
			t.Fatalf("partition %q: status = %d body = %s", bad, rec.Code, rec.Body.String())
		}
	}
}

func TestPartitionCleanupAfterStop(t *testing.T) {
	r := newTestRouter(&fakeCollector{err: guestgc.ErrStopped}, nil)
	rec := doRequest(t, r, http.MethodPost, "/admin/partitions/1/cleanup", "", true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestGuestCleanup(t *testing.T) {
	c := &fakeCollector{}
	r := newTestRouter(c, nil)

	rec := doRequest(t, r, http.MethodPost, "/admin/partitions/3/guests/cleanup", `{"guest_ids":[4,5]}`, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rec.Code, rec.Body.String())
	}
	if got := c.entities[3]; len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("triggered guests = %v, want [4 5]", got)
	}

	cases := []struct {
		body string
		code string
	}{
		{`{`, "invalid_json"},
		{`{"guest_ids":[]}`, "guest_ids_required"},
		{`{"guest_ids":[1,0]}`, "invalid_guest_id"},
	}
	for _, tc := range cases {
		rec := doRequest(t, r, http.MethodPost, "/admin/partitions/3/guests/cleanup", tc.body, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", tc.body, rec.Code)
		}
		if got := errorCode(t, rec); got != tc.code {
			t.Fatalf("body %s: error = %q, want %q", tc.body, got, tc.code)
		}
	}
}

func TestSweepStartsInBackground(t *testing.T) {
	c := &fakeCollector{}
	r := newTestRouter(c, nil)

	rec := doRequest(t, r, http.MethodPost, "/admin/sweep", "", true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	deadline := time.Now().Add(5 * time.Second)
	for c.sweepCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweepConflictWhileRunning(t *testing.T) {
	c := &fakeCollector{sweeping: true}
	r := newTestRouter(c, nil)

	rec := doRequest(t, r, http.MethodPost, "/admin/sweep", "", true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if c.sweepCount() != 0 {
		t.Fatal("sweep started while one was running")
	}
}

func TestLatestSweep(t *testing.T) {
	slot := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h := fakeHistory{run: store.SweepRun{Job: guestgc.SweepJob, Slot: slot, Owner: "node-a", Stats: guest.SweepStats{Schemas: 3}}}
	r := newTestRouter(&fakeCollector{}, h)

	rec := doRequest(t, r, http.MethodGet, "/admin/sweeps/latest", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Owner   string `json:"owner"`
		Schemas int    `json:"schemas"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Owner != "node-a" || body.Schemas != 3 {
		t.Fatalf("body = %+v", body)
	}

	empty := newTestRouter(&fakeCollector{}, fakeHistory{err: guest.ErrNotFound})
	if rec := doRequest(t, empty, http.MethodGet, "/admin/sweeps/latest", "", true); rec.Code != http.StatusNotFound {
		t.Fatalf("status without history = %d, want 404", rec.Code)
	}
}

func TestCheckAdminAuth(t *testing.T) {
	cases := []struct {
		name   string
		header string
		value  string
		want   bool
	}{
		{"header", "X-Admin-Key", testAdminKey, true},
		{"bearer", "Authorization", "Bearer " + testAdminKey, true},
		{"wrong", "X-Admin-Key", "nope", false},
		{"basic", "Authorization", testAdminKey, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(tc.header, tc.value)
			if got := CheckAdminAuth(req, testAdminKey); got != tc.want {
				t.Fatalf("CheckAdminAuth() = %v, want %v", got, tc.want)
			}
		})
	}
}
