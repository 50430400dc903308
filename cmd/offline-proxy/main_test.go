package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/costaverde-offline/internal/config"
	"github.com/Sternrassler/costaverde-offline/internal/testutil"
	"github.com/Sternrassler/costaverde-offline/pkg/notify"
	"github.com/Sternrassler/costaverde-offline/pkg/queue"
	"github.com/Sternrassler/costaverde-offline/pkg/replay"
	"github.com/Sternrassler/costaverde-offline/pkg/worker"
)

const bookingBody = `{"boat_id":"b1","start_date":"2024-06-01","end_date":"2024-06-03","guests":4}`

type testProxy struct {
	app    *app
	origin *testutil.MockOrigin
	server *httptest.Server
	client *http.Client
}

func testConfig(origin string) config.Proxy {
	return config.Proxy{
		Port:               "0",
		OriginURL:          origin,
		CacheBackend:       config.BackendMemory,
		CacheVersion:       "v1",
		FetchTimeout:       5 * time.Second,
		FailureThreshold:   1,
		ReplayConcurrency:  2,
		NotificationsLimit: 10,
		ShutdownTimeout:    time.Second,
	}
}

func newTestProxy(t *testing.T) *testProxy {
	t.Helper()

	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	cfg := testConfig(origin.URL())
	ctx := context.Background()
	b, err := openBackends(ctx, cfg)
	if err != nil {
		t.Fatalf("openBackends failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	a, err := newApp(ctx, cfg, b, origin.Fetcher())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Routes())
	t.Cleanup(srv.Close)

	origin.Reset()
	return &testProxy{
		app:    a,
		origin: origin,
		server: srv,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *testProxy) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, p.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(data)
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	p := newTestProxy(t)

	resp, body := p.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	health := decode[map[string]any](t, body)
	if health["cache"] != worker.StateActive.String() {
		t.Errorf("cache state = %v, want active", health["cache"])
	}
	if health["online"] != true {
		t.Errorf("online = %v", health["online"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	p := newTestProxy(t)

	p.do(t, http.MethodGet, "/manifest.json", "")
	resp, body := p.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "offline_requests_total") {
		t.Error("metrics output misses offline_requests_total")
	}
}

func TestProxy_ServesThroughCacheManager(t *testing.T) {
	p := newTestProxy(t)

	resp, body := p.do(t, http.MethodGet, "/manifest.json", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Offline-Strategy"); got != string(worker.StrategyStatic) {
		t.Errorf("X-Offline-Strategy = %q, want static", got)
	}
	if !strings.Contains(body, "Costa Verde") {
		t.Errorf("body = %s", body)
	}
	if n := p.origin.RequestCount("/manifest.json"); n != 0 {
		t.Errorf("pre-cached asset hit the origin %d times", n)
	}

	// Unknown methods on proxy-owned paths still reach the origin
	resp, _ = p.do(t, http.MethodGet, "/sync/sync-bookings", "")
	if got := resp.Header.Get("X-Offline-Strategy"); got == "" {
		t.Error("GET /sync/... should be passed to the cache manager")
	}
}

func TestProxy_OfflineBookingIsReplayed(t *testing.T) {
	p := newTestProxy(t)
	p.origin.SetOffline(true)

	resp, body := p.do(t, http.MethodPost, "/queue/u1/bookings", bookingBody)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue status = %d (%s)", resp.StatusCode, body)
	}
	write := decode[queue.Write](t, body)
	if !queue.IsLocal(write.ID) || write.UserID != "u1" {
		t.Fatalf("write = %+v", write)
	}

	_, body = p.do(t, http.MethodGet, "/status/u1", "")
	if status := decode[replay.SyncStatus](t, body); status.Pending != 1 {
		t.Fatalf("status = %+v, want 1 pending", status)
	}

	p.origin.SetOffline(false)
	resp, body = p.do(t, http.MethodPost, "/sync/sync-bookings?force=true", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d (%s)", resp.StatusCode, body)
	}
	if res := decode[replay.Result](t, body); res.Synced != 1 {
		t.Fatalf("result = %+v, want 1 synced", res)
	}

	_, body = p.do(t, http.MethodGet, "/queue/u1/bookings", "")
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("queue after sync = %s", body)
	}

	requests := p.origin.Requests()
	if len(requests) != 1 || requests[0].Path != queue.BookingsPath {
		t.Fatalf("origin requests = %+v", requests)
	}
	if got := requests[0].Header.Get(worker.IdempotencyKeyHeader); got != write.IdempotencyKey {
		t.Errorf("Idempotency-Key = %q, want %q", got, write.IdempotencyKey)
	}
}

func TestProxy_QueueEndpoints(t *testing.T) {
	p := newTestProxy(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"invalid json", http.MethodPost, "/queue/u1/bookings", `{"boat_id":`, http.StatusBadRequest},
		{"invalid booking", http.MethodPost, "/queue/u1/bookings", `{"boat_id":"b1","start_date":"2024-06-03","end_date":"2024-06-01"}`, http.StatusUnprocessableEntity},
		{"favorite without boat", http.MethodPost, "/queue/u1/favorites", `{}`, http.StatusUnprocessableEntity},
		{"add favorite", http.MethodPost, "/queue/u1/favorites", `{"boat_id":"b2"}`, http.StatusAccepted},
		{"remove favorite", http.MethodPost, "/queue/u1/favorites", `{"boat_id":"b2","remove":true}`, http.StatusAccepted},
		{"cancel unknown", http.MethodDelete, "/queue/u1/bookings/offline_1", "", http.StatusNotFound},
		{"unknown tag", http.MethodPost, "/sync/sync-other", "", http.StatusNotFound},
		{"unknown tag forced", http.MethodPost, "/sync/sync-other?force=true", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := p.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}

	_, body := p.do(t, http.MethodGet, "/queue/u1/favorites", "")
	favorites := decode[[]queue.Write](t, body)
	if len(favorites) != 2 || favorites[1].Method != http.MethodDelete {
		t.Errorf("favorites = %+v", favorites)
	}
}

func TestProxy_CancelBooking(t *testing.T) {
	p := newTestProxy(t)

	_, body := p.do(t, http.MethodPost, "/queue/u1/bookings", bookingBody)
	write := decode[queue.Write](t, body)

	resp, _ := p.do(t, http.MethodDelete, "/queue/u1/bookings/"+write.ID, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	_, body = p.do(t, http.MethodGet, "/queue/u1/bookings", "")
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("cancelled booking still listed: %s", body)
	}

	_, body = p.do(t, http.MethodPost, "/sync/all?force=true", "")
	results := decode[[]replay.Result](t, body)
	if len(results) != 2 || results[0].Attempted != 0 {
		t.Errorf("results = %+v", results)
	}
	if n := p.origin.TotalRequests(); n != 0 {
		t.Errorf("cancelled booking reached the origin (%d requests)", n)
	}
}

func TestProxy_CapturedWriteReplayedOnReconnect(t *testing.T) {
	p := newTestProxy(t)
	p.origin.SetOffline(true)

	resp, body := p.do(t, http.MethodPost, "/api/favorites", `{"boat_id":"b1","user_id":"u1"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("offline write status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"Offline"`) {
		t.Errorf("body = %s", body)
	}
	if p.app.monitor.Online() {
		t.Fatal("monitor should have noticed the origin is unreachable")
	}

	_, body = p.do(t, http.MethodGet, "/status/u1", "")
	status := decode[replay.SyncStatus](t, body)
	if status.Online || status.Captured != 1 {
		t.Fatalf("status = %+v", status)
	}

	// The first successful request flips the monitor online, which
	// replays every family in the background.
	p.origin.SetOffline(false)
	p.do(t, http.MethodGet, "/api/boats", "")
	p.app.monitor.Wait()

	if n := p.origin.RequestCount("/api/favorites"); n != 1 {
		t.Fatalf("favorite reached the origin %d times, want 1", n)
	}
	_, body = p.do(t, http.MethodGet, "/status/u1", "")
	if status := decode[replay.SyncStatus](t, body); !status.Online || status.Captured != 0 {
		t.Errorf("status after reconnect = %+v", status)
	}
}

func TestProxy_Notifications(t *testing.T) {
	p := newTestProxy(t)

	resp, _ := p.do(t, http.MethodPost, "/push", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("empty push status = %d", resp.StatusCode)
	}

	resp, body := p.do(t, http.MethodPost, "/push", `{"title":"Reserva confirmada","description":"Veleiro Aurora","url":"/bookings/42"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("push status = %d (%s)", resp.StatusCode, body)
	}
	n := decode[notify.Notification](t, body)
	if n.Title != "Reserva confirmada" || n.Data != "/bookings/42" {
		t.Fatalf("notification = %+v", n)
	}

	_, body = p.do(t, http.MethodGet, "/notifications", "")
	if list := decode[[]notify.Notification](t, body); len(list) != 1 {
		t.Fatalf("notifications = %+v", list)
	}

	resp, _ = p.do(t, http.MethodPost, "/notifications/"+n.ID+"/click?action="+notify.ActionView, "")
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("click status = %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/bookings/42" {
		t.Errorf("Location = %q", loc)
	}

	_, body = p.do(t, http.MethodGet, "/notifications", "")
	if list := decode[[]notify.Notification](t, body); len(list) != 0 {
		t.Errorf("clicked notification still open: %+v", list)
	}

	resp, _ = p.do(t, http.MethodPost, "/notifications/"+n.ID+"/click", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second click status = %d, want 404", resp.StatusCode)
	}
}

func TestProxy_InstallRetriedOnReconnect(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetOffline(true)

	cfg := testConfig(origin.URL())
	ctx := context.Background()
	b, err := openBackends(ctx, cfg)
	if err != nil {
		t.Fatalf("openBackends failed: %v", err)
	}
	a, err := newApp(ctx, cfg, b, origin.Fetcher())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()

	if a.manager.State() != worker.StateNew {
		t.Fatalf("State() = %s, want new", a.manager.State())
	}

	origin.SetOffline(false)
	a.monitor.SetOnline(true)
	a.monitor.Wait()
	if a.manager.State() != worker.StateActive {
		t.Errorf("State() = %s, want active after reconnect", a.manager.State())
	}
}
