package worker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sternrassler/costaverde-offline/internal/testutil"
)

func TestCacheManager_ServeHTTP(t *testing.T) {
	mgr, origin, _ := startTestManager(t, nil)
	origin.SetResponse("/api/boats", testutil.NewJSONResponse(`[{"id":"b1"}]`))

	tests := []struct {
		name         string
		method       string
		target       string
		body         string
		offline      bool
		wantStatus   int
		wantBody     string
		wantStrategy string
	}{
		{
			name:         "api online",
			method:       http.MethodGet,
			target:       "/api/boats",
			wantStatus:   http.StatusOK,
			wantBody:     `[{"id":"b1"}]`,
			wantStrategy: "api",
		},
		{
			name:         "api offline from cache",
			method:       http.MethodGet,
			target:       "/api/boats",
			offline:      true,
			wantStatus:   http.StatusOK,
			wantBody:     `[{"id":"b1"}]`,
			wantStrategy: "api",
		},
		{
			name:         "offline write",
			method:       http.MethodPost,
			target:       "/api/bookings",
			body:         `{"boat_id":"b1"}`,
			offline:      true,
			wantStatus:   http.StatusServiceUnavailable,
			wantBody:     `{"error":"Offline","cached":true}`,
			wantStrategy: "api",
		},
		{
			name:         "static from cache",
			method:       http.MethodGet,
			target:       "/offline",
			offline:      true,
			wantStatus:   http.StatusOK,
			wantBody:     "<html>/offline</html>",
			wantStrategy: "static",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin.SetOffline(tt.offline)
			defer origin.SetOffline(false)

			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mgr.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("X-Offline-Strategy"); got != tt.wantStrategy {
				t.Errorf("X-Offline-Strategy = %q, want %q", got, tt.wantStrategy)
			}
		})
	}
}

func TestCacheManager_OriginRequest(t *testing.T) {
	mgr, origin, _ := newTestManager(t, nil)

	in := httptest.NewRequest(http.MethodGet, "/api/bookings?userId=u1", nil)
	in.Header.Set("Connection", "keep-alive")
	in.Header.Set("Accept", "application/json")

	out, err := mgr.OriginRequest(in)
	if err != nil {
		t.Fatalf("OriginRequest failed: %v", err)
	}
	if out.URL.String() != origin.URL()+"/api/bookings?userId=u1" {
		t.Errorf("URL = %s", out.URL)
	}
	if out.Header.Get("Connection") != "" {
		t.Error("hop-by-hop header forwarded")
	}
	if out.Header.Get("Accept") != "application/json" {
		t.Error("Accept header not forwarded")
	}
	if out.RequestURI != "" {
		t.Error("outgoing request must not carry RequestURI")
	}
}
