package consulmirror

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fleetwatch/sentinel/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMirrorAgainst(t *testing.T, server *httptest.Server) *Mirror {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	m, err := New(u.Host, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestMirror_StatusMapsToTTLEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		status types.Status
		want   string
	}{
		{"healthy passes", types.StatusHealthy, "/v1/agent/check/pass/service:api"},
		{"degraded warns", types.StatusDegraded, "/v1/agent/check/warn/service:api"},
		{"unhealthy fails", types.StatusUnhealthy, "/v1/agent/check/fail/service:api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			m := newMirrorAgainst(t, server)
			m.mirror(&types.StatusChangedPayload{ServiceID: "api", From: types.StatusUnknown, To: tt.status, At: time.Now()})

			if !strings.HasPrefix(gotPath, tt.want) {
				t.Fatalf("expected path prefix %q, got %q", tt.want, gotPath)
			}
		})
	}
}

func TestMirror_UnknownStatusIsNoOp(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := newMirrorAgainst(t, server)
	m.mirror(&types.StatusChangedPayload{ServiceID: "api", From: types.StatusUnknown, To: types.StatusUnknown, At: time.Now()})

	if called {
		t.Fatal("expected no HTTP call for Unknown status transition")
	}
}
