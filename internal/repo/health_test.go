package repo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPHealthProbe(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/health" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	probe := NewHTTPHealthProbe(srv.URL+"/health", time.Second)
	if err := probe.Check(context.Background()); err != nil {
		t.Fatalf("expected healthy target, got %v", err)
	}

	status = http.StatusServiceUnavailable
	if err := probe.Check(context.Background()); err == nil {
		t.Fatalf("expected error for 503")
	}

	status = http.StatusNoContent
	if err := probe.Check(context.Background()); err == nil {
		t.Fatalf("only 200 counts as alive")
	}
}

func TestHTTPHealthProbeUnreachable(t *testing.T) {
	probe := NewHTTPHealthProbe("http://target.invalid/health", time.Second)
	probe.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	}))
	if err := probe.Check(context.Background()); err == nil {
		t.Fatalf("expected error when target is unreachable")
	}
}
