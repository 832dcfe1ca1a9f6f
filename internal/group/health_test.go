package group

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proxyengine/pkg/session"
)

func TestHealthCheckerSnapshotStartsUnreachable(t *testing.T) {
	a := &fakeOutbound{tag: "a"}
	checker := NewHealthChecker([]session.Outbound{a}, "http://example.com", time.Hour)
	snap := checker.Snapshot()
	if l, ok := snap["a"]; ok && l != nil {
		t.Fatal("expected unreachable (nil) before any probe round")
	}
}

func TestHealthCheckerRunRoundRecordsFailureForBrokenOutbound(t *testing.T) {
	a := &fakeOutbound{tag: "a", fail: true}
	checker := NewHealthChecker([]session.Outbound{a}, "http://example.com:1", time.Hour)
	checker.runRound()
	if _, ok := checker.Latency("a"); ok {
		t.Fatal("expected failed connect to leave member unreachable")
	}
}

func TestHealthCheckerStartStopDoesNotHang(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := &fakeOutbound{tag: "a", fail: true}
	checker := NewHealthChecker([]session.Outbound{a}, srv.URL, 10*time.Millisecond)
	checker.Start()
	checker.Stop()
}
