package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kalambet/prefd/internal/persistent"
)

var _ persistent.Observer = (*Metrics)(nil)

func TestCountsFollowStoreActivity(t *testing.T) {
	m := New()
	r := persistent.NewRegistry(persistent.RolePrimary, persistent.WithObserver(m))
	h := r.MustRegister(persistent.Descriptor{
		Name: "settings",
		Keys: []persistent.Key{{Name: "theme", Kind: persistent.KindString, Default: "system"}},
	})
	if err := r.Init(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s := r.Store(h)
	ctx := context.Background()

	if err := s.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if got := testutil.ToFloat64(m.Reconciliations.WithLabelValues("settings", "created")); got != 1 {
		t.Errorf("reconciliations{created} = %v, want 1", got)
	}
	// One write at creation, one for the change.
	if got := testutil.ToFloat64(m.Writes.WithLabelValues("settings")); got != 2 {
		t.Errorf("writes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Broadcasts.WithLabelValues("settings")); got != 1 {
		t.Errorf("broadcasts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SkippedSets.WithLabelValues("settings")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
}

func TestRemoteCallResults(t *testing.T) {
	m := New()
	m.RemoteCalled("settings", nil)
	m.RemoteCalled("settings", errors.New("boom"))
	m.RemoteCalled("settings", errors.New("boom"))

	if got := testutil.ToFloat64(m.RemoteCalls.WithLabelValues("settings", "ok")); got != 1 {
		t.Errorf("remote_calls{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RemoteCalls.WithLabelValues("settings", "error")); got != 2 {
		t.Errorf("remote_calls{error} = %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Persisted("session", nil)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `prefd_store_writes_total{store="session"} 1`) {
		t.Errorf("metrics output missing writes counter:\n%s", rr.Body.String())
	}
}
