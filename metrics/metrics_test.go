package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCycleFinished(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CycleFinished(time.Second, nil)
	m.CycleFinished(time.Second, nil)
	m.CycleFinished(time.Second, errors.New("list failed"))

	if got := testutil.ToFloat64(m.cycles.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("error")); got != 1 {
		t.Errorf("error cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lastCycle); got == 0 {
		t.Error("last cycle timestamp not set")
	}
}

func TestUserProcessed(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.UserProcessed("skipped", "wrong_day", time.Millisecond)
	m.UserProcessed("skipped", "wrong_day", time.Millisecond)
	m.UserProcessed("delivered", "", 2*time.Second)

	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("skipped", "wrong_day")); got != 2 {
		t.Errorf("skipped/wrong_day = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("delivered", "")); got != 1 {
		t.Errorf("delivered = %v, want 1", got)
	}
}

func TestHTTPRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.HTTPRequest("/api/cron/send-emails", 401)
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/cron/send-emails", "401")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}
