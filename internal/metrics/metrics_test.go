package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	SetPrice("SE3", 0.42, false)
	SetPrice("SE1", 1.1, true)
	IncStart("rig-1")
	IncStart("rig-1")
	IncStop("rig-1")
	IncFailure("rig-1")
	IncDecision("rig-1", "start")
	RecordStateTransition("rig-1", "idle", "starting")
	SetCurrentState("rig-1", "running", true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"voltmine_price_sek_per_kwh":           false,
		"voltmine_price_stale":                 false,
		"voltmine_slot_starts_total":           false,
		"voltmine_slot_stops_total":            false,
		"voltmine_slot_failures_total":         false,
		"voltmine_slot_state_transitions_total": false,
		"voltmine_slot_current_state":          false,
		"voltmine_controller_decisions_total":  false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStart("rig-x")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "voltmine_slot_starts_total") {
		t.Fatal("metrics output missing starts_total")
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	// must not panic
	SetPrice("SE2", 0.5, false)
	IncStart("rig-1")
	IncDecision("rig-1", "hold")
	RecordStateTransition("rig-1", "running", "failed")
	SetCurrentState("rig-1", "failed", true)
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart("c")
			IncStop("c")
			IncFailure("c")
			SetPrice("SE4", 0.3, false)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
