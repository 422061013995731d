package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hallqvist/voltmine/internal/pricefeed"
	"github.com/hallqvist/voltmine/internal/supervisor"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "voltmine.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestPriceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second).UTC()

	for i, v := range []float64{0.5, 0.7, 0.9} {
		p := pricefeed.Sample{Zone: pricefeed.SE3, Value: v, ObservedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.RecordPrice(ctx, p); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := s.RecordPrice(ctx, pricefeed.Sample{Zone: pricefeed.SE1, Value: 1.1, ObservedAt: base, Stale: true}); err != nil {
		t.Fatalf("record other zone: %v", err)
	}

	got, err := s.RecentPrices(ctx, pricefeed.SE3, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Value != 0.9 || got[1].Value != 0.7 {
		t.Fatalf("order wrong: %+v", got)
	}

	se1, err := s.RecentPrices(ctx, pricefeed.SE1, 10)
	if err != nil || len(se1) != 1 || !se1[0].Stale {
		t.Fatalf("SE1 samples = %+v, %v", se1, err)
	}
}

func TestTransitionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second).UTC()

	events := []supervisor.Transition{
		{Slot: "rig-1", From: supervisor.StateIdle, To: supervisor.StateStarting, At: base},
		{Slot: "rig-1", From: supervisor.StateStarting, To: supervisor.StateRunning, PID: 42, At: base.Add(time.Second)},
		{Slot: "rig-2", From: supervisor.StateRunning, To: supervisor.StateFailed, ExitCode: 3, Err: "exited unexpectedly with code 3", At: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := s.RecordTransition(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rig1, err := s.RecentTransitions(ctx, "rig-1", 10)
	if err != nil {
		t.Fatalf("recent rig-1: %v", err)
	}
	if len(rig1) != 2 || rig1[0].To != supervisor.StateRunning || rig1[0].PID != 42 {
		t.Fatalf("rig-1 events = %+v", rig1)
	}

	all, err := s.RecentTransitions(ctx, "", 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("all events = %+v, %v", all, err)
	}
	if all[0].Slot != "rig-2" || all[0].ExitCode != 3 {
		t.Fatalf("newest event = %+v", all[0])
	}
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("open in-memory: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
}
