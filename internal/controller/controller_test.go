package controller

import (
	"testing"
	"time"

	"github.com/hallqvist/voltmine/internal/miner"
	"github.com/hallqvist/voltmine/internal/pricefeed"
	"github.com/hallqvist/voltmine/internal/supervisor"
)

// fakeRunner applies intents instantly so decision sequences can be tested
// without spawning processes.
type fakeRunner struct {
	cfg     miner.Config
	state   supervisor.State
	intents []supervisor.IntentType
}

func (f *fakeRunner) Config() miner.Config { return f.cfg }

func (f *fakeRunner) State() supervisor.State { return f.state }

func (f *fakeRunner) Status() supervisor.SlotStatus {
	return supervisor.SlotStatus{Name: f.cfg.Name, State: f.state}
}

func (f *fakeRunner) Send(t supervisor.IntentType) error {
	f.intents = append(f.intents, t)
	switch t {
	case supervisor.IntentStart:
		f.state = supervisor.StateRunning
	case supervisor.IntentStop:
		f.state = supervisor.StateIdle
	}
	return nil
}

func newTestController(t *testing.T, cfg Config, threshold, hysteresis float64) (*Controller, *fakeRunner) {
	t.Helper()
	r := &fakeRunner{
		cfg: miner.Config{
			Name:       "rig-1",
			Program:    miner.GMiner,
			ExecPath:   "/usr/bin/gminer",
			Pool:       "pool",
			Zone:       pricefeed.SE3,
			Threshold:  threshold,
			Hysteresis: hysteresis,
		},
		state: supervisor.StateIdle,
	}
	c := New(pricefeed.NewCache(), cfg)
	if err := c.Attach(r); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return c, r
}

func sample(zone pricefeed.Zone, v float64) pricefeed.Sample {
	return pricefeed.Sample{Zone: zone, Value: v, ObservedAt: time.Now()}
}

func staleSample(zone pricefeed.Zone, v float64) pricefeed.Sample {
	return pricefeed.Sample{Zone: zone, Value: v, ObservedAt: time.Now(), Stale: true}
}

func TestPriceSequence(t *testing.T) {
	// T=1.00, H=0.05: start below 1.00, stop above 1.05, re-arm below 0.95
	c, r := newTestController(t, Config{}, 1.00, 0.05)

	for _, p := range []float64{1.20, 1.05} {
		c.Evaluate(sample(pricefeed.SE3, p))
	}
	if len(r.intents) != 0 {
		t.Fatalf("no intents expected above threshold, got %v", r.intents)
	}

	c.Evaluate(sample(pricefeed.SE3, 0.95))
	if len(r.intents) != 1 || r.intents[0] != supervisor.IntentStart {
		t.Fatalf("expected start at 0.95, got %v", r.intents)
	}

	c.Evaluate(sample(pricefeed.SE3, 1.10))
	if len(r.intents) != 2 || r.intents[1] != supervisor.IntentStop {
		t.Fatalf("expected stop at 1.10 (above 1.05), got %v", r.intents)
	}

	// not re-armed: 1.30 and even 0.97 (>= 0.95) must not start
	c.Evaluate(sample(pricefeed.SE3, 1.30))
	c.Evaluate(sample(pricefeed.SE3, 0.97))
	if len(r.intents) != 2 {
		t.Fatalf("slot must stay disarmed until price < 0.95, got %v", r.intents)
	}

	// below T-H re-arms and starts in the same evaluation
	c.Evaluate(sample(pricefeed.SE3, 0.90))
	if len(r.intents) != 3 || r.intents[2] != supervisor.IntentStart {
		t.Fatalf("expected start after re-arm at 0.90, got %v", r.intents)
	}
}

func TestEqualityNeverStarts(t *testing.T) {
	c, r := newTestController(t, Config{}, 1.00, 0.05)
	c.Evaluate(sample(pricefeed.SE3, 1.00))
	if len(r.intents) != 0 {
		t.Fatalf("price == threshold must not start, got %v", r.intents)
	}
}

func TestStaleHoldPolicy(t *testing.T) {
	c, r := newTestController(t, Config{StalePolicy: StaleHold}, 1.00, 0)

	// never start on stale data, however cheap it claims to be
	c.Evaluate(staleSample(pricefeed.SE3, 0.01))
	if len(r.intents) != 0 {
		t.Fatalf("stale sample started a miner: %v", r.intents)
	}

	// never stop a running miner purely for staleness
	r.state = supervisor.StateRunning
	c.Evaluate(staleSample(pricefeed.SE3, 9.99))
	if len(r.intents) != 0 {
		t.Fatalf("stale sample stopped a miner: %v", r.intents)
	}
}

func TestStaleStopPolicy(t *testing.T) {
	c, r := newTestController(t, Config{StalePolicy: StaleStop}, 1.00, 0)
	r.state = supervisor.StateRunning
	c.Evaluate(staleSample(pricefeed.SE3, 0.5))
	if len(r.intents) != 1 || r.intents[0] != supervisor.IntentStop {
		t.Fatalf("stale stop policy should stop running miner, got %v", r.intents)
	}
	// still no starts on stale data
	r.intents = nil
	r.state = supervisor.StateIdle
	c.Evaluate(staleSample(pricefeed.SE3, 0.01))
	if len(r.intents) != 0 {
		t.Fatalf("stale sample started a miner: %v", r.intents)
	}
}

func TestFailedCooldown(t *testing.T) {
	c, r := newTestController(t, Config{Cooldown: 5 * time.Minute}, 1.00, 0)
	r.state = supervisor.StateFailed

	c.OnTransition(supervisor.Transition{
		Slot: "rig-1", From: supervisor.StateRunning, To: supervisor.StateFailed, At: time.Now(),
	})
	c.Evaluate(sample(pricefeed.SE3, 0.50))
	if len(r.intents) != 0 {
		t.Fatalf("start during cooldown: %v", r.intents)
	}

	c.OnTransition(supervisor.Transition{
		Slot: "rig-1", From: supervisor.StateRunning, To: supervisor.StateFailed,
		At: time.Now().Add(-10 * time.Minute),
	})
	c.Evaluate(sample(pricefeed.SE3, 0.50))
	if len(r.intents) != 1 || r.intents[0] != supervisor.IntentStart {
		t.Fatalf("expected restart after cooldown, got %v", r.intents)
	}
}

func TestManualModes(t *testing.T) {
	c, r := newTestController(t, Config{}, 1.00, 0.05)

	if err := c.SetMode("rig-1", ModeManualOn); err != nil {
		t.Fatalf("manual on: %v", err)
	}
	if len(r.intents) != 1 || r.intents[0] != supervisor.IntentStart {
		t.Fatalf("manual on should emit one start, got %v", r.intents)
	}

	// automatic evaluation is suppressed while overridden
	c.Evaluate(sample(pricefeed.SE3, 9.99))
	if len(r.intents) != 1 {
		t.Fatalf("evaluation ran under manual mode: %v", r.intents)
	}

	if err := c.SetMode("rig-1", ModeManualOff); err != nil {
		t.Fatalf("manual off: %v", err)
	}
	if len(r.intents) != 2 || r.intents[1] != supervisor.IntentStop {
		t.Fatalf("manual off should emit one stop, got %v", r.intents)
	}

	// back to automatic resumes evaluation without an immediate intent
	if err := c.SetMode("rig-1", ModeAutomatic); err != nil {
		t.Fatalf("automatic: %v", err)
	}
	if len(r.intents) != 2 {
		t.Fatalf("automatic emitted an intent: %v", r.intents)
	}
	c.Evaluate(sample(pricefeed.SE3, 0.50))
	if len(r.intents) != 3 || r.intents[2] != supervisor.IntentStart {
		t.Fatalf("expected start after returning to automatic, got %v", r.intents)
	}

	if err := c.SetMode("ghost", ModeAutomatic); err == nil {
		t.Fatal("unknown slot accepted")
	}
}

func TestNoIntentWhileTransitionInFlight(t *testing.T) {
	c, r := newTestController(t, Config{}, 1.00, 0)
	r.state = supervisor.StateStarting
	c.Evaluate(sample(pricefeed.SE3, 0.10))
	r.state = supervisor.StateStopping
	c.Evaluate(sample(pricefeed.SE3, 0.10))
	if len(r.intents) != 0 {
		t.Fatalf("intents emitted while in flight: %v", r.intents)
	}
}

func TestZoneFilter(t *testing.T) {
	c, r := newTestController(t, Config{}, 1.00, 0)
	c.Evaluate(sample(pricefeed.SE1, 0.10))
	if len(r.intents) != 0 {
		t.Fatalf("sample for another zone reached the slot: %v", r.intents)
	}
}

func TestViews(t *testing.T) {
	c, r := newTestController(t, Config{}, 1.00, 0.05)
	c.cache.Put(sample(pricefeed.SE3, 0.42))

	views := c.Views()
	if len(views) != 1 {
		t.Fatalf("views = %v", views)
	}
	v := views[0]
	if v.Name != "rig-1" || v.Mode != ModeAutomatic || !v.Armed {
		t.Fatalf("view = %+v", v)
	}
	if v.Price == nil || v.Price.Value != 0.42 {
		t.Fatalf("view price = %+v", v.Price)
	}
	_ = r
}
