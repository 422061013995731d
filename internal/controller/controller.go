package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hallqvist/voltmine/internal/metrics"
	"github.com/hallqvist/voltmine/internal/miner"
	"github.com/hallqvist/voltmine/internal/pricefeed"
	"github.com/hallqvist/voltmine/internal/supervisor"
)

// Mode is the per-slot operator override.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManualOn  Mode = "manual_on"
	ModeManualOff Mode = "manual_off"
)

// ParseMode validates a mode string from config or API input.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAutomatic, ModeManualOn, ModeManualOff:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// StalePolicy decides what a stale or absent price does to a running miner.
type StalePolicy string

const (
	// StaleHold keeps the last decision: never start on stale data, never
	// stop a running miner purely for staleness.
	StaleHold StalePolicy = "hold"
	// StaleStop terminates a running miner when its zone's price goes
	// stale.
	StaleStop StalePolicy = "stop"
)

const DefaultCooldown = 5 * time.Minute

// Config tunes the automation rules shared by all slots.
type Config struct {
	StalePolicy StalePolicy
	Cooldown    time.Duration // wait after a failure before automatic restarts
}

func (c *Config) normalize() {
	if c.StalePolicy == "" {
		c.StalePolicy = StaleHold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
}

// Runner is the slice of a supervisor slot the controller drives.
// *supervisor.Slot satisfies it.
type Runner interface {
	Config() miner.Config
	State() supervisor.State
	Status() supervisor.SlotStatus
	Send(t supervisor.IntentType) error
}

type slotState struct {
	r        Runner
	mode     Mode
	armed    bool // false after an automatic stop until the price re-arms
	failedAt time.Time
}

// Controller turns price samples into start/stop intents. One instance
// drives every slot; evaluation is serialized under a single mutex so a
// price update is applied to each slot exactly once, in order.
type Controller struct {
	cfg   Config
	cache *pricefeed.Cache

	mu    sync.Mutex
	slots map[string]*slotState
}

func New(cache *pricefeed.Cache, cfg Config) *Controller {
	cfg.normalize()
	return &Controller{cfg: cfg, cache: cache, slots: make(map[string]*slotState)}
}

// Attach puts a slot under automation. New slots start in Automatic, armed.
func (c *Controller) Attach(r Runner) error {
	name := r.Config().Name
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[name]; ok {
		return fmt.Errorf("slot %q already attached", name)
	}
	c.slots[name] = &slotState{r: r, mode: ModeAutomatic, armed: true}
	return nil
}

// Run consumes price updates until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, updates <-chan pricefeed.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			c.Evaluate(s)
		}
	}
}

// Evaluate applies one price sample to every slot in the sample's zone.
func (c *Controller) Evaluate(s pricefeed.Sample) {
	metrics.SetPrice(string(s.Zone), s.Value, s.Stale)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sl := range c.slots {
		if sl.r.Config().Zone != s.Zone {
			continue
		}
		c.evaluateSlot(sl, s)
	}
}

// evaluateSlot is the decision function. Called with c.mu held.
func (c *Controller) evaluateSlot(sl *slotState, s pricefeed.Sample) {
	cfg := sl.r.Config()
	if sl.mode != ModeAutomatic {
		return
	}
	state := sl.r.State()
	// at most one transition in flight per slot
	if state == supervisor.StateStarting || state == supervisor.StateStopping {
		return
	}

	if s.Stale {
		if c.cfg.StalePolicy == StaleStop && state == supervisor.StateRunning {
			slog.Info("price stale, stopping miner", "slot", cfg.Name, "zone", s.Zone)
			metrics.IncDecision(cfg.Name, "stop")
			c.send(sl, supervisor.IntentStop)
			return
		}
		metrics.IncDecision(cfg.Name, "hold")
		return
	}

	p := s.Value
	switch state {
	case supervisor.StateRunning:
		if p > cfg.StopBound() {
			slog.Info("price above stop bound, stopping miner",
				"slot", cfg.Name, "price", p, "stop_bound", cfg.StopBound())
			metrics.IncDecision(cfg.Name, "stop")
			sl.armed = false
			c.send(sl, supervisor.IntentStop)
			return
		}
	case supervisor.StateIdle, supervisor.StateFailed:
		if state == supervisor.StateFailed && time.Since(sl.failedAt) < c.cfg.Cooldown {
			metrics.IncDecision(cfg.Name, "hold")
			return
		}
		if !sl.armed {
			if p < cfg.RearmBound() {
				sl.armed = true
			} else {
				metrics.IncDecision(cfg.Name, "hold")
				return
			}
		}
		// strictly below threshold; equality never starts
		if p < cfg.Threshold {
			slog.Info("price below threshold, starting miner",
				"slot", cfg.Name, "price", p, "threshold", cfg.Threshold)
			metrics.IncDecision(cfg.Name, "start")
			c.send(sl, supervisor.IntentStart)
			return
		}
	}
	metrics.IncDecision(cfg.Name, "hold")
}

func (c *Controller) send(sl *slotState, t supervisor.IntentType) {
	if err := sl.r.Send(t); err != nil {
		slog.Warn("intent not queued", "slot", sl.r.Config().Name, "error", err)
	}
}

// SetMode applies an operator override. ManualOn and ManualOff each emit
// exactly one intent; Automatic resumes evaluation on the next sample.
func (c *Controller) SetMode(name string, m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.slots[name]
	if !ok {
		return fmt.Errorf("unknown slot %q", name)
	}
	sl.mode = m
	switch m {
	case ModeManualOn:
		sl.armed = true
		return sl.r.Send(supervisor.IntentStart)
	case ModeManualOff:
		return sl.r.Send(supervisor.IntentStop)
	case ModeAutomatic:
		return nil
	}
	return fmt.Errorf("unknown mode %q", m)
}

// Mode returns the slot's current mode.
func (c *Controller) Mode(name string) (Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.slots[name]
	if !ok {
		return "", false
	}
	return sl.mode, true
}

// OnTransition records failure times for the cooldown and keeps the state
// metrics current. Wired as (part of) the supervisor's notify callback.
func (c *Controller) OnTransition(t supervisor.Transition) {
	c.mu.Lock()
	if sl, ok := c.slots[t.Slot]; ok && t.To == supervisor.StateFailed {
		sl.failedAt = t.At
	}
	c.mu.Unlock()

	metrics.RecordStateTransition(t.Slot, string(t.From), string(t.To))
	metrics.SetCurrentState(t.Slot, string(t.From), false)
	metrics.SetCurrentState(t.Slot, string(t.To), true)
	switch t.To {
	case supervisor.StateRunning:
		metrics.IncStart(t.Slot)
	case supervisor.StateIdle:
		metrics.IncStop(t.Slot)
	case supervisor.StateFailed:
		metrics.IncFailure(t.Slot)
	}
}

// SlotView is the per-slot status served to operators.
type SlotView struct {
	supervisor.SlotStatus
	Mode       Mode              `json:"mode"`
	Zone       pricefeed.Zone    `json:"zone"`
	Threshold  float64           `json:"threshold"`
	Hysteresis float64           `json:"hysteresis"`
	Armed      bool              `json:"armed"`
	Price      *pricefeed.Sample `json:"price,omitempty"`
}

// Views returns a snapshot of all slots, sorted by name.
func (c *Controller) Views() []SlotView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SlotView, 0, len(c.slots))
	for _, sl := range c.slots {
		cfg := sl.r.Config()
		v := SlotView{
			SlotStatus: sl.r.Status(),
			Mode:       sl.mode,
			Zone:       cfg.Zone,
			Threshold:  cfg.Threshold,
			Hysteresis: cfg.Hysteresis,
			Armed:      sl.armed,
		}
		if c.cache != nil {
			if s, ok := c.cache.Get(cfg.Zone); ok {
				sc := s
				v.Price = &sc
			}
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
