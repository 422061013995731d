package supervisor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hallqvist/voltmine/internal/miner"
)

// Supervisor owns all miner slots. It spawns one goroutine per slot and
// guarantees orderly termination of every running miner on Shutdown.
type Supervisor struct {
	sink   LineSink
	notify func(Transition)
	grace  time.Duration

	mu    sync.Mutex
	slots map[string]*Slot
	done  chan struct{}
	wg    sync.WaitGroup
}

func New(sink LineSink, notify func(Transition), grace time.Duration) *Supervisor {
	return &Supervisor{
		sink:   sink,
		notify: notify,
		grace:  grace,
		slots:  make(map[string]*Slot),
		done:   make(chan struct{}),
	}
}

// Register creates the slot for cfg and starts its consumer loop. Duplicate
// names are rejected.
func (sv *Supervisor) Register(cfg miner.Config) (*Slot, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if _, ok := sv.slots[cfg.Name]; ok {
		return nil, fmt.Errorf("slot %q already registered", cfg.Name)
	}
	s := newSlot(cfg, sv.sink, sv.notify, sv.grace)
	sv.slots[cfg.Name] = s
	sv.wg.Add(1)
	go s.run(sv.done, sv.wg.Done)
	return s, nil
}

// Slot looks a slot up by name.
func (sv *Supervisor) Slot(name string) (*Slot, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	s, ok := sv.slots[name]
	return s, ok
}

// Statuses returns a snapshot of every slot, sorted by name.
func (sv *Supervisor) Statuses() []SlotStatus {
	sv.mu.Lock()
	out := make([]SlotStatus, 0, len(sv.slots))
	for _, s := range sv.slots {
		out = append(out, s.Status())
	}
	sv.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown stops every running miner and waits (bounded) for the slot loops
// to confirm termination.
func (sv *Supervisor) Shutdown(wait time.Duration) {
	close(sv.done)
	ch := make(chan struct{})
	go func() {
		sv.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(wait):
		slog.Warn("shutdown timed out waiting for miners to stop")
	}
}
