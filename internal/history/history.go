package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/hallqvist/voltmine/internal/supervisor"
)

// Event is one lifecycle transition exported to external analytics systems.
type Event struct {
	Slot       string    `json:"slot"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Err        string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FromTransition converts a supervisor transition into an exportable event.
func FromTransition(t supervisor.Transition) Event {
	return Event{
		Slot:       t.Slot,
		From:       string(t.From),
		To:         string(t.To),
		PID:        t.PID,
		ExitCode:   t.ExitCode,
		Err:        t.Err,
		OccurredAt: t.At,
	}
}

// Sink is a destination for events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Recorder fans one event out to several sinks; export failures are logged
// and never affect the slot lifecycle.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
}

func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, timeout: 5 * time.Second}
}

func (r *Recorder) Record(t supervisor.Transition) {
	if len(r.sinks) == 0 {
		return
	}
	e := FromTransition(t)
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history export failed", "slot", e.Slot, "error", err)
		}
	}
}

func (r *Recorder) Close() error {
	var first error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
