package logsink

import (
	"regexp"
	"sync"
)

// Stream tags which pipe a captured line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Sink consumes captured miner output lines. Implementations may block;
// the Fanout in front of them never does.
type Sink interface {
	Write(slot string, stream Stream, line string)
	Close() error
}

type record struct {
	slot   string
	stream Stream
	line   string
}

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from a miner output line. Miners
// color their console output heavily; log files should stay plain.
func StripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

// Fanout delivers each line to every sink through a fixed-capacity queue.
// When a sink falls behind, its oldest queued line is dropped so the miner's
// output pump is never blocked by a slow consumer.
type Fanout struct {
	mu      sync.Mutex
	entries []*entry
	closed  bool
	wg      sync.WaitGroup
}

type entry struct {
	sink Sink
	ch   chan record
}

// NewFanout starts one delivery goroutine per sink. buf is the per-sink
// queue capacity (default 256).
func NewFanout(buf int, sinks ...Sink) *Fanout {
	if buf <= 0 {
		buf = 256
	}
	f := &Fanout{}
	for _, s := range sinks {
		e := &entry{sink: s, ch: make(chan record, buf)}
		f.entries = append(f.entries, e)
		f.wg.Add(1)
		go func(e *entry) {
			defer f.wg.Done()
			for r := range e.ch {
				e.sink.Write(r.slot, r.stream, r.line)
			}
		}(e)
	}
	return f
}

// Write queues line for every sink, dropping the oldest queued line of any
// sink whose queue is full. Lines are ANSI-stripped once here.
func (f *Fanout) Write(slot string, stream Stream, line string) {
	r := record{slot: slot, stream: stream, line: StripANSI(line)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, e := range f.entries {
		select {
		case e.ch <- r:
		default:
			select {
			case <-e.ch:
			default:
			}
			select {
			case e.ch <- r:
			default:
			}
		}
	}
}

// Close drains the queues, stops the delivery goroutines and closes the
// sinks.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	entries := f.entries
	f.mu.Unlock()

	for _, e := range entries {
		close(e.ch)
	}
	f.wg.Wait()
	var first error
	for _, e := range entries {
		if err := e.sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
