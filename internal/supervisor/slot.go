package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/hallqvist/voltmine/internal/logsink"
	"github.com/hallqvist/voltmine/internal/miner"
)

// LineSink receives captured miner output. Satisfied by *logsink.Fanout.
type LineSink interface {
	Write(slot string, stream logsink.Stream, line string)
}

// ErrBusy is returned when an intent queue is full.
var ErrBusy = errors.New("slot intent queue full")

// Slot owns one miner process. All lifecycle work happens on the slot's own
// goroutine; the ctrl channel serializes intents so at most one transition
// is ever in flight.
type Slot struct {
	cfg    miner.Config
	sink   LineSink
	notify func(Transition)
	grace  time.Duration

	ctrl   chan Intent
	exited chan error

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitCode  int
	lastErr   string
}

func newSlot(cfg miner.Config, sink LineSink, notify func(Transition), grace time.Duration) *Slot {
	if grace <= 0 {
		grace = miner.DefaultStopGrace
	}
	return &Slot{
		cfg:    cfg,
		sink:   sink,
		notify: notify,
		grace:  grace,
		ctrl:   make(chan Intent, 16),
		exited: make(chan error, 1),
		state:  StateIdle,
	}
}

// Config returns the slot's miner configuration.
func (s *Slot) Config() miner.Config { return s.cfg }

// State returns the current lifecycle state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for reporting.
func (s *Slot) Status() SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStatus{
		Name:      s.cfg.Name,
		State:     s.state,
		PID:       s.pid,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
		ExitCode:  s.exitCode,
		Err:       s.lastErr,
	}
}

// Send queues an intent without waiting for its outcome.
func (s *Slot) Send(t IntentType) error {
	select {
	case s.ctrl <- Intent{Type: t}:
		return nil
	default:
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrBusy)
	}
}

// Do queues an intent and waits for it to be applied.
func (s *Slot) Do(t IntentType) error {
	reply := make(chan error, 1)
	select {
	case s.ctrl <- Intent{Type: t, Reply: reply}:
	default:
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrBusy)
	}
	return <-reply
}

func (s *Slot) setState(to State, exitCode int, errMsg string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	pid := s.pid
	switch to {
	case StateRunning:
		s.startedAt = time.Now()
		s.exitCode = 0
		s.lastErr = ""
	case StateIdle, StateFailed:
		s.stoppedAt = time.Now()
		s.exitCode = exitCode
		s.lastErr = errMsg
		s.cmd = nil
	}
	s.mu.Unlock()

	if from == to {
		return
	}
	if s.notify != nil {
		s.notify(Transition{
			Slot: s.cfg.Name, From: from, To: to,
			PID: pid, ExitCode: exitCode, Err: errMsg, At: time.Now(),
		})
	}
}

// run is the slot's single consumer loop. Intents are applied in order; an
// unexpected exit while Running flips the slot to Failed.
func (s *Slot) run(done <-chan struct{}, stopped func()) {
	defer stopped()
	for {
		select {
		case <-done:
			if st := s.State(); st == StateRunning || st == StateStarting {
				_ = s.terminate()
			}
			return
		case err := <-s.exited:
			s.markExited(err)
		case in := <-s.ctrl:
			var err error
			switch in.Type {
			case IntentStart:
				err = s.launch()
			case IntentStop:
				err = s.terminate()
			}
			if in.Reply != nil {
				in.Reply <- err
			}
		}
	}
}

// launch spawns the miner in its own process group with line capture on both
// pipes. The slot ends the call either Running or Failed.
func (s *Slot) launch() error {
	switch s.State() {
	case StateRunning, StateStarting, StateStopping:
		return nil
	}
	s.setState(StateStarting, 0, "")

	if err := s.cfg.CheckExecutable(); err != nil {
		s.setState(StateFailed, 0, err.Error())
		return err
	}

	cmd := exec.Command(s.cfg.ExecPath, s.cfg.BuildArgs()...)
	if s.cfg.WorkDir != "" {
		cmd.Dir = s.cfg.WorkDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setState(StateFailed, 0, err.Error())
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.setState(StateFailed, 0, err.Error())
		return err
	}

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("launch %s: %w", s.cfg.Name, err)
		s.setState(StateFailed, 0, err.Error())
		return err
	}

	s.mu.Lock()
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.mu.Unlock()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(&pumps, stdout, logsink.Stdout)
	go s.pump(&pumps, stderr, logsink.Stderr)

	// Wait may only run after both pipes are drained.
	go func() {
		pumps.Wait()
		s.exited <- cmd.Wait()
	}()

	s.setState(StateRunning, 0, "")
	slog.Info("miner started", "slot", s.cfg.Name, "pid", cmd.Process.Pid)
	return nil
}

func (s *Slot) pump(wg *sync.WaitGroup, r io.Reader, stream logsink.Stream) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		if s.sink != nil {
			s.sink.Write(s.cfg.Name, stream, sc.Text())
		}
	}
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL
// after the grace period. The slot is Idle only after Wait has returned.
func (s *Slot) terminate() error {
	s.mu.Lock()
	st := s.state
	cmd := s.cmd
	pid := s.pid
	s.mu.Unlock()
	if st != StateRunning && st != StateStarting {
		return nil
	}
	if cmd == nil || cmd.Process == nil {
		s.setState(StateIdle, 0, "")
		return nil
	}
	s.setState(StateStopping, 0, "")

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-s.exited:
	case <-time.After(s.grace):
		slog.Warn("miner ignored SIGTERM, killing", "slot", s.cfg.Name, "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-s.exited
	}
	s.setState(StateIdle, 0, "")
	slog.Info("miner stopped", "slot", s.cfg.Name, "pid", pid)
	return nil
}

// markExited handles an exit the slot did not ask for.
func (s *Slot) markExited(err error) {
	if s.State() != StateRunning {
		return
	}
	code := 0
	msg := "exited unexpectedly"
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
		msg = fmt.Sprintf("exited unexpectedly with code %d", code)
	} else if err != nil {
		msg = err.Error()
	}
	slog.Error("miner exited unexpectedly", "slot", s.cfg.Name, "exit_code", code, "error", err)
	s.setState(StateFailed, code, msg)
}
