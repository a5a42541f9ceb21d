package nexstar

import (
	"fmt"
	"time"

	"github.com/w1xm/nexstar_interface/logger"
)

// WaitState is the state of a SlewWait.
type WaitState int

const (
	// Polling means the last query reported a slew in progress.
	Polling WaitState = iota
	// Idle means the mount reported no slew in progress.
	Idle
	// TimedOut means the wait budget ran out while the slew was still in progress.
	TimedOut
)

func (s WaitState) String() string {
	switch s {
	case Polling:
		return "polling"
	case Idle:
		return "idle"
	case TimedOut:
		return "timed out"
	}
	return fmt.Sprintf("WaitState(%d)", int(s))
}

// WaitResult is the outcome of waiting for a slew. Elapsed is the sum of
// poll intervals waited, not wall clock time.
type WaitResult struct {
	Elapsed  time.Duration
	TimedOut bool
	Polls    int
}

// SlewWait polls the mount until it stops slewing or the budget runs out.
// Callers that cannot block call Step, then wait Interval before the next
// Step, until Done.
type SlewWait struct {
	m        *Mount
	timeout  time.Duration
	interval time.Duration

	state   WaitState
	elapsed time.Duration
	polls   int
}

// NewSlewWait returns a wait in the Polling state. No command is sent until Step.
func (m *Mount) NewSlewWait(timeout, interval time.Duration) (*SlewWait, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: poll interval %v must be positive", ErrInvalidArgument, interval)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %v", ErrInvalidArgument, timeout)
	}
	return &SlewWait{m: m, timeout: timeout, interval: interval}, nil
}

// Step queries the mount once and advances the state. It is a no-op once Done.
func (w *SlewWait) Step() error {
	if w.Done() {
		return nil
	}
	active, err := w.m.IsGotoActive()
	if err != nil {
		return err
	}
	w.polls++
	switch {
	case !active:
		w.state = Idle
	case w.elapsed >= w.timeout:
		w.state = TimedOut
	default:
		w.elapsed += w.interval
	}
	return nil
}

func (w *SlewWait) Done() bool {
	return w.state != Polling
}

func (w *SlewWait) State() WaitState {
	return w.state
}

func (w *SlewWait) Interval() time.Duration {
	return w.interval
}

func (w *SlewWait) Result() WaitResult {
	return WaitResult{
		Elapsed:  w.elapsed,
		TimedOut: w.state == TimedOut,
		Polls:    w.polls,
	}
}

// WaitUntilIdle blocks until the mount reports no slew in progress or the
// accumulated wait reaches timeout. Running out of time is not an error;
// check WaitResult.TimedOut.
func (m *Mount) WaitUntilIdle(timeout, interval time.Duration) (WaitResult, error) {
	w, err := m.NewSlewWait(timeout, interval)
	if err != nil {
		return WaitResult{}, err
	}
	m.log.Info("waiting while goto in progress")
	for {
		if err := w.Step(); err != nil {
			return w.Result(), err
		}
		if w.Done() {
			break
		}
		m.logProgress(w.elapsed)
		m.sleep(w.interval)
	}
	res := w.Result()
	if res.TimedOut {
		m.log.Warn("goto still in progress", "elapsed", res.Elapsed, "timeout", timeout)
	} else {
		m.log.Info("goto completed", "elapsed", res.Elapsed)
	}
	return res, nil
}

// logProgress reports where the mount is while a slew runs. The extra
// position query is only sent when debug logging is on.
func (m *Mount) logProgress(elapsed time.Duration) {
	if m.log.Level() > logger.DebugLevel {
		return
	}
	p, err := m.Position(RaDec)
	if err != nil {
		m.log.Debug("goto in progress", "elapsed", elapsed, "error", err)
		return
	}
	m.log.Debug("goto in progress", "elapsed", elapsed, "position", p.Format(RaDec))
}
