package scheduler

import (
	"sync"
	"time"
)

// Tasks is the part of Service the poller needs.
type Tasks interface {
	Schedule(name string, every time.Duration, fn func()) error
	Cancel(name string) bool
	Next(name string) (time.Time, bool)
}

// Poller owns the resync timers of a session: an unconditional baseline poll
// at the normal cadence and at most one extra mode timer.
type Poller struct {
	tasks      Tasks
	resync     func(trigger string)
	normal     time.Duration
	aggressive time.Duration

	mu      sync.Mutex
	mode    PollingMode
	started bool
}

// NewPoller creates a poller. resync receives the name of the timer that fired.
func NewPoller(tasks Tasks, normal, aggressive time.Duration, resync func(trigger string)) *Poller {
	return &Poller{
		tasks:      tasks,
		resync:     resync,
		normal:     normal,
		aggressive: aggressive,
		mode:       Normal,
	}
}

// Start installs the baseline poll. It is never removed until Stop.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.tasks.Schedule(TaskBaselinePoll, p.normal, func() { p.resync("baseline") }); err != nil {
		return err
	}
	p.started = true
	log.Infof("Baseline resync every %v, mode %s", p.normal, p.mode)
	return nil
}

// SetMode switches the layered cadence. Aggressive (re)starts the fast timer,
// any other mode cancels it. Setting the current mode is a no-op.
func (p *Poller) SetMode(mode PollingMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if mode == p.mode {
		return nil
	}

	if mode == Aggressive {
		if err := p.tasks.Schedule(TaskAggressivePoll, p.aggressive, func() { p.resync("aggressive") }); err != nil {
			return err
		}
	} else {
		p.tasks.Cancel(TaskAggressivePoll)
	}

	log.Infof("Polling mode %s -> %s", p.mode, mode)
	p.mode = mode
	return nil
}

// Mode returns the current polling mode.
func (p *Poller) Mode() PollingMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// IntervalFor returns the cadence a mode adds: none for RealTime.
func (p *Poller) IntervalFor(mode PollingMode) time.Duration {
	switch mode {
	case Normal:
		return p.normal
	case Aggressive:
		return p.aggressive
	default:
		return 0
	}
}

// NextRun returns the earliest upcoming resync, zero if none is scheduled.
func (p *Poller) NextRun() time.Time {
	var next time.Time
	for _, name := range []string{TaskBaselinePoll, TaskAggressivePoll} {
		if t, ok := p.tasks.Next(name); ok && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	return next
}

// Stop cancels both resync timers and resets the mode.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tasks.Cancel(TaskAggressivePoll)
	p.tasks.Cancel(TaskBaselinePoll)
	p.mode = Normal
	p.started = false
}

// Started reports whether the baseline poll is installed.
func (p *Poller) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
