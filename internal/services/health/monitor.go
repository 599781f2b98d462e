package health

import (
	"sync"
	"time"

	"dronesync-desktop/internal/logging"
	"dronesync-desktop/internal/services/scheduler"
)

var log = logging.Get("health")

// State is the push channel health classification.
type State int

const (
	Connected State = iota
	Degraded
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultSilenceThreshold is how long a connected channel may stay quiet
// before it counts as degraded.
const DefaultSilenceThreshold = 3 * time.Minute

// Connectivity reports whether the push transport is connected.
type Connectivity interface {
	IsConnected() bool
}

// ActivitySource reports the receipt time of the latest push event.
type ActivitySource interface {
	LastEventAt() time.Time
}

// ModeSetter is the part of the poller the monitor drives.
type ModeSetter interface {
	Mode() scheduler.PollingMode
	SetMode(mode scheduler.PollingMode) error
}

// Transition describes one tick's outcome. Changed is false when the
// classification did not move.
type Transition struct {
	From    State                 `json:"from"`
	To      State                 `json:"to"`
	Changed bool                  `json:"changed"`
	Mode    scheduler.PollingMode `json:"mode"`
	Silence time.Duration         `json:"silence"`
	At      time.Time             `json:"at"`
}

// Monitor classifies push health on each tick and fails the poller over to
// aggressive polling while push is unhealthy.
type Monitor struct {
	conn      Connectivity
	activity  ActivitySource
	poller    ModeSetter
	threshold time.Duration
	now       func() time.Time
	observer  func(Transition)

	mu    sync.Mutex
	state State
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithThreshold sets the silence threshold.
func WithThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(m *Monitor) { m.now = fn }
}

// WithObserver registers a callback for state changes.
func WithObserver(fn func(Transition)) Option {
	return func(m *Monitor) { m.observer = fn }
}

// NewMonitor creates a monitor in the Connected state.
func NewMonitor(conn Connectivity, activity ActivitySource, poller ModeSetter, opts ...Option) *Monitor {
	m := &Monitor{
		conn:      conn,
		activity:  activity,
		poller:    poller,
		threshold: DefaultSilenceThreshold,
		now:       time.Now,
		state:     Connected,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Tick evaluates the channel once. Repeated ticks with unchanged input
// produce no transition and leave the poller alone.
func (m *Monitor) Tick() Transition {
	now := m.now()
	connected := m.conn.IsConnected()

	silence := time.Duration(0)
	if last := m.activity.LastEventAt(); !last.IsZero() {
		silence = now.Sub(last)
	}

	next := Connected
	switch {
	case !connected:
		next = Disconnected
	case silence > m.threshold:
		next = Degraded
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	t := Transition{From: prev, To: next, Changed: prev != next, Silence: silence, At: now}
	if !t.Changed {
		t.Mode = m.poller.Mode()
		return t
	}

	log.Infof("Push health %s -> %s (silence %v)", prev, next, silence.Round(time.Second))

	mode := m.poller.Mode()
	switch next {
	case Degraded, Disconnected:
		if mode != scheduler.Aggressive {
			if err := m.poller.SetMode(scheduler.Aggressive); err != nil {
				log.Errorf("Failed to enter aggressive polling: %v", err)
			}
		}
	case Connected:
		if mode == scheduler.Aggressive {
			if err := m.poller.SetMode(scheduler.RealTime); err != nil {
				log.Errorf("Failed to return to realtime polling: %v", err)
			}
		}
	}
	t.Mode = m.poller.Mode()

	if m.observer != nil {
		m.observer(t)
	}
	return t
}

// State returns the current classification.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset puts the monitor back to Connected without touching the poller.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.state = Connected
	m.mu.Unlock()
}
