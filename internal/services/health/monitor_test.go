package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronesync-desktop/internal/services/scheduler"
)

type fakeConn struct{ connected bool }

func (f *fakeConn) IsConnected() bool { return f.connected }

type fakeActivity struct{ last time.Time }

func (f *fakeActivity) LastEventAt() time.Time { return f.last }

type fakePoller struct {
	mode  scheduler.PollingMode
	calls []scheduler.PollingMode
}

func (f *fakePoller) Mode() scheduler.PollingMode { return f.mode }

func (f *fakePoller) SetMode(mode scheduler.PollingMode) error {
	f.calls = append(f.calls, mode)
	f.mode = mode
	return nil
}

type fixture struct {
	now      time.Time
	conn     *fakeConn
	activity *fakeActivity
	poller   *fakePoller
	seen     []Transition
	monitor  *Monitor
}

func newFixture() *fixture {
	f := &fixture{
		now:      time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		conn:     &fakeConn{connected: true},
		activity: &fakeActivity{},
		poller:   &fakePoller{mode: scheduler.Normal},
	}
	f.activity.last = f.now
	f.monitor = NewMonitor(f.conn, f.activity, f.poller,
		WithClock(func() time.Time { return f.now }),
		WithObserver(func(t Transition) { f.seen = append(f.seen, t) }),
	)
	return f
}

func TestMonitorTick(t *testing.T) {
	t.Run("Should degrade after four minutes of silence", func(t *testing.T) {
		f := newFixture()
		f.now = f.now.Add(4 * time.Minute)

		tr := f.monitor.Tick()

		assert.True(t, tr.Changed)
		assert.Equal(t, Connected, tr.From)
		assert.Equal(t, Degraded, tr.To)
		assert.Equal(t, 4*time.Minute, tr.Silence)
		assert.Equal(t, scheduler.Aggressive, f.poller.mode)
		assert.Equal(t, Degraded, f.monitor.State())
		require.Len(t, f.seen, 1)
	})

	t.Run("Should stay connected within the threshold", func(t *testing.T) {
		f := newFixture()
		f.now = f.now.Add(3 * time.Minute)

		tr := f.monitor.Tick()

		assert.False(t, tr.Changed)
		assert.Equal(t, Connected, f.monitor.State())
		assert.Empty(t, f.poller.calls)
		assert.Empty(t, f.seen)
	})

	t.Run("Should report disconnected regardless of silence", func(t *testing.T) {
		f := newFixture()
		f.conn.connected = false

		tr := f.monitor.Tick()

		assert.Equal(t, Disconnected, tr.To)
		assert.Equal(t, scheduler.Aggressive, f.poller.mode)
	})

	t.Run("Should recover to realtime once events resume", func(t *testing.T) {
		f := newFixture()
		f.now = f.now.Add(4 * time.Minute)
		f.monitor.Tick()
		require.Equal(t, scheduler.Aggressive, f.poller.mode)

		f.activity.last = f.now
		f.now = f.now.Add(10 * time.Second)
		tr := f.monitor.Tick()

		assert.Equal(t, Degraded, tr.From)
		assert.Equal(t, Connected, tr.To)
		assert.Equal(t, scheduler.RealTime, f.poller.mode)
		assert.Equal(t, scheduler.RealTime, tr.Mode)
	})

	t.Run("Should be idempotent for unchanged input", func(t *testing.T) {
		f := newFixture()
		f.now = f.now.Add(4 * time.Minute)

		first := f.monitor.Tick()
		second := f.monitor.Tick()

		assert.True(t, first.Changed)
		assert.False(t, second.Changed)
		assert.Equal(t, []scheduler.PollingMode{scheduler.Aggressive}, f.poller.calls)
		assert.Len(t, f.seen, 1)
	})

	t.Run("Should not re-enter aggressive when moving between unhealthy states", func(t *testing.T) {
		f := newFixture()
		f.now = f.now.Add(4 * time.Minute)
		f.monitor.Tick()

		f.conn.connected = false
		tr := f.monitor.Tick()

		assert.True(t, tr.Changed)
		assert.Equal(t, Disconnected, tr.To)
		assert.Equal(t, []scheduler.PollingMode{scheduler.Aggressive}, f.poller.calls)
	})

	t.Run("Should leave a normal poller alone on reconnect", func(t *testing.T) {
		f := newFixture()
		f.conn.connected = false
		f.monitor.Tick()
		f.poller.mode = scheduler.Normal
		f.poller.calls = nil

		f.conn.connected = true
		tr := f.monitor.Tick()

		assert.Equal(t, Connected, tr.To)
		assert.Empty(t, f.poller.calls)
	})

	t.Run("Should honour a custom threshold", func(t *testing.T) {
		f := newFixture()
		m := NewMonitor(f.conn, f.activity, f.poller,
			WithThreshold(time.Minute),
			WithClock(func() time.Time { return f.now }),
		)
		f.now = f.now.Add(90 * time.Second)

		assert.Equal(t, Degraded, m.Tick().To)
	})
}

func TestMonitorReset(t *testing.T) {
	t.Run("Should return to connected", func(t *testing.T) {
		f := newFixture()
		f.conn.connected = false
		f.monitor.Tick()

		f.monitor.Reset()

		assert.Equal(t, Connected, f.monitor.State())
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "disconnected", Disconnected.String())
}
