package pushcache

import (
	"sync"
	"time"

	"dronesync-desktop/internal/logging"
)

var log = logging.Get("pushcache")

// Event is one progress reading delivered by the push channel.
type Event struct {
	AreaCode       string    `json:"area_code"`
	Detected       int       `json:"detected_count"`
	Undetected     int       `json:"undetected_count"`
	TotalProcessed int       `json:"total_processed"`
	Timestamp      time.Time `json:"timestamp"`
}

// Snapshot is the absolute count last accepted for an area.
type Snapshot struct {
	Detected       int       `json:"detected"`
	Undetected     int       `json:"undetected"`
	TotalProcessed int       `json:"total_processed"`
	EventTime      time.Time `json:"event_time"`  // as reported by the worker, may be zero
	ReceivedAt     time.Time `json:"received_at"` // local receipt time
}

// SupersedePolicy decides whether next replaces prev for the same area.
// It is the only place ordering between snapshots is decided.
type SupersedePolicy func(prev, next Snapshot) bool

// AlwaysReplace lets every later-received snapshot win, even a smaller one.
func AlwaysReplace(prev, next Snapshot) bool {
	return true
}

// NewerOrLarger accepts next only when it is not older than prev (by worker
// timestamp, when both carry one) or when it reports more processed files.
func NewerOrLarger(prev, next Snapshot) bool {
	if next.TotalProcessed >= prev.TotalProcessed {
		return true
	}
	if prev.EventTime.IsZero() || next.EventTime.IsZero() {
		return false
	}
	return next.EventTime.After(prev.EventTime)
}

// PolicyByName maps a config value to a policy. Unknown names fall back to AlwaysReplace.
func PolicyByName(name string) SupersedePolicy {
	if name == "newer-or-larger" {
		return NewerOrLarger
	}
	return AlwaysReplace
}

// Cache maps area codes to their latest push snapshot.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]Snapshot
	lastEventAt time.Time
	supersede   SupersedePolicy
	now         func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithPolicy sets the supersede policy.
func WithPolicy(p SupersedePolicy) Option {
	return func(c *Cache) {
		if p != nil {
			c.supersede = p
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) { c.now = fn }
}

// New creates an empty cache using AlwaysReplace and the wall clock.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:   make(map[string]Snapshot),
		supersede: AlwaysReplace,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnEvent stores the event as the area's snapshot, replacing (never adding to)
// any previous one when the policy allows. Any event with an area code counts
// as channel activity and refreshes LastEventAt. It reports whether the
// snapshot was stored.
func (c *Cache) OnEvent(evt Event) bool {
	if evt.AreaCode == "" {
		log.Warning("Ignoring push event without area code")
		return false
	}

	now := c.now()
	next := Snapshot{
		Detected:       evt.Detected,
		Undetected:     evt.Undetected,
		TotalProcessed: evt.TotalProcessed,
		EventTime:      evt.Timestamp,
		ReceivedAt:     now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastEventAt = now

	if prev, exists := c.entries[evt.AreaCode]; exists && !c.supersede(prev, next) {
		log.Debugf("Push snapshot for %s kept at %d, rejected %d", evt.AreaCode, prev.TotalProcessed, next.TotalProcessed)
		return false
	}
	c.entries[evt.AreaCode] = next
	return true
}

// Get returns the snapshot for an area.
func (c *Cache) Get(areaCode string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[areaCode]
	return s, ok
}

// GetAll returns a copy of every stored snapshot.
func (c *Cache) GetAll() map[string]Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Snapshot, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// LastEventAt returns the receipt time of the most recent event, zero if none.
func (c *Cache) LastEventAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastEventAt
}

// MarkActive sets LastEventAt without storing a snapshot. Sessions use it to
// open the silence window when they start.
func (c *Cache) MarkActive(at time.Time) {
	c.mu.Lock()
	c.lastEventAt = at
	c.mu.Unlock()
}

// Len returns the number of areas with a snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every snapshot and resets LastEventAt.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Snapshot)
	c.lastEventAt = time.Time{}
}
