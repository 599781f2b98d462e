package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"dronesync-desktop/internal/logging"
	"dronesync-desktop/internal/models"
	"dronesync-desktop/internal/services/groundtruth"
	"dronesync-desktop/internal/services/health"
	"dronesync-desktop/internal/services/projector"
	"dronesync-desktop/internal/services/pushcache"
	"dronesync-desktop/internal/services/relay"
	"dronesync-desktop/internal/services/scheduler"
)

var log = logging.Get("monitor")

var (
	// ErrAlreadyStarted is returned by Start on a running session.
	ErrAlreadyStarted = errors.New("monitoring session already started")
	// ErrStopped is returned by Start on a session that was torn down.
	ErrStopped = errors.New("monitoring session stopped")
)

// Session owns all mutable reconciliation state for one login: work units,
// ground-truth detection floors, push snapshots, health and timers.
type Session struct {
	id       string
	cfg      Config
	backend  Backend
	push     PushChannel
	db       *gorm.DB
	notifier Notifier
	now      func() time.Time

	cache  *pushcache.Cache
	sched  *scheduler.Service
	poller *scheduler.Poller
	health *health.Monitor
	relay  *relay.Relay

	mu          sync.RWMutex
	alive       bool
	stopped     bool
	cancel      context.CancelFunc
	units       map[groundtruth.UnitKey]groundtruth.WorkUnit
	floors      map[string]groundtruth.Detections
	lastUpdated time.Time
	lastError   string
}

// Option configures a Session.
type Option func(*Session)

// WithDB persists ground truth and resync history.
func WithDB(db *gorm.DB) Option {
	return func(s *Session) { s.db = db }
}

// WithNotifier sets the UI event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Session) { s.now = fn }
}

// disconnected stands in for a missing push channel.
type disconnected struct{}

func (disconnected) IsConnected() bool { return false }

// NewSession wires a session. push may be nil, in which case the session
// runs on polling alone.
func NewSession(cfg Config, backend Backend, push PushChannel, opts ...Option) *Session {
	cfg = withDefaults(cfg)

	s := &Session{
		id:      uuid.New().String(),
		cfg:     cfg,
		backend: backend,
		push:    push,
		now:     time.Now,
		units:   make(map[groundtruth.UnitKey]groundtruth.WorkUnit),
		floors:  make(map[string]groundtruth.Detections),
	}
	for _, o := range opts {
		o(s)
	}

	s.cache = pushcache.New(pushcache.WithPolicy(cfg.Supersede), pushcache.WithClock(s.now))
	s.sched = scheduler.NewService()
	s.poller = scheduler.NewPoller(s.sched, cfg.NormalInterval, cfg.AggressiveInterval, s.scheduledResync)

	var conn health.Connectivity = disconnected{}
	if push != nil {
		conn = push
	}
	s.health = health.NewMonitor(conn, s.cache, s.poller,
		health.WithThreshold(cfg.SilenceThreshold),
		health.WithClock(s.now),
		health.WithObserver(func(t health.Transition) { s.notify(EventHealthChanged, t) }),
	)
	s.relay = relay.New(backend, s.cache, cfg.Operator, cfg.RelayConcurrency)
	return s
}

func withDefaults(cfg Config) Config {
	if cfg.Channel == "" {
		cfg.Channel = "detection-progress"
	}
	if cfg.Event == "" {
		cfg.Event = "progress.updated"
	}
	if cfg.HealthTick <= 0 {
		cfg.HealthTick = 30 * time.Second
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = health.DefaultSilenceThreshold
	}
	if cfg.NormalInterval <= 0 {
		cfg.NormalInterval = 5 * time.Minute
	}
	if cfg.AggressiveInterval <= 0 {
		cfg.AggressiveInterval = 2 * time.Minute
	}
	if cfg.RelayInterval <= 0 {
		cfg.RelayInterval = time.Minute
	}
	if cfg.RelayConcurrency < 1 {
		cfg.RelayConcurrency = 4
	}
	if cfg.Supersede == nil {
		cfg.Supersede = pushcache.AlwaysReplace
	}
	return cfg
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Start subscribes to the push channel, installs the timers and runs the
// initial resync. Push subscription failures are logged; health monitoring
// moves the session to aggressive polling when push stays down.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.alive {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.alive = true
	subCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	// Open the silence window at session start.
	s.cache.MarkActive(s.now())

	if s.push != nil {
		events, err := s.push.Subscribe(subCtx, s.cfg.Channel, s.cfg.Event)
		if err != nil {
			log.Warningf("Push subscription unavailable, relying on polling: %v", err)
		} else {
			go s.pump(events)
		}
	}

	if err := s.poller.Start(); err != nil {
		s.Stop()
		return fmt.Errorf("failed to start polling: %w", err)
	}
	if err := s.sched.Schedule(scheduler.TaskHealthCheck, s.cfg.HealthTick, s.checkHealth); err != nil {
		s.Stop()
		return fmt.Errorf("failed to schedule health check: %w", err)
	}
	if err := s.sched.Schedule(scheduler.TaskSyncRelay, s.cfg.RelayInterval, s.syncRelay); err != nil {
		s.Stop()
		return fmt.Errorf("failed to schedule sync relay: %w", err)
	}
	s.sched.Start()

	log.Infof("Monitoring session %s started for operator %s", s.id, s.cfg.Operator)
	s.Resync(ctx, TriggerInitial)
	return nil
}

// Stop tears the session down: timers cleared, subscription released, push
// cache and health reset. In-flight resyncs finish but their results are dropped.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.alive {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.alive = false
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.units = make(map[groundtruth.UnitKey]groundtruth.WorkUnit)
	s.floors = make(map[string]groundtruth.Detections)
	s.cache.Clear()
	s.mu.Unlock()

	s.poller.Stop()
	s.sched.Stop()
	s.health.Reset()
	s.relay.Reset()

	log.Infof("Monitoring session %s stopped", s.id)
}

// Alive reports whether the session is running.
func (s *Session) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

func (s *Session) pump(events <-chan pushcache.Event) {
	for evt := range events {
		s.handleEvent(evt)
	}
	log.Debug("Push event stream closed")
}

func (s *Session) handleEvent(evt pushcache.Event) {
	s.mu.RLock()
	if !s.alive {
		s.mu.RUnlock()
		return
	}
	stored := s.cache.OnEvent(evt)
	s.mu.RUnlock()

	if !stored {
		return
	}

	var changed []projector.Progress
	all := s.Progress()
	for _, p := range all {
		if p.AreaCode == evt.AreaCode {
			changed = append(changed, p)
		}
	}
	s.notify(EventProgressUpdated, ProgressUpdate{
		SessionID: s.id,
		AreaCode:  evt.AreaCode,
		Units:     changed,
		Summary:   projector.Summarize(all),
		UpdatedAt: s.now(),
	})
}

func (s *Session) scheduledResync(trigger string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AggressiveInterval)
	defer cancel()
	s.Resync(ctx, trigger)
}

func (s *Session) checkHealth() {
	if !s.Alive() {
		return
	}
	s.health.Tick()
}

func (s *Session) syncRelay() {
	if !s.Alive() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RelayInterval)
	defer cancel()
	s.relay.Sync(ctx)
}

// Resync fetches today's ground truth and the fallback aggregate, then
// replaces the session's work units wholesale. Fetch failures keep the
// previous state. The outcome is recorded and returned, never raised.
func (s *Session) Resync(ctx context.Context, trigger string) models.ResyncRun {
	started := s.now()
	run := models.ResyncRun{
		ID:        uuid.New().String(),
		SessionID: s.id,
		Trigger:   trigger,
		Status:    models.RunRunning,
		StartedAt: started,
	}
	if !s.Alive() {
		return s.finishRun(run, models.RunFailed, ErrStopped.Error())
	}
	s.saveRun(&run)

	day := started
	var records []groundtruth.Record
	var floors map[string]groundtruth.Detections
	var floorsErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.backend.FetchUploadDetails(gctx, day)
		if err != nil {
			return err
		}
		records = r
		return nil
	})
	g.Go(func() error {
		floors, floorsErr = s.backend.FetchBlockDetections(gctx)
		return nil
	})
	fetchErr := g.Wait()

	if fetchErr != nil {
		log.Errorf("Resync (%s) failed, keeping previous progress: %v", trigger, fetchErr)
		s.restoreCached(day.Format(dayFormat))

		s.mu.Lock()
		if s.alive {
			s.lastError = fetchErr.Error()
		}
		s.mu.Unlock()
		return s.complete(run, models.RunFailed, fetchErr.Error())
	}
	if floorsErr != nil {
		log.Warningf("Detection aggregate unavailable, keeping previous counts: %v", floorsErr)
	}

	units := groundtruth.Aggregate(records, s.cfg.AuthorizedAreas)

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		log.Debugf("Discarding resync %s of stopped session", run.ID)
		return s.finishRun(run, models.RunFailed, ErrStopped.Error())
	}
	s.units = units
	if floorsErr == nil {
		s.floors = floors
	}
	s.lastUpdated = s.now()
	s.lastError = ""
	s.mu.Unlock()

	if s.db != nil {
		if err := saveRecords(s.db, day.Format(dayFormat), records, s.now()); err != nil {
			log.Warningf("Failed to cache ground truth: %v", err)
		}
	}

	run.Units = len(units)
	msg := fmt.Sprintf("%d records, %d work units", len(records), len(units))
	if floorsErr != nil {
		msg += "; detection aggregate unavailable"
	}
	return s.complete(run, models.RunCompleted, msg)
}

// restoreCached seeds an empty session from the local store so a session
// started while the backend is unreachable still shows known progress.
func (s *Session) restoreCached(day string) {
	if s.db == nil {
		return
	}

	s.mu.RLock()
	empty := len(s.units) == 0
	s.mu.RUnlock()
	if !empty {
		return
	}

	records, err := loadRecords(s.db, day)
	if err != nil {
		log.Warningf("No cached ground truth: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	units := groundtruth.Aggregate(records, s.cfg.AuthorizedAreas)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive && len(s.units) == 0 {
		s.units = units
		log.Infof("Restored %d work units from local cache", len(units))
	}
}

// complete records the run and notifies the UI with fresh projections and
// the next resync time.
func (s *Session) complete(run models.ResyncRun, status, message string) models.ResyncRun {
	run = s.finishRun(run, status, message)

	if !s.Alive() {
		return run
	}

	all := s.Progress()
	s.notify(EventProgressUpdated, ProgressUpdate{
		SessionID: s.id,
		Units:     all,
		Summary:   projector.Summarize(all),
		UpdatedAt: s.now(),
	})

	result := ResyncResult{Run: run}
	if next := s.poller.NextRun(); !next.IsZero() {
		result.NextResyncAt = &next
	}
	s.notify(EventResyncCompleted, result)
	return run
}

func (s *Session) finishRun(run models.ResyncRun, status, message string) models.ResyncRun {
	finished := s.now()
	run.Status = status
	run.Message = message
	run.FinishedAt = &finished

	if s.db != nil {
		if err := s.db.Save(&run).Error; err != nil {
			log.Warningf("Failed to record resync run: %v", err)
		}
	}
	return run
}

func (s *Session) saveRun(run *models.ResyncRun) {
	if s.db == nil {
		return
	}
	if err := s.db.Create(run).Error; err != nil {
		log.Warningf("Failed to record resync run: %v", err)
	}
}

// Progress projects every work unit against the latest push snapshots.
func (s *Session) Progress() []projector.Progress {
	s.mu.RLock()
	units := s.units
	floors := s.floors
	s.mu.RUnlock()

	return projector.ProjectAll(units, floors, s.cache.GetAll())
}

// Status returns the session overview.
func (s *Session) Status() Status {
	progress := s.Progress()

	s.mu.RLock()
	st := Status{
		SessionID: s.id,
		Operator:  s.cfg.Operator,
		Running:   s.alive,
		LastError: s.lastError,
	}
	if !s.lastUpdated.IsZero() {
		t := s.lastUpdated
		st.LastUpdated = &t
	}
	s.mu.RUnlock()

	st.Health = s.health.State()
	st.Mode = s.poller.Mode()
	if s.push != nil {
		st.Connected = s.push.IsConnected()
	}
	if last := s.cache.LastEventAt(); !last.IsZero() {
		st.LastEventAt = &last
	}
	if next := s.poller.NextRun(); !next.IsZero() {
		st.NextResyncAt = &next
	}
	st.Summary = projector.Summarize(progress)
	st.Tasks = s.sched.Tasks()
	return st
}

func (s *Session) notify(event string, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(event, payload)
}
