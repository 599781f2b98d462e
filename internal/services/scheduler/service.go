package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dronesync-desktop/internal/logging"
)

var log = logging.Get("scheduler")

// Service runs named, cancellable repeating tasks on a robfig/cron scheduler.
// At most one entry exists per name; scheduling a name again replaces it.
type Service struct {
	cron    *cron.Cron
	tasks   map[string]task // task name -> cron entry
	tasksMu sync.RWMutex
}

type task struct {
	entryID cron.EntryID
	every   time.Duration
}

// NewService creates a scheduler whose jobs recover from panics.
func NewService() *Service {
	cronLog := logging.CronLogger{Log: log}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)

	return &Service{
		cron:  c,
		tasks: make(map[string]task),
	}
}

// Start begins firing scheduled tasks.
func (s *Service) Start() {
	s.cron.Start()
	log.Debug("Cron scheduler started")
}

// Stop halts the scheduler and removes every task. It does not wait for
// running jobs; the returned context is done once they have finished.
func (s *Service) Stop() context.Context {
	s.CancelAll()
	ctx := s.cron.Stop()
	log.Debug("Cron scheduler stopped")
	return ctx
}

// Schedule registers fn to run every interval under name, replacing any task
// already registered with that name. Intervals are rounded down to whole
// seconds, with a one second minimum.
func (s *Service) Schedule(name string, every time.Duration, fn func()) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	if every <= 0 {
		return fmt.Errorf("invalid interval for task %s: %v", name, every)
	}
	if fn == nil {
		return fmt.Errorf("task %s has no function", name)
	}

	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	// Remove existing entry if present
	if existing, exists := s.tasks[name]; exists {
		s.cron.Remove(existing.entryID)
	}

	entryID := s.cron.Schedule(cron.Every(every), cron.FuncJob(fn))
	s.tasks[name] = task{entryID: entryID, every: every}

	log.Debugf("Scheduled task %s every %v", name, every)
	return nil
}

// Cancel removes the named task. It reports whether the task existed.
func (s *Service) Cancel(name string) bool {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	existing, exists := s.tasks[name]
	if !exists {
		return false
	}
	s.cron.Remove(existing.entryID)
	delete(s.tasks, name)

	log.Debugf("Cancelled task %s", name)
	return true
}

// CancelAll removes every task.
func (s *Service) CancelAll() {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	for name, t := range s.tasks {
		s.cron.Remove(t.entryID)
		delete(s.tasks, name)
	}
}

// Has reports whether a task is registered under name.
func (s *Service) Has(name string) bool {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	_, exists := s.tasks[name]
	return exists
}

// Next returns the next fire time of the named task. It is false when the
// task does not exist or the scheduler has not computed a time yet.
func (s *Service) Next(name string) (time.Time, bool) {
	s.tasksMu.RLock()
	t, exists := s.tasks[name]
	s.tasksMu.RUnlock()
	if !exists {
		return time.Time{}, false
	}

	next := s.cron.Entry(t.entryID).Next
	return next, !next.IsZero()
}

// Tasks lists the registered tasks ordered by name.
func (s *Service) Tasks() []TaskInfo {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()

	infos := make([]TaskInfo, 0, len(s.tasks))
	for name, t := range s.tasks {
		info := TaskInfo{Name: name, Every: t.every}
		entry := s.cron.Entry(t.entryID)
		if !entry.Next.IsZero() {
			next := entry.Next
			info.NextRun = &next
		}
		if !entry.Prev.IsZero() {
			prev := entry.Prev
			info.PrevRun = &prev
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
