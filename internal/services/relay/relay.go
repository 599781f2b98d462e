package relay

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"dronesync-desktop/internal/api"
	"dronesync-desktop/internal/logging"
	"dronesync-desktop/internal/services/pushcache"
)

var log = logging.Get("relay")

// StatusActive is the status reported for areas still being processed.
const StatusActive = "active"

// Updater is the REST write side the relay drains into.
type Updater interface {
	UpdateUploadStatus(ctx context.Context, update api.StatusUpdate) error
	UpdateDetection(ctx context.Context, update api.DetectionUpdate) error
}

// Source provides the push snapshots to relay.
type Source interface {
	GetAll() map[string]pushcache.Snapshot
}

// Result summarizes one relay pass.
type Result struct {
	Areas  int `json:"areas"`
	Failed int `json:"failed"`
}

// Relay copies locally observed push counts back to the backend so other
// devices see them. Failed areas are simply retried on the next pass.
type Relay struct {
	updater     Updater
	source      Source
	operator    string
	concurrency int

	mu           sync.Mutex
	lastDetected map[string]int // area -> detected count last relayed
}

// New creates a relay. concurrency bounds in-flight requests per pass.
func New(updater Updater, source Source, operator string, concurrency int) *Relay {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Relay{
		updater:      updater,
		source:       source,
		operator:     operator,
		concurrency:  concurrency,
		lastDetected: make(map[string]int),
	}
}

// Sync relays every cached area once. A failing area never stops the others.
func (r *Relay) Sync(ctx context.Context) Result {
	snapshots := r.source.GetAll()
	if len(snapshots) == 0 {
		return Result{}
	}

	areas := make([]string, 0, len(snapshots))
	for area := range snapshots {
		areas = append(areas, area)
	}
	sort.Strings(areas)

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, area := range areas {
		snap := snapshots[area]
		g.Go(func() error {
			if err := r.syncArea(gctx, area, snap); err != nil {
				failed.Add(1)
				log.Warningf("Relay for area %s failed, retrying next tick: %v", area, err)
			}
			return nil
		})
	}
	g.Wait()

	res := Result{Areas: len(areas), Failed: int(failed.Load())}
	log.Debugf("Relayed %d areas (%d failed)", res.Areas, res.Failed)
	return res
}

func (r *Relay) syncArea(ctx context.Context, area string, snap pushcache.Snapshot) error {
	if err := r.updater.UpdateUploadStatus(ctx, api.StatusUpdate{
		Operator:   r.operator,
		AreaCode:   area,
		Status:     StatusActive,
		EndUploads: snap.TotalProcessed,
	}); err != nil {
		return err
	}

	r.mu.Lock()
	prev, seen := r.lastDetected[area]
	r.mu.Unlock()
	if seen && prev == snap.Detected {
		return nil
	}

	if err := r.updater.UpdateDetection(ctx, api.DetectionUpdate{
		AreaCode:      area,
		TotalDetected: snap.Detected,
		Operator:      r.operator,
	}); err != nil {
		return err
	}

	r.mu.Lock()
	r.lastDetected[area] = snap.Detected
	r.mu.Unlock()
	return nil
}

// Reset forgets which detection counts were relayed.
func (r *Relay) Reset() {
	r.mu.Lock()
	r.lastDetected = make(map[string]int)
	r.mu.Unlock()
}
