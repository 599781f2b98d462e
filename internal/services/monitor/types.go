package monitor

import (
	"context"
	"time"

	"dronesync-desktop/internal/api"
	"dronesync-desktop/internal/models"
	"dronesync-desktop/internal/services/groundtruth"
	"dronesync-desktop/internal/services/health"
	"dronesync-desktop/internal/services/projector"
	"dronesync-desktop/internal/services/pushcache"
	"dronesync-desktop/internal/services/scheduler"
)

// UI event names
const (
	EventProgressUpdated = "progress:updated"
	EventHealthChanged   = "health:changed"
	EventResyncCompleted = "resync:completed"
)

// Resync triggers
const (
	TriggerInitial    = "initial"
	TriggerBaseline   = "baseline"
	TriggerAggressive = "aggressive"
	TriggerManual     = "manual"
)

// Backend is the REST collaborator: ground truth reads plus relay writes.
type Backend interface {
	FetchUploadDetails(ctx context.Context, day time.Time) ([]groundtruth.Record, error)
	FetchBlockDetections(ctx context.Context) (map[string]groundtruth.Detections, error)
	UpdateUploadStatus(ctx context.Context, update api.StatusUpdate) error
	UpdateDetection(ctx context.Context, update api.DetectionUpdate) error
}

// PushChannel is the push transport collaborator.
type PushChannel interface {
	Subscribe(ctx context.Context, channel, event string) (<-chan pushcache.Event, error)
	IsConnected() bool
}

// Notifier delivers session events to the UI.
type Notifier interface {
	Notify(event string, payload interface{})
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(event string, payload interface{})

func (f NotifierFunc) Notify(event string, payload interface{}) { f(event, payload) }

// Config holds the per-session settings.
type Config struct {
	Operator           string
	AuthorizedAreas    []string
	Channel            string
	Event              string
	HealthTick         time.Duration
	SilenceThreshold   time.Duration
	NormalInterval     time.Duration
	AggressiveInterval time.Duration
	RelayInterval      time.Duration
	RelayConcurrency   int
	Supersede          pushcache.SupersedePolicy
}

// ProgressUpdate is the progress:updated payload. AreaCode is set when only
// that area changed.
type ProgressUpdate struct {
	SessionID string               `json:"session_id"`
	AreaCode  string               `json:"area_code,omitempty"`
	Units     []projector.Progress `json:"units"`
	Summary   projector.Summary    `json:"summary"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ResyncResult is the resync:completed payload.
type ResyncResult struct {
	Run          models.ResyncRun `json:"run"`
	NextResyncAt *time.Time       `json:"next_resync_at,omitempty"`
}

// Status is the session overview shown next to the progress list.
type Status struct {
	SessionID    string                `json:"session_id"`
	Operator     string                `json:"operator"`
	Running      bool                  `json:"running"`
	Health       health.State          `json:"health"`
	Mode         scheduler.PollingMode `json:"mode"`
	Connected    bool                  `json:"connected"`
	LastEventAt  *time.Time            `json:"last_event_at,omitempty"`
	LastUpdated  *time.Time            `json:"last_updated,omitempty"`
	NextResyncAt *time.Time            `json:"next_resync_at,omitempty"`
	LastError    string                `json:"last_error,omitempty"`
	Summary      projector.Summary     `json:"summary"`
	Tasks        []scheduler.TaskInfo  `json:"tasks"`
}
