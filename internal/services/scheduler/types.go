package scheduler

import "time"

// PollingMode is the resync cadence layered on top of the baseline poll.
type PollingMode int

const (
	// RealTime trusts the push channel; only the baseline poll runs.
	RealTime PollingMode = iota
	// Normal is the baseline cadence on its own.
	Normal
	// Aggressive adds a faster resync while push health is poor.
	Aggressive
)

func (m PollingMode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Normal:
		return "normal"
	case Aggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// MarshalText renders the mode name in JSON payloads.
func (m PollingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Task names owned by a monitoring session
const (
	TaskBaselinePoll   = "resync:baseline"
	TaskAggressivePoll = "resync:aggressive"
	TaskHealthCheck    = "health:check"
	TaskSyncRelay      = "relay:sync"
)

// TaskInfo describes a scheduled task in list responses
type TaskInfo struct {
	Name    string        `json:"name"`
	Every   time.Duration `json:"every"`
	NextRun *time.Time    `json:"next_run"`
	PrevRun *time.Time    `json:"prev_run"`
}
