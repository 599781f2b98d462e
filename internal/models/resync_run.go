package models

import (
	"time"
)

// Resync run statuses
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// ResyncRun records one ground-truth resync cycle of a monitoring session.
type ResyncRun struct {
	ID         string     `gorm:"primaryKey" json:"id"`                           // UUID run ID
	SessionID  string     `gorm:"not null;index;column:session_id" json:"session_id"`
	Trigger    string     `gorm:"not null" json:"trigger"`                        // initial, baseline, aggressive, manual
	Status     string     `gorm:"not null;default:running" json:"status"`         // running, completed, failed
	Units      int        `gorm:"not null;default:0" json:"units"`                // work units after the resync
	Message    string     `gorm:"type:text" json:"message"`
	StartedAt  time.Time  `gorm:"not null;column:started_at" json:"started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

// TableName specifies the table name for GORM
func (ResyncRun) TableName() string {
	return "resync_runs"
}
