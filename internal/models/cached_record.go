package models

import (
	"time"
)

// CachedRecord is the last successfully fetched copy of one upload session
// record, kept so a restart without backend access still shows known progress.
type CachedRecord struct {
	ID                   string     `gorm:"primaryKey" json:"id"`
	Day                  string     `gorm:"not null;index" json:"day"` // YYYY-MM-DD the record was fetched for
	Operator             string     `json:"operator"`
	AreaCodes            string     `gorm:"type:text;column:area_codes" json:"area_codes"` // comma separated
	Phase                int        `gorm:"not null;default:0" json:"phase"`
	StartUploads         *int       `gorm:"column:start_uploads" json:"start_uploads"`
	CreatedAt            time.Time  `json:"created_at"`
	DetectionStartedAt   *time.Time `gorm:"column:detection_started_at" json:"detection_started_at"`
	DetectionCompletedAt *time.Time `gorm:"column:detection_completed_at" json:"detection_completed_at"`
	FetchedAt            time.Time  `gorm:"not null;column:fetched_at" json:"fetched_at"`
}

// TableName specifies the table name for GORM
func (CachedRecord) TableName() string {
	return "cached_records"
}
