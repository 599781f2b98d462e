package groundtruth

import "time"

// Record is one upload session record as stored by the backend. A record is
// created per upload action and may name one or more areas.
type Record struct {
	ID                   string     `json:"id"`
	Operator             string     `json:"operator"`
	AreaCodes            []string   `json:"area_codes"`
	Phase                int        `json:"phase"`
	StartUploads         *int       `json:"start_uploads"` // nil when the backend omitted it
	CreatedAt            time.Time  `json:"created_at"`
	DetectionStartedAt   *time.Time `json:"detection_started_at,omitempty"`
	DetectionCompletedAt *time.Time `json:"detection_completed_at,omitempty"`
}

// UnitKey identifies a work unit.
type UnitKey struct {
	AreaCode string `json:"area_code"`
	Phase    int    `json:"phase"`
}

// WorkUnit is the progress-tracking granularity: every record contributing
// to one (area, phase) pair, folded together.
type WorkUnit struct {
	AreaCode             string     `json:"area_code"`
	Phase                int        `json:"phase"`
	ExpectedTotal        int        `json:"expected_total"`
	Operator             string     `json:"operator"`
	SessionID            string     `json:"session_id"`
	CreatedAt            time.Time  `json:"created_at"`
	DetectionStartedAt   *time.Time `json:"detection_started_at,omitempty"`
	DetectionCompletedAt *time.Time `json:"detection_completed_at,omitempty"`
}

// Key returns the unit's map key.
func (u WorkUnit) Key() UnitKey {
	return UnitKey{AreaCode: u.AreaCode, Phase: u.Phase}
}

// Detections is the fallback aggregate the dashboard endpoint reports per
// area: how many files were processed and how they were classified.
type Detections struct {
	AreaCode   string `json:"area_code"`
	Total      int    `json:"total"`
	Detected   int    `json:"detected"`
	Undetected int    `json:"undetected"`
}

// Processed is the ground-truth processed count for the area.
func (d Detections) Processed() int {
	return d.Detected + d.Undetected
}
