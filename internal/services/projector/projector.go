package projector

import (
	"math"
	"time"

	"dronesync-desktop/internal/services/groundtruth"
	"dronesync-desktop/internal/services/pushcache"
)

// State classifies a work unit.
type State string

const (
	InProgress State = "in_progress"
	Complete   State = "complete"
)

// Source names which reading supplied the processed count.
type Source string

const (
	SourceGroundTruth Source = "ground_truth"
	SourcePush        Source = "push"
)

// Progress is the rendered model of one work unit.
type Progress struct {
	AreaCode             string     `json:"area_code"`
	Phase                int        `json:"phase"`
	Processed            int        `json:"processed"`
	ExpectedTotal        int        `json:"expected_total"`
	DetectedCount        int        `json:"detected_count"`
	UndetectedCount      int        `json:"undetected_count"`
	ProgressPct          int        `json:"progress_pct"`
	Queued               int        `json:"queued"`
	State                State      `json:"state"`
	Source               Source     `json:"source"`
	DetectionCompletedAt *time.Time `json:"detection_completed_at,omitempty"`
}

// Project merges a unit with the best available processed count.
//
// A present push snapshot wins when it reports at least as many processed
// files as the ground-truth floor; detected/undetected always come from the
// same reading as the processed count, never a sum of both.
func Project(unit groundtruth.WorkUnit, floor groundtruth.Detections, push *pushcache.Snapshot) Progress {
	p := Progress{
		AreaCode:             unit.AreaCode,
		Phase:                unit.Phase,
		ExpectedTotal:        unit.ExpectedTotal,
		Processed:            floor.Processed(),
		DetectedCount:        floor.Detected,
		UndetectedCount:      floor.Undetected,
		Source:               SourceGroundTruth,
		DetectionCompletedAt: unit.DetectionCompletedAt,
	}

	if push != nil && push.TotalProcessed >= p.Processed {
		p.Processed = push.TotalProcessed
		p.DetectedCount = push.Detected
		p.UndetectedCount = push.Undetected
		p.Source = SourcePush
	}

	if p.Processed < 0 {
		p.Processed = 0
	}

	p.ProgressPct = percent(p.Processed, unit.ExpectedTotal)

	if unit.DetectionCompletedAt == nil && unit.ExpectedTotal > p.Processed {
		p.Queued = unit.ExpectedTotal - p.Processed
	}

	if unit.DetectionCompletedAt != nil || p.Processed >= unit.ExpectedTotal {
		p.State = Complete
	} else {
		p.State = InProgress
	}
	return p
}

// ProjectAll projects every unit in groundtruth.Sorted order. floors and
// snapshots are keyed by area code; missing entries mean "no reading".
func ProjectAll(units map[groundtruth.UnitKey]groundtruth.WorkUnit, floors map[string]groundtruth.Detections, snapshots map[string]pushcache.Snapshot) []Progress {
	sorted := groundtruth.Sorted(units)
	out := make([]Progress, 0, len(sorted))
	for _, unit := range sorted {
		var push *pushcache.Snapshot
		if snap, ok := snapshots[unit.AreaCode]; ok {
			push = &snap
		}
		out = append(out, Project(unit, floors[unit.AreaCode], push))
	}
	return out
}

// Summary totals a set of projections for status displays.
type Summary struct {
	Units      int `json:"units"`
	Complete   int `json:"complete"`
	InProgress int `json:"in_progress"`
	Queued     int `json:"queued"`
}

// Summarize counts units per state and sums queued files.
func Summarize(progress []Progress) Summary {
	s := Summary{Units: len(progress)}
	for _, p := range progress {
		if p.State == Complete {
			s.Complete++
		} else {
			s.InProgress++
		}
		s.Queued += p.Queued
	}
	return s
}

func percent(processed, expected int) int {
	if expected <= 0 {
		return 0
	}
	pct := int(math.Round(float64(processed) / float64(expected) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
