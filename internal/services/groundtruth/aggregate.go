package groundtruth

import (
	"sort"
	"strings"
	"time"

	"dronesync-desktop/internal/logging"
)

var log = logging.Get("groundtruth")

// Aggregate folds upload session records into work units keyed by (area, phase).
//
// A record naming a single area contributes its full StartUploads to that area.
// A record naming several areas contributes ceil(StartUploads/areaCount) to each
// of them. Areas outside authorizedAreas are dropped unless the list is empty.
// Records without StartUploads contribute 0 and are logged, never rejected.
func Aggregate(records []Record, authorizedAreas []string) map[UnitKey]WorkUnit {
	allowed := make(map[string]bool, len(authorizedAreas))
	for _, a := range authorizedAreas {
		if a = strings.TrimSpace(a); a != "" {
			allowed[a] = true
		}
	}

	units := make(map[UnitKey]WorkUnit)
	// earliest record per unit; it supplies Operator and SessionID
	owners := make(map[UnitKey]Record)

	for _, rec := range records {
		areas := namedAreas(rec.AreaCodes)
		if len(areas) == 0 {
			log.Warningf("Upload record %s has no area code, skipping", rec.ID)
			continue
		}

		total := 0
		if rec.StartUploads == nil {
			log.Warningf("Upload record %s is missing startUploads, counting 0", rec.ID)
		} else if *rec.StartUploads < 0 {
			log.Warningf("Upload record %s has negative startUploads %d, counting 0", rec.ID, *rec.StartUploads)
		} else {
			total = *rec.StartUploads
		}

		share := total
		if len(areas) > 1 {
			share = ceilDiv(total, len(areas))
		}

		for _, area := range areas {
			if len(allowed) > 0 && !allowed[area] {
				continue
			}

			key := UnitKey{AreaCode: area, Phase: rec.Phase}
			unit, exists := units[key]
			if !exists {
				unit = WorkUnit{
					AreaCode:  area,
					Phase:     rec.Phase,
					Operator:  rec.Operator,
					SessionID: rec.ID,
					CreatedAt: rec.CreatedAt,
				}
				owners[key] = rec
			} else if rec.CreatedAt.Before(owners[key].CreatedAt) {
				unit.Operator = rec.Operator
				unit.SessionID = rec.ID
				unit.CreatedAt = rec.CreatedAt
				owners[key] = rec
			}

			unit.ExpectedTotal += share
			unit.DetectionStartedAt = earliest(unit.DetectionStartedAt, rec.DetectionStartedAt)
			unit.DetectionCompletedAt = latest(unit.DetectionCompletedAt, rec.DetectionCompletedAt)
			units[key] = unit
		}
	}

	return units
}

// Sorted returns the units ordered by creation time, then area, then phase.
func Sorted(units map[UnitKey]WorkUnit) []WorkUnit {
	out := make([]WorkUnit, 0, len(units))
	for _, u := range units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.AreaCode != b.AreaCode {
			return a.AreaCode < b.AreaCode
		}
		return a.Phase < b.Phase
	})
	return out
}

// namedAreas trims and de-duplicates the record's area codes, keeping order.
func namedAreas(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	areas := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		areas = append(areas, c)
	}
	return areas
}

func ceilDiv(total, n int) int {
	if n <= 0 {
		return 0
	}
	return (total + n - 1) / n
}

func earliest(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.Before(*current) {
		t := *candidate
		return &t
	}
	return current
}

func latest(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.After(*current) {
		t := *candidate
		return &t
	}
	return current
}
