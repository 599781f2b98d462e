package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dronesync-desktop/internal/models"
	"dronesync-desktop/internal/services/groundtruth"
)

const dayFormat = "2006-01-02"

// saveRecords replaces the cached ground truth of a day.
func saveRecords(db *gorm.DB, day string, records []groundtruth.Record, fetchedAt time.Time) error {
	rows := make([]models.CachedRecord, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.New().String()
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		rows = append(rows, models.CachedRecord{
			ID:                   id,
			Day:                  day,
			Operator:             r.Operator,
			AreaCodes:            strings.Join(r.AreaCodes, ","),
			Phase:                r.Phase,
			StartUploads:         r.StartUploads,
			CreatedAt:            r.CreatedAt,
			DetectionStartedAt:   r.DetectionStartedAt,
			DetectionCompletedAt: r.DetectionCompletedAt,
			FetchedAt:            fetchedAt,
		})
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("day = ?", day).Delete(&models.CachedRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear cached records: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("failed to cache records: %w", err)
		}
		return nil
	})
}

// loadRecords returns the cached ground truth of a day.
func loadRecords(db *gorm.DB, day string) ([]groundtruth.Record, error) {
	var rows []models.CachedRecord
	if err := db.Where("day = ?", day).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load cached records: %w", err)
	}

	records := make([]groundtruth.Record, 0, len(rows))
	for _, row := range rows {
		var areas []string
		for _, a := range strings.Split(row.AreaCodes, ",") {
			if a = strings.TrimSpace(a); a != "" {
				areas = append(areas, a)
			}
		}
		records = append(records, groundtruth.Record{
			ID:                   row.ID,
			Operator:             row.Operator,
			AreaCodes:            areas,
			Phase:                row.Phase,
			StartUploads:         row.StartUploads,
			CreatedAt:            row.CreatedAt,
			DetectionStartedAt:   row.DetectionStartedAt,
			DetectionCompletedAt: row.DetectionCompletedAt,
		})
	}
	return records, nil
}

// RecentRuns lists the latest resync runs, newest first. An empty sessionID
// lists runs of every session.
func RecentRuns(db *gorm.DB, sessionID string, limit int) ([]models.ResyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.Order("started_at DESC").Limit(limit)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}

	var runs []models.ResyncRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list resync runs: %w", err)
	}
	return runs, nil
}
