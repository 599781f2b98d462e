package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Profile represents one operator login against a field-operations backend.
// The API token is kept in the OS keychain (see internal/credentials), never here.
type Profile struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"unique;not null" json:"name"`
	BaseURL         string    `gorm:"not null;column:base_url" json:"base_url"`
	Operator        string    `gorm:"not null" json:"operator"`
	AuthorizedAreas string    `gorm:"type:text;column:authorized_areas" json:"authorized_areas"` // comma separated, empty = all
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (Profile) TableName() string {
	return "profiles"
}

// Areas splits AuthorizedAreas into trimmed, non-empty area codes.
func (p *Profile) Areas() []string {
	var areas []string
	for _, a := range strings.Split(p.AuthorizedAreas, ",") {
		if a = strings.TrimSpace(a); a != "" {
			areas = append(areas, a)
		}
	}
	return areas
}
