package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList is a JSON-encoded array of strings stored in a JSONB column.
type StringList []string

// Value implements the driver.Valuer interface for database storage
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for database retrieval
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan StringList: expected []byte, got %T", value)
	}

	return json.Unmarshal(bytes, l)
}

// Camera represents a patrol camera in the system
type Camera struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	URL        string     `json:"url" db:"url"`
	Enabled    bool       `json:"enabled" db:"enabled"`
	Status     string     `json:"status" db:"status"` // online, offline
	Directions StringList `json:"directions" db:"directions"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// AngleRange binds a span of heading angles to a set of cameras
type AngleRange struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	MinAngle  float64    `json:"min_angle" db:"min_angle"`
	MaxAngle  float64    `json:"max_angle" db:"max_angle"`
	Enabled   bool       `json:"enabled" db:"enabled"`
	CameraIDs StringList `json:"camera_ids" db:"camera_ids"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Contains reports whether the range covers the angle, bounds inclusive.
func (r *AngleRange) Contains(angle float64) bool {
	return r.MinAngle <= angle && angle <= r.MaxAngle
}

// AISettings holds the person detection configuration, including the camera
// the detection monitor binds to
type AISettings struct {
	ID                  string    `json:"id" db:"id"`
	CameraID            *string   `json:"camera_id,omitempty" db:"camera_id"`
	CameraName          *string   `json:"camera_name,omitempty" db:"camera_name"`
	CameraURL           *string   `json:"camera_url,omitempty" db:"camera_url"`
	ConfidenceThreshold float64   `json:"confidence_threshold" db:"confidence_threshold"`
	DangerZone          float64   `json:"danger_zone" db:"danger_zone"`
	WarningZone         float64   `json:"warning_zone" db:"warning_zone"`
	SoundAlarm          bool      `json:"sound_alarm" db:"sound_alarm"`
	VisualAlarm         bool      `json:"visual_alarm" db:"visual_alarm"`
	AutoScreenshot      bool      `json:"auto_screenshot" db:"auto_screenshot"`
	AlarmCooldown       float64   `json:"alarm_cooldown" db:"alarm_cooldown"`
	Enabled             bool      `json:"enabled" db:"enabled"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
