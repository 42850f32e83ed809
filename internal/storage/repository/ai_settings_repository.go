package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cinvymoe/patrol_server/internal/storage/db"
	"github.com/cinvymoe/patrol_server/internal/storage/models"
)

// AISettingsRepository handles AI settings database operations. The table
// holds a single row; Get returns nil when it has not been initialized.
type AISettingsRepository struct {
	db *db.DB
}

// NewAISettingsRepository creates a new AI settings repository
func NewAISettingsRepository(database *db.DB) *AISettingsRepository {
	return &AISettingsRepository{db: database}
}

const aiSettingsColumns = `id, camera_id, camera_name, camera_url, confidence_threshold,
		danger_zone, warning_zone, sound_alarm, visual_alarm, auto_screenshot,
		alarm_cooldown, enabled, created_at, updated_at`

// Get retrieves the AI settings row
func (r *AISettingsRepository) Get(ctx context.Context) (*models.AISettings, error) {
	query := `
		SELECT ` + aiSettingsColumns + `
		FROM ai_settings
		ORDER BY created_at
		LIMIT 1
	`

	settings := &models.AISettings{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&settings.ID, &settings.CameraID, &settings.CameraName, &settings.CameraURL,
		&settings.ConfidenceThreshold, &settings.DangerZone, &settings.WarningZone,
		&settings.SoundAlarm, &settings.VisualAlarm, &settings.AutoScreenshot,
		&settings.AlarmCooldown, &settings.Enabled, &settings.CreatedAt, &settings.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get AI settings: %w", err)
	}

	return settings, nil
}
