package repository

import (
	"context"
	"fmt"

	"github.com/cinvymoe/patrol_server/internal/storage/db"
	"github.com/cinvymoe/patrol_server/internal/storage/models"
)

// AngleRangeRepository handles angle range database operations
type AngleRangeRepository struct {
	db *db.DB
}

// NewAngleRangeRepository creates a new angle range repository
func NewAngleRangeRepository(database *db.DB) *AngleRangeRepository {
	return &AngleRangeRepository{db: database}
}

const angleRangeColumns = `id, name, min_angle, max_angle, enabled, camera_ids, created_at, updated_at`

func scanAngleRange(row interface{ Scan(...interface{}) error }) (*models.AngleRange, error) {
	ar := &models.AngleRange{}
	err := row.Scan(
		&ar.ID, &ar.Name, &ar.MinAngle, &ar.MaxAngle, &ar.Enabled,
		&ar.CameraIDs, &ar.CreatedAt, &ar.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return ar, nil
}

// ListEnabled retrieves all enabled angle ranges
func (r *AngleRangeRepository) ListEnabled(ctx context.Context) ([]*models.AngleRange, error) {
	query := `
		SELECT ` + angleRangeColumns + `
		FROM angle_ranges
		WHERE enabled = true
		ORDER BY min_angle
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list angle ranges: %w", err)
	}
	defer rows.Close()

	ranges := []*models.AngleRange{}
	for rows.Next() {
		ar, err := scanAngleRange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan angle range: %w", err)
		}
		ranges = append(ranges, ar)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating angle ranges: %w", err)
	}

	return ranges, nil
}

// ListEnabledContaining retrieves the enabled angle ranges covering the angle
func (r *AngleRangeRepository) ListEnabledContaining(ctx context.Context, angle float64) ([]*models.AngleRange, error) {
	query := `
		SELECT ` + angleRangeColumns + `
		FROM angle_ranges
		WHERE enabled = true AND min_angle <= $1 AND max_angle >= $1
		ORDER BY min_angle
	`

	rows, err := r.db.QueryContext(ctx, query, angle)
	if err != nil {
		return nil, fmt.Errorf("failed to list angle ranges for angle: %w", err)
	}
	defer rows.Close()

	ranges := []*models.AngleRange{}
	for rows.Next() {
		ar, err := scanAngleRange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan angle range: %w", err)
		}
		ranges = append(ranges, ar)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating angle ranges: %w", err)
	}

	return ranges, nil
}
