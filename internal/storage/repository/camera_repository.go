package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cinvymoe/patrol_server/internal/storage/db"
	"github.com/cinvymoe/patrol_server/internal/storage/models"
)

// CameraRepository handles camera database operations
type CameraRepository struct {
	db *db.DB
}

// NewCameraRepository creates a new camera repository
func NewCameraRepository(database *db.DB) *CameraRepository {
	return &CameraRepository{db: database}
}

const cameraColumns = `id, name, url, enabled, status, directions, created_at, updated_at`

func scanCamera(row interface{ Scan(...interface{}) error }) (*models.Camera, error) {
	camera := &models.Camera{}
	err := row.Scan(
		&camera.ID, &camera.Name, &camera.URL, &camera.Enabled, &camera.Status,
		&camera.Directions, &camera.CreatedAt, &camera.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return camera, nil
}

// GetByID retrieves a camera by ID
func (r *CameraRepository) GetByID(ctx context.Context, id string) (*models.Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE id = $1
	`

	camera, err := scanCamera(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("camera not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}

	return camera, nil
}

// List retrieves all cameras
func (r *CameraRepository) List(ctx context.Context) ([]*models.Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	cameras := []*models.Camera{}
	for rows.Next() {
		camera, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, camera)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cameras: %w", err)
	}

	return cameras, nil
}

// ListEnabled retrieves all enabled cameras
func (r *CameraRepository) ListEnabled(ctx context.Context) ([]*models.Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE enabled = true
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled cameras: %w", err)
	}
	defer rows.Close()

	cameras := []*models.Camera{}
	for rows.Next() {
		camera, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, camera)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cameras: %w", err)
	}

	return cameras, nil
}

// ListEnabledByIDs retrieves the enabled cameras among the given ids
func (r *CameraRepository) ListEnabledByIDs(ctx context.Context, ids []string) ([]*models.Camera, error) {
	if len(ids) == 0 {
		return []*models.Camera{}, nil
	}

	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE enabled = true AND id = ANY($1)
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras by ids: %w", err)
	}
	defer rows.Close()

	cameras := []*models.Camera{}
	for rows.Next() {
		camera, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, camera)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cameras: %w", err)
	}

	return cameras, nil
}

// UpdateStatus updates camera status
func (r *CameraRepository) UpdateStatus(ctx context.Context, id string, status string, checkedAt time.Time) error {
	query := `
		UPDATE cameras
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, status, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to update camera status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("camera not found: %s", id)
	}

	return nil
}

// Count returns the total number of cameras
func (r *CameraRepository) Count(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM cameras`

	var count int
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cameras: %w", err)
	}

	return count, nil
}
