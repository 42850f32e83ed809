package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinvymoe/patrol_server/internal/storage/db"
)

func newMockDB(t *testing.T) (*db.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.Wrap(conn), mock
}

func cameraRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "url", "enabled", "status", "directions", "created_at", "updated_at",
	}).AddRow("cam-1", "Front", "rtsp://front", true, "online", []byte(`["forward","left"]`), now, now)
}

func TestCameraRepository_GetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewCameraRepository(database)

		mock.ExpectQuery("SELECT (.+) FROM cameras").
			WithArgs("cam-1").
			WillReturnRows(cameraRows())

		camera, err := repo.GetByID(context.Background(), "cam-1")
		require.NoError(t, err)
		assert.Equal(t, "cam-1", camera.ID)
		assert.Equal(t, "Front", camera.Name)
		assert.Equal(t, []string{"forward", "left"}, []string(camera.Directions))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewCameraRepository(database)

		mock.ExpectQuery("SELECT (.+) FROM cameras").
			WithArgs("cam-9").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "url", "enabled", "status", "directions", "created_at", "updated_at",
			}))

		_, err := repo.GetByID(context.Background(), "cam-9")
		assert.ErrorContains(t, err, "camera not found")
	})
}

func TestCameraRepository_ListEnabled(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewCameraRepository(database)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "name", "url", "enabled", "status", "directions", "created_at", "updated_at",
	}).
		AddRow("cam-1", "Front", "rtsp://front", true, "online", []byte(`["forward"]`), now, now).
		AddRow("cam-2", "Left", "rtsp://left", true, "offline", []byte(`["left"]`), now, now)

	mock.ExpectQuery("SELECT (.+) FROM cameras").WillReturnRows(rows)

	cameras, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, cameras, 2)
	assert.Equal(t, "cam-2", cameras[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCameraRepository_ListEnabledByIDs(t *testing.T) {
	t.Run("empty input skips the query", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewCameraRepository(database)

		cameras, err := repo.ListEnabledByIDs(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, cameras)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("queries with id array", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewCameraRepository(database)

		mock.ExpectQuery("SELECT (.+) FROM cameras").
			WillReturnRows(cameraRows())

		cameras, err := repo.ListEnabledByIDs(context.Background(), []string{"cam-1"})
		require.NoError(t, err)
		require.Len(t, cameras, 1)
		assert.Equal(t, "cam-1", cameras[0].ID)
	})
}

func TestCameraRepository_UpdateStatus(t *testing.T) {
	t.Run("updates", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewCameraRepository(database)

		mock.ExpectExec("UPDATE cameras").
			WithArgs("cam-1", "offline", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateStatus(context.Background(), "cam-1", "offline", time.Now())
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing camera", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewCameraRepository(database)

		mock.ExpectExec("UPDATE cameras").
			WithArgs("cam-9", "online", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateStatus(context.Background(), "cam-9", "online", time.Now())
		assert.ErrorContains(t, err, "camera not found")
	})
}

func TestCameraRepository_Count(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewCameraRepository(database)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAngleRangeRepository_ListEnabledContaining(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewAngleRangeRepository(database)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "name", "min_angle", "max_angle", "enabled", "camera_ids", "created_at", "updated_at",
	}).AddRow("r1", "north", -45.0, 45.0, true, []byte(`["cam-1","cam-2"]`), now, now)

	mock.ExpectQuery("SELECT (.+) FROM angle_ranges").
		WithArgs(10.0).
		WillReturnRows(rows)

	ranges, err := repo.ListEnabledContaining(context.Background(), 10.0)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, "r1", ranges[0].ID)
	assert.Equal(t, []string{"cam-1", "cam-2"}, []string(ranges[0].CameraIDs))
	assert.True(t, ranges[0].Contains(10))
	assert.False(t, ranges[0].Contains(90))
}

func TestAngleRangeRepository_ListEnabled(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewAngleRangeRepository(database)

	rows := sqlmock.NewRows([]string{
		"id", "name", "min_angle", "max_angle", "enabled", "camera_ids", "created_at", "updated_at",
	})

	mock.ExpectQuery("SELECT (.+) FROM angle_ranges").WillReturnRows(rows)

	ranges, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ranges)
	assert.NotNil(t, ranges)
}

func TestAISettingsRepository_Get(t *testing.T) {
	t.Run("row exists", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewAISettingsRepository(database)

		now := time.Now()
		cameraID := "cam-1"
		rows := sqlmock.NewRows([]string{
			"id", "camera_id", "camera_name", "camera_url", "confidence_threshold",
			"danger_zone", "warning_zone", "sound_alarm", "visual_alarm", "auto_screenshot",
			"alarm_cooldown", "enabled", "created_at", "updated_at",
		}).AddRow("s1", cameraID, "Gate", "rtsp://gate", 0.5, 1.0, 2.0, true, true, false, 30.0, true, now, now)

		mock.ExpectQuery("SELECT (.+) FROM ai_settings").WillReturnRows(rows)

		settings, err := repo.Get(context.Background())
		require.NoError(t, err)
		require.NotNil(t, settings)
		require.NotNil(t, settings.CameraID)
		assert.Equal(t, "cam-1", *settings.CameraID)
		assert.True(t, settings.Enabled)
	})

	t.Run("no row yields nil", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewAISettingsRepository(database)

		mock.ExpectQuery("SELECT (.+) FROM ai_settings").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		settings, err := repo.Get(context.Background())
		require.NoError(t, err)
		assert.Nil(t, settings)
	})
}
