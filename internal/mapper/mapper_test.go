package mapper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/storage/models"
)

type fakeCameraStore struct {
	cameras []*models.Camera
	err     error
}

func (f *fakeCameraStore) ListEnabled(ctx context.Context) ([]*models.Camera, error) {
	if f.err != nil {
		return nil, f.err
	}
	enabled := []*models.Camera{}
	for _, c := range f.cameras {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	return enabled, nil
}

func (f *fakeCameraStore) ListEnabledByIDs(ctx context.Context, ids []string) ([]*models.Camera, error) {
	if f.err != nil {
		return nil, f.err
	}
	want := map[string]struct{}{}
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := []*models.Camera{}
	for _, c := range f.cameras {
		if _, ok := want[c.ID]; ok && c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeAngleRangeStore struct {
	ranges []*models.AngleRange
	err    error
}

func (f *fakeAngleRangeStore) ListEnabled(ctx context.Context) ([]*models.AngleRange, error) {
	if f.err != nil {
		return nil, f.err
	}
	enabled := []*models.AngleRange{}
	for _, r := range f.ranges {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return enabled, nil
}

func (f *fakeAngleRangeStore) ListEnabledContaining(ctx context.Context, angle float64) ([]*models.AngleRange, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []*models.AngleRange{}
	for _, r := range f.ranges {
		if r.Enabled && r.Contains(angle) {
			out = append(out, r)
		}
	}
	return out, nil
}

func testCameras() []*models.Camera {
	return []*models.Camera{
		{ID: "cam-1", Name: "Front", URL: "rtsp://front", Enabled: true, Status: "online",
			Directions: models.StringList{"forward"}},
		{ID: "cam-2", Name: "Left", URL: "rtsp://left", Enabled: true, Status: "online",
			Directions: models.StringList{"left"}},
		{ID: "cam-3", Name: "LeftTurn", URL: "rtsp://leftturn", Enabled: true, Status: "offline",
			Directions: models.StringList{"turn_left", "left"}},
		{ID: "cam-4", Name: "Disabled", URL: "rtsp://disabled", Enabled: false, Status: "online",
			Directions: models.StringList{"forward"}},
	}
}

func newTestMapper(cameras *fakeCameraStore, ranges *fakeAngleRangeStore) *CameraMapper {
	return NewCameraMapper(cameras, ranges, broker.NewErrorHandler())
}

func TestCameraMapper_CamerasByDirection(t *testing.T) {
	m := newTestMapper(&fakeCameraStore{cameras: testCameras()}, &fakeAngleRangeStore{})

	t.Run("exact match", func(t *testing.T) {
		cameras := m.CamerasByDirection("forward")
		require.Len(t, cameras, 1)
		assert.Equal(t, "cam-1", cameras[0].ID)
	})

	t.Run("alias match deduplicates", func(t *testing.T) {
		// cam-3 stores both turn_left and left; it must appear once
		cameras := m.CamerasByDirection("turn_left")
		ids := []string{}
		for _, c := range cameras {
			ids = append(ids, c.ID)
		}
		assert.ElementsMatch(t, []string{"cam-2", "cam-3"}, ids)
	})

	t.Run("disabled cameras excluded", func(t *testing.T) {
		for _, c := range m.CamerasByDirection("forward") {
			assert.NotEqual(t, "cam-4", c.ID)
		}
	})

	t.Run("no match returns empty, not nil", func(t *testing.T) {
		cameras := m.CamerasByDirection("backward")
		assert.NotNil(t, cameras)
		assert.Empty(t, cameras)
	})

	t.Run("unmapped direction uses itself", func(t *testing.T) {
		cameras := m.CamerasByDirection("custom_direction")
		assert.Empty(t, cameras)
	})
}

func TestCameraMapper_CamerasByAngle(t *testing.T) {
	ranges := &fakeAngleRangeStore{ranges: []*models.AngleRange{
		{ID: "r1", Name: "north", MinAngle: -45, MaxAngle: 45, Enabled: true,
			CameraIDs: models.StringList{"cam-1", "cam-3"}},
		{ID: "r2", Name: "overlap", MinAngle: 0, MaxAngle: 90, Enabled: true,
			CameraIDs: models.StringList{"cam-1", "cam-2"}},
		{ID: "r3", Name: "disabled", MinAngle: -180, MaxAngle: 360, Enabled: false,
			CameraIDs: models.StringList{"cam-4"}},
	}}
	m := newTestMapper(&fakeCameraStore{cameras: testCameras()}, ranges)

	t.Run("union of matching ranges", func(t *testing.T) {
		cameras := m.CamerasByAngle(10)
		ids := []string{}
		for _, c := range cameras {
			ids = append(ids, c.ID)
		}
		assert.ElementsMatch(t, []string{"cam-1", "cam-2", "cam-3"}, ids)
	})

	t.Run("bounds are inclusive", func(t *testing.T) {
		cameras := m.CamerasByAngle(-45)
		require.NotEmpty(t, cameras)
	})

	t.Run("no range matches", func(t *testing.T) {
		cameras := m.CamerasByAngle(180)
		assert.NotNil(t, cameras)
		assert.Empty(t, cameras)
	})
}

func TestCameraMapper_CamerasByAlert(t *testing.T) {
	m := newTestMapper(&fakeCameraStore{cameras: testCameras()}, &fakeAngleRangeStore{})

	cameras := m.CamerasByAlert(broker.Payload{"alert_type": "person_detected"})
	assert.NotNil(t, cameras)
	assert.Empty(t, cameras)
}

func TestCameraMapper_CamerasFor(t *testing.T) {
	ranges := &fakeAngleRangeStore{ranges: []*models.AngleRange{
		{ID: "r1", MinAngle: 0, MaxAngle: 90, Enabled: true, CameraIDs: models.StringList{"cam-2"}},
	}}
	m := newTestMapper(&fakeCameraStore{cameras: testCameras()}, ranges)

	t.Run("direction message", func(t *testing.T) {
		msg := broker.NewMessage("direction_result", broker.Payload{"command": "forward"})
		cameras := m.CamerasFor(msg)
		require.Len(t, cameras, 1)
		assert.Equal(t, "cam-1", cameras[0].ID)
	})

	t.Run("angle message", func(t *testing.T) {
		msg := broker.NewMessage("angle_value", broker.Payload{"angle": 45.0})
		cameras := m.CamerasFor(msg)
		require.Len(t, cameras, 1)
		assert.Equal(t, "cam-2", cameras[0].ID)
	})

	t.Run("alert message", func(t *testing.T) {
		msg := broker.NewMessage("ai_alert", broker.Payload{"alert_type": "x", "severity": "low"})
		assert.Empty(t, m.CamerasFor(msg))
	})

	t.Run("unknown type", func(t *testing.T) {
		msg := broker.NewMessage("data_manager", broker.Payload{})
		assert.Empty(t, m.CamerasFor(msg))
	})
}

func TestCameraMapper_StorageFaultFallback(t *testing.T) {
	store := &fakeCameraStore{cameras: testCameras()}
	m := newTestMapper(store, &fakeAngleRangeStore{})

	// Successful query seeds the fallback cache
	first := m.CamerasByDirection("forward")
	require.Len(t, first, 1)

	// Storage goes away: the cached result is served
	store.err = errors.New("connection refused")
	cached := m.CamerasByDirection("forward")
	assert.Equal(t, first, cached)

	// A query with no cache entry degrades to empty, never an error
	cameras := m.CamerasByDirection("backward")
	assert.NotNil(t, cameras)
	assert.Empty(t, cameras)
}

func TestCameraMapper_ClearCache(t *testing.T) {
	store := &fakeCameraStore{cameras: testCameras()}
	m := newTestMapper(store, &fakeAngleRangeStore{})

	require.Len(t, m.CamerasByDirection("forward"), 1)

	m.ClearCache()
	store.err = errors.New("connection refused")

	// Cache cleared and storage down: empty result
	assert.Empty(t, m.CamerasByDirection("forward"))
}

func TestCameraMapper_Snapshots(t *testing.T) {
	ranges := &fakeAngleRangeStore{ranges: []*models.AngleRange{
		{ID: "r1", Name: "north", MinAngle: -45, MaxAngle: 45, Enabled: true,
			CameraIDs: models.StringList{"cam-1"}},
	}}
	m := newTestMapper(&fakeCameraStore{cameras: testCameras()}, ranges)

	t.Run("direction mappings cover every command", func(t *testing.T) {
		mappings := m.AllDirectionMappings()
		for _, direction := range Directions {
			_, ok := mappings[direction]
			assert.True(t, ok, "missing direction %s", direction)
		}
		assert.Len(t, mappings["forward"], 1)
	})

	t.Run("angle ranges resolve their cameras", func(t *testing.T) {
		infos := m.AllAngleRanges()
		require.Len(t, infos, 1)
		assert.Equal(t, "r1", infos[0].ID)
		assert.Equal(t, -45.0, infos[0].MinAngle)
		require.Len(t, infos[0].Cameras, 1)
		assert.Equal(t, "cam-1", infos[0].Cameras[0].ID)
	})
}

func TestCameraMapper_CamerasByIDs(t *testing.T) {
	m := newTestMapper(&fakeCameraStore{cameras: testCameras()}, &fakeAngleRangeStore{})

	t.Run("resolves enabled cameras", func(t *testing.T) {
		cameras := m.CamerasByIDs([]string{"cam-1", "cam-4"})
		require.Len(t, cameras, 1)
		assert.Equal(t, "cam-1", cameras[0].ID)
	})

	t.Run("empty input short-circuits", func(t *testing.T) {
		assert.Empty(t, m.CamerasByIDs(nil))
	})
}
