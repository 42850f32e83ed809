package detection

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/storage/models"
)

type fakeSettingsStore struct {
	settings *models.AISettings
	err      error
}

func (f *fakeSettingsStore) Get(ctx context.Context) (*models.AISettings, error) {
	return f.settings, f.err
}

type fakeCameraStore struct {
	cameras map[string]*models.Camera
}

func (f *fakeCameraStore) GetByID(ctx context.Context, id string) (*models.Camera, error) {
	if camera, ok := f.cameras[id]; ok {
		return camera, nil
	}
	return nil, os.ErrNotExist
}

type fakeCapture struct {
	mu       sync.Mutex
	frames   [][]byte
	started  bool
	released bool
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeCapture) ReadLatest() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil, false
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, true
}

func (f *fakeCapture) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

type fakeDetector struct {
	detections []Detection
}

func (f *fakeDetector) DetectAndDraw(frame []byte) ([]byte, []Detection, error) {
	return append([]byte("drawn:"), frame...), f.detections, nil
}

func (f *fakeDetector) Close() error { return nil }

func boundSettings(cameraID string) *models.AISettings {
	return &models.AISettings{
		ID:       "settings-1",
		CameraID: &cameraID,
		Enabled:  true,
	}
}

func onlineCamera(id string) *models.Camera {
	return &models.Camera{
		ID:      id,
		Name:    "Gate",
		URL:     "rtsp://gate",
		Enabled: true,
		Status:  "online",
	}
}

func newTestMonitor(t *testing.T, settings *models.AISettings, camera *models.Camera,
	capture *fakeCapture, detector Detector) (*Monitor, *broker.Broker, *FrameCache) {
	t.Helper()

	b := broker.Default()
	if !b.IsTypeRegistered("ai_alert") {
		require.NoError(t, b.RegisterDefaults())
	}

	cameras := &fakeCameraStore{cameras: map[string]*models.Camera{}}
	if camera != nil {
		cameras.cameras[camera.ID] = camera
	}

	frames := NewFrameCache()
	monitor := NewMonitor(
		MonitorConfig{ModelPath: "model.bin", Interval: 10 * time.Millisecond},
		&fakeSettingsStore{settings: settings},
		cameras,
		b,
		frames,
		func(string) (Detector, error) { return detector, nil },
		func(string, time.Duration, time.Duration) (Capture, error) { return capture, nil },
	)
	return monitor, b, frames
}

func TestMonitor_PublishesAlertOnPersonDetection(t *testing.T) {
	capture := &fakeCapture{frames: [][]byte{[]byte("frame1")}}
	detector := &fakeDetector{detections: []Detection{
		{Class: "person", Score: 0.92},
	}}
	monitor, b, frames := newTestMonitor(t, boundSettings("cam-1"), onlineCamera("cam-1"), capture, detector)

	var mu sync.Mutex
	var alerts []broker.Payload
	sub, err := b.Subscribe("ai_alert", func(m *broker.Message) {
		mu.Lock()
		alerts = append(alerts, m.Data)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer b.Unsubscribe("ai_alert", sub)

	require.NoError(t, monitor.Start(context.Background()))
	t.Cleanup(monitor.Stop)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(alerts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	alert := alerts[0]
	mu.Unlock()

	severity, _ := broker.GetString(alert, "severity")
	assert.Equal(t, "medium", severity) // single person

	alertType, _ := broker.GetString(alert, "alert_type")
	assert.Equal(t, "person_detected", alertType)

	cameraID, _ := broker.GetString(alert, "camera_id")
	assert.Equal(t, "cam-1", cameraID)

	count, _ := broker.GetInt(alert, "person_count")
	assert.Equal(t, 1, count)

	confidence, _ := broker.GetFloat(alert, "confidence")
	assert.Equal(t, 0.92, confidence)

	// The cycle stored raw and annotated frames in the cache
	found, frame, _, detections := frames.ReadLatest("cam-1", true)
	require.True(t, found)
	assert.Equal(t, []byte("drawn:frame1"), frame)
	require.Len(t, detections, 1)
}

func TestMonitor_MultiplePersonsEscalateSeverity(t *testing.T) {
	capture := &fakeCapture{frames: [][]byte{[]byte("frame1")}}
	detector := &fakeDetector{detections: []Detection{
		{Class: "person", Score: 0.9},
		{Class: "person", Score: 0.7},
		{Class: "dog", Score: 0.95},
	}}
	monitor, b, _ := newTestMonitor(t, boundSettings("cam-1"), onlineCamera("cam-1"), capture, detector)

	var mu sync.Mutex
	var severity string
	var confidence float64
	sub, err := b.Subscribe("ai_alert", func(m *broker.Message) {
		mu.Lock()
		severity, _ = broker.GetString(m.Data, "severity")
		confidence, _ = broker.GetFloat(m.Data, "confidence")
		mu.Unlock()
	})
	require.NoError(t, err)
	defer b.Unsubscribe("ai_alert", sub)

	require.NoError(t, monitor.Start(context.Background()))
	t.Cleanup(monitor.Stop)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return severity != ""
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "high", severity)
	// Confidence is the best person score; the dog does not count
	assert.Equal(t, 0.9, confidence)
}

func TestMonitor_NoPersonsNoAlert(t *testing.T) {
	capture := &fakeCapture{frames: [][]byte{[]byte("frame1")}}
	detector := &fakeDetector{detections: []Detection{{Class: "dog", Score: 0.9}}}
	monitor, b, frames := newTestMonitor(t, boundSettings("cam-1"), onlineCamera("cam-1"), capture, detector)

	alerts := 0
	var mu sync.Mutex
	sub, err := b.Subscribe("ai_alert", func(*broker.Message) {
		mu.Lock()
		alerts++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer b.Unsubscribe("ai_alert", sub)

	require.NoError(t, monitor.Start(context.Background()))
	t.Cleanup(monitor.Stop)

	// Frames are cached even without persons
	assert.Eventually(t, func() bool {
		found, _, _, _ := frames.ReadLatest("cam-1", true)
		return found
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, alerts)
}

func TestMonitor_IdleConfigurations(t *testing.T) {
	tests := []struct {
		name     string
		settings *models.AISettings
		camera   *models.Camera
	}{
		{"no settings row", nil, onlineCamera("cam-1")},
		{"no camera bound", &models.AISettings{ID: "s", Enabled: true}, onlineCamera("cam-1")},
		{
			"detection disabled",
			func() *models.AISettings { s := boundSettings("cam-1"); s.Enabled = false; return s }(),
			onlineCamera("cam-1"),
		},
		{"camera missing", boundSettings("cam-9"), onlineCamera("cam-1")},
		{
			"camera offline",
			boundSettings("cam-1"),
			func() *models.Camera { c := onlineCamera("cam-1"); c.Status = "offline"; return c }(),
		},
		{
			"camera disabled",
			boundSettings("cam-1"),
			func() *models.Camera { c := onlineCamera("cam-1"); c.Enabled = false; return c }(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capture := &fakeCapture{}
			monitor, _, _ := newTestMonitor(t, tt.settings, tt.camera, capture, &fakeDetector{})

			require.NoError(t, monitor.Start(context.Background()))
			status := monitor.Status()
			assert.False(t, status.IsRunning)
			assert.False(t, capture.started)
		})
	}
}

func TestMonitor_MissingModelFailsFast(t *testing.T) {
	b := broker.Default()
	if !b.IsTypeRegistered("ai_alert") {
		require.NoError(t, b.RegisterDefaults())
	}

	monitor := NewMonitor(
		MonitorConfig{ModelPath: filepath.Join(t.TempDir(), "missing.bin")},
		&fakeSettingsStore{settings: boundSettings("cam-1")},
		&fakeCameraStore{cameras: map[string]*models.Camera{"cam-1": onlineCamera("cam-1")}},
		b,
		NewFrameCache(),
		nil, // default factory checks the model file
		nil,
	)

	err := monitor.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, monitor.Status().IsRunning)
}

func TestMonitor_StopReleasesCapture(t *testing.T) {
	capture := &fakeCapture{frames: [][]byte{[]byte("frame1")}}
	monitor, _, frames := newTestMonitor(t, boundSettings("cam-1"), onlineCamera("cam-1"), capture, &fakeDetector{})

	require.NoError(t, monitor.Start(context.Background()))
	assert.True(t, monitor.Status().IsRunning)

	assert.Eventually(t, func() bool {
		found, _, _, _ := frames.ReadLatest("cam-1", false)
		return found
	}, 2*time.Second, 10*time.Millisecond)

	monitor.Stop()

	assert.False(t, monitor.Status().IsRunning)
	assert.True(t, capture.released)

	// Cached frames persist past Stop
	found, _, _, _ := frames.ReadLatest("cam-1", false)
	assert.True(t, found)
}

func TestMonitor_SkipsCycleWithoutFrame(t *testing.T) {
	capture := &fakeCapture{} // never yields a frame
	monitor, _, _ := newTestMonitor(t, boundSettings("cam-1"), onlineCamera("cam-1"), capture, &fakeDetector{})

	require.NoError(t, monitor.Start(context.Background()))
	t.Cleanup(monitor.Stop)

	// Loop keeps running when no frame is available; the cycle is skipped
	time.Sleep(50 * time.Millisecond)
	assert.True(t, monitor.Status().IsRunning)
}
