package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/logger"
	"github.com/cinvymoe/patrol_server/internal/storage/models"
)

// SettingsStore is the AI settings lookup the monitor needs at start.
type SettingsStore interface {
	Get(ctx context.Context) (*models.AISettings, error)
}

// CameraStore resolves the bound camera at start.
type CameraStore interface {
	GetByID(ctx context.Context, id string) (*models.Camera, error)
}

// MonitorConfig holds detection monitor configuration.
type MonitorConfig struct {
	ModelPath      string
	Interval       time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// MonitorStatus is the monitor's observable state.
type MonitorStatus struct {
	IsRunning            bool       `json:"is_running"`
	CheckInterval        float64    `json:"check_interval_seconds"`
	LastCheckTime        *time.Time `json:"last_check_time,omitempty"`
	TotalDetections      int64      `json:"total_detections"`
	TotalPersonsDetected int64      `json:"total_persons_detected"`
	DetectorInitialized  bool       `json:"detector_initialized"`
	CameraID             string     `json:"camera_id,omitempty"`
	CameraName           string     `json:"camera_name,omitempty"`
}

// Monitor polls the bound camera, runs person detection, stores annotated
// frames in the shared cache and publishes ai_alert messages on positive
// detections. A failed start leaves the monitor idle and observable through
// Status; it never panics the process.
type Monitor struct {
	cfg             MonitorConfig
	settings        SettingsStore
	cameras         CameraStore
	broker          *broker.Broker
	frames          *FrameCache
	detectorFactory DetectorFactory
	captureFactory  CaptureFactory

	mu       sync.Mutex
	running  bool
	detector Detector
	capture  Capture
	camera   *models.Camera
	stopCh   chan struct{}
	wg       sync.WaitGroup

	lastCheck       time.Time
	detectionCount  int64
	personsDetected int64
}

// NewMonitor creates a detection monitor.
func NewMonitor(cfg MonitorConfig, settings SettingsStore, cameras CameraStore,
	b *broker.Broker, frames *FrameCache,
	detectorFactory DetectorFactory, captureFactory CaptureFactory) *Monitor {

	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if detectorFactory == nil {
		detectorFactory = NewPassDetector
	}

	return &Monitor{
		cfg:             cfg,
		settings:        settings,
		cameras:         cameras,
		broker:          b,
		frames:          frames,
		detectorFactory: detectorFactory,
		captureFactory:  captureFactory,
	}
}

// Start loads the detector, resolves the bound camera and launches the
// detection loop. Configuration problems are logged and leave the monitor
// idle; only a missing model artifact is returned as an error.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		logger.Warn("Detection monitor is already running")
		return nil
	}

	if m.detector == nil {
		detector, err := m.detectorFactory(m.cfg.ModelPath)
		if err != nil {
			return fmt.Errorf("failed to load detector: %w", err)
		}
		m.detector = detector
	}

	camera, ok := m.resolveBoundCamera(ctx)
	if !ok {
		return nil
	}

	if m.captureFactory == nil {
		logger.Warn("No capture backend configured, detection monitor stays idle")
		return nil
	}

	capture, err := m.captureFactory(camera.URL, m.cfg.ConnectTimeout, m.cfg.ReadTimeout)
	if err != nil {
		logger.Error("Failed to open camera stream",
			zap.String("camera_id", camera.ID),
			zap.String("url", camera.URL),
			zap.Error(err))
		return nil
	}
	if err := capture.Start(); err != nil {
		logger.Error("Failed to start camera stream reader",
			zap.String("camera_id", camera.ID),
			zap.Error(err))
		capture.Release()
		return nil
	}

	m.camera = camera
	m.capture = capture
	m.stopCh = make(chan struct{})
	m.running = true

	m.wg.Add(1)
	go m.detectionLoop(ctx)

	logger.Info("Detection monitor started",
		zap.String("camera_id", camera.ID),
		zap.String("camera_name", camera.Name),
		zap.Duration("interval", m.cfg.Interval))
	return nil
}

// resolveBoundCamera loads the AI settings and the camera they bind. Any
// reason to stay idle is logged. Caller holds m.mu.
func (m *Monitor) resolveBoundCamera(ctx context.Context) (*models.Camera, bool) {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		logger.Error("Failed to load AI settings", zap.Error(err))
		return nil, false
	}
	if settings == nil || settings.CameraID == nil || *settings.CameraID == "" {
		logger.Info("No camera bound in AI settings, detection monitor stays idle")
		return nil, false
	}
	if !settings.Enabled {
		logger.Info("AI detection is disabled in settings, detection monitor stays idle")
		return nil, false
	}

	camera, err := m.cameras.GetByID(ctx, *settings.CameraID)
	if err != nil {
		logger.Warn("Bound camera not found",
			zap.String("camera_id", *settings.CameraID),
			zap.Error(err))
		return nil, false
	}
	if !camera.Enabled {
		logger.Info("Bound camera is disabled, detection monitor stays idle",
			zap.String("camera_id", camera.ID))
		return nil, false
	}
	if camera.Status != "online" {
		logger.Info("Bound camera is offline, detection monitor stays idle",
			zap.String("camera_id", camera.ID),
			zap.String("camera_name", camera.Name))
		return nil, false
	}
	if camera.URL == "" {
		logger.Warn("Bound camera has no stream URL", zap.String("camera_id", camera.ID))
		return nil, false
	}
	return camera, true
}

func (m *Monitor) detectionLoop(ctx context.Context) {
	defer m.wg.Done()

	logger.Info("Detection loop started")
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			logger.Info("Detection loop stopped")
			return
		case <-ctx.Done():
			logger.Info("Detection loop context cancelled")
			return
		case <-ticker.C:
			m.detectOnce()
		}
	}
}

// detectOnce runs one detection cycle. Capture or inference faults skip the
// cycle; they never terminate the loop.
func (m *Monitor) detectOnce() {
	m.mu.Lock()
	capture := m.capture
	camera := m.camera
	detector := m.detector
	m.mu.Unlock()

	if capture == nil || camera == nil || detector == nil {
		return
	}

	frame, ok := capture.ReadLatest()
	if !ok || frame == nil {
		logger.Debug("No frame available", zap.String("camera_id", camera.ID))
		return
	}

	drawn, detections, err := detector.DetectAndDraw(frame)
	if err != nil {
		logger.Error("Detection failed",
			zap.String("camera_id", camera.ID),
			zap.Error(err))
		return
	}

	now := time.Now()
	m.frames.Store(camera.ID, frame, drawn, now, detections)

	persons := []Detection{}
	maxScore := 0.0
	for _, d := range detections {
		if d.Class == "person" {
			persons = append(persons, d)
			if d.Score > maxScore {
				maxScore = d.Score
			}
		}
	}

	m.mu.Lock()
	m.detectionCount++
	m.lastCheck = now
	m.personsDetected += int64(len(persons))
	m.mu.Unlock()

	if len(persons) == 0 {
		return
	}

	logger.Info("Persons detected",
		zap.Int("count", len(persons)),
		zap.String("camera_id", camera.ID),
		zap.String("camera_name", camera.Name))

	m.publishAlert(camera, persons, maxScore, now)
}

func (m *Monitor) publishAlert(camera *models.Camera, persons []Detection, confidence float64, ts time.Time) {
	severity := "medium"
	if len(persons) > 1 {
		severity = "high"
	}

	result, err := m.broker.Publish("ai_alert", broker.Payload{
		"alert_type":   "person_detected",
		"severity":     severity,
		"camera_id":    camera.ID,
		"camera_name":  camera.Name,
		"person_count": len(persons),
		"detections":   persons,
		"timestamp":    ts.Format(time.RFC3339Nano),
		"confidence":   confidence,
	})
	if err != nil {
		logger.Error("Failed to publish ai_alert", zap.Error(err))
		return
	}
	if !result.Success {
		logger.Warn("ai_alert rejected", zap.Strings("errors", result.Errors))
	}
}

// Stop terminates the loop and releases the capture. Cached frames remain
// readable until explicitly cleared.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		logger.Warn("Detection monitor is not running")
		return
	}
	m.running = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()

	m.mu.Lock()
	if m.capture != nil {
		m.capture.Release()
		m.capture = nil
	}
	m.camera = nil
	m.mu.Unlock()

	logger.Info("Detection monitor stopped")
}

// Status reports the monitor's observable state.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := MonitorStatus{
		IsRunning:            m.running,
		CheckInterval:        m.cfg.Interval.Seconds(),
		TotalDetections:      m.detectionCount,
		TotalPersonsDetected: m.personsDetected,
		DetectorInitialized:  m.detector != nil,
	}
	if !m.lastCheck.IsZero() {
		ts := m.lastCheck
		status.LastCheckTime = &ts
	}
	if m.camera != nil {
		status.CameraID = m.camera.ID
		status.CameraName = m.camera.Name
	}
	return status
}
