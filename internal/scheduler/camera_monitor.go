package scheduler

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
	"github.com/cinvymoe/patrol_server/internal/storage/models"
)

// CameraStore is the camera surface the monitor needs.
type CameraStore interface {
	List(ctx context.Context) ([]*models.Camera, error)
	UpdateStatus(ctx context.Context, id string, status string, checkedAt time.Time) error
}

// MonitorStatus is the monitor's observable state.
type MonitorStatus struct {
	IsRunning     bool       `json:"is_running"`
	CheckInterval float64    `json:"check_interval_seconds"`
	LastCheckTime *time.Time `json:"last_check_time,omitempty"`
	TotalChecks   int64      `json:"total_checks"`
	OnlineCount   int        `json:"online_count"`
	TotalCameras  int        `json:"total_cameras"`
}

// CameraMonitor periodically probes every camera's stream endpoint and
// flips its stored status between online and offline.
type CameraMonitor struct {
	cameras  CameraStore
	interval time.Duration
	timeout  time.Duration

	// probe is swappable in tests; the default dials the stream host.
	probe func(rawURL string, timeout time.Duration) bool

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
	lastCheck    time.Time
	checkCount   int64
	onlineCount  int
	totalCameras int
}

// NewCameraMonitor creates a camera status monitor.
func NewCameraMonitor(cameras CameraStore, interval, timeout time.Duration) *CameraMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &CameraMonitor{
		cameras:  cameras,
		interval: interval,
		timeout:  timeout,
		probe:    probeStream,
	}
}

// Start launches the check loop and runs an immediate first check.
func (m *CameraMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		logger.Warn("Camera monitor is already running")
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)

	logger.Info("Camera monitor started", zap.Duration("interval", m.interval))
	return nil
}

// Stop terminates the check loop.
func (m *CameraMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		logger.Warn("Camera monitor is not running")
		return
	}
	m.running = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()
	logger.Info("Camera monitor stopped")
}

func (m *CameraMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	// Initial check right away, then on the ticker
	m.checkAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// checkAll probes every camera and persists status transitions.
func (m *CameraMonitor) checkAll(ctx context.Context) {
	cameras, err := m.cameras.List(ctx)
	if err != nil {
		logger.Error("Failed to list cameras for status check", zap.Error(err))
		return
	}

	online := 0
	changed := 0
	now := time.Now()

	for _, camera := range cameras {
		status := "offline"
		if camera.URL != "" && m.probe(camera.URL, m.timeout) {
			status = "online"
			online++
		}

		if status != camera.Status {
			changed++
			if err := m.cameras.UpdateStatus(ctx, camera.ID, status, now); err != nil {
				logger.Error("Failed to update camera status",
					zap.String("camera_id", camera.ID),
					zap.Error(err))
				continue
			}
		}

		if status == "offline" {
			logger.Warn("Camera offline",
				zap.String("camera_id", camera.ID),
				zap.String("camera_name", camera.Name),
				zap.String("url", camera.URL))
		}
	}

	m.mu.Lock()
	m.checkCount++
	m.lastCheck = now
	m.onlineCount = online
	m.totalCameras = len(cameras)
	count := m.checkCount
	m.mu.Unlock()

	logger.Info("Camera status check completed",
		zap.Int64("check", count),
		zap.Int("online", online),
		zap.Int("total", len(cameras)),
		zap.Int("changed", changed))
}

// Status reports the monitor's observable state.
func (m *CameraMonitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := MonitorStatus{
		IsRunning:     m.running,
		CheckInterval: m.interval.Seconds(),
		TotalChecks:   m.checkCount,
		OnlineCount:   m.onlineCount,
		TotalCameras:  m.totalCameras,
	}
	if !m.lastCheck.IsZero() {
		ts := m.lastCheck
		status.LastCheckTime = &ts
	}
	return status
}

// probeStream dials the stream endpoint's TCP port within the timeout.
func probeStream(rawURL string, timeout time.Duration) bool {
	host, err := streamHost(rawURL)
	if err != nil {
		logger.Debug("Unparseable camera URL", zap.String("url", rawURL), zap.Error(err))
		return false
	}

	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// streamHost extracts host:port from a stream URL, defaulting the port by
// scheme (rtsp 554, http 80, https 443).
func streamHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in URL: %s", rawURL)
	}

	if u.Port() != "" {
		return u.Host, nil
	}

	switch u.Scheme {
	case "rtsp":
		return net.JoinHostPort(u.Hostname(), "554"), nil
	case "https":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	default:
		return net.JoinHostPort(u.Hostname(), "80"), nil
	}
}
