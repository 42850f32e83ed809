package sensor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
)

// ValidPatterns are the motion patterns the mock source can generate.
var ValidPatterns = []string{
	"stationary", "forward", "backward", "turn_left", "turn_right",
	"sequence", "random",
}

var basicPatterns = []string{"stationary", "forward", "backward", "turn_left", "turn_right"}

// sequencePatterns is the fixed schedule the sequence mode cycles through.
var sequencePatterns = []string{
	"stationary", "forward", "turn_right", "forward", "turn_left", "backward", "stationary",
}

const (
	sequenceTicks = 30 // ~3s per pattern at the default interval
	randomTicks   = 50 // ~5s per random hold
)

// MockConfig holds mock source configuration.
type MockConfig struct {
	Pattern    string
	Interval   time.Duration
	NoiseLevel float64
	Seed       int64
}

// MockSource generates synthetic IMU samples following a configurable
// motion pattern, for development and tests without hardware.
type MockSource struct {
	cfg     MockConfig
	rng     *rand.Rand
	samples chan Sample
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pattern string
	started bool

	angleZ float64

	sequenceIndex   int
	sequenceCounter int
	randomCounter   int
	randomPattern   string
}

// NewMockSource creates a mock sample source. An unknown pattern falls back
// to stationary.
func NewMockSource(cfg MockConfig) *MockSource {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.NoiseLevel <= 0 {
		cfg.NoiseLevel = 1.0
	}
	pattern := cfg.Pattern
	if !patternValid(pattern) {
		logger.Warn("Invalid motion pattern, using stationary", zap.String("pattern", pattern))
		pattern = "stationary"
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &MockSource{
		cfg:           cfg,
		rng:           rand.New(rand.NewSource(seed)),
		samples:       make(chan Sample, 16),
		stopCh:        make(chan struct{}),
		pattern:       pattern,
		randomPattern: "stationary",
	}
}

// Start launches the generation loop.
func (m *MockSource) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("mock source already started")
	}
	m.started = true

	logger.Info("Mock sensor source started",
		zap.String("pattern", m.pattern),
		zap.Duration("interval", m.cfg.Interval))

	m.wg.Add(1)
	go m.generateLoop()
	return nil
}

// Samples returns the sample stream.
func (m *MockSource) Samples() <-chan Sample {
	return m.samples
}

// Stop terminates the generation loop.
func (m *MockSource) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	logger.Info("Mock sensor source stopped")
}

// SetPattern switches the motion pattern at runtime.
func (m *MockSource) SetPattern(pattern string) error {
	if !patternValid(pattern) {
		return fmt.Errorf("invalid motion pattern: %s", pattern)
	}
	m.mu.Lock()
	m.pattern = pattern
	m.sequenceIndex = 0
	m.sequenceCounter = 0
	m.randomCounter = 0
	m.mu.Unlock()
	logger.Info("Motion pattern changed", zap.String("pattern", pattern))
	return nil
}

func (m *MockSource) generateLoop() {
	defer m.wg.Done()
	defer close(m.samples)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			sample := m.generate()
			select {
			case m.samples <- sample:
			case <-m.stopCh:
				return
			default:
				// Consumer lagging: skip this tick
			}
		}
	}
}

func (m *MockSource) generate() Sample {
	switch m.effectivePattern() {
	case "forward":
		return m.motionSample(0.2+m.noise(0.1), m.noise(0.02), m.noise(0.5), 0)
	case "backward":
		return m.motionSample(-0.2+m.noise(0.1), m.noise(0.02), m.noise(0.5), 0)
	case "turn_left":
		return m.turnSample(-20.0+m.noise(10.0), -2.0)
	case "turn_right":
		return m.turnSample(20.0+m.noise(10.0), 2.0)
	default:
		return m.motionSample(m.noise(0.01), m.noise(0.01), m.noise(0.1), 0)
	}
}

// effectivePattern resolves the sequence and random schedules to the
// pattern in effect for this tick.
func (m *MockSource) effectivePattern() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.pattern {
	case "sequence":
		m.sequenceCounter++
		if m.sequenceCounter >= sequenceTicks {
			m.sequenceCounter = 0
			m.sequenceIndex = (m.sequenceIndex + 1) % len(sequencePatterns)
			logger.Debug("Sequence pattern advanced",
				zap.String("pattern", sequencePatterns[m.sequenceIndex]))
		}
		return sequencePatterns[m.sequenceIndex]

	case "random":
		m.randomCounter++
		if m.randomCounter >= randomTicks {
			m.randomCounter = 0
			m.randomPattern = basicPatterns[m.rng.Intn(len(basicPatterns))]
			logger.Debug("Random pattern switched", zap.String("pattern", m.randomPattern))
		}
		return m.randomPattern

	default:
		return m.pattern
	}
}

// motionSample builds a linear-motion sample with gravity on Z.
func (m *MockSource) motionSample(accX, accY, gyroNoise, angleDelta float64) Sample {
	m.angleZ = wrapAngle(m.angleZ + angleDelta)
	return stamp(Sample{
		KeyAccX:   accX,
		KeyAccY:   accY,
		KeyAccZ:   -1.0 + m.noise(0.02),
		KeyGyroX:  gyroNoise,
		KeyGyroY:  m.noise(0.5),
		KeyGyroZ:  m.noise(0.5),
		KeyAngleX: m.noise(1.0),
		KeyAngleY: m.noise(1.0),
		KeyAngleZ: m.angleZ + m.noise(0.5),
	})
}

// turnSample builds a rotation sample: Z gyro active, Z angle integrating.
func (m *MockSource) turnSample(gyroZ, angleDelta float64) Sample {
	m.angleZ = wrapAngle(m.angleZ + angleDelta)
	return stamp(Sample{
		KeyAccX:   m.noise(0.05),
		KeyAccY:   m.noise(0.05),
		KeyAccZ:   -1.0 + m.noise(0.02),
		KeyGyroX:  m.noise(1.0),
		KeyGyroY:  m.noise(1.0),
		KeyGyroZ:  gyroZ,
		KeyAngleX: m.noise(1.0),
		KeyAngleY: m.noise(1.0),
		KeyAngleZ: m.angleZ + m.noise(0.5),
	})
}

func (m *MockSource) noise(scale float64) float64 {
	return m.rng.NormFloat64() * m.cfg.NoiseLevel * scale * 0.1
}

func wrapAngle(angle float64) float64 {
	for angle > 180.0 {
		angle -= 360.0
	}
	for angle < -180.0 {
		angle += 360.0
	}
	return angle
}

func patternValid(pattern string) bool {
	for _, p := range ValidPatterns {
		if p == pattern {
			return true
		}
	}
	return false
}
