package sensor

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
)

// SerialConfig holds serial source configuration.
type SerialConfig struct {
	Port     string
	Baudrate int
}

// SerialSource reads WIT frames from a serial port and emits complete
// motion samples. The read loop runs on its own goroutine and stops when
// Stop is called or the port fails.
type SerialSource struct {
	cfg     SerialConfig
	open    func() (io.ReadCloser, error)
	port    io.ReadCloser
	samples chan Sample
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewSerialSource creates a serial sample source.
func NewSerialSource(cfg SerialConfig) *SerialSource {
	if cfg.Baudrate <= 0 {
		cfg.Baudrate = 9600
	}
	s := &SerialSource{
		cfg:     cfg,
		samples: make(chan Sample, 16),
		stopCh:  make(chan struct{}),
	}
	s.open = s.openPort
	return s
}

// newSerialSourceFrom builds a source over an arbitrary byte stream, used
// by tests to replay captured frames.
func newSerialSourceFrom(open func() (io.ReadCloser, error)) *SerialSource {
	s := &SerialSource{
		open:    open,
		samples: make(chan Sample, 16),
		stopCh:  make(chan struct{}),
	}
	return s
}

func (s *SerialSource) openPort() (io.ReadCloser, error) {
	mode := &serial.Mode{BaudRate: s.cfg.Baudrate}
	port, err := serial.Open(s.cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", s.cfg.Port, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// Start opens the port and launches the read loop.
func (s *SerialSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("serial source already started")
	}

	port, err := s.open()
	if err != nil {
		return err
	}
	s.port = port
	s.started = true

	logger.Info("Serial sensor source started",
		zap.String("port", s.cfg.Port),
		zap.Int("baudrate", s.cfg.Baudrate))

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

// Samples returns the sample stream.
func (s *SerialSource) Samples() <-chan Sample {
	return s.samples
}

// Stop terminates the read loop and closes the port.
func (s *SerialSource) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.port.Close()
	s.wg.Wait()
	logger.Info("Serial sensor source stopped", zap.String("port", s.cfg.Port))
}

func (s *SerialSource) readLoop() {
	defer s.wg.Done()
	defer close(s.samples)

	parser := &witParser{}
	decoder := newWitDecoder()
	buf := make([]byte, 256)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				logger.Error("Serial read failed", zap.Error(err))
			}
			return
		}
		if n == 0 {
			continue
		}

		for _, frame := range parser.Feed(buf[:n]) {
			sample, complete := decoder.Apply(frame)
			if !complete {
				continue
			}
			select {
			case s.samples <- sample:
			case <-s.stopCh:
				return
			default:
				// Consumer lagging: drop the oldest reading
				select {
				case <-s.samples:
				default:
				}
				select {
				case s.samples <- sample:
				default:
				}
			}
		}
	}
}
