package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/broker"
	"github.com/cinvymoe/patrol_server/internal/logger"
	"github.com/cinvymoe/patrol_server/internal/sensor"
)

// Collector pumps a sample source through the motion processor and into the
// broker: every sample publishes an angle_value, and every non-stationary
// command publishes a direction_result.
type Collector struct {
	source    sensor.Source
	processor *Processor
	broker    *broker.Broker

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewCollector creates a sensor collector.
func NewCollector(source sensor.Source, processor *Processor, b *broker.Broker) *Collector {
	return &Collector{
		source:    source,
		processor: processor,
		broker:    b,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the source and the publishing loop.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("collector already started")
	}

	if err := c.source.Start(); err != nil {
		return fmt.Errorf("failed to start sample source: %w", err)
	}
	c.started = true

	c.wg.Add(1)
	go c.run(ctx)

	logger.Info("Sensor collector started")
	return nil
}

// Stop terminates the publishing loop and the source.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stopCh)
	c.source.Stop()
	c.wg.Wait()
	logger.Info("Sensor collector stopped")
}

func (c *Collector) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case sample, ok := <-c.source.Samples():
			if !ok {
				logger.Warn("Sample source closed, collector exiting")
				return
			}
			c.handleSample(sample)
		}
	}
}

// handleSample publishes the angle reading and, when the sample resolves to
// actual motion, the direction command.
func (c *Collector) handleSample(sample sensor.Sample) {
	if angleZ, ok := sample.Float(sensor.KeyAngleZ); ok {
		result, err := c.broker.Publish("angle_value", broker.Payload{
			"angle":     angleZ,
			"timestamp": time.Now().Format(time.RFC3339Nano),
		})
		if err != nil {
			logger.Error("Failed to publish angle value", zap.Error(err))
		} else if !result.Success {
			logger.Warn("Angle value rejected",
				zap.Float64("angle", angleZ),
				zap.Strings("errors", result.Errors))
		}
	}

	command := c.processor.Process(sample)
	if command.Command == "stationary" {
		return
	}

	result, err := c.broker.Publish("direction_result", broker.Payload{
		"command":           command.Command,
		"intensity":         command.Intensity,
		"angular_intensity": command.AngularIntensity,
		"timestamp":         command.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		logger.Error("Failed to publish direction result", zap.Error(err))
		return
	}
	if !result.Success {
		logger.Warn("Direction result rejected",
			zap.String("command", command.Command),
			zap.Strings("errors", result.Errors))
		return
	}

	logger.Debug("Direction published",
		zap.String("command", command.Command),
		zap.String("message_id", result.MessageID),
		zap.Int("subscribers_notified", result.SubscribersNotified))
}
