package motion

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
	"github.com/cinvymoe/patrol_server/internal/sensor"
)

// Command is a normalized motion command.
type Command struct {
	Command          string         `json:"command"` // forward, backward, turn_left, turn_right, stationary
	Intensity        float64        `json:"intensity"`
	AngularIntensity float64        `json:"angular_intensity"`
	Timestamp        time.Time      `json:"timestamp"`
	IsMotionStart    bool           `json:"is_motion_start"`
	RawDirection     string         `json:"raw_direction"`
	Diagnostics      map[string]any `json:"diagnostics,omitempty"`
}

// directionCommands maps linear direction keywords to commands, checked in
// order after the rotation descriptors.
var directionCommands = []struct {
	keyword string
	command string
}{
	{DirectionEast, "forward"},
	{"forward", "forward"},
	{DirectionWest, "backward"},
	{"backward", "backward"},
	{DirectionSouth, "turn_left"},
	{DirectionNorth, "turn_right"},
}

// Processor turns raw IMU samples into normalized motion commands. The only
// state it holds is the calculator's velocity integrator.
type Processor struct {
	calculator *Calculator
}

// NewProcessor creates a motion processor.
func NewProcessor(cfg CalculatorConfig) *Processor {
	return &Processor{calculator: NewCalculator(cfg)}
}

// Process analyses one sample. Extraction faults never propagate: the
// result is a stationary command carrying the fault in its diagnostics.
func (p *Processor) Process(sample sensor.Sample) Command {
	acceleration, err := extractTriple(sample, sensor.KeyAccX, sensor.KeyAccY, sensor.KeyAccZ)
	if err != nil {
		return p.errorCommand(fmt.Errorf("acceleration: %w", err))
	}
	angularVelocity, err := extractTriple(sample, sensor.KeyGyroX, sensor.KeyGyroY, sensor.KeyGyroZ)
	if err != nil {
		return p.errorCommand(fmt.Errorf("angular velocity: %w", err))
	}
	angles, err := extractTriple(sample, sensor.KeyAngleX, sensor.KeyAngleY, sensor.KeyAngleZ)
	if err != nil {
		return p.errorCommand(fmt.Errorf("angles: %w", err))
	}

	info := p.calculator.Calculate(acceleration, angularVelocity, angles, time.Now())

	command := mapDirectionToCommand(info.Direction, info.Rotation)

	logger.Debug("Motion command",
		zap.String("command", command),
		zap.Float64("intensity", info.Intensity),
		zap.Float64("angular_intensity", info.AngularIntensity),
		zap.Bool("motion_start", info.MotionStart))

	return Command{
		Command:          command,
		Intensity:        info.Intensity,
		AngularIntensity: info.AngularIntensity,
		Timestamp:        time.Now(),
		IsMotionStart:    info.MotionStart,
		RawDirection:     info.Direction,
		Diagnostics: map[string]any{
			"rotation":   info.Rotation,
			"is_moving":  info.IsMoving,
			"velocity_x": info.VelocityX,
			"velocity_y": info.VelocityY,
		},
	}
}

// Reset zeroes the processor state.
func (p *Processor) Reset() {
	p.calculator.ResetVelocity()
	logger.Info("Motion processor reset")
}

// mapDirectionToCommand builds the command: Z-axis rotation wins over
// linear motion, then linear keywords, then stationary.
func mapDirectionToCommand(direction, rotation string) string {
	switch {
	case strings.Contains(rotation, RotationClockwiseZ), strings.Contains(rotation, "绕Z轴正转"):
		return "turn_right"
	case strings.Contains(rotation, RotationCounterClockwiseZ), strings.Contains(rotation, "绕Z轴反转"):
		return "turn_left"
	}

	for _, entry := range directionCommands {
		if strings.Contains(direction, entry.keyword) {
			return entry.command
		}
	}

	return "stationary"
}

func (p *Processor) errorCommand(err error) Command {
	logger.Error("Sample field extraction failed", zap.Error(err))
	return Command{
		Command:      "stationary",
		Timestamp:    time.Now(),
		RawDirection: "error",
		Diagnostics:  map[string]any{"error": err.Error()},
	}
}

func extractTriple(sample sensor.Sample, kx, ky, kz string) ([3]float64, error) {
	var out [3]float64
	for i, key := range []string{kx, ky, kz} {
		v, ok := sample.Float(key)
		if !ok {
			return out, fmt.Errorf("missing or non-numeric field %q", key)
		}
		out[i] = v
	}
	return out, nil
}
