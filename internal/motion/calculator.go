package motion

import (
	"math"
	"time"
)

// Direction descriptors produced by the calculator. The compass terms
// describe the device's horizontal velocity in its body frame.
const (
	DirectionEast       = "east"
	DirectionWest       = "west"
	DirectionSouth      = "south"
	DirectionNorth      = "north"
	DirectionStationary = "stationary"
	DirectionSlight     = "slight motion"

	RotationClockwiseZ        = "clockwise Z rotation"
	RotationCounterClockwiseZ = "counter-clockwise Z rotation"
	RotationNone              = "no significant rotation"
)

const gravityMS2 = 9.80665

// CalculatorConfig holds the detection thresholds.
type CalculatorConfig struct {
	MotionThreshold    float64 // g, overall motion gate
	AngularThreshold   float64 // deg/s, overall rotation gate
	DirectionThreshold float64 // g, per-axis significance
	RotationThreshold  float64 // deg/s, Z-rotation significance
	VelocityThreshold  float64 // m/s, integrated velocity significance
}

// DefaultCalculatorConfig returns the stock thresholds.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		MotionThreshold:    0.005,
		AngularThreshold:   2.0,
		DirectionThreshold: 0.002,
		RotationThreshold:  5.0,
		VelocityThreshold:  0.0005,
	}
}

// DirectionInfo is the calculator's verdict for one sample.
type DirectionInfo struct {
	Direction        string
	Rotation         string
	Intensity        float64 // g, horizontal acceleration magnitude
	AngularIntensity float64 // deg/s
	IsMoving         bool
	MotionStart      bool
	VelocityX        float64 // m/s
	VelocityY        float64 // m/s
}

// Calculator derives a motion direction from IMU readings. It keeps a
// leaky velocity integrator over the horizontal acceleration so brief
// accelerations translate into a sustained direction verdict.
type Calculator struct {
	cfg CalculatorConfig

	velocityX  float64
	velocityY  float64
	lastSample time.Time
	wasMoving  bool
}

// NewCalculator creates a calculator with the given thresholds; zero values
// fall back to the defaults.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	def := DefaultCalculatorConfig()
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = def.MotionThreshold
	}
	if cfg.AngularThreshold <= 0 {
		cfg.AngularThreshold = def.AngularThreshold
	}
	if cfg.DirectionThreshold <= 0 {
		cfg.DirectionThreshold = def.DirectionThreshold
	}
	if cfg.RotationThreshold <= 0 {
		cfg.RotationThreshold = def.RotationThreshold
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = def.VelocityThreshold
	}
	return &Calculator{cfg: cfg}
}

// Calculate analyses one reading. acceleration is [x,y,z] in g with gravity
// on Z, angularVelocity is [x,y,z] in deg/s, angles is [x,y,z] in degrees.
func (c *Calculator) Calculate(acceleration, angularVelocity, angles [3]float64, now time.Time) DirectionInfo {
	dt := c.step(now)

	// Horizontal acceleration with gravity removed; the device rests with
	// -1g on its Z axis.
	accX := acceleration[0]
	accY := acceleration[1]
	horizontal := math.Hypot(accX, accY)

	// Leaky integration keeps the verdict alive between acceleration
	// bursts but lets it decay back to stationary.
	const decay = 0.9
	c.velocityX = c.velocityX*decay + accX*gravityMS2*dt
	c.velocityY = c.velocityY*decay + accY*gravityMS2*dt

	gyroZ := angularVelocity[2]
	angularIntensity := math.Abs(gyroZ)

	rotation := RotationNone
	if angularIntensity >= c.cfg.RotationThreshold {
		if gyroZ > 0 {
			rotation = RotationClockwiseZ
		} else {
			rotation = RotationCounterClockwiseZ
		}
	}

	direction := c.linearDirection(horizontal)

	isMoving := horizontal >= c.cfg.MotionThreshold || angularIntensity >= c.cfg.AngularThreshold
	motionStart := isMoving && !c.wasMoving
	c.wasMoving = isMoving

	return DirectionInfo{
		Direction:        direction,
		Rotation:         rotation,
		Intensity:        horizontal,
		AngularIntensity: angularIntensity,
		IsMoving:         isMoving,
		MotionStart:      motionStart,
		VelocityX:        c.velocityX,
		VelocityY:        c.velocityY,
	}
}

// linearDirection maps the integrated velocity onto a compass descriptor.
func (c *Calculator) linearDirection(horizontal float64) string {
	speed := math.Hypot(c.velocityX, c.velocityY)
	if speed < c.cfg.VelocityThreshold {
		if horizontal >= c.cfg.DirectionThreshold {
			return DirectionSlight
		}
		return DirectionStationary
	}

	if math.Abs(c.velocityX) >= math.Abs(c.velocityY) {
		if c.velocityX > 0 {
			return DirectionEast
		}
		return DirectionWest
	}
	if c.velocityY > 0 {
		return DirectionNorth
	}
	return DirectionSouth
}

// step returns the integration interval since the previous sample, clamped
// to keep a stalled stream from producing a velocity spike.
func (c *Calculator) step(now time.Time) float64 {
	if c.lastSample.IsZero() {
		c.lastSample = now
		return 0.01
	}
	dt := now.Sub(c.lastSample).Seconds()
	c.lastSample = now
	if dt <= 0 || dt > 0.5 {
		return 0.01
	}
	return dt
}

// ResetVelocity zeroes the integrator state.
func (c *Calculator) ResetVelocity() {
	c.velocityX = 0
	c.velocityY = 0
	c.lastSample = time.Time{}
	c.wasMoving = false
}
