package sensor

import (
	"encoding/binary"
	"math"
)

// WIT protocol constants. A frame is 11 bytes: header 0x55, a type byte in
// 0x50..0x5A or 0x5F, eight payload bytes and a modular checksum over the
// first ten bytes.
const (
	witHeader    = 0x55
	witFrameSize = 11

	witPacketTime       = 0x50
	witPacketAccel      = 0x51
	witPacketGyro       = 0x52
	witPacketAngle      = 0x53
	witPacketMagnetic   = 0x54
	witPacketQuaternion = 0x59

	witAccRange   = 16.0   // g
	witGyroRange  = 2000.0 // deg/s
	witAngleRange = 180.0  // deg
)

// witFrame is one validated 11-byte packet.
type witFrame struct {
	Type    byte
	Payload [8]byte
}

// witParser reassembles WIT frames from an arbitrary byte stream. A
// misaligned leading byte is discarded one byte at a time; a frame with a
// bad checksum is likewise skipped by resynchronizing on the next byte, so
// alignment is restored within at most one frame length of input.
type witParser struct {
	buf []byte
}

// Feed appends raw bytes and returns every complete, checksum-valid frame.
func (p *witParser) Feed(data []byte) []witFrame {
	p.buf = append(p.buf, data...)

	var frames []witFrame
	for {
		// Resynchronize on the header byte
		if len(p.buf) > 0 && p.buf[0] != witHeader {
			p.buf = p.buf[1:]
			continue
		}

		if len(p.buf) >= 2 && !validWitType(p.buf[1]) {
			p.buf = p.buf[1:]
			continue
		}

		if len(p.buf) < witFrameSize {
			break
		}

		if checksum(p.buf[:witFrameSize-1]) != p.buf[witFrameSize-1] {
			// Corrupt frame: skip the presumed header and rescan
			p.buf = p.buf[1:]
			continue
		}

		frame := witFrame{Type: p.buf[1]}
		copy(frame.Payload[:], p.buf[2:witFrameSize-1])
		frames = append(frames, frame)
		p.buf = p.buf[witFrameSize:]
	}

	return frames
}

func validWitType(t byte) bool {
	return (t >= 0x50 && t <= 0x5A) || t == 0x5F
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

func int16LE(b []byte) int16 {
	return int16(binary.LittleEndian.Uint16(b))
}

// witDecoder folds decoded frames into an accumulating sample. A complete
// motion sample is considered ready when an angle frame arrives, since the
// device emits acceleration, angular velocity and angle in that order.
type witDecoder struct {
	current Sample
}

func newWitDecoder() *witDecoder {
	return &witDecoder{current: Sample{}}
}

// Apply decodes one frame into the accumulated sample. It returns a
// snapshot of the sample when the frame completes a motion reading.
func (d *witDecoder) Apply(frame witFrame) (Sample, bool) {
	p := frame.Payload[:]

	switch frame.Type {
	case witPacketAccel:
		d.current[KeyAccX] = round4(float64(int16LE(p[0:2])) / 32768.0 * witAccRange)
		d.current[KeyAccY] = round4(float64(int16LE(p[2:4])) / 32768.0 * witAccRange)
		d.current[KeyAccZ] = round4(float64(int16LE(p[4:6])) / 32768.0 * witAccRange)
		d.current[KeyTemperature] = round2(float64(int16LE(p[6:8])) / 100.0)

	case witPacketGyro:
		d.current[KeyGyroX] = round4(float64(int16LE(p[0:2])) / 32768.0 * witGyroRange)
		d.current[KeyGyroY] = round4(float64(int16LE(p[2:4])) / 32768.0 * witGyroRange)
		d.current[KeyGyroZ] = round4(float64(int16LE(p[4:6])) / 32768.0 * witGyroRange)

	case witPacketAngle:
		d.current[KeyAngleX] = round4(float64(int16LE(p[0:2])) / 32768.0 * witAngleRange)
		d.current[KeyAngleY] = round4(float64(int16LE(p[2:4])) / 32768.0 * witAngleRange)
		d.current[KeyAngleZ] = round4(float64(int16LE(p[4:6])) / 32768.0 * witAngleRange)
		return stamp(d.current.Clone()), true

	case witPacketMagnetic:
		d.current[KeyMagX] = float64(int16LE(p[0:2]))
		d.current[KeyMagY] = float64(int16LE(p[2:4]))
		d.current[KeyMagZ] = float64(int16LE(p[4:6]))

	case witPacketQuaternion:
		d.current[KeyQuat0] = round4(float64(int16LE(p[0:2])) / 32768.0)
		d.current[KeyQuat1] = round4(float64(int16LE(p[2:4])) / 32768.0)
		d.current[KeyQuat2] = round4(float64(int16LE(p[4:6])) / 32768.0)
		d.current[KeyQuat3] = round4(float64(int16LE(p[6:8])) / 32768.0)
	}

	return nil, false
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
