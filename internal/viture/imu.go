package viture

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Orientation is one decoded attitude sample, in degrees.
type Orientation struct {
	Roll  float32
	Pitch float32
	Yaw   float32
}

// The first 12 bytes of a sensor payload carry roll, pitch, yaw.
const orientationLen = 12

// DecodeOrientation extracts the Euler angles from a sensor payload. The
// device emits each angle as a big-endian IEEE-754 float; the yaw sign is
// flipped from the wire value.
func DecodeOrientation(payload []byte) (Orientation, error) {
	if len(payload) < orientationLen {
		return Orientation{}, fmt.Errorf("viture: orientation payload too short: %d bytes", len(payload))
	}
	return Orientation{
		Roll:  floatBE(payload[0:4]),
		Pitch: floatBE(payload[4:8]),
		Yaw:   -floatBE(payload[8:12]),
	}, nil
}

func floatBE(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}
