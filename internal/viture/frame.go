package viture

import (
	"encoding/binary"
	"fmt"
)

// Both HID interfaces speak the same 64-byte report layout:
//
//	[0:2)   magic marker: FF FE on the control channel, FF FC on the sensor channel
//	[2:4)   CRC-16 (little-endian) over [4, 4+declared+2)
//	[4:6)   declared length (little-endian) = 12 + payload bytes
//	[6:10)  device timestamp (little-endian)
//	[10:14) reserved
//	[14:16) command id (little-endian; zeroed by the firmware on replies)
//	[16:18) reserved
//	[18:64) payload, zero-padded
const (
	frameSize      = 64
	payloadOffset  = 18
	maxPayload     = frameSize - payloadOffset
	minDeclaredLen = 12
)

var (
	magicControl = [2]byte{0xFF, 0xFE}
	magicSensor  = [2]byte{0xFF, 0xFC}
)

// frame is one decoded inbound report.
type frame struct {
	cmd       uint16
	timestamp uint32
	payload   []byte
	crcOK     bool
}

// buildFrame assembles a control-channel frame carrying cmd and payload.
// Payloads longer than the 46 bytes the layout can hold are rejected.
func buildFrame(cmd uint16, payload []byte) ([frameSize]byte, error) {
	var buf [frameSize]byte
	if len(payload) > maxPayload {
		return buf, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	declared := minDeclaredLen + len(payload)
	buf[0] = magicControl[0]
	buf[1] = magicControl[1]
	binary.LittleEndian.PutUint16(buf[4:6], uint16(declared))
	binary.LittleEndian.PutUint16(buf[14:16], cmd)
	copy(buf[payloadOffset:], payload)
	binary.LittleEndian.PutUint16(buf[2:4], crc16(buf[4:4+declared+2]))
	return buf, nil
}

// parseFrame decodes a raw report from either channel. The payload is copied
// out of buf, so the caller may reuse its read buffer. A checksum mismatch
// does not fail the parse; it is reported on the result instead, since the
// firmware is known to emit the occasional frame whose stored CRC disagrees
// with its content.
func parseFrame(buf []byte) (frame, error) {
	var f frame
	if len(buf) < payloadOffset {
		return f, fmt.Errorf("viture: short frame: %d bytes", len(buf))
	}
	declared := int(binary.LittleEndian.Uint16(buf[4:6]))
	if declared < minDeclaredLen {
		return f, fmt.Errorf("viture: declared length %d below minimum %d", declared, minDeclaredLen)
	}
	if 4+declared+2 > len(buf) {
		return f, fmt.Errorf("viture: declared length %d overruns %d-byte frame", declared, len(buf))
	}
	f.crcOK = binary.LittleEndian.Uint16(buf[2:4]) == crc16(buf[4:4+declared+2])
	f.timestamp = binary.LittleEndian.Uint32(buf[6:10])
	f.cmd = binary.LittleEndian.Uint16(buf[14:16])
	f.payload = append([]byte(nil), buf[payloadOffset:6+declared]...)
	return f, nil
}
