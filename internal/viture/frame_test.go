package viture

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// testFrame hand-assembles a wire frame for either channel, with a valid
// checksum, so tests do not depend on buildFrame for inbound fixtures.
func testFrame(magic [2]byte, cmd uint16, ts uint32, payload []byte) []byte {
	buf := make([]byte, frameSize)
	buf[0], buf[1] = magic[0], magic[1]
	declared := minDeclaredLen + len(payload)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(declared))
	binary.LittleEndian.PutUint32(buf[6:10], ts)
	binary.LittleEndian.PutUint16(buf[14:16], cmd)
	copy(buf[payloadOffset:], payload)
	binary.LittleEndian.PutUint16(buf[2:4], crc16(buf[4:4+declared+2]))
	return buf
}

func TestBuildFrameLayout(t *testing.T) {
	out, err := buildFrame(0x15, []byte{0x01})
	require.NoError(t, err)

	require.Equal(t, frameSize, len(out))
	require.Equal(t, []byte{0xFF, 0xFE}, out[0:2])
	require.Equal(t, uint16(minDeclaredLen+1), binary.LittleEndian.Uint16(out[4:6]))
	require.Equal(t, uint16(0x15), binary.LittleEndian.Uint16(out[14:16]))
	require.Equal(t, byte(0x01), out[payloadOffset])

	declared := int(binary.LittleEndian.Uint16(out[4:6]))
	require.Equal(t, crc16(out[4:4+declared+2]), binary.LittleEndian.Uint16(out[2:4]))

	// Everything past the payload stays zero.
	require.True(t, bytes.Equal(out[payloadOffset+1:], make([]byte, maxPayload-1)))
}

func TestBuildFrameRejectsOversizePayload(t *testing.T) {
	_, err := buildFrame(0x15, make([]byte, maxPayload+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	// The boundary itself is fine.
	out, err := buildFrame(0x15, make([]byte, maxPayload))
	require.NoError(t, err)
	require.Equal(t, uint16(minDeclaredLen+maxPayload), binary.LittleEndian.Uint16(out[4:6]))
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x01},
		{0xDE, 0xAD, 0xBE, 0xEF},
		bytes.Repeat([]byte{0x5A}, 12),
		bytes.Repeat([]byte{0xA5}, maxPayload),
	}
	for _, payload := range payloads {
		out, err := buildFrame(0x2A, payload)
		require.NoError(t, err)

		f, err := parseFrame(out[:])
		require.NoError(t, err)
		require.True(t, f.crcOK)
		require.Equal(t, uint16(0x2A), f.cmd)
		require.Equal(t, len(payload), len(f.payload))
		if len(payload) > 0 {
			require.Equal(t, payload, f.payload)
		}
	}
}

func TestParseFrameChecksumMismatch(t *testing.T) {
	raw := testFrame(magicControl, 0x40, 7, []byte{0x11, 0x22})
	raw[payloadOffset] ^= 0xFF

	f, err := parseFrame(raw)
	require.NoError(t, err, "a checksum mismatch must not fail the parse")
	require.False(t, f.crcOK)
	require.Equal(t, uint16(0x40), f.cmd)
	require.Equal(t, []byte{0x11 ^ 0xFF, 0x22}, f.payload)
}

func TestParseFrameTimestamp(t *testing.T) {
	raw := testFrame(magicSensor, 0, 0xDEADBEEF, make([]byte, orientationLen))
	f, err := parseFrame(raw)
	require.NoError(t, err)
	require.True(t, f.crcOK)
	require.Equal(t, uint32(0xDEADBEEF), f.timestamp)
}

func TestParseFrameRejects(t *testing.T) {
	valid := testFrame(magicControl, 1, 0, []byte{0x01})

	cases := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"short", valid[:payloadOffset-1]},
		{"declared below minimum", func() []byte {
			raw := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint16(raw[4:6], minDeclaredLen-1)
			return raw
		}()},
		{"declared overruns frame", func() []byte {
			raw := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint16(raw[4:6], uint16(len(raw)-6+1))
			return raw
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseFrame(tc.raw)
			require.Error(t, err)
		})
	}
}

func TestParseFrameCopiesPayload(t *testing.T) {
	raw := testFrame(magicControl, 9, 0, []byte{0xAA})
	f, err := parseFrame(raw)
	require.NoError(t, err)

	raw[payloadOffset] = 0x00
	require.Equal(t, []byte{0xAA}, f.payload, "payload must not alias the read buffer")
}
