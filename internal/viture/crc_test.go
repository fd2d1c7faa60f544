package viture

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC16KnownVector(t *testing.T) {
	// XMODEM check value for the standard catalog input.
	require.Equal(t, uint16(0x31C3), crc16([]byte("123456789")))
	require.Equal(t, uint16(0), crc16(nil))
}

func TestCRC16Deterministic(t *testing.T) {
	data := []byte{0xFF, 0xFE, 0x00, 0x13, 0x37, 0xAB}
	first := crc16(data)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, crc16(data))
	}
}

func TestCRC16SingleBitFlips(t *testing.T) {
	data := []byte("orientation stream payload")
	ref := crc16(data)
	for i := range data {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			require.NotEqual(t, ref, crc16(flipped), "flip byte %d bit %d went undetected", i, bit)
		}
	}
}

func TestCRC16ConcurrentFirstUse(t *testing.T) {
	data := []byte{0x15, 0x01}
	want := crc16(data)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, want, crc16(data))
		}()
	}
	wg.Wait()
}
