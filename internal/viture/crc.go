package viture

import "sync"

// The MCU frames carry a CRC-16/CCITT checksum: polynomial 0x1021, zero
// initial value, no reflection, no final XOR. The firmware computes it
// table-driven, so mismatching checksums always mean corruption rather
// than an algorithm variant.

var (
	crcOnce  sync.Once
	crcTable [256]uint16
)

func initCRCTable() {
	for i := range crcTable {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

// crc16 returns the checksum of data. The table is built once, on first use.
func crc16(data []byte) uint16 {
	crcOnce.Do(initCRCTable)
	var crc uint16
	for _, b := range data {
		crc = crcTable[byte(crc>>8)^b] ^ crc<<8
	}
	return crc
}
