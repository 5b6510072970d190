// Package crc holds checksums used on the BMS wire.
package crc

// Sum8 is low 8 bits of the sum of all bytes.
// Daly frames carry it as the last byte.
func Sum8(b []byte) byte {
	var sum byte
	for _, x := range b {
		sum += x
	}
	return sum
}

// Sum8Next continues running checksum with more bytes.
func Sum8Next(sum byte, b []byte) byte { return sum + Sum8(b) }
