package codec

// Fletcher8 computes the two-accumulator running-sum checksum used by MIP frames.
// Both accumulators wrap at 256; the first is the MSB of the wire checksum.
func Fletcher8(data []byte) Checksum {
	var sum1, sum2 uint8
	for _, b := range data {
		sum1 += b
		sum2 += sum1
	}
	return Checksum{MSB: sum1, LSB: sum2}
}

// ValidateChecksum verifies that the calculated checksum matches the received checksum.
func ValidateChecksum(data []byte, received Checksum) bool {
	return Fletcher8(data) == received
}
