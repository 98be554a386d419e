package protocol

// ExtractBits reads the bit range [lowBit, highBit] out of a big-endian
// register image such as the CID or CSD. Bit 0 is the least significant bit
// of the last byte and the highest bit index lands in the most significant
// bit of the first byte. The range may span byte boundaries but must fit in
// 32 bits.
func ExtractBits(register []byte, lowBit, highBit uint32) uint32 {
	bitCount := highBit - lowBit + 1
	lowByte := len(register) - 1 - int(lowBit>>3)
	highByte := len(register) - 1 - int(highBit>>3)
	if bitCount > 32 || highByte < 0 || lowByte >= len(register) {
		panic("protocol: bit range outside of register")
	}

	var val uint32
	bitsLeft := bitCount
	bitSrcOffset := lowBit & 7
	bitDestOffset := uint32(0)
	for i := lowByte; i >= highByte; i-- {
		bitsFromByte := 8 - bitSrcOffset
		if bitsFromByte > bitsLeft {
			bitsFromByte = bitsLeft
		}
		byteMask := uint32(1)<<bitsLeft - 1

		val |= (uint32(register[i]) >> bitSrcOffset & byteMask) << bitDestOffset

		bitSrcOffset = 0
		bitDestOffset += bitsFromByte
		bitsLeft -= bitsFromByte
	}
	return val
}
