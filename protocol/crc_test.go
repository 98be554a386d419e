package protocol

import "testing"

func TestCRC7KnownCommands(t *testing.T) {
	testCases := []struct {
		name     string
		packet   []byte
		expected byte // full trailing byte: (crc7 << 1) | stop bit
	}{
		// The CMD0 and CMD8 values are the well known constants that
		// CRC-less SD drivers hard code.
		{"CMD0", []byte{0x40, 0x00, 0x00, 0x00, 0x00}, 0x95},
		{"CMD8(0x1AA)", []byte{0x48, 0x00, 0x00, 0x01, 0xAA}, 0x87},
	}

	for _, tc := range testCases {
		got := (CRC7(tc.packet) << 1) | CmdStopBit
		if got != tc.expected {
			t.Errorf("%s: trailing byte = 0x%02X, want 0x%02X", tc.name, got, tc.expected)
		}
	}
}

func TestCRC7EmptyIsZero(t *testing.T) {
	if crc := CRC7(nil); crc != 0 {
		t.Errorf("CRC7(nil) = 0x%02X, want 0", crc)
	}
}

func TestCRC16FilledBlocks(t *testing.T) {
	testCases := []struct {
		fill     byte
		expected uint16
	}{
		{0xAD, 0x2F29},
		{0x11, 0x3880},
		{0x22, 0x7100},
		{0x33, 0x4980},
		{0x44, 0xE200},
	}

	block := make([]byte, 512)
	for _, tc := range testCases {
		for i := range block {
			block[i] = tc.fill
		}
		if got := CRC16(block); got != tc.expected {
			t.Errorf("CRC16(512 x 0x%02X) = 0x%04X, want 0x%04X", tc.fill, got, tc.expected)
		}
	}
}

func TestCRC16EmptyIsZero(t *testing.T) {
	if crc := CRC16(nil); crc != 0 {
		t.Errorf("CRC16(nil) = 0x%04X, want 0", crc)
	}
}

func TestCRC16IsPure(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if CRC16(data) != CRC16(data) {
		t.Error("CRC16 returned different values for the same input")
	}
}

func TestCRC16DetectsSingleByteChange(t *testing.T) {
	data1 := []byte{0x01, 0x02, 0x03}
	data2 := []byte{0x01, 0x02, 0x04}
	if CRC16(data1) == CRC16(data2) {
		t.Errorf("CRC16 collision: both inputs produced 0x%04X", CRC16(data1))
	}
}
