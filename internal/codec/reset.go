package codec

import "fmt"

// resetResponseSize is the fixed length of the instrument's response to
// RST (spec.md §4.3).
const resetResponseSize = 32

// resetAckByte is the byte the instrument returns at offset 0 on a
// successful reset. The original driver compared against both the
// literal 35 and the hex constant 0x23 in different branches; they are
// the same value. peakdrv names only the hex constant (spec.md §9).
const resetAckByte = 0x23

// SystemType identifies the instrument family reported in byte 4 of the
// reset response, decoded from the original driver's comment describing
// that nibble (original_source/peak_micropulse/src/peak_handler.cpp).
type SystemType uint8

// The known SystemType values.
const (
	SystemMicroPulse5  SystemType = 0
	SystemMicroPulseLT1 SystemType = 1
	SystemMicroPulseLT2 SystemType = 2
	SystemLTPA          SystemType = 3
	SystemMPLT          SystemType = 4
	SystemMicroPulse6   SystemType = 5
)

// String names the SystemType for log lines, falling back to a numeric
// label for values the driver doesn't recognise.
func (s SystemType) String() string {
	switch s {
	case SystemMicroPulse5:
		return "MicroPulse 5"
	case SystemMicroPulseLT1:
		return "MicroPulse LT1"
	case SystemMicroPulseLT2:
		return "MicroPulse LT2"
	case SystemLTPA:
		return "LTPA"
	case SystemMPLT:
		return "MPLT"
	case SystemMicroPulse6:
		return "MicroPulse 6"
	default:
		return fmt.Sprintf("unknown system type %d", uint8(s))
	}
}

// ResetInfo is the decoded 32-byte reset response.
type ResetInfo struct {
	Success             bool
	SystemType          SystemType
	ActualFormatCode    int
	DefaultRateMHz      int
	ActualRateMHz       int
	DefaultFormatCode   int
}

// DecodeResetResponse parses the instrument's 32-byte response to RST.
// All byte reads are unsigned, per spec.md §4.3.
func DecodeResetResponse(data []byte) (ResetInfo, error) {
	if len(data) != resetResponseSize {
		return ResetInfo{}, fmt.Errorf("codec: reset response must be %d bytes, got %d", resetResponseSize, len(data))
	}
	info := ResetInfo{
		Success:           data[0] == resetAckByte,
		SystemType:        SystemType(data[4]),
		ActualFormatCode:  int(data[7]),
		DefaultRateMHz:    int(data[8]),
		ActualRateMHz:     int(data[9]),
		DefaultFormatCode: int(data[10]),
	}
	return info, nil
}
