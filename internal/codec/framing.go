package codec

import "fmt"

// SubHeaderSize is the fixed byte length of every sub-frame's header
// (spec.md §3): marker, 24-bit count, 16-bit test number, format code,
// channel index. Exported so the frame package's decoder, which owns
// the sub-frame layout above this header, can size against it without
// duplicating the constant.
const SubHeaderSize = 8

// FramingParams are derived once from the MPS configuration file and are
// fixed for the lifetime of a session (spec.md §3).
type FramingParams struct {
	FormatCode  int // 1 = 8-bit, 4 = 16-bit; 2,3,5,6 reserved
	AscanLength int // samples per sub-frame = GateEnd - GateStart
	NumAscans   int // sub-frames per packet
	GateStart   int
	GateEnd     int
}

// BytesPerSample returns 1 for 8-bit format, 2 for 16-bit format, and an
// error for any other (reserved) format code.
func (p FramingParams) BytesPerSample() (int, error) {
	switch p.FormatCode {
	case 1:
		return 1, nil
	case 4:
		return 2, nil
	default:
		return 0, newFramingError("unknown format code %d", p.FormatCode)
	}
}

// PerSubframeBytes returns SubHeaderSize + AscanLength*BytesPerSample(),
// the declared byte count every in-spec sub-frame header must carry.
func (p FramingParams) PerSubframeBytes() (int, error) {
	bps, err := p.BytesPerSample()
	if err != nil {
		return 0, err
	}
	return SubHeaderSize + p.AscanLength*bps, nil
}

// PacketBytes returns NumAscans * PerSubframeBytes(), the exact byte
// count a CALS 1 data request returns (spec.md §3).
func (p FramingParams) PacketBytes() (int, error) {
	per, err := p.PerSubframeBytes()
	if err != nil {
		return 0, err
	}
	return p.NumAscans * per, nil
}

// Validate checks the invariants spec.md §3 requires before the params
// are used to size any receive.
func (p FramingParams) Validate() error {
	if p.AscanLength <= 0 {
		return fmt.Errorf("codec: ascan_length must be positive, got %d", p.AscanLength)
	}
	if p.NumAscans <= 0 {
		return fmt.Errorf("codec: num_ascans must be positive, got %d", p.NumAscans)
	}
	if _, err := p.BytesPerSample(); err != nil {
		return err
	}
	return nil
}
