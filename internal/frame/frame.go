// Package frame holds the decoded, in-memory representation of one
// acquisition: a Frame built out of SubFrames, each carrying signed
// amplitude samples.
package frame

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/nist-peakdrv/peakdrv/internal/codec"
	"github.com/nist-peakdrv/peakdrv/internal/config"
)

// SubFrameKind names the variant of a decoded sub-frame, mirroring the
// marker byte at offset 0 of the wire format (spec.md §4.3).
type SubFrameKind string

// The sub-frame kinds the instrument can return.
const (
	KindAscan                  SubFrameKind = "ascan"
	KindNormalIndications      SubFrameKind = "normal_indications"
	KindGainReducedIndications SubFrameKind = "gain_reduced_indications"
	KindLwlCouplingFailure     SubFrameKind = "lwl_coupling_failure"
	KindInstrumentError        SubFrameKind = "instrument_error"
	KindUnknown                SubFrameKind = "unknown"
)

// SubFrameHeader is the common 8-byte header every sub-frame carries.
type SubFrameHeader struct {
	Kind       SubFrameKind
	Marker     byte // the raw marker byte, preserved for KindUnknown diagnostics
	Count      int  // declared byte count, including this 8-byte header
	TestNumber int
	FormatCode int
	Channel    int
}

// ReadyFunc is invoked once per completed async acquisition cycle with
// whether that cycle produced a valid frame; the synchronous AcquireOnce
// path takes no ReadyFunc. It must not block: it runs on the engine's
// receive-loop goroutine.
type ReadyFunc func(valid bool)

// SubFrame is a header plus the samples decoded from its payload. Samples
// are populated only for KindAscan; other kinds carry an empty slice
// (their payload is currently opaque per spec.md §4.3).
type SubFrame struct {
	Header  SubFrameHeader
	Samples []int32
}

// Frame is one complete packet's worth of sub-frames, plus the metadata
// that is copied verbatim from the session's configuration and never
// interpreted by the codec or acquisition engine.
type Frame struct {
	AcquisitionID       ulid.ULID
	Timestamp           time.Time
	DigitisationRateMHz int
	Geometry            config.Geometry
	Params              codec.FramingParams
	SubFrames           []SubFrame
	MaxAmplitude        int32
}

// AmplitudeMatrix returns the frame's samples as a dense NumAscans x
// AscanLength matrix, the shape downstream reconstruction code consumes,
// the same way dastard hands *mat.Dense matrices across the
// DataSource/reconstruction boundary (see ConfigureProjectorsBases in the
// teacher's data_source.go). All sub-frames must carry the same sample
// count or AmplitudeMatrix returns an error.
func (f Frame) AmplitudeMatrix() (*mat.Dense, error) {
	if len(f.SubFrames) == 0 {
		return mat.NewDense(0, 0, nil), nil
	}
	rows := len(f.SubFrames)
	cols := len(f.SubFrames[0].Samples)
	data := make([]float64, rows*cols)
	for i, sf := range f.SubFrames {
		if len(sf.Samples) != cols {
			return nil, rowLengthMismatchError{row: i, got: len(sf.Samples), want: cols}
		}
		for j, s := range sf.Samples {
			data[i*cols+j] = float64(s)
		}
	}
	return mat.NewDense(rows, cols, data), nil
}

type rowLengthMismatchError struct {
	row, got, want int
}

func (e rowLengthMismatchError) Error() string {
	return "frame: sub-frame row has inconsistent sample count"
}

// ComputeMaxAmplitude returns the largest |sample| across all of the
// frame's sub-frames. It does not mutate the frame; callers store the
// result into Frame.MaxAmplitude themselves (DecodePacket computes it as
// the last step of packet decoding, per spec.md §4.3, and the acquisition
// engine stores it when it builds the frame).
func ComputeMaxAmplitude(subframes []SubFrame) int32 {
	var max int32
	for _, sf := range subframes {
		for _, s := range sf.Samples {
			abs := s
			if abs < 0 {
				abs = -abs
			}
			if abs > max {
				max = abs
			}
		}
	}
	return max
}
