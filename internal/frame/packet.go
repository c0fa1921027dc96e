package frame

import (
	"encoding/binary"

	"github.com/nist-peakdrv/peakdrv/internal/codec"
)

// markerKind maps a sub-frame's marker byte to its kind (spec.md §4.3).
func markerKind(marker byte) SubFrameKind {
	switch marker {
	case 0x1A:
		return KindAscan
	case 0x1C:
		return KindNormalIndications
	case 0x1D:
		return KindGainReducedIndications
	case 0x1E:
		return KindLwlCouplingFailure
	case 0x06:
		return KindInstrumentError
	default:
		return KindUnknown
	}
}

// decodeSubFrameHeader reads the 8-byte header at the front of buf. buf
// must be at least codec.SubHeaderSize bytes long.
func decodeSubFrameHeader(buf []byte) SubFrameHeader {
	marker := buf[0]
	count := int(buf[1]) | int(buf[2])<<8 | int(buf[3])<<16
	testNo := int(binary.LittleEndian.Uint16(buf[4:6]))
	return SubFrameHeader{
		Kind:       markerKind(marker),
		Marker:     marker,
		Count:      count,
		TestNumber: testNo,
		FormatCode: int(buf[6]),
		Channel:    int(buf[7]),
	}
}

// decodeAmplitudes decodes the payload of an ascan sub-frame into signed
// samples centered around zero, per spec.md §4.3's amplitude decoding
// table. payload must contain exactly ascanLength*bytesPerSample bytes.
func decodeAmplitudes(payload []byte, formatCode int) ([]int32, error) {
	switch formatCode {
	case 1:
		samples := make([]int32, len(payload))
		for i, b := range payload {
			samples[i] = int32(b) - 128
		}
		return samples, nil
	case 4:
		if len(payload)%2 != 0 {
			return nil, codec.NewFramingError("16-bit payload has odd length %d", len(payload))
		}
		samples := make([]int32, len(payload)/2)
		for i := range samples {
			raw := binary.LittleEndian.Uint16(payload[2*i : 2*i+2])
			samples[i] = int32(raw) - 32768
		}
		return samples, nil
	default:
		return nil, codec.NewFramingError("unknown format code %d", formatCode)
	}
}

// EncodeAmplitude is the inverse of decodeAmplitudes for a single sample,
// used by tests and by the mock instrument to build wire-format payloads.
// Encoding v in format 1 yields byte v+128; in format 4, two little-endian
// bytes of v+32768 (spec.md §8, "Encode/decode round trip").
func EncodeAmplitude(v int32, formatCode int) ([]byte, error) {
	switch formatCode {
	case 1:
		return []byte{byte(v + 128)}, nil
	case 4:
		raw := uint16(v + 32768)
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, raw)
		return buf, nil
	default:
		return nil, codec.NewFramingError("unknown format code %d", formatCode)
	}
}

// DecodePacket scans data as a concatenation of exactly p.NumAscans
// sub-frames (spec.md §4.3 "Packet validation") and returns the decoded
// sub-frames plus the frame's max amplitude. It aborts at the first
// validation failure without returning any partially-built result, so a
// caller never mistakes a partial decode for a complete one. DecodePacket
// lives in the frame package, rather than codec, because it produces this
// package's own SubFrame values; codec.FramingParams only describes the
// shape it must conform to.
func DecodePacket(data []byte, p codec.FramingParams) ([]SubFrame, int32, error) {
	if err := p.Validate(); err != nil {
		return nil, 0, err
	}
	perSubframe, err := p.PerSubframeBytes()
	if err != nil {
		return nil, 0, err
	}

	subframes := make([]SubFrame, 0, p.NumAscans)
	cursor := 0
	for len(subframes) < p.NumAscans {
		if cursor+codec.SubHeaderSize > len(data) {
			return nil, 0, codec.NewFramingError("short packet: only %d of %d sub-frames present", len(subframes), p.NumAscans)
		}
		header := decodeSubFrameHeader(data[cursor:])

		if header.Kind != KindAscan {
			return nil, 0, codec.NewFramingError("sub-frame %d has kind %s, want ascan (marker 0x%02x)", len(subframes), header.Kind, header.Marker)
		}
		if header.FormatCode != p.FormatCode {
			return nil, 0, codec.NewFramingError("sub-frame %d format code %d does not match configured %d", len(subframes), header.FormatCode, p.FormatCode)
		}
		if header.Count != perSubframe {
			return nil, 0, codec.NewFramingError("sub-frame %d declares count %d, want %d", len(subframes), header.Count, perSubframe)
		}
		if cursor+header.Count > len(data) {
			return nil, 0, codec.NewFramingError("sub-frame %d count %d runs past end of packet", len(subframes), header.Count)
		}

		payload := data[cursor+codec.SubHeaderSize : cursor+header.Count]
		samples, err := decodeAmplitudes(payload, header.FormatCode)
		if err != nil {
			return nil, 0, err
		}

		subframes = append(subframes, SubFrame{Header: header, Samples: samples})
		cursor += header.Count
	}

	return subframes, ComputeMaxAmplitude(subframes), nil
}
