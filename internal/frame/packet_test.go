package frame

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/nist-peakdrv/peakdrv/internal/codec"
)

func buildSubFrame(testNo, channel int, formatCode int, samples []int32) []byte {
	bps := 1
	if formatCode == 4 {
		bps = 2
	}
	count := codec.SubHeaderSize + len(samples)*bps
	buf := make([]byte, count)
	buf[0] = 0x1A
	buf[1] = byte(count)
	buf[2] = byte(count >> 8)
	buf[3] = byte(count >> 16)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(testNo))
	buf[6] = byte(formatCode)
	buf[7] = byte(channel)
	for i, s := range samples {
		enc, _ := EncodeAmplitude(s, formatCode)
		copy(buf[codec.SubHeaderSize+i*bps:], enc)
	}
	return buf
}

func TestDecodePacket_EightBitRoundTrip(t *testing.T) {
	params := codec.FramingParams{FormatCode: 1, AscanLength: 4, NumAscans: 2, GateStart: 0, GateEnd: 4}
	samples := []int32{-128, -1, 0, 127}
	var data []byte
	data = append(data, buildSubFrame(1, 0, 1, samples)...)
	data = append(data, buildSubFrame(2, 1, 1, samples)...)

	subframes, maxAmp, err := DecodePacket(data, params)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if len(subframes) != 2 {
		t.Fatalf("got %d sub-frames, want 2", len(subframes))
	}
	for i, sf := range subframes {
		if sf.Header.Kind != KindAscan {
			t.Errorf("sub-frame %d kind = %s, want ascan", i, sf.Header.Kind)
		}
		for j, s := range sf.Samples {
			if s != samples[j] {
				t.Errorf("sub-frame %d sample %d = %d, want %d", i, j, s, samples[j])
			}
		}
	}
	if maxAmp != 128 {
		t.Errorf("max amplitude = %d, want 128", maxAmp)
	}
}

func TestDecodePacket_SixteenBitRoundTrip(t *testing.T) {
	params := codec.FramingParams{FormatCode: 4, AscanLength: 3, NumAscans: 1, GateStart: 0, GateEnd: 3}
	samples := []int32{-32768, 0, 32767}
	data := buildSubFrame(1, 0, 4, samples)

	subframes, maxAmp, err := DecodePacket(data, params)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	for j, s := range subframes[0].Samples {
		if s != samples[j] {
			t.Errorf("sample %d = %d, want %d", j, s, samples[j])
		}
	}
	if maxAmp != 32768 {
		t.Errorf("max amplitude = %d, want 32768", maxAmp)
	}
}

func TestDecodePacket_FormatCodeMismatch(t *testing.T) {
	params := codec.FramingParams{FormatCode: 4, AscanLength: 4, NumAscans: 1, GateStart: 0, GateEnd: 4}
	data := buildSubFrame(1, 0, 1, []int32{0, 0, 0, 0})

	_, _, err := DecodePacket(data, params)
	if !errors.Is(err, codec.ErrFraming) {
		t.Fatalf("got err=%v, want ErrFraming", err)
	}
}

func TestDecodePacket_CountMismatch(t *testing.T) {
	params := codec.FramingParams{FormatCode: 1, AscanLength: 4, NumAscans: 1, GateStart: 0, GateEnd: 4}
	data := buildSubFrame(1, 0, 1, []int32{0, 0, 0, 0})
	data[1] = 0xFF // corrupt the declared count

	_, _, err := DecodePacket(data, params)
	if !errors.Is(err, codec.ErrFraming) {
		t.Fatalf("got err=%v, want ErrFraming", err)
	}
}

func TestDecodePacket_ShortPacket(t *testing.T) {
	params := codec.FramingParams{FormatCode: 1, AscanLength: 4, NumAscans: 2, GateStart: 0, GateEnd: 4}
	data := buildSubFrame(1, 0, 1, []int32{0, 0, 0, 0}) // only one of two sub-frames

	_, _, err := DecodePacket(data, params)
	if !errors.Is(err, codec.ErrFraming) {
		t.Fatalf("got err=%v, want ErrFraming", err)
	}
}

func TestDecodePacket_NonAscanMarkerAborts(t *testing.T) {
	params := codec.FramingParams{FormatCode: 1, AscanLength: 4, NumAscans: 1, GateStart: 0, GateEnd: 4}
	data := buildSubFrame(1, 0, 1, []int32{0, 0, 0, 0})
	data[0] = 0x06 // instrument-error marker where an ascan was expected

	_, _, err := DecodePacket(data, params)
	if !errors.Is(err, codec.ErrFraming) {
		t.Fatalf("got err=%v, want ErrFraming", err)
	}
}
