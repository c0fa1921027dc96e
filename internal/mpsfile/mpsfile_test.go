package mpsfile

import (
	"errors"
	"strings"
	"testing"
)

const sampleMPS = `
; comment-like line, absorbed verbatim
DOF 1 0
GATS 1 100 356
SWP 1 1 - 16
`

func TestParse_DirectiveRecognition(t *testing.T) {
	result, err := Parse(strings.NewReader(sampleMPS))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Commands) != 4 {
		t.Fatalf("got %d commands, want 4: %v", len(result.Commands), result.Commands)
	}
	if result.Params.FormatCode != 1 {
		t.Errorf("FormatCode = %d, want 1", result.Params.FormatCode)
	}
	if result.Params.GateStart != 100 || result.Params.GateEnd != 356 {
		t.Errorf("gate = [%d, %d], want [100, 356]", result.Params.GateStart, result.Params.GateEnd)
	}
	if result.Params.AscanLength != 256 {
		t.Errorf("AscanLength = %d, want 256", result.Params.AscanLength)
	}
	if result.Params.NumAscans != 16 {
		t.Errorf("NumAscans = %d, want 16", result.Params.NumAscans)
	}
}

func TestParse_GATEquivalentToGATS(t *testing.T) {
	a, err := Parse(strings.NewReader("GATS 1 10 20\n"))
	if err != nil {
		t.Fatalf("Parse GATS: %v", err)
	}
	b, err := Parse(strings.NewReader("GAT 1 10 20\n"))
	if err != nil {
		t.Fatalf("Parse GAT: %v", err)
	}
	if a.Params != b.Params {
		t.Errorf("GAT and GATS produced different params: %+v vs %+v", a.Params, b.Params)
	}
}

func TestParse_LastDirectiveWins(t *testing.T) {
	result, err := Parse(strings.NewReader("DOF 1 0\nDOF 4 0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Params.FormatCode != 4 {
		t.Errorf("FormatCode = %d, want 4 (last directive should win)", result.Params.FormatCode)
	}
}

func TestParse_Idempotent(t *testing.T) {
	a, err := Parse(strings.NewReader(sampleMPS))
	if err != nil {
		t.Fatalf("first Parse: %v", err)
	}
	b, err := Parse(strings.NewReader(sampleMPS))
	if err != nil {
		t.Fatalf("second Parse: %v", err)
	}
	if len(a.Commands) != len(b.Commands) || a.Params != b.Params {
		t.Error("re-parsing the same MPS text produced a different Result")
	}
}

func TestParse_MalformedDOFNumeric(t *testing.T) {
	_, err := Parse(strings.NewReader("DOF notanumber 0\n"))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("got err=%v, want ErrConfig", err)
	}
}

func TestParse_MalformedGateNumeric(t *testing.T) {
	_, err := Parse(strings.NewReader("GATS 1 bad 356\n"))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("got err=%v, want ErrConfig", err)
	}
}

func TestParse_UnrecognisedLinesPreserved(t *testing.T) {
	result, err := Parse(strings.NewReader("FREEFORM LINE\nDOF 1 0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Commands) != 2 || result.Commands[0] != "FREEFORM LINE" {
		t.Errorf("unrecognised line not preserved verbatim: %v", result.Commands)
	}
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read("/nonexistent/path/to.mps")
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("got err=%v, want ErrConfig", err)
	}
}
