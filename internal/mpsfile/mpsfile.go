// Package mpsfile implements the MPS configuration-file interpreter:
// a tolerant line scanner that preserves every non-blank line as a
// command to replay to the instrument, while recognising the handful of
// directive prefixes that determine framing parameters (spec.md §4.1).
package mpsfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nist-peakdrv/peakdrv/internal/codec"
)

// ErrConfig is the sentinel all configuration-file failures wrap: a
// missing/unreadable file, or a malformed numeric token in a recognised
// directive (spec.md §7).
var ErrConfig = fmt.Errorf("peakdrv: configuration error")

type configError struct {
	detail string
	cause  error
}

func (e *configError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("mps file: %s: %v", e.detail, e.cause)
	}
	return "mps file: " + e.detail
}
func (e *configError) Unwrap() error { return ErrConfig }

// Result is the output of reading an MPS file: the verbatim command
// stream (one entry per non-blank source line, in source order) and the
// framing parameters derived from it.
type Result struct {
	Commands []string
	Params   codec.FramingParams
}

// Read opens path, scans it line by line, and returns the command stream
// plus the derived framing parameters. Read is idempotent: re-reading the
// same file byte-for-byte always yields the same Result (spec.md §8).
func Read(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, &configError{detail: fmt.Sprintf("open %s", path), cause: err}
	}
	defer f.Close()
	return Parse(f)
}

// Parse scans r line by line the way Read does, for callers that already
// have the MPS file's contents in memory (e.g. tests).
func Parse(r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(r)
	var result Result
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		result.Commands = append(result.Commands, line)

		if err := applyDirective(line, &result.Params); err != nil {
			return Result{}, &configError{detail: fmt.Sprintf("line %d: %q", lineNo, line), cause: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, &configError{detail: "scan", cause: err}
	}
	return result, nil
}

// applyDirective recognises the DOF, GATS, GAT, and SWP prefixes and
// updates params in place. All other lines are left uninterpreted; they
// were already appended to the command stream by the caller. Multiple
// occurrences of the same directive: last one wins (spec.md §4.1).
func applyDirective(line string, params *codec.FramingParams) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "DOF":
		return applyDOF(fields, params)
	case "GATS", "GAT":
		// GAT (single-gate) takes the same positional arguments and
		// behaves identically to GATS, per spec.md §9's resolution of
		// the open question about the original driver's GAT handling.
		return applyGates(fields, params)
	case "SWP":
		return applySweep(fields, params)
	default:
		return nil
	}
}

// applyDOF handles "DOF <code> [ascan_mode]".
func applyDOF(fields []string, params *codec.FramingParams) error {
	if len(fields) < 2 {
		return fmt.Errorf("DOF directive requires a format code argument")
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("DOF format code %q is not an integer: %w", fields[1], err)
	}
	params.FormatCode = code
	return nil
}

// applyGates handles "GATS <test_no> <start> <end>" (and GAT, identically).
func applyGates(fields []string, params *codec.FramingParams) error {
	if len(fields) < 4 {
		return fmt.Errorf("%s directive requires test number, start, and end arguments", fields[0])
	}
	start, err := strconv.Atoi(fields[2])
	if err != nil {
		return fmt.Errorf("%s gate start %q is not an integer: %w", fields[0], fields[2], err)
	}
	end, err := strconv.Atoi(fields[3])
	if err != nil {
		return fmt.Errorf("%s gate end %q is not an integer: %w", fields[0], fields[3], err)
	}
	params.GateStart = start
	params.GateEnd = end
	params.AscanLength = end - start
	return nil
}

// applySweep handles "SWP <sweep_no> <start_tn> - <end_tn>"; the literal
// "-" occupies token index 3 (spec.md §4.1).
func applySweep(fields []string, params *codec.FramingParams) error {
	if len(fields) < 5 {
		return fmt.Errorf("SWP directive requires sweep number, start test number, '-', and end test number arguments")
	}
	startTN, err := strconv.Atoi(fields[2])
	if err != nil {
		return fmt.Errorf("SWP start test number %q is not an integer: %w", fields[2], err)
	}
	endTN, err := strconv.Atoi(fields[4])
	if err != nil {
		return fmt.Errorf("SWP end test number %q is not an integer: %w", fields[4], err)
	}
	params.NumAscans = endTN - startTN + 1
	return nil
}
