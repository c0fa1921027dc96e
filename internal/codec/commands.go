package codec

import "fmt"

// crlf terminates every outbound ASCII command (spec.md §6).
const crlf = "\r\n"

// EncodeCommand appends CR-LF to an ASCII command line, ready to write to
// the transport.
func EncodeCommand(line string) []byte {
	return []byte(line + crlf)
}

// EncodeReset builds the RST command, optionally parameterised with a
// digitisation rate. rateMHz of 0 means "instrument default" and is sent
// as a bare RST, matching the original driver's sendReset.
func EncodeReset(rateMHz int) ([]byte, error) {
	switch rateMHz {
	case 0:
		return EncodeCommand("RST"), nil
	case 10, 25, 50, 100:
		return EncodeCommand(fmt.Sprintf("RST %d", rateMHz)), nil
	default:
		return nil, fmt.Errorf("codec: digitisation rate must be 0, 10, 25, 50, or 100 MHz, got %d", rateMHz)
	}
}

// DataRequestCommand is the fixed data-request command the engine sends
// once per acquisition (spec.md §4.3, §4.4).
var DataRequestCommand = EncodeCommand("CALS 1")
