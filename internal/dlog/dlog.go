// Package dlog supplies peakdrv's two standard log sinks: a "problem"
// logger for errors and a "update" logger for routine status lines. Both
// are plain *log.Logger values writing through a lumberjack.Logger for
// rotation, the same split dastard.ProblemLogger/dastard.UpdateLogger use
// (see global_config.go and cmd/dastard/dastard.go in the teacher).
package dlog

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogSink is the minimal logging contract peakdrv's internal packages
// depend on, satisfied by *log.Logger. Consumers embedding peakdrv can
// supply any sink meeting this contract — a telemetry forwarder, a
// structured logger adapter — in place of the rotating file loggers
// below, per spec.md §9's "all console logging is a pluggable sink
// supplied by the consumer."
type LogSink interface {
	Printf(format string, args ...interface{})
}

// ProblemLogger logs warnings and errors. Consumers may replace it
// wholesale; peakdrv never logs directly to stderr once a caller installs
// their own logger, following spec.md §9's "all console logging is a
// pluggable sink supplied by the consumer."
var ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)

// UpdateLogger logs routine acquisition status: frame counts, async
// start/stop, reconnect attempts.
var UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)

// OpenRotating opens filename for rotating, compressed logging via
// lumberjack and returns a *log.Logger writing to it, matching the
// teacher's startLogger in cmd/dastard/dastard.go.
func OpenRotating(filename string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 4,
		MaxAge:     180,
		Compress:   true,
	}, "", log.LstdFlags)
}

// ansiRed/ansiReset bracket a colourised error line, matching the
// original driver's errorToConsole (original_source/peak_micropulse).
const (
	ansiRed   = "\033[31m"
	ansiReset = "\033[0m"
)

// ErrPrintf writes a problem-logger line, optionally ANSI-red when color
// is true. This mirrors the original C++ handler's errorToConsole without
// hardcoding the escape sequence into the core codec/engine logic: only
// the session layer decides whether color is on, via SessionConfig.ColorLogs.
func ErrPrintf(logger *log.Logger, color bool, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if color {
		logger.Printf("%s%s%s", ansiRed, msg, ansiReset)
		return
	}
	logger.Printf("%s", msg)
}
