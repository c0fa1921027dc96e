// Package peakdrv is a client-side driver for phased-array ultrasound
// digitisers that speak the MicroPulse-family wire protocol: a single
// TCP command/data connection, MPS configuration files, and synchronous
// or continuous asynchronous frame acquisition.
//
// Session is the package's façade; internal/transport, internal/codec,
// internal/mpsfile, and internal/acquire do the work underneath it, the
// way cmd/dastard/dastard.go composes dastard's lower-level packages
// into one driver object.
package peakdrv

import (
	"fmt"
	"log"
	"time"

	"github.com/nist-peakdrv/peakdrv/internal/acquire"
	"github.com/nist-peakdrv/peakdrv/internal/codec"
	"github.com/nist-peakdrv/peakdrv/internal/config"
	"github.com/nist-peakdrv/peakdrv/internal/dlog"
	"github.com/nist-peakdrv/peakdrv/internal/frame"
	"github.com/nist-peakdrv/peakdrv/internal/mpsfile"
	"github.com/nist-peakdrv/peakdrv/internal/statuspub"
	"github.com/nist-peakdrv/peakdrv/internal/transport"
)

// Status update tags published over an attached statuspub.Publisher
// (the payload kinds statuspub.Update lists: frame counts, reset info,
// async state transitions).
const (
	statusTagReset      = "reset"
	statusTagAsyncState = "async_state"
	statusTagFrame      = "frame"
)

// resetUpdate is the payload published under statusTagReset.
type resetUpdate struct {
	Success    bool
	SystemType string
	Attempt    int
	Err        string
}

// asyncStateUpdate is the payload published under statusTagAsyncState.
type asyncStateUpdate struct {
	State string
}

// frameUpdate is the payload published under statusTagFrame.
type frameUpdate struct {
	AcquisitionID string
	SubFrameCount int
	MaxAmplitude  int32
	Valid         bool
}

// ErrSession is the sentinel all session-level failures wrap: reset
// exhaustion, calling an operation before Connect/Reset, or a bad
// configuration (spec.md §7).
var ErrSession = fmt.Errorf("peakdrv: session error")

type sessionError struct {
	detail string
	cause  error
}

func (e *sessionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("session: %s: %v", e.detail, e.cause)
	}
	return "session: " + e.detail
}
func (e *sessionError) Unwrap() error { return ErrSession }

// Session owns the instrument connection and the acquisition engine for
// one digitiser. Zero value is not usable; construct with NewSession.
type Session struct {
	cfg       config.SessionConfig
	transport *transport.Transport
	engine    *acquire.Engine
	params    codec.FramingParams
	status    *statuspub.Publisher

	mpsResult  mpsfile.Result
	configured bool
	connected  bool
	reset      bool

	ProblemLogger *log.Logger
	UpdateLogger  *log.Logger
}

// NewSession returns a Session configured per cfg, ready for Connect.
// NewSession does not touch the network.
func NewSession(cfg config.SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &sessionError{detail: "invalid configuration", cause: err}
	}
	s := &Session{
		cfg:           cfg,
		transport:     transport.New(),
		ProblemLogger: dlog.ProblemLogger,
		UpdateLogger:  dlog.UpdateLogger,
	}
	return s, nil
}

// Configure parses the MPS file at path into its command stream and
// derived framing parameters, without touching the network. It is the
// first step of a Session's lifecycle — "constructed → configured (file
// read) → connected → reset-ack'd → MPS-configured → acquiring" (spec.md
// §3) — and must run before SendMPSConfiguration.
func (s *Session) Configure(path string) error {
	if s.engine != nil {
		return &sessionError{detail: "cannot Configure after SendMPSConfiguration"}
	}
	result, err := mpsfile.Read(path)
	if err != nil {
		return &sessionError{detail: "read mps file", cause: err}
	}
	if err := result.Params.Validate(); err != nil {
		return &sessionError{detail: "mps file did not produce valid framing parameters", cause: err}
	}
	s.mpsResult = result
	s.configured = true
	return nil
}

// SetStatusPublisher attaches a ZMQ status feed: Reset, AcquireOnce,
// StartAsync, and StopAsync publish through it from then on. A nil
// publisher (the zero value before this is called) makes every publish a
// no-op, so attaching one is optional.
func (s *Session) SetStatusPublisher(p *statuspub.Publisher) {
	s.status = p
}

func (s *Session) publish(tag string, payload interface{}) {
	if s.status == nil {
		return
	}
	s.status.Publish(statuspub.Update{Tag: tag, Payload: payload})
}

// SetGeometry updates the physical-configuration metadata stamped onto
// every frame the engine produces from now on. It may be called at any
// point in the session's lifetime; peakdrv never interprets these
// values, so there is no reason to gate the call on connection state
// (SPEC_FULL.md §7, supplemented feature: geometry reconfiguration).
func (s *Session) SetGeometry(g config.Geometry) {
	s.cfg.Geometry = g
	if s.engine != nil {
		s.engine.Metadata.Geometry = g
	}
}

// Connect opens the TCP connection to the configured host:port. It does
// not send RST; callers must call Reset before any acquisition.
func (s *Session) Connect() error {
	if err := s.transport.Connect(s.cfg.Host, s.cfg.Port); err != nil {
		return &sessionError{detail: "connect", cause: err}
	}
	s.connected = true
	return nil
}

// Reset sends RST (optionally parameterised by the configured
// digitisation rate), retrying up to cfg.ResetAttempts times with a
// cfg.ResetSettle pause between attempts, and returns the instrument's
// decoded reset response. Reset must succeed before any acquisition
// call (spec.md §4.4, §7).
func (s *Session) Reset() (codec.ResetInfo, error) {
	if !s.connected {
		return codec.ResetInfo{}, &sessionError{detail: "cannot Reset before Connect"}
	}

	cmd, err := codec.EncodeReset(s.cfg.RequestedRateMHz)
	if err != nil {
		return codec.ResetInfo{}, &sessionError{detail: "build reset command", cause: err}
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.ResetAttempts; attempt++ {
		info, err := s.attemptReset(cmd)
		if err == nil {
			s.reset = true
			dlog.ErrPrintf(s.UpdateLogger, false, "peakdrv: reset succeeded on attempt %d: %s", attempt, info.SystemType)
			s.publish(statusTagReset, resetUpdate{Success: true, SystemType: info.SystemType.String(), Attempt: attempt})
			return info, nil
		}
		lastErr = err
		dlog.ErrPrintf(s.ProblemLogger, s.cfg.ColorLogs, "peakdrv: reset attempt %d/%d failed: %v", attempt, s.cfg.ResetAttempts, err)
		if attempt < s.cfg.ResetAttempts {
			time.Sleep(s.cfg.ResetSettle)
		}
	}
	s.publish(statusTagReset, resetUpdate{Success: false, Attempt: s.cfg.ResetAttempts, Err: lastErr.Error()})
	return codec.ResetInfo{}, &sessionError{detail: fmt.Sprintf("reset exhausted %d attempts", s.cfg.ResetAttempts), cause: lastErr}
}

func (s *Session) attemptReset(cmd []byte) (codec.ResetInfo, error) {
	if err := s.transport.Send(cmd); err != nil {
		return codec.ResetInfo{}, err
	}
	data, err := s.transport.ReceiveExact(32)
	if err != nil {
		return codec.ResetInfo{}, err
	}
	info, err := codec.DecodeResetResponse(data)
	if err != nil {
		return codec.ResetInfo{}, err
	}
	if !info.Success {
		return codec.ResetInfo{}, fmt.Errorf("instrument reported reset failure")
	}
	return info, nil
}

// SendMPSConfiguration replays every non-blank line from the MPS file
// Configure already parsed to the instrument over the command
// connection, and builds the acquisition engine around the FramingParams
// Configure derived. It must be called after Configure and a successful
// Reset, and before AcquireOnce/StartAsync (spec.md §4.1, §4.4).
func (s *Session) SendMPSConfiguration() error {
	if !s.configured {
		return &sessionError{detail: "cannot SendMPSConfiguration before Configure"}
	}
	if !s.reset {
		return &sessionError{detail: "cannot SendMPSConfiguration before a successful Reset"}
	}
	for _, line := range s.mpsResult.Commands {
		if err := s.transport.Send(codec.EncodeCommand(line)); err != nil {
			return &sessionError{detail: fmt.Sprintf("send mps line %q", line), cause: err}
		}
	}

	s.params = s.mpsResult.Params
	s.engine = acquire.New(s.transport, s.params)
	s.engine.Metadata = frame.Frame{
		DigitisationRateMHz: s.cfg.RequestedRateMHz,
		Geometry:            s.cfg.Geometry,
	}
	s.engine.ProblemLogger = s.ProblemLogger
	s.engine.UpdateLogger = s.UpdateLogger
	s.engine.SetAsyncRate(s.cfg.AsyncRateHz)
	return nil
}

// requireEngine returns the session's acquisition engine, or an error
// wrapping ErrSession if SendMPSConfiguration has not yet run.
func (s *Session) requireEngine() (*acquire.Engine, error) {
	if s.engine == nil {
		return nil, &sessionError{detail: "cannot acquire before SendMPSConfiguration"}
	}
	return s.engine, nil
}

// AcquireOnce performs one synchronous acquisition: send CALS 1, block
// for the response, decode it, and publish the resulting frame. See
// internal/acquire.Engine.AcquireOnce for the exact semantics.
func (s *Session) AcquireOnce() error {
	e, err := s.requireEngine()
	if err != nil {
		return err
	}
	if err := e.AcquireOnce(); err != nil {
		return err
	}
	f := e.LatestFrame()
	s.publish(statusTagFrame, frameUpdate{
		AcquisitionID: f.AcquisitionID.String(),
		SubFrameCount: len(f.SubFrames),
		MaxAmplitude:  f.MaxAmplitude,
		Valid:         true,
	})
	return nil
}

// LatestFrame returns the most recently published frame without
// consuming its freshness flag.
func (s *Session) LatestFrame() (frame.Frame, error) {
	e, err := s.requireEngine()
	if err != nil {
		return frame.Frame{}, err
	}
	return e.LatestFrame(), nil
}

// StartAsync begins continuous acquisition. onFrameReady, if non-nil, is
// invoked once per cycle with whether that cycle produced a valid frame;
// it runs on an internal goroutine and must not block. Every cycle, valid
// or not, is also published over the session's status feed, if one is
// attached.
func (s *Session) StartAsync(onFrameReady frame.ReadyFunc) error {
	e, err := s.requireEngine()
	if err != nil {
		return err
	}
	wrapped := frame.ReadyFunc(func(valid bool) {
		s.publish(statusTagFrame, frameUpdate{Valid: valid})
		if onFrameReady != nil {
			onFrameReady(valid)
		}
	})
	if err := e.StartAsync(wrapped); err != nil {
		return err
	}
	s.publish(statusTagAsyncState, asyncStateUpdate{State: "started"})
	return nil
}

// PollFrame takes the latest published frame iff it is fresh, clearing
// the freshness flag. It never blocks.
func (s *Session) PollFrame() (frame.Frame, bool, error) {
	e, err := s.requireEngine()
	if err != nil {
		return frame.Frame{}, false, err
	}
	f, ok := e.PollFrame()
	return f, ok, nil
}

// StopAsync stops continuous acquisition and blocks until the internal
// goroutines have exited. Calling StopAsync while not running is a no-op.
func (s *Session) StopAsync() error {
	if s.engine == nil {
		return nil
	}
	err := s.engine.StopAsync()
	s.publish(statusTagAsyncState, asyncStateUpdate{State: "stopped"})
	return err
}

// Close stops any running async acquisition and closes the transport.
// Close is safe to call more than once.
func (s *Session) Close() error {
	if s.engine != nil {
		_ = s.engine.StopAsync()
	}
	if !s.connected {
		return nil
	}
	s.connected = false
	if err := s.transport.Close(); err != nil {
		return &sessionError{detail: "close", cause: err}
	}
	return nil
}
