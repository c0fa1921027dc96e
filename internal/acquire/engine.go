// Package acquire implements the acquisition engine: synchronous
// single-shot acquisition plus an asynchronous continuous-acquisition
// loop that pipelines request and receive, publishes frames through a
// double-buffered hand-off (PublishSlot), and supports clean start/stop
// at any moment (spec.md §4.4).
package acquire

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nist-peakdrv/peakdrv/internal/codec"
	"github.com/nist-peakdrv/peakdrv/internal/frame"
	"github.com/nist-peakdrv/peakdrv/internal/transport"
)

// State names the engine's current acquisition mode (spec.md §4.4's
// state machine: Idle, Sync, Async{generation}).
type State int

// The engine's possible states.
const (
	Idle State = iota
	Sync
	Async
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}

// Engine drives one instrument connection through sync or async
// acquisition. It owns no transport lifecycle decisions beyond issuing
// sends/receives: connecting, resetting, and MPS configuration are the
// session façade's job.
type Engine struct {
	transport *transport.Transport
	params    codec.FramingParams
	slot      PublishSlot

	// Metadata is copied into every Frame this engine produces: the
	// static, per-session information (digitisation rate, geometry,
	// framing params) that spec.md §3 says is fixed for the session.
	Metadata frame.Frame

	ProblemLogger *log.Logger
	UpdateLogger  *log.Logger

	mu         sync.Mutex
	state      State
	generation atomic.Uint64
	rateHz     float64

	// asyncStop, when non-nil, is closed by StopAsync to tell the
	// running request/receive goroutines to exit; asyncDone is closed by
	// those goroutines once they have both exited, so StopAsync can wait
	// for the join.
	asyncStop chan struct{}
	asyncDone chan struct{}

	// asyncErr holds the terminal error, if any, that ended the most
	// recent async generation on its own (a broken connection, not a
	// deliberate StopAsync). StopAsync returns and clears it.
	asyncErr error
}

// New returns an Engine bound to t, decoding packets according to params.
func New(t *transport.Transport, params codec.FramingParams) *Engine {
	return &Engine{
		transport:     t,
		params:        params,
		ProblemLogger: log.Default(),
		UpdateLogger:  log.Default(),
		state:         Idle,
	}
}

// State returns the engine's current acquisition mode.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// buildFrame clones e.Metadata and fills in the parts that vary per
// acquisition.
func (e *Engine) buildFrame(subframes []frame.SubFrame, maxAmp int32) frame.Frame {
	f := e.Metadata
	f.AcquisitionID = ulid.Make()
	f.Timestamp = time.Now()
	f.Params = e.params
	f.SubFrames = subframes
	f.MaxAmplitude = maxAmp
	return f
}

// AcquireOnce sends one CALS 1 data-request command and blocks until the
// full packet has been received and decoded. On success it publishes the
// new frame and returns nil; on any validation failure it returns the
// typed error without mutating the most recently published frame
// (spec.md §4.4 "Sync path").
func (e *Engine) AcquireOnce() error {
	e.mu.Lock()
	if e.state != Idle {
		s := e.state
		e.mu.Unlock()
		return newUsageError("cannot AcquireOnce while engine is %s", s)
	}
	e.state = Sync
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.state = Idle
		e.mu.Unlock()
	}()

	packetBytes, err := e.params.PacketBytes()
	if err != nil {
		return err
	}
	if err := e.transport.Send(codec.DataRequestCommand); err != nil {
		return err
	}
	data, err := e.transport.ReceiveExact(packetBytes)
	if err != nil {
		return err
	}
	subframes, maxAmp, err := frame.DecodePacket(data, e.params)
	if err != nil {
		return err
	}
	e.slot.Publish(e.buildFrame(subframes, maxAmp))
	return nil
}

// LatestFrame returns the most recently published frame without
// consuming its freshness flag.
func (e *Engine) LatestFrame() frame.Frame {
	return e.slot.Peek()
}

// PollFrame takes the current frame from the publish slot iff it is
// fresh, clearing the flag atomically with the read. It never blocks and
// is safe to call concurrently with async writes (spec.md §4.4).
func (e *Engine) PollFrame() (frame.Frame, bool) {
	return e.slot.Take()
}

// StartAsync transitions the engine from Idle to Async, bumps the
// generation counter, and launches the request/receive pipeline on the
// transport's I/O loop. Calling StartAsync while already Async is a
// no-op that returns immediately (spec.md §4.4's state machine); calling
// it while Sync is a usage error.
func (e *Engine) StartAsync(onFrameReady frame.ReadyFunc) error {
	e.mu.Lock()
	switch e.state {
	case Async:
		e.mu.Unlock()
		return nil
	case Sync:
		e.mu.Unlock()
		return newUsageError("cannot StartAsync while engine is sync")
	}
	e.state = Async
	gen := e.generation.Add(1)
	stop := make(chan struct{})
	done := make(chan struct{})
	e.asyncStop = stop
	e.asyncDone = done
	e.mu.Unlock()

	e.transport.StartIOLoop()

	go e.runAsync(gen, stop, done, onFrameReady)
	return nil
}

// StopAsync flips the engine to Idle, increments the generation so any
// in-flight completion observes its own staleness and exits without
// firing onFrameReady again, stops the transport's I/O loop (cancelling
// pending reads and draining the socket), and returns only after the
// request/receive goroutines have joined (spec.md §4.4, §5). StopAsync is
// idempotent. If the pipeline had already ended on its own because
// requestLoop's Send failed (or receiveLoop could not compute the packet
// size), StopAsync returns that error (spec.md §7 "Propagation").
func (e *Engine) StopAsync() error {
	e.mu.Lock()
	if e.state != Async {
		e.mu.Unlock()
		return nil
	}
	e.state = Idle
	e.generation.Add(1)
	stop, done := e.asyncStop, e.asyncDone
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}
	e.transport.StopIOLoop()

	e.mu.Lock()
	err := e.asyncErr
	e.asyncErr = nil
	e.mu.Unlock()
	return err
}

// runAsync runs the request/receive pipeline for one async generation. It
// uses two cooperating goroutines under an errgroup.WithContext:
// requestLoop paces (or, with no configured rate, immediately restarts)
// CALS 1 requests, and receiveLoop arms the matching async receive and
// processes each completion. The two communicate over
// armReceive/requestReady so that at most one request is ever outstanding
// on the wire at a time, preserving strict request/response framing on
// the single TCP connection. The errgroup's derived context is what lets
// a terminal error in either loop unblock the other immediately, instead
// of leaving it parked on an armReceive/requestReady handoff that will
// never arrive; g.Wait()'s result becomes e.asyncErr, which StopAsync
// surfaces to its caller.
func (e *Engine) runAsync(gen uint64, stop, done chan struct{}, onFrameReady frame.ReadyFunc) {
	defer close(done)

	armReceive := make(chan struct{})
	requestReady := make(chan struct{}, 1)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return e.requestLoop(ctx, gen, stop, armReceive, requestReady)
	})
	g.Go(func() error {
		return e.receiveLoop(ctx, gen, stop, armReceive, requestReady, onFrameReady)
	})
	requestReady <- struct{}{}

	if err := g.Wait(); err != nil {
		e.mu.Lock()
		e.asyncErr = err
		e.mu.Unlock()
		e.ProblemLogger.Printf("acquire: async pipeline ended: %v", err)
	}
}

// requestLoop sends CALS 1 each time requestReady is signalled, then
// tells receiveLoop to arm the matching receive. If an async rate was
// configured, it additionally waits out the pacing interval before
// sending; with no rate configured, it restarts back-to-back as soon as
// the previous cycle's receive completes. A send failure is treated as
// terminal: the TCP connection underneath a broken Send will not recover
// on its own, so requestLoop returns the error rather than spinning.
func (e *Engine) requestLoop(ctx context.Context, gen uint64, stop, armReceive chan struct{}, requestReady chan struct{}) error {
	var ticker *time.Ticker
	if rate := e.asyncRateHz(); rate > 0 {
		ticker = time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer ticker.Stop()
	}

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-requestReady:
		}
		if e.stale(gen) {
			return nil
		}
		if ticker != nil {
			select {
			case <-stop:
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		if err := e.transport.Send(codec.DataRequestCommand); err != nil {
			return fmt.Errorf("acquire: async request send failed: %w", err)
		}
		select {
		case armReceive <- struct{}{}:
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// receiveLoop waits for requestLoop to arm a receive, posts the async
// read, processes the completion, and (if still the current generation)
// signals requestLoop to send the next request. A framing rejection or a
// receive failure is reported through handleCompletion and the loop
// re-arms, per spec.md §7 "Propagation"; the only terminal error
// receiveLoop itself returns is a failure to compute the packet size.
func (e *Engine) receiveLoop(ctx context.Context, gen uint64, stop, armReceive, requestReady chan struct{}, onFrameReady frame.ReadyFunc) error {
	packetBytes, err := e.params.PacketBytes()
	if err != nil {
		return fmt.Errorf("acquire: cannot compute packet size: %w", err)
	}

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-armReceive:
		}
		if e.stale(gen) {
			return nil
		}

		result := make(chan struct{})
		var data []byte
		var recvErr error
		e.transport.ReceiveExactAsync(packetBytes, func(b []byte, err error) {
			data, recvErr = b, err
			close(result)
		})

		select {
		case <-result:
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		}
		if e.stale(gen) {
			return nil
		}

		e.handleCompletion(data, recvErr, onFrameReady)

		select {
		case requestReady <- struct{}{}:
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// handleCompletion decodes one completed receive, publishes on success,
// and invokes onFrameReady. Receive or framing errors surface as
// onFrameReady(false) plus a logged diagnostic; the engine continues
// unless the consumer calls StopAsync (spec.md §7 "Propagation").
func (e *Engine) handleCompletion(data []byte, recvErr error, onFrameReady frame.ReadyFunc) bool {
	if recvErr != nil {
		e.ProblemLogger.Printf("acquire: async receive failed: %v", recvErr)
		if onFrameReady != nil {
			onFrameReady(false)
		}
		return false
	}
	subframes, maxAmp, err := frame.DecodePacket(data, e.params)
	if err != nil {
		e.ProblemLogger.Printf("acquire: async frame rejected: %v", err)
		if onFrameReady != nil {
			onFrameReady(false)
		}
		return false
	}
	e.slot.Publish(e.buildFrame(subframes, maxAmp))
	if onFrameReady != nil {
		onFrameReady(true)
	}
	return true
}

func (e *Engine) stale(gen uint64) bool {
	return e.generation.Load() != gen
}

// asyncRateHz is overridden by Session via SetAsyncRate; zero means
// back-to-back restart.
func (e *Engine) asyncRateHz() float64 {
	return e.rateHz
}

// SetAsyncRate configures the pacing rate (Hz) used by StartAsync's
// request loop. Zero means back-to-back restart with no pacing timer.
func (e *Engine) SetAsyncRate(hz float64) {
	e.rateHz = hz
}
