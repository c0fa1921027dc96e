package acquire

import (
	"sync"

	"github.com/nist-peakdrv/peakdrv/internal/frame"
)

// PublishSlot is the single-producer/many-consumer hand-off described in
// spec.md §3: it holds the most recently published Frame plus a
// freshness flag. A consumer that takes the frame clears the flag
// atomically with the read; concurrent writes supersede any unread frame
// (last-writer-wins).
//
// The data and the flag are guarded by the same mutex rather than split
// into a mutex-for-data/atomic-for-flag pair or a seqlock: frames in this
// protocol are at most a few hundred KB and polled at acquisition rate,
// not at a rate where lock contention is a concern, so the simpler
// single-mutex design was chosen over the seqlock spec.md §9 allows for
// "large frames with retry-tolerant readers" (see DESIGN.md).
type PublishSlot struct {
	mu    sync.Mutex
	frame frame.Frame
	fresh bool
}

// Publish overwrites the slot's frame and marks it fresh, superseding any
// frame that was written but never taken.
func (s *PublishSlot) Publish(f frame.Frame) {
	s.mu.Lock()
	s.frame = f
	s.fresh = true
	s.mu.Unlock()
}

// Take returns the current frame and whether it was fresh, clearing the
// freshness flag as part of the same critical section. Take never blocks.
func (s *PublishSlot) Take() (frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		return frame.Frame{}, false
	}
	s.fresh = false
	return s.frame, true
}

// Peek returns the current frame without clearing freshness, used by
// Session.LatestFrame which must not consume the "has anyone polled yet"
// state that PollFrame tracks.
func (s *PublishSlot) Peek() frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}
