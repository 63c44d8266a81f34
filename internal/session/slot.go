package session

import (
	"sync/atomic"

	"github.com/nnrt/audiosched/internal/framebuf"
)

// State is one of a Slot's three lifecycle states, per spec.md §3's
// SessionSlot: FREE → READY (claimed by the audio thread, pre-processed,
// enqueued) → DONE (a worker finished inference) → FREE again (the audio
// thread post-processed it).
type State uint32

const (
	StateFree State = iota
	StateReady
	StateDone
)

// Slot is a reusable input/output tensor pair plus its state flags — the
// spec's "ThreadSafeStruct". The three states are modeled as a single
// atomic word with compare-and-swap transitions rather than three
// semaphores, per spec.md §9's design note that either mapping is
// equivalent; this one is grounded on the teacher's single-writer-per-field
// atomic convention (internal/stt/recognizer.go's wasSpeaking/speechStart).
type Slot struct {
	state atomic.Uint32
	Stamp uint16

	Input  []*framebuf.Buffer
	Output []*framebuf.Buffer
}

func newSlot(inputShapes, outputShapes [][2]int) *Slot {
	s := &Slot{
		Input:  make([]*framebuf.Buffer, len(inputShapes)),
		Output: make([]*framebuf.Buffer, len(outputShapes)),
	}
	for i, dims := range inputShapes {
		s.Input[i] = framebuf.New(dims[0], dims[1])
	}
	for i, dims := range outputShapes {
		s.Output[i] = framebuf.New(dims[0], dims[1])
	}
	s.state.Store(uint32(StateFree))
	return s
}

// State returns the slot's current lifecycle state.
func (s *Slot) State() State { return State(s.state.Load()) }

// tryClaim transitions FREE → READY; only the audio thread calls this.
func (s *Slot) tryClaim() bool {
	return s.state.CompareAndSwap(uint32(StateFree), uint32(StateReady))
}

// markDone transitions READY → DONE; only a worker calls this, exactly
// once per claim, so a plain store (not a CAS) is the correct single-writer
// primitive per spec.md §5.
func (s *Slot) markDone() {
	s.state.Store(uint32(StateDone))
}

// release transitions DONE → FREE; only the audio thread calls this, after
// post-processing the slot's output.
func (s *Slot) release() {
	s.state.Store(uint32(StateFree))
}

// reset forces the slot back to FREE and clears its stamp, used by
// SessionElement.reset (Session.FinishReset) when no concurrent access is
// possible (the caller has already waited for active_inferences == 0).
func (s *Slot) reset() {
	s.state.Store(uint32(StateFree))
	s.Stamp = 0
	for _, b := range s.Input {
		b.Clear()
	}
	for _, b := range s.Output {
		b.Clear()
	}
}
