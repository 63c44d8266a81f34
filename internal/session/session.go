// Package session implements spec.md §3's SessionElement and §4.5/§4.6's
// InferenceManager: all per-session state (ring buffers, slot queue,
// pending-stamp FIFO, precomputed latency) and the audio-thread-facing
// push/pop operations that drive it.
//
// Grounded on the teacher's Recognizer (internal/stt/recognizer.go) for the
// fast/slow-path split and atomic state tracking, and on
// other_examples' kylesean-asr_server session manager for per-session
// lifecycle bookkeeping under an owning manager (here, sched.Context).
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/config"
	"github.com/nnrt/audiosched/internal/diag"
	"github.com/nnrt/audiosched/internal/latency"
	"github.com/nnrt/audiosched/internal/procspec"
	"github.com/nnrt/audiosched/internal/ringbuffer"
)

// idleWaitStep is the busy-wait granularity for "block until
// active_inferences == 0" in prepare/reset/release, per spec.md §5.
const idleWaitStep = 200 * time.Microsecond

// Session is spec.md's SessionElement: a process-wide unique id, its own
// ring buffers and slot pool, and non-owning references to zero-or-more
// shared Backend instances. Its audio-thread-facing methods (PushData,
// PopData and friends, in manager.go) are safe for exactly one caller at a
// time, per spec.md §1's non-goal of multi-host-thread safety within a
// session; prepare/reset/release synchronize against the worker pool via
// activeInferences and the initialised flag.
type Session struct {
	id     int
	logger diag.Logger
	queue  Enqueuer

	cfg       *config.InferenceConfig
	processor procspec.Processor

	mu             sync.Mutex // guards everything prepare/reset/release touch
	hostCfg        config.HostConfig
	sendBuffers    []*ringbuffer.RingBuffer
	receiveBuffers []*ringbuffer.RingBuffer
	slots          []*Slot
	pending        stampQueue
	nextStamp      uint32
	latencies      []int
	streamIn       []int
	streamOut      []int
	frameIn        []int
	frameOut       []int
	dropScratch    []float32

	backends    map[backend.Tag]backend.Backend
	backendCfgs map[backend.Tag]backend.Config

	currentBackend     atomic.Uint32
	activeInferences   atomic.Int64
	initialised        atomic.Bool
	nonRealtime        atomic.Bool
	hostDonationActive atomic.Bool
}

// New constructs a Session bound to id, owning processor and the already
// Prepare()'d backend instances in backends (keyed by tag, matching
// cfg.Backends()). The session is not usable until Prepare is called.
func New(id int, cfg *config.InferenceConfig, processor procspec.Processor, backends map[backend.Tag]backend.Backend, backendCfgs map[backend.Tag]backend.Config, initial backend.Tag, queue Enqueuer, logger diag.Logger) *Session {
	s := &Session{
		id:          id,
		logger:      logger,
		queue:       queue,
		cfg:         cfg,
		processor:   processor,
		backends:    backends,
		backendCfgs: backendCfgs,
	}
	s.currentBackend.Store(uint32(initial))
	s.hostDonationActive.Store(true)
	return s
}

// ID returns the session's process-wide unique id.
func (s *Session) ID() int { return s.id }

// Initialised reports whether the fast-path operations should proceed, per
// spec.md §3's initialised flag.
func (s *Session) Initialised() bool { return s.initialised.Load() }

// SetNonRealtime toggles non-realtime (offline/batch) mode: PopData blocks
// indefinitely for each result instead of returning immediately or
// honouring a controlled-blocking deadline.
func (s *Session) SetNonRealtime(v bool) { s.nonRealtime.Store(v) }

// Backend returns the tag currently selected for new inferences.
func (s *Session) Backend() backend.Tag { return backend.Tag(s.currentBackend.Load()) }

// SetBackend switches the backend used for inferences submitted after this
// call; in-flight slots already enqueued under the previous backend are
// unaffected (no sample is lost or duplicated, per spec.md §8 S6).
func (s *Session) SetBackend(tag backend.Tag) error {
	if _, ok := s.backends[tag]; !ok {
		return fmt.Errorf("session: backend %s not configured for this session", tag)
	}
	s.currentBackend.Store(uint32(tag))
	return nil
}

// Latency returns the precomputed output latency, in samples, for output
// tensor i, valid after Prepare.
func (s *Session) Latency(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.latencies) {
		return 0
	}
	return s.latencies[i]
}

// AvailableSamples first moves every already-finished slot, in submission
// order, into the receive buffers (without waiting for any slot still in
// flight), then returns how many samples are available to pop from output
// tensor i's channel ch.
func (s *Session) AvailableSamples(i, ch int) int {
	s.drainCompletedSlots(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.receiveBuffers) || s.receiveBuffers[i] == nil {
		return 0
	}
	return s.receiveBuffers[i].Available(ch)
}

// SetInputScalar assigns the next frame's value for non-streaming input
// tensor i (an auxiliary/control tensor).
func (s *Session) SetInputScalar(i int, v float32) { s.processor.SetScalar(i, v) }

// OutputScalar returns the most recently post-processed value for
// non-streaming output tensor i.
func (s *Session) OutputScalar(i int) float32 { return s.processor.Scalar(i) }

// BeginLifecycleOp is the first half of prepare/reset per spec.md §4.4:
// atomically mark the session uninitialised (so new submissions bail to
// silence) and spin until every in-flight slot has drained. The caller
// (sched.Context) then drains this session's jobs from the global queue
// before calling FinishPrepare or FinishReset.
func (s *Session) BeginLifecycleOp() {
	s.initialised.Store(false)
	for s.activeInferences.Load() != 0 {
		time.Sleep(idleWaitStep)
	}
}

// belongsTo reports whether job j was submitted by this session.
func (s *Session) belongsTo(j Job) bool { return j.Session == s }

// FinishPrepare recomputes buffer-adaptation sizing for hostCfg and
// allocates fresh ring buffers and slots, per spec.md §4.4. Must be called
// after BeginLifecycleOp and after the caller has drained this session's
// jobs from the global queue.
//
// customLatency, when non-nil, overrides the computed per-output-tensor
// latency reported by Latency and used to pre-pad receive_buffer[i], per
// spec.md §4.9's "prepare(host_config, custom_latency_per_output)"
// overload. An entry < 0 leaves that tensor's computed latency untouched.
// It does not change queue depth or buffer capacities, which are sized
// independently of the reported latency.
func (s *Session) FinishPrepare(hostCfg config.HostConfig, customLatency []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shape, err := s.primaryShapeLocked()
	if err != nil {
		return err
	}

	ts := latency.TensorSet{
		PreprocessInputSize:   shape.PreprocessInputSize,
		PostprocessOutputSize: shape.PostprocessOutputSize,
		FrameInputSize:        shape.FrameInputSize(),
		InternalLatency:       shape.InternalLatency,
	}
	hp := latency.HostParams{
		BufferSize:         hostCfg.BufferSize,
		SampleRate:         hostCfg.SampleRate,
		TensorIndex:        hostCfg.TensorIndex,
		MaxInferenceTime:   s.cfg.MaxInferenceTime,
		WaitFraction:       s.cfg.WaitInProcessBlock,
		ControlledBlocking: s.cfg.WaitInProcessBlock > 0,
	}
	result := latency.Calculate(ts, hp)

	s.hostCfg = hostCfg
	s.latencies = result.Latency
	for i, override := range customLatency {
		if override >= 0 && i < len(s.latencies) {
			s.latencies[i] = override
		}
	}
	s.streamIn = shape.PreprocessInputSize
	s.streamOut = shape.PostprocessOutputSize

	s.sendBuffers = make([]*ringbuffer.RingBuffer, len(shape.PreprocessInputSize))
	for i, cap := range result.SendBufferSizes {
		if shape.PreprocessInputSize[i] <= 0 {
			continue
		}
		ch := channelsOr1(shape.PreprocessInputChannels, i)
		s.sendBuffers[i] = ringbuffer.New(ch, capOrOne(cap))
	}

	s.receiveBuffers = make([]*ringbuffer.RingBuffer, len(shape.PostprocessOutputSize))
	internal := shape.InternalLatency
	for i, cap := range result.ReceiveBufferSizes {
		if shape.PostprocessOutputSize[i] <= 0 {
			continue
		}
		ch := channelsOr1(shape.PostprocessOutputChannels, i)
		rb := ringbuffer.New(ch, capOrOne(cap))
		padding := s.latencies[i]
		if i < len(internal) {
			padding -= internal[i]
		}
		for k := 0; k < padding; k++ {
			for c := 0; c < ch; c++ {
				rb.Push(c, 0)
			}
		}
		s.receiveBuffers[i] = rb
	}

	frameIn := shape.FrameInputSize()
	frameOut := shape.FrameOutputSize()
	s.frameIn = frameIn
	s.frameOut = frameOut
	inputShapes := make([][2]int, len(frameIn))
	for i, n := range frameIn {
		inputShapes[i] = [2]int{channelsOr1(shape.PreprocessInputChannels, i), n}
	}
	outputShapes := make([][2]int, len(frameOut))
	for i, n := range frameOut {
		outputShapes[i] = [2]int{channelsOr1(shape.PostprocessOutputChannels, i), n}
	}

	s.slots = make([]*Slot, result.NumSlots)
	for i := range s.slots {
		s.slots[i] = newSlot(inputShapes, outputShapes)
	}

	maxStreamIn := 0
	for _, n := range s.streamIn {
		if n > maxStreamIn {
			maxStreamIn = n
		}
	}
	s.dropScratch = make([]float32, maxStreamIn)

	s.pending.init(result.NumSlots)
	s.nextStamp = 0
	s.activeInferences.Store(0)
	s.initialised.Store(true)
	return nil
}

// FinishReset keeps the existing sizing and latencies from the last Prepare:
// it zeros ring-buffer positions and slot states and pre-pads each receive
// buffer with the same leading silence Prepare does, per spec.md §4.4's
// "reset differs from prepare only in that it keeps the same sizing."
func (s *Session) FinishReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slots == nil {
		return fmt.Errorf("session: reset called before prepare")
	}
	shape, err := s.primaryShapeLocked()
	if err != nil {
		return err
	}
	for _, rb := range s.sendBuffers {
		if rb != nil {
			rb.Clear()
		}
	}
	for i, rb := range s.receiveBuffers {
		if rb == nil {
			continue
		}
		rb.Clear()
		padding := s.latencies[i]
		if i < len(shape.InternalLatency) {
			padding -= shape.InternalLatency[i]
		}
		for k := 0; k < padding; k++ {
			for c := 0; c < rb.Channels(); c++ {
				rb.Push(c, 0)
			}
		}
	}
	for _, slot := range s.slots {
		slot.reset()
	}
	s.pending.clear()
	s.nextStamp = 0
	s.activeInferences.Store(0)
	s.initialised.Store(true)
	return nil
}

// ReleasedBackends returns the session's backend instances and their
// configs, for Context.ReleaseSession to hand back to the shared pool.
func (s *Session) ReleasedBackends() (map[backend.Tag]backend.Backend, map[backend.Tag]backend.Config) {
	return s.backends, s.backendCfgs
}

func (s *Session) primaryShapeLocked() (procspec.TensorShape, error) {
	tag := s.Backend()
	if ts, ok := s.cfg.Shape(tag); ok {
		return ts, nil
	}
	for _, t := range s.cfg.Backends() {
		if ts, ok := s.cfg.Shape(t); ok {
			return ts, nil
		}
	}
	return procspec.TensorShape{}, fmt.Errorf("session: no tensor shape available for any configured backend")
}

func channelsOr1(channels []int, i int) int {
	if i < len(channels) && channels[i] > 0 {
		return channels[i]
	}
	return 1
}

func capOrOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
