// Package handler implements spec.md §4.9's InferenceHandler: a thin
// convenience façade over a single session, the narrow surface an
// embedder actually links against. Internally it owns one
// session.Session (via sched.Context) and exposes the audio-thread
// operations a host callback drives every buffer.
//
// Grounded on the teacher's Recognizer public surface
// (internal/stt/recognizer.go: NewRecognizer constructor, a narrow
// method set covering the hot path plus a handful of lifecycle/query
// methods), generalized from one fixed STT pipeline to any
// procspec.Processor/backend.Backend pairing a session.Session can host.
package handler

import (
	"fmt"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/config"
	"github.com/nnrt/audiosched/internal/procspec"
	"github.com/nnrt/audiosched/internal/sched"
	"github.com/nnrt/audiosched/internal/session"
)

// Handler is spec.md §4.9's InferenceHandler: convenience methods over a
// single session.Session owned through a sched.Context. The zero value is
// not usable; construct with New.
type Handler struct {
	ctx     *sched.Context
	session *session.Session
}

// New constructs a Handler by acquiring a fresh session from ctx for cfg,
// using processor as the pre/post-processing extension point and initial
// as the backend selected for the session's first inferences. The
// session is not usable for audio-thread operations until Prepare is
// called.
func New(ctx *sched.Context, cfg *config.InferenceConfig, processor procspec.Processor, initial backend.Tag) (*Handler, error) {
	s, err := ctx.NewSession(cfg, processor, initial)
	if err != nil {
		return nil, fmt.Errorf("handler: %w", err)
	}
	return &Handler{ctx: ctx, session: s}, nil
}

// Prepare runs spec.md §4.4's prepare sequence for hostCfg, computing
// latency, queue depth, and buffer sizes from scratch.
func (h *Handler) Prepare(hostCfg config.HostConfig) error {
	return h.ctx.Prepare(h.session, hostCfg, nil)
}

// PrepareWithLatency is Prepare's overload from spec.md §4.9:
// "prepare(host_config, custom_latency_per_output)". customLatency
// overrides Latency's reported value (and the receive buffer's
// pre-padding) per output tensor; pass a negative entry to leave that
// tensor's computed latency untouched.
func (h *Handler) PrepareWithLatency(hostCfg config.HostConfig, customLatency []int) error {
	return h.ctx.Prepare(h.session, hostCfg, customLatency)
}

// Reset keeps the session's current sizing and clears ring-buffer
// positions and slot states, per spec.md §4.4.
func (h *Handler) Reset() error {
	return h.ctx.Reset(h.session)
}

// Release returns the session's backend instances to the shared pool and
// removes it from the Context's registry. The Handler must not be used
// afterwards.
func (h *Handler) Release() {
	h.ctx.ReleaseSession(h.session)
}

// PushData feeds newly captured host samples for input tensor i into the
// session, submitting any frames that are now complete, per spec.md
// §4.5. Never blocks.
func (h *Handler) PushData(i int, samples [][]float32) {
	h.session.PushData(i, samples)
}

// PopData drains completed inference results and pops len(dst) samples
// of output tensor i's channel ch into dst, per spec.md §4.6. The
// returned count is the number of genuine (non-silence) samples
// delivered; a shortfall is silence-padded and reported via err.
func (h *Handler) PopData(i, ch int, dst []float32) (int, error) {
	return h.session.PopData(i, ch, dst)
}

// Process is the backward-compatible one-call path spec.md §4.9
// describes: push in, then pop out, for every channel of every declared
// input and output tensor. in and out are indexed [tensor][channel]; each
// channel slice's length is the number of samples pushed or popped for it
// (only the HostConfig.TensorIndex tensor drives PushData's ready-frame
// detection, the rest piggyback on the same host callback per spec.md §3's
// HostConfig.tensor_index).
func (h *Handler) Process(in [][][]float32, out [][][]float32) error {
	for i, tensor := range in {
		h.PushData(i, tensor)
	}
	var firstErr error
	for i, tensor := range out {
		for ch, dst := range tensor {
			if _, err := h.PopData(i, ch, dst); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SetInferenceBackend switches the backend used for inferences submitted
// after this call, per spec.md §8 S6: no sample lost or duplicated, FIFO
// order preserved across the switch.
func (h *Handler) SetInferenceBackend(tag backend.Tag) error {
	return h.session.SetBackend(tag)
}

// GetInferenceBackend returns the backend tag currently selected.
func (h *Handler) GetInferenceBackend() backend.Tag {
	return h.session.Backend()
}

// GetLatency returns the precomputed output latency, in samples, for
// output tensor i.
func (h *Handler) GetLatency(i int) int {
	return h.session.Latency(i)
}

// GetAvailableSamples returns how many samples are available to pop from
// output tensor i's channel ch right now.
func (h *Handler) GetAvailableSamples(i, ch int) int {
	return h.session.AvailableSamples(i, ch)
}

// SetNonRealtime toggles spec.md §4.6's offline/batch mode: PopData
// blocks indefinitely for each result instead of returning immediately or
// honouring a controlled-blocking deadline.
func (h *Handler) SetNonRealtime(v bool) {
	h.session.SetNonRealtime(v)
}

// SetInputScalar assigns the next frame's value for non-streaming input
// tensor i (an auxiliary/control tensor fed through the scalar interface
// instead of a ring buffer, per spec.md §4.2).
func (h *Handler) SetInputScalar(i int, v float32) {
	h.session.SetInputScalar(i, v)
}

// GetOutputScalar returns the most recently post-processed value for
// non-streaming output tensor i.
func (h *Handler) GetOutputScalar(i int) float32 {
	return h.session.OutputScalar(i)
}
