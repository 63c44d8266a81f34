//go:build sherpa

// Package sherpavad implements spec.md §3's CUSTOM backend tag over the
// teacher's Silero-VAD voice activity detector
// (internal/sherpa/sherpa_linux.go / sherpa_darwin.go), adapted from a
// speech-segmentation component (internal/stt/recognizer.go's VAD half)
// to the fixed-shape Backend contract: one streaming input tensor holding
// one audio window, one non-streaming output tensor holding a speech
// probability.
package sherpavad

import (
	"fmt"
	"sync"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/framebuf"
	"github.com/nnrt/audiosched/internal/sherpa"
)

// Config is the value-comparable Config a Backend is constructed from,
// mirroring the teacher's stt.Config VAD fields
// (internal/stt/recognizer.go).
type Config struct {
	Key                string
	ModelPath          string
	Threshold          float32
	MinSilenceDuration float32
	MinSpeechDuration  float32
	WindowSize         int
	SampleRate         int
	NumThreads         int
	BufferSizeSeconds  float32
	Exclusive          bool
}

func (c Config) Tag() backend.Tag       { return backend.CUSTOM }
func (c Config) CanonicalKey() string   { return "sherpavad:" + c.Key }
func (c Config) SessionExclusive() bool { return c.Exclusive }

// NumParallelProcessors is always 1: the teacher's VAD instance is not
// documented thread-safe for concurrent AcceptWaveform calls
// (internal/stt/recognizer.go guards it with a mutex), so this backend
// never offers more than one sub-instance per configuration.
func (c Config) NumParallelProcessors() int { return 1 }

// Backend wraps a single sherpa.VoiceActivityDetector. It has exactly one
// sub-instance (see Config.NumParallelProcessors), so Process needs no
// spin-claim. Several worker goroutines may call Process at once, for one
// session or for sessions sharing this instance; mu serializes those calls
// on the single detector.
type Backend struct {
	cfg Config
	mu  sync.Mutex
	vad *sherpa.VoiceActivityDetector
}

// New constructs a sherpavad Backend for cfg. It satisfies
// backend.Factory.
func New(cfg backend.Config) (backend.Backend, error) {
	sc, ok := cfg.(Config)
	if !ok {
		return nil, fmt.Errorf("sherpavad: expected sherpavad.Config, got %T", cfg)
	}
	if sc.ModelPath == "" {
		return nil, fmt.Errorf("sherpavad: config has no model path")
	}
	return &Backend{cfg: sc}, nil
}

func (b *Backend) Tag() backend.Tag       { return backend.CUSTOM }
func (b *Backend) Config() backend.Config { return b.cfg }

// Prepare builds the VAD model config and constructs the detector, per
// the teacher's NewRecognizer (internal/stt/recognizer.go).
func (b *Backend) Prepare() error {
	cfg := &sherpa.VadModelConfig{}
	cfg.SileroVad.Model = b.cfg.ModelPath
	cfg.SileroVad.Threshold = b.cfg.Threshold
	cfg.SileroVad.MinSilenceDuration = b.cfg.MinSilenceDuration
	cfg.SileroVad.MinSpeechDuration = b.cfg.MinSpeechDuration
	cfg.SileroVad.WindowSize = b.cfg.WindowSize
	cfg.SampleRate = b.cfg.SampleRate
	cfg.NumThreads = b.cfg.NumThreads

	bufSeconds := b.cfg.BufferSizeSeconds
	if bufSeconds <= 0 {
		bufSeconds = 60.0
	}
	vad := sherpa.NewVoiceActivityDetector(cfg, bufSeconds)
	if vad == nil {
		return fmt.Errorf("sherpavad: failed to create voice activity detector")
	}
	b.vad = vad
	return nil
}

// Process feeds input tensor 0's single channel to the VAD, pops the oldest
// pending segment, if any, and writes its speech flag (1.0 or 0.0; 0.0 when
// no segment is pending) to output tensor 0's single sample, matching the
// non-streaming auxiliary-output
// convention spec.md §4.2 describes for scalar results.
func (b *Backend) Process(inputs []*framebuf.Buffer, outputs []*framebuf.Buffer, sessionID int) error {
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("sherpavad: requires at least one input and one output tensor")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.vad.AcceptWaveform(inputs[0].Channel(0))

	speech := float32(0)
	if !b.vad.IsEmpty() {
		segment := b.vad.Front()
		b.vad.Pop()
		if len(segment.Samples) > 0 {
			speech = 1
		}
	}
	outputs[0].Set(0, 0, speech)
	return nil
}

// Release frees the underlying VAD detector.
func (b *Backend) Release() {
	if b.vad != nil {
		sherpa.DeleteVoiceActivityDetector(b.vad)
		b.vad = nil
	}
}
