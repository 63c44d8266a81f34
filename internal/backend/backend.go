// Package backend defines the fixed tensor-runtime capability a session
// delegates inference to, and the process-wide pool that shares backend
// instances across sessions whose configuration is value-identical.
//
// Grounded on anira's BackendBase / backend-instance sharing
// (_examples/original_source/src/backends/BackendBase.cpp, spec.md §4.8),
// with concrete bindings adapted from the retrieval pack's ONNX Runtime and
// sherpa-onnx examples in the onnxrt and sherpavad subpackages.
package backend

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nnrt/audiosched/internal/framebuf"
)

// Tag identifies which tensor runtime a Backend instance binds to.
type Tag uint8

const (
	// LIBTORCH is a PyTorch/libtorch-backed model. No concrete
	// implementation ships in this module; see DESIGN.md for why.
	LIBTORCH Tag = iota
	// ONNX is an ONNX Runtime-backed model; see backend/onnxrt.
	ONNX
	// TFLITE is a TensorFlow Lite-backed model. No concrete
	// implementation ships in this module; see DESIGN.md for why.
	TFLITE
	// CUSTOM is a user-supplied backend not bound to a named runtime;
	// see backend/sherpavad and backend/passthrough.
	CUSTOM
)

func (t Tag) String() string {
	switch t {
	case LIBTORCH:
		return "libtorch"
	case ONNX:
		return "onnx"
	case TFLITE:
		return "tflite"
	case CUSTOM:
		return "custom"
	default:
		return "unknown"
	}
}

// Config is the value-comparable description of a backend instance: a
// model identity plus the scalar knobs that change its behavior.
// CanonicalKey must return the same string for two Configs that should
// share an instance, and different strings otherwise; it is the
// replacement for anira's by-value InferenceConfig::operator==.
type Config interface {
	Tag() Tag
	CanonicalKey() string
	SessionExclusive() bool
	NumParallelProcessors() int
}

// Backend is the fixed external tensor-runtime interface: given a fixed
// input/output tensor shape, transform one frame to another. Implementations
// must be safe for concurrent Process calls up to NumParallelProcessors
// sub-instances; Process itself claims and releases one sub-instance per
// call.
type Backend interface {
	Tag() Tag
	Config() Config
	// Prepare loads the model and runs any configured warm-up passes.
	// Called once, before the first Process call.
	Prepare() error
	// Process runs one inference: inputs/outputs are per-tensor frames
	// shaped per the model's TensorShape. sessionID identifies the
	// calling session for backends that need per-session state.
	Process(inputs []*framebuf.Buffer, outputs []*framebuf.Buffer, sessionID int) error
	// Release frees any resources Prepare allocated. Called when the
	// last sharing session releases this instance.
	Release()
}

// Factory constructs a fresh Backend instance for a given Config. The cfg
// a Factory receives through Pool is the value-comparable view
// InferenceConfig.BackendConfig synthesizes — it carries the sharing key
// and the scalar knobs (SessionExclusive, NumParallelProcessors) but not a
// concrete backend's own construction parameters (a model path, VAD
// thresholds, and the like). An embedder registers a closure that
// supplies those from what it already knows and delegates to the
// concrete package's own New(cfg SomeBackend.Config) constructor; see
// cmd/hostharness for worked examples.
type Factory func(cfg Config) (Backend, error)

// Pool shares Backend instances across sessions whose Config compares
// value-equal and is not session-exclusive, per spec.md §4.8. A session
// requesting a backend either joins an existing instance's refcount or
// triggers Factory to build one.
type Pool struct {
	mu        sync.Mutex
	factories map[Tag]Factory
	instances map[Tag]map[string]*pooledInstance
}

type pooledInstance struct {
	backend  Backend
	refCount int
}

// NewPool creates an empty instance pool.
func NewPool() *Pool {
	return &Pool{
		factories: make(map[Tag]Factory),
		instances: make(map[Tag]map[string]*pooledInstance),
	}
}

// Register installs the Factory used to build fresh instances of tag. The
// embedding application calls this once per tag it intends to use,
// typically with a closure over that backend's concrete configuration
// (see Factory's doc comment).
func (p *Pool) Register(tag Tag, factory Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[tag] = factory
}

// Acquire returns a Backend for cfg, sharing an existing value-equal,
// non-exclusive instance when one exists, or building a fresh one
// otherwise. The caller must call Release when done with it.
func (p *Pool) Acquire(cfg Config) (Backend, error) {
	tag := cfg.Tag()
	key := cfg.CanonicalKey()

	p.mu.Lock()
	if !cfg.SessionExclusive() {
		if byKey, ok := p.instances[tag]; ok {
			if inst, ok := byKey[key]; ok {
				inst.refCount++
				p.mu.Unlock()
				return inst.backend, nil
			}
		}
	}
	factory, ok := p.factories[tag]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("backend: no factory registered for %s", tag)
	}

	b, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend: construct %s instance: %w", tag, err)
	}
	if err := b.Prepare(); err != nil {
		return nil, fmt.Errorf("backend: prepare %s instance: %w", tag, err)
	}

	if !cfg.SessionExclusive() {
		p.mu.Lock()
		if p.instances[tag] == nil {
			p.instances[tag] = make(map[string]*pooledInstance)
		}
		if existing, ok := p.instances[tag][key]; ok {
			// Lost the race against a concurrent Acquire for the same
			// key; keep the winner, release ours, and share theirs.
			existing.refCount++
			p.mu.Unlock()
			b.Release()
			return existing.backend, nil
		}
		p.instances[tag][key] = &pooledInstance{backend: b, refCount: 1}
		p.mu.Unlock()
	}
	return b, nil
}

// Release drops a session's reference to a shared backend instance,
// releasing it once no session references it anymore. A session-exclusive
// backend is not pooled, so it is released at once.
func (p *Pool) Release(cfg Config, b Backend) {
	if cfg.SessionExclusive() {
		b.Release()
		return
	}
	tag := cfg.Tag()
	key := cfg.CanonicalKey()

	p.mu.Lock()
	byKey := p.instances[tag]
	inst, ok := byKey[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	inst.refCount--
	done := inst.refCount <= 0
	if done {
		delete(byKey, key)
	}
	p.mu.Unlock()
	if done {
		b.Release()
	}
}

// SubInstancePool spin-claims one of n interchangeable sub-instances of
// type T, per spec.md §4.8: "process spin-claims an idle sub-instance,
// runs inference there, releases it." Claim does not return until a
// sub-instance is idle: while all n are busy it spins, retrying until one
// frees up.
type SubInstancePool[T any] struct {
	busy  []atomic.Bool
	items []T
}

// NewSubInstancePool wraps n pre-built sub-instances for spin-claim access.
func NewSubInstancePool[T any](items []T) *SubInstancePool[T] {
	return &SubInstancePool[T]{busy: make([]atomic.Bool, len(items)), items: items}
}

// Claim spin-waits for an idle sub-instance and returns its index and
// value. Release(index) must be called exactly once to free it.
func (s *SubInstancePool[T]) Claim() (int, T) {
	for {
		for i := range s.items {
			if s.busy[i].CompareAndSwap(false, true) {
				return i, s.items[i]
			}
		}
	}
}

// Release frees the sub-instance at index, claimed via Claim.
func (s *SubInstancePool[T]) Release(index int) {
	s.busy[index].Store(false)
}

// Len reports the number of sub-instances in the pool.
func (s *SubInstancePool[T]) Len() int { return len(s.items) }
