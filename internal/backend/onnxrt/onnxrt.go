//go:build onnx

// Package onnxrt implements spec.md §3's ONNX backend tag using
// github.com/yalue/onnxruntime_go, the same binding
// nupi-ai-plugin-vad-local-silero's internal/engine/silero.go drives a
// fixed Silero VAD graph with. Backend generalizes that one-model-shape
// wiring to an arbitrary InferenceConfig.tensor_shape: input/output
// tensors are built directly from the declared dimensions and bound to
// generated "input_N"/"output_N" names, since spec.md's ModelData carries
// no per-tensor name list (only an optional single EntryPoint).
package onnxrt

import (
	"fmt"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/framebuf"
)

var (
	initOnce sync.Once
	initErr  error
)

// Config is the value-comparable Config a Backend is constructed from:
// the model payload plus the tensor shapes it binds to ONNX Runtime
// sessions.
type Config struct {
	Key         string
	ModelBytes  []byte
	ModelPath   string
	InputDims   [][]int64
	OutputDims  [][]int64
	WarmUp      int
	Exclusive   bool
	NumParallel int
}

func (c Config) Tag() backend.Tag       { return backend.ONNX }
func (c Config) CanonicalKey() string   { return "onnxrt:" + c.Key }
func (c Config) SessionExclusive() bool { return c.Exclusive }
func (c Config) NumParallelProcessors() int {
	if c.NumParallel < 1 {
		return 1
	}
	return c.NumParallel
}

// subInstance is one runnable ONNX Runtime session: its own input/output
// tensors so concurrent sub-instances never alias each other's buffers.
type subInstance struct {
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

// Backend drives one or more interchangeable ONNX Runtime sessions behind
// the fixed-shape Backend contract. Process spin-claims an idle
// sub-instance via backend.SubInstancePool, matching spec.md §4.8's
// "each backend instance contains num_parallel_processors inner
// sub-instances."
type Backend struct {
	cfg       Config
	pool      *backend.SubInstancePool[*subInstance]
	instances []*subInstance
}

// New constructs an onnxrt Backend for cfg. It satisfies backend.Factory.
func New(cfg backend.Config) (backend.Backend, error) {
	oc, ok := cfg.(Config)
	if !ok {
		return nil, fmt.Errorf("onnxrt: expected onnxrt.Config, got %T", cfg)
	}
	if len(oc.ModelBytes) == 0 && oc.ModelPath == "" {
		return nil, fmt.Errorf("onnxrt: config has neither embedded model bytes nor a path")
	}
	return &Backend{cfg: oc}, nil
}

func (b *Backend) Tag() backend.Tag       { return backend.ONNX }
func (b *Backend) Config() backend.Config { return b.cfg }

// Prepare initializes the shared ONNX Runtime environment exactly once
// per process, then builds NumParallelProcessors independent sessions and
// runs WarmUp untimed forward passes on each, per spec.md §3's warm_up
// scalar.
func (b *Backend) Prepare() error {
	initOnce.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return fmt.Errorf("onnxrt: initialize environment: %w", initErr)
	}

	n := b.cfg.NumParallelProcessors()
	instances := make([]*subInstance, n)
	for i := 0; i < n; i++ {
		inst, err := b.newSubInstance()
		if err != nil {
			for _, built := range instances[:i] {
				if built != nil {
					built.destroy()
				}
			}
			return fmt.Errorf("onnxrt: build sub-instance %d: %w", i, err)
		}
		instances[i] = inst
	}
	b.instances = instances
	b.pool = backend.NewSubInstancePool(instances)

	for _, inst := range instances {
		for i := 0; i < b.cfg.WarmUp; i++ {
			if err := inst.session.Run(); err != nil {
				return fmt.Errorf("onnxrt: warm-up pass %d: %w", i, err)
			}
		}
	}
	return nil
}

func (b *Backend) newSubInstance() (*subInstance, error) {
	inputNames := make([]string, len(b.cfg.InputDims))
	inputTensors := make([]*ort.Tensor[float32], len(b.cfg.InputDims))
	inputValues := make([]ort.Value, len(b.cfg.InputDims))
	for i, dims := range b.cfg.InputDims {
		shape := ort.NewShape(dims...)
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return nil, fmt.Errorf("create input tensor %d: %w", i, err)
		}
		inputNames[i] = "input_" + strconv.Itoa(i)
		inputTensors[i] = t
		inputValues[i] = t
	}

	outputNames := make([]string, len(b.cfg.OutputDims))
	outputTensors := make([]*ort.Tensor[float32], len(b.cfg.OutputDims))
	outputValues := make([]ort.Value, len(b.cfg.OutputDims))
	for i, dims := range b.cfg.OutputDims {
		shape := ort.NewShape(dims...)
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return nil, fmt.Errorf("create output tensor %d: %w", i, err)
		}
		outputNames[i] = "output_" + strconv.Itoa(i)
		outputTensors[i] = t
		outputValues[i] = t
	}

	var session *ort.AdvancedSession
	var err error
	if len(b.cfg.ModelBytes) > 0 {
		session, err = ort.NewAdvancedSessionWithONNXData(b.cfg.ModelBytes, inputNames, outputNames, inputValues, outputValues, nil)
	} else {
		session, err = ort.NewAdvancedSession(b.cfg.ModelPath, inputNames, outputNames, inputValues, outputValues, nil)
	}
	if err != nil {
		for _, t := range inputTensors {
			t.Destroy()
		}
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, err
	}

	return &subInstance{session: session, inputs: inputTensors, outputs: outputTensors}, nil
}

// Process claims an idle sub-instance, copies inputs into its tensors,
// runs inference, copies its output tensors into outputs, and releases
// the sub-instance, per spec.md §4.8.
func (b *Backend) Process(inputs []*framebuf.Buffer, outputs []*framebuf.Buffer, sessionID int) error {
	idx, inst := b.pool.Claim()
	defer b.pool.Release(idx)

	for i, in := range inputs {
		if i >= len(inst.inputs) {
			break
		}
		copyBufferToFlat(in, inst.inputs[i].GetData())
	}
	if err := inst.session.Run(); err != nil {
		return fmt.Errorf("onnxrt: session run: %w", err)
	}
	for i, out := range outputs {
		if i >= len(inst.outputs) {
			break
		}
		copyFlatToBuffer(inst.outputs[i].GetData(), out)
	}
	return nil
}

// Release destroys every sub-instance's session and tensors.
func (b *Backend) Release() {
	for _, inst := range b.instances {
		inst.destroy()
	}
}

func (inst *subInstance) destroy() {
	inst.session.Destroy()
	for _, t := range inst.inputs {
		t.Destroy()
	}
	for _, t := range inst.outputs {
		t.Destroy()
	}
}

// copyBufferToFlat flattens a channel-major Buffer into ONNX Runtime's
// row-major flat tensor data, channel by channel.
func copyBufferToFlat(b *framebuf.Buffer, dst []float32) {
	offset := 0
	for ch := 0; ch < b.Channels() && offset < len(dst); ch++ {
		n := copy(dst[offset:], b.Channel(ch))
		offset += n
	}
}

// copyFlatToBuffer is copyBufferToFlat's inverse.
func copyFlatToBuffer(src []float32, b *framebuf.Buffer) {
	offset := 0
	for ch := 0; ch < b.Channels() && offset < len(src); ch++ {
		n := copy(b.Channel(ch), src[offset:])
		offset += n
	}
}
