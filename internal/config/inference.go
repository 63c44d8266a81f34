package config

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/procspec"
)

// InferenceConfig is the immutable-once-constructed description of a
// session's model(s): one TensorShape and ModelData per backend tag, plus
// the scalar knobs spec.md §3 lists under InferenceConfig.
type InferenceConfig struct {
	models map[backend.Tag]ModelData
	shapes map[backend.Tag]procspec.TensorShape

	MaxInferenceTime      float64 // ms
	WarmUp                int
	SessionExclusive      bool
	NumParallelProcessors int
	WaitInProcessBlock    float64 // fraction of one host period, 0 disables controlled blocking
}

// NewInferenceConfig validates and builds an InferenceConfig. shapes may
// contain a single entry keyed by backend.Tag(universalTag) — a sentinel
// the caller doesn't construct directly; use UniversalShape to build
// the shapes map when every backend shares one tensor layout.
func NewInferenceConfig(models []ModelData, shapes map[backend.Tag]procspec.TensorShape, maxInferenceTimeMs float64, warmUp int, sessionExclusive bool, numParallelProcessors int, waitInProcessBlock float64) (*InferenceConfig, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("config: model_data must have at least one entry")
	}
	modelSet := make(map[backend.Tag]ModelData, len(models))
	for _, m := range models {
		if m.Embedded && len(m.Bytes) == 0 {
			return nil, fmt.Errorf("config: backend %s marked embedded with no payload bytes", m.Tag)
		}
		if !m.Embedded && m.Path == "" {
			return nil, fmt.Errorf("config: backend %s has neither embedded bytes nor a path", m.Tag)
		}
		modelSet[m.Tag] = m
	}

	if len(shapes) == 0 {
		return nil, fmt.Errorf("config: tensor_shape must have at least one entry")
	}
	resolved := make(map[backend.Tag]procspec.TensorShape, len(modelSet))
	if universal, ok := shapes[universalTag]; ok && len(shapes) == 1 {
		for tag := range modelSet {
			resolved[tag] = universal
		}
	} else {
		resolved = shapes
	}
	for tag := range modelSet {
		if _, ok := resolved[tag]; !ok {
			return nil, fmt.Errorf("config: backend %s present in model_data has no tensor_shape entry", tag)
		}
	}
	for tag := range resolved {
		if _, ok := modelSet[tag]; !ok {
			return nil, fmt.Errorf("config: tensor_shape entry for backend %s has no model_data entry", tag)
		}
	}

	if sessionExclusive {
		numParallelProcessors = 1
	}
	if numParallelProcessors < 1 {
		numParallelProcessors = 1
	}

	return &InferenceConfig{
		models:                modelSet,
		shapes:                resolved,
		MaxInferenceTime:      maxInferenceTimeMs,
		WarmUp:                warmUp,
		SessionExclusive:      sessionExclusive,
		NumParallelProcessors: numParallelProcessors,
		WaitInProcessBlock:    waitInProcessBlock,
	}, nil
}

// universalTag is the sentinel backend.Tag callers use as the sole key of a
// shapes map that should be cloned across every backend in model_data, per
// spec.md §3's "universal" tensor_shape entry.
const universalTag backend.Tag = 255

// UniversalShape builds a one-entry shapes map that NewInferenceConfig
// clones across every backend tag present in model_data.
func UniversalShape(ts procspec.TensorShape) map[backend.Tag]procspec.TensorShape {
	return map[backend.Tag]procspec.TensorShape{universalTag: ts}
}

// Backends returns the set of backend tags this config declares, in
// ascending tag order.
func (c *InferenceConfig) Backends() []backend.Tag {
	tags := make([]backend.Tag, 0, len(c.models))
	for tag := range c.models {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// ModelData returns the model payload declared for tag.
func (c *InferenceConfig) ModelData(tag backend.Tag) (ModelData, bool) {
	m, ok := c.models[tag]
	return m, ok
}

// Shape returns the tensor shape declared for tag.
func (c *InferenceConfig) Shape(tag backend.Tag) (procspec.TensorShape, bool) {
	ts, ok := c.shapes[tag]
	return ts, ok
}

// backendConfigView adapts one backend tag's slice of an InferenceConfig to
// the backend.Config interface the instance pool compares by value.
type backendConfigView struct {
	tag backend.Tag
	key string
	cfg *InferenceConfig
}

func (v backendConfigView) Tag() backend.Tag            { return v.tag }
func (v backendConfigView) CanonicalKey() string        { return v.key }
func (v backendConfigView) SessionExclusive() bool      { return v.cfg.SessionExclusive }
func (v backendConfigView) NumParallelProcessors() int  { return v.cfg.NumParallelProcessors }

// BackendConfig returns the backend.Config view Context.NewSession uses to
// acquire a Backend instance for tag, including its value-equality key (see
// "(NEW) Config comparison" in SPEC_FULL.md §3).
func (c *InferenceConfig) BackendConfig(tag backend.Tag) (backend.Config, error) {
	model, ok := c.models[tag]
	if !ok {
		return nil, fmt.Errorf("config: backend %s not present in this InferenceConfig", tag)
	}
	shape := c.shapes[tag]
	return backendConfigView{tag: tag, key: c.canonicalKey(model, shape), cfg: c}, nil
}

// canonicalKey hashes every field that affects backend construction into a
// content digest, rather than comparing the raw struct (byte slices and the
// model payload itself can be large and compare unreliably with
// reflect.DeepEqual); two configs with equal keys are share-eligible per
// spec.md §4.8, subject to the session-exclusive check.
func (c *InferenceConfig) canonicalKey(model ModelData, shape procspec.TensorShape) string {
	h := sha256.New()
	fmt.Fprintf(h, "tag=%d;entry=%s;embedded=%t;path=%s;", model.Tag, model.EntryPoint, model.Embedded, model.Path)
	if model.Embedded {
		h.Write(model.Bytes)
	}
	writeDims(h, shape.InputDims)
	writeDims(h, shape.OutputDims)
	writeInts(h, shape.PreprocessInputChannels)
	writeInts(h, shape.PreprocessInputSize)
	writeInts(h, shape.PostprocessOutputChannels)
	writeInts(h, shape.PostprocessOutputSize)
	writeInts(h, shape.InternalLatency)
	fmt.Fprintf(h, "warmup=%d;numparallel=%d;exclusive=%t;maxinf=%f", c.WarmUp, c.NumParallelProcessors, c.SessionExclusive, c.MaxInferenceTime)
	return hex.EncodeToString(h.Sum(nil))
}

func writeDims(h interface{ Write([]byte) (int, error) }, dims [][]int64) {
	for _, shape := range dims {
		for _, d := range shape {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(d))
			h.Write(buf[:])
		}
		h.Write([]byte{0})
	}
}

func writeInts(h interface{ Write([]byte) (int, error) }, ints []int) {
	for _, v := range ints {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	h.Write([]byte{0})
}
