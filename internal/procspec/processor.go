package procspec

import (
	"github.com/nnrt/audiosched/internal/framebuf"
	"github.com/nnrt/audiosched/internal/ringbuffer"
)

// Processor is the user extension point: it adapts between a session's
// audio-rate ring buffers and the fixed-shape tensors a Backend consumes
// and produces. PreProcess/PostProcess run on the audio thread while it
// holds a FREE slot and must not allocate.
type Processor interface {
	// PreProcess fills dst (tensor index i's input frame) from ring.
	// For a streaming tensor it pops S_in samples per channel; for a
	// non-streaming (auxiliary) tensor it has no ring and instead
	// broadcasts the last value set via SetScalar.
	PreProcess(i int, ring *ringbuffer.RingBuffer, dst *framebuf.Buffer)
	// PostProcess drains src (tensor index i's output frame) into ring.
	// For a streaming tensor it pushes S_out samples per channel; for a
	// non-streaming tensor it records src's first sample for Scalar.
	PostProcess(i int, src *framebuf.Buffer, ring *ringbuffer.RingBuffer)
	// SetScalar assigns the next frame's value for non-streaming input
	// tensor i.
	SetScalar(i int, value float32)
	// Scalar returns the most recent value post-processed from
	// non-streaming output tensor i.
	Scalar(i int) float32
}

// DefaultProcessor implements the default streaming contract described in
// spec.md §4.2: pop S_in samples per channel into the input tensor, push
// S_out samples per channel from the output tensor. Users needing
// past-sample context or tensor reshuffles embed a DefaultProcessor and
// override the tensor indices that need different behavior.
type DefaultProcessor struct {
	shape   TensorShape
	scalars map[int]float32
}

// NewDefaultProcessor builds a DefaultProcessor for the given tensor shape.
func NewDefaultProcessor(shape TensorShape) *DefaultProcessor {
	return &DefaultProcessor{shape: shape, scalars: make(map[int]float32)}
}

func (p *DefaultProcessor) PreProcess(i int, ring *ringbuffer.RingBuffer, dst *framebuf.Buffer) {
	sIn := 0
	if i < len(p.shape.PreprocessInputSize) {
		sIn = p.shape.PreprocessInputSize[i]
	}
	if sIn <= 0 {
		v := p.scalars[i]
		for ch := 0; ch < dst.Channels(); ch++ {
			row := dst.Channel(ch)
			for s := range row {
				row[s] = v
			}
		}
		return
	}
	for ch := 0; ch < dst.Channels(); ch++ {
		ring.PopInto(ch, dst.Channel(ch))
	}
}

func (p *DefaultProcessor) PostProcess(i int, src *framebuf.Buffer, ring *ringbuffer.RingBuffer) {
	sOut := 0
	if i < len(p.shape.PostprocessOutputSize) {
		sOut = p.shape.PostprocessOutputSize[i]
	}
	if sOut <= 0 {
		if src.Channels() > 0 && src.Samples() > 0 {
			p.scalars[i] = src.At(0, 0)
		}
		return
	}
	for ch := 0; ch < src.Channels(); ch++ {
		ring.PushSlice(ch, src.Channel(ch))
	}
}

func (p *DefaultProcessor) SetScalar(i int, value float32) { p.scalars[i] = value }
func (p *DefaultProcessor) Scalar(i int) float32           { return p.scalars[i] }
