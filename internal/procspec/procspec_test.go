package procspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnrt/audiosched/internal/framebuf"
	"github.com/nnrt/audiosched/internal/ringbuffer"
)

func TestNewTensorShapeDerivesDefaults(t *testing.T) {
	ts, err := NewTensorShape(
		[][]int64{{1, 1, 2048}},
		[][]int64{{1, 1, 2048}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ts.PreprocessInputChannels)
	assert.Equal(t, []int{2048}, ts.PreprocessInputSize)
	assert.Equal(t, []int{2048}, ts.PostprocessOutputSize)
	assert.Equal(t, []int{2048}, ts.TensorInputSize())
	assert.Equal(t, []int{2048}, ts.FrameInputSize())
}

func TestNewTensorShapeRejectsNonPositiveDimension(t *testing.T) {
	_, err := NewTensorShape([][]int64{{1, 0, 2048}}, [][]int64{{1, 1, 2048}})
	assert.Error(t, err)
}

func TestDefaultProcessorPreProcessPopsStreamingSamples(t *testing.T) {
	shape, err := NewTensorShape([][]int64{{1, 1, 4}}, [][]int64{{1, 1, 4}})
	require.NoError(t, err)
	p := NewDefaultProcessor(shape)

	ring := ringbuffer.New(1, 8)
	require.NoError(t, ring.PushSlice(0, []float32{1, 2, 3, 4}))

	dst := framebuf.New(1, 4)
	p.PreProcess(0, ring, dst)
	assert.Equal(t, []float32{1, 2, 3, 4}, dst.Channel(0))
	assert.Equal(t, 0, ring.Available(0))
}

func TestDefaultProcessorPreProcessBroadcastsScalarForAuxiliaryTensor(t *testing.T) {
	shape := TensorShape{PreprocessInputSize: []int{0}}
	p := NewDefaultProcessor(shape)
	p.SetScalar(0, 0.5)

	dst := framebuf.New(2, 3)
	p.PreProcess(0, nil, dst)
	for ch := 0; ch < 2; ch++ {
		for s := 0; s < 3; s++ {
			assert.Equal(t, float32(0.5), dst.At(ch, s))
		}
	}
}

func TestDefaultProcessorPostProcessPushesStreamingSamples(t *testing.T) {
	shape, err := NewTensorShape([][]int64{{1, 1, 2}}, [][]int64{{1, 1, 3}})
	require.NoError(t, err)
	p := NewDefaultProcessor(shape)

	src := framebuf.New(1, 3)
	src.Set(0, 0, 10)
	src.Set(0, 1, 20)
	src.Set(0, 2, 30)

	ring := ringbuffer.New(1, 8)
	p.PostProcess(0, src, ring)
	assert.Equal(t, 3, ring.Available(0))
	v, _ := ring.Pop(0)
	assert.Equal(t, float32(10), v)
}

func TestDefaultProcessorPostProcessCapturesScalarForNonStreamingTensor(t *testing.T) {
	shape := TensorShape{PostprocessOutputSize: []int{0}}
	p := NewDefaultProcessor(shape)

	src := framebuf.New(1, 1)
	src.Set(0, 0, 42)
	p.PostProcess(0, src, nil)
	assert.Equal(t, float32(42), p.Scalar(0))
}
