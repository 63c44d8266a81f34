// Package procspec describes a model's tensor shapes and implements the
// pre/post-processor contract that adapts between audio-rate ring buffers
// and the fixed-shape tensors a Backend consumes and produces.
//
// Grounded on anira's InferenceConfig/TensorShape/ProcessingSpec
// (_examples/original_source/include/anira/InferenceConfig.h,
// src/InferenceConfig.cpp::update_tensor_shapes) and its PrePostProcessor
// default implementation (spec.md §4.2).
package procspec

import "fmt"

// TensorShape describes one model's full set of input and output tensors:
// their dimensions, channel counts, and the streaming chunk size derived
// from each. A tensor with streaming size 0 is non-streaming (an auxiliary
// parameter tensor, carried through the scalar interface instead of a ring
// buffer).
type TensorShape struct {
	InputDims  [][]int64
	OutputDims [][]int64

	PreprocessInputChannels   []int
	PostprocessOutputChannels []int
	PreprocessInputSize       []int
	PostprocessOutputSize     []int
	InternalLatency           []int
}

// NewTensorShape validates inputDims/outputDims and derives per-tensor
// channel counts and streaming sizes, mirroring update_tensor_shapes: every
// tensor gets channel count 1, and its streaming size is the tensor's
// flattened element count divided by its channel count.
func NewTensorShape(inputDims, outputDims [][]int64) (TensorShape, error) {
	ts := TensorShape{InputDims: inputDims, OutputDims: outputDims}

	inSizes, err := flattenedSizes(inputDims)
	if err != nil {
		return TensorShape{}, fmt.Errorf("procspec: input shape: %w", err)
	}
	outSizes, err := flattenedSizes(outputDims)
	if err != nil {
		return TensorShape{}, fmt.Errorf("procspec: output shape: %w", err)
	}

	ts.PreprocessInputChannels = onesIfEmpty(nil, len(inSizes))
	ts.PostprocessOutputChannels = onesIfEmpty(nil, len(outSizes))
	ts.PreprocessInputSize = make([]int, len(inSizes))
	for i, total := range inSizes {
		ts.PreprocessInputSize[i] = total / ts.PreprocessInputChannels[i]
	}
	ts.PostprocessOutputSize = make([]int, len(outSizes))
	for i, total := range outSizes {
		ts.PostprocessOutputSize[i] = total / ts.PostprocessOutputChannels[i]
	}
	ts.InternalLatency = make([]int, len(outSizes))

	return ts, nil
}

// TensorInputSize returns each input tensor's flattened element count
// (product of its dimensions).
func (ts TensorShape) TensorInputSize() []int {
	sizes, _ := flattenedSizes(ts.InputDims)
	return sizes
}

// TensorOutputSize returns each output tensor's flattened element count.
func (ts TensorShape) TensorOutputSize() []int {
	sizes, _ := flattenedSizes(ts.OutputDims)
	return sizes
}

// FrameInputSize returns each input tensor's per-channel element count
// (flattened size divided by channel count), the value the buffer-adaptation
// math calls frame_size.
func (ts TensorShape) FrameInputSize() []int {
	sizes := ts.TensorInputSize()
	out := make([]int, len(sizes))
	for i, s := range sizes {
		ch := 1
		if i < len(ts.PreprocessInputChannels) && ts.PreprocessInputChannels[i] > 0 {
			ch = ts.PreprocessInputChannels[i]
		}
		out[i] = s / ch
	}
	return out
}

// FrameOutputSize returns each output tensor's per-channel element count,
// the output-side counterpart to FrameInputSize.
func (ts TensorShape) FrameOutputSize() []int {
	sizes := ts.TensorOutputSize()
	out := make([]int, len(sizes))
	for i, s := range sizes {
		ch := 1
		if i < len(ts.PostprocessOutputChannels) && ts.PostprocessOutputChannels[i] > 0 {
			ch = ts.PostprocessOutputChannels[i]
		}
		out[i] = s / ch
	}
	return out
}

func flattenedSizes(dims [][]int64) ([]int, error) {
	sizes := make([]int, len(dims))
	for i, shape := range dims {
		total := int64(1)
		for j, d := range shape {
			if d < 1 {
				return nil, fmt.Errorf("dimension %d of tensor %d must be >= 1, got %d", j, i, d)
			}
			total *= d
		}
		sizes[i] = int(total)
	}
	return sizes, nil
}

func onesIfEmpty(channels []int, n int) []int {
	if len(channels) == n {
		return channels
	}
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
