// Package latency implements the buffer-adaptation and latency arithmetic
// that runs once per SessionElement.prepare: how many samples of
// deterministic delay a given host buffer size and model frame size impose,
// how many concurrent slots are needed to keep the inference queue full,
// and how large the per-tensor send/receive ring buffers must be.
//
// Grounded on the anira scheduler's SessionElement::calculate_latency,
// calculate_num_structs, calculate_send_buffer_sizes and
// calculate_receive_buffer_sizes
// (_examples/original_source/src/scheduler/SessionElement.cpp), with the
// recursive C++ gcd/lcm helpers flattened into iterative Go and everything
// routed through plain float64/int parameters so this package has no
// dependency on the config or session types built on top of it.
package latency

import "math"

// GCD returns the greatest common divisor of a and b.
func GCD(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// LCM returns the least common multiple of a and b. Both are clamped to at
// least 1: a frame size of zero marks "non-streaming" at the caller, not a
// real period.
func LCM(a, b int) int {
	if a <= 0 {
		a = 1
	}
	if b <= 0 {
		b = 1
	}
	return a / GCD(a, b) * b
}

// MaxNumInferences returns the worst case number of model inferences a
// single host call can trigger when hostBufferSize new samples (H,
// possibly fractional) arrive per call and the model consumes frameSize
// samples per inference (P). It walks the accumulator
// S ← S + H − floor(S/P)·P across one LCM(floor(H), P) period, then, when H
// itself carries a fractional part, continues stepping until that
// fractional part recurs.
func MaxNumInferences(hostBufferSize float64, frameSize int) int {
	if frameSize <= 0 {
		return 1
	}
	p := float64(frameSize)
	samplesInBuffer := hostBufferSize
	res := int(samplesInBuffer / p)
	if res < 1 {
		res = 1
	}
	period := float64(LCM(int(math.Floor(hostBufferSize)), frameSize))
	for i := hostBufferSize; i < period; i += hostBufferSize {
		numInferences := int(samplesInBuffer / p)
		if numInferences > res {
			res = numInferences
		}
		samplesInBuffer += hostBufferSize - float64(numInferences)*p
	}
	if math.Mod(hostBufferSize, 1.0) > 1e-6 {
		samplesInBuffer = hostBufferSize
		remainder := 0.0
		for {
			numInferences := int(samplesInBuffer / p)
			if numInferences > res {
				res = numInferences
			}
			remainder = math.Mod(samplesInBuffer, 1.0)
			samplesInBuffer += hostBufferSize - float64(numInferences)*p
			if !(remainder > math.Mod(samplesInBuffer, 1.0)) {
				break
			}
		}
	}
	return res
}

// BufferAdaptation returns the largest number of samples that can be
// stranded — pushed by the host but not yet enough for a full model frame —
// after any single host call, when hostBufferSize new samples (H, possibly
// fractional) arrive per call and the model produces frameSize samples per
// output stride (P). It is zero whenever H is a whole multiple of P. The
// residual is rounded up, so for a fractional H it can equal P.
func BufferAdaptation(hostBufferSize float64, frameSize int) int {
	if frameSize <= 0 {
		return 0
	}
	p := float64(frameSize)
	period := float64(LCM(int(math.Floor(hostBufferSize)), frameSize))
	res := 0
	for i := hostBufferSize; i < period; i += hostBufferSize {
		remainder := math.Mod(i, p)
		if c := int(math.Ceil(remainder)); c > res {
			res = c
		}
	}
	return res
}

// TensorSet describes the per-tensor shape facts the latency arithmetic
// needs: one entry per input tensor and one per output tensor, in the
// order the model's tensor shapes are declared.
type TensorSet struct {
	// PreprocessInputSize is S_in[i]: new samples the pre-processor
	// consumes per inference, per input tensor. 0 marks a non-streaming
	// (auxiliary/control) input.
	PreprocessInputSize []int
	// PostprocessOutputSize is S_out[i]: new samples the post-processor
	// produces per inference, per output tensor. 0 marks non-streaming.
	PostprocessOutputSize []int
	// FrameInputSize is the per-channel element count of each input
	// tensor (the model's native tensor size divided by channel count),
	// used to size the retained receptive-field context in the send
	// buffer. A zero entry is treated as equal to PreprocessInputSize.
	FrameInputSize []int
	// InternalLatency is internal_latency[i], the model's own
	// algorithmic delay per output tensor, in samples.
	InternalLatency []int
}

// HostParams describes the host side of one SessionElement.prepare call.
type HostParams struct {
	BufferSize  float64 // host samples per audio callback; may be fractional under buffer adaptation
	SampleRate  float64
	TensorIndex int // which input tensor is the reference (H) tensor

	MaxInferenceTime   float64 // ms, worst case per inference
	WaitFraction       float64 // controlled-blocking wait, as a fraction of one host buffer's duration
	ControlledBlocking bool
}

// Result is everything SessionElement.prepare derives from the buffer
// adaptation math for one session: per-output-tensor latency, the
// inference-queue depth, and the send/receive ring-buffer capacities.
type Result struct {
	Latency            []int
	NumSlots           int
	SendBufferSizes    []int
	ReceiveBufferSizes []int
}

// Calculate runs the full buffer-adaptation and latency computation for one
// SessionElement.prepare call.
func Calculate(ts TensorSet, hp HostParams) Result {
	maxParallel := maxParallelInferences(ts, hp)
	numSlots := calculateNumSlots(ts, hp, maxParallel)
	return Result{
		Latency:            calculateLatency(ts, hp, maxParallel),
		NumSlots:           numSlots,
		SendBufferSizes:    calculateSendBufferSizes(ts, hp),
		ReceiveBufferSizes: calculateReceiveBufferSizes(ts, hp, numSlots),
	}
}

func refInputSize(ts TensorSet, hp HostParams) int {
	if hp.TensorIndex < 0 || hp.TensorIndex >= len(ts.PreprocessInputSize) {
		return 1
	}
	return ts.PreprocessInputSize[hp.TensorIndex]
}

// maxParallelInferences is N_parallel: the worst case, over every input
// tensor, of how many inferences a single host call can require.
func maxParallelInferences(ts TensorSet, hp HostParams) int {
	ref := float64(refInputSize(ts, hp))
	max := 0
	for _, size := range ts.PreprocessInputSize {
		if size <= 0 {
			continue
		}
		hostInputSize := float64(size) * hp.BufferSize / ref
		if n := MaxNumInferences(hostInputSize, size); n > max {
			max = n
		}
	}
	if max < 1 {
		max = 1
	}
	return max
}

// calculateNumSlots is N_slots: enough structs for every concurrent
// inference, plus one struct per in-flight period of max_inference_time.
func calculateNumSlots(ts TensorSet, hp HostParams, maxParallel int) int {
	ref := refInputSize(ts, hp)
	maxInferenceTimeSamples := hp.MaxInferenceTime * hp.SampleRate / 1000
	structsPerMaxTime := int(math.Ceil(maxInferenceTimeSamples / float64(ref)))
	return maxParallel + structsPerMaxTime*maxParallel
}

// calculateLatency computes latency[i] per output tensor, then, if there is
// more than one output tensor, aligns every streaming tensor's latency
// to the slowest one by taking the worst latency[i]/P[i] ratio across all
// of them.
func calculateLatency(ts TensorSet, hp HostParams, maxParallel int) []int {
	ref := float64(refInputSize(ts, hp))
	raw := make([]float64, len(ts.PostprocessOutputSize))
	for i, outSize := range ts.PostprocessOutputSize {
		if outSize <= 0 {
			raw[i] = 0
			continue
		}
		hostOutputSize := float64(outSize) * hp.BufferSize / ref
		ratioInOut := float64(outSize) / ref
		effectiveSampleRate := hp.SampleRate * ratioInOut
		hostBufferTimeMs := hostOutputSize * 1000 / effectiveSampleRate

		waitMs := 0.0
		if hp.ControlledBlocking {
			waitMs = hp.WaitFraction * hostBufferTimeMs
		}

		bufferAdaptation := BufferAdaptation(hostOutputSize, outSize)
		totalAfterWait := float64(maxParallel)*hp.MaxInferenceTime - waitMs
		numBuffers := math.Ceil(totalAfterWait / hostBufferTimeMs)
		inferenceCaused := math.Ceil(numBuffers * hostOutputSize)
		raw[i] = float64(bufferAdaptation) + inferenceCaused
	}

	result := make([]int, len(raw))
	if len(raw) <= 1 {
		internal := 0
		if len(ts.InternalLatency) > 0 {
			internal = ts.InternalLatency[0]
		}
		if len(raw) == 1 {
			result[0] = int(math.Ceil(raw[0] + float64(internal)))
		}
		return result
	}

	maxRatio := 0.0
	for i, v := range raw {
		if ts.PostprocessOutputSize[i] > 0 {
			if r := v / float64(ts.PostprocessOutputSize[i]); r > maxRatio {
				maxRatio = r
			}
		}
	}
	ceilRatio := math.Ceil(maxRatio)
	for i := range raw {
		if ts.PostprocessOutputSize[i] <= 0 {
			result[i] = 0
			continue
		}
		internal := 0
		if i < len(ts.InternalLatency) {
			internal = ts.InternalLatency[i]
		}
		aligned := ceilRatio*float64(ts.PostprocessOutputSize[i]) + float64(internal)
		result[i] = int(math.Ceil(aligned))
	}
	return result
}

// calculateSendBufferSizes sizes each input tensor's send_buffer: two host
// buffers' worth of headroom (to cover a not-yet-full accumulation plus the
// one in flight), the buffer-adaptation residual, and any extra
// receptive-field context the model needs beyond its streaming chunk.
func calculateSendBufferSizes(ts TensorSet, hp HostParams) []int {
	ref := float64(refInputSize(ts, hp))
	out := make([]int, len(ts.PreprocessInputSize))
	for i, size := range ts.PreprocessInputSize {
		if size <= 0 {
			continue
		}
		hostInputSize := math.Ceil(float64(size) * hp.BufferSize / ref)
		bufferAdaptation := BufferAdaptation(hostInputSize, size)
		frameSize := size
		if i < len(ts.FrameInputSize) && ts.FrameInputSize[i] > 0 {
			frameSize = ts.FrameInputSize[i]
		}
		pastSamplesNeeded := frameSize - size
		if pastSamplesNeeded < 0 {
			pastSamplesNeeded = 0
		}
		out[i] = int(hostInputSize) + bufferAdaptation + pastSamplesNeeded + int(hostInputSize)
	}
	return out
}

// calculateReceiveBufferSizes sizes each output tensor's receive_buffer:
// enough to hold every slot's worth of pending output, plus one host
// buffer's worth of headroom for partially consumed reads.
func calculateReceiveBufferSizes(ts TensorSet, hp HostParams, numSlots int) []int {
	ref := float64(refInputSize(ts, hp))
	out := make([]int, len(ts.PostprocessOutputSize))
	for i, size := range ts.PostprocessOutputSize {
		if size <= 0 {
			continue
		}
		hostOutputSize := math.Ceil(float64(size) * hp.BufferSize / ref)
		newSamples := math.Ceil(float64(numSlots) * float64(size))
		out[i] = int(newSamples) + int(hostOutputSize)
	}
	return out
}
