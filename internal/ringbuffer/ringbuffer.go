// Package ringbuffer provides a per-channel single-producer single-consumer
// circular sample buffer that retains recently-popped history.
//
// Unlike a plain SPSC ring (github.com/agalue/sherpa-voice-assistant's
// internal/audio package pops and forgets), each channel here keeps both the
// "available" window (pushed but not yet popped) and a "past" window
// (popped but not yet overwritten), so a pre-processor can reach back for
// receptive-field context without re-reading samples the host already
// consumed.
package ringbuffer

import "fmt"

// RingBuffer is a fixed-capacity, multi-channel circular sample store.
// It does no locking and uses no atomics, so calls on one RingBuffer must
// not overlap: Push and Pop/PeekFuture/PeekPast from different goroutines
// need outside synchronization. A Session touches its buffers only from
// its PushData/PopData caller.
type RingBuffer struct {
	channels int
	capacity int
	data     [][]float32
	readPos  []int
	writePos []int
	isFull   []bool

	overflowCount  uint64
	underflowCount uint64
}

// New allocates a RingBuffer with the given channel count and per-channel
// capacity (in samples). Storage is zero-filled.
func New(channels, capacity int) *RingBuffer {
	if channels <= 0 {
		channels = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	rb := &RingBuffer{
		channels: channels,
		capacity: capacity,
		data:     make([][]float32, channels),
		readPos:  make([]int, channels),
		writePos: make([]int, channels),
		isFull:   make([]bool, channels),
	}
	for ch := range rb.data {
		rb.data[ch] = make([]float32, capacity)
	}
	return rb
}

// Channels returns the number of channels.
func (rb *RingBuffer) Channels() int { return rb.channels }

// Capacity returns the per-channel capacity in samples.
func (rb *RingBuffer) Capacity() int { return rb.capacity }

// Available returns the number of samples pushed but not yet popped on ch.
func (rb *RingBuffer) Available(ch int) int {
	if rb.isFull[ch] {
		return rb.capacity
	}
	diff := rb.writePos[ch] - rb.readPos[ch]
	if diff < 0 {
		diff += rb.capacity
	}
	return diff
}

// Past returns the size of the retained-history window on ch: samples that
// have been popped but have not yet been overwritten by a subsequent push.
func (rb *RingBuffer) Past(ch int) int {
	return rb.capacity - rb.Available(ch)
}

// Push writes v at the current write position on ch. If the channel is
// full, the oldest sample is overwritten (the read position is advanced)
// and an overflow error is returned; the write itself never fails or
// blocks.
func (rb *RingBuffer) Push(ch int, v float32) error {
	var err error
	if rb.isFull[ch] {
		rb.readPos[ch] = (rb.readPos[ch] + 1) % rb.capacity
		rb.overflowCount++
		err = fmt.Errorf("ringbuffer: overflow on channel %d, oldest sample overwritten", ch)
	}
	rb.data[ch][rb.writePos[ch]] = v
	rb.writePos[ch] = (rb.writePos[ch] + 1) % rb.capacity
	rb.isFull[ch] = rb.writePos[ch] == rb.readPos[ch]
	return err
}

// PushSlice pushes an entire slice of samples into channel ch in order,
// returning the first overflow error encountered (if any); all samples are
// still written even when overflows occur.
func (rb *RingBuffer) PushSlice(ch int, samples []float32) error {
	var firstErr error
	for _, s := range samples {
		if err := rb.Push(ch, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Pop returns and consumes the oldest available sample on ch. If the
// channel is empty, it returns silence (0.0) and an underflow error.
func (rb *RingBuffer) Pop(ch int) (float32, error) {
	if rb.Available(ch) == 0 {
		rb.underflowCount++
		return 0, fmt.Errorf("ringbuffer: underflow on channel %d", ch)
	}
	v := rb.data[ch][rb.readPos[ch]]
	rb.readPos[ch] = (rb.readPos[ch] + 1) % rb.capacity
	rb.isFull[ch] = false
	return v, nil
}

// PopSlice pops n samples from ch into a newly allocated slice, padding
// with silence and returning an underflow error if fewer than n were
// available.
func (rb *RingBuffer) PopSlice(ch int, n int) ([]float32, error) {
	out := make([]float32, n)
	return rb.PopInto(ch, out)
}

// PopInto pops len(dst) samples from ch into dst, padding the remainder
// with silence and returning an underflow error if fewer were available.
func (rb *RingBuffer) PopInto(ch int, dst []float32) ([]float32, error) {
	var err error
	for i := range dst {
		v, e := rb.Pop(ch)
		dst[i] = v
		if e != nil && err == nil {
			err = e
		}
	}
	return dst, err
}

// PeekFuture returns the sample offset positions ahead of the read
// position on ch (offset 0 is the next sample Pop would return), without
// consuming it. It errors if offset is beyond the available window.
func (rb *RingBuffer) PeekFuture(ch int, offset int) (float32, error) {
	if offset < 0 || offset >= rb.Available(ch) {
		return 0, fmt.Errorf("ringbuffer: peek_future offset %d out of range (available=%d)", offset, rb.Available(ch))
	}
	idx := (rb.readPos[ch] + offset) % rb.capacity
	return rb.data[ch][idx], nil
}

// PeekPast returns the sample offset positions behind the read position on
// ch (offset 1 is the most-recently-popped sample), without consuming it.
// It errors if offset exceeds the retained-history window.
func (rb *RingBuffer) PeekPast(ch int, offset int) (float32, error) {
	if offset < 1 || offset > rb.Past(ch) {
		return 0, fmt.Errorf("ringbuffer: peek_past offset %d out of range (past=%d)", offset, rb.Past(ch))
	}
	idx := rb.readPos[ch] - offset
	idx %= rb.capacity
	if idx < 0 {
		idx += rb.capacity
	}
	return rb.data[ch][idx], nil
}

// Clear resets all channels to the empty state without reallocating.
func (rb *RingBuffer) Clear() {
	for ch := range rb.data {
		for i := range rb.data[ch] {
			rb.data[ch][i] = 0
		}
		rb.readPos[ch] = 0
		rb.writePos[ch] = 0
		rb.isFull[ch] = false
	}
}

// OverflowCount returns the cumulative number of overwritten-oldest-sample
// events across all channels, for diagnostics.
func (rb *RingBuffer) OverflowCount() uint64 { return rb.overflowCount }

// UnderflowCount returns the cumulative number of empty-pop events across
// all channels, for diagnostics.
func (rb *RingBuffer) UnderflowCount() uint64 { return rb.underflowCount }
