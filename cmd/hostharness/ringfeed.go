package main

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// audioFeed is a lock-free single-producer single-consumer ring buffer
// carrying raw capture chunks from the audio callback to the goroutine
// that feeds the handler, the same separation of concerns as the
// teacher's internal/audio/capture.go ring buffer: the callback must
// never block, so it only ever does an atomic CAS-free push into a
// pre-allocated slot.
type audioFeed struct {
	slots     []feedSlot
	head      atomic.Uint64
	tail      atomic.Uint64
	dropCount atomic.Uint64
}

type feedSlot struct {
	samples []float32
	n       int
}

func newAudioFeed(depth, chunkCapacity int) *audioFeed {
	f := &audioFeed{slots: make([]feedSlot, depth)}
	for i := range f.slots {
		f.slots[i].samples = make([]float32, chunkCapacity)
	}
	return f
}

// push copies samples into the next slot. It never blocks; when the
// ring is full the chunk is dropped and dropCount advances.
func (f *audioFeed) push(samples []float32) {
	head := f.head.Load()
	tail := f.tail.Load()
	if head-tail >= uint64(len(f.slots)) {
		f.dropCount.Add(1)
		return
	}
	slot := &f.slots[head%uint64(len(f.slots))]
	slot.n = copy(slot.samples, samples)
	f.head.Add(1)
}

// pop returns the oldest pushed chunk, or nil if the ring is empty. The
// returned slice is only valid until the next pop.
func (f *audioFeed) pop() []float32 {
	head := f.head.Load()
	tail := f.tail.Load()
	if head == tail {
		return nil
	}
	slot := &f.slots[tail%uint64(len(f.slots))]
	out := slot.samples[:slot.n]
	f.tail.Add(1)
	return out
}

func (f *audioFeed) dropped() uint64 {
	return f.dropCount.Load()
}

// bytesToFloat32 decodes a little-endian F32 PCM byte buffer, exactly the
// layout malgo.FormatF32 delivers to a capture callback.
func bytesToFloat32(data []byte, dst []float32) []float32 {
	n := len(data) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return dst
}
