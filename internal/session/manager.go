package session

import (
	"fmt"
	"time"
)

// PushData feeds newly captured host samples for input tensor i into that
// tensor's send ring buffer, then submits as many complete inference
// frames as are now available, per spec.md §4.5's new_data_submitted. It
// is called only from the audio thread and never blocks.
func (s *Session) PushData(i int, samples [][]float32) {
	if !s.initialised.Load() {
		return
	}
	if i < 0 || i >= len(s.sendBuffers) || s.sendBuffers[i] == nil {
		return
	}
	rb := s.sendBuffers[i]
	n := rb.Channels()
	if len(samples) < n {
		n = len(samples)
	}
	for ch := 0; ch < n; ch++ {
		rb.PushSlice(ch, samples[ch])
	}
	s.submitReadyFrames()
}

// submitReadyFrames runs spec.md §4.5's loop: while the reference tensor
// has a full stride of new samples available, either claim a slot and
// submit it, or, if every slot is busy, drop the frame (consume the input,
// emit silence on every output) so the ring buffers don't stall.
func (s *Session) submitReadyFrames() {
	for s.frameReady() {
		if !s.submitOneFrame() {
			s.dropFrame()
		}
	}
}

// frameReady reports whether the reference input tensor's send buffer
// holds at least one new stride (S_in) of samples.
func (s *Session) frameReady() bool {
	ref := s.hostCfg.TensorIndex
	if ref < 0 || ref >= len(s.streamIn) || s.streamIn[ref] <= 0 {
		return false
	}
	if ref >= len(s.sendBuffers) || s.sendBuffers[ref] == nil {
		return false
	}
	return s.sendBuffers[ref].Available(0) >= s.streamIn[ref]
}

// submitOneFrame claims a FREE slot, pre-processes every input tensor's
// frame into it, records its stamp, and enqueues it for a worker. It
// returns false, leaving no slot claimed, when no slot is free. When the
// job queue rejects the job it releases the slot, emits one stride of
// silence on every output and returns true, since the frame's input has
// already been consumed.
func (s *Session) submitOneFrame() bool {
	idx := s.claimFreeSlot()
	if idx < 0 {
		return false
	}
	slot := s.slots[idx]

	for i, ring := range s.sendBuffers {
		if ring == nil || i >= len(slot.Input) {
			continue
		}
		s.processor.PreProcess(i, ring, slot.Input[i])
	}

	stamp := uint16(s.nextStamp)
	s.nextStamp++
	slot.Stamp = stamp
	s.pending.push(stamp)

	if !s.queue.Enqueue(Job{Session: s, SlotIndex: idx}) {
		// Queue momentarily full: give up on this slot and emit silence
		// for it, same as the no-free-slot case — the input samples it
		// already consumed from the ring are not recoverable.
		s.pending.popNewest()
		slot.release()
		s.zeroOutputs()
		return true
	}
	s.activeInferences.Add(1)

	if s.hostDonationActive.Load() && s.hostCfg.SubmitTask != nil {
		if err := s.hostCfg.SubmitTask(1); err != nil {
			s.hostDonationActive.Store(false)
			diagLogf(s, "session %d: host task submission failed, falling back to worker pool: %v", s.id, err)
		}
	}
	return true
}

// claimFreeSlot finds and claims the first FREE slot, or -1 if none is
// free.
func (s *Session) claimFreeSlot() int {
	for i, slot := range s.slots {
		if slot.tryClaim() {
			return i
		}
	}
	return -1
}

// dropFrame discards one stride's worth of new samples from every input
// ring and emits silence into every output ring, per spec.md §4.5's "drop
// a frame" fallback for when no slot is free.
func (s *Session) dropFrame() {
	for i, ring := range s.sendBuffers {
		if ring == nil || i >= len(s.streamIn) || s.streamIn[i] <= 0 {
			continue
		}
		dst := s.dropScratch[:s.streamIn[i]]
		for ch := 0; ch < ring.Channels(); ch++ {
			ring.PopInto(ch, dst)
		}
	}
	s.zeroOutputs()
}

// zeroOutputs pushes one stride's worth of silence into every streaming
// output ring, keeping the consumer's cadence intact when a frame is
// dropped or its job could not be enqueued.
func (s *Session) zeroOutputs() {
	for i, ring := range s.receiveBuffers {
		if ring == nil || i >= len(s.streamOut) || s.streamOut[i] <= 0 {
			continue
		}
		for ch := 0; ch < ring.Channels(); ch++ {
			for k := 0; k < s.streamOut[i]; k++ {
				ring.Push(ch, 0)
			}
		}
	}
}

// PopData drains every slot that has finished inference, in submission
// order, into the receive buffers, then pops len(dst) samples from output
// tensor i's channel ch into dst, per spec.md §4.6's new_data_request. The
// returned count is the number of genuine (non-padding) samples copied;
// any shortfall is silence-padded in dst and reported via err.
func (s *Session) PopData(i, ch int, dst []float32) (int, error) {
	s.drainCompletedSlots(true)
	if i < 0 || i >= len(s.receiveBuffers) || s.receiveBuffers[i] == nil {
		for idx := range dst {
			dst[idx] = 0
		}
		return 0, fmt.Errorf("session: output tensor %d has no receive buffer", i)
	}
	rb := s.receiveBuffers[i]
	avail := rb.Available(ch)
	n := len(dst)
	if avail < n {
		n = avail
	}
	_, err := rb.PopInto(ch, dst)
	return n, err
}

// drainCompletedSlots walks pending stamps oldest-first, post-processing
// and freeing every slot that has reached DONE, and stops at the first one
// that hasn't: order must be preserved, so a later slot finishing first
// does not jump the queue. When wait is false it never waits: it returns at
// the first pending slot that isn't DONE. When wait is true, in
// non-realtime mode it instead busy-waits indefinitely for the oldest stamp
// to finish, per spec.md §4.6's offline/batch path. Otherwise, when
// controlled blocking is configured (InferenceConfig.WaitInProcessBlock >
// 0), it busy-waits for the oldest stamp up to a deadline computed once per
// call from the current host period; on timeout, or when controlled
// blocking is disabled, it returns immediately and leaves the stamp pending
// for the next call.
func (s *Session) drainCompletedSlots(wait bool) {
	deadline, hasDeadline := s.controlledBlockDeadline()
	for {
		stamp, ok := s.pending.oldest()
		if !ok {
			return
		}
		idx := s.findSlotByStamp(stamp)
		if idx < 0 {
			s.pending.popOldest()
			continue
		}
		slot := s.slots[idx]
		if wait && s.nonRealtime.Load() {
			for slot.State() != StateDone {
				time.Sleep(idleWaitStep)
			}
		} else {
			for slot.State() != StateDone {
				if !wait || !hasDeadline || !time.Now().Before(deadline) {
					return
				}
				time.Sleep(idleWaitStep)
			}
		}
		for j, out := range slot.Output {
			if j >= len(s.receiveBuffers) || s.receiveBuffers[j] == nil {
				continue
			}
			s.processor.PostProcess(j, out, s.receiveBuffers[j])
		}
		slot.release()
		s.pending.popOldest()
	}
}

// controlledBlockDeadline computes the wait-deadline spec.md §4.6
// describes for controlled blocking: now + wait_in_process_block · one
// host period. It reports hasDeadline=false when WaitInProcessBlock is
// not configured, which callers treat as "no wait, non-blocking take".
func (s *Session) controlledBlockDeadline() (deadline time.Time, hasDeadline bool) {
	frac := s.cfg.WaitInProcessBlock
	if frac <= 0 || s.hostCfg.SampleRate <= 0 {
		return time.Time{}, false
	}
	hostPeriod := time.Duration(s.hostCfg.BufferSize / s.hostCfg.SampleRate * float64(time.Second))
	return time.Now().Add(time.Duration(frac * float64(hostPeriod))), true
}

// findSlotByStamp returns the index of the non-FREE slot tagged with
// stamp, or -1. A slot's stamp is only meaningful while it isn't FREE: a
// freed slot's leftover stamp value may coincidentally match a later
// lookup, which the state check excludes.
func (s *Session) findSlotByStamp(stamp uint16) int {
	for i, slot := range s.slots {
		if slot.State() != StateFree && slot.Stamp == stamp {
			return i
		}
	}
	return -1
}

// ExecuteSlot runs inference for slotIndex against the session's currently
// selected backend and marks the slot DONE, per spec.md §4.7. Called by a
// sched worker goroutine or a host-donated thread — never by the audio
// thread.
func (s *Session) ExecuteSlot(slotIndex int) {
	defer s.activeInferences.Add(-1)
	if slotIndex < 0 || slotIndex >= len(s.slots) {
		return
	}
	slot := s.slots[slotIndex]
	b, ok := s.backends[s.Backend()]
	if !ok {
		slot.markDone()
		return
	}
	if err := b.Process(slot.Input, slot.Output, s.id); err != nil {
		diagLogf(s, "session %d: inference failed: %v", s.id, err)
	}
	slot.markDone()
}

func diagLogf(s *Session, format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
