package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/backend/passthrough"
	"github.com/nnrt/audiosched/internal/config"
	"github.com/nnrt/audiosched/internal/procspec"
	"github.com/nnrt/audiosched/internal/sched"
	"github.com/nnrt/audiosched/internal/session"
)

// newPassthroughSession builds a one-tensor session backed by the
// dependency-free passthrough backend, per spec.md §8's P2/P4/P5 property
// tests ("for a backend that adds its own per-session seq" / "deterministic
// backend (pass-through)").
func newPassthroughSession(t *testing.T, key string, tagSeq bool, inSize, outSize int) (*session.Session, *sched.Context) {
	t.Helper()
	pool := backend.NewPool()
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		return passthrough.New(passthrough.Config{Key: key, TagSequence: tagSeq})
	})

	models := []config.ModelData{{Tag: backend.CUSTOM, Embedded: true, Bytes: []byte{1}}}
	shape, err := procspec.NewTensorShape([][]int64{{1, int64(inSize)}}, [][]int64{{1, int64(outSize)}})
	require.NoError(t, err)
	cfg, err := config.NewInferenceConfig(models, config.UniversalShape(shape), 5, 0, false, 1, 0)
	require.NoError(t, err)

	ctx := sched.New(2, sched.MinJobQueueCapacity, pool, nil, nil)
	processor := procspec.NewDefaultProcessor(shape)

	s, err := ctx.NewSession(cfg, processor, backend.CUSTOM)
	require.NoError(t, err)
	return s, ctx
}

func waitForAvailable(t *testing.T, s *session.Session, i, ch, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.AvailableSamples(i, ch) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqualf(t, s.AvailableSamples(i, ch), want, "timed out waiting for %d available samples", want)
}

// TestP2PassthroughDeliversLeadingZerosThenVerbatimInput exercises spec.md
// §8 P2: after prepare with a deterministic (pass-through) backend,
// receive_buffer delivers latency[i] zeros then the input verbatim.
func TestP2PassthroughDeliversLeadingZerosThenVerbatimInput(t *testing.T) {
	s, ctx := newPassthroughSession(t, "p2", false, 256, 256)
	defer ctx.Shutdown()

	hostCfg, err := config.NewHostConfig(256, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, ctx.Prepare(s, hostCfg, nil))

	latency := s.Latency(0)
	require.Greater(t, latency, 0)

	in := make([]float32, 256)
	for i := range in {
		in[i] = float32(i + 1)
	}
	s.PushData(0, [][]float32{in})

	waitForAvailable(t, s, 0, 0, latency, time.Second)

	leading := make([]float32, latency)
	n, err := s.PopData(0, 0, leading)
	require.NoError(t, err)
	assert.Equal(t, latency, n)
	for _, v := range leading {
		assert.Zero(t, v)
	}

	waitForAvailable(t, s, 0, 0, 256, time.Second)
	body := make([]float32, 256)
	n, err = s.PopData(0, 0, body)
	require.NoError(t, err)
	assert.Equal(t, 256, n)
	assert.Equal(t, in, body)
}

// TestP4FIFOOrderPreservedAcrossFrames exercises spec.md §8 P4: a backend
// that stamps its own per-session sequence number produces output frames
// in the same order the input frames were submitted.
func TestP4FIFOOrderPreservedAcrossFrames(t *testing.T) {
	s, ctx := newPassthroughSession(t, "p4", true, 64, 64)
	defer ctx.Shutdown()

	hostCfg, err := config.NewHostConfig(64, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, ctx.Prepare(s, hostCfg, nil))
	latency := s.Latency(0)

	// Drive this like a real host callback: push one frame, drain it, and
	// only then push the next. Each pushed frame leaves the send buffer at
	// once for a slot, but the slot pool and receive buffer are sized for a
	// bounded number of frames in flight (spec.md §4.3), so submitting many
	// frames before any are popped would drop some as silence.
	const frames = 6
	var seqs []float32
	leading := make([]float32, latency)
	waitForAvailable(t, s, 0, 0, latency, time.Second)
	n, err := s.PopData(0, 0, leading)
	require.NoError(t, err)
	require.Equal(t, latency, n)

	for f := 0; f < frames; f++ {
		s.PushData(0, [][]float32{make([]float32, 64)})
		waitForAvailable(t, s, 0, 0, 64, time.Second)
		out := make([]float32, 64)
		n, err := s.PopData(0, 0, out)
		require.NoError(t, err)
		require.Equal(t, 64, n)
		seqs = append(seqs, out[0])
	}

	require.Len(t, seqs, frames)
	for i := 1; i < len(seqs); i++ {
		assert.GreaterOrEqual(t, seqs[i], seqs[i-1])
	}
}

// TestP5ResetThenIdenticalInputProducesIdenticalOutput exercises spec.md
// §8 P5: reset followed by identical input produces identical output.
func TestP5ResetThenIdenticalInputProducesIdenticalOutput(t *testing.T) {
	s, ctx := newPassthroughSession(t, "p5", false, 128, 128)
	defer ctx.Shutdown()

	hostCfg, err := config.NewHostConfig(128, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, ctx.Prepare(s, hostCfg, nil))
	latency := s.Latency(0)

	runOnce := func() []float32 {
		in := make([]float32, 128)
		for i := range in {
			in[i] = float32(i) * 0.5
		}
		s.PushData(0, [][]float32{in})
		waitForAvailable(t, s, 0, 0, latency+128, time.Second)
		out := make([]float32, latency+128)
		n, err := s.PopData(0, 0, out)
		require.NoError(t, err)
		require.Equal(t, len(out), n)
		return out
	}

	first := runOnce()
	require.NoError(t, ctx.Reset(s))
	second := runOnce()
	assert.Equal(t, first, second)
}

// TestS5PopMoreThanAvailableSilencePadsWithoutDrift exercises spec.md §8
// S5: pop_data(M) with M > available returns min(M, available) and fills
// the remainder with silence; the next call sees no drift.
func TestS5PopMoreThanAvailableSilencePadsWithoutDrift(t *testing.T) {
	s, ctx := newPassthroughSession(t, "s5", false, 64, 64)
	defer ctx.Shutdown()

	hostCfg, err := config.NewHostConfig(64, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, ctx.Prepare(s, hostCfg, nil))
	latency := s.Latency(0)

	in := make([]float32, 64)
	for i := range in {
		in[i] = float32(i + 1)
	}
	s.PushData(0, [][]float32{in})
	waitForAvailable(t, s, 0, 0, latency+64, time.Second)

	want := latency + 200
	dst := make([]float32, want)
	n, err := s.PopData(0, 0, dst)
	require.Error(t, err, "shortfall should be reported")
	assert.Less(t, n, want)
	assert.Equal(t, latency+64, n)
	assert.Equal(t, in, dst[latency:latency+64])
	for _, v := range dst[n:] {
		assert.Zero(t, v)
	}

	s.PushData(0, [][]float32{in})
	waitForAvailable(t, s, 0, 0, 64, 2*time.Second)
	next := make([]float32, 64)
	n2, err := s.PopData(0, 0, next)
	require.NoError(t, err)
	assert.Equal(t, 64, n2)
	assert.Equal(t, in, next)
}

// TestS6BackendSwitchMidRunPreservesFIFOOrder exercises spec.md §8 S6:
// switching backend between frames loses no sample, duplicates none, and
// preserves FIFO stamp order.
func TestS6BackendSwitchMidRunPreservesFIFOOrder(t *testing.T) {
	pool := backend.NewPool()
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		return passthrough.New(passthrough.Config{Key: "custom-stand-in"})
	})
	pool.Register(backend.ONNX, func(cfg backend.Config) (backend.Backend, error) {
		return passthrough.New(passthrough.Config{Key: "onnx-stand-in"})
	})

	shape, err := procspec.NewTensorShape([][]int64{{1, 32}}, [][]int64{{1, 32}})
	require.NoError(t, err)
	models := []config.ModelData{
		{Tag: backend.CUSTOM, Embedded: true, Bytes: []byte{1}},
		{Tag: backend.ONNX, Embedded: true, Bytes: []byte{2}},
	}
	cfg, err := config.NewInferenceConfig(models, config.UniversalShape(shape), 5, 0, false, 1, 0)
	require.NoError(t, err)

	ctx := sched.New(2, sched.MinJobQueueCapacity, pool, nil, nil)
	defer ctx.Shutdown()
	processor := procspec.NewDefaultProcessor(shape)

	s, err := ctx.NewSession(cfg, processor, backend.CUSTOM)
	require.NoError(t, err)

	hostCfg, err := config.NewHostConfig(32, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, ctx.Prepare(s, hostCfg, nil))
	latency := s.Latency(0)

	waitForAvailable(t, s, 0, 0, latency, time.Second)
	leading := make([]float32, latency)
	n, err := s.PopData(0, 0, leading)
	require.NoError(t, err)
	require.Equal(t, latency, n)

	preSwitch := make([]float32, 32)
	for i := range preSwitch {
		preSwitch[i] = 7
	}
	s.PushData(0, [][]float32{preSwitch})
	waitForAvailable(t, s, 0, 0, 32, time.Second)
	beforeSwitch := make([]float32, 32)
	n, err = s.PopData(0, 0, beforeSwitch)
	require.NoError(t, err)
	require.Equal(t, 32, n)
	assert.Equal(t, preSwitch, beforeSwitch, "pre-switch frame lost or corrupted")

	require.NoError(t, s.SetBackend(backend.ONNX))
	postSwitch := make([]float32, 32)
	for i := range postSwitch {
		postSwitch[i] = 9
	}
	s.PushData(0, [][]float32{postSwitch})
	waitForAvailable(t, s, 0, 0, 32, time.Second)
	afterSwitch := make([]float32, 32)
	n, err = s.PopData(0, 0, afterSwitch)
	require.NoError(t, err)
	require.Equal(t, 32, n)
	assert.Equal(t, postSwitch, afterSwitch, "post-switch frame lost or corrupted")
}

// TestP6SteadyStatePushPopAllocatesNothing exercises spec.md §8 P6: no
// allocation occurs on the audio thread path between prepare and release.
// PushData and PopData are both driven from this goroutine the same way a
// real host callback would drive them, so testing.AllocsPerRun's count
// covers every step of the push/submit/drain/pop cycle, including
// stampQueue's push/popOldest pair.
func TestP6SteadyStatePushPopAllocatesNothing(t *testing.T) {
	s, ctx := newPassthroughSession(t, "p6", false, 64, 64)
	defer ctx.Shutdown()

	hostCfg, err := config.NewHostConfig(64, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, ctx.Prepare(s, hostCfg, nil))
	latency := s.Latency(0)

	// Drain the leading latency padding outside the measured loop below, so
	// the measurement only covers the steady-state cycle, not prepare's
	// one-time fill.
	waitForAvailable(t, s, 0, 0, latency, time.Second)
	leading := make([]float32, latency)
	_, err = s.PopData(0, 0, leading)
	require.NoError(t, err)

	in := [][]float32{make([]float32, 64)}
	for i := range in[0] {
		in[0][i] = float32(i)
	}
	out := make([]float32, 64)

	allocs := testing.AllocsPerRun(50, func() {
		s.PushData(0, in)
		for s.AvailableSamples(0, 0) < 64 {
			time.Sleep(50 * time.Microsecond)
		}
		_, _ = s.PopData(0, 0, out)
	})
	assert.Zero(t, allocs, "steady-state PushData/PopData must not allocate (spec.md §8 P6)")
}
