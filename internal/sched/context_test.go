package sched_test

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

func newPassthroughConfig(t *testing.T, key string, exclusive bool) *config.InferenceConfig {
	t.Helper()
	shape, err := procspec.NewTensorShape([][]int64{{1, 64}}, [][]int64{{1, 64}})
	require.NoError(t, err)
	models := []config.ModelData{{Tag: backend.CUSTOM, Embedded: true, Bytes: []byte{1}}}
	cfg, err := config.NewInferenceConfig(models, config.UniversalShape(shape), 5, 0, exclusive, 1, 0)
	require.NoError(t, err)
	return cfg
}

// TestNewSessionSharesBackendInstanceForEqualCanonicalKey exercises
// spec.md §4.8: two sessions built from value-equal, non-exclusive
// configs share one backend instance.
func TestNewSessionSharesBackendInstanceForEqualCanonicalKey(t *testing.T) {
	pool := backend.NewPool()
	builds := 0
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		builds++
		return passthrough.New(passthrough.Config{Key: "shared"})
	})
	ctx := sched.New(2, sched.MinJobQueueCapacity, pool, nil, nil)
	defer ctx.Shutdown()

	cfg := newPassthroughConfig(t, "shared", false)
	processor := procspec.NewDefaultProcessor(procspec.TensorShape{})

	s1, err := ctx.NewSession(cfg, processor, backend.CUSTOM)
	require.NoError(t, err)
	s2, err := ctx.NewSession(cfg, processor, backend.CUSTOM)
	require.NoError(t, err)
	assert.Equal(t, 1, builds, "both sessions should share one backend instance")

	ctx.ReleaseSession(s1)
	ctx.ReleaseSession(s2)
}

// TestNewSessionRejectsDisabledBackend exercises the supplemented
// enabled-backends restriction: a Context built with an explicit allow
// list refuses a session whose config declares a tag outside it.
func TestNewSessionRejectsDisabledBackend(t *testing.T) {
	pool := backend.NewPool()
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		return passthrough.New(passthrough.Config{Key: "x"})
	})
	ctx := sched.New(1, sched.MinJobQueueCapacity, pool, []backend.Tag{backend.ONNX}, nil)
	defer ctx.Shutdown()

	cfg := newPassthroughConfig(t, "x", false)
	processor := procspec.NewDefaultProcessor(procspec.TensorShape{})

	_, err := ctx.NewSession(cfg, processor, backend.CUSTOM)
	assert.Error(t, err)
}

// TestWorkerPoolProcessesEnqueuedFramesConcurrently drives several
// sessions worth of frames through a small worker pool and checks every
// frame eventually completes, per spec.md §4.7.
func TestWorkerPoolProcessesEnqueuedFramesConcurrently(t *testing.T) {
	pool := backend.NewPool()
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		return passthrough.New(passthrough.Config{Key: "pool-test"})
	})
	ctx := sched.New(4, sched.MinJobQueueCapacity, pool, nil, nil)
	defer ctx.Shutdown()

	shape, err := procspec.NewTensorShape([][]int64{{1, 64}}, [][]int64{{1, 64}})
	require.NoError(t, err)
	hostCfg, err := config.NewHostConfig(64, 48000, false, 0)
	require.NoError(t, err)

	const numSessions = 5
	sessions := make([]*session.Session, 0, numSessions)

	for i := 0; i < numSessions; i++ {
		models := []config.ModelData{{Tag: backend.CUSTOM, Embedded: true, Bytes: []byte{byte(i + 1)}}}
		cfg, err := config.NewInferenceConfig(models, config.UniversalShape(shape), 5, 0, false, 1, 0)
		require.NoError(t, err)
		processor := procspec.NewDefaultProcessor(shape)
		s, err := ctx.NewSession(cfg, processor, backend.CUSTOM)
		require.NoError(t, err)
		require.NoError(t, ctx.Prepare(s, hostCfg, nil))
		sessions = append(sessions, s)
	}

	for _, s := range sessions {
		s.PushData(0, [][]float32{make([]float32, 64)})
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, s := range sessions {
		want := s.Latency(0) + 64
		for time.Now().Before(deadline) && s.AvailableSamples(0, 0) < want {
			time.Sleep(time.Millisecond)
		}
		assert.GreaterOrEqual(t, s.AvailableSamples(0, 0), want)
	}
}

// TestRunOneDonatedJobReturnsFalseOnEmptyQueue exercises spec.md §4.7's
// host-donated execution path on a Context with nothing queued: it must
// not block and must report that it found no work.
func TestRunOneDonatedJobReturnsFalseOnEmptyQueue(t *testing.T) {
	pool := backend.NewPool()
	ctx := sched.New(1, sched.MinJobQueueCapacity, pool, nil, nil)
	defer ctx.Shutdown()

	assert.False(t, ctx.RunOneDonatedJob())
}

// TestRunOneDonatedJobCanCompleteAFrame exercises spec.md §4.7's
// host-donated execution path alongside the worker pool: calling it
// right after a frame is submitted either runs that frame's job itself
// or finds the worker pool already took it — either way, the frame
// completes and RunOneDonatedJob never panics or blocks.
func TestRunOneDonatedJobCanCompleteAFrame(t *testing.T) {
	pool := backend.NewPool()
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		return passthrough.New(passthrough.Config{Key: "donated"})
	})
	ctx := sched.New(1, sched.MinJobQueueCapacity, pool, nil, nil)
	defer ctx.Shutdown()

	shape, err := procspec.NewTensorShape([][]int64{{1, 32}}, [][]int64{{1, 32}})
	require.NoError(t, err)
	models := []config.ModelData{{Tag: backend.CUSTOM, Embedded: true, Bytes: []byte{1}}}
	cfg, err := config.NewInferenceConfig(models, config.UniversalShape(shape), 5, 0, false, 1, 0)
	require.NoError(t, err)
	processor := procspec.NewDefaultProcessor(shape)
	s, err := ctx.NewSession(cfg, processor, backend.CUSTOM)
	require.NoError(t, err)

	hostCfg, err := config.NewHostConfig(32, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, ctx.Prepare(s, hostCfg, nil))

	s.PushData(0, [][]float32{make([]float32, 32)})
	ctx.RunOneDonatedJob()

	want := s.Latency(0) + 32
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.AvailableSamples(0, 0) < want {
		time.Sleep(time.Millisecond)
	}
	assert.GreaterOrEqual(t, s.AvailableSamples(0, 0), want)
}
