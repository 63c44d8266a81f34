package handler

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
)

func newTestHandler(t *testing.T, key string) (*Handler, *sched.Context) {
	t.Helper()
	pool := backend.NewPool()
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		return passthrough.New(passthrough.Config{Key: key})
	})

	models := []config.ModelData{{Tag: backend.CUSTOM, Embedded: true, Bytes: []byte{1}}}
	shape, err := procspec.NewTensorShape([][]int64{{1, 256}}, [][]int64{{1, 256}})
	require.NoError(t, err)
	shapes := config.UniversalShape(shape)
	cfg, err := config.NewInferenceConfig(models, shapes, 10, 0, false, 1, 0)
	require.NoError(t, err)

	ctx := sched.New(2, sched.MinJobQueueCapacity, pool, nil, nil)
	processor := procspec.NewDefaultProcessor(shape)

	h, err := New(ctx, cfg, processor, backend.CUSTOM)
	require.NoError(t, err)
	return h, ctx
}

func TestHandlerPushPopRoundTripsThroughPassthroughBackend(t *testing.T) {
	h, ctx := newTestHandler(t, "round-trip")
	defer ctx.Shutdown()
	defer h.Release()

	hostCfg, err := config.NewHostConfig(256, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, h.Prepare(hostCfg))

	in := make([]float32, 256)
	for i := range in {
		in[i] = float32(i)
	}
	h.PushData(0, [][]float32{in})

	leading := make([]float32, h.GetLatency(0))
	_, err = h.PopData(0, 0, leading)
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	out := make([]float32, 256)
	var popped int
	for time.Now().Before(deadline) {
		popped, err = h.PopData(0, 0, out)
		if err == nil && popped == len(out) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHandlerGetLatencyReflectsPrepare(t *testing.T) {
	h, ctx := newTestHandler(t, "latency")
	defer ctx.Shutdown()
	defer h.Release()

	hostCfg, err := config.NewHostConfig(256, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, h.Prepare(hostCfg))

	assert.GreaterOrEqual(t, h.GetLatency(0), 0)
}

func TestHandlerPrepareWithLatencyOverridesReportedValue(t *testing.T) {
	h, ctx := newTestHandler(t, "custom-latency")
	defer ctx.Shutdown()
	defer h.Release()

	hostCfg, err := config.NewHostConfig(256, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, h.PrepareWithLatency(hostCfg, []int{777}))

	assert.Equal(t, 777, h.GetLatency(0))
}

func TestHandlerSetNonRealtimeDoesNotBlockConstruction(t *testing.T) {
	h, ctx := newTestHandler(t, "non-realtime")
	defer ctx.Shutdown()
	defer h.Release()

	h.SetNonRealtime(true)
	h.SetNonRealtime(false)
}

func TestHandlerSetInferenceBackendRejectsUndeclaredTag(t *testing.T) {
	h, ctx := newTestHandler(t, "backend-switch")
	defer ctx.Shutdown()
	defer h.Release()

	assert.Equal(t, backend.CUSTOM, h.GetInferenceBackend())
	require.Error(t, h.SetInferenceBackend(backend.ONNX))
	assert.Equal(t, backend.CUSTOM, h.GetInferenceBackend())
}

func TestHandlerResetClearsWithoutError(t *testing.T) {
	h, ctx := newTestHandler(t, "reset")
	defer ctx.Shutdown()
	defer h.Release()

	hostCfg, err := config.NewHostConfig(256, 48000, false, 0)
	require.NoError(t, err)
	require.NoError(t, h.Prepare(hostCfg))
	assert.NoError(t, h.Reset())
}
