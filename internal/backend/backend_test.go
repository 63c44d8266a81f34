package backend

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnrt/audiosched/internal/framebuf"
)

type stubConfig struct {
	key       string
	exclusive bool
}

func (c stubConfig) Tag() Tag                  { return CUSTOM }
func (c stubConfig) CanonicalKey() string      { return c.key }
func (c stubConfig) SessionExclusive() bool    { return c.exclusive }
func (c stubConfig) NumParallelProcessors() int { return 1 }

type stubBackend struct {
	cfg      stubConfig
	prepared int
	released int
}

func (b *stubBackend) Tag() Tag      { return CUSTOM }
func (b *stubBackend) Config() Config { return b.cfg }
func (b *stubBackend) Prepare() error { b.prepared++; return nil }
func (b *stubBackend) Process(inputs, outputs []*framebuf.Buffer, sessionID int) error {
	for i := range outputs {
		outputs[i].CopyFrom(inputs[i])
	}
	return nil
}
func (b *stubBackend) Release() { b.released++ }

func newStubFactory() Factory {
	return func(cfg Config) (Backend, error) {
		return &stubBackend{cfg: cfg.(stubConfig)}, nil
	}
}

func TestPoolSharesInstancesWithEqualNonExclusiveConfig(t *testing.T) {
	p := NewPool()
	p.Register(CUSTOM, newStubFactory())

	cfg := stubConfig{key: "model-a"}
	b1, err := p.Acquire(cfg)
	require.NoError(t, err)
	b2, err := p.Acquire(cfg)
	require.NoError(t, err)

	assert.Same(t, b1, b2, "value-equal non-exclusive configs should share one instance")
}

func TestPoolBuildsSeparateInstancesForDifferentKeys(t *testing.T) {
	p := NewPool()
	p.Register(CUSTOM, newStubFactory())

	b1, err := p.Acquire(stubConfig{key: "model-a"})
	require.NoError(t, err)
	b2, err := p.Acquire(stubConfig{key: "model-b"})
	require.NoError(t, err)

	assert.NotSame(t, b1, b2)
}

func TestPoolBuildsSeparateInstancesForExclusiveConfig(t *testing.T) {
	p := NewPool()
	p.Register(CUSTOM, newStubFactory())

	cfg := stubConfig{key: "model-a", exclusive: true}
	b1, err := p.Acquire(cfg)
	require.NoError(t, err)
	b2, err := p.Acquire(cfg)
	require.NoError(t, err)

	assert.NotSame(t, b1, b2, "session-exclusive configs must never share")
}

func TestPoolReleasesUnderlyingInstanceOnceRefCountReachesZero(t *testing.T) {
	p := NewPool()
	p.Register(CUSTOM, newStubFactory())
	cfg := stubConfig{key: "model-a"}

	b1, err := p.Acquire(cfg)
	require.NoError(t, err)
	b2, err := p.Acquire(cfg)
	require.NoError(t, err)

	p.Release(cfg, b1)
	assert.Equal(t, 0, b2.(*stubBackend).released, "still referenced once")
	p.Release(cfg, b2)
	assert.Equal(t, 1, b2.(*stubBackend).released, "released once refcount hits zero")
}

func TestSubInstancePoolClaimIsExclusive(t *testing.T) {
	pool := NewSubInstancePool([]int{1, 2, 3})

	i1, _ := pool.Claim()
	i2, _ := pool.Claim()
	i3, _ := pool.Claim()
	assert.NotEqual(t, i1, i2)
	assert.NotEqual(t, i2, i3)
	assert.NotEqual(t, i1, i3)

	pool.Release(i1)
	i4, _ := pool.Claim()
	assert.Equal(t, i1, i4, "freed index should be claimable again")
}

func TestSubInstancePoolNeverDoubleClaimsUnderConcurrency(t *testing.T) {
	const n = 4
	pool := NewSubInstancePool(make([]int, n))
	claimedConcurrently := make([]atomic.Int32, n)
	inUse := make([]atomic.Bool, n)
	var doubleClaims atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, _ := pool.Claim()
			if !inUse[idx].CompareAndSwap(false, true) {
				doubleClaims.Add(1)
			}
			claimedConcurrently[idx].Add(1)
			inUse[idx].Store(false)
			pool.Release(idx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), doubleClaims.Load(), "an index was claimed while already in use")

	total := int32(0)
	for i := range claimedConcurrently {
		total += claimedConcurrently[i].Load()
	}
	assert.Equal(t, int32(200), total)
}
