package config

import "fmt"

// HostConfig describes the host side of one session's prepare call: spec.md
// §3's HostConfig plus the optional host-donated-thread callback spec.md §6
// and §9 describe as "an optional callback on the host config".
type HostConfig struct {
	BufferSize          float64 // host samples per audio callback; may be fractional
	SampleRate          float64
	AllowSmallerBuffers bool
	TensorIndex         int // which streaming input tensor BufferSize refers to

	// SubmitTask, when non-nil, lets the session hand inference work to a
	// host-owned thread instead of (or in addition to) the worker pool; see
	// spec.md §4.5, §4.7, §9. A session disables it permanently the first
	// time it returns an error.
	SubmitTask func(n int) error
}

// NewHostConfig validates and builds a HostConfig.
func NewHostConfig(bufferSize, sampleRate float64, allowSmallerBuffers bool, tensorIndex int) (HostConfig, error) {
	if bufferSize <= 0 {
		return HostConfig{}, fmt.Errorf("config: buffer_size must be > 0, got %v", bufferSize)
	}
	if sampleRate <= 0 {
		return HostConfig{}, fmt.Errorf("config: sample_rate must be > 0, got %v", sampleRate)
	}
	if tensorIndex < 0 {
		return HostConfig{}, fmt.Errorf("config: tensor_index must be >= 0, got %d", tensorIndex)
	}
	return HostConfig{
		BufferSize:          bufferSize,
		SampleRate:          sampleRate,
		AllowSmallerBuffers: allowSmallerBuffers,
		TensorIndex:         tensorIndex,
	}, nil
}
