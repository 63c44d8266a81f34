//go:build sherpa

package main

import (
	"flag"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/backend/sherpavad"
)

var (
	sherpaModelPath  = flag.String("sherpa-vad-model", "", "path to a Silero VAD onnx model; registers the custom tag as sherpavad when set")
	sherpaThreshold  = flag.Float64("sherpa-vad-threshold", 0.5, "VAD speech-probability threshold")
	sherpaWindowSize = flag.Int("sherpa-vad-window", 512, "VAD window size in samples")
)

// maybeRegisterSherpa wires the sherpavad VAD backend under the CUSTOM
// tag when this binary is built with -tags sherpa and a model path was
// supplied, overriding whatever else registered CUSTOM.
func maybeRegisterSherpa(pool *backend.Pool, sampleRate int) bool {
	if *sherpaModelPath == "" {
		return false
	}
	pool.Register(backend.CUSTOM, func(cfg backend.Config) (backend.Backend, error) {
		return sherpavad.New(sherpavad.Config{
			Key:                *sherpaModelPath,
			ModelPath:          *sherpaModelPath,
			Threshold:          float32(*sherpaThreshold),
			MinSilenceDuration: 0.1,
			MinSpeechDuration:  0.1,
			WindowSize:         *sherpaWindowSize,
			SampleRate:         sampleRate,
			NumThreads:         1,
		})
	})
	return true
}
