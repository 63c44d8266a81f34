//go:build darwin

// Package sherpa re-exports the platform-specific sherpa-onnx Voice
// Activity Detector bindings this module's backend/sherpavad package
// builds a Backend on top of. See sherpa_linux.go for why only the VAD
// surface survives from the teacher's original re-export files.
package sherpa

import impl "github.com/k2-fsa/sherpa-onnx-go-macos"

type VoiceActivityDetector = impl.VoiceActivityDetector
type VadModelConfig = impl.VadModelConfig
type SpeechSegment = impl.SpeechSegment

var NewVoiceActivityDetector = impl.NewVoiceActivityDetector
var DeleteVoiceActivityDetector = impl.DeleteVoiceActivityDetector

// DefaultProvider returns "coreml": macOS builds always get Apple Neural
// Engine acceleration through ONNX Runtime's CoreML execution provider.
func DefaultProvider() string {
	return "coreml"
}

// AvailableProviders returns the list of providers this platform build
// supports.
func AvailableProviders() []string {
	return []string{"cpu", "coreml"}
}

// HasNvidiaGPU always returns false: NVIDIA GPUs are not supported on
// macOS.
func HasNvidiaGPU() bool {
	return false
}
