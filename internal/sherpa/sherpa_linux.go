//go:build linux

// Package sherpa re-exports the platform-specific sherpa-onnx Voice
// Activity Detector bindings this module's backend/sherpavad package
// builds a Backend on top of. Only the VAD surface is re-exported: the
// offline-recognizer and TTS aliases the teacher's original
// sherpa_linux.go/sherpa_darwin.go files carried are dropped, since no
// component in this scheduler transcribes or synthesizes speech.
//
// By default, this uses the pre-built CPU-only sherpa-onnx-go-linux
// package. For CUDA/GPU support on Linux, build sherpa-onnx from source
// with GPU support enabled and keep its version in sync with the
// sherpa-onnx-go-linux version above.
package sherpa

import (
	"os"

	impl "github.com/k2-fsa/sherpa-onnx-go-linux"
)

// VoiceActivityDetector and its configuration/result types, re-exported so
// backend/sherpavad doesn't import the platform-specific package directly.
type VoiceActivityDetector = impl.VoiceActivityDetector
type VadModelConfig = impl.VadModelConfig
type SpeechSegment = impl.SpeechSegment

var NewVoiceActivityDetector = impl.NewVoiceActivityDetector
var DeleteVoiceActivityDetector = impl.DeleteVoiceActivityDetector

// DefaultProvider returns the recommended ONNX Runtime execution provider
// for this platform: "cuda" when an NVIDIA GPU is detected, "cpu"
// otherwise.
func DefaultProvider() string {
	if HasNvidiaGPU() {
		return "cuda"
	}
	return "cpu"
}

// AvailableProviders returns the list of providers this platform build
// supports.
func AvailableProviders() []string {
	return []string{"cpu", "cuda"}
}

// HasNvidiaGPU checks for NVIDIA GPU availability on Linux, including
// Jetson SOC devices (Nano, Orin, AGX, etc.), which expose the GPU
// through a different device set than discrete cards.
func HasNvidiaGPU() bool {
	nvidiaSmiPaths := []string{
		"/usr/bin/nvidia-smi",
		"/usr/local/bin/nvidia-smi",
		"/opt/nvidia/bin/nvidia-smi",
	}
	for _, path := range nvidiaSmiPaths {
		if fileExists(path) {
			return true
		}
	}

	if fileExists("/dev/nvidia0") {
		return true
	}

	jetsonIndicators := []string{
		"/dev/nvhost-gpu",
		"/dev/nvhost-ctrl-gpu",
		"/dev/nvmap",
		"/etc/nv_tegra_release",
		"/sys/devices/gpu.0",
		"/sys/devices/17000000.ga10b",
		"/sys/devices/17000000.gv11b",
	}
	for _, path := range jetsonIndicators {
		if fileExists(path) {
			return true
		}
	}

	if data, err := os.ReadFile("/proc/device-tree/compatible"); err == nil {
		compatible := string(data)
		if contains(compatible, "nvidia,tegra") || contains(compatible, "nvidia,jetson") {
			return true
		}
	}

	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > 0 && len(substr) > 0 && findSubstring(s, substr)))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
