//go:build !onnx

package main

import (
	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/procspec"
)

// maybeRegisterOnnx is a no-op in builds without -tags onnx; see
// backends_onnx.go for the real registration.
func maybeRegisterOnnx(pool *backend.Pool, shape procspec.TensorShape) bool {
	return false
}

// onnxModelPathValue mirrors backends_onnx.go's accessor for builds
// without the onnx tag, where there is no such flag.
func onnxModelPathValue() string { return "" }
