//go:build onnx

package main

import (
	"flag"

	"github.com/nnrt/audiosched/internal/backend"
	"github.com/nnrt/audiosched/internal/backend/onnxrt"
	"github.com/nnrt/audiosched/internal/procspec"
)

var onnxModelPath = flag.String("onnx-model", "", "path to an ONNX model matching -tensor-size; registers the onnx tag when set")

// maybeRegisterOnnx wires the real onnxrt backend when this binary is
// built with -tags onnx and a model path was supplied. It demonstrates
// the registration pattern backend.Factory's doc comment points here
// for: a closure over onnxrt.Config, not a bare reference to onnxrt.New.
func maybeRegisterOnnx(pool *backend.Pool, shape procspec.TensorShape) bool {
	if *onnxModelPath == "" {
		return false
	}
	pool.Register(backend.ONNX, func(cfg backend.Config) (backend.Backend, error) {
		return onnxrt.New(onnxrt.Config{
			Key:        *onnxModelPath,
			ModelPath:  *onnxModelPath,
			InputDims:  shape.InputDims,
			OutputDims: shape.OutputDims,
		})
	})
	return true
}

// onnxModelPathValue exposes the flag value to main.go, which is built
// regardless of the onnx tag and cannot reference *onnxModelPath
// directly.
func onnxModelPathValue() string { return *onnxModelPath }
