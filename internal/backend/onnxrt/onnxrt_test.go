//go:build onnx

package onnxrt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nnrt/audiosched/internal/backend"
)

// These tests exercise only the parts of onnxrt that don't require a real
// ONNX Runtime shared library on the test machine (New's validation and
// Config's value-equality contract); Prepare/Process need actual model
// bytes and the runtime binary and are exercised by cmd/hostharness
// instead.

func TestNewRejectsMissingModelPayload(t *testing.T) {
	_, err := New(Config{Key: "a"})
	assert.Error(t, err)
}

func TestNewRejectsWrongConfigType(t *testing.T) {
	_, err := New(passthroughLikeConfig{})
	assert.Error(t, err)
}

func TestConfigCanonicalKeyDistinguishesModels(t *testing.T) {
	a := Config{Key: "model-a", ModelBytes: []byte{1}}
	b := Config{Key: "model-b", ModelBytes: []byte{1}}
	assert.NotEqual(t, a.CanonicalKey(), b.CanonicalKey())
}

func TestConfigTagIsONNX(t *testing.T) {
	assert.Equal(t, backend.ONNX, Config{}.Tag())
}

type passthroughLikeConfig struct{}

func (passthroughLikeConfig) Tag() backend.Tag           { return backend.ONNX }
func (passthroughLikeConfig) CanonicalKey() string       { return "x" }
func (passthroughLikeConfig) SessionExclusive() bool     { return false }
func (passthroughLikeConfig) NumParallelProcessors() int { return 1 }
