//go:build !sherpa

package main

import "github.com/nnrt/audiosched/internal/backend"

// maybeRegisterSherpa is a no-op in builds without -tags sherpa; see
// backends_sherpa.go for the real registration.
func maybeRegisterSherpa(pool *backend.Pool, sampleRate int) bool {
	return false
}
