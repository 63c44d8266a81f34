// Package config implements the immutable-once-constructed InferenceConfig
// and HostConfig data model of spec.md §3: validated at construction,
// compared by value for backend-instance sharing (§4.8), and otherwise
// read-only for the lifetime of a session.
//
// Grounded on the teacher's flat-struct-plus-validating-constructor shape
// (internal/config/config.go's ParseFlags), generalized from CLI-flag
// parsing to direct struct construction since there is no config *file*
// format in scope (spec.md §1).
package config

import "github.com/nnrt/audiosched/internal/backend"

// ModelData is one entry of InferenceConfig's model_data[]: the payload for
// a single backend tag, either embedded bytes or a filesystem path.
type ModelData struct {
	Tag        backend.Tag
	EntryPoint string // optional named entry point within the payload
	Embedded   bool   // true if Bytes holds the model, false if Path does
	Bytes      []byte
	Path       string
}
