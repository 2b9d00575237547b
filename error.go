package dispatch

import (
	"github.com/kansaslabs/dispatch/api"
)

// Error codes that are common to the dispatch core. All of these represent local,
// synchronous, non-retryable caller errors; the core never retries its own
// operations and never surfaces backend execution errors through these codes.
const (
	ErrUnknown int32 = iota
	ErrInvalidConfig
	ErrMissingTaskType
	ErrAlreadyFrozen
	ErrInvalidGroup
	ErrNoCallbacks
	ErrCallbackRebind
	ErrThreadAffinity
	ErrInvalidBackend
	ErrAlreadySubmitted
	ErrTaskNotRegistered
	ErrTaskAlreadyRegistered
	ErrInvalidWorkers
	ErrUnknownBackend
	ErrBadEnvelope
)

// Errorf is a passthrough to api.Errorf, implemented here to allow for dispatch.Errorf calls.
func Errorf(code int32, format string, a ...interface{}) error {
	return api.Errorf(code, format, a...)
}
