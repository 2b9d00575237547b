/*
Package dispatch is a task-dispatch descriptor and callback-binding protocol. Callers
assemble an asynchronous unit of work as a Request, attach typed arguments, bind a
group id for later bulk cancellation, and register callback handlers to be invoked on
completion, failure, cancellation, or progress. Submitting the request freezes it,
serializes it into a transport envelope and hands it to an execution backend resolved
through a Host, either queued behind pending work or for immediate execution. Results
are routed back through the bound callback receiver, on the designated primary
goroutine by default. A complete in-process backend (the Service) is included so the
whole protocol can be exercised without any external host.
*/
package dispatch

import "github.com/kansaslabs/dispatch/api"

// PackageVersion of the current dispatch release, for the CLI and user agents.
const PackageVersion = "0.1.0"

// Well-known argument keys. Result bundles delivered to callbacks carry these keys
// alongside any caller-defined keys; no other keys are reserved.
const (
	// KeyProgress holds the progress of a running task as an int.
	KeyProgress = "dispatch.key.PROGRESS"

	// KeyCrashMessage holds the error message of a failed task as a string.
	KeyCrashMessage = "dispatch.key.ERROR"

	// KeyTaskID holds the id of the originating request as an int64. Every callback
	// can read it; the id is generated when the request is created.
	KeyTaskID = "dispatch.key.TASK_ID"

	// KeyCancelReason holds the reason a task was cancelled as an int.
	KeyCancelReason = "dispatch.key.CANCEL_REASON"

	// KeyOriginalArgs holds the original input arguments as a nested bundle.
	KeyOriginalArgs = "dispatch.key.ORIGINAL_ARGS"
)

// Signal is the category of a delivered result.
type Signal uint8

const (
	SignalStart Signal = iota
	SignalProgress
	SignalSuccess
	SignalFailure
	SignalCancel
)

// String returns a human readable representation of the signal kind.
func (s Signal) String() string {
	switch s {
	case SignalStart:
		return "start"
	case SignalProgress:
		return "progress"
	case SignalSuccess:
		return "success"
	case SignalFailure:
		return "failure"
	case SignalCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// terminal reports whether the signal finishes the task from the caller's view.
func (s Signal) terminal() bool {
	return s == SignalSuccess || s == SignalFailure || s == SignalCancel
}

// SubmissionKind is re-exported from the api package for caller convenience.
type SubmissionKind = api.SubmissionKind

const (
	Queued    = api.SubmissionQueued
	Immediate = api.SubmissionImmediate
)
