package dispatch

import "sync/atomic"

// TaskHandler is the capability token returned after a request is submitted. It
// carries the identity of the originating request and lets the caller cancel or
// track that specific task; it holds no other state and has no lifecycle of its own.
type TaskHandler interface {
	// ID returns the id of the originating request.
	ID() int64

	// TaskType returns the task type reference of the originating request.
	TaskType() string

	// Kind reports whether the request was queued or executed immediately.
	Kind() SubmissionKind

	// Cancel issues a best-effort cancellation of this specific task to the backend
	// and returns without waiting for acknowledgement. Other tasks sharing the
	// request's group are untouched; group-wide cancellation is a backend surface.
	// Cancelling an already finished task, or cancelling twice, is a safe no-op.
	Cancel(reason int) error

	// Finished reports whether a terminal signal has been delivered for the task.
	// It only turns true when a callback receiver was bound; without one no
	// delivery notification ever arrives.
	Finished() bool
}

// Registry is implemented by external lifecycle owners that track task handlers for
// later bulk detachment or cancellation. The core only requires Register; the
// CallbacksManager in this package is a ready-made implementation.
type Registry interface {
	Register(handler TaskHandler)
}

type taskHandler struct {
	id         int64
	taskType   string
	kind       SubmissionKind
	backendRef string
	host       *Host
	finished   int32 // atomic, set by the delivery notification
}

func (h *taskHandler) ID() int64            { return h.id }
func (h *taskHandler) TaskType() string     { return h.taskType }
func (h *taskHandler) Kind() SubmissionKind { return h.kind }

func (h *taskHandler) Cancel(reason int) error {
	if atomic.LoadInt32(&h.finished) == 1 {
		return nil
	}
	// Cancellation through the handler is scoped to this task only, so no group is
	// forwarded even when the originating request had one.
	return h.host.cancel(h.backendRef, h.id, 0, reason)
}

func (h *taskHandler) Finished() bool {
	return atomic.LoadInt32(&h.finished) == 1
}

// onDelivered implements finishListener; the receiver invokes it after every signal
// it handles or drops.
func (h *taskHandler) onDelivered(s Signal, result *Bundle) {
	if s.terminal() {
		atomic.StoreInt32(&h.finished, 1)
	}
}
