package dispatch

// Task specifies the interface for work-item implementations registered with the
// standard backend service. The task type reference carried by a request is the
// task's name; behavior lives entirely on this side of the boundary. Handle may be
// called from multiple worker goroutines concurrently and must be thread safe. A
// nil result bundle is fine; the reserved keys are added to the delivered payload
// either way.
type Task interface {
	Name() string                                       // unique name for the task type
	Handle(exec *Execution) (result *Bundle, err error) // run the task; exec.Done fires on cancellation
}

// Execution exposes the inputs of one running task to its Handle method along with
// a progress channel back to the caller's callbacks.
type Execution struct {
	id      int64
	groupID int
	args    *Bundle
	done    <-chan struct{}
	report  func(progress int)
}

// ID returns the id of the request being executed.
func (e *Execution) ID() int64 { return e.id }

// GroupID returns the cancellation group of the request, 0 when ungrouped.
func (e *Execution) GroupID() int { return e.groupID }

// Args returns the request's input arguments, nil when none were set.
func (e *Execution) Args() *Bundle { return e.args }

// Done returns a channel that closes when the task is cancelled. Handle
// implementations should watch it during long work and return promptly.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Cancelled reports whether the task has been cancelled.
func (e *Execution) Cancelled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Progress emits a progress signal to the caller's callbacks with the given value
// under KeyProgress. No-op when the request bound no callbacks.
func (e *Execution) Progress(value int) {
	if e.report != nil {
		e.report(value)
	}
}
