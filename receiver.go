package dispatch

import (
	"sync"

	"github.com/kansaslabs/x/out"
)

// Callback capability interfaces. A handler object implements any subset of these;
// the receiver routes each signal kind to every bound handler that declares the
// matching capability. Result bundles always carry KeyTaskID and, when the request
// had input arguments, KeyOriginalArgs.
type (
	// StartCallback is invoked when the backend begins executing the task.
	StartCallback interface {
		OnStart(result *Bundle)
	}

	// ProgressCallback is invoked with the value stored under KeyProgress.
	ProgressCallback interface {
		OnProgress(progress int, result *Bundle)
	}

	// SuccessCallback is invoked when the task completes without error.
	SuccessCallback interface {
		OnSuccess(result *Bundle)
	}

	// FailureCallback is invoked when the task crashes; the result carries the
	// error text under KeyCrashMessage.
	FailureCallback interface {
		OnFailure(result *Bundle)
	}

	// CancelCallback is invoked when the task is cancelled; the result carries the
	// reason under KeyCancelReason.
	CancelCallback interface {
		OnCancel(result *Bundle)
	}
)

// finishListener is notified after a signal has been handled (or dropped). The task
// handler implements it to learn when its task reached a terminal state.
type finishListener interface {
	onDelivered(s Signal, result *Bundle)
}

// Receiver routes result payloads arriving from the execution backend to the
// callbacks bound to its request. The signal table is built once at construction
// and read-only afterwards, so concurrent deliveries need no locking of their own.
type Receiver struct {
	taskType       string
	table          map[Signal][]func(*Bundle)
	allowAnyThread bool // copied from the owning request at submission
	strict         bool // log dropped signals instead of staying silent

	mu       sync.Mutex
	listener finishListener // set once, at submission time
}

// newReceiver builds the signal table from the handler objects. At least one handler
// exposing at least one callback capability is required.
func newReceiver(taskType string, handlers ...interface{}) (*Receiver, error) {
	if len(handlers) == 0 {
		return nil, Errorf(ErrNoCallbacks, "you must pass at least one callback handler")
	}

	r := &Receiver{taskType: taskType, table: make(map[Signal][]func(*Bundle))}
	for _, handler := range handlers {
		matched := false
		if cb, ok := handler.(StartCallback); ok {
			r.table[SignalStart] = append(r.table[SignalStart], cb.OnStart)
			matched = true
		}
		if cb, ok := handler.(ProgressCallback); ok {
			r.table[SignalProgress] = append(r.table[SignalProgress], func(result *Bundle) {
				progress, _ := result.GetInt(KeyProgress)
				cb.OnProgress(progress, result)
			})
			matched = true
		}
		if cb, ok := handler.(SuccessCallback); ok {
			r.table[SignalSuccess] = append(r.table[SignalSuccess], cb.OnSuccess)
			matched = true
		}
		if cb, ok := handler.(FailureCallback); ok {
			r.table[SignalFailure] = append(r.table[SignalFailure], cb.OnFailure)
			matched = true
		}
		if cb, ok := handler.(CancelCallback); ok {
			r.table[SignalCancel] = append(r.table[SignalCancel], cb.OnCancel)
			matched = true
		}
		if !matched {
			return nil, Errorf(ErrNoCallbacks, "handler %T does not implement any callback capability", handler)
		}
	}
	return r, nil
}

// TaskType returns the task type this receiver is scoped to.
func (r *Receiver) TaskType() string { return r.taskType }

func (r *Receiver) setListener(l finishListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// deliver invokes the callbacks bound for the signal and notifies the listener. A
// signal with no bound callbacks is dropped without error; callbacks are opt-in per
// signal kind. Unless the owning request opted in to off-thread delivery, handler
// invocation is marshalled onto the designated main loop when the signal arrives on
// another goroutine. Delivery is eventual, not synchronous.
func (r *Receiver) deliver(s Signal, result *Bundle) {
	callbacks := r.table[s]
	if len(callbacks) == 0 {
		if r.strict {
			out.Warn("no callback bound for %s signal on task %q", s, r.taskType)
		}
		r.notify(s, result)
		return
	}

	invoke := func() {
		for _, callback := range callbacks {
			callback(result)
		}
		r.notify(s, result)
	}

	if !r.allowAnyThread {
		if l := currentMainLoop(); l != nil && !l.IsCurrent() {
			l.Post(invoke)
			return
		}
	}
	invoke()
}

func (r *Receiver) notify(s Signal, result *Bundle) {
	r.mu.Lock()
	listener := r.listener
	r.mu.Unlock()
	if listener != nil {
		listener.onDelivered(s, result)
	}
}

// The receiver registry is the caller-side half of the result handshake: submission
// registers the live receiver under the request id, the envelope crosses the
// boundary carrying only a receiver marker, and signals coming back are resolved
// through the registry. Cross-process hosts substitute their own reattachment here.
var receivers sync.Map // task id (int64) -> *Receiver

func registerReceiver(id int64, r *Receiver) { receivers.Store(id, r) }

func lookupReceiver(id int64) *Receiver {
	if v, ok := receivers.Load(id); ok {
		return v.(*Receiver)
	}
	return nil
}

func dropReceiver(id int64) { receivers.Delete(id) }

// DeliverSignal routes a result payload to the receiver bound to the request id.
// Backends call this once per emitted signal; a missing receiver (no callbacks were
// bound, or the caller detached) drops the signal silently. Terminal signals
// unregister the receiver so late deliveries fade out.
func DeliverSignal(id int64, s Signal, result *Bundle) {
	r := lookupReceiver(id)
	if r == nil {
		out.Debug("no receiver for %s signal on task %d -- dropped", s, id)
		return
	}

	pmSignals.WithLabelValues(r.taskType, s.String()).Inc()
	if s.terminal() {
		dropReceiver(id)
	}
	r.deliver(s, result)
}
