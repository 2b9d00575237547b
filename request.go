package dispatch

import (
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/kansaslabs/x/out"
)

// requestState is the two-state machine a request moves through: every mutator is
// guarded by the building state and the single transition to frozen happens on the
// first submission attempt.
type requestState uint8

const (
	stateBuilding requestState = iota
	stateFrozen
)

// Request collects the configuration of one asynchronous unit of work: the task type
// to run, its arguments, a cancellation group, callback handlers and the backend that
// should execute it. A request is mutable until it is queued or executed, frozen
// afterwards. Requests are not safe for concurrent configuration; they are owned by
// the building caller until submission hands them off to the backend.
type Request struct {
	taskType       string
	id             int64
	args           *Bundle
	groupID        int
	receiver       *Receiver
	backendRef     string
	backendSet     bool
	manager        Registry
	allowAnyThread bool
	strict         bool
	state          requestState
}

// lastID backs the id generator. Ids derive from the high-resolution clock but are
// forced strictly increasing so two requests created in one clock tick still differ.
var lastID int64

func nextID() int64 {
	for {
		id := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastID)
		if id <= last {
			id = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastID, last, id) {
			return id
		}
	}
}

// New creates a dispatch request for the named task type, ready to be queued or
// executed. Configure it by adding arguments, setting a group id, or binding
// callbacks before submitting it to a host.
func New(taskType string) (*Request, error) {
	if taskType == "" {
		return nil, Errorf(ErrMissingTaskType, "no task type provided")
	}
	return &Request{taskType: taskType, id: nextID(), backendRef: StandardBackend}, nil
}

// checkBuilding guards every mutator; configuration is only legal before the first
// submission attempt.
func (r *Request) checkBuilding() error {
	if r.state == stateFrozen {
		return Errorf(ErrAlreadyFrozen, "request %d has already been queued or executed", r.id)
	}
	return nil
}

// freeze performs the one building to frozen transition.
func (r *Request) freeze() error {
	if r.state == stateFrozen {
		return Errorf(ErrAlreadySubmitted, "request %d was already queued or executed", r.id)
	}
	r.state = stateFrozen
	return nil
}

// Args sets the arguments needed to run the task.
func (r *Request) Args(args *Bundle) error {
	if err := r.checkBuilding(); err != nil {
		return err
	}
	r.args = args
	return nil
}

// Group assigns a cancellation group to the request. Group ids can be shared by
// several requests even if their task types differ; cancelling by group cancels
// and/or removes from the queue every task created with that group.
func (r *Request) Group(groupID int) error {
	if err := r.checkBuilding(); err != nil {
		return err
	}
	if groupID <= 0 {
		return Errorf(ErrInvalidGroup, "group id must be greater than zero")
	}
	r.groupID = groupID
	return nil
}

// AllowCallbacksAnywhere lets this request bind and receive callbacks on goroutines
// other than the designated main loop. The opt-in is one-way: once set it cannot be
// revoked, and it must be set before binding callbacks off the primary thread.
func (r *Request) AllowCallbacksAnywhere() error {
	if err := r.checkBuilding(); err != nil {
		return err
	}
	r.allowAnyThread = true
	return nil
}

// StrictCallbacks makes the receiver log signals that no bound handler matches.
// Dropped signals are never errors; this only surfaces them for debugging.
func (r *Request) StrictCallbacks() error {
	if err := r.checkBuilding(); err != nil {
		return err
	}
	r.strict = true
	return nil
}

// Callback binds the handler objects whose capabilities receive this task's result
// signals. It can be called at most once per request and, unless
// AllowCallbacksAnywhere was called first, only from the primary thread. The
// affinity check runs before any binding so a rejected call leaves no partial state.
func (r *Request) Callback(handlers ...interface{}) error {
	if err := r.checkBuilding(); err != nil {
		return err
	}
	if len(handlers) == 0 {
		return Errorf(ErrNoCallbacks, "you must pass at least one callback handler")
	}
	if r.receiver != nil {
		return Errorf(ErrCallbackRebind, "callbacks can only be bound once")
	}
	if !r.allowAnyThread && !onPrimaryThread() {
		return Errorf(ErrThreadAffinity,
			"callbacks can only be bound on the primary thread; call AllowCallbacksAnywhere first to handle callbacks elsewhere")
	}

	receiver, err := newReceiver(r.taskType, handlers...)
	if err != nil {
		return err
	}
	r.receiver = receiver
	return nil
}

// Backend overrides the backend that executes this request. The standard backend is
// implicit and cannot be set explicitly, and the override can happen at most once.
func (r *Request) Backend(ref string) error {
	if err := r.checkBuilding(); err != nil {
		return err
	}
	if ref == StandardBackend {
		return Errorf(ErrInvalidBackend, "this method sets a different backend implementation; the standard backend is implicit")
	}
	if ref == "" {
		return Errorf(ErrInvalidBackend, "backend reference cannot be empty")
	}
	if r.backendSet {
		return Errorf(ErrInvalidBackend, "backend can only be overridden once")
	}
	r.backendRef = ref
	r.backendSet = true
	return nil
}

// Manager attaches an external callbacks registry; the task handler produced at
// submission is registered with it so a lifecycle owner can detach or cancel in
// bulk later.
func (r *Request) Manager(m Registry) error {
	if err := r.checkBuilding(); err != nil {
		return err
	}
	r.manager = m
	return nil
}

// Queue submits the request behind previously queued work on its backend. The
// request freezes and a handler for cancellation and tracking is returned.
func (r *Request) Queue(host *Host) (TaskHandler, error) {
	return r.submit(host, Queued)
}

// Execute submits the request for immediate execution on its backend. The request
// freezes and a handler for cancellation and tracking is returned.
func (r *Request) Execute(host *Host) (TaskHandler, error) {
	return r.submit(host, Immediate)
}

// submit finalizes the request: freeze, build the handler, register it with the
// manager and receiver, encode the envelope and hand it to the host. Submission
// never waits on execution, only on the host's acceptance call.
func (r *Request) submit(host *Host, kind SubmissionKind) (TaskHandler, error) {
	if host == nil {
		return nil, Errorf(ErrUnknownBackend, "no host provided")
	}
	if err := r.freeze(); err != nil {
		return nil, err
	}

	handler := &taskHandler{
		id:         r.id,
		taskType:   r.taskType,
		kind:       kind,
		backendRef: r.backendRef,
		host:       host,
	}

	if r.manager != nil {
		r.manager.Register(handler)
	}

	if r.receiver != nil {
		r.receiver.allowAnyThread = r.allowAnyThread
		r.receiver.strict = r.strict
		r.receiver.setListener(handler)
		registerReceiver(r.id, r.receiver)
	}

	env, err := Encode(r)
	if err != nil {
		return nil, err
	}
	if err = host.dispatch(r.backendRef, env, kind); err != nil {
		if r.receiver != nil {
			dropReceiver(r.id)
		}
		return nil, err
	}

	out.Debug("submitted %s task %d (%s)", r.taskType, r.id, kind)
	return handler, nil
}

// ID returns the request's unique id, generated when the request was created.
func (r *Request) ID() int64 { return r.id }

// TaskType returns the reference of the task implementation this request runs.
func (r *Request) TaskType() string { return r.taskType }

// GroupID returns the cancellation group, 0 when ungrouped.
func (r *Request) GroupID() int { return r.groupID }

// Arguments returns the input arguments of the request, nil when none were set.
func (r *Request) Arguments() *Bundle { return r.args }

// BackendRef returns the reference of the backend that will execute the request.
func (r *Request) BackendRef() string { return r.backendRef }

// Frozen reports whether the request has already been submitted.
func (r *Request) Frozen() bool { return r.state == stateFrozen }

// AllowsCallbacksAnywhere reports whether off-thread callback delivery was enabled.
func (r *Request) AllowsCallbacksAnywhere() bool { return r.allowAnyThread }

// Equal reports whether two requests refer to the same unit of work. Identity is
// the (task type, id) pair; no other field participates.
func (r *Request) Equal(other *Request) bool {
	return other != nil && r.id == other.id && r.taskType == other.taskType
}

// Hash returns a hash consistent with Equal: it covers the task type and id only.
func (r *Request) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(r.taskType))
	var buf [8]byte
	for i := uint(0); i < 8; i++ {
		buf[i] = byte(uint64(r.id) >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

// String returns a loggable representation of the request.
func (r *Request) String() string {
	return fmt.Sprintf("dispatch.Request{taskType: %s, id: %d, group: %d, backend: %s}", r.taskType, r.id, r.groupID, r.backendRef)
}
