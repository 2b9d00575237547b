package dispatch_test

import (
	"sync"
	"sync/atomic"

	. "github.com/kansaslabs/dispatch"
	"github.com/kansaslabs/dispatch/api"
)

// testTask is a configurable task fixture registered with test services.
type testTask struct {
	name     string // set a unique name for the test
	handled  int32  // number of times Handle was called
	onHandle func(exec *Execution) (*Bundle, error)
}

func (t *testTask) Name() string {
	if t.name != "" {
		return t.name
	}
	return "test"
}

func (t *testTask) Handle(exec *Execution) (*Bundle, error) {
	atomic.AddInt32(&t.handled, 1)
	if t.onHandle != nil {
		return t.onHandle(exec)
	}
	return nil, nil
}

// recorder implements every callback capability, counting invocations and keeping
// the last delivered payloads. Terminal signals call wg.Done when a group is set.
type recorder struct {
	wg *sync.WaitGroup // concurrency management for tests

	mu                 sync.Mutex
	starts             int
	progresses         int
	successes          int
	failures           int
	cancels            int
	lastProgress       int
	lastReason         int
	lastResult         *Bundle
	lastProgressResult *Bundle

	onSuccess func(result *Bundle) // optional hook invoked inside the callback
}

func (r *recorder) OnStart(result *Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	r.lastResult = result
}

func (r *recorder) OnProgress(progress int, result *Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progresses++
	r.lastProgress = progress
	r.lastProgressResult = result
}

func (r *recorder) OnSuccess(result *Bundle) {
	r.mu.Lock()
	r.successes++
	r.lastResult = result
	hook := r.onSuccess
	r.mu.Unlock()

	if hook != nil {
		hook(result)
	}
	if r.wg != nil {
		r.wg.Done()
	}
}

func (r *recorder) OnFailure(result *Bundle) {
	r.mu.Lock()
	r.failures++
	r.lastResult = result
	r.mu.Unlock()

	if r.wg != nil {
		r.wg.Done()
	}
}

func (r *recorder) OnCancel(result *Bundle) {
	r.mu.Lock()
	r.cancels++
	r.lastResult = result
	r.lastReason, _ = result.GetInt(KeyCancelReason)
	r.mu.Unlock()

	if r.wg != nil {
		r.wg.Done()
	}
}

func (r *recorder) counts() (starts, progresses, successes, failures, cancels int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.progresses, r.successes, r.failures, r.cancels
}

func (r *recorder) last() (progress, reason int, result *Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastProgress, r.lastReason, r.lastResult
}

// successOnly exposes a single callback capability so other signal kinds are
// silently dropped.
type successOnly struct {
	hits int32
}

func (s *successOnly) OnSuccess(result *Bundle) { atomic.AddInt32(&s.hits, 1) }

// noCapabilities implements nothing the receiver can route to.
type noCapabilities struct{}

// testBackend captures accepted envelopes and cancellation requests.
type testBackend struct {
	mu       sync.Mutex
	accepted []*api.Envelope
	kinds    []SubmissionKind
	cancels  int
}

func (b *testBackend) Accept(env *api.Envelope, kind SubmissionKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accepted = append(b.accepted, env)
	b.kinds = append(b.kinds, kind)
	return nil
}

func (b *testBackend) Cancel(id int64, groupID, reason int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels++
	return nil
}

func (b *testBackend) lastAccepted() (*api.Envelope, SubmissionKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.accepted) == 0 {
		return nil, Queued
	}
	return b.accepted[len(b.accepted)-1], b.kinds[len(b.kinds)-1]
}
