package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kansaslabs/dispatch/api"
	"github.com/kansaslabs/x/out"
	"github.com/pborman/uuid"
)

// NewService creates the standard in-process backend with the specified config and
// registers the specified task implementations. If a task cannot be registered or
// the config is invalid an error is returned.
func NewService(config *Config, tasks ...Task) (s *Service, err error) {
	if config == nil {
		config = new(Config)
	}

	// Validate the configuration
	if err = config.Validate(); err != nil {
		return nil, err
	}
	config.setLogLevel()
	config.setCautionThreshold()

	// Create the service instance
	s = &Service{
		config:     config,
		queue:      make(chan queued, config.QueueSize),
		workers:    make([]*worker, 0, config.Workers),
		tasks:      make(map[string]Task),
		running:    make(map[int64]*runningTask),
		pending:    make(map[int64]struct{}),
		idMarks:    make(map[int64]int),
		groupMarks: make(map[int]groupMark),
		done:       make(chan struct{}),
	}

	// Register the tasks on the service
	for _, task := range tasks {
		if err = s.Register(task); err != nil {
			return nil, err
		}
	}

	// Create the workers and start them
	if err = s.AddWorkers(config.Workers); err != nil {
		return nil, err
	}

	return s, nil
}

// Service is the standard execution backend: a stateless in-process task queue that
// accepts serialized request envelopes, manages workers to handle each queued task
// in the order it was received, runs immediate submissions on their own goroutines,
// and emits result signals back through the caller's receivers. Task
// implementations must be registered before their envelopes can be accepted.
type Service struct {
	sync.RWMutex                        // service concurrency control for workers, registration and cancellation
	config       *Config                // the service configuration
	queue        chan queued            // the submission queue that workers are operating on
	workers      []*worker              // the workers that are currently operating on the queue
	tasks        map[string]Task        // all currently registered task implementations
	running      map[int64]*runningTask // tasks currently being executed, for cancellation
	pending      map[int64]struct{}     // ids accepted but not yet picked up by a worker
	idMarks      map[int64]int          // ids cancelled while still queued, mapped to the cancel reason
	groupMarks   map[int]groupMark      // groups cancelled with the queue watermark at cancel time
	allMark      *groupMark             // watermark of a cancel-everything request
	seq          uint64                 // submission sequence for cancellation watermarks (atomic)
	done         chan struct{}          // closed on shutdown to release Listen
	shutdown     sync.Once
}

// queued wraps an accepted envelope with its submission sequence number; the
// sequence lets group cancellation remove work that was queued before the cancel
// without touching later submissions.
type queued struct {
	env *api.Envelope
	seq uint64
}

// runningTask tracks one executing task for cancellation by id or group.
type runningTask struct {
	groupID int
	cancel  func()
	reason  int32 // atomic, the cancel reason delivered to callbacks
}

type groupMark struct {
	seq    uint64
	reason int
}

// Register a task implementation with the service.
func (s *Service) Register(task Task) (err error) {
	s.Lock()
	defer s.Unlock()

	// Check to see if a task with this name has already been registered
	if _, ok := s.tasks[task.Name()]; ok {
		return Errorf(ErrTaskAlreadyRegistered, "task named %q has already been registered", task.Name())
	}

	s.tasks[task.Name()] = task
	return nil
}

// Handler is a thread-safe mechanism to fetch a task implementation or check if it exists.
func (s *Service) Handler(taskType string) (task Task, err error) {
	s.RLock()
	defer s.RUnlock()

	var ok bool
	if task, ok = s.tasks[taskType]; !ok {
		return nil, Errorf(ErrTaskNotRegistered, "unknown task %q", taskType)
	}

	return task, nil
}

// Accept implements the Backend interface: it takes ownership of a serialized
// request, queueing it behind pending work or executing it immediately depending on
// the submission kind. Acceptance fails if the envelope's task type has not been
// registered; it never waits on execution itself.
func (s *Service) Accept(env *api.Envelope, kind SubmissionKind) (err error) {
	if env == nil {
		return Errorf(ErrBadEnvelope, "cannot accept a nil envelope")
	}
	if _, err = s.Handler(env.TaskType); err != nil {
		return Errorf(ErrTaskNotRegistered, "could not accept %s", err)
	}

	q := queued{env: env, seq: atomic.AddUint64(&s.seq, 1)}
	pmTasksAccepted.WithLabelValues(env.TaskType, kind.String()).Inc()

	s.Lock()
	s.pending[env.ID] = struct{}{}
	s.Unlock()

	if kind == Immediate {
		go s.execute(q)
		return nil
	}

	s.queue <- q
	return nil
}

// Cancel implements the Backend interface: a best-effort cancellation by id and/or
// group. Running matches get their execution context cancelled; matches still in
// the queue are skipped when a worker reaches them. Unknown, finished, or already
// cancelled tasks are safe no-ops.
func (s *Service) Cancel(id int64, groupID, reason int) error {
	s.Lock()
	defer s.Unlock()

	// Only mark ids still waiting for a worker; cancels for unknown or finished
	// tasks must not accumulate state.
	if id > 0 {
		if _, waiting := s.pending[id]; waiting {
			s.idMarks[id] = reason
		}
	}
	if groupID > 0 {
		s.groupMarks[groupID] = groupMark{seq: atomic.LoadUint64(&s.seq), reason: reason}
	}

	for rid, rt := range s.running {
		if rid == id || (groupID > 0 && rt.groupID == groupID) {
			atomic.StoreInt32(&rt.reason, int32(reason))
			rt.cancel()
		}
	}
	return nil
}

// CancelGroup cancels every queued and running task created with the given group.
func (s *Service) CancelGroup(groupID, reason int) error {
	if groupID <= 0 {
		return Errorf(ErrInvalidGroup, "group id must be greater than zero")
	}
	return s.Cancel(0, groupID, reason)
}

// CancelAll cancels everything currently queued or running on the service.
func (s *Service) CancelAll(reason int) error {
	s.Lock()
	defer s.Unlock()

	s.allMark = &groupMark{seq: atomic.LoadUint64(&s.seq), reason: reason}
	for _, rt := range s.running {
		atomic.StoreInt32(&rt.reason, int32(reason))
		rt.cancel()
	}
	return nil
}

// cancelledWhileQueued checks whether the submission was cancelled between
// acceptance and execution, consuming the id mark if one matches. The submission
// leaves the pending set here, so later cancels by id become no-ops.
func (s *Service) cancelledWhileQueued(q queued) (reason int, ok bool) {
	s.Lock()
	defer s.Unlock()

	delete(s.pending, q.env.ID)
	if reason, ok = s.idMarks[q.env.ID]; ok {
		delete(s.idMarks, q.env.ID)
		return reason, true
	}
	if s.allMark != nil && q.seq <= s.allMark.seq {
		return s.allMark.reason, true
	}
	if gm, found := s.groupMarks[int(q.env.GroupID)]; found && q.env.GroupID > 0 && q.seq <= gm.seq {
		return gm.reason, true
	}
	return 0, false
}

func (s *Service) track(id int64, rt *runningTask) {
	s.Lock()
	s.running[id] = rt
	s.Unlock()
}

func (s *Service) untrack(id int64) {
	s.Lock()
	delete(s.running, id)
	s.Unlock()
}

// SetWorkers to the specified number of workers. Does nothing if n == number of workers
// that are running. Adds workers if n > number of workers and removes workers if
// n > number of workers.
func (s *Service) SetWorkers(n int) (err error) {
	if n < 0 {
		return Errorf(ErrInvalidWorkers, "cannot set number of workers <0")
	}

	var stopped []*worker

	s.Lock()
	nworkers := len(s.workers)
	if n > nworkers {
		err = s.addWorkers(n - nworkers)
	} else if n < nworkers {
		stopped, err = s.popWorkers(nworkers - n)
	}
	s.Unlock()

	if err != nil {
		return err
	}
	stopWorkers(stopped)
	return nil
}

// AddWorkers to process tasks. Note that this is thread-safe but does start go routines.
func (s *Service) AddWorkers(n int) (err error) {
	s.Lock()
	defer s.Unlock()
	return s.addWorkers(n)
}

// add workers, not thread-safe
func (s *Service) addWorkers(n int) (err error) {
	if n == 0 {
		return nil
	} else if n < 0 {
		return Errorf(ErrInvalidWorkers, "cannot add negative workers, use RemoveWorkers")
	}

	for i := 0; i < n; i++ {
		w := &worker{id: uuid.NewRandom(), parent: s, stop: make(chan bool)}
		s.workers = append(s.workers, w)
		go w.run()
	}

	pmWorkers.Set(float64(len(s.workers)))
	return nil
}

// RemoveWorkers by stopping them gracefully after they've completed the given task.
func (s *Service) RemoveWorkers(n int) (err error) {
	var stopped []*worker

	s.Lock()
	stopped, err = s.popWorkers(n)
	s.Unlock()

	if err != nil {
		return err
	}
	stopWorkers(stopped)
	return nil
}

// popWorkers truncates the worker list, returning the popped workers so that the
// caller can signal them once the service lock is released. Not thread-safe. A busy
// worker needs the lock to untrack its task, so stopping must never happen under it.
func (s *Service) popWorkers(n int) (popped []*worker, err error) {
	if n > len(s.workers) {
		return nil, Errorf(ErrInvalidWorkers, "cannot remove %d workers, only %d currently running", n, len(s.workers))
	} else if n == 0 {
		return nil, nil
	} else if n < 0 {
		return nil, Errorf(ErrInvalidWorkers, "cannot remove negative workers, use AddWorkers")
	}

	w := len(s.workers) - n
	popped = make([]*worker, n)
	copy(popped, s.workers[w:])
	for i := w; i < len(s.workers); i++ {
		s.workers[i] = nil // delete the worker
	}
	s.workers = s.workers[:w] // truncate the workers list

	pmWorkers.Set(float64(len(s.workers)))
	return popped, nil
}

// stopWorkers waits for each popped worker to finish the task it is on and stop.
func stopWorkers(workers []*worker) {
	for _, w := range workers {
		w.stop <- true
	}
}

// NumWorkers returns the number of currently running workers
func (s *Service) NumWorkers() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.workers)
}

// Listen runs the prometheus metrics server and blocks until Shutdown is called.
// Workers are already processing by the time Listen runs; hosts that embed the
// service in a larger program do not need to call it.
func (s *Service) Listen() (err error) {
	if !s.config.SuppressMetrics {
		if err = registerMetrics(); err != nil {
			return fmt.Errorf("could not register prometheus metrics: %s", err)
		}
		go serveMetrics(s.config.MetricsAddr)
	}

	out.Status("dispatch service running with %d workers", s.NumWorkers())
	<-s.done
	return nil
}

// Shutdown the service gracefully: stop all workers after the tasks they are on
// complete and release Listen. Envelopes still in the queue are not processed.
func (s *Service) Shutdown() (err error) {
	s.shutdown.Do(func() {
		err = s.SetWorkers(0)
		close(s.done)
	})
	return err
}

// result builds the payload delivered with a signal: the task's own result keys (if
// any) plus the reserved task id and original arguments keys.
func (s *Service) result(env *api.Envelope, base *Bundle) *Bundle {
	if base == nil {
		base = NewBundle()
	}
	base.PutInt64(KeyTaskID, env.ID)
	if env.Args != nil {
		if orig, err := DecodeBundle(env.Args); err == nil {
			base.PutBundle(KeyOriginalArgs, orig)
		}
	}
	return base
}

// emit routes a signal back to the caller-side receiver, skipping the registry
// lookup entirely when the request bound no callbacks.
func (s *Service) emit(env *api.Envelope, sig Signal, payload *Bundle) {
	if !env.HasReceiver {
		return
	}
	DeliverSignal(env.ID, sig, payload)
}
