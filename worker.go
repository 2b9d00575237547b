package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kansaslabs/x/out"
	"github.com/pborman/uuid"
)

type worker struct {
	id     uuid.UUID // worker identity for logging
	parent *Service  // the parent of the worker that has the submission queue and the registered tasks
	stop   chan bool // gracefully stop the worker, do not process any more tasks
}

func (w *worker) run() {
	out.Debug("worker %s started", w.id)
	for {
		select {
		case <-w.stop:
			out.Debug("worker %s stopped", w.id)
			return
		case q := <-w.parent.queue:

			// Update the queue size and percent full
			pmQueueSize.Set(float64(len(w.parent.queue)))
			pmPercentFull.Set(float64(len(w.parent.queue)) / float64(cap(w.parent.queue)) * 100)

			w.parent.execute(q)
		}
	}
}

// execute runs one accepted submission to completion, emitting start, progress and
// terminal signals through the caller's receiver. Immediate submissions arrive here
// on their own goroutine, queued ones through a worker.
func (s *Service) execute(q queued) {
	env := q.env

	// Skip work that was cancelled while it waited in the queue
	if reason, ok := s.cancelledWhileQueued(q); ok {
		out.Debug("task %d was cancelled while queued -- not processing", env.ID)
		s.emit(env, SignalCancel, s.result(env, nil).PutInt(KeyCancelReason, reason))
		pmTasksCancelled.WithLabelValues(env.TaskType).Inc()
		return
	}

	task, err := s.Handler(env.TaskType)
	if err != nil {
		// Unregistered task: can happen when registration changed after acceptance
		out.Warn("cannot handle unregistered task %q -- not processing %d", env.TaskType, env.ID)
		return
	}

	var args *Bundle
	if env.Args != nil {
		if args, err = DecodeBundle(env.Args); err != nil {
			out.Caution(err.Error())
			s.emit(env, SignalFailure, s.result(env, nil).PutString(KeyCrashMessage, err.Error()))
			pmTasksFailed.WithLabelValues(env.TaskType).Inc()
			return
		}
	}

	// Track the execution so Cancel can reach it by id or group
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt := &runningTask{groupID: int(env.GroupID), cancel: cancel}
	s.track(env.ID, rt)
	defer s.untrack(env.ID)

	exec := &Execution{
		id:      env.ID,
		groupID: int(env.GroupID),
		args:    args,
		done:    ctx.Done(),
		report: func(progress int) {
			s.emit(env, SignalProgress, s.result(env, nil).PutInt(KeyProgress, progress))
		},
	}

	s.emit(env, SignalStart, s.result(env, nil))
	start := time.Now()

	result, err := task.Handle(exec)

	// Compute latency in milliseconds
	latency := float64(time.Since(start)/1000) / 1000.0

	switch {
	case ctx.Err() != nil:
		// Task cancellation
		reason := int(atomic.LoadInt32(&rt.reason))
		out.Debug("cancelled %s task %d with reason %d", env.TaskType, env.ID, reason)
		s.emit(env, SignalCancel, s.result(env, nil).PutInt(KeyCancelReason, reason))

		pmTaskLatency.WithLabelValues(env.TaskType, "cancelled").Observe(latency)
		pmTasksCancelled.WithLabelValues(env.TaskType).Inc()

	case err != nil:
		// Task failure
		out.Caution(err.Error())
		s.emit(env, SignalFailure, s.result(env, nil).PutString(KeyCrashMessage, err.Error()))

		pmTaskLatency.WithLabelValues(env.TaskType, "failed").Observe(latency)
		pmTasksFailed.WithLabelValues(env.TaskType).Inc()

	default:
		// Task success
		out.Debug("finished %s task %d", env.TaskType, env.ID)
		s.emit(env, SignalSuccess, s.result(env, result))

		pmTaskLatency.WithLabelValues(env.TaskType, "succeeded").Observe(latency)
		pmTasksSucceeded.WithLabelValues(env.TaskType).Inc()
	}
}
