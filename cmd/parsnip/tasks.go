package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/kansaslabs/dispatch"
)

// Parsnip is a probabilistic mock task that sleeps for a random duration, reports
// progress as it goes, and may error with a specific probability. This task is
// primarily designed for testing the dispatch service and benchmarking it.
type Parsnip struct {
	name     string
	minDelay time.Duration
	maxDelay time.Duration
	errProb  float64
	steps    int
}

// Name returns the name of the task
func (p *Parsnip) Name() string {
	if p.name != "" {
		return p.name
	}
	return "parsnip"
}

// Handle sleeps for a random amount of time in progress-reporting slices and
// returns an error with some probability.
func (p *Parsnip) Handle(exec *dispatch.Execution) (result *dispatch.Bundle, err error) {
	delay := time.Duration(rand.Int63n(int64(p.maxDelay))) + p.minDelay
	steps := p.steps
	if steps <= 0 {
		steps = 4
	}

	slice := delay / time.Duration(steps)
	for i := 1; i <= steps; i++ {
		select {
		case <-exec.Done():
			return nil, nil
		case <-time.After(slice):
		}
		exec.Progress(i * 100 / steps)
	}

	if rand.Float64() <= p.errProb {
		return nil, fmt.Errorf("task %d errored after %s sleep with %0.2f probability", exec.ID(), delay, p.errProb)
	}

	result = dispatch.NewBundle()
	result.PutInt64("slept_ns", int64(delay))
	return result, nil
}

// printer receives every callback of the demo tasks on the main loop and stops the
// loop once all tasks reached a terminal state. Delivery happens on the loop so the
// counter needs no locking.
type printer struct {
	remaining int
	loop      *dispatch.MainLoop
}

func (p *printer) OnStart(result *dispatch.Bundle) {
	id, _ := result.GetInt64(dispatch.KeyTaskID)
	fmt.Printf("task %d started\n", id)
}

func (p *printer) OnProgress(progress int, result *dispatch.Bundle) {
	id, _ := result.GetInt64(dispatch.KeyTaskID)
	fmt.Printf("task %d at %d%%\n", id, progress)
}

func (p *printer) OnSuccess(result *dispatch.Bundle) {
	id, _ := result.GetInt64(dispatch.KeyTaskID)
	slept, _ := result.GetInt64("slept_ns")
	fmt.Printf("task %d succeeded after %s\n", id, time.Duration(slept))
	p.finish()
}

func (p *printer) OnFailure(result *dispatch.Bundle) {
	id, _ := result.GetInt64(dispatch.KeyTaskID)
	msg, _ := result.GetString(dispatch.KeyCrashMessage)
	fmt.Printf("task %d failed: %s\n", id, msg)
	p.finish()
}

func (p *printer) OnCancel(result *dispatch.Bundle) {
	id, _ := result.GetInt64(dispatch.KeyTaskID)
	reason, _ := result.GetInt(dispatch.KeyCancelReason)
	fmt.Printf("task %d cancelled with reason %d\n", id, reason)
	p.finish()
}

// skip accounts for a task that never made it into the queue.
func (p *printer) skip() { p.finish() }

func (p *printer) finish() {
	p.remaining--
	if p.remaining <= 0 {
		p.loop.Stop()
	}
}
