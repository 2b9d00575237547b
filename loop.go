package dispatch

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// MainLoop is a dedicated goroutine that plays the role of an application's primary
// thread: callbacks are marshalled onto it unless the owning request opted in to
// off-thread delivery. Create a loop, designate it with SetMainLoop, and call Run
// from the goroutine that should act as primary (typically from main).
type MainLoop struct {
	funcs chan func()
	done  chan struct{}
	stop  sync.Once

	mu  sync.RWMutex
	gid int64 // goroutine id of the running loop, 0 while not running
}

// NewMainLoop creates a loop ready to be run.
func NewMainLoop() *MainLoop {
	return &MainLoop{
		funcs: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Run executes posted functions in order until Stop is called, then drains anything
// already queued and returns. The calling goroutine becomes the primary thread for
// the duration of the call.
func (l *MainLoop) Run() {
	l.setGID(goroutineID())
	defer l.setGID(0)

	for {
		select {
		case f := <-l.funcs:
			f()
		case <-l.done:
			for {
				select {
				case f := <-l.funcs:
					f()
				default:
					return
				}
			}
		}
	}
}

// Post schedules f to run on the loop. Posts made after Stop are dropped.
func (l *MainLoop) Post(f func()) {
	select {
	case <-l.done:
	case l.funcs <- f:
	}
}

// Stop terminates the loop after it drains already-posted work. Safe to call more
// than once.
func (l *MainLoop) Stop() {
	l.stop.Do(func() { close(l.done) })
}

// IsCurrent reports whether the caller is executing on the loop's goroutine.
func (l *MainLoop) IsCurrent() bool {
	l.mu.RLock()
	gid := l.gid
	l.mu.RUnlock()
	return gid != 0 && gid == goroutineID()
}

func (l *MainLoop) setGID(gid int64) {
	l.mu.Lock()
	l.gid = gid
	l.mu.Unlock()
}

// goroutineID parses the current goroutine's id out of its stack header. There is no
// supported accessor for this; the stack header format is stable across Go releases.
func goroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		if id, err := strconv.ParseInt(string(buf[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

var (
	mainLoopMu sync.RWMutex
	mainLoop   *MainLoop
)

// SetMainLoop designates the loop that acts as the primary thread for callback
// binding and delivery. Passing nil removes the designation, in which case affinity
// checks pass everywhere and callbacks are delivered on the signalling goroutine.
func SetMainLoop(l *MainLoop) {
	mainLoopMu.Lock()
	mainLoop = l
	mainLoopMu.Unlock()
}

func currentMainLoop() *MainLoop {
	mainLoopMu.RLock()
	defer mainLoopMu.RUnlock()
	return mainLoop
}

// onPrimaryThread reports whether the caller may bind callbacks without opting in to
// off-thread delivery.
func onPrimaryThread() bool {
	l := currentMainLoop()
	return l == nil || l.IsCurrent()
}
