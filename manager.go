package dispatch

import "sync"

// CallbacksManager is a caller-side registry of task handlers, letting a lifecycle
// owner (a request scope, a UI screen, a test) detach its callbacks or cancel its
// in-flight tasks in one call when it is torn down. Attach one to a request with
// Request.Manager; every handler produced at submission registers itself here.
type CallbacksManager struct {
	mu       sync.Mutex
	handlers []TaskHandler
}

// NewCallbacksManager creates an empty manager.
func NewCallbacksManager() *CallbacksManager {
	return &CallbacksManager{}
}

// Register tracks a handler. Implements the Registry interface consumed by requests.
func (m *CallbacksManager) Register(handler TaskHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()
}

// Handlers returns the currently tracked handlers.
func (m *CallbacksManager) Handlers() []TaskHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskHandler, len(m.handlers))
	copy(out, m.handlers)
	return out
}

// CancelAll issues a cancellation for every tracked task that has not finished.
// Cancellations are fire-and-forget; errors from individual backends are dropped.
func (m *CallbacksManager) CancelAll(reason int) {
	for _, handler := range m.Handlers() {
		handler.Cancel(reason)
	}
}

// Detach unbinds the callbacks of every tracked task and forgets the handlers. Late
// signals for detached tasks are silently dropped, which is the point: callbacks
// must not fire into an owner that no longer exists.
func (m *CallbacksManager) Detach() {
	m.mu.Lock()
	handlers := m.handlers
	m.handlers = nil
	m.mu.Unlock()

	for _, handler := range handlers {
		dropReceiver(handler.ID())
	}
}
