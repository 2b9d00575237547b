package dispatch_test

import (
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/kansaslabs/dispatch"
	"github.com/stretchr/testify/require"
)

func TestManagerTracking(t *testing.T) {
	backend := &testBackend{}
	host := NewHost(backend)
	manager := NewCallbacksManager()

	for i := 0; i < 3; i++ {
		req, err := New("tracked")
		require.NoError(t, err)
		require.NoError(t, req.AllowCallbacksAnywhere())
		require.NoError(t, req.Manager(manager))
		require.NoError(t, req.Callback(&recorder{}))

		_, err = req.Queue(host)
		require.NoError(t, err)
	}

	handlers := manager.Handlers()
	require.Len(t, handlers, 3)
	for _, handler := range handlers {
		require.Equal(t, "tracked", handler.TaskType())
		require.False(t, handler.Finished())
	}

	// Bulk cancellation reaches every tracked task through its backend.
	manager.CancelAll(4)
	backend.mu.Lock()
	cancels := backend.cancels
	backend.mu.Unlock()
	require.Equal(t, 3, cancels)
}

func TestManagerCancelAll(t *testing.T) {
	wg := new(sync.WaitGroup)
	started := make(chan struct{}, 2)

	task := &testTask{name: "longhaul", onHandle: func(exec *Execution) (*Bundle, error) {
		started <- struct{}{}
		<-exec.Done()
		return nil, nil
	}}

	svc, err := NewService(&Config{Workers: 2, SuppressMetrics: true}, task)
	require.NoError(t, err)
	defer svc.Shutdown()
	host := NewHost(svc)

	manager := NewCallbacksManager()
	rec := &recorder{wg: wg}
	wg.Add(2)

	for i := 0; i < 2; i++ {
		req, err := New("longhaul")
		require.NoError(t, err)
		require.NoError(t, req.AllowCallbacksAnywhere())
		require.NoError(t, req.Manager(manager))
		require.NoError(t, req.Callback(rec))

		_, err = req.Queue(host)
		require.NoError(t, err)
	}

	<-started
	<-started
	manager.CancelAll(6)
	wg.Wait()

	_, _, _, _, cancels := rec.counts()
	require.Equal(t, 2, cancels)
	_, reason, _ := rec.last()
	require.Equal(t, 6, reason)
	for _, handler := range manager.Handlers() {
		require.True(t, handler.Finished())
	}
}

func TestManagerDetach(t *testing.T) {
	backend := &testBackend{}
	host := NewHost(backend)
	manager := NewCallbacksManager()

	handler := &successOnly{}
	req, err := New("detached")
	require.NoError(t, err)
	require.NoError(t, req.AllowCallbacksAnywhere())
	require.NoError(t, req.Manager(manager))
	require.NoError(t, req.Callback(handler))

	_, err = req.Queue(host)
	require.NoError(t, err)
	require.Len(t, manager.Handlers(), 1)

	manager.Detach()
	require.Empty(t, manager.Handlers())

	// Signals destined for the detached task fall on the floor.
	DeliverSignal(req.ID(), SignalSuccess, NewBundle())
	require.Equal(t, int32(0), atomic.LoadInt32(&handler.hits))
}
