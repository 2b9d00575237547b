package dispatch_test

import (
	"sync/atomic"
	"testing"

	. "github.com/kansaslabs/dispatch"
	"github.com/stretchr/testify/require"
)

func TestSilentDrop(t *testing.T) {
	backend := &testBackend{}
	host := NewHost(backend)

	// Bind a handler that only understands success signals.
	handler := &successOnly{}
	req, err := New("drop-test")
	require.NoError(t, err)
	require.NoError(t, req.AllowCallbacksAnywhere())
	require.NoError(t, req.Callback(handler))

	th, err := req.Queue(host)
	require.NoError(t, err)
	require.False(t, th.Finished())

	// A failure has no bound callback: it must be dropped without error, but the
	// task handler still learns the task reached a terminal state.
	DeliverSignal(req.ID(), SignalFailure, NewBundle())
	require.True(t, th.Finished())
	require.Equal(t, int32(0), atomic.LoadInt32(&handler.hits))

	// The terminal delivery unregistered the receiver, so even a signal the
	// handler could route now fades out.
	DeliverSignal(req.ID(), SignalSuccess, NewBundle())
	require.Equal(t, int32(0), atomic.LoadInt32(&handler.hits))
}

func TestDeliverWithoutReceiver(t *testing.T) {
	// Signals addressed to tasks that never bound callbacks must vanish quietly.
	DeliverSignal(42, SignalSuccess, NewBundle())
	DeliverSignal(42, SignalCancel, nil)
}

func TestStrictCallbacks(t *testing.T) {
	backend := &testBackend{}
	host := NewHost(backend)

	handler := &successOnly{}
	req, err := New("strict-test")
	require.NoError(t, err)
	require.NoError(t, req.AllowCallbacksAnywhere())
	require.NoError(t, req.StrictCallbacks())
	require.NoError(t, req.Callback(handler))

	th, err := req.Queue(host)
	require.NoError(t, err)

	// Strict mode only logs the drop; delivery semantics are unchanged.
	result := NewBundle()
	result.PutInt(KeyProgress, 50)
	DeliverSignal(req.ID(), SignalProgress, result)
	require.False(t, th.Finished())

	DeliverSignal(req.ID(), SignalSuccess, NewBundle())
	require.True(t, th.Finished())
	require.Equal(t, int32(1), atomic.LoadInt32(&handler.hits))
}

func TestPrimaryThreadDelivery(t *testing.T) {
	loop := NewMainLoop()
	SetMainLoop(loop)
	defer SetMainLoop(nil)
	go loop.Run()
	defer loop.Stop()

	backend := &testBackend{}
	host := NewHost(backend)

	onLoop := make(chan bool, 1)
	rec := &recorder{onSuccess: func(result *Bundle) {
		onLoop <- loop.IsCurrent()
	}}

	req, err := New("affinity-delivery")
	require.NoError(t, err)

	// Bind on the loop so no off-thread opt-in is needed.
	bound := make(chan error, 1)
	loop.Post(func() { bound <- req.Callback(rec) })
	require.NoError(t, <-bound)

	th, err := req.Queue(host)
	require.NoError(t, err)

	// Signal from this goroutine: the callback must be marshalled onto the loop.
	DeliverSignal(req.ID(), SignalSuccess, NewBundle())
	require.True(t, <-onLoop)

	// The finish notification runs on the loop after the callbacks; a marker
	// posted behind the delivery proves it has landed.
	marker := make(chan struct{})
	loop.Post(func() { close(marker) })
	<-marker
	require.True(t, th.Finished())

	_, _, successes, _, _ := rec.counts()
	require.Equal(t, 1, successes)
}
