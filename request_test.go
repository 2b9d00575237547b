package dispatch_test

import (
	"testing"

	. "github.com/kansaslabs/dispatch"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	_, err := New("")
	require.EqualError(t, err, "[2] no task type provided")

	req, err := New("fixture")
	require.NoError(t, err)
	require.Equal(t, "fixture", req.TaskType())
	require.True(t, req.ID() > 0)
	require.Equal(t, StandardBackend, req.BackendRef())
	require.Equal(t, 0, req.GroupID())
	require.False(t, req.Frozen())
	require.Nil(t, req.Arguments())
}

func TestRequestIdentity(t *testing.T) {
	// Two requests with the same task type but auto-generated ids differ only in id
	// and must not be equal.
	a, err := New("fixture")
	require.NoError(t, err)
	b, err := New("fixture")
	require.NoError(t, err)

	require.NotEqual(t, a.ID(), b.ID())
	require.True(t, b.ID() > a.ID(), "ids should be monotonic within a process")
	require.False(t, a.Equal(b))
	require.False(t, b.Equal(a))
	require.NotEqual(t, a.Hash(), b.Hash())

	// Equality and hashing ignore everything except the (taskType, id) pair.
	require.NoError(t, a.Group(42))
	require.NoError(t, a.Args(NewBundle().PutString("key", "value")))
	require.True(t, a.Equal(a))
	require.Equal(t, a.Hash(), a.Hash())
}

func TestRequestGroup(t *testing.T) {
	req, err := New("fixture")
	require.NoError(t, err)

	require.EqualError(t, req.Group(0), "[4] group id must be greater than zero")
	require.EqualError(t, req.Group(-1), "[4] group id must be greater than zero")
	require.Equal(t, 0, req.GroupID())

	require.NoError(t, req.Group(1))
	require.Equal(t, 1, req.GroupID())
}

func TestRequestBackend(t *testing.T) {
	req, err := New("fixture")
	require.NoError(t, err)

	require.EqualError(t, req.Backend(StandardBackend), "[8] this method sets a different backend implementation; the standard backend is implicit")
	require.EqualError(t, req.Backend(""), "[8] backend reference cannot be empty")
	require.Equal(t, StandardBackend, req.BackendRef())

	require.NoError(t, req.Backend("alternate"))
	require.Equal(t, "alternate", req.BackendRef())

	// The override can only happen once
	require.EqualError(t, req.Backend("another"), "[8] backend can only be overridden once")
	require.Equal(t, "alternate", req.BackendRef())
}

func TestCallbackBinding(t *testing.T) {
	req, err := New("fixture")
	require.NoError(t, err)

	require.EqualError(t, req.Callback(), "[5] you must pass at least one callback handler")
	require.EqualError(t, req.Callback(&noCapabilities{}), "[5] handler *dispatch_test.noCapabilities does not implement any callback capability")

	require.NoError(t, req.Callback(&recorder{}))
	require.EqualError(t, req.Callback(&recorder{}), "[6] callbacks can only be bound once")
}

func TestThreadAffinity(t *testing.T) {
	loop := NewMainLoop()
	SetMainLoop(loop)
	defer SetMainLoop(nil)
	go loop.Run()
	defer loop.Stop()

	// Binding callbacks off the primary thread without opting in must fail before
	// any binding occurs.
	req, err := New("fixture")
	require.NoError(t, err)
	err = req.Callback(&recorder{})
	require.EqualError(t, err, "[7] callbacks can only be bound on the primary thread; call AllowCallbacksAnywhere first to handle callbacks elsewhere")
	require.EqualError(t, req.Callback(&recorder{}), "[7] callbacks can only be bound on the primary thread; call AllowCallbacksAnywhere first to handle callbacks elsewhere")

	// After the opt-in, binding succeeds from any goroutine.
	require.NoError(t, req.AllowCallbacksAnywhere())
	require.NoError(t, req.Callback(&recorder{}))

	// Binding on the loop itself needs no opt-in.
	onLoop, err := New("fixture")
	require.NoError(t, err)
	errs := make(chan error, 1)
	loop.Post(func() { errs <- onLoop.Callback(&recorder{}) })
	require.NoError(t, <-errs)
}

func TestRequestFreeze(t *testing.T) {
	backend := &testBackend{}
	host := NewHost(backend)

	req, err := New("fixture")
	require.NoError(t, err)
	require.NoError(t, req.Group(3))

	handler, err := req.Queue(host)
	require.NoError(t, err)
	require.True(t, req.Frozen())
	require.Equal(t, req.ID(), handler.ID())
	require.Equal(t, req.TaskType(), handler.TaskType())
	require.Equal(t, Queued, handler.Kind())

	// Every mutator must fail once the request is frozen, without altering state
	frozen := func(err error) {
		require.Error(t, err)
		require.Contains(t, err.Error(), "has already been queued or executed")
	}
	frozen(req.Args(NewBundle()))
	frozen(req.Group(9))
	frozen(req.Callback(&recorder{}))
	frozen(req.Backend("alternate"))
	frozen(req.Manager(NewCallbacksManager()))
	frozen(req.AllowCallbacksAnywhere())
	frozen(req.StrictCallbacks())
	require.Equal(t, 3, req.GroupID())
	require.Equal(t, StandardBackend, req.BackendRef())

	// A second submission must not produce a second envelope, in either order
	_, err = req.Execute(host)
	require.Error(t, err)
	require.Contains(t, err.Error(), "was already queued or executed")
	env, kind := backend.lastAccepted()
	require.Len(t, backend.accepted, 1)
	require.Equal(t, Queued, kind)
	require.Equal(t, req.ID(), env.ID)

	// The first handler remains valid after the failed second submission
	require.Equal(t, req.ID(), handler.ID())
	require.NoError(t, handler.Cancel(1))
}

func TestSubmissionKinds(t *testing.T) {
	backend := &testBackend{}
	host := NewHost(backend)

	queued, err := New("fixture")
	require.NoError(t, err)
	qh, err := queued.Queue(host)
	require.NoError(t, err)
	require.Equal(t, Queued, qh.Kind())

	immediate, err := New("fixture")
	require.NoError(t, err)
	ih, err := immediate.Execute(host)
	require.NoError(t, err)
	require.Equal(t, Immediate, ih.Kind())

	require.Len(t, backend.accepted, 2)
	require.Equal(t, []SubmissionKind{Queued, Immediate}, backend.kinds)
}

func TestHostResolution(t *testing.T) {
	standard := &testBackend{}
	alternate := &testBackend{}

	host := NewHost(standard)
	require.EqualError(t, host.Install(StandardBackend, alternate), "[8] backends must be installed under a non-standard reference")
	require.NoError(t, host.Install("alternate", alternate))
	require.EqualError(t, host.Install("alternate", alternate), `[8] a backend is already installed under "alternate"`)

	req, err := New("fixture")
	require.NoError(t, err)
	require.NoError(t, req.Backend("alternate"))
	_, err = req.Queue(host)
	require.NoError(t, err)
	require.Len(t, alternate.accepted, 1)
	require.Len(t, standard.accepted, 0)

	// Unknown backends surface at submission and the request stays frozen
	missing, err := New("fixture")
	require.NoError(t, err)
	require.NoError(t, missing.Backend("nowhere"))
	_, err = missing.Queue(host)
	require.EqualError(t, err, `[13] no backend installed under "nowhere"`)
	require.True(t, missing.Frozen())
}
