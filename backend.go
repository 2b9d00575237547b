package dispatch

import (
	"sync"

	"github.com/kansaslabs/dispatch/api"
)

// StandardBackend is the reserved reference of the default backend. Every request
// targets it implicitly; it cannot be the argument of Request.Backend or of
// Host.Install.
const StandardBackend = "standard"

// Backend is the execution collaborator of the dispatch core. Accept takes
// ownership of a serialized request and is fire-and-forget: no result is known
// synchronously and acceptance must not wait on execution. Cancel is best-effort;
// cancelling unknown, finished, or already cancelled tasks must be a safe no-op.
type Backend interface {
	Accept(env *api.Envelope, kind SubmissionKind) error
	Cancel(id int64, groupID int, reason int) error
}

// Host resolves backend references at submission time. It holds the standard
// backend plus any alternative implementations installed under their own
// references; requests name the backend they target and the host routes their
// envelopes accordingly.
type Host struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewHost creates a host with the given backend installed in the standard slot.
func NewHost(standard Backend) *Host {
	h := &Host{backends: make(map[string]Backend)}
	if standard != nil {
		h.backends[StandardBackend] = standard
	}
	return h
}

// Install adds an alternative backend under the given reference. The standard slot
// is set at construction and cannot be replaced here.
func (h *Host) Install(ref string, backend Backend) error {
	if ref == "" || ref == StandardBackend {
		return Errorf(ErrInvalidBackend, "backends must be installed under a non-standard reference")
	}
	if backend == nil {
		return Errorf(ErrInvalidBackend, "cannot install a nil backend")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.backends[ref]; ok {
		return Errorf(ErrInvalidBackend, "a backend is already installed under %q", ref)
	}
	h.backends[ref] = backend
	return nil
}

func (h *Host) resolve(ref string) (Backend, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	backend, ok := h.backends[ref]
	if !ok {
		return nil, Errorf(ErrUnknownBackend, "no backend installed under %q", ref)
	}
	return backend, nil
}

// dispatch hands an envelope to the backend installed under ref.
func (h *Host) dispatch(ref string, env *api.Envelope, kind SubmissionKind) error {
	backend, err := h.resolve(ref)
	if err != nil {
		return err
	}
	return backend.Accept(env, kind)
}

// cancel forwards a cancellation request to the backend installed under ref.
func (h *Host) cancel(ref string, id int64, groupID, reason int) error {
	backend, err := h.resolve(ref)
	if err != nil {
		return err
	}
	return backend.Cancel(id, groupID, reason)
}
