package dispatch

import (
	"github.com/kansaslabs/dispatch/api"
)

// Encode serializes a request into its transport envelope. The envelope records a
// marker for the bound receiver rather than the receiver itself; the live callback
// table stays in the process-wide registry keyed by request id and is reattached on
// decode.
func Encode(r *Request) (*api.Envelope, error) {
	env := &api.Envelope{
		TaskType:       r.taskType,
		ID:             r.id,
		HasReceiver:    r.receiver != nil,
		GroupID:        int32(r.groupID),
		Frozen:         r.state == stateFrozen,
		BackendRef:     r.backendRef,
		AllowAnyThread: r.allowAnyThread,
	}

	if r.args != nil {
		args, err := r.args.Encode()
		if err != nil {
			return nil, err
		}
		env.Args = args
	}
	return env, nil
}

// Decode reconstructs a request from its envelope. The result is behaviorally
// equivalent to the original for equality and hashing, with group id, frozen flag
// and affinity flag restored from the wire. When the envelope marks a receiver and
// the originating receiver is alive in this process it is reattached; otherwise the
// request carries none.
func Decode(env *api.Envelope) (*Request, error) {
	if env == nil {
		return nil, Errorf(ErrBadEnvelope, "cannot decode a nil envelope")
	}
	if env.TaskType == "" {
		return nil, Errorf(ErrBadEnvelope, "envelope carries no task type")
	}

	r := &Request{
		taskType:       env.TaskType,
		id:             env.ID,
		groupID:        int(env.GroupID),
		backendRef:     env.BackendRef,
		allowAnyThread: env.AllowAnyThread,
	}
	if r.backendRef == "" {
		r.backendRef = StandardBackend
	}
	if env.Frozen {
		r.state = stateFrozen
	}
	if env.Args != nil {
		args, err := DecodeBundle(env.Args)
		if err != nil {
			return nil, err
		}
		r.args = args
	}
	if env.HasReceiver {
		r.receiver = lookupReceiver(env.ID)
	}
	return r, nil
}
