package api_test

import (
	"testing"

	"github.com/kansaslabs/dispatch/api"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &api.Envelope{
		TaskType:       "compress",
		ID:             1587749596783939000,
		HasReceiver:    true,
		Args:           []byte{0xde, 0xad, 0xbe, 0xef},
		GroupID:        5,
		Frozen:         true,
		BackendRef:     "standard",
		AllowAnyThread: true,
	}

	data, err := env.MarshalBinary()
	require.NoError(t, err)

	out := new(api.Envelope)
	require.NoError(t, out.UnmarshalBinary(data))
	require.Equal(t, env, out)

	// Marshalling the decoded envelope reproduces the exact frame
	again, err := out.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, data, again)
}

func TestEnvelopeNullableFields(t *testing.T) {
	env := &api.Envelope{TaskType: "compress", ID: 42, BackendRef: "standard"}

	data, err := env.MarshalBinary()
	require.NoError(t, err)

	out := new(api.Envelope)
	require.NoError(t, out.UnmarshalBinary(data))
	require.Nil(t, out.Args)
	require.False(t, out.HasReceiver)
	require.Equal(t, env, out)
}

func TestEnvelopeVersion(t *testing.T) {
	env := &api.Envelope{TaskType: "compress", ID: 42}
	data, err := env.MarshalBinary()
	require.NoError(t, err)

	// The version byte follows the two-byte magic word
	data[2] = 99
	err = new(api.Envelope).UnmarshalBinary(data)
	require.EqualError(t, err, "unsupported envelope version 99")
}

func TestEnvelopeCorruption(t *testing.T) {
	env := &api.Envelope{TaskType: "compress", ID: 42, Args: []byte("payload")}
	data, err := env.MarshalBinary()
	require.NoError(t, err)

	// Bad magic
	mangled := append([]byte(nil), data...)
	mangled[0] = 'X'
	require.EqualError(t, new(api.Envelope).UnmarshalBinary(mangled), "bad envelope magic")

	// Truncation anywhere in the frame is rejected
	for i := 0; i < len(data)-1; i++ {
		require.Error(t, new(api.Envelope).UnmarshalBinary(data[:i]), "truncated frame of %d bytes should error", i)
	}
}

func TestSubmissionKind(t *testing.T) {
	require.Equal(t, "queued", api.SubmissionQueued.String())
	require.Equal(t, "immediate", api.SubmissionImmediate.String())
	require.Equal(t, "unknown", api.SubmissionKind(9).String())
}

func TestErrors(t *testing.T) {
	err := api.Errorf(7, "something %s happened", "bad")
	require.EqualError(t, err, "[7] something bad happened")
	require.Equal(t, int32(7), api.ErrorCode(err))
	require.Equal(t, int32(-1), api.ErrorCode(nil))
}
