/*
Package api defines the wire surface of the dispatch core: the transport envelope
that carries a task request across a process or thread boundary and the code-carrying
error type shared by both sides of that boundary.
*/
package api

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// EnvelopeVersion is written as the first byte of every encoded envelope. Decoders
// must reject versions they do not understand rather than guessing at the layout.
const EnvelopeVersion = uint8(1)

// Magic word prefixing every envelope frame, 'D''E' for dispatch envelope.
const magicWord = uint16(0x4445)

// SubmissionKind tags an envelope handed to a backend so that it knows whether the
// request should wait behind previously queued work or run right away.
type SubmissionKind uint8

const (
	SubmissionQueued SubmissionKind = iota
	SubmissionImmediate
)

// String returns a human readable representation of the submission kind.
func (k SubmissionKind) String() string {
	switch k {
	case SubmissionQueued:
		return "queued"
	case SubmissionImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// Envelope is the flat, boundary-crossing representation of a task request. Field
// order on the wire is fixed: magic, version, task type, id, receiver marker,
// arguments (nullable), group id, frozen flag, backend reference, affinity flag.
// All integer fields are little-endian, strings and byte fields length-prefixed.
type Envelope struct {
	TaskType       string // identifier of the work-item implementation
	ID             int64  // the request id, unique per process
	HasReceiver    bool   // true if a callback receiver is bound to the request
	Args           []byte // encoded argument bundle, nil when the request has none
	GroupID        int32  // the cancellation group, 0 when ungrouped
	Frozen         bool   // whether the request has already been submitted
	BackendRef     string // reference of the backend that should run the task
	AllowAnyThread bool   // true if callbacks may be delivered off the primary thread
}

// MarshalBinary encodes the envelope into a single frame.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	if len(e.TaskType) > maxRefLen || len(e.BackendRef) > maxRefLen {
		return nil, errors.New("type reference too long")
	}

	buf := make([]byte, 0, 32+len(e.TaskType)+len(e.BackendRef)+len(e.Args))
	buf = appendUint16(buf, magicWord)
	buf = append(buf, EnvelopeVersion)
	buf = appendString(buf, e.TaskType)
	buf = appendUint64(buf, uint64(e.ID))
	buf = appendBool(buf, e.HasReceiver)
	if e.Args != nil {
		buf = appendBool(buf, true)
		buf = appendUint32(buf, uint32(len(e.Args)))
		buf = append(buf, e.Args...)
	} else {
		buf = appendBool(buf, false)
	}
	buf = appendUint32(buf, uint32(e.GroupID))
	buf = appendBool(buf, e.Frozen)
	buf = appendString(buf, e.BackendRef)
	buf = appendBool(buf, e.AllowAnyThread)
	return buf, nil
}

// UnmarshalBinary decodes a single frame into the envelope, rejecting frames with a
// bad magic word or an unsupported version.
func (e *Envelope) UnmarshalBinary(buf []byte) (err error) {
	r := reader{buf: buf}

	var magic uint16
	if magic, err = r.uint16(); err != nil {
		return err
	}
	if magic != magicWord {
		return errors.New("bad envelope magic")
	}

	var version uint8
	if version, err = r.byte(); err != nil {
		return err
	}
	if version != EnvelopeVersion {
		return fmt.Errorf("unsupported envelope version %d", version)
	}

	if e.TaskType, err = r.string(); err != nil {
		return err
	}

	var id uint64
	if id, err = r.uint64(); err != nil {
		return err
	}
	e.ID = int64(id)

	if e.HasReceiver, err = r.bool(); err != nil {
		return err
	}

	var hasArgs bool
	if hasArgs, err = r.bool(); err != nil {
		return err
	}
	if hasArgs {
		if e.Args, err = r.bytes(); err != nil {
			return err
		}
	} else {
		e.Args = nil
	}

	var group uint32
	if group, err = r.uint32(); err != nil {
		return err
	}
	e.GroupID = int32(group)

	if e.Frozen, err = r.bool(); err != nil {
		return err
	}
	if e.BackendRef, err = r.string(); err != nil {
		return err
	}
	if e.AllowAnyThread, err = r.bool(); err != nil {
		return err
	}
	return nil
}

const maxRefLen = 1<<16 - 1

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendString(b []byte, s string) []byte {
	b = appendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// reader consumes a frame front to back with bounds checking on every read.
type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) byte() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.byte()
	if err != nil {
		return false, err
	}
	return b == 1, nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
