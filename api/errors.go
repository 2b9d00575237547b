package api

import "fmt"

// Error is the code-carrying error surfaced by the dispatch core. Codes are defined
// in the root package; the type lives here so envelope consumers on the backend side
// of the boundary can inspect codes without importing the core.
type Error struct {
	Code    int32
	Message string
}

// Errorf formats a dispatch error with the specified code, returning it.
func Errorf(code int32, format string, a ...interface{}) error {
	msg := fmt.Errorf(format, a...)
	return &Error{Code: code, Message: msg.Error()}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// ErrorCode returns the code carried by err or -1 if err is not an api.Error.
func ErrorCode(err error) int32 {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return -1
}
