package engine

import "fmt"

// Error codes surfaced to clients in error events.
const (
	CodeAuthFailed     = "auth_failed"
	CodeAccessDenied   = "access_denied"
	CodeNotFound       = "not_found"
	CodeNotInRoom      = "not_in_room"
	CodeInvalidMessage = "invalid_message"
	CodeRateLimited    = "rate_limited"
	CodeUpstreamError  = "upstream_error"
)

// Error is a client-visible engine error with a stable code. Errors from one
// connection's handling never abort processing for any other connection;
// they are delivered to the acting client as error events.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func engineError(code string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError returns err as an *Error, wrapping unknown errors under the
// upstream_error code so the wire layer always has a code to report.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Code: CodeUpstreamError, Message: err.Error()}
}
