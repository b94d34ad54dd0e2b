package adapter

import "fmt"

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	// ErrorKindQuota means the provider refused to run because of billing or quota limits.
	ErrorKindQuota ErrorKind = "quota"
	// ErrorKindProvider covers transport and API failures.
	ErrorKindProvider ErrorKind = "provider"
	// ErrorKindMalformed means the provider answered but the reply was unusable.
	ErrorKindMalformed ErrorKind = "malformed"
)

// Error is returned by VisionEditAdapter implementations. Msg is shown to
// the user verbatim.
type Error struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return fmt.Sprintf("API error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("API error during %s", e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an adapter error with a formatted message.
func NewError(op string, kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: err, Msg: fmt.Sprintf(format, args...)}
}
