package fibaro

import (
	"errors"
	"fmt"
)

// Kind classifies every error surfaced by the hub client
type Kind int

const (
	// KindNetwork is any I/O failure not covered by a more specific kind
	KindNetwork Kind = iota
	// KindAuth is an HTTP 401: the credentials were rejected
	KindAuth
	// KindUnreachable is a refused connection: the hub is offline or partitioned
	KindUnreachable
	// KindHTTPStatus is any other non-success HTTP status
	KindHTTPStatus
	// KindProtocol is a body that reports an error or does not decode
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindUnreachable:
		return "unreachable"
	case KindHTTPStatus:
		return "http_status"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the single error type returned by Transport, the command API and
// the event poller.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrNetwork     = &Error{Kind: KindNetwork}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrUnreachable = &Error{Kind: KindUnreachable}
	ErrHTTPStatus  = &Error{Kind: KindHTTPStatus}
	ErrProtocol    = &Error{Kind: KindProtocol}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so that errors.Is(err, ErrAuth) works through
// any amount of wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of err and whether err carries one at all
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

func newError(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: cause}
}
