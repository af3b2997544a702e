package call

import (
	"errors"

	"github.com/samber/lo"
)

// Error kinds. Match them with errors.Is on a *Error or on any error a
// Manager returns.
var (
	ErrNotFound          = errors.New("appointment not found")
	ErrUnauthorized      = errors.New("caller is not a participant")
	ErrMedia             = errors.New("media unavailable")
	ErrSignaling         = errors.New("signaling failed")
	ErrStore             = errors.New("appointment store failed")
	ErrAppointmentClosed = errors.New("appointment is closed")
)

var (
	ErrNoLocalMedia      = errors.New("no local media")
	ErrRetryUnavailable  = errors.New("retry not available")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrManagerTornDown   = errors.New("session manager torn down")
	ErrMissingDependency = errors.New("missing session dependency")
)

// Error is the failure a session is parked on while in StatusError.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	return lo.Compact([]error{e.Kind, e.Err})
}

// Terminal reports whether the only way out of the error is to leave the
// call. Terminal errors never offer a retry.
func (e *Error) Terminal() bool {
	return errors.Is(e.Kind, ErrNotFound) ||
		errors.Is(e.Kind, ErrUnauthorized) ||
		errors.Is(e.Kind, ErrAppointmentClosed)
}
