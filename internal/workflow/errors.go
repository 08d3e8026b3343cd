package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a workflow failure.
type ErrorKind string

const (
	// KindValidation marks an operation invoked with a value that
	// violates an invariant. Validation failures never reach the
	// network and never move the step index.
	KindValidation ErrorKind = "validation"
	// KindFetch marks a failed or malformed gateway lookup.
	KindFetch ErrorKind = "fetch"
	// KindSubmission marks a failed final commit, e.g. the slot was
	// taken between fetch and submit.
	KindSubmission ErrorKind = "submission"
)

// Sentinel errors surfaced to callers for status mapping.
var (
	// ErrSessionNotFound is returned when no live or persisted session
	// matches the requested id.
	ErrSessionNotFound = errors.New("workflow: session not found")
	// ErrSessionClosed is returned for operations on a cancelled
	// session, including gateway results arriving after teardown.
	ErrSessionClosed = errors.New("workflow: session closed")
	// ErrWrongStep is returned when an operation is invoked outside
	// the step that owns it.
	ErrWrongStep = errors.New("workflow: operation not valid at current step")
	// ErrOperationInFlight is returned when a transition is attempted
	// while a previous gateway call has not resolved.
	ErrOperationInFlight = errors.New("workflow: another operation is in flight")
)

// errMissingBookingMode marks a doctor record that arrived without a
// usable booking mode; the topology cannot be resolved from it.
var errMissingBookingMode = errors.New("workflow: doctor record is missing its booking mode")

// Error is the typed failure recorded on a session and returned from
// transition operations.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workflow: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("workflow: %s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationErr(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func wrongStepErr(op string, current StepKind) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf("not valid at step %s", current), Err: ErrWrongStep}
}

func fetchErr(op string, err error) *Error {
	return &Error{Kind: KindFetch, Op: op, Msg: "catalog fetch failed", Err: err}
}

func submissionErr(op string, err error) *Error {
	return &Error{Kind: KindSubmission, Op: op, Msg: "reservation submit failed", Err: err}
}

// KindOf extracts the error kind from err, defaulting to fetch for
// untyped errors coming out of the gateway.
func KindOf(err error) ErrorKind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return KindFetch
}
