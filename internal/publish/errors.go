package publish

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/ppiankov/kbpublish/internal/model"
)

// Error is a classified publish failure
type Error struct {
	Kind       model.ErrorKind
	Message    string
	ExistingID string // Conflicts: the entity already holding the label, when named
	Code       string // Remote error code, when the remote produced one
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Outcome converts the error into the outcome form persisted by callers
func (e *Error) Outcome() *model.OutcomeError {
	return &model.OutcomeError{
		Kind:       e.Kind,
		Message:    e.Message,
		ExistingID: e.ExistingID,
	}
}

func newError(kind model.ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrapError classifies cause, keeping it reachable through Unwrap
func wrapError(kind model.ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: pkgerrors.WithStack(cause)}
}

// KindOf extracts the error kind, or "" when err is not a publish error
func KindOf(err error) model.ErrorKind {
	var pe *Error
	if pkgerrors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// AsError returns the publish error in err's chain
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := pkgerrors.As(err, &pe)
	return pe, ok
}
