package dispatch

import "fmt"

// Kind classifies an operation failure for the transport layer. Internal
// detail stays in the wrapped error and is only ever logged.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindConflict
	KindNotFound
	KindInternal
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func validationErr(msg string) *Error    { return &Error{Kind: KindValidation, Msg: msg} }
func authorizationErr(msg string) *Error { return &Error{Kind: KindAuthorization, Msg: msg} }
func conflictErr(msg string) *Error      { return &Error{Kind: KindConflict, Msg: msg} }
func notFoundErr(msg string) *Error      { return &Error{Kind: KindNotFound, Msg: msg} }

func internalErr(err error) *Error {
	return &Error{Kind: KindInternal, Msg: "internal error", Err: err}
}
