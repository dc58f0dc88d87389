package rpc

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	CodeMissingOrInvalid  = 1000
	CodeNotApproved       = 5000
	CodeUnsupportedChain  = 5100
	CodeUnsupportedMethod = 5101
	CodeUnknown           = -32000
)

// Error is the error object of a reply envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors by code, so a timeout denial is also ErrNotApproved.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code
}

var (
	ErrUnsupportedChain  = NewError(CodeUnsupportedChain, "unsupported chain")
	ErrUnsupportedMethod = NewError(CodeUnsupportedMethod, "unsupported method")
	ErrMissingOrInvalid  = NewError(CodeMissingOrInvalid, "missing or invalid params")
	ErrNotApproved       = NewError(CodeNotApproved, "request rejected by user")
	ErrRequestTimedOut   = NewError(CodeNotApproved, "request timed out")
	ErrProposalTimedOut  = NewError(CodeNotApproved, "proposal timed out")
)

// invalidParams returns a missing/invalid error naming the offending field.
func invalidParams(format string, args ...any) *Error {
	return NewError(CodeMissingOrInvalid, fmt.Sprintf("missing or invalid params: "+format, args...))
}

// ErrorFrom converts any error into a reply error carrying the full message. Errors
// without a reply code are reported as unknown.
func ErrorFrom(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return NewError(e.Code, err.Error())
	}

	return NewError(CodeUnknown, err.Error())
}
