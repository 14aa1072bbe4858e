package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of a flow step.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindPreconditionMissing ErrorKind = "precondition_missing"
	KindUpstreamFailure     ErrorKind = "upstream_failure"
	KindMalformedAIResponse ErrorKind = "malformed_ai_response"
	KindUnexpectedShape     ErrorKind = "unexpected_shape"
	KindStoreFailure        ErrorKind = "store_failure"
)

// Error is a classified flow error. Message is safe to return to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a client input error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Precondition returns a sequencing error for missing prior session state.
func Precondition(msg string) *Error {
	return &Error{Kind: KindPreconditionMissing, Message: msg}
}

// Upstream returns a generation collaborator failure.
func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstreamFailure, Message: msg, Err: err}
}

// Malformed returns an error for generator text that is not JSON.
func Malformed(msg string, err error) *Error {
	return &Error{Kind: KindMalformedAIResponse, Message: msg, Err: err}
}

// Shape returns an error for JSON that lacks the required structure.
func Shape(msg string) *Error {
	return &Error{Kind: KindUnexpectedShape, Message: msg}
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
