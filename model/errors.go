package model

import "errors"

// Code is a machine-readable error code returned to API clients.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeMissingInput      Code = "MISSING_INPUT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeSlotAlreadySigned Code = "SLOT_ALREADY_SIGNED"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
	CodeEmptySignature    Code = "EMPTY_SIGNATURE"
	CodeEmptySignerName   Code = "EMPTY_SIGNER_NAME"
	CodeInvalidRole       Code = "INVALID_ROLE"
	CodeInvalidTransition Code = "INVALID_STATUS_TRANSITION"
	CodeNotExecuted       Code = "NOT_EXECUTED"
	CodeInvalidLink       Code = "INVALID_LINK"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
)

// Error is a domain error with a stable code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// The assembler never returns ErrMissingInput; missing data renders as
	// placeholder text.
	ErrMissingInput      = &Error{Code: CodeMissingInput, Message: "missing input"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "document not found"}
	ErrInvalidState      = &Error{Code: CodeInvalidState, Message: "document has no signing record"}
	ErrSlotAlreadySigned = &Error{Code: CodeSlotAlreadySigned, Message: "signature slot already signed"}
	ErrStoreUnavailable  = &Error{Code: CodeStoreUnavailable, Message: "document store unavailable"}
	ErrEmptySignature    = &Error{Code: CodeEmptySignature, Message: "signature image is empty"}
	ErrEmptySignerName   = &Error{Code: CodeEmptySignerName, Message: "signer name is required"}
	ErrInvalidRole       = &Error{Code: CodeInvalidRole, Message: "role must be buyer or publisher"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "status transition not allowed"}
	ErrNotExecuted       = &Error{Code: CodeNotExecuted, Message: "document has no executed copy"}
	ErrInvalidLink       = &Error{Code: CodeInvalidLink, Message: "signing link is invalid or expired"}
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists, Message: "document already exists"}
	ErrQuotaExceeded     = &Error{Code: CodeQuotaExceeded, Message: "document limit reached for this owner"}
)

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
