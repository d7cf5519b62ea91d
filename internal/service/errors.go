package service

import "fmt"

// Kind classifies service errors; the api layer maps kinds to HTTP statuses
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindInvalidInput
	KindConflict
	KindUpstream
	KindInvalidCredentials
	KindInvalidInvite
	KindUserExists
)

// Error codes sent to clients in the error envelope
const (
	CodeInternal           = "INTERNAL"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeMissingFields      = "MISSING_FIELDS"
	CodeEmptyBatch         = "EMPTY_BATCH"
	CodeUnknownField       = "UNKNOWN_FIELD"
	CodeConflict           = "CONFLICT"
	CodeUpstreamFailure    = "UPSTREAM_FAILURE"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidInvite      = "INVALID_INVITE"
	CodeUserExists         = "USER_EXISTS"
)

// Error is a classified failure with a client-safe message
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Code when the target sets one
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Sentinels for errors.Is
var (
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrEmptyBatch         = &Error{Kind: KindInvalidInput, Code: CodeEmptyBatch, Message: "empty batch"}
	ErrUnknownField       = &Error{Kind: KindInvalidInput, Code: CodeUnknownField, Message: "unknown field"}
	ErrConflict           = &Error{Kind: KindConflict, Message: "conflict"}
	ErrUpstream           = &Error{Kind: KindUpstream, Message: "upstream failure"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrInvalidInvite      = &Error{Kind: KindInvalidInvite, Message: "invalid invite"}
	ErrUserExists         = &Error{Kind: KindUserExists, Message: "user exists"}
)

func unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Code: CodeUnauthorized, Message: msg}
}

func forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: msg}
}

// notOwner rejects access to another user's resource from a valid session
func notOwner(msg string) error {
	return &Error{Kind: KindForbidden, Code: CodeUnauthorized, Message: msg}
}

func notFound(msg string) error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

func invalidInput(code, msg string) error {
	return &Error{Kind: KindInvalidInput, Code: code, Message: msg}
}

func conflict(msg string) error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: msg}
}

func upstream(msg string, err error) error {
	return &Error{Kind: KindUpstream, Code: CodeUpstreamFailure, Message: msg, Err: err}
}

func invalidCredentials() error {
	return &Error{Kind: KindInvalidCredentials, Code: CodeInvalidCredentials, Message: "invalid email/username or password"}
}

func invalidInvite() error {
	return &Error{Kind: KindInvalidInvite, Code: CodeInvalidInvite, Message: "invite code is not valid"}
}

func userExists(msg string) error {
	return &Error{Kind: KindUserExists, Code: CodeUserExists, Message: msg}
}
