package flow

import "fmt"

// ErrorKind is a closed enumeration of terminal link-flow failures. Kinds are
// stable names callers branch on: InvalidState and ExpiredState mean the user
// must restart the flow; the rest warrant a generic failure notice. None are
// retried internally.
type ErrorKind string

const (
	KindInvalidState      ErrorKind = "InvalidState"
	KindExpiredState      ErrorKind = "ExpiredState"
	KindTokenExchange     ErrorKind = "TokenExchangeError"
	KindUserFetch         ErrorKind = "UserFetchError"
	KindRefreshToken      ErrorKind = "RefreshTokenError"
	KindOwnershipTransfer ErrorKind = "OwnershipTransferError"
)

// Error carries a failure kind as data rather than as a type hierarchy.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}
