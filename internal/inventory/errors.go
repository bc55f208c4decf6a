package inventory

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced to callers of the view.
type ErrorCode string

const (
	// ErrCodeValidation is a locally rejected request. No network call was made.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNetwork means the server of record could not be reached.
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeServerRejected means the server answered with a failure status.
	ErrCodeServerRejected ErrorCode = "SERVER_REJECTED"

	// ErrCodeChannel is a push channel failure (disconnect, auth, exhaustion).
	ErrCodeChannel ErrorCode = "CHANNEL"

	// ErrCodeNotFound means the referenced entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is the structured failure returned by every imperative operation.
type Error struct {
	Code        ErrorCode
	Op          string
	Message     string
	ItemID      int64
	WarehouseID int64
	// Status is the HTTP status for server rejections, 0 otherwise.
	Status int
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s", e.Op, msg)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status=%d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates an Error for a locally rejected request.
func NewValidationError(op, message string, itemID, warehouseID int64) *Error {
	return &Error{
		Code:        ErrCodeValidation,
		Op:          op,
		Message:     message,
		ItemID:      itemID,
		WarehouseID: warehouseID,
	}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, err error) *Error {
	return &Error{Code: ErrCodeNetwork, Op: op, Message: "server unreachable", Err: err}
}

// NewServerError creates an Error for a non-success response.
func NewServerError(op string, status int, message string) *Error {
	code := ErrCodeServerRejected
	if status == 404 {
		code = ErrCodeNotFound
	}
	return &Error{Code: code, Op: op, Message: message, Status: status}
}

// NewChannelError wraps a push channel failure.
func NewChannelError(op, message string, err error) *Error {
	return &Error{Code: ErrCodeChannel, Op: op, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	return CodeOf(err) == ErrCodeNetwork
}

// IsServerRejection reports whether the server refused the request.
// Not-found responses count as rejections.
func IsServerRejection(err error) bool {
	c := CodeOf(err)
	return c == ErrCodeServerRejected || c == ErrCodeNotFound
}

// IsChannel reports whether err came from the push channel.
func IsChannel(err error) bool {
	return CodeOf(err) == ErrCodeChannel
}
