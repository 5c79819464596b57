package savings

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind classifies a failure well enough for a client to decide what to
// do next: fix the request, rebuild the transaction, or retry later.
type ErrorKind string

const (
	ErrorInvalidPayload       ErrorKind = "invalid_payload"
	ErrorUnauthorized         ErrorKind = "unauthorized"
	ErrorOriginBlocked        ErrorKind = "origin_blocked"
	ErrorInvalidAmount        ErrorKind = "invalid_amount"
	ErrorInsufficientBalance  ErrorKind = "insufficient_balance"
	ErrorNoProtocolPosition   ErrorKind = "no_protocol_position"
	ErrorSlippageExceeded     ErrorKind = "slippage_exceeded"
	ErrorBlockhashExpired     ErrorKind = "blockhash_expired"
	ErrorTransactionTooLarge  ErrorKind = "transaction_too_large"
	ErrorMalformedInstruction ErrorKind = "malformed_instruction"
	ErrorSigningFailed        ErrorKind = "signing_failed"
	ErrorBroadcastFailed      ErrorKind = "broadcast_failed"
	ErrorSimulationFailed     ErrorKind = "simulation_failed"
	ErrorReconciliationFailed ErrorKind = "reconciliation_failed"
)

// maxReasonLength bounds the diagnostic detail carried on an error. Raw
// protocol logs can be arbitrarily long and are truncated, never dropped.
const maxReasonLength = 256

var userMessageByKind = map[ErrorKind]string{
	ErrorInvalidPayload:       "The request could not be processed. Please try again.",
	ErrorUnauthorized:         "Please sign in and try again.",
	ErrorOriginBlocked:        "This request was blocked.",
	ErrorInvalidAmount:        "That amount isn't valid.",
	ErrorInsufficientBalance:  "Your balance is too low for this amount.",
	ErrorNoProtocolPosition:   "There are no savings to withdraw from.",
	ErrorSlippageExceeded:     "The price moved too much. Please try again.",
	ErrorBlockhashExpired:     "This transaction expired. Please try again.",
	ErrorTransactionTooLarge:  "This transaction is too large to send.",
	ErrorMalformedInstruction: "Something went wrong building this transaction.",
	ErrorSigningFailed:        "Something went wrong on our end. Please try again.",
	ErrorBroadcastFailed:      "The transaction could not be sent. Please try again.",
	ErrorSimulationFailed:     "The transaction could not be completed. Please try again.",
	ErrorReconciliationFailed: "Your transaction was sent. Balances may take a moment to update.",
}

// Error is a classified failure with a short correlation id for support and
// a truncated diagnostic reason. The user-facing message is always a plain
// language summary, never a raw protocol error string.
type Error struct {
	Kind          ErrorKind
	CorrelationId string
	Reason        string

	cause error
}

func NewError(kind ErrorKind, cause error) *Error {
	e := &Error{
		Kind:          kind,
		CorrelationId: uuid.New().String()[:8],
		cause:         cause,
	}
	if cause != nil {
		e.Reason = truncateReason(cause.Error())
	}
	return e
}

func NewErrorWithReason(kind ErrorKind, cause error, reason string) *Error {
	e := NewError(kind, cause)
	e.Reason = truncateReason(reason)
	return e
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s [%s]", e.Kind, e.CorrelationId)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.CorrelationId, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// UserMessage returns the plain-language summary shown to the end user.
func (e *Error) UserMessage() string {
	if msg, ok := userMessageByKind[e.Kind]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}

// AsError pulls a classified error out of an error chain.
func AsError(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		unwrappable, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrappable.Unwrap()
	}
	return nil, false
}

// IsErrorKind reports whether err carries the provided classification.
func IsErrorKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

func truncateReason(reason string) string {
	if len(reason) > maxReasonLength {
		return reason[:maxReasonLength]
	}
	return reason
}
