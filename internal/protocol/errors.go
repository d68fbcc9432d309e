package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for host misuse (spec §7: "Host misuse ... Fails
// synchronously with an explanatory message").
var (
	ErrMissingApplicationServerKey = errors.New("protocol: options.applicationServerKey is required")
	ErrHelloNotCompleted           = errors.New("protocol: hello has not completed")
	ErrNoSocket                    = errors.New("protocol: no open socket")
	ErrUnknownSenderType           = errors.New("protocol: no sender registered for type")
	ErrUnknownHandlerType          = errors.New("protocol: no handler registered for type")
	ErrSubscriptionNotFound        = errors.New("protocol: subscription not found")
	ErrPingTooSoon                 = errors.New("protocol: ping sent too recently")
)

// CodedError carries the ack code a subscription's decryption path
// must surface (spec §4.4: "Failures throw an ack-code"). Handlers
// that catch one use Code directly; anything else maps to
// [AckOtherFail] (spec §4.7).
type CodedError struct {
	Code AckCode
	Err  error
}

func NewCodedError(code AckCode, err error) *CodedError {
	return &CodedError{Code: code, Err: err}
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// AckCodeOf maps any error to the ack code a NotificationHandler
// should enqueue (spec §4.7): a [CodedError]'s own code, or
// [AckOtherFail] for anything else. A nil error maps to
// [AckSuccess].
func AckCodeOf(err error) AckCode {
	if err == nil {
		return AckSuccess
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return AckOtherFail
}
