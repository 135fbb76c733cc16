package usecase

import "fmt"

// ErrorCode classifies an ingestion failure by where it stopped. Codes are
// logged, never shown to the sender: every code ends in the same apology.
type ErrorCode string

const (
	// ErrorTimeout: a media fetch or storage write hit its deadline.
	ErrorTimeout ErrorCode = "TIMEOUT"
	// ErrorTransport: network failure, non-2xx media response or a rejected
	// blob write. Nothing was persisted.
	ErrorTransport ErrorCode = "TRANSPORT_ERROR"
	// ErrorValidation: the media is not an image or exceeds the size cap.
	ErrorValidation ErrorCode = "VALIDATION_ERROR"
	// ErrorPartialPersistence: the blob was written but its note or record
	// was not. The blob is left in place.
	ErrorPartialPersistence ErrorCode = "PARTIAL_PERSISTENCE"
	ErrorUnknown            ErrorCode = "UNKNOWN"
)

// Error is the single failure type of the ingestion pipeline. Reason is a
// stable snake_case tag for logs.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
