package execution

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Status codes reported by the document store
const (
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusRequestTimeout      = 408
	StatusGone                = 410
	StatusTooManyRequests     = 429
	StatusRetryWith           = 449
	StatusInternalServerError = 500
	StatusServiceUnavailable  = 503
)

// Sub-status codes that qualify StatusGone
const (
	SubStatusNone                         = 0
	SubStatusPartitionKeyRangeGone        = 1002
	SubStatusCompletingSplit              = 1007
	SubStatusCompletingPartitionMigration = 1008
)

var (
	// ErrBadRequest matches every error caused by a malformed or
	// incompatible request, such as a corrupted continuation token.
	// These are never retried.
	ErrBadRequest = errors.New("bad request")
	// ErrSplitRecovery is returned when a producer could not
	// find the ranges replacing its split partition.
	ErrSplitRecovery = errors.New("could not recover from partition split")
)

// Error is an error reported by the document store or
// raised by the query engine with a store status code.
type Error struct {
	StatusCode    int
	SubStatusCode int
	Message       string
	// RetryAfter is the delay the store asked for
	// before the request is retried, if any.
	RetryAfter time.Duration
	Err        error
}

func (err *Error) Error() string {
	msg := fmt.Sprintf("%d/%d: %s", err.StatusCode, err.SubStatusCode, err.Message)

	if err.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, err.Err)
	}

	return msg
}

// Unwrap returns the cause
func (err *Error) Unwrap() error {
	return err.Err
}

// Is lets errors.Is(err, ErrBadRequest) match any
// 400 error
func (err *Error) Is(target error) bool {
	return target == ErrBadRequest && err.StatusCode == StatusBadRequest
}

// GRPCStatus maps the error to a gRPC status so that
// servers exposing query results over gRPC report it
// with a matching code.
func (err *Error) GRPCStatus() *status.Status {
	return status.New(err.code(), err.Error())
}

func (err *Error) code() codes.Code {
	switch err.StatusCode {
	case StatusBadRequest:
		return codes.InvalidArgument
	case StatusNotFound:
		return codes.NotFound
	case StatusRequestTimeout:
		return codes.DeadlineExceeded
	case StatusGone, StatusRetryWith, StatusServiceUnavailable:
		return codes.Unavailable
	case StatusTooManyRequests:
		return codes.ResourceExhausted
	}

	return codes.Internal
}

// BadRequest creates an Error with StatusBadRequest
func BadRequest(format string, args ...interface{}) error {
	return &Error{StatusCode: StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// IsPartitionSplit returns true if err signals that the
// partition addressed by a request no longer exists
// because it split or is being split.
func IsPartitionSplit(err error) bool {
	var e *Error

	if !errors.As(err, &e) || e.StatusCode != StatusGone {
		return false
	}

	switch e.SubStatusCode {
	case SubStatusPartitionKeyRangeGone, SubStatusCompletingSplit, SubStatusCompletingPartitionMigration:
		return true
	}

	return false
}

// IsTransient returns true if err is worth retrying
// as is: timeouts, throttling and temporary unavailability.
// Partition splits are not transient.
func IsTransient(err error) bool {
	var e *Error

	if !errors.As(err, &e) {
		return false
	}

	switch e.StatusCode {
	case StatusRequestTimeout, StatusTooManyRequests, StatusRetryWith, StatusServiceUnavailable:
		return true
	case StatusGone:
		return !IsPartitionSplit(err)
	}

	return false
}

// errorKind names the class of a query error for metrics
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrSplitRecovery):
		return "split_recovery"
	}

	return "fatal"
}
