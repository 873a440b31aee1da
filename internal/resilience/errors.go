package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrorClass is the retry taxonomy applied to every operation failure.
type ErrorClass string

const (
	NetworkError ErrorClass = "network"
	ServerError  ErrorClass = "server"
	ClientError  ErrorClass = "client"
	UnknownError ErrorClass = "unknown"
)

// Retryable reports whether failures of this class are retried in-process.
func (c ErrorClass) Retryable() bool {
	return c == NetworkError || c == ServerError
}

// ErrQueuedOffline is matched by the error Execute returns when it parked the
// operation instead of running it.
var ErrQueuedOffline = errors.New("operation queued for later delivery")

// QueuedError is returned by Execute when the device is offline.
type QueuedError struct {
	ItemID string
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("operation %s queued for later delivery", e.ItemID)
}

func (e *QueuedError) Unwrap() error { return ErrQueuedOffline }

// StatusError is an HTTP response outside the 2xx range.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote call failed with status %d", e.Status)
	}
	return fmt.Sprintf("remote call failed with status %d: %s", e.Status, e.Message)
}

// CodedError is a failure reported by a backend with a string code, such as
// "permission-denied" or "unavailable".
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// UserError is what callers surface to the end user. Error returns only the
// friendly message; the technical cause stays reachable through Unwrap.
type UserError struct {
	Message string
	Code    string
	Class   ErrorClass
	// QueuedItemID is set when the operation was parked for later replay
	// after its in-process retries ran out.
	QueuedItemID string
	Err          error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }

const (
	CodeNetworkRequestFailed = "network-request-failed"
	CodeDeadlineExceeded     = "deadline-exceeded"
	CodeUnavailable          = "unavailable"
	CodeInternal             = "internal"
	CodePermissionDenied     = "permission-denied"
	CodeNotFound             = "not-found"
	CodeInvalidArgument      = "invalid-argument"
	CodeAlreadyExists        = "already-exists"
	CodeUnauthenticated      = "unauthenticated"
	CodeFailedPrecondition   = "failed-precondition"
	CodeResourceExhausted    = "resource-exhausted"
)

// DefaultUserMessage is shown for codes missing from the table.
const DefaultUserMessage = "Something went wrong. Please try again."

var userMessages = map[string]string{
	CodeNetworkRequestFailed: "Please check your internet connection and try again.",
	CodeDeadlineExceeded:     "The request took too long. Please try again.",
	CodeUnavailable:          "The service is temporarily unavailable. Please try again later.",
	CodeInternal:             "We are having trouble on our side. Please try again later.",
	CodePermissionDenied:     "You don't have permission to do that.",
	CodeNotFound:             "We couldn't find what you were looking for.",
	CodeInvalidArgument:      "Some of the details you entered are invalid.",
	CodeAlreadyExists:        "This item already exists.",
	CodeUnauthenticated:      "Please sign in to continue.",
	CodeFailedPrecondition:   "This action can't be completed right now.",
	CodeResourceExhausted:    "Too many requests. Please wait a moment and try again.",
	"400":                    "Some of the details you entered are invalid.",
	"401":                    "Please sign in to continue.",
	"403":                    "You don't have permission to do that.",
	"404":                    "We couldn't find what you were looking for.",
	"409":                    "This item was changed by someone else. Please refresh.",
	"422":                    "Some of the details you entered are invalid.",
	"429":                    "Too many requests. Please wait a moment and try again.",
	"500":                    "We are having trouble on our side. Please try again later.",
	"502":                    "The service is temporarily unavailable. Please try again later.",
	"503":                    "The service is temporarily unavailable. Please try again later.",
	"504":                    "The request took too long. Please try again.",
}

var codeClasses = map[string]ErrorClass{
	CodeNetworkRequestFailed: NetworkError,
	CodeDeadlineExceeded:     NetworkError,
	CodeUnavailable:          ServerError,
	CodeInternal:             ServerError,
	CodePermissionDenied:     ClientError,
	CodeNotFound:             ClientError,
	CodeInvalidArgument:      ClientError,
	CodeAlreadyExists:        ClientError,
	CodeUnauthenticated:      ClientError,
	CodeFailedPrecondition:   ClientError,
	CodeResourceExhausted:    ClientError,
}

// UserMessage maps an error code to a short, non-technical message.
func UserMessage(code string) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return DefaultUserMessage
}

type temporary interface {
	Temporary() bool
}

// Classify places err in the retry taxonomy.
func Classify(err error) ErrorClass {
	if err == nil {
		return UnknownError
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status >= 500:
			return ServerError
		case statusErr.Status >= 400:
			return ClientError
		default:
			return UnknownError
		}
	}

	var codedErr *CodedError
	if errors.As(err, &codedErr) {
		if class, ok := codeClasses[codedErr.Code]; ok {
			return class
		}
		return UnknownError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError
	}

	// broker errors such as kafka.LeaderNotAvailable
	var tempErr temporary
	if errors.As(err, &tempErr) && tempErr.Temporary() {
		return ServerError
	}

	return UnknownError
}

// ErrorCode extracts the status or code used for message lookup and for
// grouping error statistics. It is empty for unrecognised failures.
func ErrorCode(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return strconv.Itoa(statusErr.Status)
	}

	var codedErr *CodedError
	if errors.As(err, &codedErr) {
		return codedErr.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeDeadlineExceeded
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeDeadlineExceeded
		}
		return CodeNetworkRequestFailed
	}

	return ""
}

// Translate wraps err in a UserError. A UserError is returned unchanged.
func Translate(err error) *UserError {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr
	}

	code := ErrorCode(err)
	return &UserError{
		Message: UserMessage(code),
		Code:    code,
		Class:   Classify(err),
		Err:     err,
	}
}
