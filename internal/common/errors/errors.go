package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound         = errors.New("resource not found")
	ErrBadRequest       = errors.New("bad request")
	ErrInvalidReference = errors.New("invalid reference")
	ErrInvalidState     = errors.New("invalid state")
	ErrStorage          = errors.New("storage failure")
	ErrConflict         = errors.New("concurrency conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrInternalError    = errors.New("internal error")
)

type AppError struct {
	Code    codes.Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

func NotFound(message string) *AppError {
	return &AppError{
		Code:    codes.NotFound,
		Message: message,
		Err:     ErrNotFound,
	}
}

func InvalidArgument(message string) *AppError {
	return &AppError{
		Code:    codes.InvalidArgument,
		Message: message,
		Err:     ErrBadRequest,
	}
}

// InvalidReference reports an identifier that is not well-formed. It shares
// the InvalidArgument code so transports treat both the same way.
func InvalidReference(message string) *AppError {
	return &AppError{
		Code:    codes.InvalidArgument,
		Message: message,
		Err:     ErrInvalidReference,
	}
}

func InvalidState(message string) *AppError {
	return &AppError{
		Code:    codes.FailedPrecondition,
		Message: message,
		Err:     ErrInvalidState,
	}
}

// Storage wraps a failure of the attachment backend. The cause stays
// reachable through errors.Is/As.
func Storage(message string, err error) *AppError {
	return &AppError{
		Code:    codes.Unavailable,
		Message: message,
		Err:     fmt.Errorf("%w: %w", ErrStorage, err),
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    codes.Aborted,
		Message: message,
		Err:     ErrConflict,
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Code:    codes.ResourceExhausted,
		Message: message,
		Err:     ErrRateLimited,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    codes.Internal,
		Message: message,
		Err:     err,
	}
}

func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}

	if st, ok := status.FromError(err); ok {
		return st.Err()
	}

	return status.Error(codes.Internal, err.Error())
}

// HTTPStatus maps an error to the status code a thin REST handler should
// answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch codeOf(err) {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func codeOf(err error) codes.Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code == codes.NotFound {
			return true
		}
		return errors.Is(appErr.Err, ErrNotFound)
	}

	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.NotFound
	}

	return errors.Is(err, ErrNotFound)
}

func IsInvalidArgument(err error) bool {
	return err != nil && codeOf(err) == codes.InvalidArgument
}

func IsInvalidState(err error) bool {
	return err != nil && errors.Is(err, ErrInvalidState)
}

func IsConflict(err error) bool {
	return err != nil && errors.Is(err, ErrConflict)
}

func IsStorage(err error) bool {
	return err != nil && errors.Is(err, ErrStorage)
}
