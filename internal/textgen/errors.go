package textgen

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ValidationKind identifies a local validation failure.
type ValidationKind string

const (
	KindMissingOutput         ValidationKind = "missing_output"
	KindUnsupportedConstraint ValidationKind = "unsupported_constraint"
	KindInvalidSchema         ValidationKind = "invalid_schema"
)

// ValidationError reports a request or response that violates the
// adapter's contract before or after the remote call.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// TransportError wraps a remote-call failure that carried a status
// code. Retryable is set only for resource-exhausted, deadline-exceeded
// and unavailable statuses.
type TransportError struct {
	Code      codes.Code
	Retryable bool
	cause     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend call failed (%s): %v", e.Code, e.cause)
}

func (e *TransportError) Unwrap() error { return e.cause }

// InternalError wraps a failure of unknown shape. Never retryable.
type InternalError struct {
	cause error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.cause)
}

func (e *InternalError) Unwrap() error { return e.cause }

var retryableCodes = map[codes.Code]bool{
	codes.ResourceExhausted: true,
	codes.DeadlineExceeded:  true,
	codes.Unavailable:       true,
}

// Classify converts a failure raised during a remote call into the
// adapter's closed error taxonomy. Errors already belonging to the
// taxonomy pass through unchanged; status-bearing transport failures
// become TransportError with a retryability flag; anything else is
// wrapped as a non-retryable InternalError.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		transportErr  *TransportError
		validationErr *ValidationError
		internalErr   *InternalError
	)
	if errors.As(err, &transportErr) || errors.As(err, &validationErr) || errors.As(err, &internalErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &TransportError{Code: codes.Canceled, cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Code: codes.DeadlineExceeded, Retryable: true, cause: err}
	}
	if st, ok := status.FromError(err); ok {
		return &TransportError{Code: st.Code(), Retryable: retryableCodes[st.Code()], cause: err}
	}
	return &InternalError{cause: err}
}

// IsRetryable reports whether the caller may safely re-attempt the
// operation that produced err.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) && transportErr.Retryable
}

// IsCanceled reports whether err reflects a caller-initiated
// cancellation rather than a backend failure.
func IsCanceled(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) && transportErr.Code == codes.Canceled
}

// describe flattens a classified error for reporting over the bus.
func describe(err error) (kind string, code int, retryable bool) {
	var (
		transportErr  *TransportError
		validationErr *ValidationError
	)
	switch {
	case errors.As(err, &transportErr):
		return "transport", int(transportErr.Code), transportErr.Retryable
	case errors.As(err, &validationErr):
		return string(validationErr.Kind), 0, false
	default:
		return "internal", 0, false
	}
}
