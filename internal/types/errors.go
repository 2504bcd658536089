package types

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies a pipeline failure into the finite taxonomy shared by
// every component. Validation and not-found failures are never retried;
// exchange, database and timeout failures are retried per the active
// resilience policy before surfacing.
type Reason string

const (
	ReasonValidation          Reason = "VALIDATION_ERROR"
	ReasonNotFound            Reason = "NOT_FOUND"
	ReasonInsufficientBalance Reason = "INSUFFICIENT_BALANCE"
	ReasonExchangeAPI         Reason = "EXCHANGE_API_ERROR"
	ReasonOrderExecution      Reason = "ORDER_EXECUTION_FAILED"
	ReasonDatabase            Reason = "DATABASE_ERROR"
	ReasonServiceUnavailable  Reason = "SERVICE_UNAVAILABLE"
	ReasonIdempotencyConflict Reason = "IDEMPOTENCY_CONFLICT"
	ReasonUnknown             Reason = "UNKNOWN"
)

// Retryable reports whether a failure with this reason may be retried.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonValidation, ReasonNotFound, ReasonInsufficientBalance, ReasonIdempotencyConflict:
		return false
	default:
		return true
	}
}

// PipelineError carries a classified failure through the pipeline: the
// machine reason, a human message and an optional field-level detail map for
// validation failures.
type PipelineError struct {
	Reason  Reason            `json:"reason"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError builds a PipelineError with a formatted message.
func NewError(reason Reason, format string, args ...any) *PipelineError {
	return &PipelineError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a reason and message to an underlying error.
func WrapError(reason Reason, err error, format string, args ...any) *PipelineError {
	return &PipelineError{Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

// ValidationError builds a validation failure with a field-level error map.
func ValidationError(message string, fields map[string]string) *PipelineError {
	return &PipelineError{Reason: ReasonValidation, Message: message, Fields: fields}
}

// Classify maps an arbitrary error onto the failure taxonomy. PipelineErrors
// keep their reason; context deadline errors become service-unavailable;
// anything else is unknown.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonServiceUnavailable
	}
	return ReasonUnknown
}
