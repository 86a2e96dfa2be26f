/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place. Every failure the engine returns carries a
  reason code so callers can tell which record or rate entry failed and
  which rule it broke.

ERROR CATEGORIES:
  1. Validation errors  - malformed or overlapping input, store unchanged
  2. Calculation errors - no applicable rate table, unknown employee
  3. Concurrency errors - optimistic version check failed, re-fetch and retry
  4. Persistence errors - store I/O failure, returned as-is, never retried

USAGE:
  var verr *payroll.ValidationError
  if errors.As(err, &verr) {
      for _, c := range verr.Conflicts { ... }
  }
  if payroll.IsRetryable(err) { ... }

SEE ALSO:
  - validation.go: Produces ValidationError
  - rates.go: Produces CalculationError on resolution
  - api/handlers.go: Maps these to HTTP status codes
*/
package payroll

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation             = errors.New("validation failed")
	ErrCalculation            = errors.New("calculation failed")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrPersistence            = errors.New("persistence failure")

	ErrRecordNotFound   = errors.New("payroll record not found")
	ErrBracketNotFound  = errors.New("tax bracket not found")
	ErrRateNotFound     = errors.New("social security rate not found")
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrDuplicate is returned by stores on a unique key violation.
	ErrDuplicate = errors.New("duplicate entry")
)

// Reason codes.
const (
	CodeInvalidField        = "invalid_field"
	CodeBracketOverlap      = "bracket_overlap"
	CodeDuplicateRate       = "duplicate_rate"
	CodeDuplicateRecord     = "duplicate_record"
	CodeRecordLocked        = "record_locked"
	CodeInvalidTable        = "invalid_rate_table"
	CodeNoRateTable         = "no_rate_table"
	CodeIncompleteRateTable = "incomplete_rate_table"
	CodeUnknownEmployee     = "unknown_employee"
	CodeInvalidTransition   = "invalid_transition"
	CodeNotCalculated       = "not_calculated"
	CodeNotFound            = "not_found"
	CodeConcurrent          = "concurrent_modification"
	CodePersistence         = "persistence_error"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects input before it reaches the engine or the store.
type ValidationError struct {
	Code    string
	Field   string
	Message string

	// Existing entries the input conflicts with.
	Conflicts    []TaxBracket
	ConflictRate *SocialSecurityRate
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if len(e.Conflicts) > 0 {
		ranges := make([]string, len(e.Conflicts))
		for i, c := range e.Conflicts {
			ranges[i] = fmt.Sprintf("%s %s", c.ID, c.Range())
		}
		fmt.Fprintf(&b, "; conflicts with %s", strings.Join(ranges, ", "))
	}
	if e.ConflictRate != nil {
		fmt.Fprintf(&b, "; conflicts with rate %s", e.ConflictRate.ID)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalidField(field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeInvalidField, Field: field, Message: fmt.Sprintf(format, args...)}
}

// CalculationError aborts a calculation. The record is not created or updated.
type CalculationError struct {
	Code       string
	Reason     string
	EmployeeID EmployeeID
	Country    string
	Period     Period
}

func (e *CalculationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Reason)
	if e.EmployeeID != "" {
		msg += fmt.Sprintf(" (employee %s)", e.EmployeeID)
	}
	if e.Country != "" {
		msg += fmt.Sprintf(" (country %s, period %s)", e.Country, e.Period)
	}
	return msg
}

func (e *CalculationError) Unwrap() error { return ErrCalculation }

// ConcurrencyError reports a stale version on update.
type ConcurrencyError struct {
	Entity   string
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently: expected version %d, found %d",
		e.Entity, e.ID, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Unwrap() error { return ErrConcurrentModification }

// PersistenceError wraps a store I/O failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the caller may re-fetch and retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrBracketNotFound) ||
		errors.Is(err, ErrRateNotFound) ||
		errors.Is(err, ErrEmployeeNotFound)
}

// ReasonCode extracts the reason code carried by err.
func ReasonCode(err error) string {
	var verr *ValidationError
	var cerr *CalculationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Code
	case errors.As(err, &cerr):
		return cerr.Code
	case errors.Is(err, ErrConcurrentModification):
		return CodeConcurrent
	case IsNotFound(err):
		return CodeNotFound
	default:
		return CodePersistence
	}
}

// persistErr wraps a raw store error unless it already is a domain error.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConcurrentModification) || IsNotFound(err) ||
		errors.Is(err, ErrDuplicate) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
