/*
errors.go - Centralized error types for the charge engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is(); structured errors carry context and
  unwrap to the sentinels.

ERROR CATEGORIES:
  1. Period resolution errors - bad month codes, bad calculation mode
  2. Calculation errors - unsupported installment adjustment
  3. Lookup errors - missing rates, loans, result-sheet rows

DIVISION BY ZERO:
  Divisions inside the calculator do NOT error on a zero divisor. The
  numerator is passed through unscaled and a warning is logged. See
  Calculator.divideOrPassThrough in calculator.go.
*/
package charge

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriodCode is returned when an explicit month/quarter code does
	// not match any recognized mapping. Fatal to the calculation run.
	ErrInvalidPeriodCode = errors.New("invalid period code")

	// ErrInvalidCalculationMode is returned when the configured calculation
	// mode is not monthly, quarterly or yearly.
	ErrInvalidCalculationMode = errors.New("invalid calculation mode")

	// ErrChargeNotFlat is returned when installment-level redistribution is
	// attempted on a charge that is not a flat-amount charge.
	ErrChargeNotFlat = errors.New("installment adjustment requires a flat charge")

	// ErrNoPendingInstallments is returned when redistribution finds no unpaid
	// installments to carry the charge.
	ErrNoPendingInstallments = errors.New("no pending installments")

	// ErrRowNotFound is returned when a result-sheet row or column was never
	// populated. This indicates an orchestration bug, not user error.
	ErrRowNotFound = errors.New("result sheet row not found")

	// ErrRateNotFound is returned when no persisted rate exists for a
	// (period kind, year, header) key.
	ErrRateNotFound = errors.New("rate not found")

	// ErrLoanNotFound is returned when a referenced loan doesn't exist.
	ErrLoanNotFound = errors.New("loan not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PeriodCodeError reports which code failed to resolve.
type PeriodCodeError struct {
	Kind PeriodKind
	Code string
}

func (e *PeriodCodeError) Error() string {
	return fmt.Sprintf("no %s period matches code %q", e.Kind, e.Code)
}

func (e *PeriodCodeError) Unwrap() error { return ErrInvalidPeriodCode }

// RowNotFoundError reports which sheet row/column was missing.
type RowNotFoundError struct {
	Header string
	Column int
}

func (e *RowNotFoundError) Error() string {
	if e.Column >= 0 {
		return fmt.Sprintf("result sheet has no value at row %q column %d", e.Header, e.Column)
	}
	return fmt.Sprintf("result sheet has no row %q", e.Header)
}

func (e *RowNotFoundError) Unwrap() error { return ErrRowNotFound }

// InstallmentAdjustmentError reports why a charge could not be redistributed.
type InstallmentAdjustmentError struct {
	ChargeID    string
	Calculation ChargeCalculation
}

func (e *InstallmentAdjustmentError) Error() string {
	return fmt.Sprintf("charge %s uses %s calculation; only flat charges can be redistributed", e.ChargeID, e.Calculation)
}

func (e *InstallmentAdjustmentError) Unwrap() error { return ErrChargeNotFlat }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriodCode) ||
		errors.Is(err, ErrInvalidCalculationMode) ||
		errors.Is(err, ErrChargeNotFlat) ||
		errors.Is(err, ErrNoPendingInstallments)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrRateNotFound) ||
		errors.Is(err, ErrRowNotFound)
}
