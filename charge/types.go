/*
Package charge provides the service charge calculation engine.

PURPOSE:
  This package contains the core algorithms for computing a periodic
  service charge - a cost-recovery fee allocated to active loans:

  1. Classify general-ledger expense postings into cost categories
  2. Cascade those costs through a two-stage proportional apportionment
  3. Weight each loan's outstanding balance by days held (a discretized
     integral of balance over time)
  4. Derive a reusable rate table and per-loan charge amounts

KEY CONCEPTS IN THIS FILE (types.go):
  - CostCategory: Named expense bucket (mobilization, servicing, ...)
  - LedgerPosting: One GL expense posting, tagged by category
  - LoanRecord: Loan snapshot with its transaction history
  - CurrencyConfig: Decimal scale and rounding mode for money amounts

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Explicit periods: A ReportingPeriod is always passed in, never a
     process-wide "current period" (see period.go)
  3. Run-scoped state: Memoization tables live for one calculation run

SEE ALSO:
  - period.go: Reporting period resolution
  - classifier.go: Posting classification
  - apportion.go: Two-stage cost cascade
  - weighter.go: Day-weighted outstanding balances
  - calculator.go: Rate derivation and per-loan charges
*/
package charge

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COST CATEGORIES
// =============================================================================

// CostCategory tags a GL expense account with the cost bucket it belongs to.
type CostCategory string

const (
	CategoryMobilization CostCategory = "mobilization"
	CategoryServicing    CostCategory = "servicing"
	CategoryInvestment   CostCategory = "investment"
	CategoryOverheads    CostCategory = "overheads"
	CategoryProvisions   CostCategory = "provisions"
	// CategoryBFServicing is the servicing cost brought forward from a prior
	// period. It is the numerator of the repayment-cost-per-100 rate.
	CategoryBFServicing CostCategory = "bf-servicing"
)

// AllCategories lists every category in classification order.
var AllCategories = []CostCategory{
	CategoryMobilization,
	CategoryServicing,
	CategoryInvestment,
	CategoryOverheads,
	CategoryProvisions,
	CategoryBFServicing,
}

// GLTag returns the tag name carried by GL accounts of this category.
func (c CostCategory) GLTag() string { return string(c) }

// CategorySubtotal is the signed net (debits minus credits) of one category's
// postings within a reporting period.
type CategorySubtotal struct {
	Category CostCategory
	Amount   decimal.Decimal
}

// =============================================================================
// LEDGER POSTINGS
// =============================================================================

// LedgerPosting is one general-ledger expense posting as supplied by the
// journal-entry read service.
type LedgerPosting struct {
	GLAccountID string
	Tag         string
	Date        TimePoint
	Amount      decimal.Decimal
	Debit       bool
}

// =============================================================================
// LOANS
// =============================================================================

type LoanID string
type ProductID string

// TransactionType classifies a loan transaction for balance weighting.
type TransactionType string

const (
	TxDisbursement            TransactionType = "disbursement"
	TxRepayment               TransactionType = "repayment"
	TxRepaymentAtDisbursement TransactionType = "repayment_at_disbursement"
	TxWaiveCharges            TransactionType = "waive_charges"
	TxChargePayment           TransactionType = "charge_payment"
)

// CountsAsRepayment reports whether a transaction reduces principal for the
// purpose of monthly repayment aggregation. Waivers and charge payments do not.
func (t TransactionType) CountsAsRepayment() bool {
	return t == TxRepayment || t == TxRepaymentAtDisbursement
}

// reducesPrincipal reports whether the transaction lowers the outstanding
// balance when replaying loan history.
func (t TransactionType) reducesPrincipal() bool {
	return t == TxRepayment || t == TxRepaymentAtDisbursement
}

// LoanTransaction is a dated principal movement on a loan.
type LoanTransaction struct {
	Date   TimePoint
	Amount decimal.Decimal
	Type   TransactionType
}

// LoanRecord is a loan snapshot as supplied by the loan read service.
type LoanRecord struct {
	ID               LoanID
	ProductID        ProductID
	DisbursementDate TimePoint
	Principal        decimal.Decimal
	Transactions     []LoanTransaction
}

// =============================================================================
// INSTALLMENTS (for charge redistribution)
// =============================================================================

// ChargeCalculation identifies how a loan charge is computed. Only flat
// charges support installment-level redistribution.
type ChargeCalculation string

const (
	ChargeFlat    ChargeCalculation = "flat"
	ChargePercent ChargeCalculation = "percent"
)

// LoanCharge is the charge definition attached to a loan.
type LoanCharge struct {
	ID          string
	Calculation ChargeCalculation
	Amount      decimal.Decimal
}

// Installment is one repayment schedule entry. ChargeEntryID links the
// installment to its generated charge entry; redistribution detaches old
// entries by issuing fresh IDs.
type Installment struct {
	Number               int
	DueDate              TimePoint
	Paid                 bool
	InterestRecalculated bool
	Charge               decimal.Decimal
	ChargeEntryID        string
}

// =============================================================================
// CURRENCY
// =============================================================================

// RoundingMode selects how amounts are rounded at the currency scale.
type RoundingMode string

const (
	RoundHalfUp   RoundingMode = "half-up"
	RoundHalfEven RoundingMode = "half-even"
)

// CurrencyConfig carries the currency's decimal scale and rounding mode.
type CurrencyConfig struct {
	Scale    int32
	Rounding RoundingMode
}

// DefaultCurrency matches the common two-decimal, half-up configuration.
var DefaultCurrency = CurrencyConfig{Scale: 2, Rounding: RoundHalfUp}

// Round rounds an amount to the currency scale using the configured mode.
func (c CurrencyConfig) Round(d decimal.Decimal) decimal.Decimal {
	if c.Rounding == RoundHalfEven {
		return d.RoundBank(c.Scale)
	}
	return d.Round(c.Scale)
}

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================
// The engine consumes loans, postings, product flags and persisted rates
// through these interfaces. Implementations live in charge/store (in-memory)
// and store/sqlite.

// JournalReader supplies ledger postings for a date range.
type JournalReader interface {
	LedgerPostings(ctx context.Context, from, to TimePoint) ([]LedgerPosting, error)
}

// LoanReader supplies loan records.
type LoanReader interface {
	// LoansActiveIn returns loans active at any point in [from, to].
	LoansActiveIn(ctx context.Context, from, to TimePoint) ([]LoanRecord, error)

	// Loan returns a single loan. Returns ErrLoanNotFound if absent.
	Loan(ctx context.Context, id LoanID) (LoanRecord, error)
}

// ProductCatalog answers demand-loan classification: a demand loan is one
// whose product carries the service charge fee.
type ProductCatalog interface {
	IsServiceChargeProduct(ctx context.Context, id ProductID) (bool, error)
}

// RateStore persists derived rates keyed by (period kind, year, header).
// Settled rates let later per-loan calculations skip rate derivation.
type RateStore interface {
	// Get returns a persisted rate. Returns ErrRateNotFound if absent.
	Get(ctx context.Context, kind PeriodKind, year int, header string) (decimal.Decimal, error)

	// Put stores a rate, overwriting any previous value for the key.
	Put(ctx context.Context, kind PeriodKind, year int, header string, amount decimal.Decimal) error
}
