/*
weighter.go - Day-weighted outstanding balance aggregation

PURPOSE:
  For every loan active inside the reporting period, computes per
  sub-period month:

  - the day-weighted integral of outstanding balance: the sum of
    balance x days-held-at-that-balance, walked event-by-event between
    repayments. This is a discretized integral of balance(t), NOT an
    average of endpoints, because balance steps at each repayment.
  - the aggregated repayment total (repayment and repayment-at-
    disbursement transactions only; waivers and charge payments are
    excluded)

  and aggregates across loans into the demand / non-demand outstanding
  totals that feed the mobilization apportionment base.

WALK:
  Months are walked backward from the period's end date (the balance as
  of a month end is cheap to obtain); results are exposed in
  chronological order. Within a month the walk also runs backward:

    marker  = month end
    balance = outstanding at month end
    for each repayment event, newest first:
        sum     += balance * days(event, marker)
        balance += event amount        // undo the repayment
        marker   = event date
    sum += balance * (days(start, marker) + 1)

  A loan disbursed mid-month enters at its disbursement date, so
  pre-disbursement days never contribute. A month whose end date is on
  or before the disbursement date contributes zero.

MEMOIZATION:
  A Weighter owns a per-run memo table keyed by loan id, discarded with
  the Weighter at run end. It is NOT a long-lived cache.
*/
package charge

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PER-LOAN RESULT
// =============================================================================

// LoanBalanceRecord holds one loan's weighted figures for a reporting period.
// Outstanding[i] and Repayments[i] are indexed by sub-period month in
// chronological order.
type LoanBalanceRecord struct {
	LoanID           LoanID
	DemandLoan       bool
	DisbursementDate TimePoint
	Outstanding      []decimal.Decimal
	Repayments       []decimal.Decimal
}

// TotalOutstanding sums the day-weighted outstanding integrals over all
// sub-periods.
func (r *LoanBalanceRecord) TotalOutstanding() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r.Outstanding {
		total = total.Add(v)
	}
	return total
}

// TotalRepayments sums repayments over all sub-periods.
func (r *LoanBalanceRecord) TotalRepayments() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r.Repayments {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// PORTFOLIO AGGREGATE
// =============================================================================

// PortfolioSummary aggregates weighted figures across all loans in a period.
type PortfolioSummary struct {
	Period ReportingPeriod
	Loans  map[LoanID]*LoanBalanceRecord

	// Day-weighted outstanding totals partitioned by demand classification.
	DLOutstanding    decimal.Decimal
	NonDLOutstanding decimal.Decimal

	// Total repayments across all loans and months.
	TotalRepayments decimal.Decimal

	// Count of demand loans disbursed within the period.
	DemandLoanCount int
}

// =============================================================================
// WEIGHTER
// =============================================================================

// Weighter computes day-weighted loan balances for a single calculation run.
// Period-duration differences are a parameter (the period's sub-period list),
// not a type hierarchy.
type Weighter struct {
	products ProductCatalog
	memo     map[LoanID]*LoanBalanceRecord
}

func NewWeighter(products ProductCatalog) *Weighter {
	return &Weighter{
		products: products,
		memo:     make(map[LoanID]*LoanBalanceRecord),
	}
}

// WeighLoan computes (or returns the memoized) balance record for one loan.
func (w *Weighter) WeighLoan(ctx context.Context, loan LoanRecord, period ReportingPeriod) (*LoanBalanceRecord, error) {
	if rec, ok := w.memo[loan.ID]; ok {
		return rec, nil
	}

	demand, err := w.products.IsServiceChargeProduct(ctx, loan.ProductID)
	if err != nil {
		return nil, err
	}

	subPeriods := period.SubPeriods()
	rec := &LoanBalanceRecord{
		LoanID:           loan.ID,
		DemandLoan:       demand,
		DisbursementDate: loan.DisbursementDate,
		Outstanding:      make([]decimal.Decimal, len(subPeriods)),
		Repayments:       make([]decimal.Decimal, len(subPeriods)),
	}

	events := repaymentEvents(loan)

	// Walk months newest-first; store chronologically.
	for i := len(subPeriods) - 1; i >= 0; i-- {
		month := subPeriods[i]
		if loan.DisbursementDate.AfterOrEqual(month.To) {
			// Not yet active: zero outstanding and zero repayment.
			rec.Outstanding[i] = decimal.Zero
			rec.Repayments[i] = decimal.Zero
			continue
		}
		rec.Outstanding[i] = weighMonth(loan, events, month)
		rec.Repayments[i] = sumRepayments(events, month)
	}

	w.memo[loan.ID] = rec
	return rec, nil
}

// WeighPortfolio weighs every loan and folds the results into period
// aggregates.
func (w *Weighter) WeighPortfolio(ctx context.Context, loans []LoanRecord, period ReportingPeriod) (*PortfolioSummary, error) {
	summary := &PortfolioSummary{
		Period:           period,
		Loans:            make(map[LoanID]*LoanBalanceRecord, len(loans)),
		DLOutstanding:    decimal.Zero,
		NonDLOutstanding: decimal.Zero,
		TotalRepayments:  decimal.Zero,
	}

	for _, loan := range loans {
		rec, err := w.WeighLoan(ctx, loan, period)
		if err != nil {
			return nil, err
		}
		summary.Loans[loan.ID] = rec

		if rec.DemandLoan {
			summary.DLOutstanding = summary.DLOutstanding.Add(rec.TotalOutstanding())
			if period.Contains(loan.DisbursementDate) {
				summary.DemandLoanCount++
			}
		} else {
			summary.NonDLOutstanding = summary.NonDLOutstanding.Add(rec.TotalOutstanding())
		}
		summary.TotalRepayments = summary.TotalRepayments.Add(rec.TotalRepayments())
	}
	return summary, nil
}

// =============================================================================
// MONTH WALK
// =============================================================================

// weighMonth computes the day-weighted outstanding integral for one month.
func weighMonth(loan LoanRecord, events []LoanTransaction, month DateRange) decimal.Decimal {
	// The weighting starts at the disbursement date for the month that
	// contains it; earlier days never enter the walk.
	start := month.From
	if loan.DisbursementDate.After(start) {
		start = loan.DisbursementDate
	}

	marker := month.To
	balance := outstandingAt(loan, month.To)
	sum := decimal.Zero

	// Repayment events inside (start, month.To], newest first.
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Date.After(month.To) {
			continue
		}
		if ev.Date.BeforeOrEqual(start) {
			break
		}
		days := decimal.NewFromInt(int64(DaysBetween(ev.Date, marker)))
		sum = sum.Add(balance.Mul(days))
		balance = balance.Add(ev.Amount) // balance before the repayment
		marker = ev.Date
	}

	// Remaining span down to the start, both endpoints inclusive. A month
	// with no repayments therefore yields balance * days-in-month.
	remaining := decimal.NewFromInt(int64(DaysBetween(start, marker) + 1))
	return sum.Add(balance.Mul(remaining))
}

// sumRepayments totals repayment-classified transactions dated within the
// month, inclusive of both boundaries.
func sumRepayments(events []LoanTransaction, month DateRange) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range events {
		if month.Contains(ev.Date) {
			total = total.Add(ev.Amount)
		}
	}
	return total
}

// repaymentEvents extracts repayment-classified transactions sorted
// chronologically.
func repaymentEvents(loan LoanRecord) []LoanTransaction {
	var events []LoanTransaction
	for _, tx := range loan.Transactions {
		if tx.Type.CountsAsRepayment() {
			events = append(events, tx)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events
}

// outstandingAt replays the loan's principal history up to and including the
// given date. If the history carries no explicit disbursement transaction the
// principal is applied at the disbursement date.
func outstandingAt(loan LoanRecord, at TimePoint) decimal.Decimal {
	balance := decimal.Zero

	hasDisbursement := false
	for _, tx := range loan.Transactions {
		if tx.Type == TxDisbursement {
			hasDisbursement = true
			break
		}
	}
	if !hasDisbursement && loan.DisbursementDate.BeforeOrEqual(at) {
		balance = balance.Add(loan.Principal)
	}

	for _, tx := range loan.Transactions {
		if tx.Date.After(at) {
			continue
		}
		switch {
		case tx.Type == TxDisbursement:
			balance = balance.Add(tx.Amount)
		case tx.Type.reducesPrincipal():
			balance = balance.Sub(tx.Amount)
		}
	}

	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}
