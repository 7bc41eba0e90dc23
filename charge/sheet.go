/*
sheet.go - Ordered row accumulator for calculation output

PURPOSE:
  The ResultSheet collects named rows of amounts produced during a
  calculation run, in insertion order, for a presentation layer to
  render as a table. It is append-only within one run and carries no
  calculation logic.

FAILURE MODE:
  Looking up a row or cell that was never populated indicates an
  orchestration bug, so lookups fail loudly with ErrRowNotFound rather
  than silently defaulting.
*/
package charge

import "github.com/shopspring/decimal"

// Row header constants written by Calculator.Execute.
const (
	RowSubtotal           = "Subtotal per Cost Category"
	RowOverheadsAllocated = "Overheads Allocation"
	RowAfterOverheads     = "Subtotal after Overheads Allocation"
	RowMobilizationSplit  = "Mobilization Allocation"
	RowTotalAllocation    = "Total Allocated Cost"
	RowMobilizationPct    = "Total Mobilization Cost p.a. (%)"
	RowServicingPerLoan   = "Loan Servicing Cost per Loan"
	RowRepaymentPer100    = "Repayment Cost per 100 Outstanding"
	RowAnnualizedCost     = "Equivalent Annualized Cost (%)"
	RowDLOutstanding      = "Avg. Demand Loan Outstanding"
	RowNonDLOutstanding   = "Avg. Non-Demand Loan Outstanding"
	RowDemandLoanCount    = "No. of Demand Loans"
	RowTotalRepayments    = "Total Loan Repayments"
)

// ResultSheet is an ordered header -> amounts accumulator.
type ResultSheet struct {
	order []string
	rows  map[string][]decimal.Decimal
}

func NewResultSheet() *ResultSheet {
	return &ResultSheet{rows: make(map[string][]decimal.Decimal)}
}

// Append adds values to a row, creating it in insertion order on first use.
func (s *ResultSheet) Append(header string, values ...decimal.Decimal) {
	if _, ok := s.rows[header]; !ok {
		s.order = append(s.order, header)
	}
	s.rows[header] = append(s.rows[header], values...)
}

// Headers returns the row headers in insertion order.
func (s *ResultSheet) Headers() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Row returns a copy of the named row's values.
func (s *ResultSheet) Row(header string) ([]decimal.Decimal, error) {
	values, ok := s.rows[header]
	if !ok {
		return nil, &RowNotFoundError{Header: header, Column: -1}
	}
	out := make([]decimal.Decimal, len(values))
	copy(out, values)
	return out, nil
}

// Cell returns a single value from the named row.
func (s *ResultSheet) Cell(header string, column int) (decimal.Decimal, error) {
	values, ok := s.rows[header]
	if !ok {
		return decimal.Zero, &RowNotFoundError{Header: header, Column: -1}
	}
	if column < 0 || column >= len(values) {
		return decimal.Zero, &RowNotFoundError{Header: header, Column: column}
	}
	return values[column], nil
}
