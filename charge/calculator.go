/*
calculator.go - Rate derivation and per-loan service charges

PURPOSE:
  Combines the classifier, the apportionment cascade and the balance
  weighter into the two calculation paths:

  PATH A - Execute(period): runs the full pipeline once per period,
  derives the reusable rate table (cost-per-100-outstanding, annualized
  cost, cost-per-loan) and persists it through the RateStore.

  PATH B - ServiceChargeForLoan(loanID, period): computes one loan's
  charge from the rate table. If the prior period's rates are already
  settled in the RateStore, Path A is skipped and the persisted rates
  are replayed.

ZERO DIVISORS:
  Every division guards a zero divisor by passing the numerator through
  unscaled instead of erroring. The behavior is deliberately lenient
  (an unconfigured or empty period must not abort a run) but risks
  silently odd output when a denominator is legitimately zero, so every
  pass-through is logged at WARN. See divideOrPassThrough.

NORMALIZER:
  Path B's mobilization cost divides by a fixed per-kind normalizer,
  100 x scale factor (monthly 1200, quarterly 400, yearly 100), which
  converts the annualized per-100 rate back into the period's share.
*/
package charge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE TABLE
// =============================================================================

// Persisted rate headers. One RateStore row per header per (kind, year).
const (
	HeaderMobilizationPercent = "mobilization-percent"
	HeaderServicingPerLoan    = "servicing-per-loan"
	HeaderRepaymentPer100     = "repayment-per-100"
	HeaderAnnualizedCost      = "annualized-cost"
)

var rateHeaders = []string{
	HeaderMobilizationPercent,
	HeaderServicingPerLoan,
	HeaderRepaymentPer100,
	HeaderAnnualizedCost,
}

// RateTable is the reusable output of one Path A run.
type RateTable struct {
	Kind PeriodKind
	Year int

	// Mobilization cost as a percentage of average demand-loan outstanding.
	MobilizationPercent decimal.Decimal

	// Overhead-loaded servicing cost divided across demand loans.
	ServicingPerLoan decimal.Decimal

	// Brought-forward servicing cost per 100 units repaid.
	RepaymentPer100 decimal.Decimal

	// MobilizationPercent scaled to a yearly equivalent.
	AnnualizedCost decimal.Decimal
}

// =============================================================================
// RUN - Everything one Path A execution produced
// =============================================================================

type Run struct {
	Period    ReportingPeriod
	Subtotals map[CostCategory]CategorySubtotal
	Totals    ApportionedTotals
	Portfolio *PortfolioSummary
	Rates     RateTable
	Sheet     *ResultSheet
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator wires the engine's collaborators together. One Calculator may
// serve many runs; all per-run state (weigher memo tables, sheets) is scoped
// to the run.
type Calculator struct {
	Journal  JournalReader
	Loans    LoanReader
	Products ProductCatalog
	Rates    RateStore
	Currency CurrencyConfig
	Log      *slog.Logger
}

func NewCalculator(journal JournalReader, loans LoanReader, products ProductCatalog, rates RateStore, currency CurrencyConfig, log *slog.Logger) *Calculator {
	if log == nil {
		log = slog.Default()
	}
	return &Calculator{
		Journal:  journal,
		Loans:    loans,
		Products: products,
		Rates:    rates,
		Currency: currency,
		Log:      log,
	}
}

// =============================================================================
// PATH A - RATE DERIVATION
// =============================================================================

// Execute runs the full calculation pipeline for a period: classify postings,
// weigh loan balances, cascade costs, derive rates, persist them and populate
// the result sheet.
func (c *Calculator) Execute(ctx context.Context, period ReportingPeriod) (*Run, error) {
	postings, err := c.Journal.LedgerPostings(ctx, period.From, period.To)
	if err != nil {
		return nil, err
	}
	subtotals := ClassifyPostings(postings, period)

	loans, err := c.Loans.LoansActiveIn(ctx, period.From, period.To)
	if err != nil {
		return nil, err
	}
	weighter := NewWeighter(c.Products)
	portfolio, err := weighter.WeighPortfolio(ctx, loans, period)
	if err != nil {
		return nil, err
	}

	apportioner := &Apportioner{Currency: c.Currency, Log: c.Log}
	totals := apportioner.Apportion(subtotals, portfolio.DLOutstanding, portfolio.NonDLOutstanding, period)

	rates := c.deriveRates(period, subtotals, totals, portfolio)

	for _, header := range rateHeaders {
		amount, lookupErr := rates.value(header)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if err := c.Rates.Put(ctx, period.Kind, period.Year, header, amount); err != nil {
			return nil, err
		}
	}

	run := &Run{
		Period:    period,
		Subtotals: subtotals,
		Totals:    totals,
		Portfolio: portfolio,
		Rates:     rates,
		Sheet:     buildSheet(period, totals, portfolio, rates),
	}
	return run, nil
}

func (c *Calculator) deriveRates(
	period ReportingPeriod,
	subtotals map[CostCategory]CategorySubtotal,
	totals ApportionedTotals,
	portfolio *PortfolioSummary,
) RateTable {

	hundred := decimal.NewFromInt(100)
	dlAvg := MonthlyAverage(portfolio.DLOutstanding, period.Months)

	mobilizationPercent := c.divideOrPassThrough(
		totals.Split.Servicing, dlAvg, "mobilization percent").Mul(hundred)

	servicingPerLoan := c.divideOrPassThrough(
		totals.AfterOverheads.Servicing,
		decimal.NewFromInt(int64(portfolio.DemandLoanCount)),
		"servicing cost per loan")

	repaymentPer100 := c.divideOrPassThrough(
		subtotals[CategoryBFServicing].Amount,
		portfolio.TotalRepayments,
		"repayment cost per 100").Mul(hundred)

	annualized := mobilizationPercent.Mul(decimal.NewFromInt(period.ScaleFactor()))

	return RateTable{
		Kind:                period.Kind,
		Year:                period.Year,
		MobilizationPercent: mobilizationPercent,
		ServicingPerLoan:    servicingPerLoan,
		RepaymentPer100:     repaymentPer100,
		AnnualizedCost:      annualized,
	}
}

// divideOrPassThrough is the named zero-divisor policy: when the denominator
// is zero the numerator is returned unscaled instead of raising an error.
// Every pass-through is logged; a legitimately zero denominator would
// otherwise surface as silently wrong output.
func (c *Calculator) divideOrPassThrough(numerator, denominator decimal.Decimal, what string) decimal.Decimal {
	if denominator.IsZero() {
		c.Log.Warn("zero divisor; passing numerator through unscaled",
			"quantity", what, "numerator", numerator.String())
		return numerator
	}
	return numerator.Div(denominator)
}

func (t RateTable) value(header string) (decimal.Decimal, error) {
	switch header {
	case HeaderMobilizationPercent:
		return t.MobilizationPercent, nil
	case HeaderServicingPerLoan:
		return t.ServicingPerLoan, nil
	case HeaderRepaymentPer100:
		return t.RepaymentPer100, nil
	case HeaderAnnualizedCost:
		return t.AnnualizedCost, nil
	default:
		return decimal.Zero, ErrRateNotFound
	}
}

// SettledRates loads a fully persisted rate table for (kind, year).
// Returns ErrRateNotFound unless every header is present.
func (c *Calculator) SettledRates(ctx context.Context, kind PeriodKind, year int) (RateTable, error) {
	table := RateTable{Kind: kind, Year: year}
	for _, header := range rateHeaders {
		amount, err := c.Rates.Get(ctx, kind, year, header)
		if err != nil {
			return RateTable{}, err
		}
		switch header {
		case HeaderMobilizationPercent:
			table.MobilizationPercent = amount
		case HeaderServicingPerLoan:
			table.ServicingPerLoan = amount
		case HeaderRepaymentPer100:
			table.RepaymentPer100 = amount
		case HeaderAnnualizedCost:
			table.AnnualizedCost = amount
		}
	}
	return table, nil
}

// ratesFor returns the rate table to charge against: settled prior-period
// rates when available, otherwise a fresh Path A execution for the period.
func (c *Calculator) ratesFor(ctx context.Context, period ReportingPeriod) (RateTable, error) {
	prev := period.Previous()
	table, err := c.SettledRates(ctx, prev.Kind, prev.Year)
	if err == nil {
		return table, nil
	}
	if !errors.Is(err, ErrRateNotFound) {
		return RateTable{}, err
	}

	run, err := c.Execute(ctx, period)
	if err != nil {
		return RateTable{}, err
	}
	return run.Rates, nil
}

// =============================================================================
// PATH B - PER-LOAN CHARGE
// =============================================================================

// ServiceChargeForLoan computes the service charge for one loan over the
// period, rounded at the currency scale.
func (c *Calculator) ServiceChargeForLoan(ctx context.Context, id LoanID, period ReportingPeriod) (decimal.Decimal, error) {
	rates, err := c.ratesFor(ctx, period)
	if err != nil {
		return decimal.Zero, err
	}

	loan, err := c.Loans.Loan(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	weighter := NewWeighter(c.Products)
	rec, err := weighter.WeighLoan(ctx, loan, period)
	if err != nil {
		return decimal.Zero, err
	}

	charge := c.ChargeFromRates(rates, period,
		period.Contains(loan.DisbursementDate),
		rec.TotalOutstanding(),
		rec.TotalRepayments())
	return charge, nil
}

// ChargeFromRates applies the per-loan charge formula:
//
//	disbursement bonus (servicing-per-loan, only for loans disbursed in
//	the period)
//	+ outstanding x repayment-per-100 / normalizer
//	+ repayments  x annualized-cost / 100
func (c *Calculator) ChargeFromRates(
	rates RateTable,
	period ReportingPeriod,
	disbursedInPeriod bool,
	totalOutstanding, totalRepayments decimal.Decimal,
) decimal.Decimal {

	charge := decimal.Zero
	if disbursedInPeriod {
		charge = charge.Add(rates.ServicingPerLoan)
	}

	mobilizationCost := totalOutstanding.Mul(rates.RepaymentPer100).Div(period.Normalizer())
	repaymentCost := totalRepayments.Mul(rates.AnnualizedCost).Div(decimal.NewFromInt(100))

	return c.Currency.Round(charge.Add(mobilizationCost).Add(repaymentCost))
}

// =============================================================================
// PRE-DISBURSEMENT ESTIMATE
// =============================================================================

// Estimate is the hypothetical charge for a not-yet-disbursed principal.
type Estimate struct {
	Total          decimal.Decimal
	PerInstallment decimal.Decimal
}

// ServiceChargeForPrincipal estimates the charge for a loan about to be
// disbursed: the full principal is assumed outstanding for the whole period
// and no repayments have been made yet.
func (c *Calculator) ServiceChargeForPrincipal(ctx context.Context, principal decimal.Decimal, numberOfRepayments int, period ReportingPeriod) (Estimate, error) {
	rates, err := c.ratesFor(ctx, period)
	if err != nil {
		return Estimate{}, err
	}

	outstanding := principal.Mul(decimal.NewFromInt(int64(period.Days())))
	total := c.ChargeFromRates(rates, period, true, outstanding, decimal.Zero)

	per := total
	if numberOfRepayments > 0 {
		per = c.Currency.Round(total.Div(decimal.NewFromInt(int64(numberOfRepayments))))
	}
	return Estimate{Total: total, PerInstallment: per}, nil
}

// =============================================================================
// INSTALLMENT REDISTRIBUTION
// =============================================================================

// RedistributeCharge divides a freshly computed per-loan charge evenly across
// the loan's pending installments, replacing any previously generated
// installment-level entries.
//
// Pending means unpaid and not produced by interest recalculation. Paid
// installments keep their historical charge and are excluded from the count.
// The last pending installment absorbs the rounding remainder so the pending
// charges always sum exactly to the per-loan total. Old charge entries are
// detached by issuing fresh entry IDs.
func RedistributeCharge(chargeDef LoanCharge, total decimal.Decimal, installments []Installment, currency CurrencyConfig) ([]Installment, error) {
	if chargeDef.Calculation != ChargeFlat {
		return nil, &InstallmentAdjustmentError{ChargeID: chargeDef.ID, Calculation: chargeDef.Calculation}
	}

	var pending []int
	for i, inst := range installments {
		if !inst.Paid && !inst.InterestRecalculated {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil, ErrNoPendingInstallments
	}

	out := make([]Installment, len(installments))
	copy(out, installments)

	n := decimal.NewFromInt(int64(len(pending)))
	per := currency.Round(total.Div(n))

	distributed := decimal.Zero
	for k, i := range pending {
		amount := per
		if k == len(pending)-1 {
			amount = total.Sub(distributed)
		}
		out[i].Charge = amount
		out[i].ChargeEntryID = uuid.NewString()
		distributed = distributed.Add(amount)
	}
	return out, nil
}

// =============================================================================
// BULK RECALCULATION
// =============================================================================

// LoanOutcome is one loan's result from a bulk recalculation.
type LoanOutcome struct {
	LoanID LoanID
	Amount decimal.Decimal
	Err    error
}

// BulkResult collects per-loan outcomes so callers can distinguish "all
// succeeded" from "N of M failed". One bad loan never aborts the batch.
type BulkResult struct {
	RunID    string
	Period   ReportingPeriod
	Outcomes []LoanOutcome
}

// Failed returns the outcomes that carried an error.
func (r *BulkResult) Failed() []LoanOutcome {
	var failed []LoanOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// RecalculateAll computes the charge for every loan active in the period.
// Rate derivation happens once; per-loan failures are collected and logged.
func (c *Calculator) RecalculateAll(ctx context.Context, period ReportingPeriod) (*BulkResult, error) {
	rates, err := c.ratesFor(ctx, period)
	if err != nil {
		return nil, err
	}

	loans, err := c.Loans.LoansActiveIn(ctx, period.From, period.To)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{
		RunID:  uuid.NewString(),
		Period: period,
	}

	weighter := NewWeighter(c.Products)
	for _, loan := range loans {
		rec, werr := weighter.WeighLoan(ctx, loan, period)
		if werr != nil {
			c.Log.Error("loan charge recalculation failed",
				"run_id", result.RunID, "loan_id", string(loan.ID), "error", werr)
			result.Outcomes = append(result.Outcomes, LoanOutcome{LoanID: loan.ID, Err: werr})
			continue
		}
		amount := c.ChargeFromRates(rates, period,
			period.Contains(loan.DisbursementDate),
			rec.TotalOutstanding(), rec.TotalRepayments())
		result.Outcomes = append(result.Outcomes, LoanOutcome{LoanID: loan.ID, Amount: amount})
	}

	c.Log.Info("bulk recalculation finished",
		"run_id", result.RunID, "period", period.String(),
		"loans", len(result.Outcomes), "failed", len(result.Failed()))
	return result, nil
}

// =============================================================================
// SHEET ASSEMBLY
// =============================================================================

// buildSheet lays out one run's figures as ordered result rows. Columns for
// the cascade rows are mobilization, servicing, investment.
func buildSheet(period ReportingPeriod, totals ApportionedTotals, portfolio *PortfolioSummary, rates RateTable) *ResultSheet {
	sheet := NewResultSheet()

	sheet.Append(RowSubtotal, totals.Mobilization, totals.Servicing, totals.Investment, totals.Overheads)
	sheet.Append(RowOverheadsAllocated,
		totals.AfterOverheads.Mobilization.Sub(totals.Mobilization),
		totals.AfterOverheads.Servicing.Sub(totals.Servicing),
		totals.AfterOverheads.Investment.Sub(totals.Investment))
	sheet.Append(RowAfterOverheads,
		totals.AfterOverheads.Mobilization,
		totals.AfterOverheads.Servicing,
		totals.AfterOverheads.Investment)
	sheet.Append(RowMobilizationSplit, decimal.Zero, totals.Split.Servicing, totals.Split.Investment)
	sheet.Append(RowTotalAllocation, decimal.Zero, totals.FinalServicing, totals.FinalInvestment)

	sheet.Append(RowDLOutstanding, MonthlyAverage(portfolio.DLOutstanding, period.Months))
	sheet.Append(RowNonDLOutstanding, MonthlyAverage(portfolio.NonDLOutstanding, period.Months))
	sheet.Append(RowDemandLoanCount, decimal.NewFromInt(int64(portfolio.DemandLoanCount)))
	sheet.Append(RowTotalRepayments, portfolio.TotalRepayments)

	sheet.Append(RowMobilizationPct, rates.MobilizationPercent)
	sheet.Append(RowServicingPerLoan, rates.ServicingPerLoan)
	sheet.Append(RowRepaymentPer100, rates.RepaymentPer100)
	sheet.Append(RowAnnualizedCost, rates.AnnualizedCost)

	return sheet
}
