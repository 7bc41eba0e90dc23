/*
apportion.go - Two-stage proportional cost cascade

PURPOSE:
  Redistributes pooled cost categories so every rupee of expense ends up
  attributed to servicing or investment activity.

STAGE 1 - Overheads:
  With subtotals M, S, I, O and T = M+S+I, each of M/S/I receives an
  overhead share O*(x/T), rounded half-up at the currency scale. If T is
  zero the originals pass through unchanged (logged at WARN).

STAGE 2 - Mobilization:
  The overhead-loaded mobilization total is split between servicing and
  investment in proportion dl : (dl+nonDl), where dl/nonDl are average
  monthly outstanding bases (period aggregate / months, ceiling at six
  decimal places). The remainder goes to investment, so mobilization is
  always fully redistributed.

INVARIANTS (verified in apportion_test.go):
  afterOverheads.M + afterOverheads.S + afterOverheads.I == M+S+I+O
    (within one rounding unit per category)
  split.servicing + split.investment == afterOverheads.M  (exact)
*/
package charge

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// =============================================================================
// APPORTIONED TOTALS
// =============================================================================

// CategoryTriple holds one amount per primary cost category.
type CategoryTriple struct {
	Mobilization decimal.Decimal
	Servicing    decimal.Decimal
	Investment   decimal.Decimal
}

// MobilizationSplit is the stage-2 division of mobilization cost.
type MobilizationSplit struct {
	Servicing  decimal.Decimal
	Investment decimal.Decimal
}

// ApportionedTotals is the full output of the two-stage cascade.
type ApportionedTotals struct {
	// Inputs echoed for the result sheet
	Mobilization decimal.Decimal
	Servicing    decimal.Decimal
	Investment   decimal.Decimal
	Overheads    decimal.Decimal

	AfterOverheads CategoryTriple
	Split          MobilizationSplit

	FinalServicing  decimal.Decimal
	FinalInvestment decimal.Decimal
}

// =============================================================================
// APPORTIONER
// =============================================================================

// Apportioner runs the cost cascade for one reporting period.
type Apportioner struct {
	Currency CurrencyConfig
	Log      *slog.Logger
}

// Apportion cascades category subtotals into fully-allocated totals.
// dlOutstanding/nonDlOutstanding are the period-aggregate day-weighted
// outstanding totals from the balance weighter.
func (a *Apportioner) Apportion(
	subtotals map[CostCategory]CategorySubtotal,
	dlOutstanding, nonDlOutstanding decimal.Decimal,
	period ReportingPeriod,
) ApportionedTotals {

	m := subtotals[CategoryMobilization].Amount
	s := subtotals[CategoryServicing].Amount
	i := subtotals[CategoryInvestment].Amount
	o := subtotals[CategoryOverheads].Amount

	totals := ApportionedTotals{Mobilization: m, Servicing: s, Investment: i, Overheads: o}

	// Stage 1: overheads proportional to category size.
	t := m.Add(s).Add(i)
	if t.IsZero() {
		a.log().Warn("overhead apportionment base is zero; passing subtotals through unchanged",
			"overheads", o.String(), "period", period.String())
		totals.AfterOverheads = CategoryTriple{Mobilization: m, Servicing: s, Investment: i}
	} else {
		totals.AfterOverheads = CategoryTriple{
			Mobilization: m.Add(a.Currency.Round(o.Mul(m).Div(t))),
			Servicing:    s.Add(a.Currency.Round(o.Mul(s).Div(t))),
			Investment:   i.Add(a.Currency.Round(o.Mul(i).Div(t))),
		}
	}

	// Stage 2: mobilization proportional to the demand-loan outstanding base.
	dlAvg := MonthlyAverage(dlOutstanding, period.Months)
	nonDlAvg := MonthlyAverage(nonDlOutstanding, period.Months)
	base := dlAvg.Add(nonDlAvg)

	mob := totals.AfterOverheads.Mobilization
	var servicingShare decimal.Decimal
	if base.IsZero() {
		// Pass-through policy: with no outstanding base the servicing share
		// numerator is zero, so the whole amount falls to investment.
		a.log().Warn("mobilization apportionment base is zero; full share falls to investment",
			"mobilization", mob.String(), "period", period.String())
		servicingShare = decimal.Zero
	} else {
		servicingShare = a.Currency.Round(mob.Mul(dlAvg).Div(base))
	}
	totals.Split = MobilizationSplit{
		Servicing:  servicingShare,
		Investment: mob.Sub(servicingShare),
	}

	totals.FinalServicing = totals.AfterOverheads.Servicing.Add(totals.Split.Servicing)
	totals.FinalInvestment = totals.AfterOverheads.Investment.Add(totals.Split.Investment)
	return totals
}

func (a *Apportioner) log() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}

// MonthlyAverage converts a period-aggregate outstanding total into the
// average monthly base used for apportionment: total / months, rounded up
// (ceiling) at six decimal places.
func MonthlyAverage(total decimal.Decimal, months int) decimal.Decimal {
	if months <= 0 {
		return total
	}
	return total.Div(decimal.NewFromInt(int64(months))).RoundCeil(6)
}
