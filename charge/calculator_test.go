package charge_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/charge-engine/charge"
	"github.com/warp/charge-engine/charge/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCalculator(mem *store.Memory) *charge.Calculator {
	return charge.NewCalculator(mem, mem, mem, mem, charge.DefaultCurrency, quietLogger())
}

// seedQuarter populates a memory store with the standing Q1 2025 fixture:
// two loans at constant 2000 principal (one demand, one term) and a ledger
// whose category subtotals cascade to round figures.
func seedQuarter(t *testing.T) (*store.Memory, charge.ReportingPeriod) {
	t.Helper()
	mem := store.NewMemory()
	mem.SetServiceChargeProduct("demand-product", true)
	mem.SetServiceChargeProduct("term-product", false)

	mem.AddLoan(demandLoan("L-1", 2000, date(2025, time.January, 1),
		repayment(date(2025, time.March, 31), 300)))
	mem.AddLoan(charge.LoanRecord{
		ID:               "L-2",
		ProductID:        "term-product",
		DisbursementDate: date(2024, time.October, 1),
		Principal:        decimal.NewFromInt(2000),
	})

	mem.AddPosting(posting("mobilization", date(2025, time.January, 15), 1000, true))
	mem.AddPosting(posting("servicing", date(2025, time.February, 10), 2500, true))
	mem.AddPosting(posting("servicing", date(2025, time.February, 20), 500, false))
	mem.AddPosting(posting("investment", date(2025, time.March, 5), 3000, true))
	mem.AddPosting(posting("overheads", date(2025, time.January, 31), 1200, true))
	mem.AddPosting(posting("bf-servicing", date(2025, time.February, 1), 150, true))
	// Noise the cascade must ignore
	mem.AddPosting(posting("provisions", date(2025, time.January, 8), 9999, true))
	mem.AddPosting(posting("stationery", date(2025, time.January, 9), 777, true))

	return mem, mustResolveCode(t, charge.Quarterly, "jan-mar", 2025)
}

func seedPriorRates(mem *store.Memory, kind charge.PeriodKind, year int, mob, perLoan, per100, annual int64) {
	ctx := context.Background()
	_ = mem.Put(ctx, kind, year, charge.HeaderMobilizationPercent, decimal.NewFromInt(mob))
	_ = mem.Put(ctx, kind, year, charge.HeaderServicingPerLoan, decimal.NewFromInt(perLoan))
	_ = mem.Put(ctx, kind, year, charge.HeaderRepaymentPer100, decimal.NewFromInt(per100))
	_ = mem.Put(ctx, kind, year, charge.HeaderAnnualizedCost, decimal.NewFromInt(annual))
}

// =============================================================================
// PATH A - RATE DERIVATION
// =============================================================================

func TestExecute_DerivesQuarterlyRates(t *testing.T) {
	// GIVEN: The Q1 2025 fixture
	// WHEN: Running the full pipeline
	// THEN: The cascade and rate table come out at the hand-computed figures

	mem, period := seedQuarter(t)
	calc := newCalculator(mem)

	run, err := calc.Execute(context.Background(), period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Day-weighted bases: both loans hold 2000 through the quarter.
	if !run.Portfolio.DLOutstanding.Equal(decimal.NewFromInt(180000)) {
		t.Errorf("expected demand outstanding 180000, got %s", run.Portfolio.DLOutstanding)
	}
	if !run.Portfolio.NonDLOutstanding.Equal(decimal.NewFromInt(180000)) {
		t.Errorf("expected non-demand outstanding 180000, got %s", run.Portfolio.NonDLOutstanding)
	}
	if !run.Portfolio.TotalRepayments.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected total repayments 300, got %s", run.Portfolio.TotalRepayments)
	}
	if run.Portfolio.DemandLoanCount != 1 {
		t.Errorf("expected 1 demand loan, got %d", run.Portfolio.DemandLoanCount)
	}

	// Cascade: overheads 1200 over T=6000, then mobilization 1200 split 50/50.
	if !run.Totals.AfterOverheads.Servicing.Equal(decimal.NewFromInt(2400)) {
		t.Errorf("expected servicing after overheads 2400, got %s", run.Totals.AfterOverheads.Servicing)
	}
	if !run.Totals.FinalServicing.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("expected final servicing 3000, got %s", run.Totals.FinalServicing)
	}
	if !run.Totals.FinalInvestment.Equal(decimal.NewFromInt(4200)) {
		t.Errorf("expected final investment 4200, got %s", run.Totals.FinalInvestment)
	}

	// Rates: 600/60000*100, 2400/1, 150/300*100, 1*4.
	if !run.Rates.MobilizationPercent.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected mobilization percent 1, got %s", run.Rates.MobilizationPercent)
	}
	if !run.Rates.ServicingPerLoan.Equal(decimal.NewFromInt(2400)) {
		t.Errorf("expected servicing per loan 2400, got %s", run.Rates.ServicingPerLoan)
	}
	if !run.Rates.RepaymentPer100.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected repayment per 100 of 50, got %s", run.Rates.RepaymentPer100)
	}
	if !run.Rates.AnnualizedCost.Equal(decimal.NewFromInt(4)) {
		t.Errorf("expected annualized cost 4, got %s", run.Rates.AnnualizedCost)
	}
}

func TestExecute_AnnualizedCostScalesMobilizationPercent(t *testing.T) {
	// GIVEN: A ledger whose cascade yields a 2% mobilization rate
	// WHEN: Running quarterly
	// THEN: The annualized cost is 2 x 4 = 8

	mem := store.NewMemory()
	mem.SetServiceChargeProduct("demand-product", true)
	mem.SetServiceChargeProduct("term-product", false)
	mem.AddLoan(demandLoan("L-1", 2000, date(2024, time.June, 1)))
	mem.AddLoan(charge.LoanRecord{
		ID:               "L-2",
		ProductID:        "term-product",
		DisbursementDate: date(2024, time.June, 1),
		Principal:        decimal.NewFromInt(2000),
	})
	// No overheads: mobilization stays 2400 and splits evenly over the
	// equal 60000 demand / non-demand bases, so 1200/60000 = 2%.
	mem.AddPosting(posting("mobilization", date(2025, time.January, 15), 2400, true))
	mem.AddPosting(posting("servicing", date(2025, time.February, 10), 1000, true))
	mem.AddPosting(posting("investment", date(2025, time.March, 5), 1000, true))

	period := mustResolveCode(t, charge.Quarterly, "jan-mar", 2025)
	run, err := newCalculator(mem).Execute(context.Background(), period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !run.Rates.MobilizationPercent.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected mobilization percent 2, got %s", run.Rates.MobilizationPercent)
	}
	if !run.Rates.AnnualizedCost.Equal(decimal.NewFromInt(8)) {
		t.Errorf("expected annualized cost 8, got %s", run.Rates.AnnualizedCost)
	}
}

func TestExecute_PersistsEveryRateHeader(t *testing.T) {
	mem, period := seedQuarter(t)
	calc := newCalculator(mem)

	if _, err := calc.Execute(context.Background(), period); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table, err := calc.SettledRates(context.Background(), charge.Quarterly, 2025)
	if err != nil {
		t.Fatalf("expected settled rates after execution, got %v", err)
	}
	if !table.ServicingPerLoan.Equal(decimal.NewFromInt(2400)) {
		t.Errorf("expected persisted servicing per loan 2400, got %s", table.ServicingPerLoan)
	}
}

func TestExecute_EmptyPortfolio_ZeroDivisorPassThrough(t *testing.T) {
	// GIVEN: Postings but no loans at all
	// THEN: Rate numerators pass through unscaled instead of erroring

	mem := store.NewMemory()
	mem.AddPosting(posting("servicing", date(2025, time.January, 10), 2000, true))
	mem.AddPosting(posting("bf-servicing", date(2025, time.January, 11), 150, true))
	period := mustResolveCode(t, charge.Quarterly, "jan-mar", 2025)
	calc := newCalculator(mem)

	run, err := calc.Execute(context.Background(), period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !run.Rates.ServicingPerLoan.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("expected servicing numerator passed through (2000), got %s", run.Rates.ServicingPerLoan)
	}
	if !run.Rates.RepaymentPer100.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("expected bf numerator passed through x100 (15000), got %s", run.Rates.RepaymentPer100)
	}
}

func TestSettledRates_MissingHeaderFails(t *testing.T) {
	mem := store.NewMemory()
	_ = mem.Put(context.Background(), charge.Quarterly, 2024, charge.HeaderServicingPerLoan, decimal.NewFromInt(50))
	calc := newCalculator(mem)

	_, err := calc.SettledRates(context.Background(), charge.Quarterly, 2024)
	if !errors.Is(err, charge.ErrRateNotFound) {
		t.Fatalf("expected ErrRateNotFound for a partial table, got %v", err)
	}
}

// =============================================================================
// PATH B - PER-LOAN CHARGE
// =============================================================================

func TestServiceChargeForLoan_FreshRates(t *testing.T) {
	// GIVEN: No settled prior-period rates
	// WHEN: Charging the demand loan for Q1 2025
	// THEN: Path A runs inline and the charge is
	//       2400 + 180000*50/400 + 300*4/100 = 24912

	mem, period := seedQuarter(t)
	calc := newCalculator(mem)

	amount, err := calc.ServiceChargeForLoan(context.Background(), "L-1", period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !amount.Equal(decimal.NewFromInt(24912)) {
		t.Errorf("expected charge 24912, got %s", amount)
	}
}

func TestServiceChargeForLoan_SettledPriorRatesSkipDerivation(t *testing.T) {
	// GIVEN: Q4 2024 rates already settled and an empty ledger
	// WHEN: Charging for Q1 2025
	// THEN: The persisted rates are replayed; no Q1 derivation happens

	mem := store.NewMemory()
	mem.SetServiceChargeProduct("demand-product", true)
	mem.AddLoan(demandLoan("L-1", 2000, date(2025, time.January, 1),
		repayment(date(2025, time.March, 31), 300)))
	seedPriorRates(mem, charge.Quarterly, 2024, 2, 50, 3, 12)

	period := mustResolveCode(t, charge.Quarterly, "jan-mar", 2025)
	calc := newCalculator(mem)

	amount, err := calc.ServiceChargeForLoan(context.Background(), "L-1", period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 50 + 180000*3/400 + 300*12/100 = 50 + 1350 + 36
	if !amount.Equal(decimal.NewFromInt(1436)) {
		t.Errorf("expected charge 1436 from settled rates, got %s", amount)
	}

	// A fresh derivation would have persisted Q1 2025 rates.
	_, err = mem.Get(context.Background(), charge.Quarterly, 2025, charge.HeaderServicingPerLoan)
	if !errors.Is(err, charge.ErrRateNotFound) {
		t.Errorf("expected no Q1 2025 rates to be written, got %v", err)
	}
}

func TestServiceChargeForLoan_UnknownLoan(t *testing.T) {
	mem, period := seedQuarter(t)
	calc := newCalculator(mem)

	_, err := calc.ServiceChargeForLoan(context.Background(), "missing", period)
	if !errors.Is(err, charge.ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestChargeFromRates_NormalizerVariesByKind(t *testing.T) {
	// The mobilization term divides by 1200/400/100 depending on the
	// calculation mode; the bonus and repayment terms do not change.
	calc := newCalculator(store.NewMemory())
	rates := charge.RateTable{
		ServicingPerLoan: decimal.NewFromInt(50),
		RepaymentPer100:  decimal.NewFromInt(3),
		AnnualizedCost:   decimal.NewFromInt(12),
	}
	outstanding := decimal.NewFromInt(10000)
	repayments := decimal.NewFromInt(500)

	cases := []struct {
		kind charge.PeriodKind
		code string
		want int64
	}{
		{charge.Monthly, "jan", 135},  // 50 + 10000*3/1200 + 500*12/100
		{charge.Quarterly, "q1", 185}, // 50 + 10000*3/400 + 60
		{charge.Yearly, "", 410},      // 50 + 10000*3/100 + 60
	}
	for _, tc := range cases {
		period := mustResolveCode(t, tc.kind, tc.code, 2025)
		got := calc.ChargeFromRates(rates, period, true, outstanding, repayments)
		if !got.Equal(decimal.NewFromInt(tc.want)) {
			t.Errorf("%s: expected %d, got %s", tc.kind, tc.want, got)
		}
	}
}

func TestChargeFromRates_NoBonusWhenDisbursedEarlier(t *testing.T) {
	calc := newCalculator(store.NewMemory())
	rates := charge.RateTable{
		ServicingPerLoan: decimal.NewFromInt(50),
		RepaymentPer100:  decimal.NewFromInt(3),
		AnnualizedCost:   decimal.NewFromInt(12),
	}
	period := mustResolveCode(t, charge.Quarterly, "q1", 2025)

	got := calc.ChargeFromRates(rates, period, false,
		decimal.NewFromInt(10000), decimal.NewFromInt(500))

	if !got.Equal(decimal.NewFromInt(135)) {
		t.Errorf("expected 135 without the disbursement bonus, got %s", got)
	}
}

// =============================================================================
// PRE-DISBURSEMENT ESTIMATE
// =============================================================================

func TestServiceChargeForPrincipal(t *testing.T) {
	// GIVEN: Settled prior rates and a 100-unit principal over a 90-day
	//        quarter with 5 planned repayments
	// THEN: Total 50 + 9000*3/400 = 117.50, per installment 23.50

	mem := store.NewMemory()
	seedPriorRates(mem, charge.Quarterly, 2024, 2, 50, 3, 12)
	period := mustResolveCode(t, charge.Quarterly, "jan-mar", 2025)
	calc := newCalculator(mem)

	est, err := calc.ServiceChargeForPrincipal(context.Background(), decimal.NewFromInt(100), 5, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !est.Total.Equal(decimal.RequireFromString("117.5")) {
		t.Errorf("expected total 117.50, got %s", est.Total)
	}
	if !est.PerInstallment.Equal(decimal.RequireFromString("23.5")) {
		t.Errorf("expected per installment 23.50, got %s", est.PerInstallment)
	}
}

func TestServiceChargeForPrincipal_ZeroRepaymentsKeepsTotal(t *testing.T) {
	mem := store.NewMemory()
	seedPriorRates(mem, charge.Quarterly, 2024, 2, 50, 3, 12)
	period := mustResolveCode(t, charge.Quarterly, "jan-mar", 2025)
	calc := newCalculator(mem)

	est, err := calc.ServiceChargeForPrincipal(context.Background(), decimal.NewFromInt(100), 0, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !est.PerInstallment.Equal(est.Total) {
		t.Errorf("expected per installment to equal total, got %s vs %s", est.PerInstallment, est.Total)
	}
}

// =============================================================================
// INSTALLMENT REDISTRIBUTION
// =============================================================================

func testSchedule() []charge.Installment {
	schedule := make([]charge.Installment, 5)
	for i := range schedule {
		schedule[i] = charge.Installment{
			Number:        i + 1,
			DueDate:       date(2025, time.April, 1).AddMonths(i),
			Charge:        decimal.NewFromInt(10),
			ChargeEntryID: "old-entry",
		}
	}
	schedule[1].Paid = true
	schedule[3].InterestRecalculated = true
	return schedule
}

func TestRedistributeCharge_EvenSplitWithRemainderOnLast(t *testing.T) {
	// GIVEN: 5 installments, one paid, one interest-recalculated
	// WHEN: Redistributing a 100 charge
	// THEN: The 3 pending get 33.33 / 33.33 / 33.34, summing exactly

	def := charge.LoanCharge{ID: "c-1", Calculation: charge.ChargeFlat}
	out, err := charge.RedistributeCharge(def, decimal.NewFromInt(100), testSchedule(), charge.DefaultCurrency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expect := map[int]string{0: "33.33", 2: "33.33", 4: "33.34"}
	sum := decimal.Zero
	for i, want := range expect {
		if out[i].Charge.String() != want {
			t.Errorf("installment %d: expected charge %s, got %s", out[i].Number, want, out[i].Charge)
		}
		sum = sum.Add(out[i].Charge)
	}
	if !sum.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected pending charges to sum to 100, got %s", sum)
	}
}

func TestRedistributeCharge_SkipsPaidAndRecalculated(t *testing.T) {
	def := charge.LoanCharge{ID: "c-1", Calculation: charge.ChargeFlat}
	out, err := charge.RedistributeCharge(def, decimal.NewFromInt(100), testSchedule(), charge.DefaultCurrency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, i := range []int{1, 3} {
		if !out[i].Charge.Equal(decimal.NewFromInt(10)) {
			t.Errorf("installment %d: expected untouched charge 10, got %s", out[i].Number, out[i].Charge)
		}
		if out[i].ChargeEntryID != "old-entry" {
			t.Errorf("installment %d: expected original entry id, got %q", out[i].Number, out[i].ChargeEntryID)
		}
	}
}

func TestRedistributeCharge_IssuesFreshEntryIDs(t *testing.T) {
	def := charge.LoanCharge{ID: "c-1", Calculation: charge.ChargeFlat}
	out, err := charge.RedistributeCharge(def, decimal.NewFromInt(100), testSchedule(), charge.DefaultCurrency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{"old-entry": true}
	for _, i := range []int{0, 2, 4} {
		id := out[i].ChargeEntryID
		if seen[id] {
			t.Errorf("installment %d: expected a fresh unique entry id, got %q", out[i].Number, id)
		}
		seen[id] = true
	}
}

func TestRedistributeCharge_NonFlatRejected(t *testing.T) {
	def := charge.LoanCharge{ID: "c-1", Calculation: charge.ChargePercent}
	_, err := charge.RedistributeCharge(def, decimal.NewFromInt(100), testSchedule(), charge.DefaultCurrency)

	if !errors.Is(err, charge.ErrChargeNotFlat) {
		t.Fatalf("expected ErrChargeNotFlat, got %v", err)
	}
	if !charge.IsClientError(err) {
		t.Error("expected a non-flat calculation to classify as a client error")
	}
}

func TestRedistributeCharge_NoPendingInstallments(t *testing.T) {
	schedule := testSchedule()
	for i := range schedule {
		schedule[i].Paid = true
	}
	def := charge.LoanCharge{ID: "c-1", Calculation: charge.ChargeFlat}

	_, err := charge.RedistributeCharge(def, decimal.NewFromInt(100), schedule, charge.DefaultCurrency)
	if !errors.Is(err, charge.ErrNoPendingInstallments) {
		t.Fatalf("expected ErrNoPendingInstallments, got %v", err)
	}
}

// =============================================================================
// BULK RECALCULATION
// =============================================================================

func TestRecalculateAll_AllLoansSucceed(t *testing.T) {
	mem, period := seedQuarter(t)
	calc := newCalculator(mem)

	result, err := calc.RecalculateAll(context.Background(), period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.RunID == "" {
		t.Error("expected a run id")
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(result.Outcomes))
	}
	if len(result.Failed()) != 0 {
		t.Errorf("expected no failures, got %d", len(result.Failed()))
	}

	byLoan := make(map[charge.LoanID]charge.LoanOutcome)
	for _, o := range result.Outcomes {
		byLoan[o.LoanID] = o
	}
	// Demand loan disbursed in period: 2400 + 22500 + 12.
	if !byLoan["L-1"].Amount.Equal(decimal.NewFromInt(24912)) {
		t.Errorf("expected L-1 charge 24912, got %s", byLoan["L-1"].Amount)
	}
	// Term loan disbursed earlier: no bonus, no repayments: 180000*50/400.
	if !byLoan["L-2"].Amount.Equal(decimal.NewFromInt(22500)) {
		t.Errorf("expected L-2 charge 22500, got %s", byLoan["L-2"].Amount)
	}
}

func TestRecalculateAll_CollectsPerLoanFailures(t *testing.T) {
	// GIVEN: A product catalog that fails for one loan's product
	// THEN: The batch continues; the failure is reported per loan

	mem, period := seedQuarter(t)
	seedPriorRates(mem, charge.Quarterly, 2024, 2, 50, 3, 12)
	catalogErr := errors.New("product service unavailable")
	calc := charge.NewCalculator(mem, mem, failingCatalog{
		next:    mem,
		failFor: "term-product",
		err:     catalogErr,
	}, mem, charge.DefaultCurrency, quietLogger())

	result, err := calc.RecalculateAll(context.Background(), period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed := result.Failed()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed outcome, got %d", len(failed))
	}
	if failed[0].LoanID != "L-2" {
		t.Errorf("expected L-2 to fail, got %s", failed[0].LoanID)
	}
	if !errors.Is(failed[0].Err, catalogErr) {
		t.Errorf("expected the catalog error, got %v", failed[0].Err)
	}
}

// failingCatalog wraps a ProductCatalog and fails lookups for one product.
type failingCatalog struct {
	next    charge.ProductCatalog
	failFor charge.ProductID
	err     error
}

func (f failingCatalog) IsServiceChargeProduct(ctx context.Context, id charge.ProductID) (bool, error) {
	if id == f.failFor {
		return false, f.err
	}
	return f.next.IsServiceChargeProduct(ctx, id)
}
