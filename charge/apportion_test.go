package charge_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/charge-engine/charge"
)

func subtotals(m, s, i, o int64) map[charge.CostCategory]charge.CategorySubtotal {
	out := make(map[charge.CostCategory]charge.CategorySubtotal)
	for _, c := range charge.AllCategories {
		out[c] = charge.CategorySubtotal{Category: c, Amount: decimal.Zero}
	}
	out[charge.CategoryMobilization] = charge.CategorySubtotal{Category: charge.CategoryMobilization, Amount: decimal.NewFromInt(m)}
	out[charge.CategoryServicing] = charge.CategorySubtotal{Category: charge.CategoryServicing, Amount: decimal.NewFromInt(s)}
	out[charge.CategoryInvestment] = charge.CategorySubtotal{Category: charge.CategoryInvestment, Amount: decimal.NewFromInt(i)}
	out[charge.CategoryOverheads] = charge.CategorySubtotal{Category: charge.CategoryOverheads, Amount: decimal.NewFromInt(o)}
	return out
}

func newApportioner() *charge.Apportioner {
	return &charge.Apportioner{Currency: charge.DefaultCurrency}
}

func TestApportion_TwoStageCascade(t *testing.T) {
	// GIVEN: Subtotals M=1000 S=2000 I=3000 O=600 and outstanding bases
	//        dl=400 nonDl=600 over a one-month period
	// WHEN: Apportioning
	// THEN: Overheads load proportionally, then mobilization splits 40/60

	period := mustResolveCode(t, charge.Monthly, "jan", 2025)
	a := newApportioner()

	got := a.Apportion(subtotals(1000, 2000, 3000, 600),
		decimal.NewFromInt(400), decimal.NewFromInt(600), period)

	// Stage 1: T=6000, shares 100/200/300.
	if !got.AfterOverheads.Mobilization.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("expected mobilization after overheads 1100, got %s", got.AfterOverheads.Mobilization)
	}
	if !got.AfterOverheads.Servicing.Equal(decimal.NewFromInt(2200)) {
		t.Errorf("expected servicing after overheads 2200, got %s", got.AfterOverheads.Servicing)
	}
	if !got.AfterOverheads.Investment.Equal(decimal.NewFromInt(3300)) {
		t.Errorf("expected investment after overheads 3300, got %s", got.AfterOverheads.Investment)
	}

	// Stage 2: 1100 * 400/1000 = 440 to servicing, remainder to investment.
	if !got.Split.Servicing.Equal(decimal.NewFromInt(440)) {
		t.Errorf("expected mobilization servicing share 440, got %s", got.Split.Servicing)
	}
	if !got.Split.Investment.Equal(decimal.NewFromInt(660)) {
		t.Errorf("expected mobilization investment share 660, got %s", got.Split.Investment)
	}

	if !got.FinalServicing.Equal(decimal.NewFromInt(2640)) {
		t.Errorf("expected final servicing 2640, got %s", got.FinalServicing)
	}
	if !got.FinalInvestment.Equal(decimal.NewFromInt(3960)) {
		t.Errorf("expected final investment 3960, got %s", got.FinalInvestment)
	}
}

func TestApportion_MobilizationFullyRedistributed(t *testing.T) {
	// The split always sums exactly to the overhead-loaded mobilization
	// total, regardless of rounding in the servicing share.
	period := mustResolveCode(t, charge.Quarterly, "jan-mar", 2025)
	a := newApportioner()

	got := a.Apportion(subtotals(997, 1500, 2100, 333),
		decimal.NewFromInt(70001), decimal.NewFromInt(139999), period)

	sum := got.Split.Servicing.Add(got.Split.Investment)
	if !sum.Equal(got.AfterOverheads.Mobilization) {
		t.Errorf("expected split to sum to %s, got %s", got.AfterOverheads.Mobilization, sum)
	}
}

func TestApportion_ZeroCategoryTotal_PassThrough(t *testing.T) {
	// GIVEN: M+S+I is zero but overheads exist
	// THEN: Subtotals pass through unchanged; nothing is distributed

	period := mustResolveCode(t, charge.Monthly, "jan", 2025)
	a := newApportioner()

	got := a.Apportion(subtotals(0, 0, 0, 600),
		decimal.NewFromInt(100), decimal.NewFromInt(100), period)

	if !got.AfterOverheads.Mobilization.IsZero() ||
		!got.AfterOverheads.Servicing.IsZero() ||
		!got.AfterOverheads.Investment.IsZero() {
		t.Errorf("expected zero pass-through, got %+v", got.AfterOverheads)
	}
	if !got.Overheads.Equal(decimal.NewFromInt(600)) {
		t.Errorf("expected overheads echoed as 600, got %s", got.Overheads)
	}
}

func TestApportion_ZeroOutstandingBase_AllToInvestment(t *testing.T) {
	// GIVEN: No outstanding balances at all
	// THEN: The full mobilization share falls to investment

	period := mustResolveCode(t, charge.Monthly, "jan", 2025)
	a := newApportioner()

	got := a.Apportion(subtotals(1000, 2000, 3000, 0),
		decimal.Zero, decimal.Zero, period)

	if !got.Split.Servicing.IsZero() {
		t.Errorf("expected zero servicing share, got %s", got.Split.Servicing)
	}
	if !got.Split.Investment.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected full 1000 to investment, got %s", got.Split.Investment)
	}
}

func TestMonthlyAverage_CeilingAtSixPlaces(t *testing.T) {
	got := charge.MonthlyAverage(decimal.NewFromInt(1000), 3)

	want := decimal.RequireFromString("333.333334")
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestMonthlyAverage_SingleMonthIdentity(t *testing.T) {
	got := charge.MonthlyAverage(decimal.NewFromInt(42), 1)
	if !got.Equal(decimal.NewFromInt(42)) {
		t.Errorf("expected 42, got %s", got)
	}
}
