/*
period.go - Reporting period resolution

PURPOSE:
  A ReportingPeriod is the monthly, quarterly or yearly date range one
  calculation run covers. It is an immutable value constructed once per
  run by the orchestration layer and passed explicitly into every
  component call. There is deliberately NO process-wide "current period"
  cache: concurrent runs for different periods must not share state.

SCALE FACTOR:
  ScaleFactor annualizes a per-period rate: 12 for monthly, 4 for
  quarterly, 1 for yearly (12 / months-in-period).

RESOLUTION:
  ResolvePeriod(kind, asOf)           period containing asOf
  ResolvePeriodCode(kind, code, year) explicit override, e.g. ("quarterly",
                                      "apr-jun", 2025). Unknown codes fail
                                      with ErrInvalidPeriodCode.

LEAP YEARS:
  February resolves to 28 or 29 days via the standard Gregorian rule
  (see time.go); day-weighted integrals depend on exact month lengths.
*/
package charge

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD KIND
// =============================================================================

// PeriodKind is the configured calculation mode.
type PeriodKind string

const (
	Monthly   PeriodKind = "monthly"
	Quarterly PeriodKind = "quarterly"
	Yearly    PeriodKind = "yearly"
)

// ParsePeriodKind parses a configured calculation mode.
func ParsePeriodKind(s string) (PeriodKind, error) {
	switch PeriodKind(strings.ToLower(strings.TrimSpace(s))) {
	case Monthly:
		return Monthly, nil
	case Quarterly:
		return Quarterly, nil
	case Yearly:
		return Yearly, nil
	default:
		return "", ErrInvalidCalculationMode
	}
}

func (k PeriodKind) months() int {
	switch k {
	case Monthly:
		return 1
	case Quarterly:
		return 3
	default:
		return 12
	}
}

// =============================================================================
// DATE RANGE - One sub-period month inside a reporting period
// =============================================================================

type DateRange struct {
	From TimePoint
	To   TimePoint
}

// Days returns the inclusive day count of the range.
func (r DateRange) Days() int { return DaysBetween(r.From, r.To) + 1 }

func (r DateRange) Contains(t TimePoint) bool {
	return t.AfterOrEqual(r.From) && t.BeforeOrEqual(r.To)
}

// =============================================================================
// REPORTING PERIOD
// =============================================================================

// ReportingPeriod is an immutable date range for one calculation run.
type ReportingPeriod struct {
	Kind   PeriodKind
	From   TimePoint
	To     TimePoint
	Year   int
	Months int
}

// ScaleFactor annualizes a per-period rate: 12 monthly, 4 quarterly, 1 yearly.
func (p ReportingPeriod) ScaleFactor() int64 { return int64(12 / p.Months) }

// Normalizer converts an annualized per-100 rate back into this period's
// share: 100 x scale factor (monthly 1200, quarterly 400, yearly 100).
func (p ReportingPeriod) Normalizer() decimal.Decimal {
	return decimal.NewFromInt(100 * p.ScaleFactor())
}

func (p ReportingPeriod) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.From) && t.BeforeOrEqual(p.To)
}

// Days returns the inclusive day count of the whole period.
func (p ReportingPeriod) Days() int { return DaysBetween(p.From, p.To) + 1 }

// SubPeriods returns the period's months in chronological order.
func (p ReportingPeriod) SubPeriods() []DateRange {
	ranges := make([]DateRange, 0, p.Months)
	year, month := p.From.Year(), p.From.Month()
	for i := 0; i < p.Months; i++ {
		ranges = append(ranges, DateRange{
			From: StartOfMonth(year, month),
			To:   EndOfMonth(year, month),
		})
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return ranges
}

// Previous returns the preceding period of the same kind. For quarterly runs
// this is the previous quarter, used when per-loan charge computation looks
// up settled prior-period rates.
func (p ReportingPeriod) Previous() ReportingPeriod {
	start := p.From.AddMonths(-p.Months)
	return periodStartingAt(p.Kind, start.Year(), start.Month())
}

func (p ReportingPeriod) String() string {
	return string(p.Kind) + " [" + p.From.String() + ", " + p.To.String() + "]"
}

func periodStartingAt(kind PeriodKind, year int, month time.Month) ReportingPeriod {
	months := kind.months()
	from := StartOfMonth(year, month)
	last := from.AddMonths(months - 1)
	return ReportingPeriod{
		Kind:   kind,
		From:   from,
		To:     EndOfMonth(last.Year(), last.Month()),
		Year:   year,
		Months: months,
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolvePeriod returns the period of the given kind containing asOf.
func ResolvePeriod(kind PeriodKind, asOf TimePoint) (ReportingPeriod, error) {
	switch kind {
	case Monthly:
		return periodStartingAt(Monthly, asOf.Year(), asOf.Month()), nil
	case Quarterly:
		qStart := time.Month((int(asOf.Month())-1)/3*3 + 1)
		return periodStartingAt(Quarterly, asOf.Year(), qStart), nil
	case Yearly:
		return periodStartingAt(Yearly, asOf.Year(), time.January), nil
	default:
		return ReportingPeriod{}, ErrInvalidCalculationMode
	}
}

var monthCodes = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var quarterCodes = map[string]time.Month{
	"jan-mar": time.January, "q1": time.January,
	"apr-jun": time.April, "q2": time.April,
	"jul-sep": time.July, "q3": time.July,
	"oct-dec": time.October, "q4": time.October,
}

// ResolvePeriodCode returns the period of the given kind matching an explicit
// month/quarter code in the given year. Yearly periods ignore the code.
func ResolvePeriodCode(kind PeriodKind, code string, year int) (ReportingPeriod, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	switch kind {
	case Monthly:
		month, ok := monthCodes[normalized]
		if !ok {
			return ReportingPeriod{}, &PeriodCodeError{Kind: kind, Code: code}
		}
		return periodStartingAt(Monthly, year, month), nil
	case Quarterly:
		month, ok := quarterCodes[normalized]
		if !ok {
			return ReportingPeriod{}, &PeriodCodeError{Kind: kind, Code: code}
		}
		return periodStartingAt(Quarterly, year, month), nil
	case Yearly:
		return periodStartingAt(Yearly, year, time.January), nil
	default:
		return ReportingPeriod{}, ErrInvalidCalculationMode
	}
}
