package valuation

import (
	"fmt"
	"strconv"
	"time"
)

// InterestPeriod is the annual rate in effect during one reset period.
// It is keyed in BondSettings.InterestRates by period index, which starts at
// 1 for the first reset period after purchase.
type InterestPeriod struct {
	RatePercent float64
}

// BondSettings describes a bond's step-up/capitalizing interest schedule.
// Grounded on the reset/capitalization event model price_manager.py /
// update_bonds_prices.py compute against, restated as a discrete event walk.
type BondSettings struct {
	CapitalizationOfInterest      bool
	CapitalizationFrequencyMonths *int // nil: interest never folds into principal before maturity
	RateResetFrequencyMonths      int  // default 12
	InterestRates                 map[int]InterestPeriod
	PurchaseDate                  time.Time
	MaturityDate                  time.Time
}

// rateResetFrequency returns the configured reset frequency, defaulting to 12 months.
func (s *BondSettings) rateResetFrequency() int {
	if s.RateResetFrequencyMonths <= 0 {
		return 12
	}
	return s.RateResetFrequencyMonths
}

// fullMonths computes 12*(b.year-a.year) + (b.month-a.month), ignoring day-of-month,
// exactly as §4.2 defines it.
func fullMonths(a, b time.Time) int {
	return 12*(b.Year()-a.Year()) + int(b.Month()) - int(a.Month())
}

// addMonths adds n months to t, matching Go's time.AddDate month-overflow semantics.
func addMonths(t time.Time, n int) time.Time {
	return t.AddDate(0, n, 0)
}

// rateForPeriod applies the flat-tail rule: for any period index beyond the
// last defined key, the last defined rate applies indefinitely.
func rateForPeriod(rates map[int]InterestPeriod, period int) (float64, error) {
	if len(rates) == 0 {
		return 0, fmt.Errorf("valuation: bond has no interest rate schedule")
	}
	if p, ok := rates[period]; ok {
		return p.RatePercent, nil
	}
	last := 0
	for k := range rates {
		if k > last {
			last = k
		}
	}
	if p, ok := rates[last]; ok {
		return p.RatePercent, nil
	}
	return 0, fmt.Errorf("valuation: bond interest schedule missing period %d", period)
}

// BondValue computes the carrying value of a bond purchased at principal P0,
// simulated from purchase to min(tTarget, maturity), per the discrete event
// walk in §4.2: accrue daily interest at the current reset period's rate,
// folding accrued interest into principal at each capitalization event.
func BondValue(p0 float64, settings *BondSettings, tTarget time.Time) (float64, error) {
	horizon := tTarget
	if settings.MaturityDate.Before(horizon) {
		horizon = settings.MaturityDate
	}
	if horizon.Before(settings.PurchaseDate) {
		return 0, fmt.Errorf("%w: target %s precedes purchase %s", ErrBadBondRange,
			tTarget.Format("2006-01-02"), settings.PurchaseDate.Format("2006-01-02"))
	}

	clock := settings.PurchaseDate
	principal := p0
	accrued := 0.0
	resetFreq := settings.rateResetFrequency()

	for clock.Before(horizon) {
		periodIndex := fullMonths(settings.PurchaseDate, clock)/resetFreq + 1
		ratePercent, err := rateForPeriod(settings.InterestRates, periodIndex)
		if err != nil {
			return 0, err
		}
		annualRate := ratePercent / 100

		nextReset := addMonths(clock, resetFreq)

		nextCapitalization := settings.MaturityDate
		if settings.CapitalizationOfInterest && settings.CapitalizationFrequencyMonths != nil {
			nextCapitalization = addMonths(clock, *settings.CapitalizationFrequencyMonths)
		}

		event := horizon
		for _, candidate := range []time.Time{nextReset, nextCapitalization, settings.MaturityDate} {
			if candidate.Before(event) {
				event = candidate
			}
		}

		days := event.Sub(clock).Hours() / 24
		accrued += principal * (annualRate / 365) * days

		if settings.CapitalizationOfInterest && settings.CapitalizationFrequencyMonths != nil && !event.Before(nextCapitalization) {
			principal += accrued
			accrued = 0
		}

		clock = event
	}

	return principal + accrued, nil
}

// ParseInterestRateSchedule converts a map keyed by period-index string
// (as the wire format expresses it) into the map[int]InterestPeriod BondValue expects.
func ParseInterestRateSchedule(raw map[string]float64) (map[int]InterestPeriod, error) {
	out := make(map[int]InterestPeriod, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("valuation: invalid bond period index %q: %w", k, err)
		}
		out[idx] = InterestPeriod{RatePercent: v}
	}
	return out, nil
}
