// Package subscription computes the ongoing subscription start date and
// whether an interim (pro-rata) charge is needed. It is a pure
// function of (today, preferred payment day, monthly amount) plus the
// fixed policy constants: no I/O, fully unit-testable.
package subscription

import "time"

const (
	// ProviderBufferDays is the payment provider's minimum notice window
	// before it can collect a first payment.
	ProviderBufferDays = 5
	// FairnessBoundaryDay is the last day-of-month on which it's still
	// fair to charge an interim amount for the remainder of the month.
	FairnessBoundaryDay = 10
)

// SeasonCutoff is the fixed date before which no subscription collections
// may start.
var SeasonCutoff = time.Date(2025, time.August, 28, 0, 0, 0, 0, time.UTC)

// SeasonEnd is the fixed end date for every plan this package computes.
var SeasonEnd = time.Date(2026, time.May, 31, 0, 0, 0, 0, time.UTC)

// Plan is the output of Compute.
type Plan struct {
	OngoingStart  time.Time
	EndDate       time.Time
	CreateInterim bool
	InterimStart  time.Time // zero unless CreateInterim
	InterimEnd    time.Time // zero unless CreateInterim
}

// Compute decides the subscription timing. preferredDay is -1 ("last day of
// the month") or in [1, 28]; values that don't exist in a given month
// collapse to that month's last day, same as -1.
func Compute(today time.Time, preferredDay int, monthlyAmount float64) Plan {
	today = dateOnly(today)

	if today.Before(SeasonCutoff) {
		return Plan{
			OngoingStart:  dayInMonth(2025, time.September, preferredDay),
			EndDate:       SeasonEnd,
			CreateInterim: false,
		}
	}

	nextOccurrence := occurrenceOnOrAfter(today, preferredDay)
	daysUntil := int(nextOccurrence.Sub(today).Hours() / 24)

	if daysUntil >= ProviderBufferDays {
		return Plan{
			OngoingStart:  nextOccurrence,
			EndDate:       SeasonEnd,
			CreateInterim: false,
		}
	}

	nmYear, nmMonth := addMonth(nextOccurrence.Year(), int(nextOccurrence.Month()))
	nextMonthOccurrence := dayInMonth(nmYear, nmMonth, preferredDay)

	if today.Day() > FairnessBoundaryDay {
		return Plan{
			OngoingStart:  nextMonthOccurrence,
			EndDate:       SeasonEnd,
			CreateInterim: false,
		}
	}

	return Plan{
		OngoingStart:  nextMonthOccurrence,
		EndDate:       SeasonEnd,
		CreateInterim: true,
		InterimStart:  today.AddDate(0, 0, ProviderBufferDays),
		InterimEnd:    lastDayOfMonth(today.Year(), today.Month()),
	}
}

// occurrenceOnOrAfter finds the next occurrence of preferredDay at or
// after today: this month's occurrence if it hasn't passed yet, else next
// month's.
func occurrenceOnOrAfter(today time.Time, preferredDay int) time.Time {
	candidate := dayInMonth(today.Year(), today.Month(), preferredDay)
	if candidate.Before(today) {
		y, m := addMonth(today.Year(), int(today.Month()))
		candidate = dayInMonth(y, m, preferredDay)
	}
	return candidate
}

// dayInMonth builds a date for preferredDay in (year, month), clamping to
// the last valid day of that month. This handles both out-of-range days
// (e.g. 31 in a 30-day month) and preferredDay == -1 ("last day").
func dayInMonth(year int, month time.Month, preferredDay int) time.Time {
	last := lastDayOfMonth(year, month)
	if preferredDay == -1 || preferredDay > last.Day() || preferredDay < 1 {
		return last
	}
	return time.Date(year, month, preferredDay, 0, 0, 0, 0, time.UTC)
}

func lastDayOfMonth(year int, month time.Month) time.Time {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1)
}

// addMonth returns the (year, month) one calendar month after the given
// (year, month), handling December→January rollover.
func addMonth(year, month int) (int, time.Month) {
	t := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return t.Year(), t.Month()
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
