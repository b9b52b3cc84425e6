// Package billing holds the pure billing arithmetic: billing-anchor renewal
// dates and day-prorated charges. No I/O.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DaysPerMonth is the fixed month length used for proration. The charge
	// formula is round(P/30*N, 2) regardless of the calendar month; callers
	// rely on these exact numbers and must not switch to calendar-accurate
	// day counts.
	DaysPerMonth = 30

	// MaxProrationDays caps the remaining-day count fed into ProratedCharge.
	MaxProrationDays = 31

	TrialPeriodDays = 30
	GracePeriodDays = 7
)

var daysPerMonth = decimal.NewFromInt(DaysPerMonth)

// NextRenewalDate returns the renewal date following from: the same anchor
// day in the next month, clamped to that month's last day when the anchor
// exceeds it (anchor 31 over April renews on April 30). The time of day is
// kept from the reference date.
func NextRenewalDate(anchorDay int, from time.Time) time.Time {
	year, month, _ := from.Date()
	month++
	if month > time.December {
		month = time.January
		year++
	}

	if anchorDay < 1 {
		anchorDay = 1
	}
	if last := lastDayOfMonth(year, month); anchorDay > last {
		anchorDay = last
	}

	return time.Date(year, month, anchorDay,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

// ProratedCharge computes the partial-period charge for remainingDays of a
// monthly price: round(P/30*N, 2).
func ProratedCharge(monthlyPrice decimal.Decimal, remainingDays int) decimal.Decimal {
	if remainingDays <= 0 || monthlyPrice.Sign() <= 0 {
		return decimal.Zero
	}
	if remainingDays > MaxProrationDays {
		remainingDays = MaxProrationDays
	}
	return monthlyPrice.
		Div(daysPerMonth).
		Mul(decimal.NewFromInt(int64(remainingDays))).
		Round(2)
}

// RemainingDays counts the whole days left between now and renewsAt, rounding
// a partial day up. Clamped to [0, MaxProrationDays].
func RemainingDays(now, renewsAt time.Time) int {
	if !renewsAt.After(now) {
		return 0
	}
	days := int((renewsAt.Sub(now) + 24*time.Hour - time.Nanosecond) / (24 * time.Hour))
	if days > MaxProrationDays {
		return MaxProrationDays
	}
	return days
}

func lastDayOfMonth(year int, month time.Month) int {
	// day 0 of the following month
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
