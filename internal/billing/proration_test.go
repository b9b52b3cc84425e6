package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestNextRenewalDate_AnchorClampedToShortMonth(t *testing.T) {
	// Anchor day 31 applied in April must land on April 30, not May 1.
	got := NextRenewalDate(31, date(2025, time.March, 31))
	assert.Equal(t, time.April, got.Month())
	assert.Equal(t, 30, got.Day())
	assert.Equal(t, 2025, got.Year())
}

func TestNextRenewalDate_February(t *testing.T) {
	got := NextRenewalDate(30, date(2025, time.January, 30))
	assert.Equal(t, time.February, got.Month())
	assert.Equal(t, 28, got.Day())

	// Leap year.
	got = NextRenewalDate(30, date(2024, time.January, 30))
	assert.Equal(t, 29, got.Day())
}

func TestNextRenewalDate_YearRollover(t *testing.T) {
	got := NextRenewalDate(15, date(2025, time.December, 15))
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 15, got.Day())
}

func TestNextRenewalDate_KeepsTimeOfDay(t *testing.T) {
	from := time.Date(2025, time.June, 5, 23, 45, 12, 0, time.UTC)
	got := NextRenewalDate(5, from)
	assert.Equal(t, 23, got.Hour())
	assert.Equal(t, 45, got.Minute())
	assert.Equal(t, 12, got.Second())
}

func TestProratedCharge_Formula(t *testing.T) {
	price := decimal.NewFromFloat(90)

	for n := 0; n <= 31; n++ {
		want := price.Div(decimal.NewFromInt(DaysPerMonth)).
			Mul(decimal.NewFromInt(int64(minInt(n, MaxProrationDays)))).
			Round(2)
		if n == 0 {
			want = decimal.Zero
		}
		got := ProratedCharge(price, n)
		assert.True(t, got.Equal(want), fmt.Sprintf("n=%d: got %s want %s", n, got, want))
	}
}

func TestProratedCharge_FullMonthEqualsPrice(t *testing.T) {
	for _, p := range []float64{29.99, 100, 7.5, 333.33} {
		price := decimal.NewFromFloat(p)
		got := ProratedCharge(price, DaysPerMonth)
		diff := got.Sub(price).Abs()
		assert.True(t, diff.LessThanOrEqual(decimal.NewFromFloat(0.01)),
			fmt.Sprintf("price %v: charge %s", p, got))
	}
}

func TestProratedCharge_Edges(t *testing.T) {
	assert.True(t, ProratedCharge(decimal.NewFromFloat(50), 0).IsZero())
	assert.True(t, ProratedCharge(decimal.Zero, 10).IsZero())
	assert.True(t, ProratedCharge(decimal.NewFromFloat(-5), 10).IsZero())

	// 10 days of a 100/month price is 33.33.
	got := ProratedCharge(decimal.NewFromInt(100), 10)
	assert.True(t, got.Equal(decimal.NewFromFloat(33.33)), got.String())

	// Counts above the cap bill as the cap.
	capCharge := ProratedCharge(decimal.NewFromInt(100), MaxProrationDays)
	assert.True(t, ProratedCharge(decimal.NewFromInt(100), 45).Equal(capCharge))
}

func TestRemainingDays(t *testing.T) {
	now := date(2025, time.June, 10)

	assert.Equal(t, 0, RemainingDays(now, now))
	assert.Equal(t, 0, RemainingDays(now, now.AddDate(0, 0, -1)))
	assert.Equal(t, 5, RemainingDays(now, now.AddDate(0, 0, 5)))

	// Partial days round up.
	assert.Equal(t, 1, RemainingDays(now, now.Add(2*time.Hour)))
	assert.Equal(t, 6, RemainingDays(now, now.AddDate(0, 0, 5).Add(time.Hour)))

	// Capped at MaxProrationDays.
	assert.Equal(t, MaxProrationDays, RemainingDays(now, now.AddDate(0, 2, 0)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
