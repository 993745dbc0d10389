package metering

import "time"

// Billing periods are calendar months identified by their first day,
// always evaluated in UTC so that every tenant rolls over at the same
// instant regardless of locale.

// CurrentPeriodStart returns the first day of now's calendar month at
// midnight UTC.
func CurrentPeriodStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the exclusive end of the period beginning at start,
// i.e. the first day of the following month.
func PeriodEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// BillingPeriod is a half-open interval [Start, End) covering one
// calendar month.
type BillingPeriod struct {
	Start time.Time
	End   time.Time
}

// BillingPeriodFor returns the billing period containing now
func BillingPeriodFor(now time.Time) BillingPeriod {
	start := CurrentPeriodStart(now)
	return BillingPeriod{Start: start, End: PeriodEnd(start)}
}

// PreviousBillingPeriod returns the billing period immediately before the
// one containing now. The period-end billing job invoices this window.
func PreviousBillingPeriod(now time.Time) BillingPeriod {
	current := CurrentPeriodStart(now)
	start := current.AddDate(0, -1, 0)
	return BillingPeriod{Start: start, End: current}
}

// Contains reports whether t falls inside the period
func (p BillingPeriod) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(p.Start) && u.Before(p.End)
}

// Equal reports whether both periods cover the same window
func (p BillingPeriod) Equal(other BillingPeriod) bool {
	return p.Start.Equal(other.Start) && p.End.Equal(other.End)
}
