package domain

import "time"

const daysPerWeek = 7

// WeekdayFromNumber maps an ISO day number (1=Monday … 7=Sunday) onto time.Weekday.
func WeekdayFromNumber(n int) time.Weekday {
	if n == daysPerWeek {
		return time.Sunday
	}
	return time.Weekday(n)
}

// ValidDeliveryInterval reports whether weeks is an accepted delivery interval.
func ValidDeliveryInterval(weeks int) bool {
	return weeks >= 1 && weeks <= 4
}

// ValidDeliveryDay reports whether day is an ISO day number.
func ValidDeliveryDay(day int) bool {
	return day >= 1 && day <= daysPerWeek
}

// AddDays moves t by whole calendar days in t's location, keeping the wall clock.
func AddDays(t time.Time, days int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ComputeNextDeliveryDate returns midnight of the first target weekday strictly after from,
// pushed out by the remaining weeks of the interval.
func ComputeNextDeliveryDate(from time.Time, day, interval int) time.Time {
	base := startOfDay(from)
	delta := int(WeekdayFromNumber(day)) - int(base.Weekday())
	if delta <= 0 {
		delta += daysPerWeek
	}
	next := AddDays(base, delta)
	if interval > 1 {
		next = AddDays(next, (interval-1)*daysPerWeek)
	}
	return next
}

// AdvanceDeliveryDate moves a scheduled delivery forward by one interval.
func AdvanceDeliveryDate(previous time.Time, interval int) time.Time {
	return AddDays(previous, interval*daysPerWeek)
}

// OnboardingComplete reports whether a connected account can take payments and payouts.
func OnboardingComplete(chargesEnabled, payoutsEnabled bool, currentlyDue []string, disabledReason string) bool {
	return chargesEnabled && payoutsEnabled && len(currentlyDue) == 0 && disabledReason == ""
}
