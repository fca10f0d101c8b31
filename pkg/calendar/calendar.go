// Package calendar computes weekly option expiries.
//
// Expiries land on Friday 08:00 UTC. All arithmetic is on whole days
// since the unix epoch (day 0 was a Thursday), so the functions are
// pure and independent of the host timezone.
package calendar

const (
	day  = 86400
	week = 7 * day

	// expiry hour on the expiry day, seconds after midnight UTC
	expiryHour = 8 * 3600

	// unix day 0 is Thursday; +4 makes Sunday=0 .. Saturday=6
	epochWeekdayOffset = 4
	fridayIndex        = 5
)

// Friday returns the first Friday 08:00 UTC strictly after t.
// A timestamp exactly on Friday 08:00 rolls to the following week.
func Friday(t int64) int64 {
	days := t / day
	weekday := (days + epochWeekdayOffset) % 7
	until := (fridayIndex - weekday + 7) % 7
	candidate := (days+until)*day + expiryHour
	if candidate <= t {
		candidate += week
	}
	return candidate
}

// NextFriday returns the next Friday 08:00 UTC that is at least four
// days past t. Used for expiry selection: an auction initialized on a
// Friday always targets the following week's expiry, and early-week
// initializations keep the current week unless it is too close.
func NextFriday(t int64) int64 {
	candidate := Friday(t)
	if candidate-t < 4*day {
		candidate += week
	}
	return candidate
}
