package game

import "time"

// Deadlines are absolute instants. Remaining time is always derived from a deadline and a
// clock reading, never stored.

// Remaining returns the time left until deadline, clamped at zero.
func Remaining(deadline, now time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	left := deadline.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether now has reached the deadline.
func Expired(deadline, now time.Time) bool {
	if deadline.IsZero() {
		return false
	}
	return !now.Before(deadline)
}

// Inherit carries the remainder of a running deadline into the next phase:
// now + max(0, deadline - now).
func Inherit(deadline, now time.Time) time.Time {
	return now.Add(Remaining(deadline, now))
}

// DeadlineAfter is the deadline of a phase that starts at now and lasts d.
func DeadlineAfter(now time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(d)
}

// Epoch converts an instant to Unix milliseconds; the zero time maps to 0.
func Epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromEpoch is the inverse of Epoch.
func FromEpoch(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Offset is how far the server clock is ahead of the local clock.
func Offset(serverNow, localNow time.Time) time.Duration {
	return serverNow.Sub(localNow)
}

// RemainingWithOffset is Remaining evaluated on the server's clock as estimated locally.
func RemainingWithOffset(deadline, localNow time.Time, offset time.Duration) time.Duration {
	return Remaining(deadline, localNow.Add(offset))
}
