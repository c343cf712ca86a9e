// Package system supplies the wall clock used outside of tests.
package system

import "time"

// Clock reads time.Now. All run timestamps are stored in UTC so CreatedAt
// and CompletedAt compare cleanly regardless of host timezone.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
