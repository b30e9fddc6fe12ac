package nqsim

// vrtime.go holds the representation of virtual time used everywhere
// in the simulator.  A Time is a count of discrete ticks plus a
// priority used to refine the ordering of events that carry the same
// tick count.  Nothing in the simulator ever consults a wall clock.

import (
	"fmt"
)

// TicksPerSecond sets the resolution of the virtual clock.
// One tick is one nanosecond.
const TicksPerSecond int64 = 1e9

// Time is a point (or offset) on the virtual clock
type Time struct {
	TickCnt  int64
	Priority int64
}

// ZeroTime is the origin of the virtual clock
var ZeroTime = Time{TickCnt: 0, Priority: 0}

// CreateTime is a constructor
func CreateTime(ticks int64, pri int64) Time {
	return Time{TickCnt: ticks, Priority: pri}
}

// SecondsToTime converts a floating point number of seconds into a Time
func SecondsToTime(s float64) Time {
	return Time{TickCnt: int64(s * float64(TicksPerSecond)), Priority: 0}
}

// Ticks returns the tick count of the Time
func (t Time) Ticks() int64 {
	return t.TickCnt
}

// Pri returns the priority field of the Time
func (t Time) Pri() int64 {
	return t.Priority
}

// Seconds converts the tick count into a floating point number of seconds
func (t Time) Seconds() float64 {
	return float64(t.TickCnt) / float64(TicksPerSecond)
}

// Plus returns the sum of two Times, keeping the priority of the receiver
func (t Time) Plus(s Time) Time {
	return Time{TickCnt: t.TickCnt + s.TickCnt, Priority: t.Priority}
}

// LT reports whether t is strictly before s.  A smaller priority
// value orders first among Times with equal tick counts
func (t Time) LT(s Time) bool {
	if t.TickCnt != s.TickCnt {
		return t.TickCnt < s.TickCnt
	}
	return t.Priority < s.Priority
}

// LE reports whether t is before or equal to s
func (t Time) LE(s Time) bool {
	return t.LT(s) || t.EQ(s)
}

// GT reports whether t is strictly after s
func (t Time) GT(s Time) bool {
	return s.LT(t)
}

// EQ reports whether two Times are identical
func (t Time) EQ(s Time) bool {
	return t.TickCnt == s.TickCnt && t.Priority == s.Priority
}

func (t Time) String() string {
	return fmt.Sprintf("%f", t.Seconds())
}
