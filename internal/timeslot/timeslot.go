// Package timeslot holds the pure arithmetic behind bookings: parsing dates and
// times of day, testing operating windows, detecting buffer overlaps and
// enumerating candidate slots.
package timeslot

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	DateLayout = "2006-01-02"
	dayMinutes = 24 * 60
)

// Clock is a time of day in minutes after midnight. 24:00 (1440) is allowed as
// a closing time.
type Clock int

func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, herr := strconv.Atoi(s[:2])
	m, merr := strconv.Atoi(s[3:])
	if herr != nil || merr != nil {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return Clock(h*60 + m), nil
}

// MustClock parses s and panics on error. For constants and tests.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) Add(d time.Duration) Clock {
	return c + Clock(d/time.Minute)
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	return d, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Window is an operating window for a single weekday.
type Window struct {
	Open   Clock
	Close  Clock
	Closed bool
}

// Covers reports whether t lies inside the window, both bounds inclusive.
func (w Window) Covers(t Clock) bool {
	if w.Closed {
		return false
	}
	return w.Open <= t && t <= w.Close
}

// Overlaps reports whether two start times are closer than buffer. Starts
// exactly buffer apart do not overlap.
func Overlaps(a, b Clock, buffer time.Duration) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return time.Duration(diff)*time.Minute < buffer
}

// FirstOverlap returns the first booked start that overlaps t.
func FirstOverlap(t Clock, booked []Clock, buffer time.Duration) (Clock, bool) {
	for _, b := range booked {
		if Overlaps(t, b, buffer) {
			return b, true
		}
	}
	return 0, false
}

// Grid enumerates candidate starts from open (inclusive) to close (exclusive)
// at the given step.
func Grid(w Window, step time.Duration) []Clock {
	if w.Closed || step < time.Minute || w.Close <= w.Open {
		return []Clock{}
	}
	stepMin := Clock(step / time.Minute)
	out := make([]Clock, 0, int(w.Close-w.Open)/int(stepMin)+1)
	for t := w.Open; t < w.Close && t < dayMinutes; t += stepMin {
		out = append(out, t)
	}
	return out
}

// Available filters the window's grid down to starts not overlapping any
// booked start. The result is ordered.
func Available(w Window, step time.Duration, booked []Clock, buffer time.Duration) []Clock {
	grid := Grid(w, step)
	out := make([]Clock, 0, len(grid))
	for _, t := range grid {
		if _, hit := FirstOverlap(t, booked, buffer); !hit {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings renders clocks as HH:MM.
func Strings(cs []Clock) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}
