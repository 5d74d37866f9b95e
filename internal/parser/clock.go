package parser

import (
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Clock reconstructs absolute timestamps from time-of-day samples.
// It is shared by every section of one report so that samples taken at the
// same instant carry the same timestamp whatever section they belong to.
type Clock struct {
	base   time.Time
	anchor time.Time
	last   map[time.Time]time.Duration
	days   map[time.Time]struct{}
	min    time.Time
	max    time.Time
	seen   bool
}

// NewClock starts a clock on the calendar day of base.
func NewClock(base time.Time) *Clock {
	d := truncateDay(base)
	return &Clock{
		base:   d,
		anchor: d,
		last:   make(map[time.Time]time.Duration),
		days:   make(map[time.Time]struct{}),
	}
}

// Anchor returns the calendar day currently attributed to incoming samples.
func (c *Clock) Anchor() time.Time {
	return c.anchor
}

// Behind reports whether tod is earlier than the last time-of-day seen on the anchor.
func (c *Clock) Behind(tod time.Duration) bool {
	last, ok := c.last[c.anchor]
	return ok && tod < last
}

// Observe advances the clock to tod and returns the absolute time.
// A time-of-day strictly earlier than the previous one moves the anchor to the next day.
// Equal times stay on the same day.
func (c *Clock) Observe(tod time.Duration) time.Time {
	if c.Behind(tod) {
		c.anchor = c.anchor.Add(day)
	}
	c.last[c.anchor] = tod
	return c.anchor.Add(tod)
}

// Sample observes tod and records the result as a data sample.
func (c *Clock) Sample(tod time.Duration) time.Time {
	ts := c.Observe(tod)
	c.Record(ts)
	return ts
}

// Record counts ts as a data sample: its day joins the date samples
// and it widens the graph bounds.
func (c *Clock) Record(ts time.Time) {
	c.days[truncateDay(ts)] = struct{}{}
	if !c.seen || ts.Before(c.min) {
		c.min = ts
	}
	if !c.seen || ts.After(c.max) {
		c.max = ts
	}
	c.seen = true
}

// Rewind replays the clock from the report's first day. Reports that print
// each section over the whole period restart their time-of-day at every section.
func (c *Clock) Rewind() {
	c.anchor = c.base
	c.last = make(map[time.Time]time.Duration)
}

// Bounds returns the earliest and latest recorded samples.
func (c *Clock) Bounds() (start, end time.Time, ok bool) {
	return c.min, c.max, c.seen
}

// Days returns the set of calendar days holding at least one sample.
func (c *Clock) Days() map[time.Time]struct{} {
	out := make(map[time.Time]struct{}, len(c.days))
	for d := range c.days {
		out[d] = struct{}{}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseTimeOfDay reads the leading time column of a row. It accepts
// "HH:MM:SS" and the two-token "hh:mm:ss AM|PM" form, and returns the
// offset from midnight and how many fields the time column used.
func ParseTimeOfDay(fields []string) (tod time.Duration, width int, ok bool) {
	if len(fields) == 0 {
		return 0, 0, false
	}
	h, m, s, ok := splitClock(fields[0])
	if !ok {
		return 0, 0, false
	}

	width = 1
	if len(fields) > 1 {
		switch strings.ToUpper(fields[1]) {
		case "AM":
			if h < 1 || h > 12 {
				return 0, 0, false
			}
			if h == 12 {
				h = 0
			}
			width = 2
		case "PM":
			if h < 1 || h > 12 {
				return 0, 0, false
			}
			if h != 12 {
				h += 12
			}
			width = 2
		}
	}

	tod = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	return tod, width, true
}

func splitClock(tok string) (h, m, s int, ok bool) {
	parts := strings.Split(tok, ":")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	vals := [3]int{}
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return 0, 0, 0, false
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, 0, 0, false
		}
		vals[i] = v
	}
	if vals[0] > 23 || vals[1] > 59 || vals[2] > 59 {
		return 0, 0, 0, false
	}
	return vals[0], vals[1], vals[2], true
}
