package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sakif/social-diary/internal/model"
)

// Date is a civil calendar date with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t as seen in loc. A nil loc means UTC;
// the process-local zone is never consulted.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DayGroup holds the entries written on one date.
type DayGroup struct {
	Date    Date          `json:"date"`
	Entries []model.Entry `json:"entries"`
}

// Calendar is the result of GroupByDate: day groups in the order their
// first entry appeared in the input.
type Calendar struct {
	Days  []DayGroup
	index map[Date]int
}

// GroupByDate buckets entries by the calendar date of CreatedAt in loc.
// Entries keep their input order inside each day; nothing is re-sorted, so
// callers pass entries already in feed order. No empty days are produced.
func GroupByDate(entries []model.Entry, loc *time.Location) *Calendar {
	c := &Calendar{
		Days:  []DayGroup{},
		index: make(map[Date]int),
	}
	for _, e := range entries {
		d := DateOf(e.CreatedAt, loc)
		i, ok := c.index[d]
		if !ok {
			i = len(c.Days)
			c.index[d] = i
			c.Days = append(c.Days, DayGroup{Date: d})
		}
		c.Days[i].Entries = append(c.Days[i].Entries, e)
	}
	return c
}

// On returns the entries written on d, or nil.
func (c *Calendar) On(d Date) []model.Entry {
	if i, ok := c.index[d]; ok {
		return c.Days[i].Entries
	}
	return nil
}

// Len is the number of distinct dates.
func (c *Calendar) Len() int {
	return len(c.Days)
}

// ByDate returns the grouping as a map keyed by date.
func (c *Calendar) ByDate() map[Date][]model.Entry {
	m := make(map[Date][]model.Entry, len(c.Days))
	for _, g := range c.Days {
		m[g.Date] = g.Entries
	}
	return m
}

func (c *Calendar) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Days)
}
