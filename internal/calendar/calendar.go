// Package calendar decides which schedule services run on a given day.
package calendar

import (
	"fmt"
	"sort"
	"time"
)

// Date is a civil date with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a Date, normalising out-of-range values the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 12, 0, 0, 0, time.UTC))
}

// DateOf returns the civil date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses the GTFS yyyymmdd form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid service date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) key() int {
	return d.Year*10000 + int(d.Month)*100 + d.Day
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	switch a, b := d.key(), o.key(); {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return NewDate(d.Year, d.Month, d.Day+n)
}

// In returns local midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Weekdays is a bit mask of time.Weekday values.
type Weekdays uint8

// AllWeek has every day set.
const AllWeek Weekdays = 1<<7 - 1

// WeekdaysOf builds a mask from the given days.
func WeekdaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

// Has reports whether day is in the mask.
func (w Weekdays) Has(day time.Weekday) bool {
	return w&(1<<uint(day)) != 0
}

// Service is one calendar row: a date range, a weekday mask and optional
// calendar_dates exceptions.
type Service struct {
	ID       string
	Start    Date
	End      Date
	Weekdays Weekdays
	Added    []Date
	Removed  []Date
}

// ActiveOn reports whether the service runs on day.
func (s Service) ActiveOn(day Date) bool {
	for _, r := range s.Removed {
		if r == day {
			return false
		}
	}
	for _, a := range s.Added {
		if a == day {
			return true
		}
	}
	if day.Compare(s.Start) < 0 || day.Compare(s.End) > 0 {
		return false
	}
	return s.Weekdays.Has(day.Weekday())
}

// ServiceSet is the set of service ids running on some day.
type ServiceSet map[string]struct{}

// NewServiceSet returns a set holding ids.
func NewServiceSet(ids ...string) ServiceSet {
	set := make(ServiceSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s ServiceSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in sorted order.
func (s ServiceSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveServices returns the ids of every service running on today.
// Several services may be active at once.
func ActiveServices(services []Service, today Date) ServiceSet {
	active := make(ServiceSet)
	for _, s := range services {
		if s.ActiveOn(today) {
			active[s.ID] = struct{}{}
		}
	}
	return active
}
