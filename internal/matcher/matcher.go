// Package matcher finds the scheduled trips serving a station or a station pair.
package matcher

import (
	"sort"
	"time"

	"github.com/jusunglee/train-schedules/internal/calendar"
	"github.com/jusunglee/train-schedules/internal/models"
	"github.com/jusunglee/train-schedules/internal/store"
)

// Matcher answers trip queries against one schedule snapshot.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	snap *store.Snapshot
	loc  *time.Location
}

// New returns a Matcher materialising stop times in loc
func New(snap *store.Snapshot, loc *time.Location) *Matcher {
	return &Matcher{snap: snap, loc: loc}
}

type options struct {
	live models.LiveIndex
}

// Option adjusts a single query
type Option func(*options)

// WithLive applies real-time estimates before filtering and sorting
func WithLive(idx models.LiveIndex) Option {
	return func(o *options) {
		o.live = idx
	}
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ServiceDay is the date whose schedule applies at now
func (m *Matcher) ServiceDay(now time.Time) calendar.Date {
	return calendar.DateOf(now.In(m.loc))
}

// ActiveServices returns the services running on now's service day
func (m *Matcher) ActiveServices(now time.Time) calendar.ServiceSet {
	return calendar.ActiveServices(m.snap.Services(), m.ServiceDay(now))
}

func (m *Matcher) stopsAt(stationID int64, active calendar.ServiceSet, day calendar.Date, o options) []models.Stop {
	var stops []models.Stop
	for _, st := range m.snap.StopTimesAt(stationID) {
		if !active.Contains(st.ServiceID) {
			continue
		}
		stop := m.snap.Materialize(st, day, m.loc)
		if o.live != nil {
			o.live.Apply(&stop)
		}
		stops = append(stops, stop)
	}
	return stops
}

// UpcomingAtStation returns the stops at stationID on an active service that
// depart strictly after now, earliest first. The result is not truncated.
func (m *Matcher) UpcomingAtStation(stationID int64, active calendar.ServiceSet, now time.Time, opts ...Option) []models.Stop {
	o := collect(opts)
	var result []models.Stop
	for _, stop := range m.stopsAt(stationID, active, m.ServiceDay(now), o) {
		if stop.Departure.EffectiveTime().After(now) {
			result = append(result, stop)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return stopLess(result[i], result[j])
	})
	return result
}

// TwoStopLegs pairs each active trip's visit to startID with its visit to endID.
//
// A trip contributes only when it visits each station exactly once. Legs that
// have already left the origin or reached the destination are dropped, as are
// legs running from endID towards startID.
func (m *Matcher) TwoStopLegs(startID, endID int64, active calendar.ServiceSet, now time.Time, opts ...Option) []models.TwoStop {
	if startID == endID {
		return nil
	}

	o := collect(opts)
	day := m.ServiceDay(now)
	starts := byTrip(m.stopsAt(startID, active, day, o))
	ends := byTrip(m.stopsAt(endID, active, day, o))

	var legs []models.TwoStop
	for tripID, s := range starts {
		e := ends[tripID]
		if len(s) != 1 || len(e) != 1 {
			continue
		}
		start, end := s[0], e[0]

		if start.Departure.EffectiveTime().Before(now) || end.Arrival.EffectiveTime().Before(now) {
			continue
		}
		if start.Arrival.EffectiveTime().After(end.Departure.EffectiveTime()) {
			continue
		}

		legs = append(legs, models.TwoStop{
			TripID: tripID,
			Tier:   models.TierForTrip(tripID),
			Start:  start,
			End:    end,
		})
	}

	sort.SliceStable(legs, func(i, j int) bool {
		return stopLess(legs[i].Start, legs[j].Start)
	})
	return legs
}

// Trip returns every stop of tripID on now's service day in travel order.
// The boolean is false when the schedule has no such trip.
func (m *Matcher) Trip(tripID int64, now time.Time, opts ...Option) (models.Trip, bool) {
	if !m.snap.HasTrip(tripID) {
		return models.Trip{}, false
	}

	o := collect(opts)
	day := m.ServiceDay(now)
	stopTimes := m.snap.TripStopTimes(tripID)
	stops := make([]models.Stop, 0, len(stopTimes))
	for _, st := range stopTimes {
		stop := m.snap.Materialize(st, day, m.loc)
		if o.live != nil {
			o.live.Apply(&stop)
		}
		stops = append(stops, stop)
	}

	sort.SliceStable(stops, func(i, j int) bool {
		a, b := stops[i].Departure.EffectiveTime(), stops[j].Departure.EffectiveTime()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return stops[i].StationID < stops[j].StationID
	})

	return models.Trip{
		TripID: tripID,
		Tier:   models.TierForTrip(tripID),
		Stops:  stops,
	}, true
}

func byTrip(stops []models.Stop) map[int64][]models.Stop {
	m := make(map[int64][]models.Stop)
	for _, s := range stops {
		m[s.TripID] = append(m[s.TripID], s)
	}
	return m
}

// stopLess orders by effective departure, then trip id
func stopLess(a, b models.Stop) bool {
	da, db := a.Departure.EffectiveTime(), b.Departure.EffectiveTime()
	if !da.Equal(db) {
		return da.Before(db)
	}
	return a.TripID < b.TripID
}
