package models

import (
	"time"
)

// Station groups the platform stop codes served under one name
type Station struct {
	ID        int64    `json:"station_id"`
	Name      string   `json:"name"`
	StopCodes []string `json:"stop_codes"`
}

// Time is a scheduled instant with an optional real-time estimate
type Time struct {
	Scheduled time.Time  `json:"scheduled"`
	Estimated *time.Time `json:"estimated,omitempty"`
}

// EffectiveTime returns the estimate when one is known, otherwise the scheduled time.
// Every filter and sort over stop times goes through here.
func (t Time) EffectiveTime() time.Time {
	if t.Estimated != nil {
		return *t.Estimated
	}
	return t.Scheduled
}

// Delay is the estimate minus the scheduled time, zero without an estimate
func (t Time) Delay() time.Duration {
	if t.Estimated == nil {
		return 0
	}
	return t.Estimated.Sub(t.Scheduled)
}

// Stop is one trip's visit to one station
type Stop struct {
	TripID      int64  `json:"trip_id"`
	StationID   int64  `json:"station_id"`
	StationName string `json:"station_name"`
	ServiceID   string `json:"service_id"`
	Arrival     Time   `json:"arrival"`
	Departure   Time   `json:"departure"`
}

// TwoStop is a trip's visit to an origin and a destination station
type TwoStop struct {
	TripID int64       `json:"trip_id"`
	Tier   ServiceTier `json:"service_tier,omitempty"`
	Start  Stop        `json:"start"`
	End    Stop        `json:"end"`
}

// TransitTime is the time on board between the two stations
func (t TwoStop) TransitTime() time.Duration {
	return t.End.Arrival.EffectiveTime().Sub(t.Start.Departure.EffectiveTime())
}

// TwoStopList is the answer to a station pair query
type TwoStopList struct {
	Start Station   `json:"start"`
	End   Station   `json:"end"`
	Trips []TwoStop `json:"trips"`
}

// Trip lists every stop of one trip on the current service day
type Trip struct {
	TripID int64       `json:"trip_id"`
	Tier   ServiceTier `json:"service_tier,omitempty"`
	Stops  []Stop      `json:"stops"`
}

// LiveStop is an upstream estimate resolved to a station
type LiveStop struct {
	TripID      int64     `json:"trip_id"`
	StationID   int64     `json:"station_id"`
	StationName string    `json:"station_name"`
	StopCode    string    `json:"stop_code"`
	Arrival     time.Time `json:"arrival"`
	Departure   time.Time `json:"departure"`
}

// LiveKey joins estimates onto scheduled stops
type LiveKey struct {
	StationID int64
	TripID    int64
}

// LiveIndex holds at most one estimate per station and trip
type LiveIndex map[LiveKey]LiveStop

// NewLiveIndex indexes live stops. Later entries replace earlier ones for the same key.
func NewLiveIndex(stops []LiveStop) LiveIndex {
	idx := make(LiveIndex, len(stops))
	for _, s := range stops {
		idx[LiveKey{StationID: s.StationID, TripID: s.TripID}] = s
	}
	return idx
}

// Apply sets the estimated times on s if an estimate exists for it
func (idx LiveIndex) Apply(s *Stop) bool {
	live, ok := idx[LiveKey{StationID: s.StationID, TripID: s.TripID}]
	if !ok {
		return false
	}
	arrival, departure := live.Arrival, live.Departure
	s.Arrival.Estimated = &arrival
	s.Departure.Estimated = &departure
	return true
}

// ServiceTier is the display class implied by a trip number
type ServiceTier string

const (
	TierLocal   ServiceTier = "local"
	TierLimited ServiceTier = "limited"
	TierBullet  ServiceTier = "bullet"
)

// TierForTrip maps the hundreds band of a trip id to its tier.
// Unknown bands map to the empty tier.
func TierForTrip(tripID int64) ServiceTier {
	switch tripID / 100 {
	case 1, 4:
		return TierLocal
	case 2:
		return TierLimited
	case 3, 8:
		return TierBullet
	}
	return ""
}
