package live

import (
	"strconv"
	"strings"
	"time"

	"github.com/jusunglee/train-schedules/internal/feed"
	"github.com/jusunglee/train-schedules/internal/models"
)

// StationLookup resolves an upstream stop code to its station
type StationLookup interface {
	StationForCode(code string) (models.Station, bool)
}

// Merger resolves upstream stop visits against the schedule's stations
type Merger struct {
	stations StationLookup
	loc      *time.Location
}

// NewMerger creates a merger reporting times in loc
func NewMerger(stations StationLookup, loc *time.Location) *Merger {
	return &Merger{stations: stations, loc: loc}
}

// Merge turns visits into live stops. Visits without a numeric trip id, a known
// stop code or any expected time are dropped.
func (m *Merger) Merge(visits []feed.MonitoredStopVisit) []models.LiveStop {
	stops := make([]models.LiveStop, 0, len(visits))
	for _, v := range visits {
		stop, ok := m.resolve(v)
		if ok {
			stops = append(stops, stop)
		}
	}
	return stops
}

// Merge is a one-shot form of Merger.Merge
func Merge(visits []feed.MonitoredStopVisit, stations StationLookup, loc *time.Location) []models.LiveStop {
	return NewMerger(stations, loc).Merge(visits)
}

func (m *Merger) resolve(v feed.MonitoredStopVisit) (models.LiveStop, bool) {
	journey := v.MonitoredVehicleJourney

	tripID, ok := tripID(journey)
	if !ok {
		return models.LiveStop{}, false
	}

	code := strings.TrimSpace(journey.MonitoredCall.StopPointRef)
	if code == "" {
		code = strings.TrimSpace(v.MonitoringRef)
	}
	station, ok := m.stations.StationForCode(code)
	if !ok {
		return models.LiveStop{}, false
	}

	arrival, departure := journey.MonitoredCall.ExpectedArrivalTime, journey.MonitoredCall.ExpectedDepartureTime
	switch {
	case arrival == nil && departure == nil:
		return models.LiveStop{}, false
	case arrival == nil:
		arrival = departure
	case departure == nil:
		departure = arrival
	}

	return models.LiveStop{
		TripID:      tripID,
		StationID:   station.ID,
		StationName: station.Name,
		StopCode:    code,
		Arrival:     arrival.In(m.loc),
		Departure:   departure.In(m.loc),
	}, true
}

func tripID(j feed.MonitoredVehicleJourney) (int64, bool) {
	var ref string
	if j.VehicleRef != nil {
		ref = strings.TrimSpace(*j.VehicleRef)
	}
	if ref == "" {
		ref = strings.TrimSpace(j.FramedVehicleJourneyRef.DatedVehicleJourneyRef)
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
