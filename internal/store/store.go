package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jusunglee/train-schedules/internal/calendar"
	"github.com/jusunglee/train-schedules/internal/models"
)

// StopTime is one scheduled visit as stored in the snapshot.
// Arrival and Departure are offsets from the service day's reference point
// and may exceed 24h.
type StopTime struct {
	TripID    int64
	StationID int64
	ServiceID string
	Arrival   time.Duration
	Departure time.Duration
}

// Snapshot is the schedule held in memory for the life of the process.
// It is never modified after New returns, so it is safe for concurrent use.
type Snapshot struct {
	stations      []models.Station
	stationByID   map[int64]int
	stationByCode map[string]int
	stopTimes     []StopTime
	byStation     map[int64][]int
	byTrip        map[int64][]int
	services      []calendar.Service
	loadedAt      time.Time
}

// Stats summarises a snapshot
type Stats struct {
	Stations  int `json:"stations"`
	StopTimes int `json:"stop_times"`
	Trips     int `json:"trips"`
	Services  int `json:"services"`
}

// New builds a snapshot and its indices. Exact duplicate stop times are dropped.
func New(stations []models.Station, stopTimes []StopTime, services []calendar.Service) *Snapshot {
	s := &Snapshot{
		stations:      make([]models.Station, len(stations)),
		stationByID:   make(map[int64]int, len(stations)),
		stationByCode: make(map[string]int),
		byStation:     make(map[int64][]int),
		byTrip:        make(map[int64][]int),
		services:      append([]calendar.Service(nil), services...),
		loadedAt:      time.Now(),
	}

	copy(s.stations, stations)
	sort.SliceStable(s.stations, func(i, j int) bool {
		return s.stations[i].Name < s.stations[j].Name
	})
	sort.SliceStable(s.services, func(i, j int) bool {
		return s.services[i].ID < s.services[j].ID
	})
	for i, st := range s.stations {
		s.stationByID[st.ID] = i
		for _, code := range st.StopCodes {
			s.stationByCode[code] = i
		}
	}

	seen := make(map[StopTime]struct{}, len(stopTimes))
	s.stopTimes = make([]StopTime, 0, len(stopTimes))
	for _, st := range stopTimes {
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		s.stopTimes = append(s.stopTimes, st)
	}

	for i, st := range s.stopTimes {
		s.byStation[st.StationID] = append(s.byStation[st.StationID], i)
		s.byTrip[st.TripID] = append(s.byTrip[st.TripID], i)
	}

	return s
}

// Stations returns every station sorted by name
func (s *Snapshot) Stations() []models.Station {
	result := make([]models.Station, len(s.stations))
	copy(result, s.stations)
	return result
}

// Station looks a station up by id
func (s *Snapshot) Station(id int64) (models.Station, bool) {
	i, ok := s.stationByID[id]
	if !ok {
		return models.Station{}, false
	}
	return s.stations[i], true
}

// StationForCode resolves an upstream stop code to its station
func (s *Snapshot) StationForCode(code string) (models.Station, bool) {
	i, ok := s.stationByCode[code]
	if !ok {
		return models.Station{}, false
	}
	return s.stations[i], true
}

// StopTimesAt returns every stop time at a station, in load order
func (s *Snapshot) StopTimesAt(stationID int64) []StopTime {
	return s.collect(s.byStation[stationID])
}

// TripStopTimes returns every stop time of a trip, in load order
func (s *Snapshot) TripStopTimes(tripID int64) []StopTime {
	return s.collect(s.byTrip[tripID])
}

func (s *Snapshot) collect(idx []int) []StopTime {
	result := make([]StopTime, len(idx))
	for i, j := range idx {
		result[i] = s.stopTimes[j]
	}
	return result
}

// HasTrip reports whether any stop time belongs to tripID
func (s *Snapshot) HasTrip(tripID int64) bool {
	return len(s.byTrip[tripID]) > 0
}

// Services returns the calendar rows
func (s *Snapshot) Services() []calendar.Service {
	result := make([]calendar.Service, len(s.services))
	copy(result, s.services)
	return result
}

// Stats returns row counts
func (s *Snapshot) Stats() Stats {
	return Stats{
		Stations:  len(s.stations),
		StopTimes: len(s.stopTimes),
		Trips:     len(s.byTrip),
		Services:  len(s.services),
	}
}

// LoadedAt returns when the snapshot was built
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Materialize turns a stored stop time into a Stop on the given service day.
func (s *Snapshot) Materialize(st StopTime, day calendar.Date, loc *time.Location) models.Stop {
	base := ServiceDayStart(day, loc)
	stop := models.Stop{
		TripID:    st.TripID,
		StationID: st.StationID,
		ServiceID: st.ServiceID,
		Arrival:   models.Time{Scheduled: base.Add(st.Arrival)},
		Departure: models.Time{Scheduled: base.Add(st.Departure)},
	}
	if station, ok := s.Station(st.StationID); ok {
		stop.StationName = station.Name
	}
	return stop
}

// ServiceDayStart is the GTFS reference point of a service day: noon minus 12h.
// It differs from midnight on days with a DST transition.
func ServiceDayStart(day calendar.Date, loc *time.Location) time.Time {
	return time.Date(day.Year, day.Month, day.Day, 12, 0, 0, 0, loc).Add(-12 * time.Hour)
}

// ParseStopTime parses an HH:MM:SS schedule time. Hours may be 24 or more.
func ParseStopTime(v string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid stop time %q", v)
	}

	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid stop time %q", v)
		}
		fields[i] = n
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("invalid stop time %q", v)
	}

	return time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second, nil
}
