package store

import (
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jamespfennell/gtfs"

	"github.com/jusunglee/train-schedules/internal/calendar"
	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/models"
)

// stationIDSpace bounds generated station ids, matching ids already
// published by the SQLite schedules.
const stationIDSpace = 1024

// LoadGTFS reads a schedule from a GTFS static zip file.
// Stations are the root stops of the feed.
func LoadGTFS(path string, log logger.Logger) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading GTFS feed: %w", err)
	}
	return ParseGTFS(content, log)
}

// ParseGTFS builds a snapshot from the bytes of a GTFS static zip.
func ParseGTFS(content []byte, log logger.Logger) (*Snapshot, error) {
	static, err := gtfs.ParseStatic(content, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("parsing GTFS feed: %w", err)
	}

	stations, stationOf := gtfsStations(static.Stops)

	var (
		stopTimes []StopTime
		skipped   int
	)
	for i := range static.Trips {
		trip := &static.Trips[i]
		tripID, ok := gtfsTripID(trip)
		if !ok || trip.Service == nil {
			skipped++
			continue
		}
		for _, st := range trip.StopTimes {
			if st.Stop == nil {
				continue
			}
			stationID, ok := stationOf[st.Stop.Id]
			if !ok {
				continue
			}
			stopTimes = append(stopTimes, StopTime{
				TripID:    tripID,
				StationID: stationID,
				ServiceID: trip.Service.Id,
				Arrival:   st.ArrivalTime,
				Departure: st.DepartureTime,
			})
		}
	}
	if skipped > 0 {
		log.Warn("Skipped GTFS trips without a numeric id or service", "count", skipped)
	}

	services := make([]calendar.Service, 0, len(static.Services))
	for _, s := range static.Services {
		services = append(services, gtfsService(s))
	}

	return New(stations, stopTimes, services), nil
}

func gtfsStations(stops []gtfs.Stop) ([]models.Station, map[string]int64) {
	byRoot := make(map[string]*models.Station)
	rootOf := make(map[string]string, len(stops))
	var roots []*gtfs.Stop

	for i := range stops {
		stop := &stops[i]
		root := stop.Root()
		rootOf[stop.Id] = root.Id
		if _, ok := byRoot[root.Id]; !ok {
			byRoot[root.Id] = &models.Station{Name: root.Name}
			roots = append(roots, root)
		}
		code := stop.Code
		if code == "" {
			code = stop.Id
		}
		st := byRoot[root.Id]
		if !containsCode(st.StopCodes, code) {
			st.StopCodes = append(st.StopCodes, code)
		}
	}

	// ids depend on names only, so assignment order must not depend on feed order
	sort.Slice(roots, func(i, j int) bool {
		if roots[i].Name != roots[j].Name {
			return roots[i].Name < roots[j].Name
		}
		return roots[i].Id < roots[j].Id
	})

	ids := make(map[string]int64)
	used := make(map[int64]bool)
	stations := make([]models.Station, 0, len(roots))
	for _, root := range roots {
		st := byRoot[root.Id]
		id, ok := ids[st.Name]
		if !ok {
			id = stationID(st.Name, used)
			ids[st.Name] = id
			used[id] = true
		}
		st.ID = id
		stations = append(stations, *st)
	}

	stationOf := make(map[string]int64, len(rootOf))
	for stopID, rootID := range rootOf {
		stationOf[stopID] = byRoot[rootID].ID
	}
	return mergeSameName(stations), stationOf
}

// mergeSameName folds roots that share a name into one station.
func mergeSameName(stations []models.Station) []models.Station {
	var out []models.Station
	pos := make(map[int64]int)
	for _, st := range stations {
		if i, ok := pos[st.ID]; ok {
			for _, c := range st.StopCodes {
				if !containsCode(out[i].StopCodes, c) {
					out[i].StopCodes = append(out[i].StopCodes, c)
				}
			}
			continue
		}
		pos[st.ID] = len(out)
		out = append(out, st)
	}
	return out
}

func stationID(name string, used map[int64]bool) int64 {
	h := fnv.New32a()
	h.Write([]byte(name))
	id := int64(h.Sum32() % stationIDSpace)
	for used[id] {
		id = (id + 1) % stationIDSpace
	}
	return id
}

func gtfsTripID(trip *gtfs.ScheduledTrip) (int64, bool) {
	for _, v := range []string{trip.ID, trip.ShortName} {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

func gtfsService(s gtfs.Service) calendar.Service {
	days := []struct {
		on  bool
		day time.Weekday
	}{
		{s.Monday, time.Monday},
		{s.Tuesday, time.Tuesday},
		{s.Wednesday, time.Wednesday},
		{s.Thursday, time.Thursday},
		{s.Friday, time.Friday},
		{s.Saturday, time.Saturday},
		{s.Sunday, time.Sunday},
	}

	svc := calendar.Service{
		ID:    s.Id,
		Start: calendar.DateOf(s.StartDate),
		End:   calendar.DateOf(s.EndDate),
	}
	for _, d := range days {
		if d.on {
			svc.Weekdays |= calendar.WeekdaysOf(d.day)
		}
	}
	for _, t := range s.AddedDates {
		svc.Added = append(svc.Added, calendar.DateOf(t))
	}
	for _, t := range s.RemovedDates {
		svc.Removed = append(svc.Removed, calendar.DateOf(t))
	}
	return svc
}
