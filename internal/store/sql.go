package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/jusunglee/train-schedules/internal/calendar"
	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/models"
)

const (
	stationsQuery = `
		select station_id, stop_name, stop_code
		from stops
		order by station_id, stop_id`

	stopTimesQuery = `
		select distinct stop_times.trip_id, stops.station_id, trips.service_id,
			stop_times.arrival_time, stop_times.departure_time
		from stop_times
		join trips on trips.trip_id = stop_times.trip_id
		join stops on stops.stop_id = stop_times.stop_id`

	calendarQuery = `
		select service_id, start_date, end_date,
			monday, tuesday, wednesday, thursday, friday, saturday, sunday
		from calendar`

	calendarDatesQuery = `
		select service_id, date, exception_type
		from calendar_dates`
)

// LoadSQL reads a schedule from the stops/stop_times/trips/calendar tables.
// The calendar_dates table may be absent, but when present every row must be valid.
func LoadSQL(ctx context.Context, db *sql.DB, log logger.Logger) (*Snapshot, error) {
	stations, err := loadStations(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("loading stations: %w", err)
	}

	stopTimes, skipped, err := loadStopTimes(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("loading stop times: %w", err)
	}
	if skipped > 0 {
		log.Warn("Skipped stop times with unusable trip ids or times", "count", skipped)
	}

	services, err := loadServices(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("loading calendar: %w", err)
	}

	exceptions, err := loadCalendarDates(ctx, db)
	switch {
	case isMissingTable(err):
		log.Debug("No calendar_dates table, using calendar only")
	case err != nil:
		return nil, fmt.Errorf("loading calendar exceptions: %w", err)
	default:
		applyExceptions(services, exceptions)
	}

	list := make([]calendar.Service, 0, len(services))
	for _, s := range services {
		list = append(list, *s)
	}

	return New(stations, stopTimes, list), nil
}

func loadStations(ctx context.Context, db *sql.DB) ([]models.Station, error) {
	rows, err := db.QueryContext(ctx, stationsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var order []int64
	byID := make(map[int64]*models.Station)
	for rows.Next() {
		var (
			id   int64
			name string
			code sql.NullString
		)
		if err := rows.Scan(&id, &name, &code); err != nil {
			return nil, err
		}

		st, ok := byID[id]
		if !ok {
			st = &models.Station{ID: id, Name: name}
			byID[id] = st
			order = append(order, id)
		}
		if c := strings.TrimSpace(code.String); c != "" && !containsCode(st.StopCodes, c) {
			st.StopCodes = append(st.StopCodes, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stations := make([]models.Station, 0, len(order))
	for _, id := range order {
		stations = append(stations, *byID[id])
	}
	return stations, nil
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func loadStopTimes(ctx context.Context, db *sql.DB) ([]StopTime, int, error) {
	rows, err := db.QueryContext(ctx, stopTimesQuery)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		stopTimes []StopTime
		skipped   int
	)
	for rows.Next() {
		var (
			tripID, serviceID  string
			stationID          int64
			arrival, departure sql.NullString
		)
		if err := rows.Scan(&tripID, &stationID, &serviceID, &arrival, &departure); err != nil {
			return nil, 0, err
		}

		id, err := strconv.ParseInt(strings.TrimSpace(tripID), 10, 64)
		if err != nil {
			skipped++
			continue
		}
		arr, errA := ParseStopTime(arrival.String)
		dep, errD := ParseStopTime(departure.String)
		if errA != nil || errD != nil {
			skipped++
			continue
		}

		stopTimes = append(stopTimes, StopTime{
			TripID:    id,
			StationID: stationID,
			ServiceID: serviceID,
			Arrival:   arr,
			Departure: dep,
		})
	}
	return stopTimes, skipped, rows.Err()
}

func loadServices(ctx context.Context, db *sql.DB) (map[string]*calendar.Service, error) {
	rows, err := db.QueryContext(ctx, calendarQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make(map[string]*calendar.Service)
	for rows.Next() {
		var (
			id, start, end string
			days           [7]int64
		)
		if err := rows.Scan(&id, &start, &end,
			&days[0], &days[1], &days[2], &days[3], &days[4], &days[5], &days[6]); err != nil {
			return nil, err
		}

		s := &calendar.Service{ID: id}
		if s.Start, err = calendar.ParseDate(start); err != nil {
			return nil, err
		}
		if s.End, err = calendar.ParseDate(end); err != nil {
			return nil, err
		}
		// calendar columns run monday..sunday
		for i, on := range days {
			if on == 1 {
				s.Weekdays |= calendar.WeekdaysOf(time.Weekday((i + 1) % 7))
			}
		}
		services[id] = s
	}
	return services, rows.Err()
}

type calendarException struct {
	serviceID string
	date      calendar.Date
	added     bool
}

// loadCalendarDates reads every exception before any is applied
func loadCalendarDates(ctx context.Context, db *sql.DB) ([]calendarException, error) {
	rows, err := db.QueryContext(ctx, calendarDatesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []calendarException
	for rows.Next() {
		var (
			id, date string
			kind     int64
		)
		if err := rows.Scan(&id, &date, &kind); err != nil {
			return nil, err
		}
		d, err := calendar.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", id, err)
		}
		if kind != 1 && kind != 2 {
			return nil, fmt.Errorf("service %s on %s: unknown exception_type %d", id, d, kind)
		}
		exceptions = append(exceptions, calendarException{serviceID: id, date: d, added: kind == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return exceptions, nil
}

func applyExceptions(services map[string]*calendar.Service, exceptions []calendarException) {
	for _, e := range exceptions {
		s, ok := services[e.serviceID]
		if !ok {
			s = &calendar.Service{ID: e.serviceID, Start: e.date, End: e.date}
			services[e.serviceID] = s
		}
		if e.added {
			s.Added = append(s.Added, e.date)
		} else {
			s.Removed = append(s.Removed, e.date)
		}
	}
}

func isMissingTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return strings.Contains(liteErr.Error(), "no such table")
	}
	return false
}
