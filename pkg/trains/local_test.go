package trains

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusunglee/train-schedules/internal/calendar"
	"github.com/jusunglee/train-schedules/internal/models"
	"github.com/jusunglee/train-schedules/internal/store"
)

type fakeLive struct {
	stops   []models.LiveStop
	err     error
	updated time.Time
	calls   int
}

func (f *fakeLive) Live(context.Context) ([]models.LiveStop, error) {
	f.calls++
	return f.stops, f.err
}

func (f *fakeLive) Updated() time.Time { return f.updated }

var pacific = mustLoad("America/Los_Angeles")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(h, m int) time.Time {
	// a Wednesday
	return time.Date(2024, 1, 3, h, m, 0, 0, pacific)
}

func testSnapshot() *store.Snapshot {
	hm := func(h, m int) time.Duration { return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute }
	stations := []models.Station{
		{ID: 1, Name: "San Francisco", StopCodes: []string{"70011", "70012"}},
		{ID: 2, Name: "Palo Alto", StopCodes: []string{"70171", "70172"}},
		{ID: 3, Name: "San Jose Diridon", StopCodes: []string{"70261", "70262"}},
	}
	stopTimes := []store.StopTime{
		{TripID: 101, StationID: 1, ServiceID: "wk", Arrival: hm(8, 0), Departure: hm(8, 0)},
		{TripID: 101, StationID: 2, ServiceID: "wk", Arrival: hm(8, 50), Departure: hm(8, 51)},
		{TripID: 101, StationID: 3, ServiceID: "wk", Arrival: hm(9, 30), Departure: hm(9, 30)},
		{TripID: 305, StationID: 1, ServiceID: "wk", Arrival: hm(8, 10), Departure: hm(8, 10)},
		{TripID: 305, StationID: 3, ServiceID: "wk", Arrival: hm(9, 5), Departure: hm(9, 5)},
		{TripID: 801, StationID: 1, ServiceID: "we", Arrival: hm(8, 20), Departure: hm(8, 20)},
	}
	year := func(d calendar.Service) calendar.Service {
		d.Start, d.End = calendar.NewDate(2024, 1, 1), calendar.NewDate(2024, 12, 31)
		return d
	}
	services := []calendar.Service{
		year(calendar.Service{ID: "wk", Weekdays: calendar.WeekdaysOf(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)}),
		year(calendar.Service{ID: "we", Weekdays: calendar.WeekdaysOf(time.Saturday, time.Sunday)}),
	}
	return store.New(stations, stopTimes, services)
}

func TestStation(t *testing.T) {
	c := NewLocal(testSnapshot(), Config{Location: pacific})

	st, err := c.Station(2)
	require.NoError(t, err)
	assert.Equal(t, "Palo Alto", st.Name)

	_, err = c.Station(99)
	assert.ErrorIs(t, err, ErrNoSuchStation)

	names := []string{}
	for _, s := range c.Stations() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Palo Alto", "San Francisco", "San Jose Diridon"}, names)
}

func TestUpcoming(t *testing.T) {
	c := NewLocal(testSnapshot(), Config{Location: pacific})
	ctx := context.Background()

	stops, err := c.Upcoming(ctx, 1, at(8, 5), false)
	require.NoError(t, err)
	require.Len(t, stops, 1, "weekend trip 801 is not active")
	assert.Equal(t, int64(305), stops[0].TripID)

	stops, err = c.Upcoming(ctx, 1, at(23, 0), false)
	require.NoError(t, err)
	assert.NotNil(t, stops)
	assert.Empty(t, stops)

	_, err = c.Upcoming(ctx, 42, at(8, 5), false)
	assert.ErrorIs(t, err, ErrNoSuchStation)
}

func TestTwoStops(t *testing.T) {
	ctx := context.Background()

	t.Run("schedule only", func(t *testing.T) {
		c := NewLocal(testSnapshot(), Config{Location: pacific})

		list, err := c.TwoStops(ctx, 1, 3, at(7, 0), false)
		require.NoError(t, err)
		assert.Equal(t, "San Francisco", list.Start.Name)
		assert.Equal(t, "San Jose Diridon", list.End.Name)
		require.Len(t, list.Trips, 2)
		assert.Equal(t, int64(101), list.Trips[0].TripID)
		assert.Equal(t, models.TierLocal, list.Trips[0].Tier)
		assert.Equal(t, int64(305), list.Trips[1].TripID)
		assert.Equal(t, models.TierBullet, list.Trips[1].Tier)
		assert.Equal(t, 55*time.Minute, list.Trips[1].TransitTime())
	})

	t.Run("estimates reorder", func(t *testing.T) {
		late := at(8, 15)
		live := &fakeLive{stops: []models.LiveStop{
			{TripID: 101, StationID: 1, Arrival: late, Departure: late},
		}}
		c := NewLocal(testSnapshot(), Config{Location: pacific, Live: live})

		list, err := c.TwoStops(ctx, 1, 3, at(7, 0), true)
		require.NoError(t, err)
		require.Len(t, list.Trips, 2)
		assert.Equal(t, int64(305), list.Trips[0].TripID)
		assert.Equal(t, int64(101), list.Trips[1].TripID)
		assert.Equal(t, 15*time.Minute, list.Trips[1].Start.Departure.Delay())
		assert.Equal(t, 1, live.calls)

		_, err = c.TwoStops(ctx, 1, 3, at(7, 0), false)
		require.NoError(t, err)
		assert.Equal(t, 1, live.calls, "live not consulted unless requested")
	})

	t.Run("live failure falls back to schedule", func(t *testing.T) {
		live := &fakeLive{err: errors.New("upstream HTTP 500")}
		c := NewLocal(testSnapshot(), Config{Location: pacific, Live: live})

		list, err := c.TwoStops(ctx, 1, 3, at(7, 0), true)
		require.NoError(t, err)
		require.Len(t, list.Trips, 2)
		assert.Nil(t, list.Trips[0].Start.Departure.Estimated)
	})

	t.Run("same station", func(t *testing.T) {
		c := NewLocal(testSnapshot(), Config{Location: pacific})

		list, err := c.TwoStops(ctx, 1, 1, at(7, 0), false)
		require.NoError(t, err)
		assert.NotNil(t, list.Trips)
		assert.Empty(t, list.Trips)
	})

	t.Run("unknown station", func(t *testing.T) {
		c := NewLocal(testSnapshot(), Config{Location: pacific})

		_, err := c.TwoStops(ctx, 1, 99, at(7, 0), false)
		assert.ErrorIs(t, err, ErrNoSuchStation)
		_, err = c.TwoStops(ctx, 99, 1, at(7, 0), false)
		assert.ErrorIs(t, err, ErrNoSuchStation)
	})
}

func TestTrip(t *testing.T) {
	c := NewLocal(testSnapshot(), Config{Location: pacific})
	ctx := context.Background()

	trip, err := c.Trip(ctx, 101, at(7, 0), false)
	require.NoError(t, err)
	require.Len(t, trip.Stops, 3)
	assert.Equal(t, int64(1), trip.Stops[0].StationID)
	assert.Equal(t, int64(3), trip.Stops[2].StationID)

	_, err = c.Trip(ctx, 999, at(7, 0), false)
	assert.ErrorIs(t, err, ErrNoSuchTrip)
}

func TestLiveStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		c := NewLocal(testSnapshot(), Config{Location: pacific})

		_, err := c.LiveStatus(ctx)
		assert.ErrorIs(t, err, ErrLiveDisabled)
		_, err = c.LiveFeed(ctx, at(8, 0))
		assert.ErrorIs(t, err, ErrLiveDisabled)
		assert.False(t, c.Health().LiveEnabled)
	})

	t.Run("errors surface", func(t *testing.T) {
		boom := errors.New("timeout")
		c := NewLocal(testSnapshot(), Config{Location: pacific, Live: &fakeLive{err: boom}})

		_, err := c.LiveStatus(ctx)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("feed", func(t *testing.T) {
		updated := at(8, 1)
		live := &fakeLive{
			updated: updated,
			stops: []models.LiveStop{
				{TripID: 101, StationID: 1, StopCode: "70012", Arrival: at(8, 2), Departure: at(8, 3)},
			},
		}
		c := NewLocal(testSnapshot(), Config{Location: pacific, Live: live})

		msg, err := c.LiveFeed(ctx, at(9, 0))
		require.NoError(t, err)
		assert.Equal(t, uint64(updated.Unix()), msg.GetHeader().GetTimestamp())
		require.Len(t, msg.GetEntity(), 1)

		h := c.Health()
		assert.True(t, h.LiveEnabled)
		require.NotNil(t, h.LiveUpdated)
		assert.True(t, h.LiveUpdated.Equal(updated))
		assert.Equal(t, 3, h.Schedule.Stations)
	})
}
