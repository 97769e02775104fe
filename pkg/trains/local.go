package trains

import (
	"context"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"github.com/jusunglee/train-schedules/internal/feed"
	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/matcher"
	"github.com/jusunglee/train-schedules/internal/models"
	"github.com/jusunglee/train-schedules/internal/store"
)

// LocalClient implements the Client interface over an in-memory schedule
type LocalClient struct {
	snap    *store.Snapshot
	matcher *matcher.Matcher
	live    LiveSource
	log     logger.Logger
}

// NewLocal creates a client answering from snap
func NewLocal(snap *store.Snapshot, config Config) *LocalClient {
	loc := config.Location
	if loc == nil {
		loc = time.Local
	}
	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &LocalClient{
		snap:    snap,
		matcher: matcher.New(snap, loc),
		live:    config.Live,
		log:     log,
	}
}

func (c *LocalClient) Stations() []models.Station {
	return c.snap.Stations()
}

func (c *LocalClient) Station(id int64) (models.Station, error) {
	st, ok := c.snap.Station(id)
	if !ok {
		return models.Station{}, ErrNoSuchStation
	}
	return st, nil
}

func (c *LocalClient) Upcoming(ctx context.Context, stationID int64, now time.Time, live bool) ([]models.Stop, error) {
	if _, err := c.Station(stationID); err != nil {
		return nil, err
	}

	active := c.matcher.ActiveServices(now)
	stops := c.matcher.UpcomingAtStation(stationID, active, now, c.liveOptions(ctx, live)...)
	if stops == nil {
		stops = []models.Stop{}
	}
	return stops, nil
}

func (c *LocalClient) TwoStops(ctx context.Context, startID, endID int64, now time.Time, live bool) (models.TwoStopList, error) {
	start, err := c.Station(startID)
	if err != nil {
		return models.TwoStopList{}, err
	}
	end, err := c.Station(endID)
	if err != nil {
		return models.TwoStopList{}, err
	}

	active := c.matcher.ActiveServices(now)
	legs := c.matcher.TwoStopLegs(startID, endID, active, now, c.liveOptions(ctx, live)...)
	if legs == nil {
		legs = []models.TwoStop{}
	}
	return models.TwoStopList{Start: start, End: end, Trips: legs}, nil
}

func (c *LocalClient) Trip(ctx context.Context, tripID int64, now time.Time, live bool) (models.Trip, error) {
	trip, ok := c.matcher.Trip(tripID, now, c.liveOptions(ctx, live)...)
	if !ok {
		return models.Trip{}, ErrNoSuchTrip
	}
	return trip, nil
}

// LiveStatus returns the cached estimates, refreshing them when stale.
// Unlike the schedule queries, upstream failures are returned.
func (c *LocalClient) LiveStatus(ctx context.Context) ([]models.LiveStop, error) {
	if c.live == nil {
		return nil, ErrLiveDisabled
	}
	return c.live.Live(ctx)
}

// LiveFeed encodes the live status as GTFS-realtime trip updates
func (c *LocalClient) LiveFeed(ctx context.Context, now time.Time) (*gtfsrt.FeedMessage, error) {
	stops, err := c.LiveStatus(ctx)
	if err != nil {
		return nil, err
	}
	updated := c.live.Updated()
	if updated.IsZero() {
		updated = now
	}
	return feed.ToGTFSRealtime(stops, updated), nil
}

func (c *LocalClient) Health() Health {
	h := Health{
		Schedule:    c.snap.Stats(),
		LoadedAt:    c.snap.LoadedAt(),
		LiveEnabled: c.live != nil,
	}
	if c.live != nil {
		if updated := c.live.Updated(); !updated.IsZero() {
			h.LiveUpdated = &updated
		}
	}
	return h
}

// liveOptions falls back to schedule-only when the live feed fails
func (c *LocalClient) liveOptions(ctx context.Context, live bool) []matcher.Option {
	if !live || c.live == nil {
		return nil
	}
	stops, err := c.live.Live(ctx)
	if err != nil {
		c.log.Warn("Live status unavailable, serving schedule only", "error", err)
		return nil
	}
	return []matcher.Option{matcher.WithLive(models.NewLiveIndex(stops))}
}
