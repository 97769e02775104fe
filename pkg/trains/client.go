package trains

import (
	"context"
	"errors"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"

	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/models"
	"github.com/jusunglee/train-schedules/internal/store"
)

var (
	ErrNoSuchStation = errors.New("no such station")
	ErrNoSuchTrip    = errors.New("no such trip")
	// ErrLiveDisabled is returned by live queries when no feed is configured
	ErrLiveDisabled = errors.New("live status not configured")
)

// Client defines the interface for querying train schedules
// Abstracts different data sources (local vs remote) behind common interface
type Client interface {
	Stations() []models.Station
	Station(id int64) (models.Station, error)

	Upcoming(ctx context.Context, stationID int64, now time.Time, live bool) ([]models.Stop, error)
	TwoStops(ctx context.Context, startID, endID int64, now time.Time, live bool) (models.TwoStopList, error)
	Trip(ctx context.Context, tripID int64, now time.Time, live bool) (models.Trip, error)

	LiveStatus(ctx context.Context) ([]models.LiveStop, error)
	LiveFeed(ctx context.Context, now time.Time) (*gtfsrt.FeedMessage, error)

	Health() Health
}

// LiveSource supplies the current real-time estimates
type LiveSource interface {
	Live(ctx context.Context) ([]models.LiveStop, error)
	Updated() time.Time
}

// Config holds what a LocalClient needs besides the schedule.
// Live may be nil, in which case every query is schedule-only.
type Config struct {
	Location *time.Location
	Live     LiveSource
	Logger   logger.Logger
}

// Health summarises what the service is serving
type Health struct {
	Schedule    store.Stats `json:"schedule"`
	LoadedAt    time.Time   `json:"loaded_at"`
	LiveEnabled bool        `json:"live_enabled"`
	LiveUpdated *time.Time  `json:"live_updated,omitempty"`
}
