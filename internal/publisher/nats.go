// Package publisher fans refreshed live status out over NATS.
package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/models"
)

// DefaultSubject is used when no subject is configured
const DefaultSubject = "trains.live"

type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	log     logger.Logger
	metrics PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// LiveMessage is the payload published after each refresh
type LiveMessage struct {
	Updated time.Time         `json:"updated"`
	Stops   []models.LiveStop `json:"stops"`
}

func NewNATSPublisher(url, subject string, log logger.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("train-schedules"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, subject: SubjectToken(subject), log: log, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PublishLive publishes the full live list as one message
func (p *NATSPublisher) PublishLive(_ context.Context, stops []models.LiveStop) error {
	b, err := json.Marshal(LiveMessage{Updated: time.Now(), Stops: stops})
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.nc.Publish(p.subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// SubjectToken cleans a configured subject. Dots separate tokens and are kept.
func SubjectToken(s string) string {
	s = strings.Trim(strings.TrimSpace(s), ".")
	// NATS subjects cannot contain spaces or wildcards when publishing
	repl := strings.NewReplacer(" ", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = DefaultSubject
	}
	return s
}
