package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jusunglee/train-schedules/internal/store"
)

type Collector struct {
	reg *prometheus.Registry

	Stations  prometheus.Gauge
	StopTimes prometheus.Gauge
	Trips     prometheus.Gauge
	Services  prometheus.Gauge

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	LiveStops   prometheus.Gauge

	Refreshes       *prometheus.CounterVec // outcome label: ok|rate_limited|error
	RefreshDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	Requests        *prometheus.CounterVec // route, method, code
	RequestDuration *prometheus.HistogramVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Stations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trains_schedule_stations",
			Help: "Stations in the loaded schedule.",
		}),
		StopTimes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trains_schedule_stop_times",
			Help: "Scheduled stop times in the loaded schedule.",
		}),
		Trips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trains_schedule_trips",
			Help: "Trips in the loaded schedule.",
		}),
		Services: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trains_schedule_services",
			Help: "Service calendars in the loaded schedule.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trains_live_cache_hits_total",
			Help: "Live status reads served from a fresh cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trains_live_cache_misses_total",
			Help: "Live status reads that found the cache stale.",
		}),
		LiveStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trains_live_stops",
			Help: "Live stops held by the cache after the last refresh.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trains_live_refreshes_total",
			Help: "Upstream refresh attempts by outcome.",
		}, []string{"outcome"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trains_live_refresh_duration_seconds",
			Help:    "Duration of upstream refreshes.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trains_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trains_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trains_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trains_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trains_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trains_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.Stations, c.StopTimes, c.Trips, c.Services,
		c.CacheHits, c.CacheMisses, c.LiveStops,
		c.Refreshes, c.RefreshDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.Requests, c.RequestDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// SetSnapshot records the size of the loaded schedule
func (c *Collector) SetSnapshot(s store.Stats) {
	c.Stations.Set(float64(s.Stations))
	c.StopTimes.Set(float64(s.StopTimes))
	c.Trips.Set(float64(s.Trips))
	c.Services.Set(float64(s.Services))
}

func (c *Collector) CacheHit()  { c.CacheHits.Inc() }
func (c *Collector) CacheMiss() { c.CacheMisses.Inc() }

func (c *Collector) RefreshObserve(outcome string, d time.Duration, stops int) {
	c.Refreshes.WithLabelValues(outcome).Inc()
	c.RefreshDuration.Observe(d.Seconds())
	if outcome != "error" {
		c.LiveStops.Set(float64(stops))
	}
}

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// ObserveRequest records one served HTTP request
func (c *Collector) ObserveRequest(route, method string, code int, d time.Duration) {
	c.Requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
