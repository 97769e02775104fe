package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/models"
	"github.com/jusunglee/train-schedules/pkg/trains"
)

// Handler handles HTTP requests
type Handler struct {
	client        trains.Client
	publicBaseURL string
	metrics       http.Handler
	log           logger.Logger
	now           func() time.Time
}

// Config holds optional handler settings
type Config struct {
	// PublicBaseURL prefixes the links in the index; empty uses the request host
	PublicBaseURL string
	// Metrics is served on /metrics when set
	Metrics http.Handler
	Logger  logger.Logger
	Now     func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(client trains.Client, config Config) *Handler {
	h := &Handler{
		client:        client,
		publicBaseURL: config.PublicBaseURL,
		metrics:       config.Metrics,
		log:           config.Logger,
		now:           config.Now,
	}
	if h.log == nil {
		h.log = logger.Nop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// RegisterRoutes registers all routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods("GET")
	r.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stations", h.handleStations).Methods("GET")
	api.HandleFunc("/stations/live", h.handleLive).Methods("GET")
	api.HandleFunc("/stations/live.pb", h.handleLiveFeed).Methods("GET")
	api.HandleFunc("/stations/{id:[0-9]+}", h.handleStation).Methods("GET")
	api.HandleFunc("/stations/{id:[0-9]+}/upcoming", h.handleStationUpcoming).Methods("GET")
	api.HandleFunc("/upcoming-trips", h.handleUpcomingTrips).Methods("GET")
	api.HandleFunc("/trips", h.handleTrips).Methods("GET")
	api.HandleFunc("/trip", h.handleTrip).Methods("GET")
}

// Response wraps API responses
type Response struct {
	Data    interface{} `json:"data"`
	Updated string      `json:"updated,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	base := h.publicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}

	response := map[string]interface{}{
		"title": "train-schedules",
		"links": map[string]string{
			"stations":       base + "/api/stations",
			"upcoming":       base + "/api/stations/{id}/upcoming",
			"upcoming_trips": base + "/api/upcoming-trips?start={id}&end={id}",
			"trips":          base + "/api/trips?start={id}&end={id}",
			"trip":           base + "/api/trip?id={trip_id}",
			"live":           base + "/api/stations/live",
			"live_gtfsrt":    base + "/api/stations/live.pb",
			"health":         base + "/healthz",
		},
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, Response{Data: h.client.Health()})
}

func (h *Handler) handleStations(w http.ResponseWriter, r *http.Request) {
	response := Response{
		Data:    h.client.Stations(),
		Updated: formatTime(h.client.Health().LoadedAt),
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleStation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, "Invalid station id", http.StatusBadRequest)
		return
	}

	station, err := h.client.Station(id)
	if err != nil {
		h.writeClientError(w, r, err)
		return
	}
	h.writeJSON(w, Response{Data: station})
}

func (h *Handler) handleStationUpcoming(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, "Invalid station id", http.StatusBadRequest)
		return
	}
	h.upcoming(w, r, id)
}

// handleUpcomingTrips answers a station pair when end is given, else a single station
func (h *Handler) handleUpcomingTrips(w http.ResponseWriter, r *http.Request) {
	start, err := queryID(r, "start")
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("end") == "" {
		h.upcoming(w, r, start)
		return
	}

	end, err := queryID(r, "end")
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.twoStops(w, r, start, end)
}

func (h *Handler) handleTrips(w http.ResponseWriter, r *http.Request) {
	start, err := queryID(r, "start")
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := queryID(r, "end")
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.twoStops(w, r, start, end)
}

func (h *Handler) handleTrip(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "id")
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	live, err := queryLive(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := h.now()
	trip, err := h.client.Trip(r.Context(), id, now, live)
	if err != nil {
		h.writeClientError(w, r, err)
		return
	}
	h.writeJSON(w, Response{Data: trip, Updated: formatTime(now)})
}

func (h *Handler) upcoming(w http.ResponseWriter, r *http.Request, stationID int64) {
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	live, err := queryLive(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := h.now()
	stops, err := h.client.Upcoming(r.Context(), stationID, now, live)
	if err != nil {
		h.writeClientError(w, r, err)
		return
	}
	if limit > 0 && len(stops) > limit {
		stops = stops[:limit]
	}
	h.writeJSON(w, Response{Data: stops, Updated: formatTime(now)})
}

func (h *Handler) twoStops(w http.ResponseWriter, r *http.Request, start, end int64) {
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	live, err := queryLive(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := h.now()
	list, err := h.client.TwoStops(r.Context(), start, end, now, live)
	if err != nil {
		h.writeClientError(w, r, err)
		return
	}
	if limit > 0 && len(list.Trips) > limit {
		list.Trips = list.Trips[:limit]
	}
	h.writeJSON(w, Response{Data: list, Updated: formatTime(now)})
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	var stationID int64
	filter := r.URL.Query().Get("station") != ""
	if filter {
		id, err := queryID(r, "station")
		if err != nil {
			h.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := h.client.Station(id); err != nil {
			h.writeClientError(w, r, err)
			return
		}
		stationID = id
	}

	stops, err := h.client.LiveStatus(r.Context())
	if err != nil {
		h.writeClientError(w, r, err)
		return
	}

	if filter {
		filtered := make([]models.LiveStop, 0)
		for _, s := range stops {
			if s.StationID == stationID {
				filtered = append(filtered, s)
			}
		}
		stops = filtered
	}

	response := Response{Data: stops}
	if updated := h.client.Health().LiveUpdated; updated != nil {
		response.Updated = formatTime(*updated)
	}
	h.writeJSON(w, response)
}

func (h *Handler) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	msg, err := h.client.LiveFeed(r.Context(), h.now())
	if err != nil {
		h.writeClientError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(prototext.Format(msg)))
		return
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		h.writeError(w, "Failed to encode feed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Write(data)
}

// writeClientError maps query errors to statuses
func (h *Handler) writeClientError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trains.ErrNoSuchStation), errors.Is(err, trains.ErrNoSuchTrip):
		h.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, trains.ErrLiveDisabled):
		h.writeError(w, err.Error(), http.StatusServiceUnavailable)
	case isLiveRoute(r):
		h.log.Warn("Live status request failed", "error", err, "path", r.URL.Path)
		h.writeError(w, "Live status unavailable", http.StatusBadGateway)
	default:
		h.log.Error("Request failed", "error", err, "path", r.URL.Path)
		h.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func isLiveRoute(r *http.Request) bool {
	switch r.URL.Path {
	case "/api/stations/live", "/api/stations/live.pb":
		return true
	}
	return false
}

func queryID(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, errors.New("Missing " + name + " parameter")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.New("Invalid " + name + " parameter")
	}
	return id, nil
}

// queryLimit returns 0 when no limit was given
func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		return 0, errors.New("Invalid limit parameter")
	}
	return limit, nil
}

// queryLive defaults to true; estimates are dropped silently when unavailable
func queryLive(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("live")
	if v == "" {
		return true, nil
	}
	live, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("Invalid live parameter")
	}
	return live, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.writeError(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
