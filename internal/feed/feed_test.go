package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleBody = "\xEF\xBB\xBF" + `{
  "ServiceDelivery": {
    "ResponseTimestamp": "2024-01-03T15:55:00Z",
    "ProducerRef": "CT",
    "StopMonitoringDelivery": {
      "MonitoredStopVisit": [
        {
          "RecordedAtTime": "2024-01-03T15:54:30Z",
          "MonitoringRef": "70012",
          "MonitoredVehicleJourney": {
            "LineRef": "Local",
            "DirectionRef": "S",
            "VehicleRef": "101",
            "FramedVehicleJourneyRef": {"DataFrameRef": "2024-01-03", "DatedVehicleJourneyRef": "101"},
            "MonitoredCall": {
              "StopPointRef": "70012",
              "StopPointName": "San Francisco Caltrain",
              "AimedArrivalTime": "2024-01-03T16:00:00Z",
              "ExpectedArrivalTime": "2024-01-03T16:02:00Z",
              "AimedDepartureTime": "2024-01-03T16:00:00Z",
              "ExpectedDepartureTime": "2024-01-03T16:03:00Z"
            }
          }
        },
        {
          "MonitoringRef": "70022",
          "MonitoredVehicleJourney": {
            "VehicleRef": null,
            "MonitoredCall": {
              "StopPointRef": "70022",
              "ExpectedArrivalTime": null,
              "ExpectedDepartureTime": "2024-01-03T08:10:00-08:00"
            }
          }
        }
      ]
    }
  }
}`

func TestClientFetch(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{"api_key": q.Get("api_key"), "agency": q.Get("agency"), "format": q.Get("format")}
		w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "secret"})
	visits, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(visits) != 2 {
		t.Fatalf("Expected 2 visits, got %d", len(visits))
	}
	if gotQuery["api_key"] != "secret" || gotQuery["agency"] != "CT" || gotQuery["format"] != "json" {
		t.Errorf("Unexpected query: %v", gotQuery)
	}

	first := visits[0].MonitoredVehicleJourney
	if first.VehicleRef == nil || *first.VehicleRef != "101" {
		t.Errorf("Expected VehicleRef 101, got %v", first.VehicleRef)
	}
	want := time.Date(2024, 1, 3, 16, 3, 0, 0, time.UTC)
	if !first.MonitoredCall.ExpectedDepartureTime.Equal(want) {
		t.Errorf("Expected departure %v, got %v", want, first.MonitoredCall.ExpectedDepartureTime)
	}

	second := visits[1].MonitoredVehicleJourney
	if second.VehicleRef != nil || second.MonitoredCall.ExpectedArrivalTime != nil {
		t.Error("Expected nulls to decode as nil")
	}
}

func TestClientStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, func(err error) bool { return errors.Is(err, ErrRateLimited) }},
		{"server error", http.StatusInternalServerError, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.Code == http.StatusInternalServerError && se.Body == "down"
		}},
		{"unauthorized", http.StatusUnauthorized, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && !errors.Is(err, ErrRateLimited)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("down"))
			}))
			defer srv.Close()

			_, err := NewClient(Config{URL: srv.URL}).Fetch(context.Background())
			if err == nil || !tt.check(err) {
				t.Errorf("Unexpected error for HTTP %d: %v", tt.status, err)
			}
		})
	}
}

func TestClientTimeoutAndCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Error("Expected timeout error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewClient(Config{URL: srv.URL}).Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestClientMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}).Fetch(context.Background())
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed, got %v", err)
	}
}
