package feed

import (
	"errors"
	"testing"
)

func TestDecodePrefixes(t *testing.T) {
	doc := `{"ServiceDelivery":{"StopMonitoringDelivery":{"MonitoredStopVisit":[{"MonitoringRef":"70012"}]}}}`

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"utf-8 byte order mark", "\xEF\xBB\xBF" + doc, false},
		{"three junk bytes", "xxx" + doc, false},
		{"no prefix", doc, false},
		{"whitespace", "\r\n " + doc, false},
		{"long prefix", "0123456789" + doc, true},
		{"not json", "xxx<html/>", true},
		{"truncated", "\xEF\xBB\xBF" + doc[:20], true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Decode([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("Expected ErrMalformed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			visits := resp.ServiceDelivery.StopMonitoringDelivery.MonitoredStopVisit
			if len(visits) != 1 || visits[0].MonitoringRef != "70012" {
				t.Errorf("Unexpected visits: %+v", visits)
			}
		})
	}
}
