package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned for bodies that are not a StopMonitoring document
var ErrMalformed = errors.New("malformed feed body")

// maxPrefix is how many stray bytes may precede the JSON document
const maxPrefix = 8

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Response is the SIRI StopMonitoring document as served in JSON
type Response struct {
	ServiceDelivery ServiceDelivery `json:"ServiceDelivery"`
}

type ServiceDelivery struct {
	ResponseTimestamp      string                 `json:"ResponseTimestamp"`
	ProducerRef            string                 `json:"ProducerRef"`
	StopMonitoringDelivery StopMonitoringDelivery `json:"StopMonitoringDelivery"`
}

type StopMonitoringDelivery struct {
	ResponseTimestamp  string               `json:"ResponseTimestamp"`
	MonitoredStopVisit []MonitoredStopVisit `json:"MonitoredStopVisit"`
}

type MonitoredStopVisit struct {
	RecordedAtTime          string                  `json:"RecordedAtTime"`
	MonitoringRef           string                  `json:"MonitoringRef"`
	MonitoredVehicleJourney MonitoredVehicleJourney `json:"MonitoredVehicleJourney"`
}

type MonitoredVehicleJourney struct {
	LineRef                 string                  `json:"LineRef"`
	DirectionRef            string                  `json:"DirectionRef"`
	PublishedLineName       string                  `json:"PublishedLineName"`
	OperatorRef             string                  `json:"OperatorRef"`
	VehicleRef              *string                 `json:"VehicleRef"`
	FramedVehicleJourneyRef FramedVehicleJourneyRef `json:"FramedVehicleJourneyRef"`
	MonitoredCall           MonitoredCall           `json:"MonitoredCall"`
}

type FramedVehicleJourneyRef struct {
	DataFrameRef           string `json:"DataFrameRef"`
	DatedVehicleJourneyRef string `json:"DatedVehicleJourneyRef"`
}

type MonitoredCall struct {
	StopPointRef          string     `json:"StopPointRef"`
	StopPointName         string     `json:"StopPointName"`
	AimedArrivalTime      *time.Time `json:"AimedArrivalTime"`
	ExpectedArrivalTime   *time.Time `json:"ExpectedArrivalTime"`
	AimedDepartureTime    *time.Time `json:"AimedDepartureTime"`
	ExpectedDepartureTime *time.Time `json:"ExpectedDepartureTime"`
}

// Decode parses a feed body.
//
// 511 prefixes its JSON with a UTF-8 byte order mark. The BOM is stripped when
// present; otherwise up to maxPrefix bytes before the opening brace are skipped.
func Decode(body []byte) (*Response, error) {
	doc, err := trimPrefix(body)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(doc, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &resp, nil
}

func trimPrefix(body []byte) ([]byte, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	i := bytes.IndexByte(body, '{')
	if i < 0 || i > maxPrefix {
		return nil, fmt.Errorf("%w: no JSON object near start of body", ErrMalformed)
	}
	return body[i:], nil
}
