package feed

import (
	"sort"
	"strconv"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"google.golang.org/protobuf/proto"

	"github.com/jusunglee/train-schedules/internal/models"
)

// ToGTFSRealtime re-publishes live stops as a GTFS-realtime TripUpdates feed.
// There is one entity per trip; stop ids are the upstream stop codes.
func ToGTFSRealtime(live []models.LiveStop, updated time.Time) *gtfsrt.FeedMessage {
	byTrip := make(map[int64][]models.LiveStop)
	var trips []int64
	for _, s := range live {
		if _, ok := byTrip[s.TripID]; !ok {
			trips = append(trips, s.TripID)
		}
		byTrip[s.TripID] = append(byTrip[s.TripID], s)
	}
	sort.Slice(trips, func(i, j int) bool { return trips[i] < trips[j] })

	entities := make([]*gtfsrt.FeedEntity, 0, len(trips))
	for _, tripID := range trips {
		stops := byTrip[tripID]
		sort.SliceStable(stops, func(i, j int) bool {
			return stops[i].Departure.Before(stops[j].Departure)
		})

		updates := make([]*gtfsrt.TripUpdate_StopTimeUpdate, 0, len(stops))
		for _, s := range stops {
			updates = append(updates, &gtfsrt.TripUpdate_StopTimeUpdate{
				StopId:    proto.String(s.StopCode),
				Arrival:   &gtfsrt.TripUpdate_StopTimeEvent{Time: proto.Int64(s.Arrival.Unix())},
				Departure: &gtfsrt.TripUpdate_StopTimeEvent{Time: proto.Int64(s.Departure.Unix())},
			})
		}

		id := strconv.FormatInt(tripID, 10)
		entities = append(entities, &gtfsrt.FeedEntity{
			Id: proto.String(id),
			TripUpdate: &gtfsrt.TripUpdate{
				Trip:           &gtfsrt.TripDescriptor{TripId: proto.String(id)},
				StopTimeUpdate: updates,
			},
		})
	}

	return &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrt.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(updated.Unix())),
		},
		Entity: entities,
	}
}
