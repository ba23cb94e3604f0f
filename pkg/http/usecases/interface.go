package usecases

import (
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/engine"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/eventbus"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
)

// TrackingEngine is one trip's tracking pipeline (engine.Pipeline).
type TrackingEngine interface {
	IngestFix(point geo.Coordinate, observedAt time.Time)
	SetTrip(pickup, destination geo.Coordinate) error
	SetTripStage(stage datastructure.TripStage)
	SelectRoute(index int) error
	SetNetworkAvailable(online bool)
	Snapshot() engine.Snapshot
	Bus() *eventbus.Bus
	Close()
}

// EventSink receives every event of a trip, named as in the websocket protocol.
type EventSink func(event string, data any)
