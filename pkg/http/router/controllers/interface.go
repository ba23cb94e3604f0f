package controllers

import (
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/engine"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/usecases"
)

type TrackingService interface {
	SetTrip(tripID string, pickup, destination geo.Coordinate, stage datastructure.TripStage) error
	IngestFix(tripID string, point geo.Coordinate, observedAt time.Time)
	SetStage(tripID string, stage datastructure.TripStage) error
	SelectRoute(tripID string, index int) error
	Snapshot(tripID string) (engine.Snapshot, error)
	SetNetworkAvailable(online bool)
	Subscribe(tripID string, sink usecases.EventSink) (unsubscribe func(), err error)
	EndTrip(tripID string) error
}
