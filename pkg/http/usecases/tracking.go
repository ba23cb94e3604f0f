package usecases

import (
	"errors"
	"sync"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/engine"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/util"
	"go.uber.org/zap"
)

var (
	ErrTripNotFound = errors.New("trip not found")
)

const (
	EventSmoothedPosition = "smoothed_position"
	EventSnap             = "snap"
	EventRouteOptions     = "route_options"
	EventNavigationState  = "navigation_state"
	// last event of a subscription, sent when the trip is ended
	EventTripEnded = "trip_ended"
)

type TripEnded struct {
	TripID string `json:"trip_id"`
}

type subscription struct {
	sink EventSink
	once sync.Once
	stop func()
}

func (s *subscription) cancel() {
	s.once.Do(s.stop)
}

// TrackingService keeps one tracking engine per active trip.
type TrackingService struct {
	log       *zap.Logger
	newEngine func(tripID string) TrackingEngine

	mu      sync.RWMutex
	trips   map[string]TrackingEngine
	subs    map[string]map[uint64]*subscription
	nextSub uint64
	online  bool
}

func NewTrackingService(log *zap.Logger, newEngine func(tripID string) TrackingEngine) *TrackingService {
	return &TrackingService{
		log:       log,
		newEngine: newEngine,
		trips:     make(map[string]TrackingEngine),
		subs:      make(map[string]map[uint64]*subscription),
		online:    true,
	}
}

// NewPipelineFactory builds engine.Pipelines that share deps, each logging with its trip id.
func NewPipelineFactory(deps engine.Deps, cfg engine.Config, log *zap.Logger) func(tripID string) TrackingEngine {
	return func(tripID string) TrackingEngine {
		return engine.NewPipeline(deps, cfg, log.With(zap.String("trip_id", tripID)))
	}
}

func (ts *TrackingService) get(tripID string) (TrackingEngine, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	te, ok := ts.trips[tripID]
	if !ok {
		return nil, util.WrapErrorf(ErrTripNotFound, util.ErrNotFound, "trip %q", tripID)
	}
	return te, nil
}

func (ts *TrackingService) getOrCreate(tripID string) TrackingEngine {
	ts.mu.RLock()
	te, ok := ts.trips[tripID]
	ts.mu.RUnlock()
	if ok {
		return te
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if te, ok := ts.trips[tripID]; ok {
		return te
	}
	te = ts.newEngine(tripID)
	te.SetNetworkAvailable(ts.online)
	ts.trips[tripID] = te
	ts.log.Info("tracking trip", zap.String("trip_id", tripID))
	return te
}

// SetTrip creates the trip if needed and sets its endpoints and, when non-empty, its stage.
func (ts *TrackingService) SetTrip(tripID string, pickup, destination geo.Coordinate, stage datastructure.TripStage) error {
	te := ts.getOrCreate(tripID)
	if err := te.SetTrip(pickup, destination); err != nil {
		return err
	}
	if stage != "" {
		te.SetTripStage(stage)
	}
	return nil
}

// IngestFix feeds a raw fix to the trip, creating it on first use so fixes may arrive before
// the trip details.
func (ts *TrackingService) IngestFix(tripID string, point geo.Coordinate, observedAt time.Time) {
	ts.getOrCreate(tripID).IngestFix(point, observedAt)
}

func (ts *TrackingService) SetStage(tripID string, stage datastructure.TripStage) error {
	te, err := ts.get(tripID)
	if err != nil {
		return err
	}
	te.SetTripStage(stage)
	return nil
}

func (ts *TrackingService) SelectRoute(tripID string, index int) error {
	te, err := ts.get(tripID)
	if err != nil {
		return err
	}
	return te.SelectRoute(index)
}

func (ts *TrackingService) Snapshot(tripID string) (engine.Snapshot, error) {
	te, err := ts.get(tripID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	return te.Snapshot(), nil
}

// SetNetworkAvailable applies to every trip, current and future.
func (ts *TrackingService) SetNetworkAvailable(online bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.online = online
	for _, te := range ts.trips {
		te.SetNetworkAvailable(online)
	}
	ts.log.Info("fleet network availability set", zap.Bool("online", online))
}

// Subscribe forwards every event of an existing trip to sink until the returned func is called or
// the trip is ended, whichever comes first. Ending the trip sends EventTripEnded as the last event.
func (ts *TrackingService) Subscribe(tripID string, sink EventSink) (func(), error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	te, ok := ts.trips[tripID]
	if !ok {
		return nil, util.WrapErrorf(ErrTripNotFound, util.ErrNotFound, "trip %q", tripID)
	}

	bus := te.Bus()
	unsubs := []func(){
		bus.OnSmoothedPosition(func(pos datastructure.SmoothedPosition) { sink(EventSmoothedPosition, pos) }),
		bus.OnSnap(func(snap *datastructure.SnapResult) { sink(EventSnap, snap) }),
		bus.OnRouteOptions(func(opts datastructure.RouteOptions) { sink(EventRouteOptions, opts) }),
		bus.OnNavigationState(func(state datastructure.NavigationState) { sink(EventNavigationState, state) }),
	}

	ts.nextSub++
	id := ts.nextSub
	sub := &subscription{sink: sink, stop: func() {
		for _, u := range unsubs {
			u()
		}
	}}
	if ts.subs[tripID] == nil {
		ts.subs[tripID] = make(map[uint64]*subscription)
	}
	ts.subs[tripID][id] = sub

	return func() {
		ts.mu.Lock()
		if subs, ok := ts.subs[tripID]; ok && subs[id] == sub {
			delete(subs, id)
			if len(subs) == 0 {
				delete(ts.subs, tripID)
			}
		}
		ts.mu.Unlock()
		sub.cancel()
	}, nil
}

// EndTrip stops the trip and closes its subscriptions. A later fix for the same id starts a new trip.
func (ts *TrackingService) EndTrip(tripID string) error {
	ts.mu.Lock()
	te, ok := ts.trips[tripID]
	delete(ts.trips, tripID)
	subs := ts.subs[tripID]
	delete(ts.subs, tripID)
	ts.mu.Unlock()

	if !ok {
		return util.WrapErrorf(ErrTripNotFound, util.ErrNotFound, "trip %q", tripID)
	}
	te.Close()
	for _, sub := range subs {
		sub.cancel()
		sub.sink(EventTripEnded, TripEnded{TripID: tripID})
	}
	ts.log.Info("trip ended", zap.String("trip_id", tripID), zap.Int("subscribers", len(subs)))
	return nil
}

func (ts *TrackingService) ActiveTrips() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.trips)
}

// Close stops every trip.
func (ts *TrackingService) Close() {
	ts.mu.Lock()
	trips := ts.trips
	subs := ts.subs
	ts.trips = make(map[string]TrackingEngine)
	ts.subs = make(map[string]map[uint64]*subscription)
	ts.mu.Unlock()

	for _, te := range trips {
		te.Close()
	}
	for _, tripSubs := range subs {
		for _, sub := range tripSubs {
			sub.cancel()
		}
	}
}
