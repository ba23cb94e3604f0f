package engine

import (
	"sync"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/directions"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/engine/acquirer"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/engine/mapmatcher"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/engine/navigation"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/eventbus"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/routecache"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/smoother"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/util"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Config struct {
	Smoother smoother.Config
	Acquirer acquirer.Config
	Matcher  mapmatcher.Config
	// minimum spacing of route requests while the driver has no route or is off route
	RerouteInterval time.Duration
	// a route is re-requested at least this often so ETA follows the driver
	RefreshInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Smoother:        smoother.DefaultConfig(),
		Acquirer:        acquirer.DefaultConfig(),
		Matcher:         mapmatcher.DefaultConfig(),
		RerouteInterval: 15 * time.Second,
		RefreshInterval: 60 * time.Second,
	}
}

type Deps struct {
	Provider directions.Provider
	Cache    *routecache.Cache
	Clock    clockwork.Clock
}

// Snapshot is a copy of the pipeline's latest outputs.
type Snapshot struct {
	Stage            datastructure.TripStage        `json:"stage"`
	NetworkAvailable bool                           `json:"network_available"`
	Position         *datastructure.SmoothedPosition `json:"position,omitempty"`
	Snap             *datastructure.SnapResult       `json:"snap,omitempty"`
	RouteOptions     *datastructure.RouteOptions     `json:"route_options,omitempty"`
	Navigation       *datastructure.NavigationState  `json:"navigation,omitempty"`
}

type routeRequest struct {
	origin      geo.Coordinate
	destination geo.Coordinate
	leg         datastructure.LegType
}

/*
Pipeline. one per trip. each fix is one tick: smoother -> map matcher -> route maintenance, and
route sets arriving from the acquirer update the navigation state. a mutex serialises ticks.
events are queued in tick order while it is held and delivered after it is released, so handlers
may call back into the pipeline and never observe an older tick after a newer one.
*/
type Pipeline struct {
	cfg   Config
	log   *zap.Logger
	clock clockwork.Clock

	smoother *smoother.Smoother
	matcher  *mapmatcher.MapMatcher
	selector *navigation.Selector
	acquirer *acquirer.Acquirer
	bus      *eventbus.Bus

	mu          sync.Mutex
	stage       datastructure.TripStage
	pickup      geo.Coordinate
	destination geo.Coordinate
	hasTrip     bool

	routeSet datastructure.RouteSet
	hasRoute bool
	snap     *datastructure.SnapResult

	// last route request
	wantKey       string
	requestedLeg  datastructure.LegType
	requestedTo   geo.Coordinate
	lastRequestAt time.Time
	requested     bool

	// candidate picked through SelectRoute, applied to late route sets of the same key
	chosenKey   string
	chosenIndex int

	emitMu   sync.Mutex
	pending  []func()
	draining bool
}

func NewPipeline(deps Deps, cfg Config, log *zap.Logger) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		log:      log,
		clock:    deps.Clock,
		smoother: smoother.New(cfg.Smoother),
		matcher:  mapmatcher.New(cfg.Matcher),
		selector: navigation.NewSelector(),
		bus:      eventbus.New(),
		stage:    datastructure.StageRequested,
	}
	p.acquirer = acquirer.New(deps.Provider, deps.Cache, deps.Clock, cfg.Acquirer, log, p.onRouteSet)
	return p
}

func (p *Pipeline) Bus() *eventbus.Bus {
	return p.bus
}

// IngestFix runs one tick for a raw gps fix. Invalid fixes and jitter inside the deadband publish
// nothing.
func (p *Pipeline) IngestFix(point geo.Coordinate, observedAt time.Time) {
	p.mu.Lock()
	pos, published := p.smoother.Ingest(datastructure.NewRawFix(point.Lat, point.Lon, observedAt))
	if !published {
		p.mu.Unlock()
		p.log.Debug("fix not published", zap.Float64("lat", point.Lat), zap.Float64("lng", point.Lon))
		return
	}

	var snap *datastructure.SnapResult
	hasRoute := p.hasRoute
	if hasRoute {
		snap = p.matcher.SnapRouteSet(pos, p.routeSet)
		p.snap = snap
	}
	req := p.maintainRouteLocked(pos, hasRoute && snap == nil)
	p.queueLocked(func() { p.bus.EmitSmoothedPosition(pos) })
	if hasRoute {
		p.queueLocked(func() { p.bus.EmitSnap(snap) })
	}
	p.mu.Unlock()

	p.flush()
	p.ensureRoute(req)
}

// queueLocked appends an event delivery. p.mu must be held so the queue follows tick order.
func (p *Pipeline) queueLocked(deliver func()) {
	p.emitMu.Lock()
	p.pending = append(p.pending, deliver)
	p.emitMu.Unlock()
}

// flush delivers queued events in order. If another goroutine (or a handler further up this
// stack) is already delivering, it picks up whatever was queued here.
func (p *Pipeline) flush() {
	p.emitMu.Lock()
	if p.draining {
		p.emitMu.Unlock()
		return
	}
	p.draining = true
	p.emitMu.Unlock()

	finished := false
	defer func() {
		if !finished {
			p.emitMu.Lock()
			p.draining = false
			p.emitMu.Unlock()
		}
	}()

	for {
		p.emitMu.Lock()
		batch := p.pending
		p.pending = nil
		if len(batch) == 0 {
			p.draining = false
			p.emitMu.Unlock()
			finished = true
			return
		}
		p.emitMu.Unlock()

		for _, deliver := range batch {
			deliver()
		}
	}
}

// maintainRouteLocked decides whether the tick needs a route request. Requests are needed when
// nothing was requested yet, the leg or target changed, the driver has no route or left it (at
// most every RerouteInterval), or RefreshInterval elapsed.
func (p *Pipeline) maintainRouteLocked(pos datastructure.SmoothedPosition, offRoute bool) *routeRequest {
	target, leg, ok := p.targetLocked()
	if !ok {
		return nil
	}

	since := p.clock.Since(p.lastRequestAt)
	switch {
	case !p.requested, leg != p.requestedLeg, target != p.requestedTo:
	case (!p.hasRoute || offRoute) && since >= p.cfg.RerouteInterval:
	case since >= p.cfg.RefreshInterval:
	default:
		return nil
	}

	p.requested = true
	p.requestedLeg, p.requestedTo = leg, target
	p.lastRequestAt = p.clock.Now()
	p.wantKey = datastructure.RouteKey(pos.Point, target, leg)
	return &routeRequest{origin: pos.Point, destination: target, leg: leg}
}

func (p *Pipeline) targetLocked() (geo.Coordinate, datastructure.LegType, bool) {
	if !p.hasTrip || terminal(p.stage) {
		return geo.Coordinate{}, "", false
	}
	leg := navigation.LegForStage(p.stage)
	if leg == datastructure.LegDestination {
		return p.destination, leg, true
	}
	return p.pickup, leg, true
}

func terminal(stage datastructure.TripStage) bool {
	return stage == datastructure.StageCompleted || stage == datastructure.StageCancelled
}

func (p *Pipeline) ensureRoute(req *routeRequest) {
	if req == nil {
		return
	}
	p.acquirer.EnsureRoute(req.origin, req.destination, req.leg)
}

// requestNowLocked forces a route request from the current position, if there is one.
func (p *Pipeline) requestNowLocked() *routeRequest {
	pos, ok := p.smoother.Current()
	if !ok {
		return nil
	}
	p.requested = false
	return p.maintainRouteLocked(pos, false)
}

func (p *Pipeline) onRouteSet(rs datastructure.RouteSet) {
	p.mu.Lock()
	if terminal(p.stage) || rs.Key != p.wantKey {
		p.mu.Unlock()
		p.log.Debug("ignoring route set for an old request", zap.String("key", rs.Key))
		return
	}

	if rs.Key == p.chosenKey {
		rs = rs.WithActiveIndex(p.chosenIndex)
	}
	p.routeSet, p.hasRoute = rs, true
	p.matcher.Reset()
	state, changed := p.selector.Update(rs)

	var snap *datastructure.SnapResult
	pos, seeded := p.smoother.Current()
	if seeded {
		snap = p.matcher.SnapRouteSet(pos, rs)
		p.snap = snap
	}
	p.queueLocked(func() { p.bus.EmitRouteOptions(rs.Options()) })
	if seeded {
		p.queueLocked(func() { p.bus.EmitSnap(snap) })
	}
	if changed {
		p.queueLocked(func() { p.bus.EmitNavigationState(state) })
	}
	p.mu.Unlock()

	p.flush()
}

// SetTrip sets the pickup and destination points of the trip.
func (p *Pipeline) SetTrip(pickup, destination geo.Coordinate) error {
	if !geo.Valid(pickup) || !geo.Valid(destination) {
		return util.WrapErrorf(nil, util.ErrBadParamInput, "invalid trip coordinates")
	}

	p.mu.Lock()
	p.pickup, p.destination, p.hasTrip = pickup, destination, true
	req := p.requestNowLocked()
	p.mu.Unlock()

	p.ensureRoute(req)
	return nil
}

// SetTripStage moves the trip to stage. A leg change drops the current route and requests one
// for the new leg. A terminal stage drops the route and cancels any acquisition still running.
func (p *Pipeline) SetTripStage(stage datastructure.TripStage) {
	p.mu.Lock()
	wasTerminal := terminal(p.stage)
	oldLeg := navigation.LegForStage(p.stage)
	p.stage = stage
	newLeg := navigation.LegForStage(stage)

	if terminal(stage) {
		p.clearRouteLocked()
		p.wantKey, p.requested = "", false
		p.mu.Unlock()
		if !wasTerminal {
			p.log.Info("trip ended, route acquisition stopped", zap.String("stage", string(stage)))
		}
		p.acquirer.Cancel()
		return
	}

	var req *routeRequest
	if oldLeg != newLeg || wasTerminal {
		p.log.Info("trip leg changed", zap.String("from", string(oldLeg)), zap.String("to", string(newLeg)))
		p.clearRouteLocked()
		req = p.requestNowLocked()
	}
	p.mu.Unlock()

	p.ensureRoute(req)
}

func (p *Pipeline) clearRouteLocked() {
	p.routeSet, p.hasRoute, p.snap = datastructure.RouteSet{}, false, nil
	p.chosenKey, p.chosenIndex = "", 0
	p.selector.Reset()
	p.matcher.Reset()
}

// SelectRoute makes candidate index the active route and remembers the choice for its key.
func (p *Pipeline) SelectRoute(index int) error {
	p.mu.Lock()
	if !p.hasRoute {
		p.mu.Unlock()
		return util.WrapErrorf(nil, util.ErrNotFound, "no route to select from")
	}
	if index < 0 || index >= len(p.routeSet.Candidates) {
		n := len(p.routeSet.Candidates)
		p.mu.Unlock()
		return util.WrapErrorf(nil, util.ErrBadParamInput, "route index %d out of range [0, %d)", index, n)
	}

	p.routeSet = p.routeSet.WithActiveIndex(index)
	key := p.routeSet.Key
	p.chosenKey, p.chosenIndex = key, index
	// persisted before the lock is released so a fetch that completes afterwards starts here
	if err := p.acquirer.Remember(key, index); err != nil {
		p.log.Warn("failed to remember route choice", zap.String("key", key), zap.Error(err))
	}
	state, changed := p.selector.Update(p.routeSet)

	var snap *datastructure.SnapResult
	pos, seeded := p.smoother.Current()
	if seeded {
		snap = p.matcher.SnapRouteSet(pos, p.routeSet)
		p.snap = snap
		p.queueLocked(func() { p.bus.EmitSnap(snap) })
	}
	if changed {
		p.queueLocked(func() { p.bus.EmitNavigationState(state) })
	}
	p.mu.Unlock()

	p.flush()
	return nil
}

func (p *Pipeline) SetNetworkAvailable(online bool) {
	p.acquirer.SetNetworkAvailable(online)
}

func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{Stage: p.stage, NetworkAvailable: p.acquirer.NetworkAvailable()}
	if pos, ok := p.smoother.Current(); ok {
		s.Position = &pos
	}
	if p.snap != nil {
		snap := *p.snap
		s.Snap = &snap
	}
	if p.hasRoute {
		opts := p.routeSet.Options()
		s.RouteOptions = &opts
	}
	if state, ok := p.selector.Last(); ok {
		if state.Instruction != nil {
			text := *state.Instruction
			state.Instruction = &text
		}
		s.Navigation = &state
	}
	return s
}

// Close stops route fetching. Event handlers are not unsubscribed.
func (p *Pipeline) Close() {
	p.acquirer.Close()
}
