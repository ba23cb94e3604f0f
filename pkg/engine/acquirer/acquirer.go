package acquirer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/directions"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/routecache"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Config struct {
	// a fetch for the same key that completed less than Throttle ago is reused
	Throttle time.Duration
	// RetryDelays[n-1] is the wait before retry n
	RetryDelays  []time.Duration
	FetchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Throttle:     15 * time.Second,
		RetryDelays:  []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second},
		FetchTimeout: 20 * time.Second,
	}
}

type fetchRequest struct {
	key         string
	origin      geo.Coordinate
	destination geo.Coordinate
	leg         datastructure.LegType
	generation  uint64
}

/*
Acquirer. fetches route candidates for the current (origin, destination, leg) key and hands the
resulting RouteSet to onRouteSet. at most one fetch is outstanding: switching keys cancels the
in-flight request and its pending retry, and every response is checked against the current
generation before it is applied.

onRouteSet runs on the caller's goroutine for cache hits and on a fetch goroutine otherwise. it is
never called with the acquirer lock held.
*/
type Acquirer struct {
	provider   directions.Provider
	cache      *routecache.Cache
	clock      clockwork.Clock
	cfg        Config
	log        *zap.Logger
	onRouteSet func(datastructure.RouteSet)

	mu          sync.Mutex
	online      bool
	closed      bool
	req         fetchRequest
	generation  uint64
	cancel      context.CancelFunc
	retryTimer  clockwork.Timer
	retries     int
	exhausted   bool
	completedAt map[string]time.Time
	emittedKey  string

	wg sync.WaitGroup
}

func New(provider directions.Provider, cache *routecache.Cache, clock clockwork.Clock, cfg Config,
	log *zap.Logger, onRouteSet func(datastructure.RouteSet)) *Acquirer {
	return &Acquirer{
		provider:    provider,
		cache:       cache,
		clock:       clock,
		cfg:         cfg,
		log:         log,
		onRouteSet:  onRouteSet,
		online:      true,
		completedAt: make(map[string]time.Time),
	}
}

// EnsureRoute makes sure a RouteSet for (origin, destination, leg) is, or will be, emitted.
func (a *Acquirer) EnsureRoute(origin, destination geo.Coordinate, leg datastructure.LegType) {
	key := datastructure.RouteKey(origin, destination, leg)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	keyChanged := key != a.req.key
	if keyChanged {
		a.switchKeyLocked(fetchRequest{key: key, origin: origin, destination: destination, leg: leg})
	}

	if !keyChanged && a.pendingLocked() {
		a.mu.Unlock()
		a.log.Debug("route fetch already pending", zap.String("key", key))
		return
	}

	if last, ok := a.completedAt[key]; ok && a.clock.Since(last) < a.cfg.Throttle {
		var emit *datastructure.RouteSet
		if a.emittedKey != key {
			emit = a.cachedLocked(key)
		}
		a.mu.Unlock()
		a.log.Debug("route fetch throttled", zap.String("key", key))
		a.emit(emit)
		return
	}

	if !a.online {
		emit := a.cachedLocked(key)
		a.mu.Unlock()
		if emit == nil {
			a.log.Info("offline and no cached route", zap.String("key", key))
		}
		a.emit(emit)
		return
	}

	// stale-while-revalidate: show what we have for a new key, then refresh it
	var emit *datastructure.RouteSet
	if a.emittedKey != key {
		emit = a.cachedLocked(key)
	}
	if a.exhausted {
		a.log.Info("restarting route fetch after exhausted retries", zap.String("key", key))
	}
	a.retries, a.exhausted = 0, false
	if emit == nil {
		a.startFetchLocked()
		a.mu.Unlock()
		return
	}

	// the cached set goes out before the fetch starts so it can never overwrite the fresh one
	gen := a.generation
	a.mu.Unlock()
	a.emit(emit)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || gen != a.generation || a.pendingLocked() {
		return
	}
	a.startFetchLocked()
}

func (a *Acquirer) switchKeyLocked(req fetchRequest) {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	if a.req.key != "" {
		a.log.Debug("route key changed", zap.String("from", a.req.key), zap.String("to", req.key))
	}
	a.generation++
	req.generation = a.generation
	a.req = req
	a.retries, a.exhausted = 0, false
}

func (a *Acquirer) pendingLocked() bool {
	return a.cancel != nil || a.retryTimer != nil
}

// startFetchLocked begins a new generation so any earlier response for this key is ignored.
func (a *Acquirer) startFetchLocked() {
	a.generation++
	a.req.generation = a.generation
	req := a.req

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.FetchTimeout)
	a.cancel = cancel

	a.log.Debug("fetching routes", zap.String("key", req.key), zap.Int("attempt", a.retries))
	a.wg.Add(1)
	go a.fetch(ctx, cancel, req)
}

func (a *Acquirer) fetch(ctx context.Context, cancel context.CancelFunc, req fetchRequest) {
	defer a.wg.Done()
	defer cancel()

	cands, err := a.provider.Routes(ctx, req.origin, req.destination)

	var rs datastructure.RouteSet
	if err == nil {
		rs = datastructure.RouteSet{
			Key:        req.key,
			LegType:    req.leg,
			Candidates: cands,
			FetchedAt:  a.clock.Now(),
		}
		rs = a.withChoice(rs)
	}

	a.mu.Lock()
	if a.closed || req.generation != a.generation {
		a.mu.Unlock()
		a.log.Debug("discarding superseded route response", zap.String("key", req.key))
		return
	}
	a.cancel = nil

	if err != nil {
		a.scheduleRetryLocked(req, err)
		a.mu.Unlock()
		return
	}

	now := a.clock.Now()
	a.pruneCompletedLocked(now)
	a.completedAt[req.key] = now
	a.retries, a.exhausted = 0, false
	a.emittedKey = req.key
	a.mu.Unlock()

	if err := a.cache.Put(context.Background(), rs); err != nil {
		a.log.Error("failed to persist route set", zap.String("key", rs.Key), zap.Error(err))
	}
	a.log.Info("routes acquired", zap.String("key", rs.Key), zap.Int("candidates", len(rs.Candidates)))
	a.onRouteSet(rs)
}

func (a *Acquirer) scheduleRetryLocked(req fetchRequest, cause error) {
	if a.retries >= len(a.cfg.RetryDelays) {
		a.exhausted = true
		a.log.Warn("giving up on route fetch", zap.String("key", req.key),
			zap.Int("attempts", a.retries+1), zap.Error(cause))
		return
	}

	delay := a.cfg.RetryDelays[a.retries]
	a.retries++
	gen := req.generation

	if errors.Is(cause, directions.ErrNoRoute) {
		a.log.Warn("provider returned no usable route, retrying", zap.String("key", req.key),
			zap.Int("retry", a.retries), zap.Duration("delay", delay))
	} else {
		a.log.Warn("route fetch failed, retrying", zap.String("key", req.key),
			zap.Int("retry", a.retries), zap.Duration("delay", delay), zap.Error(cause))
	}

	a.retryTimer = a.clock.AfterFunc(delay, func() { a.retry(gen) })
}

func (a *Acquirer) retry(gen uint64) {
	a.mu.Lock()
	if a.closed || gen != a.generation {
		a.mu.Unlock()
		return
	}
	a.retryTimer = nil

	if !a.online {
		a.exhausted = true
		key := a.req.key
		emit := a.cachedLocked(key)
		a.mu.Unlock()
		a.log.Info("offline at retry, serving cached route", zap.String("key", key))
		a.emit(emit)
		return
	}

	a.startFetchLocked()
	a.mu.Unlock()
}

// cachedLocked reads key from the route cache and, on a hit, records it as emitted.
func (a *Acquirer) cachedLocked(key string) *datastructure.RouteSet {
	entry, err := a.cache.Get(context.Background(), key)
	if err != nil {
		if !errors.Is(err, routecache.ErrCacheMiss) {
			a.log.Warn("route cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	if entry.Stale {
		a.log.Debug("serving stale cached route", zap.String("key", key))
	}

	rs := a.withChoice(entry.RouteSet)
	a.emittedKey = key
	return &rs
}

func (a *Acquirer) withChoice(rs datastructure.RouteSet) datastructure.RouteSet {
	idx, _ := a.cache.GetChoice(context.Background(), rs.Key)
	return rs.WithActiveIndex(idx)
}

func (a *Acquirer) pruneCompletedLocked(now time.Time) {
	for key, at := range a.completedAt {
		if now.Sub(at) >= a.cfg.Throttle {
			delete(a.completedAt, key)
		}
	}
}

func (a *Acquirer) emit(rs *datastructure.RouteSet) {
	if rs != nil {
		a.onRouteSet(*rs)
	}
}

func (a *Acquirer) SetNetworkAvailable(online bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.online != online {
		a.log.Info("network availability changed", zap.Bool("online", online))
	}
	a.online = online
}

func (a *Acquirer) NetworkAvailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.online
}

// Remember persists the consumer's candidate choice for key. Later RouteSets for key start there.
func (a *Acquirer) Remember(key string, index int) error {
	return a.cache.PutChoice(context.Background(), key, index)
}

// Cancel drops the current key along with its in-flight fetch and pending retry. Responses already
// on their way are discarded and the next EnsureRoute starts from scratch.
func (a *Acquirer) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.req.key == "" {
		return
	}
	a.log.Debug("route acquisition cancelled", zap.String("key", a.req.key))
	a.switchKeyLocked(fetchRequest{})
	a.emittedKey = ""
}

// Close cancels the in-flight fetch and any pending retry and waits for fetch goroutines to exit.
func (a *Acquirer) Close() {
	a.mu.Lock()
	a.closed = true
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	a.mu.Unlock()

	a.wg.Wait()
}
